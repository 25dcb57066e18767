//go:build integration || !unit

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/rs/zerolog"

	server "review_pipeline/internal/adapters/http_server"
	"review_pipeline/internal/adapters/langdetect"
	"review_pipeline/internal/app"
	"review_pipeline/internal/domain"
	mysqlrepo "review_pipeline/internal/storage/mysql"
)

// translator answers every prompt with a fixed English text.
type translator struct{ calls int }

func (g *translator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls++
	return "The staff were very friendly and the treatment was excellent.", nil
}

func startMySQL(t *testing.T) (*sql.DB, string) {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=reviews"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/reviews?parseTime=true&charset=utf8mb4&loc=UTC",
		resource.GetPort("3306/tcp"))
	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := mysqlrepo.Migrate(dsn, false); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, dsn
}

func TestPipeline_EndToEnd(t *testing.T) {
	db, _ := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	entityID, err := repo.CreateEntity(ctx, domain.Entity{DisplayName: "E2E Clinic", PrimaryURL: "https://maps/e2e"})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	now := time.Now().UTC()
	raw := func(p domain.Platform, payload string) domain.RawEnvelope {
		return domain.RawEnvelope{EntityID: entityID, Platform: p, Payload: []byte(payload), ScrapedAt: now}
	}
	if _, err := repo.InsertRaw(ctx, []domain.RawEnvelope{
		raw(domain.PlatformGoogle, `{"reviewId":"g1","text":"Great doctors and a very clean clinic, highly recommended.","stars":5,"publishedAtDate":"2024-03-01T10:00:00Z"}`),
		raw(domain.PlatformGoogle, `{"reviewId":"g1","text":"Great doctors and a very clean clinic, highly recommended.","stars":5,"publishedAtDate":"2024-03-01T10:00:00Z"}`),
		raw(domain.PlatformGoogle, `{"reviewId":"g2","text":"Das Personal war sehr freundlich und die Behandlung war hervorragend.","stars":4,"publishedAtDate":"2024-04-01T10:00:00Z"}`),
		raw(domain.PlatformTrustpilot, `{"reviewUrl":"https://tp/r/1","reviewHeadline":"Fine","reviewBody":"Everything went fine, nothing special to report.","ratingValue":3}`),
	}); err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}

	run := app.NewRun(zerolog.Nop())
	unifier := &app.Unifier{Raw: repo, Unified: repo, BatchSize: 2}

	out, err := unifier.Run(ctx, run, domain.ReviewFilter{})
	if err != nil || out.Written != 3 || out.Skipped[app.SkipDuplicate] != 1 {
		t.Fatalf("first unify: %+v %v", out, err)
	}
	// a re-run over the same raw set converges
	out, err = unifier.Run(ctx, app.NewRun(zerolog.Nop()), domain.ReviewFilter{})
	if err != nil || out.Written != 0 || out.Skipped[app.SkipDuplicate] != 4 {
		t.Fatalf("second unify: %+v %v", out, err)
	}

	gen := &translator{}
	std := &app.Standardizer{Unified: repo, Standardized: repo, Gen: gen, Detector: langdetect.New(), BatchSize: 10, ProgressEvery: 50}
	out, err = std.Run(ctx, run, domain.ReviewFilter{})
	if err != nil || out.Written != 3 {
		t.Fatalf("standardize: %+v %v", out, err)
	}
	if gen.calls != 1 {
		t.Fatalf("want one translation call, got %d", gen.calls)
	}
	out, err = std.Run(ctx, app.NewRun(zerolog.Nop()), domain.ReviewFilter{})
	if err != nil || out.Written != 0 {
		t.Fatalf("standardize re-run: %+v %v", out, err)
	}

	stdDocs, err := repo.ListStandardized(ctx, domain.ReviewFilter{Platform: domain.PlatformGoogle})
	if err != nil {
		t.Fatalf("ListStandardized: %v", err)
	}
	var translated int
	for _, d := range stdDocs {
		if d.Translated {
			translated++
			if !strings.HasPrefix(d.OriginalBody, "Das Personal") || d.DetectedLanguage != "de" {
				t.Fatalf("unexpected translated doc: %+v", d)
			}
		}
	}
	if translated != 1 {
		t.Fatalf("want 1 translated doc, got %d", translated)
	}

	if _, err := repo.MergeEnrichment(ctx, []domain.EnrichmentPatch{
		{ID: "google_g1", EntityID: entityID, Platform: domain.PlatformGoogle, Attributes: domain.Attributes{"facility": 3, domain.AttrIsComplaint: 0}},
		{ID: "google_g2", EntityID: entityID, Platform: domain.PlatformGoogle, Attributes: domain.Attributes{"facility": 1, domain.AttrIsComplaint: 1}},
	}); err != nil {
		t.Fatalf("MergeEnrichment: %v", err)
	}

	scorer := &app.Scorer{Entities: repo, Standardized: repo, Enrichment: repo, Scores: repo,
		PriorWeight: 100, DefaultPrior: 4.0, Attributes: []string{"facility"}}
	if _, err := scorer.Run(ctx, run, nil); err != nil {
		t.Fatalf("score: %v", err)
	}

	srv := server.New()
	srv.MountHandlers(&server.Handlers{Q: app.NewQueryService(repo, repo, nil, time.Minute)})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	res, err := http.Get(fmt.Sprintf("%s/v1/entities/%d/scores", ts.URL, entityID))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	var sc domain.EntityScore
	if err := json.NewDecoder(res.Body).Decode(&sc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// one positive, one negative facility mention
	if sc.AdjustedRating == nil || sc.AttributeScores["facility"] == nil || *sc.AttributeScores["facility"] != 0 {
		t.Fatalf("unexpected scores: %+v", sc)
	}
}
