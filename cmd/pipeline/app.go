package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"review_pipeline/internal/adapters/apify"
	"review_pipeline/internal/adapters/langdetect"
	"review_pipeline/internal/adapters/llm"
	redisad "review_pipeline/internal/adapters/redis"
	"review_pipeline/internal/adapters/sheet"
	"review_pipeline/internal/app"
	"review_pipeline/internal/domain"
	"review_pipeline/internal/shared"
	mysqlrepo "review_pipeline/internal/storage/mysql"
)

// pipelineApp opens collaborators on first use, so `migrate` never needs
// Redis and `unify` never needs an LLM key.
type pipelineApp struct {
	cfg   shared.Config
	db    *sql.DB
	repo  *mysqlrepo.Repo
	cache domain.Cache
	redis *redisad.Cache
	gen   domain.Generator
}

func newApp(cfg shared.Config) *pipelineApp { return &pipelineApp{cfg: cfg} }

func (a *pipelineApp) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func (a *pipelineApp) store(ctx context.Context) (*mysqlrepo.Repo, error) {
	if a.repo != nil {
		return a.repo, nil
	}
	db, err := sql.Open("mysql", a.cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	log.Debug().Msg("db ping ok")
	a.db, a.repo = db, mysqlrepo.New(db)
	return a.repo, nil
}

// cacheOrNil returns the Redis cache, or nil when Redis is unreachable; the
// pipeline works without it.
func (a *pipelineApp) cacheOrNil(ctx context.Context) domain.Cache {
	if a.cache != nil || a.redis != nil {
		return a.cache
	}
	a.redis = redisad.New(a.cfg.Redis.Addr, a.cfg.Redis.Pass, a.cfg.Redis.DB)
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.redis.Ping(pctx); err != nil {
		log.Warn().Err(err).Str("addr", a.cfg.Redis.Addr).Msg("redis unavailable, running without cache")
		return nil
	}
	a.cache = a.redis
	return a.cache
}

func (a *pipelineApp) generator() (domain.Generator, error) {
	if a.gen != nil {
		return a.gen, nil
	}
	g, err := llm.New(a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	a.gen = g
	return g, nil
}

func (a *pipelineApp) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "migrate":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		down := fs.Bool("down", false, "revert all migrations")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return mysqlrepo.Migrate(a.cfg.MySQLDSN, *down)

	case "scrape":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		path := fs.String("sheet", "", "entity list (.xlsx)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.scrape(ctx, app.NewRun(log.Logger), *path)

	case "unify", "standardize", "score":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		ids := fs.String("entities", "", "comma-separated entity ids")
		quick := fs.Bool("quick", false, "skip statistics output")
		if err := fs.Parse(args); err != nil {
			return err
		}
		entityIDs, err := parseIDs(*ids)
		if err != nil {
			return err
		}
		run := app.NewRun(log.Logger)
		switch cmd {
		case "unify":
			err = a.unify(ctx, run, entityIDs)
		case "standardize":
			err = a.standardize(ctx, run, entityIDs)
		default:
			err = a.score(ctx, run, entityIDs)
		}
		if err != nil {
			return err
		}
		return a.maybeStats(ctx, *quick)

	case "enrich":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		ids := fs.String("entities", "", "comma-separated entity ids")
		attrs := fs.String("attributes", "all", "attribute groups: sentiment,complaint,response or all")
		after := fs.String("published-after", "", "only reviews published on or after this date (ISO-8601)")
		all := fs.Bool("all", false, "re-extract attributes that are already stored")
		quick := fs.Bool("quick", false, "skip statistics output")
		if err := fs.Parse(args); err != nil {
			return err
		}
		entityIDs, err := parseIDs(*ids)
		if err != nil {
			return err
		}
		families, err := app.ParseFamilies(splitList(*attrs))
		if err != nil {
			return err
		}
		opts := app.EnrichOptions{
			Filter:   domain.ReviewFilter{EntityIDs: entityIDs, PublishedAfter: *after},
			Families: families,
			All:      *all,
		}
		if err := a.enrich(ctx, app.NewRun(log.Logger), opts); err != nil {
			return err
		}
		return a.maybeStats(ctx, *quick)

	case "stats":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fresh := fs.Bool("fresh", false, "bypass the cache")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.printStats(ctx, *fresh)

	case "full":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		path := fs.String("sheet", "", "entity list (.xlsx)")
		quick := fs.Bool("quick", false, "skip statistics output")
		if err := fs.Parse(args); err != nil {
			return err
		}
		run := app.NewRun(log.Logger)
		steps := []func() error{
			func() error { return a.scrape(ctx, run, *path) },
			func() error { return a.unify(ctx, run, nil) },
			func() error { return a.standardize(ctx, run, nil) },
			func() error { return a.enrich(ctx, run, app.EnrichOptions{Families: app.Families}) },
			func() error { return a.score(ctx, run, nil) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return a.maybeStats(ctx, *quick)
	}
	return fmt.Errorf("%w: unknown command %q", domain.ErrConfig, cmd)
}

// report prints the outcome and turns failed batches into a stage failure.
// Documents committed before the failure stay in place.
func report(out app.Outcome, err error) error {
	fmt.Println(out.String())
	if err != nil {
		return err
	}
	if out.FailedBatches > 0 {
		return fmt.Errorf("%s: %d batch(es) failed", out.Stage, out.FailedBatches)
	}
	return nil
}

func (a *pipelineApp) scrape(ctx context.Context, run *app.Run, path string) error {
	if path == "" {
		return fmt.Errorf("%w: -sheet is required", domain.ErrConfig)
	}
	if err := a.cfg.ValidateFor("scrape"); err != nil {
		return err
	}
	repo, err := a.store(ctx)
	if err != nil {
		return err
	}
	client, err := apify.New(a.cfg.Apify.BaseURL, a.cfg.Apify.Token,
		apify.Actors{Google: a.cfg.Apify.GoogleActorID, Trustpilot: a.cfg.Apify.TrustpilotActorID}, a.cfg.Apify.RPS)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	ing := &app.Ingestor{
		Entities: repo, Raw: repo, Scraper: client, Loader: sheet.New(),
		Cache: a.cacheOrNil(ctx), Workers: a.cfg.Pipeline.ScrapeWorkers,
	}
	return report(ing.Run(ctx, run, path))
}

func (a *pipelineApp) unify(ctx context.Context, run *app.Run, ids []int64) error {
	repo, err := a.store(ctx)
	if err != nil {
		return err
	}
	u := &app.Unifier{Raw: repo, Unified: repo, BatchSize: a.cfg.Pipeline.UnifyBatchSize}
	return report(u.Run(ctx, run, domain.ReviewFilter{EntityIDs: ids}))
}

func (a *pipelineApp) standardize(ctx context.Context, run *app.Run, ids []int64) error {
	if err := a.cfg.ValidateFor("standardize"); err != nil {
		return err
	}
	repo, err := a.store(ctx)
	if err != nil {
		return err
	}
	gen, err := a.generator()
	if err != nil {
		return err
	}
	s := &app.Standardizer{
		Unified: repo, Standardized: repo, Gen: gen, Detector: langdetect.New(),
		BatchSize: a.cfg.Pipeline.StandardizeBatchSize, ProgressEvery: a.cfg.Pipeline.ProgressEvery,
	}
	out, err := s.Run(ctx, run, domain.ReviewFilter{EntityIDs: ids})
	log.Info().Int("translations", run.Translations).Int("cache_hits", run.TranslateHits).
		Int("failures", run.TranslateFails).Msg("translation summary")
	return report(out, err)
}

func (a *pipelineApp) enrich(ctx context.Context, run *app.Run, opts app.EnrichOptions) error {
	if err := a.cfg.ValidateFor("enrich"); err != nil {
		return err
	}
	repo, err := a.store(ctx)
	if err != nil {
		return err
	}
	gen, err := a.generator()
	if err != nil {
		return err
	}
	ec := a.cfg.Enrichment
	if len(opts.Filter.EntityIDs) == 0 {
		opts.Filter.EntityIDs = ec.Entities
	}
	e := &app.Enricher{
		Standardized: repo,
		Enrichment:   repo,
		Extractor: &app.Extractor{Gen: gen, Budget: app.Budget{
			ContextWindow: ec.ContextWindow, Ratio: ec.BudgetRatio, CharsPerToken: ec.CharsPerToken,
		}},
		BatchSize: ec.BatchSize,
		ChunkSize: ec.SentimentChunkSize,
		MinLength: ec.MinReviewLength,
		Sentiment: shared.Enabled(ec.Sentiment),
		Complaint: shared.Enabled(ec.Complaint),
		Response:  shared.Enabled(ec.Response),
	}
	out, err := e.Run(ctx, run, opts)
	log.Info().Int("llm_calls", run.LLMCalls).Int("llm_failures", run.LLMFailures).Msg("enrichment summary")
	return report(out, err)
}

func (a *pipelineApp) score(ctx context.Context, run *app.Run, ids []int64) error {
	repo, err := a.store(ctx)
	if err != nil {
		return err
	}
	var attrs []string
	for _, at := range shared.Enabled(a.cfg.Enrichment.Sentiment) {
		attrs = append(attrs, at.Name)
	}
	s := &app.Scorer{
		Entities: repo, Standardized: repo, Enrichment: repo, Scores: repo,
		Cache:       a.cacheOrNil(ctx),
		PriorWeight: a.cfg.Pipeline.PriorWeight, DefaultPrior: a.cfg.Pipeline.DefaultPrior,
		Attributes: attrs,
	}
	return report(s.Run(ctx, run, ids))
}

func (a *pipelineApp) maybeStats(ctx context.Context, quick bool) error {
	if quick || ctx.Err() != nil {
		return nil
	}
	return a.printStats(ctx, true)
}

func (a *pipelineApp) printStats(ctx context.Context, fresh bool) error {
	repo, err := a.store(ctx)
	if err != nil {
		return err
	}
	q := app.NewQueryService(repo, repo, a.cacheOrNil(ctx), a.cfg.CacheTTL)
	st, err := q.Stats(ctx, fresh)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIDs(s string) ([]int64, error) {
	var out []int64
	for _, p := range splitList(s) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: bad entity id %q", domain.ErrConfig, p)
		}
		out = append(out, id)
	}
	return out, nil
}
