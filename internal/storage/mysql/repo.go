package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"review_pipeline/internal/domain"
)

// scanPage bounds how many rows a streaming scan holds open at once. Rows are
// read a page at a time and closed before the callback runs.
const scanPage = 500

func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// inInt64 renders "col IN (?,?,...)" for ids; an empty slice matches all rows.
func inInt64(col string, ids []int64) (string, []any) {
	if len(ids) == 0 {
		return "", nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return col + " IN (" + placeholders(len(ids)) + ")", args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// ---- entities ----

func scanEntity(sc interface{ Scan(...any) error }) (domain.Entity, error) {
	var e domain.Entity
	var g, tp sql.NullTime
	err := sc.Scan(&e.ID, &e.DisplayName, &e.PrimaryURL, &e.SecondaryURL, &e.TrustpilotURL,
		&g, &tp, &e.GoogleTotal, &e.TrustpilotTotal)
	e.GoogleLastScraped, e.TrustpilotLastScraped = nullTime(g), nullTime(tp)
	return e, err
}

func (r *Repo) GetEntityByPrimaryURL(ctx context.Context, url string) (domain.Entity, error) {
	e, err := scanEntity(r.db.QueryRowContext(ctx, getEntityByURLSQL, url))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entity{}, domain.ErrNotFound
	}
	return e, err
}

func (r *Repo) CreateEntity(ctx context.Context, e domain.Entity) (int64, error) {
	res, err := r.db.ExecContext(ctx, createEntitySQL, e.DisplayName, e.PrimaryURL, e.SecondaryURL, e.TrustpilotURL)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repo) ListEntities(ctx context.Context, ids []int64) ([]domain.Entity, error) {
	q := listEntitiesSQL
	cond, args := inInt64("id", ids)
	if cond != "" {
		q += " WHERE " + cond
	}
	rows, err := r.db.QueryContext(ctx, q+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) UpdateScrapeInfo(ctx context.Context, id int64, p domain.Platform, total int, at time.Time) error {
	q := updateGoogleScrapeSQL
	if p == domain.PlatformTrustpilot {
		q = updateTrustpilotScrapeSQL
	}
	_, err := r.db.ExecContext(ctx, q, total, at.UTC(), id)
	return err
}

// ---- raw ----

func (r *Repo) InsertRaw(ctx context.Context, rs []domain.RawEnvelope) (int64, error) {
	if len(rs) == 0 {
		return 0, nil
	}
	values := make([]string, 0, len(rs))
	args := make([]any, 0, len(rs)*4)
	for _, rv := range rs {
		values = append(values, "(?,?,?,?)")
		args = append(args, rv.EntityID, string(rv.Platform), string(rv.Payload), rv.ScrapedAt.UTC())
	}
	res, err := r.db.ExecContext(ctx, insertRawPrefix+strings.Join(values, ","), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) ScanRaw(ctx context.Context, p domain.Platform, entityIDs []int64, fn func(domain.RawEnvelope) error) error {
	cond, condArgs := inInt64("entity_id", entityIDs)
	q := scanRawSQL
	if cond != "" {
		q += " AND " + cond
	}
	q += " ORDER BY id LIMIT ?"

	var after int64
	for {
		args := append([]any{string(p), after}, condArgs...)
		args = append(args, scanPage)
		page, err := r.rawPage(ctx, q, args)
		if err != nil {
			return err
		}
		for _, env := range page {
			if err := fn(env); err != nil {
				return err
			}
		}
		if len(page) < scanPage {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (r *Repo) rawPage(ctx context.Context, q string, args []any) ([]domain.RawEnvelope, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.RawEnvelope, 0, scanPage)
	for rows.Next() {
		var env domain.RawEnvelope
		var platform string
		if err := rows.Scan(&env.ID, &env.EntityID, &platform, &env.Payload, &env.ScrapedAt); err != nil {
			return nil, err
		}
		env.Platform = domain.Platform(platform)
		out = append(out, env)
	}
	return out, rows.Err()
}

// ---- scores ----

func (r *Repo) SaveScores(ctx context.Context, s domain.EntityScore) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	res, err := r.db.ExecContext(ctx, saveScoresSQL, string(doc), s.UpdatedAt.UTC(), s.EntityID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %d: %w", s.EntityID, domain.ErrNotFound)
	}
	return nil
}

func (r *Repo) GetScores(ctx context.Context, entityID int64) (domain.EntityScore, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, getScoresSQL, entityID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(raw) == 0) {
		return domain.EntityScore{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.EntityScore{}, err
	}
	var s domain.EntityScore
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.EntityScore{}, fmt.Errorf("decode scores for entity %d: %w", entityID, err)
	}
	return s, nil
}

func (r *Repo) ScoredEntityIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, scoredEntityIDsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var (
	_ domain.EntityStore       = (*Repo)(nil)
	_ domain.RawStore          = (*Repo)(nil)
	_ domain.UnifiedStore      = (*Repo)(nil)
	_ domain.StandardizedStore = (*Repo)(nil)
	_ domain.EnrichmentStore   = (*Repo)(nil)
	_ domain.ScoreStore        = (*Repo)(nil)
	_ domain.StatsStore        = (*Repo)(nil)
)
