package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"review_pipeline/internal/domain"
)

// idChunk bounds IN lists built from review ids.
const idChunk = 1000

func (r *Repo) ids(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// reviewWhere renders the filter as SQL conditions (without WHERE).
func reviewWhere(f domain.ReviewFilter) ([]string, []any) {
	var conds []string
	var args []any
	if c, a := inInt64("entity_id", f.EntityIDs); c != "" {
		conds = append(conds, c)
		args = append(args, a...)
	}
	if f.Platform != "" {
		conds = append(conds, "platform = ?")
		args = append(args, string(f.Platform))
	}
	if f.PublishedAfter != "" {
		conds = append(conds, "published_at >= ?")
		args = append(args, f.PublishedAfter)
	}
	return conds, args
}

// ---- unified ----

func (r *Repo) UnifiedIDs(ctx context.Context) ([]string, error) {
	return r.ids(ctx, "unified_reviews")
}

func (r *Repo) InsertUnified(ctx context.Context, rs []domain.CanonicalReview) (int64, error) {
	if len(rs) == 0 {
		return 0, nil
	}
	values := make([]string, 0, len(rs))
	args := make([]any, 0, len(rs)*7)
	for _, rv := range rs {
		doc, err := json.Marshal(rv)
		if err != nil {
			return 0, fmt.Errorf("marshal %s: %w", rv.ID, err)
		}
		values = append(values, "(?,?,?,?,?,?,?)")
		args = append(args, rv.ID, rv.EntityID, string(rv.Platform), rv.PublishedAt,
			valF64(rv.Rating), boolInt(rv.HasResponse()), string(doc))
	}
	res, err := r.db.ExecContext(ctx, insertUnifiedPrefix+strings.Join(values, ","), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) ScanUnified(ctx context.Context, f domain.ReviewFilter, fn func(domain.CanonicalReview) error) error {
	conds, condArgs := reviewWhere(f)
	conds = append([]string{"id > ?"}, conds...)
	q := "SELECT id, doc FROM unified_reviews WHERE " + strings.Join(conds, " AND ") + " ORDER BY id LIMIT ?"

	after := ""
	for {
		args := append([]any{after}, condArgs...)
		args = append(args, scanPage)
		page, last, err := r.docPage(ctx, q, args)
		if err != nil {
			return err
		}
		for _, doc := range page {
			var cr domain.CanonicalReview
			if err := json.Unmarshal(doc, &cr); err != nil {
				return fmt.Errorf("decode unified doc: %w", err)
			}
			if err := fn(cr); err != nil {
				return err
			}
		}
		if len(page) < scanPage {
			return nil
		}
		after = last
	}
}

// docPage reads one keyset page of (id, doc) rows and returns the last id.
func (r *Repo) docPage(ctx context.Context, q string, args []any) ([][]byte, string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out [][]byte
	var last string
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&last, &doc); err != nil {
			return nil, "", err
		}
		out = append(out, doc)
	}
	return out, last, rows.Err()
}

// ---- standardized ----

func (r *Repo) StandardizedIDs(ctx context.Context) ([]string, error) {
	return r.ids(ctx, "standardized_reviews")
}

func (r *Repo) InsertStandardized(ctx context.Context, rs []domain.StandardizedReview) (int64, error) {
	if len(rs) == 0 {
		return 0, nil
	}
	values := make([]string, 0, len(rs))
	args := make([]any, 0, len(rs)*8)
	for _, rv := range rs {
		doc, err := json.Marshal(rv)
		if err != nil {
			return 0, fmt.Errorf("marshal %s: %w", rv.ID, err)
		}
		values = append(values, "(?,?,?,?,?,?,?,?)")
		args = append(args, rv.ID, rv.EntityID, string(rv.Platform), rv.PublishedAt,
			valF64(rv.Rating), boolInt(rv.HasResponse()), rv.ResponseLanguage, string(doc))
	}
	res, err := r.db.ExecContext(ctx, insertStandardizedPrefix+strings.Join(values, ","), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) ListStandardized(ctx context.Context, f domain.ReviewFilter) ([]domain.StandardizedReview, error) {
	q := "SELECT doc FROM standardized_reviews"
	conds, args := reviewWhere(f)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	rows, err := r.db.QueryContext(ctx, q+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StandardizedReview
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var sr domain.StandardizedReview
		if err := json.Unmarshal(doc, &sr); err != nil {
			return nil, fmt.Errorf("decode standardized doc: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (r *Repo) RatingSummary(ctx context.Context) (float64, int64, error) {
	var avg float64
	var n int64
	err := r.db.QueryRowContext(ctx, ratingSummarySQL).Scan(&avg, &n)
	return avg, n, err
}

func (r *Repo) EntityRatings(ctx context.Context, entityID int64) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, entityRatingsSQL, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var id string
		var rating float64
		if err := rows.Scan(&id, &rating); err != nil {
			return nil, err
		}
		out[id] = rating
	}
	return out, rows.Err()
}

// ---- enrichment ----

func (r *Repo) EnrichmentAttributes(ctx context.Context, ids []string) (map[string]domain.Attributes, error) {
	out := make(map[string]domain.Attributes, len(ids))
	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := "SELECT id, has_response, attributes FROM enriched_reviews WHERE id IN (" + placeholders(len(chunk)) + ")"
		if err := r.readAttributes(ctx, q, args, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repo) readAttributes(ctx context.Context, q string, args []any, out map[string]domain.Attributes) error {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var hasResponse int
		var raw []byte
		if err := rows.Scan(&id, &hasResponse, &raw); err != nil {
			return err
		}
		attrs := domain.Attributes{}
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return fmt.Errorf("decode attributes of %s: %w", id, err)
		}
		attrs[domain.AttrHasResponse] = hasResponse
		out[id] = attrs
	}
	return rows.Err()
}

// MergeEnrichment upserts one row per patch. The whole batch is one
// statement, so it either lands or fails together.
func (r *Repo) MergeEnrichment(ctx context.Context, ps []domain.EnrichmentPatch) (int64, error) {
	if len(ps) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	values := make([]string, 0, len(ps))
	args := make([]any, 0, len(ps)*8)
	for _, p := range ps {
		attrs := p.Attributes
		if attrs == nil {
			attrs = domain.Attributes{}
		}
		doc, err := json.Marshal(attrs)
		if err != nil {
			return 0, fmt.Errorf("marshal attributes of %s: %w", p.ID, err)
		}
		values = append(values, "(?,?,?,?,?,?,?,?)")
		args = append(args, p.ID, p.EntityID, string(p.Platform), p.PublishedAt,
			p.HasResponse, p.ReviewLength, string(doc), now)
	}
	if _, err := r.db.ExecContext(ctx, mergeEnrichmentPrefix+strings.Join(values, ",")+mergeEnrichmentOnDup, args...); err != nil {
		return 0, err
	}
	return int64(len(ps)), nil
}

func (r *Repo) ListEnriched(ctx context.Context, entityID int64) ([]domain.EnrichedReview, error) {
	rows, err := r.db.QueryContext(ctx, listEnrichedSQL, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EnrichedReview
	for rows.Next() {
		var e domain.EnrichedReview
		var platform string
		var raw []byte
		if err := rows.Scan(&e.ID, &e.EntityID, &platform, &e.PublishedAt, &e.HasResponse,
			&e.ReviewLength, &raw, &e.ProcessedAt); err != nil {
			return nil, err
		}
		e.Platform = domain.Platform(platform)
		if err := json.Unmarshal(raw, &e.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
