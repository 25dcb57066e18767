package mysql

import (
	"context"
	"fmt"
	"time"

	"review_pipeline/internal/domain"
)

// Stats aggregates counts over every collection.
func (r *Repo) Stats(ctx context.Context) (domain.Stats, error) {
	st := domain.Stats{
		Raw:               map[string]int64{},
		ResponseLanguages: map[string]int64{},
		GeneratedAt:       time.Now().UTC(),
	}
	if err := r.db.QueryRowContext(ctx, statsCountsSQL).Scan(&st.Entities, &st.Enriched, &st.ScoredEntities); err != nil {
		return domain.Stats{}, fmt.Errorf("stats counts: %w", err)
	}
	if err := r.countBy(ctx, statsRawSQL, st.Raw); err != nil {
		return domain.Stats{}, fmt.Errorf("stats raw: %w", err)
	}
	if err := r.countBy(ctx, statsResponseLangSQL, st.ResponseLanguages); err != nil {
		return domain.Stats{}, fmt.Errorf("stats response languages: %w", err)
	}
	var err error
	if st.Unified, err = r.platformStats(ctx, "unified_reviews"); err != nil {
		return domain.Stats{}, fmt.Errorf("stats unified: %w", err)
	}
	if st.Standardized, err = r.platformStats(ctx, "standardized_reviews"); err != nil {
		return domain.Stats{}, fmt.Errorf("stats standardized: %w", err)
	}
	return st, nil
}

func (r *Repo) countBy(ctx context.Context, q string, into map[string]int64) error {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		into[k] = n
	}
	return rows.Err()
}

func (r *Repo) platformStats(ctx context.Context, table string) ([]domain.PlatformStats, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(statsPlatformSQL, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PlatformStats
	for rows.Next() {
		var ps domain.PlatformStats
		var platform string
		if err := rows.Scan(&platform, &ps.Count, &ps.AvgRating, &ps.OwnerResponses); err != nil {
			return nil, err
		}
		ps.Platform = domain.Platform(platform)
		out = append(out, ps)
	}
	return out, rows.Err()
}
