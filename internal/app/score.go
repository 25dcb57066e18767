package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"review_pipeline/internal/domain"
)

// Scorer recomputes entity scores from the standardized and enrichment
// stores. Running it twice over unchanged data stores the same scores.
type Scorer struct {
	Entities     domain.EntityStore
	Standardized domain.StandardizedStore
	Enrichment   domain.EnrichmentStore
	Scores       domain.ScoreStore
	Cache        domain.Cache // optional

	PriorWeight  float64
	DefaultPrior float64
	Attributes   []string

	Now func() time.Time
}

func (s *Scorer) Run(ctx context.Context, run *Run, entityIDs []int64) (Outcome, error) {
	log := run.Stage("score")
	out := newOutcome("score")
	now := s.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	avg, n, err := s.Standardized.RatingSummary(ctx)
	if err != nil {
		return *out, fmt.Errorf("rating summary: %w", err)
	}
	prior := PriorAverage(avg, n, s.DefaultPrior)
	if n == 0 {
		log.Warn().Float64("default", prior).Msg("no ratings, using default prior")
	}

	entities, err := s.Entities.ListEntities(ctx, entityIDs)
	if err != nil {
		return *out, fmt.Errorf("list entities: %w", err)
	}
	log.Info().Float64("prior", prior).Int64("rated_reviews", n).Int("entities", len(entities)).Msg("score started")

	for i, e := range entities {
		if ctx.Err() != nil {
			out.Cancelled = true
			return *out, nil
		}
		id := strconv.FormatInt(e.ID, 10)
		out.record(ItemResult{ID: id})

		ratings, err := s.Standardized.EntityRatings(ctx, e.ID)
		if err != nil {
			out.skip(SkipStorage, 1)
			log.Error().Err(err).Int64("entity_id", e.ID).Msg("read ratings failed")
			continue
		}
		enriched, err := s.Enrichment.ListEnriched(ctx, e.ID)
		if err != nil {
			out.skip(SkipStorage, 1)
			log.Error().Err(err).Int64("entity_id", e.ID).Msg("read enrichment failed")
			continue
		}

		sc := ScoreEntity(e.ID, ratings, enriched, s.Attributes, prior, s.PriorWeight)
		sc.UpdatedAt = now()
		if err := s.Scores.SaveScores(ctx, sc); err != nil {
			out.FailedBatches++
			out.skip(SkipStorage, 1)
			log.Error().Err(err).Int64("entity_id", e.ID).Msg("save scores failed")
			continue
		}
		out.wrote(1)
		invalidate(ctx, s.Cache, log, scoreKey(e.ID))

		if (i+1)%10 == 0 {
			log.Info().Int("done", i+1).Int("total", len(entities)).Msg("scoring progress")
		}
	}
	invalidate(ctx, s.Cache, log, statsKey)
	log.Info().Int64("updated", out.Written).Msg("score finished")
	return *out, nil
}
