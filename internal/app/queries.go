package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"review_pipeline/internal/domain"
)

const statsKey = "stats"

func scoreKey(entityID int64) string { return fmt.Sprintf("score:%d", entityID) }

// invalidate drops key from c. Failures leave a stale entry until its TTL
// runs out, so they are logged rather than returned.
func invalidate(ctx context.Context, c domain.Cache, log zerolog.Logger, key string) {
	if c == nil {
		return
	}
	if err := c.Del(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
	}
}

// QueryService serves read models with cache-aside. Cache may be nil.
type QueryService struct {
	stats    domain.StatsStore
	scores   domain.ScoreStore
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(st domain.StatsStore, sc domain.ScoreStore, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{stats: st, scores: sc, cache: c, cacheTTL: ttl}
}

// Stats returns aggregate pipeline counts. fresh bypasses the cache read
// but still refreshes the cached copy.
func (s *QueryService) Stats(ctx context.Context, fresh bool) (domain.Stats, error) {
	var st domain.Stats
	if !fresh && s.cache != nil {
		if ok, _ := s.cache.Get(ctx, statsKey, &st); ok {
			return st, nil
		}
	}
	st, err := s.stats.Stats(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, statsKey, st, int(s.cacheTTL.Seconds()))
	}
	return st, nil
}

func (s *QueryService) EntityScore(ctx context.Context, id int64) (domain.EntityScore, error) {
	key := scoreKey(id)
	var sc domain.EntityScore
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &sc); ok {
			return sc, nil
		}
	}
	sc, err := s.scores.GetScores(ctx, id)
	if err != nil {
		return domain.EntityScore{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, copyScore(sc), int(s.cacheTTL.Seconds()))
	}
	return sc, nil
}

// copyScore detaches the attribute map so callers cannot mutate the cached value.
func copyScore(in domain.EntityScore) domain.EntityScore {
	out := in
	if in.AttributeScores != nil {
		out.AttributeScores = make(map[string]*float64, len(in.AttributeScores))
		for k, v := range in.AttributeScores {
			out.AttributeScores[k] = v
		}
	}
	return out
}
