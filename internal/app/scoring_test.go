package app_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_pipeline/internal/app"
	"review_pipeline/internal/domain"
)

func TestAdjustedRating(t *testing.T) {
	assert.Nil(t, app.AdjustedRating(nil, 4.0, 100))

	got := app.AdjustedRating([]float64{5, 5, 5, 5}, 4.0, 100)
	require.NotNil(t, got)
	// (100*4 + 4*5) / 104
	assert.Equal(t, 4.038, *got)
}

func TestAdjustedRating_MonotoneInSampleMean(t *testing.T) {
	prev := -1.0
	for mean := 1.0; mean <= 5.0; mean += 0.25 {
		rs := []float64{mean, mean, mean, mean, mean}
		v := *app.AdjustedRating(rs, 4.2, 100)
		assert.GreaterOrEqual(t, v, prev, "mean %.2f", mean)
		prev = v
	}
}

func TestAdjustedRating_ConvergesToSampleMean(t *testing.T) {
	rs := make([]float64, 200000)
	for i := range rs {
		rs[i] = 2.0
		if i%2 == 0 {
			rs[i] = 3.0
		}
	}
	v := *app.AdjustedRating(rs, 4.5, 100)
	assert.InDelta(t, 2.5, v, 0.002)
}

func TestNPS_Boundaries(t *testing.T) {
	assert.Equal(t, 100.0, *app.NPS(app.Buckets{Positive: 10}))
	assert.Equal(t, -100.0, *app.NPS(app.Buckets{Negative: 10}))
	assert.Nil(t, app.NPS(app.Buckets{}))
	assert.Equal(t, 25.0, *app.NPS(app.Buckets{Positive: 2, Neutral: 1, Negative: 1}))

	var b app.Buckets
	for _, v := range []int{0, 0, 3, 1, 2} {
		b.Add(v)
	}
	assert.Equal(t, 3, b.Total(), "not mentioned is excluded")
}

func TestOnlineCommunication_RuleTable(t *testing.T) {
	cases := []struct{ complaint, response, constructive, want int }{
		{0, 0, 0, 0},
		{0, 1, 1, 0},
		{1, 0, 0, 1},
		{1, 1, 1, 3},
		{1, 1, 0, 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, app.OnlineCommunication(c.complaint, c.response, c.constructive), "%+v", c)
	}
}

func TestComposite_Renormalises(t *testing.T) {
	weights := []app.Weight{{"a", 0.3}, {"b", 0.2}, {"c", 0.3}, {"d", 0.2}}
	got := app.Composite(map[string]*float64{"a": ptr(60.0), "b": ptr(80.0), "c": nil}, weights)
	require.NotNil(t, got)
	assert.Equal(t, 68.0, *got)

	assert.Nil(t, app.Composite(map[string]*float64{}, weights))
}

func TestScoreEntity(t *testing.T) {
	enriched := []domain.EnrichedReview{
		{ID: "r1", HasResponse: 1, Attributes: domain.Attributes{"treatment_satisfaction": 3, "facility": 1, domain.AttrIsComplaint: 1, domain.AttrHasConstructiveResponse: 1}},
		{ID: "r2", HasResponse: 0, Attributes: domain.Attributes{"treatment_satisfaction": 3, "facility": 0, domain.AttrIsComplaint: 1}},
		{ID: "r3", HasResponse: 0, Attributes: domain.Attributes{"treatment_satisfaction": 2, domain.AttrIsComplaint: 0}},
	}
	ratings := map[string]float64{"r1": 4, "r2": 2, "r4": 5}

	sc := app.ScoreEntity(9, ratings, enriched, []string{"treatment_satisfaction", "facility", "post_op"}, 4.0, 100)

	assert.Equal(t, int64(9), sc.EntityID)
	assert.Equal(t, 4, sc.TotalReviewsAnalyzed)
	require.NotNil(t, sc.AdjustedRating)
	assert.Equal(t, 3.99, *sc.AdjustedRating) // (400 + 11) / 103

	assert.Equal(t, 66.67, *sc.AttributeScores["treatment_satisfaction"])
	assert.Equal(t, -100.0, *sc.AttributeScores["facility"])
	assert.Nil(t, sc.AttributeScores["post_op"])
	assert.Equal(t, 0.0, *sc.AttributeScores[domain.AttrOnlineCommunication]) // one 3, one 1

	// service quality: treatment .3 and facility .2 defined
	assert.Equal(t, 0.0, *sc.ServiceQuality) // (0.3*66.67 + 0.2*-100) / 0.5 = 0.002 -> 0.0
	// communication: only online_communication defined
	assert.Equal(t, 0.0, *sc.Communication)
}

func TestScorer_IdempotentAndInvalidatesCache(t *testing.T) {
	store := newMemStore()
	store.entities = []domain.Entity{{ID: 1, PrimaryURL: "u1"}, {ID: 2, PrimaryURL: "u2"}}
	store.std = []domain.StandardizedReview{
		{CanonicalReview: domain.CanonicalReview{ID: "a", EntityID: 1, Rating: ptr(5.0)}},
		{CanonicalReview: domain.CanonicalReview{ID: "b", EntityID: 1, Rating: ptr(3.0)}},
		{CanonicalReview: domain.CanonicalReview{ID: "c", EntityID: 2, Rating: ptr(0.0)}},
	}
	store.enriched["a"] = domain.EnrichedReview{ID: "a", EntityID: 1, Attributes: domain.Attributes{"facility": 3}}
	cache := &fakeCache{}
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &app.Scorer{
		Entities: store, Standardized: store, Enrichment: store, Scores: store, Cache: cache,
		PriorWeight: 100, DefaultPrior: 4.0, Attributes: []string{"facility"},
		Now: func() time.Time { return fixed },
	}
	ctx := context.Background()

	out, err := s.Run(ctx, app.NewRun(zerolog.Nop()), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Written)
	first := store.scores[1]
	assert.Equal(t, 4.0, *first.AdjustedRating) // prior is the mean, 4.0
	assert.Nil(t, store.scores[2].AdjustedRating, "zero ratings are not ratings")
	assert.Contains(t, cache.dels, "score:1")
	assert.Contains(t, cache.dels, "stats")

	_, err = s.Run(ctx, app.NewRun(zerolog.Nop()), nil)
	require.NoError(t, err)
	assert.Equal(t, first, store.scores[1])
}

func TestScorer_CacheFailureIsLogged(t *testing.T) {
	store := newMemStore()
	store.entities = []domain.Entity{{ID: 7, PrimaryURL: "u7"}}
	store.std = []domain.StandardizedReview{
		{CanonicalReview: domain.CanonicalReview{ID: "a", EntityID: 7, Rating: ptr(4.0)}},
	}
	cache := &fakeCache{delErr: errors.New("dial tcp: connection refused")}
	s := &app.Scorer{
		Entities: store, Standardized: store, Enrichment: store, Scores: store, Cache: cache,
		PriorWeight: 100, DefaultPrior: 4.0,
	}
	var buf bytes.Buffer

	out, err := s.Run(context.Background(), app.NewRun(zerolog.New(&buf)), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Written)
	logs := buf.String()
	assert.Contains(t, logs, `"level":"warn"`)
	assert.Contains(t, logs, `"key":"score:7"`)
	assert.Contains(t, logs, `"key":"stats"`)
	assert.Contains(t, logs, "connection refused")
}

func TestPriorAverage(t *testing.T) {
	assert.Equal(t, 4.0, app.PriorAverage(0, 0, 4.0))
	assert.Equal(t, 3.2, app.PriorAverage(3.2, 10, 4.0))
}
