package app

import (
	"math"
	"sort"

	"review_pipeline/internal/domain"
)

// Weight is one entry of a composite weight table.
type Weight struct {
	Attribute string
	Weight    float64
}

var (
	ServiceQualityWeights = []Weight{
		{"treatment_satisfaction", 0.3},
		{"post_op", 0.2},
		{"staff_satisfaction", 0.3},
		{"facility", 0.2},
	}
	CommunicationWeights = []Weight{
		{"onsite_communication", 0.4},
		{"scheduling", 0.2},
		{domain.AttrOnlineCommunication, 0.3},
	}
)

// PriorAverage falls back to def when there are no rated reviews.
func PriorAverage(avg float64, n int64, def float64) float64 {
	if n == 0 || avg <= 0 {
		return def
	}
	return avg
}

// AdjustedRating shrinks the sample mean toward prior by priorWeight
// pseudo-reviews. Nil when there are no ratings.
func AdjustedRating(ratings []float64, prior, priorWeight float64) *float64 {
	if len(ratings) == 0 {
		return nil
	}
	sorted := append([]float64(nil), ratings...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, r := range sorted {
		sum += r
	}
	n := float64(len(sorted))
	mean := sum / n
	v := round((priorWeight*prior+n*mean)/(priorWeight+n), 3)
	return &v
}

// Buckets counts sentiment values; 0 (not mentioned) is not counted.
type Buckets struct {
	Positive int
	Neutral  int
	Negative int
}

func (b *Buckets) Add(v int) {
	switch v {
	case 3:
		b.Positive++
	case 2:
		b.Neutral++
	case 1:
		b.Negative++
	}
}

func (b Buckets) Total() int { return b.Positive + b.Neutral + b.Negative }

// NPS is (positive - negative) / total * 100, nil for an empty population.
func NPS(b Buckets) *float64 {
	t := b.Total()
	if t == 0 {
		return nil
	}
	v := round(float64(b.Positive-b.Negative)/float64(t)*100, 2)
	return &v
}

// OnlineCommunication derives a sentiment value from complaint handling:
// non-complaints are ignored (0), unanswered complaints are negative (1),
// constructive answers positive (3), other answers neutral (2).
func OnlineCommunication(isComplaint, hasResponse, constructive int) int {
	switch {
	case isComplaint != 1:
		return 0
	case hasResponse != 1:
		return 1
	case constructive == 1:
		return 3
	default:
		return 2
	}
}

// Composite is the weighted average of the defined scores, with weights
// renormalised over those scores. Nil when none is defined.
func Composite(scores map[string]*float64, weights []Weight) *float64 {
	sum, total := 0.0, 0.0
	for _, w := range weights {
		s := scores[w.Attribute]
		if s == nil {
			continue
		}
		sum += *s * w.Weight
		total += w.Weight
	}
	if total == 0 {
		return nil
	}
	v := round(sum/total, 2)
	return &v
}

// ScoreEntity computes every score of one entity from its ratings (keyed by
// review id) and its enrichment documents.
func ScoreEntity(entityID int64, ratings map[string]float64, enriched []domain.EnrichedReview, attributes []string, prior, priorWeight float64) domain.EntityScore {
	vals := make([]float64, 0, len(ratings))
	reviewed := make(map[string]struct{}, len(ratings)+len(enriched))
	for id, r := range ratings {
		vals = append(vals, r)
		reviewed[id] = struct{}{}
	}

	buckets := make(map[string]*Buckets, len(attributes)+1)
	for _, a := range attributes {
		buckets[a] = &Buckets{}
	}
	online := &Buckets{}
	for _, e := range enriched {
		reviewed[e.ID] = struct{}{}
		for _, a := range attributes {
			if v, ok := e.Value(a); ok {
				buckets[a].Add(v)
			}
		}
		complaint, _ := e.Value(domain.AttrIsComplaint)
		constructive, _ := e.Value(domain.AttrHasConstructiveResponse)
		online.Add(OnlineCommunication(complaint, e.HasResponse, constructive))
	}
	buckets[domain.AttrOnlineCommunication] = online

	scores := make(map[string]*float64, len(buckets))
	for a, b := range buckets {
		scores[a] = NPS(*b)
	}

	return domain.EntityScore{
		EntityID:             entityID,
		AdjustedRating:       AdjustedRating(vals, prior, priorWeight),
		AttributeScores:      scores,
		ServiceQuality:       Composite(scores, ServiceQualityWeights),
		Communication:        Composite(scores, CommunicationWeights),
		TotalReviewsAnalyzed: len(reviewed),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
