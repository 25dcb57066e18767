package domain

import "time"

// Attributes maps attribute name to its ordinal value.
// Sentiment values are 0..3 (0 = not mentioned), binary values are 0..1.
type Attributes map[string]int

const (
	AttrIsComplaint             = "is_complaint"
	AttrHasResponse             = "has_response"
	AttrHasConstructiveResponse = "has_constructive_response"
	AttrOnlineCommunication     = "online_communication"
)

// EnrichedReview holds extracted attributes for one standardized review.
// Response-quality attributes are present only when HasResponse == 1 and
// the review is a complaint.
type EnrichedReview struct {
	ID           string
	EntityID     int64
	Platform     Platform
	PublishedAt  string
	HasResponse  int
	ReviewLength int
	Attributes   Attributes
	ProcessedAt  time.Time
}

// Value returns the attribute value and whether it is present.
func (e EnrichedReview) Value(name string) (int, bool) {
	v, ok := e.Attributes[name]
	return v, ok
}

// EnrichmentPatch is merged into an existing enrichment document (or creates
// one). Attributes already stored and absent from the patch are kept.
type EnrichmentPatch struct {
	ID           string
	EntityID     int64
	Platform     Platform
	PublishedAt  string
	HasResponse  int
	ReviewLength int
	Attributes   Attributes
}
