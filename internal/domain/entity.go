package domain

import "time"

type Platform string

const (
	PlatformGoogle     Platform = "google"
	PlatformTrustpilot Platform = "trustpilot"
)

// Platforms lists every supported source in processing order.
var Platforms = []Platform{PlatformGoogle, PlatformTrustpilot}

func (p Platform) Valid() bool {
	return p == PlatformGoogle || p == PlatformTrustpilot
}

// Entity is a reviewed business. PrimaryURL (maps listing) is its natural key.
type Entity struct {
	ID            int64
	DisplayName   string
	PrimaryURL    string
	SecondaryURL  string // website; the Trustpilot domain is derived from it
	TrustpilotURL string

	GoogleLastScraped     *time.Time
	TrustpilotLastScraped *time.Time
	GoogleTotal           int
	TrustpilotTotal       int
}

// EntityRow is one row of the entity list before it is stored.
type EntityRow struct {
	DisplayName  string
	PrimaryURL   string
	SecondaryURL string
}

type EntityScore struct {
	EntityID             int64               `json:"entity_id"`
	AdjustedRating       *float64            `json:"adjusted_rating"`
	AttributeScores      map[string]*float64 `json:"attribute_scores"`
	ServiceQuality       *float64            `json:"service_quality_score"`
	Communication        *float64            `json:"communication_score"`
	TotalReviewsAnalyzed int                 `json:"total_reviews_analyzed"`
	UpdatedAt            time.Time           `json:"scores_updated_at"`
}
