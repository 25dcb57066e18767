package domain

import (
	"context"
	"time"
)

type EntityStore interface {
	GetEntityByPrimaryURL(ctx context.Context, url string) (Entity, error)
	CreateEntity(ctx context.Context, e Entity) (int64, error)
	ListEntities(ctx context.Context, ids []int64) ([]Entity, error)
	UpdateScrapeInfo(ctx context.Context, id int64, p Platform, total int, at time.Time) error
}

type RawStore interface {
	InsertRaw(ctx context.Context, rs []RawEnvelope) (int64, error)
	// ScanRaw streams raw records of one platform in insertion order.
	ScanRaw(ctx context.Context, p Platform, entityIDs []int64, fn func(RawEnvelope) error) error
}

type UnifiedStore interface {
	UnifiedIDs(ctx context.Context) ([]string, error)
	// InsertUnified is an unordered bulk insert; rows that fail (duplicate
	// key, bad value) are skipped. It returns the number of rows written.
	InsertUnified(ctx context.Context, rs []CanonicalReview) (int64, error)
	ScanUnified(ctx context.Context, f ReviewFilter, fn func(CanonicalReview) error) error
}

type StandardizedStore interface {
	StandardizedIDs(ctx context.Context) ([]string, error)
	InsertStandardized(ctx context.Context, rs []StandardizedReview) (int64, error)
	ListStandardized(ctx context.Context, f ReviewFilter) ([]StandardizedReview, error)
	// RatingSummary returns the mean of all positive ratings and their count.
	RatingSummary(ctx context.Context) (avg float64, n int64, err error)
	EntityRatings(ctx context.Context, entityID int64) (map[string]float64, error)
}

type EnrichmentStore interface {
	// EnrichmentAttributes returns stored attributes keyed by review ID.
	EnrichmentAttributes(ctx context.Context, ids []string) (map[string]Attributes, error)
	MergeEnrichment(ctx context.Context, ps []EnrichmentPatch) (int64, error)
	ListEnriched(ctx context.Context, entityID int64) ([]EnrichedReview, error)
}

type ScoreStore interface {
	SaveScores(ctx context.Context, s EntityScore) error
	GetScores(ctx context.Context, entityID int64) (EntityScore, error)
	ScoredEntityIDs(ctx context.Context) ([]int64, error)
}

type StatsStore interface {
	Stats(ctx context.Context) (Stats, error)
}

// Scraper is the scraping collaborator. One call per (entity, platform).
type Scraper interface {
	Scrape(ctx context.Context, p Platform, url string) ([]map[string]any, error)
}

type EntityLoader interface {
	LoadEntities(path string) ([]EntityRow, error)
}

// Generator is the generative text collaborator used for translation and
// attribute extraction. It enforces no output structure.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type LanguageDetector interface {
	// Detect returns an ISO 639-1 code, or false when the text is empty,
	// too short or the detector is not confident.
	Detect(text string) (string, bool)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

type PlatformStats struct {
	Platform       Platform `json:"platform"`
	Count          int64    `json:"count"`
	AvgRating      float64  `json:"avg_rating"`
	OwnerResponses int64    `json:"owner_responses"`
}

type Stats struct {
	Entities          int64            `json:"entities"`
	Raw               map[string]int64 `json:"raw"`
	Unified           []PlatformStats  `json:"unified"`
	Standardized      []PlatformStats  `json:"standardized"`
	ResponseLanguages map[string]int64 `json:"response_languages"`
	Enriched          int64            `json:"enriched"`
	ScoredEntities    int64            `json:"scored_entities"`
	GeneratedAt       time.Time        `json:"generated_at"`
}
