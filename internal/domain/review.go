package domain

import "time"

// CanonicalReview is the unified review shape shared by every platform.
// Fields a source does not provide keep their zero marker ("" / null / {})
// and are always serialised, so documents look the same across platforms.
type CanonicalReview struct {
	ID                string         `json:"unified_review_id"`
	OriginalID        string         `json:"original_review_id"`
	EntityID          int64          `json:"entity_id"`
	Platform          Platform       `json:"platform"`
	AuthorName        string         `json:"author_name"`
	AuthorID          string         `json:"author_id"`
	AuthorURL         string         `json:"author_url"`
	AuthorReviewCount *int           `json:"author_review_count"`
	Rating            *float64       `json:"rating"`
	Title             string         `json:"title"`
	Body              string         `json:"review_text"`
	OwnerResponse     string         `json:"response_from_owner_text"`
	OwnerResponseDate string         `json:"response_from_owner_date"`
	ReviewLanguage    string         `json:"review_language"`
	CountryCode       string         `json:"country_code"`
	PublishedAt       string         `json:"published_at_date"`
	HelpfulVotes      int            `json:"helpful_votes"`
	Verified          *bool          `json:"verified_purchase"`
	SourceURL         string         `json:"source_url"`
	Extra             map[string]any `json:"extra"`
	ScrapedAt         time.Time      `json:"scraped_at"`
}

// StandardizedReview is the English-language derivative of a CanonicalReview.
// It shares the canonical ID and is written once per ID.
type StandardizedReview struct {
	CanonicalReview

	DetectedLanguage string `json:"detected_language"`
	ResponseLanguage string `json:"response_language"`
	Translated       bool   `json:"translated"`
	OriginalTitle    string `json:"original_title"`
	OriginalBody     string `json:"original_review_text"`
	OriginalResponse string `json:"original_response_from_owner_text"`
}

// Content is the text an extractor looks at: title and body joined.
func (r CanonicalReview) Content() string {
	switch {
	case r.Title == "":
		return r.Body
	case r.Body == "":
		return r.Title
	}
	return r.Title + " " + r.Body
}

func (r CanonicalReview) HasResponse() bool { return r.OwnerResponse != "" }

// ReviewFilter narrows scans over review collections.
type ReviewFilter struct {
	EntityIDs      []int64
	Platform       Platform
	PublishedAfter string // ISO-8601 lower bound on PublishedAt, inclusive
}
