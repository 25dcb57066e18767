package domain

import "time"

// RawEnvelope is a scraped record exactly as stored in the raw collection.
// It is immutable once inserted.
type RawEnvelope struct {
	ID        int64
	EntityID  int64
	Platform  Platform
	Payload   []byte // source JSON, schema varies per platform
	ScrapedAt time.Time
}

// RawRecord is a decoded raw record. Each platform has its own variant;
// downstream code only ever sees CanonicalReview.
type RawRecord interface {
	Platform() Platform
	Meta() RawMeta
}

type RawMeta struct {
	EntityID  int64
	ScrapedAt time.Time
	Payload   []byte
}

type GoogleRecord struct {
	RawMeta

	ReviewID            string
	ReviewerID          string
	ReviewerName        string
	ReviewerURL         string
	ReviewerReviewCount *int
	IsLocalGuide        bool
	Rating              *float64
	Text                string
	PublishedAtDate     string
	LikesCount          int
	OwnerResponse       string
	OwnerResponseDate   string
	Language            string
	OriginalLanguage    string
	CountryCode         string
	PlaceID             string
	BusinessTitle       string
	CategoryName        string
	Address             string
	City                string
	SourceURL           string
}

func (GoogleRecord) Platform() Platform { return PlatformGoogle }
func (r GoogleRecord) Meta() RawMeta    { return r.RawMeta }

type TrustpilotRecord struct {
	RawMeta

	ReviewID          string
	ReviewURL         string
	AuthorName        string
	AuthorReviewCount *int
	Rating            *float64
	Headline          string
	Body              string
	DatePublished     string
	ExperienceDate    string
	Verified          bool
	VerificationLevel string
	Likes             int
	OwnerResponse     string
	OwnerResponseDate string
	Language          string
	CountryCode       string
	SourceURL         string
}

func (TrustpilotRecord) Platform() Platform { return PlatformTrustpilot }
func (r TrustpilotRecord) Meta() RawMeta    { return r.RawMeta }
