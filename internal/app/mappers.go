package app

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"review_pipeline/internal/domain"
)

/********** alias registries (single source of truth) **********/

var googleAliases = map[string][]string{
	"review_id":      {"review_id", "reviewId"},
	"reviewer_id":    {"reviewerId", "reviewer_id"},
	"reviewer_name":  {"name", "reviewerName", "author"},
	"reviewer_url":   {"reviewerUrl", "reviewer_url"},
	"reviewer_count": {"reviewerNumberOfReviews", "reviewer.numberOfReviews"},
	"rating":         {"rating", "stars"},
	"text":           {"text", "review_text"},
	"published":      {"publishedAtDate", "published_at_date"},
	"likes":          {"likesCount", "likes"},
	"response":       {"responseFromOwnerText", "ownerResponse.text"},
	"response_date":  {"responseFromOwnerDate", "ownerResponse.date"},
	"lang":           {"language", "lang"},
	"original_lang":  {"originalLanguage"},
	"country":        {"countryCode", "country_code"},
	"place_id":       {"placeId", "place_id"},
	"business_title": {"title", "businessTitle"},
	"category":       {"categoryName", "category"},
	"address":        {"address", "location.address"},
	"city":           {"city", "location.city"},
	"local_guide":    {"isLocalGuide"},
	"source_url":     {"source_url", "sourceUrl"},
}

var trustpilotAliases = map[string][]string{
	"review_id":          {"review_id", "reviewId", "id"},
	"review_url":         {"reviewUrl", "review_url", "url"},
	"author":             {"consumerName", "authorName", "consumer.displayName", "author.name"},
	"author_count":       {"numberOfReviews", "consumer.numberOfReviews"},
	"rating":             {"ratingValue", "rating"},
	"headline":           {"reviewHeadline", "title", "headline"},
	"body":               {"reviewBody", "text", "body"},
	"published":          {"datePublished", "date", "dates.publishedDate"},
	"experience":         {"experienceDate", "dates.experiencedDate"},
	"verified":           {"verified", "isVerified"},
	"verification_level": {"verificationLevel"},
	"likes":              {"likes", "helpfulCount"},
	"response":           {"replyText", "reply.message", "companyReply"},
	"response_date":      {"replyDate", "reply.publishedDate"},
	"lang":               {"reviewLanguage", "language"},
	"country":            {"consumerCountryCode", "countryCode"},
	"source_url":         {"source_url", "sourceUrl"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupStr returns string at path or "". Numeric ids are rendered as integers.
func lookupStr(m map[string]any, path string) string {
	switch v := lookupAny(m, path).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// firstAlias: first non-empty string for a named alias set, "" when none.
func firstAlias(m map[string]any, aliases map[string][]string, key string) string {
	for _, p := range aliases[key] {
		if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
			return s
		}
	}
	return ""
}

// getFloatFlexible: number from several paths (float64/int/string like "4,0").
func getFloatFlexible(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// firstIntFlexible: int from several paths (float64/int/string).
func firstIntFlexible(m map[string]any, paths ...string) *int {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			x := int(v)
			return &x
		case int:
			x := v
			return &x
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			if n, err := strconv.Atoi(s); err == nil {
				return &n
			}
		}
	}
	return nil
}

func intOr0(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// firstBool: bool from several paths; strings "true"/"false" accepted.
func firstBool(m map[string]any, paths ...string) bool {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// prefixRunes returns at most n runes of s.
func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// fallbackID hashes identifying fields into a short stable id.
func fallbackID(parts ...string) string {
	for i := range parts {
		parts[i] = orUnknown(parts[i])
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:12]
}

/********** raw decoding **********/

// DecodeRaw parses a stored raw payload into its platform variant.
func DecodeRaw(env domain.RawEnvelope) (domain.RawRecord, error) {
	var p map[string]any
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("raw %d: %w", env.ID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("raw %d: empty payload", env.ID)
	}
	meta := domain.RawMeta{EntityID: env.EntityID, ScrapedAt: env.ScrapedAt, Payload: env.Payload}

	switch env.Platform {
	case domain.PlatformGoogle:
		a := googleAliases
		return domain.GoogleRecord{
			RawMeta:             meta,
			ReviewID:            firstAlias(p, a, "review_id"),
			ReviewerID:          firstAlias(p, a, "reviewer_id"),
			ReviewerName:        firstAlias(p, a, "reviewer_name"),
			ReviewerURL:         firstAlias(p, a, "reviewer_url"),
			ReviewerReviewCount: firstIntFlexible(p, a["reviewer_count"]...),
			IsLocalGuide:        firstBool(p, a["local_guide"]...),
			Rating:              getFloatFlexible(p, a["rating"]...),
			Text:                firstAlias(p, a, "text"),
			PublishedAtDate:     firstAlias(p, a, "published"),
			LikesCount:          intOr0(firstIntFlexible(p, a["likes"]...)),
			OwnerResponse:       firstAlias(p, a, "response"),
			OwnerResponseDate:   firstAlias(p, a, "response_date"),
			Language:            firstAlias(p, a, "lang"),
			OriginalLanguage:    firstAlias(p, a, "original_lang"),
			CountryCode:         firstAlias(p, a, "country"),
			PlaceID:             firstAlias(p, a, "place_id"),
			BusinessTitle:       firstAlias(p, a, "business_title"),
			CategoryName:        firstAlias(p, a, "category"),
			Address:             firstAlias(p, a, "address"),
			City:                firstAlias(p, a, "city"),
			SourceURL:           firstAlias(p, a, "source_url"),
		}, nil

	case domain.PlatformTrustpilot:
		a := trustpilotAliases
		return domain.TrustpilotRecord{
			RawMeta:           meta,
			ReviewID:          firstAlias(p, a, "review_id"),
			ReviewURL:         firstAlias(p, a, "review_url"),
			AuthorName:        firstAlias(p, a, "author"),
			AuthorReviewCount: firstIntFlexible(p, a["author_count"]...),
			Rating:            getFloatFlexible(p, a["rating"]...),
			Headline:          firstAlias(p, a, "headline"),
			Body:              firstAlias(p, a, "body"),
			DatePublished:     firstAlias(p, a, "published"),
			ExperienceDate:    firstAlias(p, a, "experience"),
			Verified:          firstBool(p, a["verified"]...),
			VerificationLevel: firstAlias(p, a, "verification_level"),
			Likes:             intOr0(firstIntFlexible(p, a["likes"]...)),
			OwnerResponse:     firstAlias(p, a, "response"),
			OwnerResponseDate: firstAlias(p, a, "response_date"),
			Language:          firstAlias(p, a, "lang"),
			CountryCode:       firstAlias(p, a, "country"),
			SourceURL:         firstAlias(p, a, "source_url"),
		}, nil
	}
	return nil, fmt.Errorf("raw %d: unknown platform %q", env.ID, env.Platform)
}

/********** identity **********/

// UnifiedID derives the canonical identity of a raw record. It depends only
// on the record's content, so re-mapping the same record always yields the
// same id.
func UnifiedID(rec domain.RawRecord) string {
	entity := strconv.FormatInt(rec.Meta().EntityID, 10)
	switch r := rec.(type) {
	case domain.GoogleRecord:
		native := r.ReviewID
		if native == "" {
			native = fallbackID(r.ReviewerID, r.PublishedAtDate, entity, prefixRunes(r.Text, 50))
		}
		return string(domain.PlatformGoogle) + "_" + native
	case domain.TrustpilotRecord:
		native := r.ReviewID
		if native == "" {
			native = r.ReviewURL
		}
		if native == "" {
			native = fallbackID(r.AuthorName, r.DatePublished, entity, prefixRunes(r.Body, 50))
		}
		return string(domain.PlatformTrustpilot) + "_" + native
	}
	return ""
}

/********** canonical mapper **********/

// MapCanonical converts a decoded raw record into the canonical review.
// Absent source fields keep their empty marker.
func MapCanonical(rec domain.RawRecord) domain.CanonicalReview {
	meta := rec.Meta()
	cr := domain.CanonicalReview{
		ID:        UnifiedID(rec),
		EntityID:  meta.EntityID,
		Platform:  rec.Platform(),
		Extra:     map[string]any{},
		ScrapedAt: meta.ScrapedAt,
	}

	switch r := rec.(type) {
	case domain.GoogleRecord:
		cr.OriginalID = r.ReviewID
		cr.AuthorName = r.ReviewerName
		cr.AuthorID = r.ReviewerID
		cr.AuthorURL = r.ReviewerURL
		cr.AuthorReviewCount = r.ReviewerReviewCount
		cr.Rating = r.Rating
		cr.Body = r.Text
		cr.OwnerResponse = r.OwnerResponse
		cr.OwnerResponseDate = r.OwnerResponseDate
		cr.ReviewLanguage = r.Language
		cr.CountryCode = r.CountryCode
		cr.PublishedAt = r.PublishedAtDate
		cr.HelpfulVotes = r.LikesCount
		cr.SourceURL = r.SourceURL
		cr.Extra["is_local_guide"] = r.IsLocalGuide
		cr.Extra["original_language"] = r.OriginalLanguage
		cr.Extra["place_id"] = r.PlaceID
		cr.Extra["business_title"] = r.BusinessTitle
		cr.Extra["category_name"] = r.CategoryName
		cr.Extra["address"] = r.Address
		cr.Extra["city"] = r.City

	case domain.TrustpilotRecord:
		verified := r.Verified
		cr.OriginalID = r.ReviewID
		cr.AuthorName = r.AuthorName
		cr.AuthorReviewCount = r.AuthorReviewCount
		cr.Rating = r.Rating
		cr.Title = r.Headline
		cr.Body = r.Body
		cr.OwnerResponse = r.OwnerResponse
		cr.OwnerResponseDate = r.OwnerResponseDate
		cr.ReviewLanguage = r.Language
		cr.CountryCode = r.CountryCode
		cr.PublishedAt = r.DatePublished
		cr.HelpfulVotes = r.Likes
		cr.Verified = &verified
		cr.SourceURL = r.SourceURL
		cr.Extra["verification_level"] = r.VerificationLevel
		cr.Extra["experience_date"] = r.ExperienceDate
		if r.ReviewURL != "" {
			cr.Extra["review_url"] = r.ReviewURL
		}
	}
	return cr
}
