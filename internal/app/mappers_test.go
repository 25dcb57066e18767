package app_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_pipeline/internal/app"
	"review_pipeline/internal/domain"
)

func env(id int64, entity int64, p domain.Platform, payload string) domain.RawEnvelope {
	return domain.RawEnvelope{
		ID: id, EntityID: entity, Platform: p, Payload: []byte(payload),
		ScrapedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func decodeMap(t *testing.T, e domain.RawEnvelope) domain.CanonicalReview {
	t.Helper()
	rec, err := app.DecodeRaw(e)
	require.NoError(t, err)
	return app.MapCanonical(rec)
}

func TestMapCanonical_GoogleNativeID(t *testing.T) {
	cr := decodeMap(t, env(1, 7, domain.PlatformGoogle, `{
		"reviewId": "ChZDSUhN", "reviewerId": "u1", "name": "Ana", "stars": 5,
		"text": "Great clinic", "publishedAtDate": "2024-05-01T10:00:00.000Z",
		"responseFromOwnerText": "Thank you!", "likesCount": 2, "placeId": "p1", "title": "Clinic X"}`))

	assert.Equal(t, "google_ChZDSUhN", cr.ID)
	assert.Equal(t, "ChZDSUhN", cr.OriginalID)
	assert.Equal(t, int64(7), cr.EntityID)
	assert.Equal(t, "Ana", cr.AuthorName)
	require.NotNil(t, cr.Rating)
	assert.Equal(t, 5.0, *cr.Rating)
	assert.Equal(t, "Great clinic", cr.Body)
	assert.Equal(t, "", cr.Title, "business title must not become the review title")
	assert.Equal(t, "Clinic X", cr.Extra["business_title"])
	assert.True(t, cr.HasResponse())
	assert.Equal(t, 2, cr.HelpfulVotes)
	assert.Nil(t, cr.Verified)
}

func TestUnifiedID_Idempotent(t *testing.T) {
	cases := []domain.RawEnvelope{
		env(1, 3, domain.PlatformGoogle, `{"reviewId":"abc","text":"x"}`),
		env(2, 3, domain.PlatformGoogle, `{"reviewerId":"u9","publishedAtDate":"2024-01-01","text":"no id here"}`),
		env(3, 3, domain.PlatformGoogle, `{}`),
		env(4, 3, domain.PlatformTrustpilot, `{"reviewUrl":"https://tp/r/1","reviewBody":"ok"}`),
		env(5, 3, domain.PlatformTrustpilot, `{"reviewBody":"nothing else"}`),
	}
	for _, e := range cases {
		first := decodeMap(t, e).ID
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, decodeMap(t, e).ID, "payload %s", e.Payload)
		}
	}
}

func TestUnifiedID_GoogleFallbackHash(t *testing.T) {
	a := decodeMap(t, env(1, 3, domain.PlatformGoogle, `{"reviewerId":"u9","publishedAtDate":"2024-01-01","text":"no id here"}`))
	b := decodeMap(t, env(2, 3, domain.PlatformGoogle, `{"reviewerId":"u9","publishedAtDate":"2024-01-01","text":"another text"}`))
	c := decodeMap(t, env(3, 4, domain.PlatformGoogle, `{"reviewerId":"u9","publishedAtDate":"2024-01-01","text":"no id here"}`))

	require.True(t, strings.HasPrefix(a.ID, "google_"))
	assert.Len(t, strings.TrimPrefix(a.ID, "google_"), 12)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID, "entity takes part in the fallback identity")
	assert.Equal(t, "", a.OriginalID)

	// only the first 50 runes of text count
	long := strings.Repeat("é", 50)
	d := decodeMap(t, env(4, 3, domain.PlatformGoogle, `{"reviewerId":"u9","text":"`+long+`tail one"}`))
	e := decodeMap(t, env(5, 3, domain.PlatformGoogle, `{"reviewerId":"u9","text":"`+long+`tail two"}`))
	assert.Equal(t, d.ID, e.ID)
}

func TestUnifiedID_TrustpilotFallbacks(t *testing.T) {
	withID := decodeMap(t, env(1, 1, domain.PlatformTrustpilot, `{"review_id":"tp1","reviewUrl":"https://tp/r/1"}`))
	assert.Equal(t, "trustpilot_tp1", withID.ID)

	byURL := decodeMap(t, env(2, 1, domain.PlatformTrustpilot, `{"review_id":"","reviewUrl":"https://tp/r/1"}`))
	assert.Equal(t, "trustpilot_https://tp/r/1", byURL.ID)

	hashed := decodeMap(t, env(3, 1, domain.PlatformTrustpilot, `{"reviewBody":"only a body"}`))
	assert.Len(t, strings.TrimPrefix(hashed.ID, "trustpilot_"), 12)
}

func TestMapCanonical_TrustpilotFields(t *testing.T) {
	cr := decodeMap(t, env(1, 2, domain.PlatformTrustpilot, `{
		"review_id": "tp1", "ratingValue": "4", "reviewHeadline": "Good", "reviewBody": "Nice staff",
		"datePublished": "2024-02-02T00:00:00Z", "verified": true, "verificationLevel": "invited",
		"likes": 3, "reviewLanguage": "en", "consumerCountryCode": "GB", "experienceDate": "2024-01-20"}`))

	require.NotNil(t, cr.Rating)
	assert.Equal(t, 4.0, *cr.Rating)
	assert.Equal(t, "Good", cr.Title)
	assert.Equal(t, "Nice staff", cr.Body)
	assert.Equal(t, "Good Nice staff", cr.Content())
	require.NotNil(t, cr.Verified)
	assert.True(t, *cr.Verified)
	assert.Equal(t, "invited", cr.Extra["verification_level"])
	assert.Equal(t, "2024-01-20", cr.Extra["experience_date"])
	assert.Equal(t, "GB", cr.CountryCode)
}

func TestMapCanonical_UniformShape(t *testing.T) {
	g := decodeMap(t, env(1, 1, domain.PlatformGoogle, `{"reviewId":"g"}`))
	tp := decodeMap(t, env(2, 1, domain.PlatformTrustpilot, `{"review_id":"t"}`))

	keys := func(v any) []string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		var out []string
		for k := range m {
			out = append(out, k)
		}
		return out
	}
	assert.ElementsMatch(t, keys(g), keys(tp))
	assert.NotNil(t, g.Extra)
	assert.Nil(t, g.Rating, "absent rating stays null")
}

func TestDecodeRaw_Malformed(t *testing.T) {
	_, err := app.DecodeRaw(env(1, 1, domain.PlatformGoogle, `{"reviewId":`))
	assert.Error(t, err)

	_, err = app.DecodeRaw(env(2, 1, domain.Platform("yelp"), `{}`))
	assert.Error(t, err)
}
