package mysql

// ENTITIES

// LAST_INSERT_ID(id) makes an existing row's id visible to LastInsertId, so
// concurrent get-or-create calls converge on one row.
const createEntitySQL = `
INSERT INTO entities (display_name, primary_url, secondary_url, trustpilot_url)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)
`

const entityColumns = `id, display_name, primary_url, secondary_url, trustpilot_url,
  google_last_scraped, trustpilot_last_scraped, google_total, trustpilot_total`

const getEntityByURLSQL = `SELECT ` + entityColumns + ` FROM entities WHERE primary_url = ?`

const listEntitiesSQL = `SELECT ` + entityColumns + ` FROM entities`

const updateGoogleScrapeSQL = `
UPDATE entities SET google_total = ?, google_last_scraped = ? WHERE id = ?
`

const updateTrustpilotScrapeSQL = `
UPDATE entities SET trustpilot_total = ?, trustpilot_last_scraped = ? WHERE id = ?
`

const saveScoresSQL = `UPDATE entities SET scores = ?, scores_updated_at = ? WHERE id = ?`

const getScoresSQL = `SELECT scores FROM entities WHERE id = ?`

const scoredEntityIDsSQL = `SELECT id FROM entities WHERE scores IS NOT NULL ORDER BY id`

// RAW

const insertRawPrefix = "INSERT INTO raw_reviews (entity_id, platform, payload, scraped_at) VALUES "

const scanRawSQL = `
SELECT id, entity_id, platform, payload, scraped_at
FROM raw_reviews
WHERE platform = ? AND id > ?`

// UNIFIED / STANDARDIZED

// IGNORE turns duplicate keys into warnings, so one bad row does not abort
// the rest of the batch.
const insertUnifiedPrefix = "INSERT IGNORE INTO unified_reviews\n  (id, entity_id, platform, published_at, rating, has_response, doc)\nVALUES "

const insertStandardizedPrefix = "INSERT IGNORE INTO standardized_reviews\n  (id, entity_id, platform, published_at, rating, has_response, response_language, doc)\nVALUES "

const ratingSummarySQL = `
SELECT COALESCE(AVG(rating), 0), COUNT(*)
FROM standardized_reviews
WHERE rating > 0
`

const entityRatingsSQL = `
SELECT id, rating FROM standardized_reviews WHERE entity_id = ? AND rating > 0
`

// ENRICHMENT

const mergeEnrichmentPrefix = "INSERT INTO enriched_reviews\n  (id, entity_id, platform, published_at, has_response, review_length, attributes, processed_at)\nVALUES "

// Attributes not named in the patch are kept.
const mergeEnrichmentOnDup = " ON DUPLICATE KEY UPDATE\n" +
	"  entity_id     = VALUES(entity_id),\n" +
	"  platform      = VALUES(platform),\n" +
	"  published_at  = VALUES(published_at),\n" +
	"  has_response  = VALUES(has_response),\n" +
	"  review_length = VALUES(review_length),\n" +
	"  attributes    = JSON_MERGE_PATCH(enriched_reviews.attributes, VALUES(attributes)),\n" +
	"  processed_at  = VALUES(processed_at)\n"

const listEnrichedSQL = `
SELECT id, entity_id, platform, published_at, has_response, review_length, attributes, processed_at
FROM enriched_reviews
WHERE entity_id = ?
ORDER BY id
`

// STATS

const statsRawSQL = `SELECT platform, COUNT(*) FROM raw_reviews GROUP BY platform`

const statsPlatformSQL = `
SELECT platform, COUNT(*), COALESCE(AVG(CASE WHEN rating > 0 THEN rating END), 0), SUM(has_response)
FROM %s
GROUP BY platform
ORDER BY platform
`

const statsResponseLangSQL = `
SELECT response_language, COUNT(*)
FROM standardized_reviews
WHERE response_language <> ''
GROUP BY response_language
`

const statsCountsSQL = `
SELECT
  (SELECT COUNT(*) FROM entities),
  (SELECT COUNT(*) FROM enriched_reviews),
  (SELECT COUNT(*) FROM entities WHERE scores IS NOT NULL)
`
