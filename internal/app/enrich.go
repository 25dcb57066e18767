package app

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"review_pipeline/internal/adapters/observability"
	"review_pipeline/internal/domain"
	"review_pipeline/internal/shared"
)

type EnrichOptions struct {
	Filter   domain.ReviewFilter
	Families []Family
	// All re-sends reviews that already carry the requested attributes.
	All bool
}

// Enricher extracts attributes for standardized reviews and merges them into
// the enrichment store, one family (and attribute chunk) at a time.
type Enricher struct {
	Standardized domain.StandardizedStore
	Enrichment   domain.EnrichmentStore
	Extractor    *Extractor

	BatchSize int
	ChunkSize int
	MinLength int

	Sentiment []shared.Attribute
	Complaint []shared.Attribute
	Response  []shared.Attribute
}

func (e *Enricher) Run(ctx context.Context, run *Run, opts EnrichOptions) (Outcome, error) {
	log := run.Stage("enrich")
	out := newOutcome("enrich")

	all, err := e.Standardized.ListStandardized(ctx, opts.Filter)
	if err != nil {
		return *out, fmt.Errorf("list standardized: %w", err)
	}
	reviews := make([]domain.StandardizedReview, 0, len(all))
	for _, r := range all {
		if contentLength(r) < e.MinLength {
			out.record(ItemResult{ID: r.ID, Skip: SkipTooShort})
			continue
		}
		out.record(ItemResult{ID: r.ID})
		reviews = append(reviews, r)
	}
	log.Info().Int("reviews", len(reviews)).Int("too_short", out.Skipped[SkipTooShort]).Bool("all", opts.All).Msg("enrich started")

	families := opts.Families
	if len(families) == 0 {
		families = Families
	}
	for _, f := range Families {
		if !hasFamily(families, f) {
			continue
		}
		for _, chunk := range e.chunks(f) {
			if err := ctx.Err(); err != nil {
				out.Cancelled = true
				log.Warn().Msg("enrich interrupted")
				return *out, nil
			}
			if err := e.runChunk(ctx, run, log, out, f, chunk, reviews, opts.All); err != nil {
				if ctx.Err() != nil {
					out.Cancelled = true
					return *out, nil
				}
				return *out, err
			}
		}
	}

	log.Info().Int64("written", out.Written).Int("llm_calls", run.LLMCalls).Int("llm_failures", run.LLMFailures).Msg("enrich finished")
	return *out, nil
}

// chunks splits the family's enabled attributes into the groups sent per prompt.
func (e *Enricher) chunks(f Family) [][]shared.Attribute {
	switch f {
	case FamilySentiment:
		attrs := shared.Enabled(e.Sentiment)
		size := e.ChunkSize
		if size <= 0 {
			size = len(attrs)
		}
		var out [][]shared.Attribute
		for i := 0; i < len(attrs); i += size {
			out = append(out, attrs[i:min(i+size, len(attrs))])
		}
		return out
	case FamilyComplaint:
		if attrs := shared.Enabled(e.Complaint); len(attrs) > 0 {
			return [][]shared.Attribute{attrs}
		}
	case FamilyResponse:
		if attrs := shared.Enabled(e.Response); len(attrs) > 0 {
			return [][]shared.Attribute{attrs}
		}
	}
	return nil
}

func (e *Enricher) runChunk(ctx context.Context, run *Run, log zerolog.Logger, out *Outcome, f Family, attrs []shared.Attribute, reviews []domain.StandardizedReview, all bool) error {
	candidates := reviews
	if f == FamilyResponse {
		candidates = candidates[:0:0]
		for _, r := range reviews {
			if r.HasResponse() {
				candidates = append(candidates, r)
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// stored state is read back every chunk: earlier chunks of this run
	// and earlier runs both count
	stored, err := e.Enrichment.EnrichmentAttributes(ctx, reviewIDs(candidates))
	if err != nil {
		return fmt.Errorf("read enrichment: %w", err)
	}

	pending := make([]domain.StandardizedReview, 0, len(candidates))
	for _, r := range candidates {
		have := stored[r.ID]
		if f == FamilyResponse && have[domain.AttrIsComplaint] != 1 {
			continue
		}
		if all || missingAny(have, attrs) {
			pending = append(pending, r)
		}
	}
	names := attrNames(attrs)
	log.Info().Str("family", string(f)).Strs("attributes", names).Int("pending", len(pending)).Msg("processing attribute chunk")

	for i := 0; i < len(pending); i += e.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := pending[i:min(i+e.BatchSize, len(pending))]
		bl := log.With().Str("family", string(f)).Int("batch_start", i).Int("batch_size", len(batch)).Logger()

		vals, skip := e.Extractor.Extract(ctx, run, bl, f, batch, attrs)
		if skip != SkipNone {
			out.skip(skip, len(batch))
			continue
		}
		patches := buildPatches(batch, vals)
		if missed := len(batch) - len(patches); missed > 0 {
			out.skip(SkipNoValues, missed)
		}

		n, err := e.Enrichment.MergeEnrichment(ctx, patches)
		observability.ObserveFlush(out.Stage, err)
		if err != nil {
			out.FailedBatches++
			out.skip(SkipStorage, len(patches))
			bl.Error().Str("err", truncate(err.Error(), 200)).Msg("merge enrichment failed")
			continue
		}
		out.wrote(n)
		bl.Debug().Int("merged", len(patches)).Msg("batch merged")
	}
	return nil
}

func buildPatches(batch []domain.StandardizedReview, vals map[string]domain.Attributes) []domain.EnrichmentPatch {
	out := make([]domain.EnrichmentPatch, 0, len(vals))
	for _, r := range batch {
		attrs, ok := vals[r.ID]
		if !ok {
			continue
		}
		hasResp := 0
		if r.HasResponse() {
			hasResp = 1
		}
		out = append(out, domain.EnrichmentPatch{
			ID:           r.ID,
			EntityID:     r.EntityID,
			Platform:     r.Platform,
			PublishedAt:  r.PublishedAt,
			HasResponse:  hasResp,
			ReviewLength: contentLength(r),
			Attributes:   attrs,
		})
	}
	return out
}

func contentLength(r domain.StandardizedReview) int {
	return utf8.RuneCountInString(r.Content())
}

func missingAny(have domain.Attributes, attrs []shared.Attribute) bool {
	for _, a := range attrs {
		if _, ok := have[a.Name]; !ok {
			return true
		}
	}
	return false
}

func hasFamily(fs []Family, f Family) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}

func reviewIDs(rs []domain.StandardizedReview) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

func attrNames(attrs []shared.Attribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

// ParseFamilies turns "sentiment,complaint" or "all" into families.
func ParseFamilies(names []string) ([]Family, error) {
	var out []Family
	for _, n := range names {
		switch Family(n) {
		case "all", "":
			return Families, nil
		case FamilySentiment, FamilyComplaint, FamilyResponse:
			out = append(out, Family(n))
		default:
			return nil, fmt.Errorf("%w: unknown attribute group %q", domain.ErrConfig, n)
		}
	}
	return out, nil
}
