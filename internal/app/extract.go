package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"review_pipeline/internal/adapters/observability"
	"review_pipeline/internal/domain"
	"review_pipeline/internal/shared"
)

// Family groups attributes that share a prompt shape and a value range.
type Family string

const (
	FamilySentiment Family = "sentiment"
	FamilyComplaint Family = "complaint"
	FamilyResponse  Family = "response"
)

// Families in the order they must run: response reads complaint results back.
var Families = []Family{FamilySentiment, FamilyComplaint, FamilyResponse}

// Max is the largest valid value for the family.
func (f Family) Max() int64 {
	if f == FamilySentiment {
		return 3
	}
	return 1
}

/********** prompts **********/

func BuildPrompt(f Family, reviews []domain.StandardizedReview, attrs []shared.Attribute) string {
	var b strings.Builder
	switch f {
	case FamilySentiment:
		fmt.Fprintf(&b, "Analyze sentiment for: %s\n\n", describe(attrs))
		b.WriteString("Scale: 0=not mentioned, 1=negative, 2=neutral/mixed, 3=positive\n\n")
		fmt.Fprintf(&b, "Return JSON: {\"review_id\": {%s}}\n\n", zeroTemplate(attrs))
		b.WriteString("Use the exact review ids below as keys. Values must be integers. Return only JSON.\n\nReviews:\n")
		for _, r := range reviews {
			fmt.Fprintf(&b, "%s: %s\n", r.ID, oneLine(r.Content()))
		}

	case FamilyComplaint:
		b.WriteString("Classify reviews as complaint (1) or not (0).\n\n")
		b.WriteString("Return JSON: {\"review_id\": 0}\n\n")
		b.WriteString("Use the exact review ids below as keys. Return only JSON.\n\nReviews:\n")
		for _, r := range reviews {
			fmt.Fprintf(&b, "%s: %s\n", r.ID, oneLine(r.Content()))
		}

	case FamilyResponse:
		fmt.Fprintf(&b, "Analyze owner responses for: %s\n\n", describe(attrs))
		b.WriteString("Answer 1 for yes and 0 for no.\n\n")
		fmt.Fprintf(&b, "Return JSON: {\"review_id\": {%s}}\n\n", zeroTemplate(attrs))
		b.WriteString("Use the exact review ids below as keys. Return only JSON.\n\nReview + Response pairs:\n")
		for _, r := range reviews {
			fmt.Fprintf(&b, "%s:\nReview: %s\nResponse: %s\n\n", r.ID, oneLine(r.Content()), oneLine(r.OwnerResponse))
		}
	}
	return b.String()
}

func describe(attrs []shared.Attribute) string {
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = a.Name + ": " + a.Description
	}
	return strings.Join(parts, ", ")
}

func zeroTemplate(attrs []shared.Attribute) string {
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = fmt.Sprintf("%q: 0", a.Name)
	}
	return strings.Join(parts, ", ")
}

// oneLine keeps one review per prompt line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

/********** budget **********/

// Budget is a soft cap on prompt size, estimated from character count.
type Budget struct {
	ContextWindow int
	Ratio         float64
	CharsPerToken int
}

func (b Budget) Limit() int { return int(float64(b.ContextWindow) * b.Ratio) }

func (b Budget) Estimate(prompt string) int {
	cpt := b.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	return utf8.RuneCountInString(prompt) / cpt
}

func (b Budget) Allows(prompt string) bool { return b.Estimate(prompt) <= b.Limit() }

/********** response parsing **********/

// ParseResponse decodes a model reply into a map keyed by review id.
// It first parses strictly (after removing a markdown fence); when that
// fails it tries each balanced {...} span in the reply in order and keeps
// the first one that decodes.
func ParseResponse(raw string) (map[string]json.RawMessage, error) {
	text := stripFence(raw)
	var out map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &out); err == nil && out != nil {
		return out, nil
	}
	var lastErr error
	for from := 0; from < len(raw); {
		start, end, ok := balancedObject(raw, from)
		if !ok {
			// an unclosed span swallows the rest of the reply; anything
			// after it is a nested fragment
			break
		}
		out = nil
		err := json.Unmarshal([]byte(raw[start:end]), &out)
		if err == nil && out != nil {
			return out, nil
		}
		lastErr = err
		from = end
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, lastErr)
	}
	return nil, domain.ErrMalformedResponse
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// balancedObject finds the first '{' in s at or after from and returns the
// end of its brace-balanced span, ignoring braces inside JSON strings.
// start is -1 when there is no '{' left; ok is false when the span never
// closes.
func balancedObject(s string, from int) (start, end int, ok bool) {
	i := strings.IndexByte(s[from:], '{')
	if i == -1 {
		return -1, 0, false
	}
	start = from + i
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1, true
			}
		}
	}
	return start, 0, false
}

/********** validation **********/

// Validate keeps only integer values in the family's range, for known
// attribute names and for ids that were part of the batch. Everything else
// is dropped and logged. Reviews left without values are omitted.
func Validate(f Family, parsed map[string]json.RawMessage, attrs []string, batch map[string]bool, log zerolog.Logger) map[string]domain.Attributes {
	known := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		known[a] = true
	}
	out := make(map[string]domain.Attributes, len(parsed))

	for id, raw := range parsed {
		if !batch[id] {
			log.Warn().Str("review_id", id).Msg("drop result for id outside batch")
			continue
		}
		v, err := decodeNumbers(raw)
		if err != nil {
			log.Warn().Str("review_id", id).Err(err).Msg("drop undecodable result")
			continue
		}

		vals := domain.Attributes{}
		switch t := v.(type) {
		case json.Number:
			// complaint family may answer with a bare flag
			if f == FamilyComplaint && known[domain.AttrIsComplaint] {
				if n, ok := inRange(t, f.Max()); ok {
					vals[domain.AttrIsComplaint] = n
				} else {
					log.Warn().Str("review_id", id).Str("value", t.String()).Msg("drop out-of-range value")
				}
			}
		case map[string]any:
			for name, av := range t {
				if !known[name] {
					log.Warn().Str("review_id", id).Str("attribute", name).Msg("drop unknown attribute")
					continue
				}
				num, isNum := av.(json.Number)
				n, ok := inRange(num, f.Max())
				if !isNum || !ok {
					log.Warn().Str("review_id", id).Str("attribute", name).Interface("value", av).Msg("drop invalid value")
					continue
				}
				vals[name] = n
			}
		default:
			log.Warn().Str("review_id", id).Msgf("drop result of type %T", v)
		}
		if len(vals) > 0 {
			out[id] = vals
		}
	}
	return out
}

func decodeNumbers(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	err := dec.Decode(&v)
	return v, err
}

// inRange accepts integral numbers only: 2.5 and 2.0 are both rejected.
func inRange(n json.Number, max int64) (int, bool) {
	v, err := n.Int64()
	if err != nil || v < 0 || v > max {
		return 0, false
	}
	return int(v), true
}

/********** extractor **********/

// Extractor runs one batch through the model:
// built -> sent -> received -> parsed -> validated.
type Extractor struct {
	Gen    domain.Generator
	Budget Budget
}

// Extract returns validated attributes per review id. A non-empty skip
// reason means the whole batch produced nothing.
func (x *Extractor) Extract(ctx context.Context, run *Run, log zerolog.Logger, f Family, batch []domain.StandardizedReview, attrs []shared.Attribute) (map[string]domain.Attributes, SkipReason) {
	prompt := BuildPrompt(f, batch, attrs)
	tokens := x.Budget.Estimate(prompt)
	if !x.Budget.Allows(prompt) {
		log.Warn().Str("family", string(f)).Int("tokens", tokens).Int("limit", x.Budget.Limit()).Msg("prompt over budget, batch skipped")
		return nil, SkipOverBudget
	}
	observability.ObservePrompt(string(f), tokens)

	run.LLMCalls++
	reply, err := x.Gen.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(reply) == "" {
		run.LLMFailures++
		log.Error().Err(err).Str("family", string(f)).Int("batch", len(batch)).Msg("model call failed, batch skipped")
		return nil, SkipExternal
	}

	parsed, err := ParseResponse(reply)
	if err != nil {
		log.Error().Err(err).Str("family", string(f)).Str("reply", truncate(reply, 500)).Msg("unparseable model reply, batch skipped")
		return nil, SkipMalformed
	}

	ids := make(map[string]bool, len(batch))
	for _, r := range batch {
		ids[r.ID] = true
	}
	valid := Validate(f, parsed, attrNames(attrs), ids, log)
	if len(valid) == 0 {
		return nil, SkipNoValues
	}
	return valid, SkipNone
}
