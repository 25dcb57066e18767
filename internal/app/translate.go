package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"review_pipeline/internal/domain"
)

const english = "en"

// Translator detects and translates text to English, memoising results by
// content hash for the lifetime of one run. It is not safe for concurrent use.
type Translator struct {
	gen      domain.Generator
	detector domain.LanguageDetector
	every    int
	run      *Run
	log      zerolog.Logger
	cache    map[string]string
}

func NewTranslator(gen domain.Generator, det domain.LanguageDetector, progressEvery int, run *Run) *Translator {
	return &Translator{
		gen:      gen,
		detector: det,
		every:    progressEvery,
		run:      run,
		log:      run.Stage("translate"),
		cache:    map[string]string{},
	}
}

// NeedsTranslation reports the detected language and whether text must be
// translated. Undetectable text is translated; English text never is.
func (t *Translator) NeedsTranslation(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	lang, ok := t.detector.Detect(text)
	if !ok {
		return "", true
	}
	return lang, lang != english
}

// Translate returns text in English. Failures fall back to the input.
func (t *Translator) Translate(ctx context.Context, text, sourceLang string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	key := contentKey(text)
	if v, ok := t.cache[key]; ok {
		t.run.TranslateHits++
		return v
	}

	out, err := t.gen.Generate(ctx, translatePrompt(text, sourceLang))
	t.run.LLMCalls++
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		t.run.TranslateFails++
		t.run.LLMFailures++
		t.log.Warn().Err(err).Str("lang", sourceLang).Int("chars", len(text)).Msg("translation failed, keeping original")
		return text
	}

	t.cache[key] = out
	t.run.Translations++
	if t.every > 0 && t.run.Translations%t.every == 0 {
		t.log.Info().Int("translations", t.run.Translations).Int("cache_hits", t.run.TranslateHits).Msg("translation progress")
	}
	return out
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func translatePrompt(text, lang string) string {
	from := lang
	if from == "" {
		from = "its original language"
	}
	return fmt.Sprintf("Translate the following text from %s to English. "+
		"Keep line breaks as they are. Return only the translated text, without quotes or explanations.\n\n%s", from, text)
}

// Standardizer writes an English derivative of every unified review that
// does not have one yet. Derived documents are never rewritten.
type Standardizer struct {
	Unified       domain.UnifiedStore
	Standardized  domain.StandardizedStore
	Gen           domain.Generator
	Detector      domain.LanguageDetector
	BatchSize     int
	ProgressEvery int
}

func (s *Standardizer) Run(ctx context.Context, run *Run, f domain.ReviewFilter) (Outcome, error) {
	log := run.Stage("standardize")
	out := newOutcome("standardize")

	ledger, err := LoadLedger(ctx, s.Standardized.StandardizedIDs)
	if err != nil {
		return *out, err
	}
	log.Info().Int("existing", ledger.Len()).Ints64("entities", f.EntityIDs).Msg("standardize started")

	tr := NewTranslator(s.Gen, s.Detector, s.ProgressEvery, run)
	w := NewBatchWriter(s.BatchSize, s.Standardized.InsertStandardized, out, log)

	err = s.Unified.ScanUnified(ctx, f, func(cr domain.CanonicalReview) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ledger.Claim(cr.ID) {
			out.record(ItemResult{ID: cr.ID, Skip: SkipDuplicate})
			return nil
		}
		sr := Standardize(ctx, tr, cr)
		if err := ctx.Err(); err != nil {
			// translations were cut short; leave the review for the next run
			return err
		}
		out.record(ItemResult{ID: cr.ID})
		w.Add(ctx, sr)
		return nil
	})
	w.Close(ctx)

	if err != nil {
		if ctx.Err() != nil {
			out.Cancelled = true
			log.Warn().Int64("written", out.Written).Msg("standardize interrupted")
			return *out, nil
		}
		return *out, fmt.Errorf("scan unified: %w", err)
	}
	log.Info().
		Int64("written", out.Written).
		Int("translations", run.Translations).
		Int("cache_hits", run.TranslateHits).
		Int("translation_failures", run.TranslateFails).
		Msg("standardize finished")
	return *out, nil
}

// Standardize produces the English derivative of one canonical review.
func Standardize(ctx context.Context, tr *Translator, cr domain.CanonicalReview) domain.StandardizedReview {
	sr := domain.StandardizedReview{
		CanonicalReview:  cr,
		OriginalTitle:    cr.Title,
		OriginalBody:     cr.Body,
		OriginalResponse: cr.OwnerResponse,
	}

	switch cr.Platform {
	case domain.PlatformTrustpilot:
		combined := cr.Body
		switch {
		case cr.Title != "" && cr.Body != "":
			combined = cr.Title + "\n" + cr.Body
		case cr.Title != "":
			combined = cr.Title
		}
		lang, need := tr.NeedsTranslation(combined)
		sr.DetectedLanguage = lang
		if need {
			sr.Title, sr.Body = splitTitleBody(tr.Translate(ctx, combined, lang), cr.Title, cr.Body)
		}
	default:
		lang, need := tr.NeedsTranslation(cr.Body)
		sr.DetectedLanguage = lang
		if need {
			sr.Body = tr.Translate(ctx, cr.Body, lang)
		}
	}

	if cr.OwnerResponse != "" {
		lang, need := tr.NeedsTranslation(cr.OwnerResponse)
		sr.ResponseLanguage = lang
		if need {
			sr.OwnerResponse = tr.Translate(ctx, cr.OwnerResponse, lang)
		}
	}

	sr.Translated = sr.Title != cr.Title || sr.Body != cr.Body || sr.OwnerResponse != cr.OwnerResponse
	return sr
}

// splitTitleBody splits translated "title\nbody" text at the first line
// break. Without an original title the whole text is the body, without a
// body it is the title; when the translation lost the separator the
// original title is kept.
func splitTitleBody(translated, title, body string) (string, string) {
	if title == "" {
		return "", translated
	}
	if body == "" {
		return translated, ""
	}
	if translated == title+"\n"+body {
		return title, body
	}
	t, b, ok := strings.Cut(translated, "\n")
	if !ok {
		return title, translated
	}
	return strings.TrimSpace(t), strings.TrimSpace(b)
}
