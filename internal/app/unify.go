package app

import (
	"context"
	"errors"
	"fmt"

	"review_pipeline/internal/domain"
)

// Unifier maps raw records of every platform into the unified collection.
// Records whose identity is already unified are skipped, so repeated runs
// over the same raw set write nothing new.
type Unifier struct {
	Raw       domain.RawStore
	Unified   domain.UnifiedStore
	BatchSize int
}

func (u *Unifier) Run(ctx context.Context, run *Run, f domain.ReviewFilter) (Outcome, error) {
	log := run.Stage("unify")
	out := newOutcome("unify")

	ledger, err := LoadLedger(ctx, u.Unified.UnifiedIDs)
	if err != nil {
		return *out, err
	}
	log.Info().Int("existing", ledger.Len()).Ints64("entities", f.EntityIDs).Msg("unify started")

	w := NewBatchWriter(u.BatchSize, u.Unified.InsertUnified, out, log)

	for _, p := range domain.Platforms {
		if f.Platform != "" && f.Platform != p {
			continue
		}
		added := 0
		err := u.Raw.ScanRaw(ctx, p, f.EntityIDs, func(env domain.RawEnvelope) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := DecodeRaw(env)
			if err != nil {
				out.record(ItemResult{Skip: SkipMalformed})
				log.Warn().Err(err).Int64("raw_id", env.ID).Msg("skip malformed raw record")
				return nil
			}
			cr := MapCanonical(rec)
			if !ledger.Claim(cr.ID) {
				out.record(ItemResult{ID: cr.ID, Skip: SkipDuplicate})
				return nil
			}
			out.record(ItemResult{ID: cr.ID})
			w.Add(ctx, cr)
			added++
			return nil
		})
		log.Info().Str("platform", string(p)).Int("new", added).Msg("platform scanned")
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				out.Cancelled = true
				w.Close(ctx)
				log.Warn().Int64("written", out.Written).Msg("unify interrupted")
				return *out, nil
			}
			w.Close(ctx)
			return *out, fmt.Errorf("scan raw %s: %w", p, err)
		}
	}
	w.Close(ctx)
	log.Info().Int64("written", out.Written).Int("skipped", out.TotalSkipped()).Msg("unify finished")
	return *out, nil
}
