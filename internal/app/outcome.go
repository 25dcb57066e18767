package app

import (
	"fmt"
	"sort"
	"strings"

	"review_pipeline/internal/adapters/observability"
)

// SkipReason explains why an item did not reach the store.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipMalformed  SkipReason = "malformed"
	SkipDuplicate  SkipReason = "duplicate"
	SkipTooShort   SkipReason = "too_short"
	SkipExternal   SkipReason = "external_error"
	SkipOverBudget SkipReason = "over_budget"
	SkipNoValues   SkipReason = "no_valid_values"
	SkipStorage    SkipReason = "storage_error"
)

// ItemResult is the per-item result a stage records instead of unwinding.
type ItemResult struct {
	ID   string
	Skip SkipReason
}

// Outcome summarises one stage execution.
type Outcome struct {
	Stage         string
	Seen          int
	Written       int64
	Skipped       map[SkipReason]int
	FailedBatches int
	Cancelled     bool
}

func newOutcome(stage string) *Outcome {
	return &Outcome{Stage: stage, Skipped: map[SkipReason]int{}}
}

func (o *Outcome) record(r ItemResult) {
	o.Seen++
	if r.Skip != SkipNone {
		o.skip(r.Skip, 1)
	}
}

func (o *Outcome) skip(reason SkipReason, n int) {
	if n <= 0 {
		return
	}
	o.Skipped[reason] += n
	observability.ObserveItems(o.Stage, string(reason), n)
}

func (o *Outcome) wrote(n int64) {
	o.Written += n
	observability.ObserveItems(o.Stage, "written", int(n))
}

// TotalSkipped sums every skip reason.
func (o Outcome) TotalSkipped() int {
	n := 0
	for _, v := range o.Skipped {
		n += v
	}
	return n
}

func (o Outcome) String() string {
	reasons := make([]string, 0, len(o.Skipped))
	for k, v := range o.Skipped {
		reasons = append(reasons, fmt.Sprintf("%s=%d", k, v))
	}
	sort.Strings(reasons)
	s := fmt.Sprintf("%s: seen=%d written=%d skipped=%d", o.Stage, o.Seen, o.Written, o.TotalSkipped())
	if len(reasons) > 0 {
		s += " (" + strings.Join(reasons, " ") + ")"
	}
	if o.FailedBatches > 0 {
		s += fmt.Sprintf(" failed_batches=%d", o.FailedBatches)
	}
	if o.Cancelled {
		s += " [cancelled]"
	}
	return s
}
