package app

import (
	"context"
	"fmt"

	"review_pipeline/internal/domain"
)

// Ledger is the set of identities already present in a target collection,
// plus those claimed during the current run.
type Ledger struct {
	ids map[string]struct{}
}

// LoadLedger builds a ledger from fetch. A failed fetch is fatal for the
// stage: writing without the ledger would produce duplicates.
func LoadLedger(ctx context.Context, fetch func(context.Context) ([]string, error)) (*Ledger, error) {
	ids, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	l := &Ledger{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		l.ids[id] = struct{}{}
	}
	return l, nil
}

func (l *Ledger) Has(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Claim reports whether id was new, and records it.
func (l *Ledger) Claim(id string) bool {
	if l.Has(id) {
		return false
	}
	l.ids[id] = struct{}{}
	return true
}

func (l *Ledger) Len() int { return len(l.ids) }
