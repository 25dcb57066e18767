package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConfig            = errors.New("invalid configuration")
	ErrLedgerUnavailable = errors.New("dedup ledger unavailable")
	ErrOverBudget        = errors.New("prompt exceeds token budget")
	ErrMalformedResponse = errors.New("malformed model response")
)
