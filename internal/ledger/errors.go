package ledger

import "errors"

// Error taxonomy per spec.md §7 "Resource" category.
var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidRelease    = errors.New("ledger: invalid release")
	ErrUnknownAgent      = errors.New("ledger: unknown agent")
	ErrInvariantViolated = errors.New("ledger: invariant violated")
)
