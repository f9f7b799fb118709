package settlement

import "errors"

var (
	// ErrInvariantViolated is returned when the conservation check in
	// spec.md §4.6 fails after payouts are computed but before they are
	// committed. A violation halts the market for manual inspection
	// rather than partially applying payouts.
	ErrInvariantViolated = errors.New("settlement: conservation invariant violated")
)
