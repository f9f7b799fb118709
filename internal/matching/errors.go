package matching

import "errors"

// Error taxonomy per spec.md §7 "Validation"/"State" categories, scoped to
// the matching engine's own checks (ledger and book errors propagate as-is).
var (
	ErrMarketNotTradable     = errors.New("matching: market not tradable")
	ErrInvalidPrice          = errors.New("matching: invalid price")
	ErrInvalidQuantity       = errors.New("matching: invalid quantity")
	ErrPositionLimitExceeded = errors.New("matching: position limit exceeded")
	ErrAlreadyTerminal       = errors.New("matching: order already terminal")
	ErrUnknownMarket         = errors.New("matching: unknown market")
	ErrUnknownOrder          = errors.New("matching: unknown order")
	ErrMarketHalted          = errors.New("matching: market halted")
)
