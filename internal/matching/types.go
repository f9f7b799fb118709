package matching

import (
	"time"

	"github.com/clearinghouse/prediction-core/internal/model"
)

// PlaceOrderRequest is the input to MarketEngine.PlaceOrder.
type PlaceOrderRequest struct {
	AgentID   string
	MarketID  string
	Side      model.OrderSide
	Outcome   model.Outcome
	Type      model.OrderType
	Price     model.Price // ignored for market orders
	Quantity  int64
	ExpiresAt *time.Time
}

// PlaceOrderResult is the synchronous reply to a place-order command.
type PlaceOrderResult struct {
	Order  model.Order
	Trades []model.Trade
	Err    error
}

// MarketConfig carries the per-market parameters the engine needs that are
// not mutated by trading (fee rate, sizing limits, trading window).
type MarketConfig struct {
	ID           string
	FeeRate      float64
	MinOrderSize int64
	MaxPosition  int64
	OpensAt      time.Time
	ClosesAt     time.Time
}

// SettleFunc is the injected callback the engine calls once all open orders
// have been cancelled for a resolving market, mirroring
// raphalbongso-wager-marketplace's PublishFunc callback-injection pattern.
// It returns the payout records the settlement engine computed, or an error
// if the conservation invariant failed (in which case the caller halts the
// market).
type SettleFunc func(marketID string, positions []model.Position, outcome model.Outcome) ([]model.PayoutRecord, error)
