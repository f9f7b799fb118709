package model

import "time"

// Agent is a registered trading participant. Agents are never destroyed;
// Status only moves monotonically toward AgentBanned (see AgentStatus).
type Agent struct {
	ID            string      `json:"id"`
	Status        AgentStatus `json:"status"`
	TotalTrades   int64       `json:"total_trades"`
	WinningTrades int64       `json:"winning_trades"`
	TotalPnl      Money       `json:"total_pnl"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Wallet holds exactly one agent's available and locked balances.
// Invariant (spec.md §4.2): Available >= 0, Locked >= 0, and
// Available+Locked equals the signed sum of that wallet's journal entries.
type Wallet struct {
	AgentID   string `json:"agent_id"`
	Available Money  `json:"available"`
	Locked    Money  `json:"locked"`
}

// JournalEntry is an append-only ledger record. The journal is the source
// of truth; Wallet balances are a materialised projection of it.
type JournalEntry struct {
	ID             int64       `json:"id"`
	AgentID        string      `json:"agent_id"`
	Kind           JournalKind `json:"kind"`
	Amount         Money       `json:"amount"`
	BalanceBefore  Money       `json:"balance_before"`
	BalanceAfter   Money       `json:"balance_after"`
	ReferenceID    string      `json:"reference_id"`
	CorrelationID  string      `json:"correlation_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ResolutionSchema is the declarative oracle query attached to a market,
// matching the wire format in spec.md §6.
type ResolutionSchema struct {
	Type       string            `json:"type"` // "http_json" | "graphql"
	SourceURL  string            `json:"source_url"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       map[string]any    `json:"body,omitempty"`
	Query      string            `json:"query,omitempty"`      // graphql only
	Variables  map[string]any    `json:"variables,omitempty"`  // graphql only
	JSONPath   string            `json:"json_path"`
	Condition  Condition         `json:"condition"`
	RetryCount int               `json:"retry_count,omitempty"`
	TimeoutMS  int               `json:"timeout_ms,omitempty"`
}

type ConditionOperator string

const (
	OpEq       ConditionOperator = "eq"
	OpNeq      ConditionOperator = "neq"
	OpGt       ConditionOperator = "gt"
	OpGte      ConditionOperator = "gte"
	OpLt       ConditionOperator = "lt"
	OpLte      ConditionOperator = "lte"
	OpContains ConditionOperator = "contains"
	OpExists   ConditionOperator = "exists"
)

type Condition struct {
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
}

// Market is a single binary-outcome contract.
type Market struct {
	ID           string           `json:"id"`
	Ticker       string           `json:"ticker"`
	Resolution   ResolutionSchema `json:"resolution_schema"`
	OpensAt      time.Time        `json:"opens_at"`
	ClosesAt     time.Time        `json:"closes_at"`
	ResolvesAt   time.Time        `json:"resolves_at"`
	Status       MarketStatus     `json:"status"`
	Outcome      Outcome          `json:"outcome"`
	FeeRate      float64          `json:"fee_rate"`
	MinOrderSize int64            `json:"min_order_size"`
	MaxPosition  int64            `json:"max_position"`
	Volume       int64            `json:"volume"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Tradable reports whether now falls in the market's open trading window
// and its status allows order placement (spec.md §4.4 invariant 1).
func (m *Market) Tradable(now time.Time) bool {
	if m.Status != MarketActive {
		return false
	}
	return !now.Before(m.OpensAt) && now.Before(m.ClosesAt)
}

// Order is a single resting or terminal order.
type Order struct {
	ID           string      `json:"id"`
	AgentID      string      `json:"agent_id"`
	MarketID     string      `json:"market_id"`
	Side         OrderSide   `json:"side"`
	Outcome      Outcome     `json:"outcome"`
	Type         OrderType   `json:"type"`
	Price        Price       `json:"price,omitempty"`
	Quantity     int64       `json:"quantity"`
	FilledQty    int64       `json:"filled_qty"`
	RemainingQty int64       `json:"remaining_qty"`
	LockedAmount Money       `json:"locked_amount"`
	Status       OrderStatus `json:"status"`
	ExpiresAt    *time.Time  `json:"expires_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Trade is an immutable fill record.
type Trade struct {
	ID          string    `json:"id"`
	MarketID    string    `json:"market_id"`
	BuyOrderID  string    `json:"buy_order"`
	SellOrderID string    `json:"sell_order"`
	BuyerID     string    `json:"buyer"`
	SellerID    string    `json:"seller"`
	Outcome     Outcome   `json:"outcome"`
	Price       Price     `json:"price"`
	Quantity    int64     `json:"quantity"`
	BuyerFee    Money     `json:"buyer_fee"`
	SellerFee   Money     `json:"seller_fee"`
	IsSettled   bool      `json:"is_settled"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Position is an agent's signed aggregate holding in one (market, outcome).
type Position struct {
	AgentID       string  `json:"agent"`
	MarketID      string  `json:"market"`
	Outcome       Outcome `json:"outcome"`
	Quantity      int64   `json:"quantity"`
	AvgEntryPrice Price   `json:"avg_entry_price"`
	TotalCost     Money   `json:"total_cost"`
	RealizedPnl   Money   `json:"realized_pnl"`
}

// PayoutRecord is one line of a settlements.completed event, per spec.md §4.6.
type PayoutRecord struct {
	AgentID         string `json:"agent"`
	Amount          Money  `json:"amount"`
	ProfitLoss      Money  `json:"profit_loss"`
	TruthScoreDelta float64 `json:"truth_score_delta"`
}
