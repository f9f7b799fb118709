// Package settlement implements the six-step resolution procedure from
// spec.md §4.6: pay winning positions out of the market's escrow pool and
// assert the conservation invariant before anything is committed. Losing
// positions are paid nothing; no separate forfeiture entry is journalled,
// since their collateral already sits in the escrow pool.
//
// Grounded on raphalbongso-wager-marketplace's resolveMarket (cancel open
// orders, iterate positions, credit winners, forfeit the losing side, one
// commit at the end) and on NevzatMmc-updown's resolveMarket/calculatePayout
// pattern,
// adapted from a pari-mutuel pool to the binary collateral model spec.md
// specifies. The engine is plugged into internal/matching as a
// matching.SettleFunc, so the dependency runs one way only: settlement
// imports matching for its escrow/fee wallet-id helpers, matching never
// imports settlement.
package settlement

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/clearinghouse/prediction-core/internal/eventbus"
	"github.com/clearinghouse/prediction-core/internal/ledger"
	"github.com/clearinghouse/prediction-core/internal/matching"
	"github.com/clearinghouse/prediction-core/internal/model"
)

// Engine settles resolved markets against the escrow ledger.
type Engine struct {
	ledger *ledger.Ledger
	bus    *eventbus.Bus
	logger *zap.SugaredLogger
}

func New(l *ledger.Ledger, bus *eventbus.Bus, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{ledger: l, bus: bus, logger: logger}
}

// Settle implements matching.SettleFunc. positions have already had their
// open orders cancelled by the caller (matching.MarketEngine.resolveMarket,
// spec.md §4.6 steps 1-2); this covers steps 3-6.
func (e *Engine) Settle(marketID string, positions []model.Position, outcome model.Outcome) ([]model.PayoutRecord, error) {
	escrowID := matching.EscrowWalletID(marketID)
	escrow, err := e.ledger.GetWallet(escrowID)
	if err != nil {
		return nil, fmt.Errorf("settlement: market %s: %w", marketID, err)
	}

	type payout struct {
		agentID    string
		amount     model.Money
		profitLoss model.Money
	}
	var payouts []payout
	total := model.Zero

	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		posOutcome, qty, costBasis := normalize(pos)

		var amount, profitLoss model.Money
		if posOutcome == outcome {
			amount = model.MoneyFromCents(100 * qty)
			profitLoss = amount.Sub(costBasis)
		} else {
			amount = model.Zero
			profitLoss = costBasis.Neg()
		}
		total = total.Add(amount)
		payouts = append(payouts, payout{agentID: pos.AgentID, amount: amount, profitLoss: profitLoss})
	}

	// Conservation invariant (spec.md §4.6): the pool never pays out more
	// than it holds. Exact equality only holds when no position in this
	// market was opened and fully closed before resolution — a closed
	// round-trip leaves its already-realized PnL (tracked in
	// Position.RealizedPnl, see internal/matching/positions.go) as an
	// uncashed residue in escrow, since this core settles only currently-
	// open positions at resolution, matching the step-3 "qty != 0" rule.
	// That residue is inert, never overdrawn, so it doesn't violate
	// solvency; only an overdraw is treated as fatal.
	if total.GreaterThan(escrow.Available) {
		e.logger.Errorw("settlement: conservation invariant violated",
			"market", marketID, "payouts", total.String(), "escrow", escrow.Available.String())
		return nil, fmt.Errorf("settlement: market %s payouts %s exceed escrow %s: %w",
			marketID, total, escrow.Available, ErrInvariantViolated)
	}

	if !total.IsZero() {
		if err := e.ledger.Withdraw(escrowID, total); err != nil {
			return nil, fmt.Errorf("settlement: market %s withdraw escrow: %w", marketID, err)
		}
	}

	records := make([]model.PayoutRecord, 0, len(payouts))
	for _, p := range payouts {
		if !p.amount.IsZero() {
			if err := e.ledger.CreditSettlement(p.agentID, p.amount, marketID); err != nil {
				return nil, fmt.Errorf("settlement: market %s credit %s: %w", marketID, p.agentID, err)
			}
		}
		records = append(records, model.PayoutRecord{
			AgentID:    p.agentID,
			Amount:     p.amount,
			ProfitLoss: p.profitLoss,
		})
	}

	e.bus.Publish("settlements.completed", map[string]any{
		"market":  marketID,
		"outcome": outcome,
		"payouts": records,
	})

	return records, nil
}

// normalize maps a possibly-negative position to the (outcome, positive
// quantity, cost basis) it represents economically: a net-short holding in
// one outcome is the same payoff as a net-long holding of the same size in
// the complementary outcome (spec.md §9's open question on sell-collateral
// semantics — resolved the same way here, via the (1-p) complement — is
// extended symmetrically to settlement).
func normalize(pos model.Position) (model.Outcome, int64, model.Money) {
	if pos.Quantity >= 0 {
		return pos.Outcome, pos.Quantity, pos.TotalCost
	}
	qty := -pos.Quantity
	costBasis := pos.AvgEntryPrice.Complement().MulQty(qty)
	return pos.Outcome.Opposite(), qty, costBasis
}
