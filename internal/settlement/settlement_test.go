package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearinghouse/prediction-core/internal/clock"
	"github.com/clearinghouse/prediction-core/internal/eventbus"
	"github.com/clearinghouse/prediction-core/internal/ledger"
	"github.com/clearinghouse/prediction-core/internal/matching"
	"github.com/clearinghouse/prediction-core/internal/model"
)

const testMarket = "m1"

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger) {
	t.Helper()
	c := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := ledger.New(zap.NewNop().Sugar(), c)
	bus := eventbus.New(zap.NewNop().Sugar(), c)
	_, err := l.CreateWallet(matching.EscrowWalletID(testMarket), model.Zero)
	require.NoError(t, err)
	_, err = l.CreateWallet(matching.FeeWalletID, model.Zero)
	require.NoError(t, err)
	return New(l, bus, zap.NewNop().Sugar()), l
}

// fundEscrow simulates the matching engine having already pooled collateral
// for a trade: buyer's price*qty plus seller's (1-price)*qty, summing to
// exactly $1 per share.
func fundEscrow(t *testing.T, l *ledger.Ledger, amount model.Money) {
	t.Helper()
	require.NoError(t, l.Deposit(matching.EscrowWalletID(testMarket), amount))
}

func TestSettleYesPositionReceivesFullPayout(t *testing.T) {
	eng, l := newTestEngine(t)
	fundEscrow(t, l, model.MoneyFromFloat(10.00)) // A's 6.00 + B's 4.00

	_, err := l.CreateWallet("A", model.Zero)
	require.NoError(t, err)
	_, err = l.CreateWallet("B", model.Zero)
	require.NoError(t, err)

	positions := []model.Position{
		{AgentID: "A", MarketID: testMarket, Outcome: model.OutcomeYes, Quantity: 10,
			AvgEntryPrice: model.PriceFromFloat(0.60), TotalCost: model.MoneyFromFloat(6.00)},
		{AgentID: "B", MarketID: testMarket, Outcome: model.OutcomeYes, Quantity: -10,
			AvgEntryPrice: model.PriceFromFloat(0.60), TotalCost: model.MoneyFromFloat(6.00)},
	}

	records, err := eng.Settle(testMarket, positions, model.OutcomeYes)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byAgent := map[string]model.PayoutRecord{}
	for _, r := range records {
		byAgent[r.AgentID] = r
	}

	assert.Equal(t, "10.00", byAgent["A"].Amount.String())
	assert.Equal(t, "4.00", byAgent["A"].ProfitLoss.String(), "A's realised PnL must be +4.00 (scenario 4)")

	assert.Equal(t, "0.00", byAgent["B"].Amount.String())
	assert.Equal(t, "-4.00", byAgent["B"].ProfitLoss.String(), "B forfeits (1-0.60)*10 = 4.00")

	walletA, err := l.GetWallet("A")
	require.NoError(t, err)
	assert.Equal(t, "10.00", walletA.Available.String())

	escrow, err := l.GetWallet(matching.EscrowWalletID(testMarket))
	require.NoError(t, err)
	assert.True(t, escrow.Available.IsZero(), "the pool must be fully drained when payouts exactly equal it")
}

func TestSettleSkipsZeroQuantityPositions(t *testing.T) {
	eng, l := newTestEngine(t)
	fundEscrow(t, l, model.MoneyFromFloat(10.00))
	_, err := l.CreateWallet("A", model.Zero)
	require.NoError(t, err)

	positions := []model.Position{
		{AgentID: "A", MarketID: testMarket, Outcome: model.OutcomeYes, Quantity: 0},
	}
	records, err := eng.Settle(testMarket, positions, model.OutcomeYes)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSettleFailsClosedWhenPayoutsExceedEscrow(t *testing.T) {
	eng, l := newTestEngine(t)
	fundEscrow(t, l, model.MoneyFromFloat(1.00)) // pool too small for the claim below
	_, err := l.CreateWallet("A", model.Zero)
	require.NoError(t, err)

	positions := []model.Position{
		{AgentID: "A", MarketID: testMarket, Outcome: model.OutcomeYes, Quantity: 10,
			AvgEntryPrice: model.PriceFromFloat(0.60), TotalCost: model.MoneyFromFloat(6.00)},
	}

	_, err = eng.Settle(testMarket, positions, model.OutcomeYes)
	assert.ErrorIs(t, err, ErrInvariantViolated)

	escrow, getErr := l.GetWallet(matching.EscrowWalletID(testMarket))
	require.NoError(t, getErr)
	assert.Equal(t, "1.00", escrow.Available.String(), "a rejected settlement must not touch the pool")
}

func TestSettlePublishesCompletionEvent(t *testing.T) {
	eng, l := newTestEngine(t)
	fundEscrow(t, l, model.MoneyFromFloat(10.00))
	_, err := l.CreateWallet("A", model.Zero)
	require.NoError(t, err)

	var received map[string]any
	eng.bus.Subscribe("settlements.completed", func(_ string, payload any) {
		received = payload.(map[string]any)
	})

	positions := []model.Position{
		{AgentID: "A", MarketID: testMarket, Outcome: model.OutcomeYes, Quantity: 10,
			AvgEntryPrice: model.PriceFromFloat(0.60), TotalCost: model.MoneyFromFloat(6.00)},
	}
	_, err = eng.Settle(testMarket, positions, model.OutcomeYes)
	require.NoError(t, err)

	require.NotNil(t, received)
	assert.Equal(t, testMarket, received["market"])
	assert.Equal(t, model.OutcomeYes, received["outcome"])
}

func TestNormalizeFlipsNegativePositionToComplementOutcome(t *testing.T) {
	pos := model.Position{
		Outcome: model.OutcomeYes, Quantity: -5,
		AvgEntryPrice: model.PriceFromFloat(0.70), TotalCost: model.MoneyFromFloat(3.50),
	}
	outcome, qty, cost := normalize(pos)
	assert.Equal(t, model.OutcomeNo, outcome)
	assert.Equal(t, int64(5), qty)
	assert.Equal(t, "1.50", cost.String(), "short YES @ 0.70 risks (1-0.70)*5 = 1.50 of its own collateral")
}
