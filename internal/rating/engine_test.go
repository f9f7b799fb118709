package rating

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearinghouse/prediction-core/internal/clock"
	"github.com/clearinghouse/prediction-core/internal/eventbus"
	"github.com/clearinghouse/prediction-core/internal/model"
)

func newTestEngine() (*Engine, *eventbus.Bus, *clock.Fixed) {
	c := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := eventbus.New(zap.NewNop().Sugar(), c)
	return New(bus, c, zap.NewNop().Sugar(), DefaultSettings()), bus, c
}

func trade(market, buyer, seller string, outcome model.Outcome, price float64) model.Trade {
	return model.Trade{
		MarketID: market, BuyerID: buyer, SellerID: seller,
		Outcome: outcome, Price: model.PriceFromFloat(price), Quantity: 1,
	}
}

func settle(bus *eventbus.Bus, market string, outcome model.Outcome, payouts ...model.PayoutRecord) {
	bus.Publish("settlements.completed", map[string]any{
		"market": market, "outcome": outcome, "payouts": payouts,
	})
}

// TestBelowMinRatedYieldsNR is spec.md §8 scenario 6's setup: an agent with
// fewer than MIN_RATED (20) trades has no grade.
func TestBelowMinRatedYieldsNR(t *testing.T) {
	eng, bus, _ := newTestEngine()

	for i := 0; i < 19; i++ {
		bus.Publish("trades.executed", trade("m1", "A", "B", model.OutcomeYes, 0.60))
	}
	settle(bus, "m1", model.OutcomeYes,
		model.PayoutRecord{AgentID: "A", Amount: model.MoneyFromFloat(19), ProfitLoss: model.MoneyFromFloat(5)})

	r, err := eng.Rating("A")
	require.NoError(t, err)
	assert.Equal(t, model.GradeNR, r.Grade)
	assert.Equal(t, int64(19), r.TotalTrades)
}

// TestCrossingMinRatedProducesGradedRating covers the 20th trade crossing
// the NR threshold into a real grade (spec.md §8 scenario 6).
func TestCrossingMinRatedProducesGradedRating(t *testing.T) {
	eng, bus, _ := newTestEngine()

	for i := 0; i < 20; i++ {
		bus.Publish("trades.executed", trade("m1", "A", "B", model.OutcomeYes, 0.60))
	}
	settle(bus, "m1", model.OutcomeYes,
		model.PayoutRecord{AgentID: "A", Amount: model.MoneyFromFloat(20), ProfitLoss: model.MoneyFromFloat(8)})

	r, err := eng.Rating("A")
	require.NoError(t, err)
	assert.NotEqual(t, model.GradeNR, r.Grade)
	assert.Equal(t, int64(20), r.TotalTrades)
}

func TestUnknownAgentReturnsErrNotRated(t *testing.T) {
	eng, _, _ := newTestEngine()
	_, err := eng.Rating("ghost")
	assert.ErrorIs(t, err, ErrNotRated)
}

func TestGradeChangedEventFiresOnTransition(t *testing.T) {
	eng, bus, _ := newTestEngine()

	var events []map[string]any
	bus.Subscribe("ratings.grade_changed", func(_ string, payload any) {
		events = append(events, payload.(map[string]any))
	})

	for i := 0; i < 20; i++ {
		bus.Publish("trades.executed", trade("m1", "A", "B", model.OutcomeYes, 0.60))
	}
	settle(bus, "m1", model.OutcomeYes,
		model.PayoutRecord{AgentID: "A", Amount: model.MoneyFromFloat(20), ProfitLoss: model.MoneyFromFloat(8)})

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.GradeNR, last["previous_grade"])
	assert.Equal(t, "upgrade", last["change"])
	_ = eng
}

func TestCertifyRequiresFiftyTradesAndEligibleGrade(t *testing.T) {
	eng, bus, c := newTestEngine()

	for i := 0; i < 50; i++ {
		bus.Publish("trades.executed", trade("m1", "A", "B", model.OutcomeYes, 0.90))
	}
	settle(bus, "m1", model.OutcomeYes,
		model.PayoutRecord{AgentID: "A", Amount: model.MoneyFromFloat(50), ProfitLoss: model.MoneyFromFloat(40)})

	cert, err := eng.Certify("A")
	require.NoError(t, err)
	assert.Equal(t, "A", cert.AgentID)
	assert.Equal(t, c.Now().Add(90*24*time.Hour), cert.ExpiresAt)
}

func TestCertifyFailsBelowFiftyTrades(t *testing.T) {
	eng, bus, _ := newTestEngine()

	for i := 0; i < 20; i++ {
		bus.Publish("trades.executed", trade("m1", "A", "B", model.OutcomeYes, 0.90))
	}
	settle(bus, "m1", model.OutcomeYes,
		model.PayoutRecord{AgentID: "A", Amount: model.MoneyFromFloat(20), ProfitLoss: model.MoneyFromFloat(16)})

	_, err := eng.Certify("A")
	assert.ErrorIs(t, err, ErrNotCertifiable)
}

func TestMaxDrawdownOfMonotonicGainsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, maxDrawdown([]float64{1, 2, 3, 4}))
}

func TestMaxDrawdownDetectsPeakToTroughDecline(t *testing.T) {
	// cumulative: 10, 15, 5, 8 -> peak 15, trough 5 -> drawdown (15-5)/15
	dd := maxDrawdown([]float64{10, 5, -10, 3})
	assert.InDelta(t, 10.0/15.0, dd, 1e-9)
}
