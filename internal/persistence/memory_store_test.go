package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearinghouse/prediction-core/internal/model"
)

func TestGetBalanceUnknownAgentReturnsErrNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateBalanceDeltaAccumulatesSeparately(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpdateBalanceDelta(ctx, "A", model.MoneyFromFloat(10), BalanceAvailable))
	require.NoError(t, s.UpdateBalanceDelta(ctx, "A", model.MoneyFromFloat(5), BalanceLocked))
	require.NoError(t, s.UpdateBalanceDelta(ctx, "A", model.MoneyFromFloat(-3), BalanceAvailable))

	w, err := s.GetBalance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "7.00", w.Available.String())
	assert.Equal(t, "5.00", w.Locked.String())
}

func TestGetPositionDefaultsToZeroValue(t *testing.T) {
	s := NewMemoryStore()
	pos, err := s.GetPosition(context.Background(), "A", "m1", model.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos.Quantity)
	assert.Equal(t, "A", pos.AgentID)
}

func TestUpsertAndGetMarketPositions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, model.Position{AgentID: "A", MarketID: "m1", Outcome: model.OutcomeYes, Quantity: 10}))
	require.NoError(t, s.UpsertPosition(ctx, model.Position{AgentID: "B", MarketID: "m1", Outcome: model.OutcomeYes, Quantity: -10}))
	require.NoError(t, s.UpsertPosition(ctx, model.Position{AgentID: "A", MarketID: "m2", Outcome: model.OutcomeNo, Quantity: 3}))

	positions, err := s.GetMarketPositions(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, positions, 2)
}

func TestRecordTradeAndJournalAppendOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RecordTrade(ctx, model.Trade{ID: "t1", MarketID: "m1"}))
	require.NoError(t, s.RecordJournal(ctx, model.JournalEntry{ID: 1, AgentID: "A"}))

	assert.Len(t, s.trades, 1)
	assert.Len(t, s.journal, 1)
}
