package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearinghouse/prediction-core/internal/model"
)

func resting(id, agent string, price float64, qty int64, at time.Time) RestingOrder {
	return RestingOrder{OrderID: id, AgentID: agent, Price: model.PriceFromFloat(price), RemainingQty: qty, CreatedAt: at}
}

func TestInsertAndBestPrice(t *testing.T) {
	b := New("m1")
	now := time.Now()

	require.NoError(t, b.Insert(model.OutcomeYes, model.SideBuy, resting("b1", "u1", 0.40, 10, now), now))
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideBuy, resting("b2", "u1", 0.45, 5, now), now))
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a1", "u2", 0.55, 10, now), now))
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a2", "u2", 0.60, 5, now), now))

	bid, ok := b.BestPrice(model.OutcomeYes, model.SideBuy)
	require.True(t, ok)
	assert.Equal(t, "0.45", bid.String())

	ask, ok := b.BestPrice(model.OutcomeYes, model.SideSell)
	require.True(t, ok)
	assert.Equal(t, "0.55", ask.String())
}

func TestDuplicateInsertRejected(t *testing.T) {
	b := New("m1")
	now := time.Now()
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideBuy, resting("b1", "u1", 0.40, 10, now), now))
	err := b.Insert(model.OutcomeYes, model.SideBuy, resting("b1", "u1", 0.40, 10, now), now)
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestPriceTimePriorityWithinLevel(t *testing.T) {
	b := New("m1")
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a1", "u2", 0.50, 3, t1), t1))
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a2", "u2", 0.50, 3, t2), t2))

	head, ok := b.Head(model.OutcomeYes, model.SideSell)
	require.True(t, ok)
	assert.Equal(t, "a1", head.OrderID, "earlier created_at must be at the head of the level")
}

func TestTopNOrdersLevelsBestFirst(t *testing.T) {
	b := New("m1")
	now := time.Now()

	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a1", "u2", 0.50, 2, now), now))
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a2", "u2", 0.55, 3, now), now))
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a3", "u2", 0.60, 5, now), now))

	top := b.TopN(model.OutcomeYes, model.SideSell, 10)
	require.Len(t, top, 3)
	assert.Equal(t, "0.50", top[0].Price.String())
	assert.Equal(t, int64(2), top[0].TotalQty)
	assert.Equal(t, "0.60", top[2].Price.String())
}

func TestApplyFillPartialLeavesOrderResting(t *testing.T) {
	b := New("m1")
	now := time.Now()
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a1", "u2", 0.50, 5, now), now))

	remaining, err := b.ApplyFill("a1", 2, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), remaining)

	head, ok := b.Head(model.OutcomeYes, model.SideSell)
	require.True(t, ok)
	assert.Equal(t, int64(3), head.RemainingQty)
}

func TestApplyFillFullRemovesOrderAndEmptyLevel(t *testing.T) {
	b := New("m1")
	now := time.Now()
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a1", "u2", 0.50, 5, now), now))

	remaining, err := b.ApplyFill("a1", 5, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	_, ok := b.BestPrice(model.OutcomeYes, model.SideSell)
	assert.False(t, ok, "level must be removed once its last order fills")
}

func TestRemoveUnknownOrderFails(t *testing.T) {
	b := New("m1")
	err := b.Remove("ghost", time.Now())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSpreadAndMidPrice(t *testing.T) {
	b := New("m1")
	now := time.Now()
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideBuy, resting("b1", "u1", 0.40, 10, now), now))
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideSell, resting("a1", "u2", 0.60, 10, now), now))

	spread, ok := b.Spread(model.OutcomeYes)
	require.True(t, ok)
	assert.Equal(t, "0.20", spread.String())

	mid, ok := b.MidPrice(model.OutcomeYes)
	require.True(t, ok)
	assert.Equal(t, "0.50", mid.String())
}

func TestOutcomesAreIndependent(t *testing.T) {
	b := New("m1")
	now := time.Now()
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideBuy, resting("y1", "u1", 0.40, 10, now), now))
	require.NoError(t, b.Insert(model.OutcomeNo, model.SideBuy, resting("n1", "u1", 0.30, 10, now), now))

	_, okYes := b.BestPrice(model.OutcomeNo, model.SideSell)
	assert.False(t, okYes)

	bid, ok := b.BestPrice(model.OutcomeNo, model.SideBuy)
	require.True(t, ok)
	assert.Equal(t, "0.30", bid.String())
}

func TestZeroCopyBufferReflectsInsertsAndIsTimestamped(t *testing.T) {
	b := New("m1")
	now := time.Now()
	require.NoError(t, b.Insert(model.OutcomeYes, model.SideBuy, resting("b1", "u1", 0.40, 10, now), now))

	snap := b.Buffer().Read(model.OutcomeYes, model.SideBuy)
	assert.Equal(t, 1, snap.LevelCount)
	assert.InDelta(t, 0.40, snap.BestPrice, 0.0001)
	assert.InDelta(t, 10, snap.TotalQty, 0.0001)
	assert.Equal(t, now.UnixNano(), snap.LastUpdateTS)
	assert.False(t, snap.Stale)
}

func TestZeroCopyBufferEmptyLevelHasZeroQty(t *testing.T) {
	buf := NewBuffer()
	snap := buf.Read(model.OutcomeYes, model.SideBuy)
	assert.Equal(t, 0, snap.LevelCount)
	assert.Equal(t, [2]float64{0, 0}, snap.Levels[0])
}

func TestBufferLayoutSizeMatchesFourBlocks(t *testing.T) {
	assert.Equal(t, numBlocks*blockBytes, BufferBytesPerMarket)
	assert.Equal(t, (4*8)+(MaxLevels*16), blockBytes)
}
