// Package book implements the per-market order book from spec.md §4.3: two
// outcomes (YES, NO), each with two price-ordered sides (bids descending,
// asks ascending), each level a FIFO queue of resting orders, plus the
// zero-copy projection buffer external readers sample without locking.
//
// Grounded on raphalbongso-wager-marketplace's engine.OrderBook (same
// FIFO-per-level shape, the same BestBid/BestAsk/Snapshot operation set)
// with its sorted-[]int price index replaced by an emirpasic/gods treemap —
// the treemap dependency is grounded on TanishqAgarwal-OrderMatchingEngine's
// engine, which keeps bids/asks in the same structure for the same
// O(log L) insert/remove reason — plus a zero-copy buffer writer invoked
// after every mutation, which that order book has no equivalent of.
package book

import (
	"container/list"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"github.com/clearinghouse/prediction-core/internal/model"
)

var decimalTwo = decimal.New(2, 0)

// MaxLevels bounds the zero-copy buffer's per-side level capacity (spec.md §6).
const MaxLevels = 100

// RestingOrder is the book's view of one open or partially-filled order.
type RestingOrder struct {
	OrderID      string
	AgentID      string
	Price        model.Price
	RemainingQty int64
	CreatedAt    time.Time
}

// level is one price level's FIFO queue, backed by a doubly-linked list so
// Remove can splice a known element in O(1) once the level has been located.
type level struct {
	price model.Price
	queue *list.List // of *RestingOrder
}

func (lv *level) totalQty() int64 {
	var total int64
	for e := lv.queue.Front(); e != nil; e = e.Next() {
		total += e.Value.(*RestingOrder).RemainingQty
	}
	return total
}

type location struct {
	outcome model.Outcome
	side    model.OrderSide
	lvl     *level
	elem    *list.Element
}

type outcomeSides struct {
	bids *treemap.Map // model.Price -> *level, best = highest
	asks *treemap.Map // model.Price -> *level, best = lowest
}

func newOutcomeSides() *outcomeSides {
	return &outcomeSides{
		bids: treemap.NewWith(descendingPrice),
		asks: treemap.NewWith(ascendingPrice),
	}
}

func (s *outcomeSides) sideMap(side model.OrderSide) *treemap.Map {
	if side == model.SideBuy {
		return s.bids
	}
	return s.asks
}

func ascendingPrice(a, b interface{}) int  { return a.(model.Price).Cmp(b.(model.Price)) }
func descendingPrice(a, b interface{}) int { return -ascendingPrice(a, b) }

// LevelSummary is one row of a TopN/Snapshot read.
type LevelSummary struct {
	Price      model.Price
	TotalQty   int64
	OrderCount int
}

// Book is one market's order book across both outcomes.
type Book struct {
	mu      sync.RWMutex
	marketID string
	sides    map[model.Outcome]*outcomeSides
	index    map[string]*location // orderID -> location, O(1) remove

	buf *Buffer
}

// New constructs an empty book for marketID, including its zero-copy buffer.
func New(marketID string) *Book {
	return &Book{
		marketID: marketID,
		sides: map[model.Outcome]*outcomeSides{
			model.OutcomeYes: newOutcomeSides(),
			model.OutcomeNo:  newOutcomeSides(),
		},
		index: make(map[string]*location),
		buf:   NewBuffer(),
	}
}

// Buffer exposes the book's zero-copy projection for external readers.
func (b *Book) Buffer() *Buffer { return b.buf }

// Insert appends o to its (outcome, side) price level, creating the level if
// absent. Fails with ErrDuplicateOrder if the order id is already resting.
func (b *Book) Insert(outcome model.Outcome, side model.OrderSide, o RestingOrder, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.index[o.OrderID]; exists {
		return ErrDuplicateOrder
	}

	m := b.sides[outcome].sideMap(side)
	var lvl *level
	if v, found := m.Get(o.Price); found {
		lvl = v.(*level)
	} else {
		lvl = &level{price: o.Price, queue: list.New()}
		m.Put(o.Price, lvl)
	}
	copied := o
	elem := lvl.queue.PushBack(&copied)
	b.index[o.OrderID] = &location{outcome: outcome, side: side, lvl: lvl, elem: elem}

	b.writeLocked(outcome, side, now)
	return nil
}

// Remove splices orderID out of its level in O(1) once located, removing the
// level entirely if it becomes empty. Fails with ErrOrderNotFound otherwise.
func (b *Book) Remove(orderID string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(orderID, now)
}

func (b *Book) removeLocked(orderID string, now time.Time) error {
	loc, ok := b.index[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	delete(b.index, orderID)
	loc.lvl.queue.Remove(loc.elem)
	if loc.lvl.queue.Len() == 0 {
		b.sides[loc.outcome].sideMap(loc.side).Remove(loc.lvl.price)
	}
	b.writeLocked(loc.outcome, loc.side, now)
	return nil
}

// ApplyFill reduces orderID's remaining quantity by fillQty, removing it
// from the book if that brings it to zero. Returns the remaining quantity.
func (b *Book) ApplyFill(orderID string, fillQty int64, now time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	loc, ok := b.index[orderID]
	if !ok {
		return 0, ErrOrderNotFound
	}
	ro := loc.elem.Value.(*RestingOrder)
	ro.RemainingQty -= fillQty
	if ro.RemainingQty <= 0 {
		return 0, b.removeLocked(orderID, now)
	}
	b.writeLocked(loc.outcome, loc.side, now)
	return ro.RemainingQty, nil
}

// Head returns the earliest-priority resting order at the best level of
// (outcome, side), without removing it. Used by the matching engine to peek
// the maker before committing a fill.
func (b *Book) Head(outcome model.Outcome, side model.OrderSide) (RestingOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := b.sides[outcome].sideMap(side)
	if m.Size() == 0 {
		return RestingOrder{}, false
	}
	_, v := m.Min()
	lvl := v.(*level)
	return *lvl.queue.Front().Value.(*RestingOrder), true
}

// BestPrice returns the best price on (outcome, side), or false if empty.
func (b *Book) BestPrice(outcome model.Outcome, side model.OrderSide) (model.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := b.sides[outcome].sideMap(side)
	if m.Size() == 0 {
		return model.Price{}, false
	}
	k, _ := m.Min()
	return k.(model.Price), true
}

// Spread returns ask_best - bid_best, or false if either side is empty.
func (b *Book) Spread(outcome model.Outcome) (model.Price, bool) {
	bid, ok1 := b.BestPrice(outcome, model.SideBuy)
	ask, ok2 := b.BestPrice(outcome, model.SideSell)
	if !ok1 || !ok2 {
		return model.Price{}, false
	}
	return ask.Sub(bid), true
}

// MidPrice returns (bid_best + ask_best) / 2, or false if either side is empty.
func (b *Book) MidPrice(outcome model.Outcome) (model.Price, bool) {
	bid, ok1 := b.BestPrice(outcome, model.SideBuy)
	ask, ok2 := b.BestPrice(outcome, model.SideSell)
	if !ok1 || !ok2 {
		return model.Price{}, false
	}
	sum := bid.Add(ask)
	half := sum.Decimal().Div(decimalTwo)
	return model.NewPrice(half), true
}

// TopN returns up to n levels from (outcome, side), best first.
func (b *Book) TopN(outcome model.Outcome, side model.OrderSide, n int) []LevelSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := b.sides[outcome].sideMap(side)
	out := make([]LevelSummary, 0, n)
	it := m.Iterator()
	for it.Next() && len(out) < n {
		lvl := it.Value().(*level)
		out = append(out, LevelSummary{
			Price:      lvl.price,
			TotalQty:   lvl.totalQty(),
			OrderCount: lvl.queue.Len(),
		})
	}
	return out
}

// writeLocked refreshes the zero-copy buffer block for (outcome, side).
// Caller must hold b.mu (at least for read, since TopN below re-acquires
// RLock reentrantly is not safe — so this computes levels directly).
func (b *Book) writeLocked(outcome model.Outcome, side model.OrderSide, now time.Time) {
	m := b.sides[outcome].sideMap(side)
	levels := make([]LevelSummary, 0, MaxLevels)
	it := m.Iterator()
	for it.Next() && len(levels) < MaxLevels {
		lvl := it.Value().(*level)
		levels = append(levels, LevelSummary{
			Price:      lvl.price,
			TotalQty:   lvl.totalQty(),
			OrderCount: lvl.queue.Len(),
		})
	}
	b.buf.Write(outcome, side, levels, now)
}
