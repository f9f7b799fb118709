package matching

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clearinghouse/prediction-core/internal/book"
	"github.com/clearinghouse/prediction-core/internal/clock"
	"github.com/clearinghouse/prediction-core/internal/eventbus"
	"github.com/clearinghouse/prediction-core/internal/idgen"
	"github.com/clearinghouse/prediction-core/internal/ledger"
	"github.com/clearinghouse/prediction-core/internal/model"
)

// defaultExpirySweepInterval is the default period for the cooperative
// expiry sweep (spec.md §4.4 "Expiry sweep"), used when Settings.
// ExpirySweepInterval is left at its zero value.
const defaultExpirySweepInterval = time.Second

// defaultCommandChannelBuffer is cmdCh's default buffer depth, used when
// Settings.CommandChannelBuffer is left at its zero value.
const defaultCommandChannelBuffer = 256

// MarketEngine owns one market's book, open orders, and positions. All
// mutation happens on the single goroutine run() spins up; callers only
// ever talk to it through the command channel.
type MarketEngine struct {
	cfg      MarketConfig
	status   model.MarketStatus
	outcome  model.Outcome
	settings Settings

	book      *book.Book
	orders    map[string]*model.Order
	positions map[string]*model.Position // key: agentID + "|" + outcome

	seq int64

	cmdCh  chan command
	stopCh chan struct{}

	ledger *ledger.Ledger
	bus    *eventbus.Bus
	clock  clock.Clock
	ids    idgen.Generator
	logger *zap.SugaredLogger
	settle SettleFunc
}

func newMarketEngine(cfg MarketConfig, l *ledger.Ledger, bus *eventbus.Bus, c clock.Clock, ids idgen.Generator, logger *zap.SugaredLogger, settle SettleFunc, settings Settings) *MarketEngine {
	settings = settings.withDefaults()
	return &MarketEngine{
		cfg:       cfg,
		status:    model.MarketActive,
		settings:  settings,
		book:      book.New(cfg.ID),
		orders:    make(map[string]*model.Order),
		positions: make(map[string]*model.Position),
		cmdCh:     make(chan command, settings.CommandChannelBuffer),
		stopCh:    make(chan struct{}),
		ledger:    l,
		bus:       bus,
		clock:     c,
		ids:       ids,
		logger:    logger,
		settle:    settle,
	}
}

func (e *MarketEngine) run() {
	ticker := time.NewTicker(e.settings.ExpirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		case <-ticker.C:
			e.sweepExpired(e.clock.Now())
		}
	}
}

func (e *MarketEngine) nextSeq() int64 {
	e.seq++
	return e.seq
}

func (e *MarketEngine) positionKey(agentID string, outcome model.Outcome) string {
	return agentID + "|" + string(outcome)
}

func (e *MarketEngine) positionFor(agentID string, outcome model.Outcome) *model.Position {
	key := e.positionKey(agentID, outcome)
	pos, ok := e.positions[key]
	if !ok {
		pos = &model.Position{AgentID: agentID, MarketID: e.cfg.ID, Outcome: outcome}
		e.positions[key] = pos
	}
	return pos
}

func (e *MarketEngine) netPositionAfter(agentID string, outcome model.Outcome, side model.OrderSide, qty int64) int64 {
	delta := qty
	if side == model.SideSell {
		delta = -qty
	}
	current := int64(0)
	if pos, ok := e.positions[e.positionKey(agentID, outcome)]; ok {
		current = pos.Quantity
	}
	return absInt64(current + delta)
}

// ── Commands ─────────────────────────────────────────

type command interface{ exec(e *MarketEngine) }

type placeCmd struct {
	req PlaceOrderRequest
	ch  chan<- PlaceOrderResult
}

type cancelCmd struct {
	orderID string
	agentID string
	ch      chan<- error
}

type haltCmd struct{ ch chan<- error }
type resumeCmd struct{ ch chan<- error }

type resolveCmd struct {
	outcome model.Outcome
	ch      chan<- error
}

// sweepNowCmd forces an out-of-band expiry sweep, serialized on cmdCh like
// every other mutation. Used by tests to avoid waiting on the ticker.
type sweepNowCmd struct{ ch chan<- int }

func (c placeCmd) exec(e *MarketEngine)  { c.ch <- e.placeOrder(c.req) }
func (c cancelCmd) exec(e *MarketEngine) { c.ch <- e.cancelOrder(c.orderID, c.agentID) }
func (c haltCmd) exec(e *MarketEngine)   { c.ch <- e.halt() }
func (c resumeCmd) exec(e *MarketEngine) { c.ch <- e.resume() }
func (c resolveCmd) exec(e *MarketEngine) {
	_, err := e.resolveMarket(c.outcome)
	c.ch <- err
}

func (c sweepNowCmd) exec(e *MarketEngine) { c.ch <- e.sweepExpired(e.clock.Now()) }

// PlaceOrder submits req to the market's goroutine and waits for the result.
func (e *MarketEngine) PlaceOrder(req PlaceOrderRequest) PlaceOrderResult {
	ch := make(chan PlaceOrderResult, 1)
	e.cmdCh <- placeCmd{req: req, ch: ch}
	return <-ch
}

// CancelOrder submits a cancel command and waits for the result.
func (e *MarketEngine) CancelOrder(orderID, agentID string) error {
	ch := make(chan error, 1)
	e.cmdCh <- cancelCmd{orderID: orderID, agentID: agentID, ch: ch}
	return <-ch
}

// Halt freezes PlaceOrder; CancelOrder remains allowed (spec.md §4.4).
func (e *MarketEngine) Halt() error {
	ch := make(chan error, 1)
	e.cmdCh <- haltCmd{ch: ch}
	return <-ch
}

func (e *MarketEngine) Resume() error {
	ch := make(chan error, 1)
	e.cmdCh <- resumeCmd{ch: ch}
	return <-ch
}

// Resolve submits a resolve command and waits for the result.
func (e *MarketEngine) Resolve(outcome model.Outcome) error {
	ch := make(chan error, 1)
	e.cmdCh <- resolveCmd{outcome: outcome, ch: ch}
	return <-ch
}

func (e *MarketEngine) halt() error {
	if e.status != model.MarketActive {
		return fmt.Errorf("matching: halt from status %s: %w", e.status, ErrMarketNotTradable)
	}
	e.status = model.MarketHalted
	e.bus.Publish("markets.halted", map[string]any{"market": e.cfg.ID})
	return nil
}

func (e *MarketEngine) resume() error {
	if e.status != model.MarketHalted {
		return fmt.Errorf("matching: resume from status %s: %w", e.status, ErrMarketNotTradable)
	}
	e.status = model.MarketActive
	e.bus.Publish("markets.active", map[string]any{"market": e.cfg.ID})
	return nil
}

// ── Place order ──────────────────────────────────────

func (e *MarketEngine) placeOrder(req PlaceOrderRequest) PlaceOrderResult {
	now := e.clock.Now()
	reject := func(err error) PlaceOrderResult {
		e.bus.Publish("orders.rejected", map[string]any{"agent": req.AgentID, "market": req.MarketID, "reason": err.Error()})
		return PlaceOrderResult{Err: err}
	}

	if e.status == model.MarketHalted {
		return reject(ErrMarketHalted)
	}
	if e.status != model.MarketActive || now.Before(e.cfg.OpensAt) || !now.Before(e.cfg.ClosesAt) {
		return reject(ErrMarketNotTradable)
	}
	if req.Quantity < e.cfg.MinOrderSize {
		return reject(fmt.Errorf("matching: qty %d below minimum %d: %w", req.Quantity, e.cfg.MinOrderSize, ErrInvalidQuantity))
	}
	if net := e.netPositionAfter(req.AgentID, req.Outcome, req.Side, req.Quantity); e.cfg.MaxPosition > 0 && net > e.cfg.MaxPosition {
		return reject(ErrPositionLimitExceeded)
	}
	if req.Type == model.TypeLimit && !req.Price.InBounds() {
		return reject(ErrInvalidPrice)
	}

	orderID := e.ids.NewID()
	lockNeeded := model.CalcLock(req.Side, req.Type, req.Price, req.Quantity, e.cfg.FeeRate)
	if err := e.ledger.Lock(req.AgentID, lockNeeded, orderID); err != nil {
		return reject(err)
	}

	order := &model.Order{
		ID: orderID, AgentID: req.AgentID, MarketID: req.MarketID,
		Side: req.Side, Outcome: req.Outcome, Type: req.Type, Price: req.Price,
		Quantity: req.Quantity, RemainingQty: req.Quantity,
		LockedAmount: lockNeeded, Status: model.StatusPending,
		ExpiresAt: req.ExpiresAt, CreatedAt: now, UpdatedAt: now,
	}
	e.orders[orderID] = order
	e.bus.Publish("orders.created", map[string]any{"order": orderID, "agent": req.AgentID, "market": req.MarketID})

	trades := e.match(order)

	filled := req.Quantity - order.RemainingQty
	consumed := aggressorConsumed(order, trades)

	switch {
	case order.RemainingQty == 0:
		order.Status = model.StatusFilled
		e.bus.Publish("orders.filled", map[string]any{"order": orderID, "agent": req.AgentID, "market": req.MarketID})
	case filled > 0 && req.Type == model.TypeLimit:
		order.Status = model.StatusPartial
	case filled > 0 && req.Type == model.TypeMarket:
		order.Status = model.StatusFilled
		e.bus.Publish("orders.filled", map[string]any{"order": orderID, "agent": req.AgentID, "market": req.MarketID})
	case req.Type == model.TypeLimit:
		order.Status = model.StatusOpen
	default:
		order.Status = model.StatusRejected
		e.bus.Publish("orders.rejected_partial", map[string]any{"order": orderID})
	}

	if order.RemainingQty > 0 && req.Type == model.TypeLimit {
		restingLock := model.CalcLock(req.Side, model.TypeLimit, req.Price, order.RemainingQty, e.cfg.FeeRate)
		release := lockNeeded.Sub(consumed).Sub(restingLock)
		if release.IsPositive() {
			_ = e.ledger.Release(req.AgentID, release, orderID)
		}
		order.LockedAmount = restingLock
		_ = e.book.Insert(order.Outcome, order.Side, book.RestingOrder{
			OrderID: orderID, AgentID: req.AgentID, Price: req.Price,
			RemainingQty: order.RemainingQty, CreatedAt: now,
		}, now)
	} else {
		// Fully filled, or a market order's unfillable residual: release
		// whatever remains locked beyond what fills actually consumed.
		release := lockNeeded.Sub(consumed)
		if release.IsPositive() {
			_ = e.ledger.Release(req.AgentID, release, orderID)
		}
		order.LockedAmount = model.Zero
		order.RemainingQty = 0
	}
	order.FilledQty = filled
	order.UpdatedAt = now

	return PlaceOrderResult{Order: *order, Trades: trades}
}

// match crosses the aggressor order against the opposing book, updating
// positions, ledger balances, and order bookkeeping for every fill produced.
// Implements the price-time priority algorithm in spec.md §4.4.
func (e *MarketEngine) match(aggressor *model.Order) []model.Trade {
	var trades []model.Trade
	opposing := aggressor.Side.Opposite()

	for aggressor.RemainingQty > 0 {
		head, ok := e.book.Head(aggressor.Outcome, opposing)
		if !ok {
			break
		}
		if aggressor.Type == model.TypeLimit && !crosses(aggressor.Side, aggressor.Price, head.Price) {
			break
		}

		fillQty := minInt64(aggressor.RemainingQty, head.RemainingQty)
		execPrice := head.Price

		var buyerID, sellerID string
		if aggressor.Side == model.SideBuy {
			buyerID, sellerID = aggressor.AgentID, head.AgentID
		} else {
			buyerID, sellerID = head.AgentID, aggressor.AgentID
		}

		trade := e.settleFill(aggressor, head, buyerID, sellerID, execPrice, fillQty)
		trades = append(trades, trade)

		aggressor.RemainingQty -= fillQty
		maker := e.orders[head.OrderID]
		if maker != nil {
			maker.FilledQty += fillQty
			maker.RemainingQty -= fillQty
			maker.UpdatedAt = e.clock.Now()
			if maker.RemainingQty == 0 {
				maker.Status = model.StatusFilled
				maker.LockedAmount = model.Zero
				e.bus.Publish("orders.filled", map[string]any{"order": maker.ID, "agent": maker.AgentID, "market": maker.MarketID})
			} else {
				maker.Status = model.StatusPartial
				unitRate := model.CalcLock(maker.Side, model.TypeLimit, maker.Price, 1, e.cfg.FeeRate)
				maker.LockedAmount = unitRate.Mul(decimal.New(maker.RemainingQty, 0))
			}
		}

		if _, err := e.book.ApplyFill(head.OrderID, fillQty, e.clock.Now()); err != nil {
			e.logger.Errorw("matching: ApplyFill failed", "order", head.OrderID, "error", err)
		}

		e.bus.Publish("trades.executed", trade)
	}
	return trades
}

// aggressorConsumed sums the collateral actually debited from the
// aggressor's locked balance across its fills: notional at the executed
// price plus its fee, which can be less than its own order price implied
// if it received price improvement from the maker (spec.md §4.4 step e).
func aggressorConsumed(aggressor *model.Order, trades []model.Trade) model.Money {
	total := model.Zero
	for _, t := range trades {
		if aggressor.Side == model.SideBuy {
			total = total.Add(t.Price.MulQty(t.Quantity)).Add(t.BuyerFee)
		} else {
			total = total.Add(t.Price.Complement().MulQty(t.Quantity)).Add(t.SellerFee)
		}
	}
	return total
}

// crosses reports whether a resting order at makerPrice would cross an
// aggressor limit order on side at takerPrice.
func crosses(side model.OrderSide, takerPrice, makerPrice model.Price) bool {
	if side == model.SideBuy {
		return !makerPrice.GreaterThan(takerPrice)
	}
	return !makerPrice.LessThan(takerPrice)
}

// settleFill moves collateral for one fill into the market's escrow bucket
// (spec.md §4.4 step e), moves fees into the platform fee wallet, updates
// both sides' positions, and returns the resulting Trade.
func (e *MarketEngine) settleFill(aggressor *model.Order, maker book.RestingOrder, buyerID, sellerID string, execPrice model.Price, qty int64) model.Trade {
	tradeID := e.ids.NewID()
	escrow := EscrowWalletID(e.cfg.ID)

	buyerFee := model.BuyerFee(execPrice, qty, e.cfg.FeeRate)
	sellerFee := model.SellerFee(execPrice, qty, e.cfg.FeeRate)
	buyerNotional := execPrice.MulQty(qty)
	sellerNotional := execPrice.Complement().MulQty(qty)

	if err := e.ledger.TransferLocked(buyerID, escrow, buyerNotional, tradeID, tradeID); err != nil {
		e.logger.Errorw("matching: buyer notional transfer failed", "trade", tradeID, "error", err)
	}
	if !buyerFee.IsZero() {
		if err := e.ledger.TransferLocked(buyerID, e.settings.FeeWalletID, buyerFee, tradeID, tradeID+"-buyer-fee"); err != nil {
			e.logger.Errorw("matching: buyer fee transfer failed", "trade", tradeID, "error", err)
		}
	}
	if err := e.ledger.TransferLocked(sellerID, escrow, sellerNotional, tradeID, tradeID); err != nil {
		e.logger.Errorw("matching: seller notional transfer failed", "trade", tradeID, "error", err)
	}
	if !sellerFee.IsZero() {
		if err := e.ledger.TransferLocked(sellerID, e.settings.FeeWalletID, sellerFee, tradeID, tradeID+"-seller-fee"); err != nil {
			e.logger.Errorw("matching: seller fee transfer failed", "trade", tradeID, "error", err)
		}
	}

	buyerSide, sellerSide := model.SideBuy, model.SideSell
	applyFillToPosition(e.positionFor(buyerID, aggressor.Outcome), buyerSide, execPrice, qty)
	applyFillToPosition(e.positionFor(sellerID, aggressor.Outcome), sellerSide, execPrice, qty)

	buyOrderID, sellOrderID := aggressor.ID, maker.OrderID
	if aggressor.Side == model.SideSell {
		buyOrderID, sellOrderID = maker.OrderID, aggressor.ID
	}

	return model.Trade{
		ID: tradeID, MarketID: e.cfg.ID, BuyOrderID: buyOrderID, SellOrderID: sellOrderID,
		BuyerID: buyerID, SellerID: sellerID, Outcome: aggressor.Outcome,
		Price: execPrice, Quantity: qty, BuyerFee: buyerFee, SellerFee: sellerFee,
		ExecutedAt: e.clock.Now(),
	}
}

// ── Cancel ───────────────────────────────────────────

func (e *MarketEngine) cancelOrder(orderID, agentID string) error {
	order, ok := e.orders[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	if order.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if err := e.book.Remove(orderID, e.clock.Now()); err != nil && err != book.ErrOrderNotFound {
		return err
	}
	if !order.LockedAmount.IsZero() {
		_ = e.ledger.Release(order.AgentID, order.LockedAmount, orderID)
	}
	order.Status = model.StatusCancelled
	order.RemainingQty = 0
	order.LockedAmount = model.Zero
	order.UpdatedAt = e.clock.Now()
	e.bus.Publish("orders.cancelled", map[string]any{"order": orderID, "agent": agentID})
	return nil
}

// sweepExpired cancels every open/partial order whose ExpiresAt has passed.
func (e *MarketEngine) sweepExpired(now time.Time) int {
	count := 0
	for id, order := range e.orders {
		if order.Status.Terminal() || order.ExpiresAt == nil {
			continue
		}
		if !order.ExpiresAt.After(now) {
			if err := e.cancelOrder(id, order.AgentID); err == nil {
				order.Status = model.StatusExpired
				count++
			}
		}
	}
	return count
}

// ── Resolution ───────────────────────────────────────

// resolveMarket cancels all open orders, hands the market's positions to
// the injected settlement callback, and transitions status to settled (or
// halted if settlement reports a conservation failure). Spec.md §4.6 steps
// 1-2 (cancel + transition) live here; steps 3-6 live in internal/settlement.
func (e *MarketEngine) resolveMarket(outcome model.Outcome) ([]model.PayoutRecord, error) {
	if e.status == model.MarketSettled {
		return nil, ErrAlreadyTerminal
	}
	e.status = model.MarketResolving
	e.bus.Publish("markets.resolving", map[string]any{"market": e.cfg.ID})

	for id, order := range e.orders {
		if !order.Status.Terminal() {
			_ = e.cancelOrder(id, order.AgentID)
		}
	}

	positions := make([]model.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		if pos.Quantity != 0 {
			positions = append(positions, *pos)
		}
	}

	payouts, err := e.settle(e.cfg.ID, positions, outcome)
	if err != nil {
		e.status = model.MarketHalted
		return nil, err
	}

	e.positions = make(map[string]*model.Position)
	e.status = model.MarketSettled
	e.outcome = outcome
	e.bus.Publish("markets.resolved", map[string]any{"market": e.cfg.ID, "outcome": outcome})
	return payouts, nil
}

// Status returns the market's current status (for read-only external callers).
func (e *MarketEngine) Status() model.MarketStatus { return e.status }

// Book exposes the read-only book handle (for zero-copy external reads).
func (e *MarketEngine) Book() *book.Book { return e.book }

// Positions returns a snapshot of all non-zero positions.
func (e *MarketEngine) Positions() []model.Position {
	out := make([]model.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		if pos.Quantity != 0 {
			out = append(out, *pos)
		}
	}
	return out
}
