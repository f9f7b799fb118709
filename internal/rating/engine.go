package rating

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/clearinghouse/prediction-core/internal/clock"
	"github.com/clearinghouse/prediction-core/internal/eventbus"
	"github.com/clearinghouse/prediction-core/internal/model"
)

// pendingTrade is one fill awaiting its market's resolution, kept so the
// Brier and win-rate components can be scored once the true outcome is
// known. Every trade names two agents (buyer and seller); the buyer is
// treated as forecasting the traded outcome will occur, the seller as
// forecasting it won't (spec.md §4.7 doesn't define this attribution
// explicitly — see DESIGN.md for the reasoning).
type pendingTrade struct {
	buyerID, sellerID string
	outcome           model.Outcome
	price             model.Price
}

// Engine subscribes to the event bus and maintains every agent's rolling
// rating, recomputed as trades settle.
type Engine struct {
	mu      sync.Mutex
	agents  map[string]*agentStats
	pending map[string][]pendingTrade // marketID -> fills awaiting resolution

	bus      *eventbus.Bus
	clock    clock.Clock
	logger   *zap.SugaredLogger
	settings Settings
}

// New constructs an Engine and subscribes it to trades.executed and
// settlements.completed. settings is normally sourced from
// config.RatingConfig; its zero-valued fields fall back to spec.md §4.7's
// defaults (see Settings.withDefaults).
func New(bus *eventbus.Bus, c clock.Clock, logger *zap.SugaredLogger, settings Settings) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if c == nil {
		c = clock.Real{}
	}
	e := &Engine{
		agents:   make(map[string]*agentStats),
		pending:  make(map[string][]pendingTrade),
		bus:      bus,
		clock:    c,
		logger:   logger,
		settings: settings.withDefaults(),
	}
	bus.Subscribe("trades.executed", e.onTrade)
	bus.Subscribe("settlements.completed", e.onSettlement)
	return e
}

func (e *Engine) onTrade(_ string, payload any) {
	trade, ok := payload.(model.Trade)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending[trade.MarketID] = append(e.pending[trade.MarketID], pendingTrade{
		buyerID: trade.BuyerID, sellerID: trade.SellerID,
		outcome: trade.Outcome, price: trade.Price,
	})

	e.statsFor(trade.BuyerID).totalTrades++
	e.statsFor(trade.SellerID).totalTrades++
}

func (e *Engine) onSettlement(_ string, payload any) {
	event, ok := payload.(map[string]any)
	if !ok {
		return
	}
	marketID, _ := event["market"].(string)
	outcome, _ := event["outcome"].(model.Outcome)
	payouts, _ := event["payouts"].([]model.PayoutRecord)

	e.mu.Lock()
	defer e.mu.Unlock()

	fills := e.pending[marketID]
	delete(e.pending, marketID)

	actual := 0.0
	if outcome == model.OutcomeYes {
		actual = 1.0
	}
	for _, f := range fills {
		forecast := impliedYesProbability(f.outcome, f.price)
		e.statsFor(f.buyerID).forecasts = append(e.statsFor(f.buyerID).forecasts, forecastOutcome{forecast, actual})
		e.statsFor(f.sellerID).forecasts = append(e.statsFor(f.sellerID).forecasts, forecastOutcome{1 - forecast, 1 - actual})

		if f.outcome == outcome {
			e.statsFor(f.buyerID).winningTrades++
		} else {
			e.statsFor(f.sellerID).winningTrades++
		}
	}

	for _, p := range payouts {
		stats := e.statsFor(p.AgentID)
		pnl, _ := p.ProfitLoss.Decimal().Float64()
		stats.pnlSeries = append(stats.pnlSeries, pnl)

		previous := stats.grade
		snapshot := stats.compute(p.AgentID, e.settings)
		stats.scoreHistory = append(stats.scoreHistory, snapshot.TruthScore)
		if len(stats.scoreHistory) > maxScoreHistory {
			stats.scoreHistory = append([]float64(nil), stats.scoreHistory[len(stats.scoreHistory)-maxScoreHistory:]...)
		}
		stats.grade = snapshot.Grade

		e.bus.Publish("ratings.updated", map[string]any{
			"agent":       p.AgentID,
			"truth_score": snapshot.TruthScore,
			"grade":       snapshot.Grade,
		})
		// agents.reputation_updated is spec.md §6's external-facing alias of
		// ratings.updated: same snapshot, published under the name a
		// transport adapter outside this core is expected to forward.
		e.bus.Publish("agents.reputation_updated", map[string]any{
			"agent":       p.AgentID,
			"truth_score": snapshot.TruthScore,
			"grade":       snapshot.Grade,
		})
		if previous != snapshot.Grade {
			change := "downgrade"
			if previous.Upgrade(snapshot.Grade) {
				change = "upgrade"
			}
			e.bus.Publish("ratings.grade_changed", map[string]any{
				"agent":          p.AgentID,
				"previous_grade": previous,
				"grade":          snapshot.Grade,
				"change":         change,
				"score_history":  append([]float64(nil), stats.scoreHistory...),
			})
		}
	}
}

// impliedYesProbability maps a trade's (outcome, price) to the probability
// of YES it priced in: a YES trade at p implies p; a NO trade at p implies
// 1-p (the same complement convention internal/matching and
// internal/settlement use for the opposite side of a market).
func impliedYesProbability(outcome model.Outcome, price model.Price) float64 {
	f := price.Float64()
	if outcome == model.OutcomeNo {
		return 1 - f
	}
	return f
}

// statsFor returns agentID's stats, creating them on first reference.
// Callers must hold e.mu.
func (e *Engine) statsFor(agentID string) *agentStats {
	s, ok := e.agents[agentID]
	if !ok {
		s = newAgentStats()
		e.agents[agentID] = s
	}
	return s
}

// Rating returns agentID's current composite rating.
func (e *Engine) Rating(agentID string) (Rating, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.agents[agentID]
	if !ok {
		return Rating{}, fmt.Errorf("rating: %s: %w", agentID, ErrNotRated)
	}
	return s.compute(agentID, e.settings), nil
}

// Certify issues a certificate for agentID if it meets spec.md §4.7's bar:
// total_trades >= Settings.CertifyMinTrades and grade in
// {AAA, AA, A, BBB, BB}, valid for Settings.CertificateValidity.
func (e *Engine) Certify(agentID string) (*Certificate, error) {
	e.mu.Lock()
	s, ok := e.agents[agentID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("rating: %s: %w", agentID, ErrNotRated)
	}

	r := s.compute(agentID, e.settings)
	if r.TotalTrades < int64(e.settings.CertifyMinTrades) || !certifiableGrades[r.Grade] {
		return nil, fmt.Errorf("rating: %s (trades=%d grade=%s): %w", agentID, r.TotalTrades, r.Grade, ErrNotCertifiable)
	}

	now := e.clock.Now()
	cert := &Certificate{
		AgentID:   agentID,
		Grade:     r.Grade,
		IssuedAt:  now,
		ExpiresAt: now.Add(e.settings.CertificateValidity),
	}
	e.bus.Publish("ratings.certified", map[string]any{
		"agent": agentID, "grade": r.Grade, "issued_at": now, "expires_at": cert.ExpiresAt,
	})
	return cert, nil
}
