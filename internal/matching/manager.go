// Package matching implements the order book & matching engine core from
// spec.md §4.4: one command-serialized goroutine per market, price-time
// priority crossing, the binary collateral rule, halt/resume, and a
// periodic expiry sweep.
//
// Directly generalizes raphalbongso-wager-marketplace's engine.Manager /
// engine.MarketEngine / command interface: place/cancel/resolve survive
// unchanged in shape, and halt/resume/expire-sweep are new commands added
// to the same channel, grounded on the same single-writer-per-market
// concurrency that package already uses to serialize mutations.
package matching

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clearinghouse/prediction-core/internal/book"
	"github.com/clearinghouse/prediction-core/internal/clock"
	"github.com/clearinghouse/prediction-core/internal/eventbus"
	"github.com/clearinghouse/prediction-core/internal/idgen"
	"github.com/clearinghouse/prediction-core/internal/ledger"
	"github.com/clearinghouse/prediction-core/internal/model"
)

// FeeWalletID is the ledger wallet every trade's fees accrue into when no
// operator override is configured (config.LedgerConfig.FeeWalletID).
const FeeWalletID = "platform-fees"

// EscrowWalletID returns the per-market pooled-collateral wallet id: the
// "pending payout bucket" spec.md §4.4 step e describes, holding exactly
// $1 per open share until settlement redistributes it.
func EscrowWalletID(marketID string) string { return "market-escrow:" + marketID }

// Settings holds the operator-tunable parameters the manager and every
// MarketEngine it starts need, normally sourced from config.MarketConfig
// and config.LedgerConfig. The zero value falls back to DefaultSettings'
// values field by field (see withDefaults).
type Settings struct {
	FeeWalletID          string
	ExpirySweepInterval  time.Duration
	CommandChannelBuffer int

	// DefaultFeeRate, DefaultMinOrderSize, and DefaultMaxPosition backfill
	// any MarketConfig passed to StartMarket that leaves those fields at
	// their zero value, so an operator can retune new-market defaults
	// without every caller repeating them.
	DefaultFeeRate      float64
	DefaultMinOrderSize int64
	DefaultMaxPosition  int64
}

// DefaultSettings mirrors the defaults spec.md §4.4 names.
func DefaultSettings() Settings {
	return Settings{
		FeeWalletID:          FeeWalletID,
		ExpirySweepInterval:  defaultExpirySweepInterval,
		CommandChannelBuffer: defaultCommandChannelBuffer,
		DefaultFeeRate:       0.02,
		DefaultMinOrderSize:  1,
		DefaultMaxPosition:   1_000_000,
	}
}

func (s Settings) withDefaults() Settings {
	if s.FeeWalletID == "" {
		s.FeeWalletID = FeeWalletID
	}
	if s.ExpirySweepInterval <= 0 {
		s.ExpirySweepInterval = defaultExpirySweepInterval
	}
	if s.CommandChannelBuffer <= 0 {
		s.CommandChannelBuffer = defaultCommandChannelBuffer
	}
	if s.DefaultFeeRate <= 0 {
		s.DefaultFeeRate = 0.02
	}
	if s.DefaultMinOrderSize <= 0 {
		s.DefaultMinOrderSize = 1
	}
	if s.DefaultMaxPosition <= 0 {
		s.DefaultMaxPosition = 1_000_000
	}
	return s
}

// Manager owns one MarketEngine per active market.
type Manager struct {
	mu      sync.RWMutex
	engines map[string]*MarketEngine

	ledger   *ledger.Ledger
	bus      *eventbus.Bus
	clock    clock.Clock
	ids      idgen.Generator
	logger   *zap.SugaredLogger
	settings Settings

	settle SettleFunc
}

// NewManager builds a Manager. settings is normally sourced from
// config.MarketConfig/config.LedgerConfig; its zero-valued fields fall back
// to DefaultSettings.
func NewManager(l *ledger.Ledger, bus *eventbus.Bus, c clock.Clock, ids idgen.Generator, logger *zap.SugaredLogger, settle SettleFunc, settings Settings) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if c == nil {
		c = clock.Real{}
	}
	if ids == nil {
		ids = idgen.UUID{}
	}
	settings = settings.withDefaults()
	if _, err := l.CreateWallet(settings.FeeWalletID, model.Zero); err != nil {
		logger.Errorw("matching: failed to create fee wallet", "error", err)
	}
	return &Manager{
		engines:  make(map[string]*MarketEngine),
		ledger:   l,
		bus:      bus,
		clock:    c,
		ids:      ids,
		logger:   logger,
		settings: settings,
		settle:   settle,
	}
}

// StartMarket boots a MarketEngine for cfg.ID if one is not already running,
// and publishes markets.created (spec.md §6).
func (m *Manager) StartMarket(cfg MarketConfig) (*MarketEngine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[cfg.ID]; ok {
		return eng, nil
	}
	if _, err := m.ledger.CreateWallet(EscrowWalletID(cfg.ID), model.Zero); err != nil {
		return nil, fmt.Errorf("matching: create escrow wallet for %s: %w", cfg.ID, err)
	}
	if cfg.FeeRate == 0 {
		cfg.FeeRate = m.settings.DefaultFeeRate
	}
	if cfg.MinOrderSize == 0 {
		cfg.MinOrderSize = m.settings.DefaultMinOrderSize
	}
	if cfg.MaxPosition == 0 {
		cfg.MaxPosition = m.settings.DefaultMaxPosition
	}
	eng := newMarketEngine(cfg, m.ledger, m.bus, m.clock, m.ids, m.logger, m.settle, m.settings)
	m.engines[cfg.ID] = eng
	go eng.run()
	m.bus.Publish("markets.created", map[string]any{
		"market":    cfg.ID,
		"fee_rate":  cfg.FeeRate,
		"opens_at":  cfg.OpensAt,
		"closes_at": cfg.ClosesAt,
	})
	return eng, nil
}

// Engine returns the running engine for marketID, or nil.
func (m *Manager) Engine(marketID string) *MarketEngine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engines[marketID]
}

// Stop terminates marketID's engine goroutine. Used in tests and shutdown.
func (m *Manager) Stop(marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[marketID]; ok {
		close(eng.stopCh)
		delete(m.engines, marketID)
	}
}
