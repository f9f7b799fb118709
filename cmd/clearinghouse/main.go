// Command clearinghouse wires together the event bus, escrow ledger,
// matching manager, oracle resolver, settlement engine, and rating engine
// into one running core. There is no HTTP/transport layer here — per
// spec.md's Non-goals, transport is an external collaborator the core
// publishes events to, not part of this binary.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clearinghouse/prediction-core/internal/clock"
	"github.com/clearinghouse/prediction-core/internal/config"
	"github.com/clearinghouse/prediction-core/internal/eventbus"
	"github.com/clearinghouse/prediction-core/internal/idgen"
	"github.com/clearinghouse/prediction-core/internal/ledger"
	"github.com/clearinghouse/prediction-core/internal/matching"
	"github.com/clearinghouse/prediction-core/internal/model"
	"github.com/clearinghouse/prediction-core/internal/oracle"
	"github.com/clearinghouse/prediction-core/internal/persistence"
	"github.com/clearinghouse/prediction-core/internal/rating"
	"github.com/clearinghouse/prediction-core/internal/settlement"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config.yaml")
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Load(*configPath)
	if err != nil {
		sugar.Fatalw("load config", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("invalid config", "error", err)
	}

	c := clock.Real{}
	bus := eventbus.New(sugar, c)
	led := ledger.New(sugar, c)
	store := persistence.NewMemoryStore()
	led.SetStore(store)

	settleEngine := settlement.New(led, bus, sugar)
	ratingEngine := rating.New(bus, c, sugar, rating.Settings{
		MinRated:                cfg.Rating.MinRated,
		CertifyMinTrades:        cfg.Rating.CertifyMinTrades,
		CertificateValidity:     time.Duration(cfg.Rating.CertificateValidityDays) * 24 * time.Hour,
		ConsistencyHistoryFloor: cfg.Rating.ConsistencyHistoryFloor,
		SharpeFallback:          cfg.Rating.SharpeFallback,
	})
	_ = ratingEngine // subscribes itself on construction; kept for Certify/Rating lookups

	resolver := oracle.NewWithOptions(oracle.Options{
		Timeout:           cfg.Oracle.DefaultTimeout,
		RetryCount:        cfg.Oracle.DefaultRetryCount,
		BackoffInitial:    cfg.Oracle.BackoffInitial,
		BackoffMultiplier: cfg.Oracle.BackoffMultiplier,
		BackoffMax:        cfg.Oracle.BackoffMax,
		BackoffJitter:     cfg.Oracle.BackoffJitter,
	})

	manager := matching.NewManager(led, bus, c, idgen.UUID{}, sugar, settleEngine.Settle, matching.Settings{
		FeeWalletID:          cfg.Ledger.FeeWalletID,
		ExpirySweepInterval:  cfg.Market.ExpirySweepInterval,
		CommandChannelBuffer: cfg.Market.CommandChannelBuffer,
		DefaultFeeRate:       cfg.Market.DefaultFeeRate,
		DefaultMinOrderSize:  cfg.Market.DefaultMinOrderSize,
		DefaultMaxPosition:   cfg.Market.DefaultMaxPosition,
	})

	bus.Subscribe("markets.resolving", func(_ string, payload any) {
		event, ok := payload.(map[string]any)
		if !ok {
			return
		}
		marketID, _ := event["market"].(string)
		sugar.Infow("market entered resolving, awaiting oracle.resolved", "market", marketID)
	})

	// oracle.resolved is the external alternative to invoking the resolver
	// directly (spec.md §6); a transport adapter that owns a market's
	// ResolutionSchema would call resolver.Resolve and publish this itself.
	bus.Subscribe("oracle.resolved", func(_ string, payload any) {
		event, ok := payload.(map[string]any)
		if !ok {
			return
		}
		marketID, _ := event["market"].(string)
		outcome, _ := event["outcome"].(string)
		eng := manager.Engine(marketID)
		if eng == nil {
			sugar.Warnw("oracle.resolved for unknown market", "market", marketID)
			return
		}
		if err := eng.Resolve(model.Outcome(outcome)); err != nil {
			sugar.Errorw("resolve market", "market", marketID, "error", err)
		}
	})

	_ = resolver // invoked by a transport-owned resolution loop per-market schema

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("clearinghouse core started")
	<-ctx.Done()
	sugar.Infow("clearinghouse core shutting down")
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
