// Package rating implements the composite reputation score from spec.md
// §4.7: a subscriber to trades.executed and settlements.completed that
// maintains a rolling per-agent score and emits grade-change events.
//
// Grounded on mbd888-alancoin's internal/verified package for the
// tier/policy and certificate shape (Scorer.Evaluate's threshold ladder,
// Verification's validity window), adapted from a one-shot eligibility
// check to a continuously recomputed score, and on internal/eventbus's
// subscriber-hub pattern for how the engine attaches to the bus.
package rating

import (
	"math"
	"time"

	"github.com/clearinghouse/prediction-core/internal/model"
)

// MinRated is the default total-trade floor below which an agent has no
// grade (spec.md §4.7: "for each agent with total_trades >= MIN_RATED"),
// used when Settings.MinRated is left at its zero value.
const MinRated = 20

// Weights of the five components in the composite truth_score. spec.md
// §4.7 fixes these as part of the truth_score formula itself, not as an
// operator-tunable knob, so unlike MinRated/CertifyMinTrades they stay
// package constants rather than Settings fields.
const (
	weightBrier       = 0.35
	weightSharpe      = 0.25
	weightWinRate     = 0.20
	weightConsistency = 0.10
	weightRisk        = 0.10
)

// defaultConsistencyHistoryFloor is the minimum number of score-history
// points required before the Consistency component is computed rather than
// defaulted to 0.5, used when Settings.ConsistencyHistoryFloor is left at
// its zero value.
const defaultConsistencyHistoryFloor = 5

// defaultSharpeFallback is the Sharpe ratio assumed when pnl has zero
// variance and a positive mean (an unambiguous win streak with nothing to
// normalize against), and the divisor that scales the ratio into the
// [0, 1] component; used when Settings.SharpeFallback is left at its zero
// value.
const defaultSharpeFallback = 3.0

// maxScoreHistory bounds agentStats.scoreHistory to the most recent 90
// truth_score snapshots (spec.md §3's "90-entry score history"), trimmed
// the same way internal/eventbus's bounded log trims its buffer, but to an
// exact cap since the Consistency component's window size is part of its
// definition, not just a diagnostic retention policy.
const maxScoreHistory = 90

// Settings holds the operator-tunable thresholds spec.md §4.7 names,
// normally sourced from config.RatingConfig. New replaces any zero-valued
// field with its DefaultSettings value (see withDefaults).
type Settings struct {
	MinRated                int
	CertifyMinTrades        int
	CertificateValidity     time.Duration
	ConsistencyHistoryFloor int
	SharpeFallback          float64
}

// DefaultSettings mirrors the defaults spec.md §4.7 names.
func DefaultSettings() Settings {
	return Settings{
		MinRated:                MinRated,
		CertifyMinTrades:        50,
		CertificateValidity:     certificateValidity,
		ConsistencyHistoryFloor: defaultConsistencyHistoryFloor,
		SharpeFallback:          defaultSharpeFallback,
	}
}

func (s Settings) withDefaults() Settings {
	if s.MinRated <= 0 {
		s.MinRated = MinRated
	}
	if s.CertifyMinTrades <= 0 {
		s.CertifyMinTrades = 50
	}
	if s.CertificateValidity <= 0 {
		s.CertificateValidity = certificateValidity
	}
	if s.ConsistencyHistoryFloor <= 0 {
		s.ConsistencyHistoryFloor = defaultConsistencyHistoryFloor
	}
	if s.SharpeFallback <= 0 {
		s.SharpeFallback = defaultSharpeFallback
	}
	return s
}

// Rating is one agent's current composite score snapshot.
type Rating struct {
	AgentID     string
	TotalTrades int64
	TruthScore  float64
	Grade       model.Grade

	Brier       float64
	Sharpe      float64
	WinRate     float64
	Consistency float64
	Risk        float64
}

// Certificate attests that an agent met the certification bar at IssuedAt.
type Certificate struct {
	AgentID   string
	Grade     model.Grade
	IssuedAt  time.Time
	ExpiresAt time.Time
}

const certificateValidity = 90 * 24 * time.Hour

// forecastOutcome is one settled trade's (forecast, actual) pair feeding
// the Brier component. forecast is the implied probability of YES the
// trade priced in; actual is 1.0 if the market resolved YES, else 0.0.
type forecastOutcome struct {
	forecast float64
	actual   float64
}

// agentStats accumulates everything one agent's Rating is derived from.
type agentStats struct {
	totalTrades   int64
	winningTrades int64
	forecasts     []forecastOutcome
	pnlSeries     []float64 // one entry per settlement this agent was paid out in
	scoreHistory  []float64 // truth_score snapshots, oldest first
	grade         model.Grade
}

func newAgentStats() *agentStats {
	return &agentStats{grade: model.GradeNR}
}

func (s *agentStats) compute(agentID string, settings Settings) Rating {
	if s.totalTrades < int64(settings.MinRated) {
		return Rating{AgentID: agentID, TotalTrades: s.totalTrades, Grade: model.GradeNR}
	}

	brier := brierComponent(s.forecasts)
	sharpe := sharpeComponent(s.pnlSeries, settings.SharpeFallback)
	winRate := float64(s.winningTrades) / float64(s.totalTrades)
	consistency := consistencyComponent(s.scoreHistory, settings.ConsistencyHistoryFloor)
	risk := riskComponent(s.pnlSeries)

	truthScore := 100 * (weightBrier*brier + weightSharpe*sharpe + weightWinRate*winRate +
		weightConsistency*consistency + weightRisk*risk)

	return Rating{
		AgentID:     agentID,
		TotalTrades: s.totalTrades,
		TruthScore:  truthScore,
		Grade:       gradeFor(truthScore),
		Brier:       brier,
		Sharpe:      sharpe,
		WinRate:     winRate,
		Consistency: consistency,
		Risk:        risk,
	}
}

func brierComponent(fo []forecastOutcome) float64 {
	if len(fo) == 0 {
		return 0.5 // no settled trades yet to score; neutral component
	}
	var sum float64
	for _, f := range fo {
		d := f.forecast - f.actual
		sum += d * d
	}
	return 1 - sum/float64(len(fo))
}

func sharpeComponent(pnl []float64, sharpeFallback float64) float64 {
	if len(pnl) == 0 {
		return 0
	}
	mean, stddev := meanStddev(pnl)
	var sharpe float64
	switch {
	case stddev == 0 && mean > 0:
		sharpe = sharpeFallback
	case stddev == 0:
		sharpe = 0
	default:
		sharpe = mean / stddev
	}
	return clamp(sharpe/sharpeFallback, 0, 1)
}

func consistencyComponent(history []float64, historyFloor int) float64 {
	if len(history) < historyFloor {
		return 0.5
	}
	_, stddev := meanStddev(history)
	return clamp(1-stddev/20, 0, 1)
}

func riskComponent(pnl []float64) float64 {
	if len(pnl) == 0 {
		return 1
	}
	return 1 - maxDrawdown(pnl)
}

func meanStddev(xs []float64) (mean, stddev float64) {
	n := float64(len(xs))
	for _, x := range xs {
		mean += x
	}
	mean /= n
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}

// maxDrawdown is the largest peak-to-trough decline in the cumulative sum
// of pnl, expressed as a fraction of the peak (0 when pnl never regresses
// below a prior peak, or when the peak is non-positive).
func maxDrawdown(pnl []float64) float64 {
	var cumulative, peak, worst float64
	for i, p := range pnl {
		cumulative += p
		if i == 0 || cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			drawdown := (peak - cumulative) / peak
			if drawdown > worst {
				worst = drawdown
			}
		}
	}
	return clamp(worst, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func gradeFor(truthScore float64) model.Grade {
	switch {
	case truthScore >= 90:
		return model.GradeAAA
	case truthScore >= 80:
		return model.GradeAA
	case truthScore >= 70:
		return model.GradeA
	case truthScore >= 60:
		return model.GradeBBB
	case truthScore >= 50:
		return model.GradeBB
	case truthScore >= 40:
		return model.GradeB
	default:
		return model.GradeCCC
	}
}

// certifiableGrades are eligible for Certify, per spec.md §4.7.
var certifiableGrades = map[model.Grade]bool{
	model.GradeAAA: true, model.GradeAA: true, model.GradeA: true,
	model.GradeBBB: true, model.GradeBB: true,
}
