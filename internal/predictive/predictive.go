// Package predictive recomputes the quality-control report behind the
// automation gate: walk-forward performance of the rule direction over
// recent candles, Monte Carlo drawdown estimates and a drift score,
// folded into a single stability composite.
package predictive

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
)

const (
	walkForwardFolds = 5
	mcShuffles       = 200
	// minReturns is the fewest strategy returns worth evaluating
	minReturns = 50
	// candleWindow is how much history one run consumes
	candleWindow = 500
	// recentFraction of returns compared against the rest for drift
	recentFraction = 0.2
)

// Stability composite coefficients. Governance compares the result
// against PREDICTIVE_STABILITY_MIN; the formula itself is fixed.
const (
	stabilitySharpeWeight = 25.0
	stabilityWinrateScale = 100.0
	stabilityReturnWeight = 10.0
	stabilityDDWeight     = 0.5
	stabilityDriftWeight  = 50.0
)

// CandleSource provides the evaluation window
type CandleSource interface {
	GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]db.Candle, error)
}

// ReportStore persists finished reports
type ReportStore interface {
	InsertPredictiveReport(ctx context.Context, r *db.PredictiveReport) error
}

// DirectionFunc decides the held direction after each bar of the window:
// +1 long, -1 short, 0 flat.
type DirectionFunc func(window []db.Candle) int

// Service computes and persists predictive reports
type Service struct {
	candles   CandleSource
	reports   ReportStore
	direction DirectionFunc
	logger    zerolog.Logger
	seed      int64
	now       func() time.Time
}

// New creates the service. direction defaults to a fast/slow moving
// average comparison, the same trend rule the pipeline trades on.
func New(candles CandleSource, reports ReportStore, direction DirectionFunc) *Service {
	if direction == nil {
		direction = TrendDirection
	}
	return &Service{
		candles:   candles,
		reports:   reports,
		direction: direction,
		logger:    config.NewLogger("predictive"),
		seed:      time.Now().UnixNano(),
		now:       time.Now,
	}
}

// Run evaluates one (symbol, timeframe) cell and persists the report
func (s *Service) Run(ctx context.Context, symbol, timeframe string) (*db.PredictiveReport, error) {
	candles, err := s.candles.GetRecentCandles(ctx, symbol, timeframe, candleWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s %s: %w", symbol, timeframe, err)
	}

	returns := s.strategyReturns(candles)
	if len(returns) < minReturns {
		return nil, fmt.Errorf("not enough history for %s %s: %d strategy returns (min %d)",
			symbol, timeframe, len(returns), minReturns)
	}

	report := s.evaluate(returns)
	report.Symbol = symbol
	report.Timeframe = timeframe
	report.CreatedAt = s.now().UTC()
	report.Meta = map[string]interface{}{
		"n_candles": len(candles),
		"n_returns": len(returns),
		"folds":     walkForwardFolds,
		"shuffles":  mcShuffles,
	}

	if err := s.reports.InsertPredictiveReport(ctx, report); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Float64("stability_score", report.StabilityScore).
		Float64("wf_sharpe", report.WFSharpe).
		Float64("wf_winrate", report.WFWinrate).
		Msg("Predictive report computed")
	return report, nil
}

// strategyReturns produces the per-bar percentage return of holding the
// rule direction decided at the prior bar.
func (s *Service) strategyReturns(candles []db.Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for i := 1; i < len(candles); i++ {
		dir := s.direction(candles[:i])
		if dir == 0 {
			continue
		}
		prev := candles[i-1].Close
		if prev == 0 {
			continue
		}
		barReturn := (candles[i].Close - prev) / prev * 100.0
		out = append(out, float64(dir)*barReturn)
	}
	return out
}

func (s *Service) evaluate(returns []float64) *db.PredictiveReport {
	sharpe, winrate, avgReturn := walkForward(returns)
	maxDD, var95 := s.monteCarlo(returns)
	drift := driftScore(returns)

	stability := sharpe*stabilitySharpeWeight +
		winrate*stabilityWinrateScale +
		avgReturn*stabilityReturnWeight -
		math.Abs(maxDD)*stabilityDDWeight -
		drift*stabilityDriftWeight

	return &db.PredictiveReport{
		WFSharpe:       sharpe,
		WFWinrate:      winrate,
		WFAvgReturn:    avgReturn,
		MCMaxDD:        maxDD,
		MCVaR95:        var95,
		DriftScore:     drift,
		StabilityScore: stability,
	}
}

// walkForward splits the returns into consecutive folds and averages the
// per-fold Sharpe, winrate and mean return, so one lucky stretch cannot
// carry the whole window.
func walkForward(returns []float64) (sharpe, winrate, avgReturn float64) {
	foldSize := len(returns) / walkForwardFolds
	if foldSize < 2 {
		return foldStats(returns)
	}

	var sharpes, winrates, avgs []float64
	for f := 0; f < walkForwardFolds; f++ {
		start := f * foldSize
		end := start + foldSize
		if f == walkForwardFolds-1 {
			end = len(returns)
		}
		s, w, a := foldStats(returns[start:end])
		sharpes = append(sharpes, s)
		winrates = append(winrates, w)
		avgs = append(avgs, a)
	}
	return stat.Mean(sharpes, nil), stat.Mean(winrates, nil), stat.Mean(avgs, nil)
}

func foldStats(returns []float64) (sharpe, winrate, avgReturn float64) {
	if len(returns) == 0 {
		return 0, 0, 0
	}

	mean := stat.Mean(returns, nil)
	std := stat.StdDev(returns, nil)
	if std > 0 {
		sharpe = mean / std * math.Sqrt(float64(len(returns)))
	}

	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return sharpe, float64(wins) / float64(len(returns)), mean
}

// monteCarlo shuffles the return sequence and measures the drawdown of
// each reordering: the path dependence of the realized sequence is
// stripped away, leaving the distribution's own risk. Returns the mean
// shuffled max drawdown (in percent) and the 95% per-bar VaR.
func (s *Service) monteCarlo(returns []float64) (maxDD, var95 float64) {
	rng := rand.New(rand.NewSource(s.seed))
	shuffled := make([]float64, len(returns))
	copy(shuffled, returns)

	var ddSum float64
	for i := 0; i < mcShuffles; i++ {
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		ddSum += maxDrawdown(shuffled)
	}
	maxDD = ddSum / float64(mcShuffles)

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)
	// VaR95 is the loss magnitude at the 5th percentile of bar returns
	var95 = -stat.Quantile(0.05, stat.Empirical, sorted, nil)

	return maxDD, var95
}

// maxDrawdown walks the compounded equity path and returns the deepest
// peak-to-trough decline in percent.
func maxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		equity *= 1 + r/100.0
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > worst {
			worst = dd
		}
	}
	return worst * 100.0
}

// driftScore compares the mean of the recent tail against the rest of the
// window, normalized by the overall deviation. Zero means the strategy
// behaves now as it did before; large values flag regime drift.
func driftScore(returns []float64) float64 {
	split := int(float64(len(returns)) * (1 - recentFraction))
	if split < 1 || split >= len(returns) {
		return 0
	}

	train := returns[:split]
	recent := returns[split:]
	std := stat.StdDev(returns, nil)
	if std == 0 {
		return 0
	}
	return math.Abs(stat.Mean(recent, nil)-stat.Mean(train, nil)) / std
}
