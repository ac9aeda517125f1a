// Package pipeline composes feature extraction, regime classification,
// rule analyzers, model predictions and the scorer into a single
// Analyze call per (symbol, timeframe) cell.
package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aurictrade/auric/internal/analyzers"
	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/dxy"
	"github.com/aurictrade/auric/internal/features"
	"github.com/aurictrade/auric/internal/models"
	"github.com/aurictrade/auric/internal/regime"
	"github.com/aurictrade/auric/internal/scoring"
)

// Action score bands on the rule scale
const (
	strongBand = 60
	actionBand = 40
)

// Stop placement constants
const (
	slBufferPct    = 0.001 // buffer past the order-block extremum
	slFallbackPct  = 0.005 // when no opposite order block exists
	tpRiskMultiple = 2.0
)

// Predictor is the model ensemble the pipeline consults. Nil predictions
// with ErrNoActiveModel mean rule-only scoring.
type Predictor interface {
	Predict(ctx context.Context, symbol, timeframe string, features map[string]float64) (*models.Prediction, error)
}

// DXYReader serves the cached dollar-index context; a nil context means
// the service has never completed a refresh.
type DXYReader interface {
	Context(ctx context.Context) (*dxy.Context, error)
}

// Signal is the full analysis outcome for one cell
type Signal struct {
	Symbol      string
	Timeframe   string
	Action      db.SignalAction
	Score       float64 // weighted total from the scorer
	Confidence  float64 // 0..100
	EntryPrice  *float64
	SuggestedSL *float64
	SuggestedTP *float64
	Reasons     []string
	Context     map[string]interface{}
	CreatedAt   time.Time
}

// Pipeline analyzes one cell at a time. Safe for concurrent use.
type Pipeline struct {
	cfg        config.PipelineConfig
	extractor  *features.Extractor
	classifier *regime.Classifier
	killzones  *analyzers.KillZones
	scorer     *scoring.Scorer
	predictor  Predictor
	dxyReader  DXYReader
	logger     zerolog.Logger
	now        func() time.Time
}

// New builds a pipeline. predictor and dxyReader may be nil; the pipeline
// then scores on rules alone.
func New(cfg config.PipelineConfig, regimeCfg config.RegimeConfig, scorer *scoring.Scorer, predictor Predictor, dxyReader DXYReader) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		extractor:  features.NewExtractor(cfg),
		classifier: regime.NewClassifier(regimeCfg),
		killzones:  analyzers.NewKillZones(),
		scorer:     scorer,
		predictor:  predictor,
		dxyReader:  dxyReader,
		logger:     config.NewLogger("pipeline"),
		now:        time.Now,
	}
}

// Analyze runs the full composition over an ordered candle series and
// returns a signal preserving every intermediate result in Context.
func (p *Pipeline) Analyze(ctx context.Context, symbol, timeframe string, candles []db.Candle) (*Signal, error) {
	now := p.now().UTC()

	if len(candles) < p.cfg.MinCandles {
		return &Signal{
			Symbol:    symbol,
			Timeframe: timeframe,
			Action:    db.ActionWait,
			Reasons:   []string{"insufficient_data"},
			Context:   map[string]interface{}{"n_bars": len(candles)},
			CreatedAt: now,
		}, nil
	}

	vector, err := p.extractor.Extract(candles)
	if err != nil {
		return nil, err
	}

	kzStatus := p.killzones.Evaluate(now)
	reg := p.classifier.Classify(vector, kzStatus.Liquidity)

	smc := analyzers.AnalyzeSMC(candles)
	profile := analyzers.BuildVolumeProfile(candles)
	priceAction := analyzers.AnalyzePriceAction(candles)

	dxyCtx := p.readDXY(ctx)

	baseScore := ruleScore(vector, smc, profile, priceAction)
	bullish := baseScore > 0
	action := actionFor(baseScore)

	confidence := math.Abs(float64(baseScore)) / 100.0
	var prediction *models.Prediction
	if p.predictor != nil {
		prediction, err = p.predictor.Predict(ctx, symbol, timeframe, vector.AsMap())
		if err != nil && err != models.ErrNoActiveModel {
			p.logger.Warn().Err(err).Str("symbol", symbol).Msg("Model prediction failed, scoring on rules only")
		}
		if prediction != nil {
			confidence = blendConfidence(confidence, prediction, &bullish, &action, baseScore)
		}
	}

	// Outside a recommended kill zone the cell is observed, not traded:
	// tradable actions degrade to neutral the same way a model
	// contradiction does.
	kzOK := kzStatus.Active != nil && kzStatus.Recommended
	if !kzOK && action.IsTradable() {
		action = db.ActionNeutral
	}

	entry := candles[len(candles)-1].Close
	sl, tp := stopAndTarget(entry, bullish, smc.OrderBlocks)

	rrOK := true
	if sl != nil && tp != nil {
		risk := math.Abs(entry - *sl)
		rrOK = risk > 0 && math.Abs(*tp-entry)/risk >= tpRiskMultiple-1e-9
	}

	scored := p.scorer.Score(scoring.Input{
		BaseConfidence: confidence,
		Bullish:        bullish,
		Regime:         reg,
		RegimeKnown:    reg.Primary != regime.Unknown,
		KillzoneOK:     kzOK,
		SpreadOK:       !reg.Tags[regime.TagLowLiquidity],
		DXYAdverse:     dxyCtx.AdverseFor(bullish),
		RiskRewardOK:   rrOK,
	})

	if !action.IsTradable() {
		sl, tp = nil, nil
	}

	sig := &Signal{
		Symbol:      symbol,
		Timeframe:   timeframe,
		Action:      action,
		Score:       scored.Total,
		Confidence:  confidence * 100,
		EntryPrice:  &entry,
		SuggestedSL: sl,
		SuggestedTP: tp,
		Reasons:     append(scored.Reasons, ruleReasons(smc, priceAction)...),
		Context: map[string]interface{}{
			"features":       vector.AsMap(),
			"regime":         reg,
			"killzone":       kzStatus,
			"smc":            smc,
			"volume_profile": profile,
			"price_action":   priceAction,
			"dxy":            dxyCtx,
			"rule_score":     baseScore,
			"components":     scored.Components,
			"model":          prediction,
		},
		CreatedAt: now,
	}
	return sig, nil
}

func (p *Pipeline) readDXY(ctx context.Context) *dxy.Context {
	if p.dxyReader == nil {
		return nil
	}
	dxyCtx, err := p.dxyReader.Context(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("DXY context unavailable")
		return nil
	}
	return dxyCtx
}

// ruleScore accumulates integer contributions from the rule analyzers on
// a [-100, +100] scale.
func ruleScore(v *features.Vector, smc analyzers.SMCResult, profile *analyzers.VolumeProfile, pa analyzers.PriceActionResult) int {
	score := 0

	switch pa.Trend {
	case analyzers.TrendBullish:
		score += 20
	case analyzers.TrendBearish:
		score -= 20
	}

	if smc.BOS != nil {
		if *smc.BOS == analyzers.Bullish {
			score += 15
		} else {
			score -= 15
		}
	}

	// The most recent structures carry the vote.
	if ob := latestOrderBlock(smc.OrderBlocks); ob != nil {
		if ob.Type == analyzers.Bullish {
			score += 15
		} else {
			score -= 15
		}
	}
	if len(smc.FVGs) > 0 {
		last := smc.FVGs[len(smc.FVGs)-1]
		if last.Type == analyzers.Bullish {
			score += 10
		} else {
			score -= 10
		}
	}
	if len(smc.Sweeps) > 0 {
		last := smc.Sweeps[len(smc.Sweeps)-1]
		// A sweep of lows that reclaimed is a long setup.
		if last.Type == analyzers.Bullish {
			score += 10
		} else {
			score -= 10
		}
	}

	if profile != nil {
		switch profile.Position(v.LastClose) {
		case analyzers.AboveValueArea:
			score += 10
		case analyzers.BelowValueArea:
			score -= 10
		}
	}

	score += patternScore(pa.Patterns)

	if score > 100 {
		score = 100
	}
	if score < -100 {
		score = -100
	}
	return score
}

func patternScore(patterns []analyzers.Pattern) int {
	score := 0
	for _, p := range patterns {
		switch p {
		case analyzers.BullishEngulfing, analyzers.MorningStar, analyzers.ThreeWhiteSoldiers, analyzers.Hammer:
			score += 10
		case analyzers.BearishEngulfing, analyzers.EveningStar, analyzers.ThreeBlackCrows, analyzers.ShootingStar:
			score -= 10
		}
	}
	return score
}

func actionFor(score int) db.SignalAction {
	switch {
	case score >= strongBand:
		return db.ActionStrongBuy
	case score >= actionBand:
		return db.ActionBuy
	case score <= -strongBand:
		return db.ActionStrongSell
	case score <= -actionBand:
		return db.ActionSell
	}
	return db.ActionNeutral
}

// blendConfidence folds the model prediction into the rule confidence.
// A model direction that contradicts the rules downgrades the action to
// neutral rather than flipping it.
func blendConfidence(ruleConf float64, pred *models.Prediction, bullish *bool, action *db.SignalAction, baseScore int) float64 {
	switch pred.Direction {
	case models.DirectionNeutral:
		return (ruleConf + pred.Probability) / 2
	case models.DirectionBuy:
		if baseScore < 0 {
			*action = db.ActionNeutral
			return ruleConf * 0.5
		}
		*bullish = true
	case models.DirectionSell:
		if baseScore > 0 {
			*action = db.ActionNeutral
			return ruleConf * 0.5
		}
		*bullish = false
	}
	return (ruleConf + pred.Probability) / 2
}

func latestOrderBlock(blocks []analyzers.OrderBlock) *analyzers.OrderBlock {
	if len(blocks) == 0 {
		return nil
	}
	return &blocks[len(blocks)-1]
}

// stopAndTarget places the stop at the nearest opposite-type order block
// extremum with a small buffer, falling back to a fixed percentage, and
// the target at twice the risk.
func stopAndTarget(entry float64, bullish bool, blocks []analyzers.OrderBlock) (*float64, *float64) {
	var sl float64
	found := false

	if bullish {
		// Nearest bullish order block low under the entry.
		best := math.Inf(-1)
		for _, ob := range blocks {
			if ob.Type == analyzers.Bullish && ob.Low < entry && ob.Low > best {
				best = ob.Low
				found = true
			}
		}
		if found {
			sl = best * (1 - slBufferPct)
		} else {
			sl = entry * (1 - slFallbackPct)
		}
	} else {
		best := math.Inf(1)
		for _, ob := range blocks {
			if ob.Type == analyzers.Bearish && ob.High > entry && ob.High < best {
				best = ob.High
				found = true
			}
		}
		if found {
			sl = best * (1 + slBufferPct)
		} else {
			sl = entry * (1 + slFallbackPct)
		}
	}

	risk := math.Abs(entry - sl)
	var tp float64
	if bullish {
		tp = entry + tpRiskMultiple*risk
	} else {
		tp = entry - tpRiskMultiple*risk
	}
	return &sl, &tp
}

func ruleReasons(smc analyzers.SMCResult, pa analyzers.PriceActionResult) []string {
	var reasons []string
	if smc.BOS != nil {
		reasons = append(reasons, "bos_"+string(*smc.BOS))
	}
	for _, p := range pa.Patterns {
		reasons = append(reasons, string(p))
	}
	return reasons
}
