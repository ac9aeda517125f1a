package models

import (
	"context"
	"math"

	"github.com/aurictrade/auric/internal/db"
)

// neutralBand is the buy/sell probability margin below which the
// direction is called neutral.
const neutralBand = 0.05

// Direction is the derived trading direction of a probability vector
type Direction string

const (
	DirectionBuy     Direction = "buy"
	DirectionSell    Direction = "sell"
	DirectionNeutral Direction = "neutral"
)

// Prediction is the ensemble output consumed by the scorer
type Prediction struct {
	Proba       [3]float64 `json:"proba"` // [sell, hold, buy]
	Direction   Direction  `json:"direction"`
	Probability float64    `json:"probability"` // confidence of the direction
	Models      []string   `json:"models"`      // contributing model types
}

// ensembleTypes are averaged when active; lstm joins with equal weight
// when an artifact exists.
var ensembleTypes = []db.ModelType{
	db.ModelTypeXGBoost,
	db.ModelTypeLightGBM,
	db.ModelTypeLSTM,
}

// Predict runs every active model for (symbol, timeframe) and averages
// their probability vectors. Returns ErrNoActiveModel when none is active.
func (c *Cache) Predict(ctx context.Context, symbol, timeframe string, features map[string]float64) (*Prediction, error) {
	var sum [3]float64
	var contributors []string

	for _, mt := range ensembleTypes {
		predictor, _, err := c.Get(ctx, mt, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		if predictor == nil {
			continue
		}

		proba, err := predictor.PredictProba(features)
		if err != nil {
			c.logger.Warn().Err(err).
				Str("model_type", string(mt)).
				Str("symbol", symbol).
				Msg("Predictor failed, excluding from ensemble")
			continue
		}
		for i := range sum {
			sum[i] += proba[i]
		}
		contributors = append(contributors, string(mt))
	}

	if len(contributors) == 0 {
		return nil, ErrNoActiveModel
	}

	var mean [3]float64
	for i := range mean {
		mean[i] = sum[i] / float64(len(contributors))
	}

	direction, prob := DeriveDirection(mean)
	return &Prediction{
		Proba:       mean,
		Direction:   direction,
		Probability: prob,
		Models:      contributors,
	}, nil
}

// DeriveDirection maps a probability vector to a trading direction: the
// argmax class, except that a hold argmax or a buy/sell margin under
// neutralBand yields neutral with prob max(P(hold), 0.5).
func DeriveDirection(proba [3]float64) (Direction, float64) {
	argmax := ClassSell
	for i := range proba {
		if proba[i] > proba[argmax] {
			argmax = i
		}
	}

	if argmax == ClassHold || math.Abs(proba[ClassBuy]-proba[ClassSell]) < neutralBand {
		return DirectionNeutral, math.Max(proba[ClassHold], 0.5)
	}
	if argmax == ClassBuy {
		return DirectionBuy, proba[ClassBuy]
	}
	return DirectionSell, proba[ClassSell]
}
