// Package models loads trained model artifacts from the registry and
// serves class probability vectors to the signal pipeline. Artifacts are
// produced by an external training job; this package only consumes them.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/aurictrade/auric/internal/db"
)

// ErrNoActiveModel is returned when no active artifact exists for any
// model type of a (symbol, timeframe).
var ErrNoActiveModel = errors.New("no active model")

// Class indexes into a probability vector
const (
	ClassSell = 0
	ClassHold = 1
	ClassBuy  = 2
)

// Predictor serves class probabilities for one loaded artifact
type Predictor interface {
	// PredictProba returns [P(sell), P(hold), P(buy)] for one feature map.
	// Features absent from the map are imputed as zero.
	PredictProba(features map[string]float64) ([3]float64, error)
	// FeatureNames lists the features the artifact was trained on
	FeatureNames() []string
}

// artifact is the on-disk JSON shape shared by every model type: the
// trainer exports boosted trees and LSTM heads alike as per-class linear
// scoring surrogates over the named features.
type artifact struct {
	ModelType    db.ModelType         `json:"model_type"`
	FeatureNames []string             `json:"feature_names"`
	Weights      [3][]float64         `json:"weights"` // per class, aligned to feature_names
	Bias         [3]float64           `json:"bias"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
}

type softmaxModel struct {
	art artifact
}

// LoadArtifact reads and validates a model artifact from disk
func LoadArtifact(path string) (Predictor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	if len(art.FeatureNames) == 0 {
		return nil, fmt.Errorf("artifact %s has no feature names", path)
	}
	for class, w := range art.Weights {
		if len(w) != len(art.FeatureNames) {
			return nil, fmt.Errorf("artifact %s class %d has %d weights for %d features",
				path, class, len(w), len(art.FeatureNames))
		}
	}

	return &softmaxModel{art: art}, nil
}

func (m *softmaxModel) FeatureNames() []string {
	return m.art.FeatureNames
}

func (m *softmaxModel) PredictProba(features map[string]float64) ([3]float64, error) {
	var scores [3]float64
	for class := range scores {
		score := m.art.Bias[class]
		for i, name := range m.art.FeatureNames {
			score += m.art.Weights[class][i] * features[name]
		}
		scores[class] = score
	}
	return softmax(scores), nil
}

// softmax normalizes scores into probabilities, shifted by the max for
// numeric stability.
func softmax(scores [3]float64) [3]float64 {
	max := math.Max(scores[0], math.Max(scores[1], scores[2]))

	var exp [3]float64
	sum := 0.0
	for i, s := range scores {
		exp[i] = math.Exp(s - max)
		sum += exp[i]
	}

	var out [3]float64
	for i := range out {
		out[i] = exp[i] / sum
	}
	return out
}
