// Package ranking: the learned-model phase. The engine integrates with
// exactly one learning-to-rank model through a narrow load/predict
// contract; the artifact is a linear model stored as JSON next to the
// database.

package ranking

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ModelFileName is the artifact name inside the data directory.
const ModelFileName = "ranking_model.json"

// RankingModel predicts relevance scores for a batch of feature vectors.
type RankingModel interface {
	Predict(features [][]float64) ([]float64, error)
}

// ModelState is the explicit tri-state of the model lifecycle. A failed
// load is cached so repeated rerank calls do not retry disk I/O; only
// ReloadModel resets it.
type ModelState int

const (
	ModelNotAttempted ModelState = iota
	ModelFailed
	ModelLoaded
)

func (s ModelState) String() string {
	switch s {
	case ModelFailed:
		return "failed"
	case ModelLoaded:
		return "loaded"
	default:
		return "not_attempted"
	}
}

// ModelMeta describes a trained model artifact.
type ModelMeta struct {
	TrainedAt time.Time `json:"trained_at"`
	Samples   int       `json:"samples"`
}

// modelArtifact is the on-disk JSON shape.
type modelArtifact struct {
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	TrainedAt time.Time `json:"trained_at"`
	Samples   int       `json:"samples"`
}

// linearModel scores a feature vector as w·x + b.
type linearModel struct {
	weights []float64
	bias    float64
}

func (m *linearModel) Predict(features [][]float64) ([]float64, error) {
	scores := make([]float64, len(features))
	for i, row := range features {
		if len(row) != len(m.weights) {
			return nil, fmt.Errorf("feature vector length %d, model expects %d", len(row), len(m.weights))
		}
		score := m.bias
		for j, x := range row {
			score += m.weights[j] * x
		}
		scores[i] = score
	}
	return scores, nil
}

// LoadModel reads and validates a model artifact. Missing, corrupt or
// wrong-width artifacts are load failures.
func LoadModel(path string) (RankingModel, *ModelMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read model: %w", err)
	}
	var artifact modelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if len(artifact.Weights) != FeatureCount {
		return nil, nil, fmt.Errorf("model has %d weights, expected %d", len(artifact.Weights), FeatureCount)
	}
	model := &linearModel{weights: artifact.Weights, bias: artifact.Bias}
	meta := &ModelMeta{TrainedAt: artifact.TrainedAt, Samples: artifact.Samples}
	return model, meta, nil
}

// SaveModel writes a model artifact atomically (write then rename).
func SaveModel(path string, weights []float64, bias float64, samples int) (*ModelMeta, error) {
	if len(weights) != FeatureCount {
		return nil, fmt.Errorf("expected %d weights, got %d", FeatureCount, len(weights))
	}
	artifact := modelArtifact{
		Weights:   weights,
		Bias:      bias,
		TrainedAt: time.Now(),
		Samples:   samples,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to replace model: %w", err)
	}
	return &ModelMeta{TrainedAt: artifact.TrainedAt, Samples: artifact.Samples}, nil
}

// TrainingExample is one labeled feature vector from the feedback corpus.
type TrainingExample struct {
	Features [FeatureCount]float64
	Label    float64 // signal value in [0,1]
}

// Trainer fits model weights from labeled examples. The engine delegates
// here and never inspects the algorithm.
type Trainer interface {
	Train(examples []TrainingExample) (weights []float64, bias float64, err error)
}

// minTrainingExamples guards against fitting on a corpus too small to
// generalize.
const minTrainingExamples = 50

// LinearTrainer fits the linear weights with plain batch gradient
// descent on squared loss. Small and dependency-free; anything heavier
// belongs outside this repository.
type LinearTrainer struct {
	Epochs       int
	LearningRate float64
}

func (t *LinearTrainer) Train(examples []TrainingExample) ([]float64, float64, error) {
	if len(examples) < minTrainingExamples {
		return nil, 0, fmt.Errorf("need at least %d examples, have %d", minTrainingExamples, len(examples))
	}
	epochs := t.Epochs
	if epochs <= 0 {
		epochs = 200
	}
	lr := t.LearningRate
	if lr <= 0 {
		lr = 0.05
	}

	weights := make([]float64, FeatureCount)
	bias := 0.0
	n := float64(len(examples))

	for epoch := 0; epoch < epochs; epoch++ {
		grad := make([]float64, FeatureCount)
		gradBias := 0.0
		for _, ex := range examples {
			pred := bias
			for j := 0; j < FeatureCount; j++ {
				pred += weights[j] * ex.Features[j]
			}
			diff := pred - ex.Label
			for j := 0; j < FeatureCount; j++ {
				grad[j] += diff * ex.Features[j]
			}
			gradBias += diff
		}
		for j := 0; j < FeatureCount; j++ {
			weights[j] -= lr * grad[j] / n
		}
		bias -= lr * gradBias / n
	}

	return weights, bias, nil
}
