package ranking

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadModel_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ModelFileName)

	weights := make([]float64, FeatureCount)
	for i := range weights {
		weights[i] = float64(i) * 0.1
	}
	meta, err := SaveModel(path, weights, 0.25, 120)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if meta.Samples != 120 {
		t.Errorf("expected 120 samples, got %d", meta.Samples)
	}

	model, loadedMeta, err := LoadModel(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loadedMeta.Samples != 120 {
		t.Errorf("expected 120 samples after load, got %d", loadedMeta.Samples)
	}

	features := make([]float64, FeatureCount)
	features[3] = 1.0
	scores, err := model.Predict([][]float64{features})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	want := 0.25 + 0.3 // bias + w[3]*1.0
	if diff := scores[0] - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected score %v, got %v", want, scores[0])
	}
}

func TestLoadModel_MissingFile(t *testing.T) {
	if _, _, err := LoadModel(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing artifact")
	}
}

func TestLoadModel_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), ModelFileName)
	os.WriteFile(path, []byte("{not json"), 0600)
	if _, _, err := LoadModel(path); err == nil {
		t.Error("expected error for corrupt artifact")
	}
}

func TestLoadModel_WrongWidth(t *testing.T) {
	path := filepath.Join(t.TempDir(), ModelFileName)
	os.WriteFile(path, []byte(`{"weights":[0.1,0.2],"bias":0}`), 0600)
	if _, _, err := LoadModel(path); err == nil {
		t.Error("expected error for wrong weight count")
	}
}

func TestLinearModel_PredictWidthMismatch(t *testing.T) {
	m := &linearModel{weights: make([]float64, FeatureCount)}
	if _, err := m.Predict([][]float64{{0.1, 0.2}}); err == nil {
		t.Error("expected error for short feature vector")
	}
}

func TestLinearTrainer_TooFewExamples(t *testing.T) {
	trainer := &LinearTrainer{}
	if _, _, err := trainer.Train(make([]TrainingExample, 10)); err == nil {
		t.Error("expected error below the minimum corpus size")
	}
}

func TestLinearTrainer_LearnsSeparation(t *testing.T) {
	// Label 1.0 when slot 0 is high, 0.0 when low
	var examples []TrainingExample
	for i := 0; i < 60; i++ {
		var pos, neg TrainingExample
		pos.Features[0] = 0.9
		pos.Label = 1.0
		neg.Features[0] = 0.1
		neg.Label = 0.0
		examples = append(examples, pos, neg)
	}

	trainer := &LinearTrainer{Epochs: 500, LearningRate: 0.1}
	weights, bias, err := trainer.Train(examples)
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}

	model := &linearModel{weights: weights, bias: bias}
	high := make([]float64, FeatureCount)
	high[0] = 0.9
	low := make([]float64, FeatureCount)
	low[0] = 0.1
	scores, err := model.Predict([][]float64{high, low})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if scores[0] <= scores[1] {
		t.Errorf("expected high-feature example to outrank low: %v vs %v", scores[0], scores[1])
	}
}
