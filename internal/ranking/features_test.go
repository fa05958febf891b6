package ranking

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/tendrilhq/tendril/internal/memory"
)

func TestExtract_NilMemoryStaysNeutral(t *testing.T) {
	e := &FeatureExtractor{}
	batch := e.NewBatch(context.Background(), BatchContext{})

	v := batch.Extract(context.Background(), Candidate{ID: "x", Lexical: -1, Semantic: -1}, nil)
	for i, val := range v {
		if val != 0.5 {
			t.Errorf("slot %d: expected neutral 0.5, got %v", i, val)
		}
	}
}

func TestExtract_MethodScoresPassThrough(t *testing.T) {
	e := &FeatureExtractor{}
	batch := e.NewBatch(context.Background(), BatchContext{})

	v := batch.Extract(context.Background(), Candidate{ID: "x", Lexical: 0.8, Semantic: 0.2}, nil)
	if v[0] != 0.8 {
		t.Errorf("lexical slot: expected 0.8, got %v", v[0])
	}
	if v[1] != 0.2 {
		t.Errorf("semantic slot: expected 0.2, got %v", v[1])
	}
}

func TestExtract_MetadataSlots(t *testing.T) {
	e := &FeatureExtractor{}
	batch := e.NewBatch(context.Background(), BatchContext{})

	mem := &memory.Memory{
		ID:          "m",
		Content:     "deploy pipeline notes",
		Importance:  8,
		AccessCount: 10,
		CreatedAt:   time.Now().Add(-180 * 24 * time.Hour),
	}
	v := batch.Extract(context.Background(), Candidate{ID: "m", Lexical: -1, Semantic: -1}, mem)

	if v[6] != 0.8 {
		t.Errorf("importance slot: expected 0.8, got %v", v[6])
	}
	// 180 days old: exp(-1)
	if math.Abs(v[7]-math.Exp(-1)) > 0.01 {
		t.Errorf("recency slot: expected ~%v, got %v", math.Exp(-1), v[7])
	}
	if v[8] != 0.5 {
		t.Errorf("access slot: expected 10/20=0.5, got %v", v[8])
	}
}

func TestExtract_AccessSaturates(t *testing.T) {
	e := &FeatureExtractor{}
	batch := e.NewBatch(context.Background(), BatchContext{})

	mem := &memory.Memory{ID: "m", AccessCount: 500, Importance: 5, CreatedAt: time.Now()}
	v := batch.Extract(context.Background(), Candidate{ID: "m", Lexical: -1, Semantic: -1}, mem)
	if v[8] != 1.0 {
		t.Errorf("access slot should saturate at 1.0, got %v", v[8])
	}
}

func TestTechMatch(t *testing.T) {
	e := &FeatureExtractor{}
	batch := e.NewBatch(context.Background(), BatchContext{TechPrefs: []string{"go", "sqlite"}})

	mem := &memory.Memory{ID: "m", Tags: []string{"Go", "docker"}, Importance: 5, CreatedAt: time.Now()}
	v := batch.Extract(context.Background(), Candidate{ID: "m", Lexical: -1, Semantic: -1}, mem)
	if v[2] != 0.5 {
		t.Errorf("tech slot: expected 1/2 matched = 0.5, got %v", v[2])
	}
}

func TestWorkflowFit(t *testing.T) {
	e := &FeatureExtractor{}

	cases := []struct {
		name  string
		phase string
		mem   *memory.Memory
		want  float64
	}{
		{"phase in tags", "debugging", &memory.Memory{Tags: []string{"debugging"}}, 1.0},
		{"phase in context", "reviewing", &memory.Memory{Context: "notes from reviewing the PR"}, 1.0},
		{"phase mismatch", "debugging", &memory.Memory{Tags: []string{"design"}}, 0.3},
		{"no phase set", "", &memory.Memory{Tags: []string{"design"}}, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.mem.Importance = 5
			tc.mem.CreatedAt = time.Now()
			batch := e.NewBatch(context.Background(), BatchContext{WorkflowPhase: tc.phase})
			v := batch.Extract(context.Background(), Candidate{ID: "m", Lexical: -1, Semantic: -1}, tc.mem)
			if v[4] != tc.want {
				t.Errorf("expected %v, got %v", tc.want, v[4])
			}
		})
	}
}

func TestPatternConfidence(t *testing.T) {
	e := &FeatureExtractor{
		Patterns: func(ctx context.Context) []Pattern {
			return []Pattern{
				{Keywords: []string{"deploy", "staging"}, Confidence: 0.9},
				{Keywords: []string{"deploy"}, Confidence: 0.6},
			}
		},
	}
	batch := e.NewBatch(context.Background(), BatchContext{})

	// Matches both patterns; highest confidence wins
	mem := &memory.Memory{ID: "m", Content: "deploy to staging via CI", Importance: 5, CreatedAt: time.Now()}
	v := batch.Extract(context.Background(), Candidate{ID: "m", Lexical: -1, Semantic: -1}, mem)
	if v[9] != 0.9 {
		t.Errorf("expected best matching pattern confidence 0.9, got %v", v[9])
	}

	// Matches nothing: neutral
	mem2 := &memory.Memory{ID: "m2", Content: "unrelated note", Importance: 5, CreatedAt: time.Now()}
	v2 := batch.Extract(context.Background(), Candidate{ID: "m2", Lexical: -1, Semantic: -1}, mem2)
	if v2[9] != 0.5 {
		t.Errorf("expected neutral 0.5 for no pattern match, got %v", v2[9])
	}
}

func TestSignalStatsSlots(t *testing.T) {
	e := &FeatureExtractor{
		SignalStats: func(ctx context.Context, memoryID string) (int, float64, error) {
			return 5, 0.7, nil
		},
	}
	batch := e.NewBatch(context.Background(), BatchContext{})

	mem := &memory.Memory{ID: "m", Importance: 5, CreatedAt: time.Now()}
	v := batch.Extract(context.Background(), Candidate{ID: "m", Lexical: -1, Semantic: -1}, mem)
	if v[10] != 0.5 {
		t.Errorf("signal count slot: expected 5/10=0.5, got %v", v[10])
	}
	if v[11] != 0.7 {
		t.Errorf("avg signal slot: expected 0.7, got %v", v[11])
	}
}

func TestExtract_AlwaysClamped(t *testing.T) {
	e := &FeatureExtractor{
		SourceBoost: func(mem *memory.Memory) float64 { return 7.3 },
	}
	batch := e.NewBatch(context.Background(), BatchContext{})

	mem := &memory.Memory{ID: "m", Importance: 5, CreatedAt: time.Now()}
	v := batch.Extract(context.Background(), Candidate{ID: "m", Lexical: 2.5, Semantic: -1}, mem)
	for i, val := range v {
		if val < 0 || val > 1 {
			t.Errorf("slot %d out of [0,1]: %v", i, val)
		}
	}
}
