package memory

import (
	"fmt"
	"math"
	"testing"
)

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := NewLocalEmbedder()

	a, err := e.Embed("always run migrations before deploy")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	b, err := e.Embed("always run migrations before deploy")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}

	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embeddings must be deterministic across calls")
		}
	}
}

func TestLocalEmbedder_Dimensions(t *testing.T) {
	e := NewLocalEmbedder()
	v, err := e.Embed("short")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != e.Dimensions() {
		t.Errorf("expected %d dims, got %d", e.Dimensions(), len(v))
	}
}

func TestLocalEmbedder_Normalized(t *testing.T) {
	e := NewLocalEmbedder()
	v, err := e.Embed("normalize this vector please")
	if err != nil {
		t.Fatal(err)
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-5 {
		t.Errorf("expected unit norm, got %v", math.Sqrt(norm))
	}
}

func TestLocalEmbedder_SimilarTextCloser(t *testing.T) {
	e := NewLocalEmbedder()
	base, _ := e.Embed("kubernetes deployment rollout strategy")
	near, _ := e.Embed("kubernetes deployment rollback strategy")
	far, _ := e.Embed("chocolate birthday cake recipe")

	if cosineSimilarity(base, near) <= cosineSimilarity(base, far) {
		t.Error("related text should embed closer than unrelated text")
	}
}

func TestLocalEmbedder_EmptyText(t *testing.T) {
	e := NewLocalEmbedder()
	v, err := e.Embed("")
	if err != nil {
		t.Fatalf("empty text must not error: %v", err)
	}
	if len(v) != e.Dimensions() {
		t.Errorf("expected full-width zero vector, got %d dims", len(v))
	}
}

// failingEmbedder always errors, for fallback testing.
type failingEmbedder struct{}

func (failingEmbedder) Embed(text string) ([]float32, error) {
	return nil, fmt.Errorf("quota exceeded")
}

func (failingEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("quota exceeded")
}

func (failingEmbedder) Dimensions() int { return 1536 }

func TestFallbackEmbedder_StickyFailure(t *testing.T) {
	f := NewFallbackEmbedder(failingEmbedder{})

	v, err := f.Embed("some text")
	if err != nil {
		t.Fatalf("fallback should absorb the failure: %v", err)
	}
	if len(v) != 256 {
		t.Errorf("expected local fallback dimensions, got %d", len(v))
	}

	// After the first failure the primary is never consulted again
	if f.Dimensions() != 256 {
		t.Errorf("expected fallback dimensions after failure, got %d", f.Dimensions())
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}

	if got := cosineSimilarity(a, b); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("identical vectors: expected 1.0, got %v", got)
	}
	if got := cosineSimilarity(a, c); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: expected 0, got %v", got)
	}
	if got := cosineSimilarity(a, []float32{1, 0}); got != 0 {
		t.Errorf("mismatched lengths: expected 0, got %v", got)
	}
}
