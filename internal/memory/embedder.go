// Package memory provides embedding generation for the semantic
// retrieval method. Embedding model internals are a collaborator concern;
// the store only needs vectors of a stable dimension.
package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// Embedder generates vector embeddings for text
type Embedder interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
	Dimensions() int
}

// GetEmbedder picks the embedder for this process. Default is the local
// deterministic embedder (offline, zero cost); TENDRIL_EMBEDDINGS=openai
// opts into API embeddings when a key is present. API embedders are
// wrapped with a sticky local fallback so runtime failures never stop
// the store.
func GetEmbedder() Embedder {
	if os.Getenv("TENDRIL_EMBEDDINGS") == "openai" && os.Getenv("OPENAI_API_KEY") != "" {
		if e, err := NewOpenAIEmbedder(); err == nil {
			fmt.Fprintln(os.Stderr, "🧠 Using OpenAI embeddings")
			return NewFallbackEmbedder(e)
		}
	}
	return NewLocalEmbedder()
}

// FallbackEmbedder wraps a primary embedder and falls back to local on
// errors (e.g. expired API keys). The failure is sticky for the session.
type FallbackEmbedder struct {
	primary  Embedder
	fallback Embedder
	failed   bool
}

func NewFallbackEmbedder(primary Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{primary: primary, fallback: NewLocalEmbedder()}
}

func (f *FallbackEmbedder) Embed(text string) ([]float32, error) {
	if f.failed {
		return f.fallback.Embed(text)
	}
	result, err := f.primary.Embed(text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Primary embedder failed (%v), falling back to local\n", err)
		f.failed = true
		return f.fallback.Embed(text)
	}
	return result, nil
}

func (f *FallbackEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	if f.failed {
		return f.fallback.EmbedBatch(texts)
	}
	result, err := f.primary.EmbedBatch(texts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Primary embedder failed (%v), falling back to local\n", err)
		f.failed = true
		return f.fallback.EmbedBatch(texts)
	}
	return result, nil
}

func (f *FallbackEmbedder) Dimensions() int {
	if f.failed {
		return f.fallback.Dimensions()
	}
	return f.primary.Dimensions()
}

// LocalEmbedder produces deterministic on-device embeddings from hashed
// word, bigram and character-trigram features. Quality is below API
// embeddings but it is free, offline and stable across runs.
type LocalEmbedder struct {
	dimensions int
}

func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{dimensions: 256}
}

func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *LocalEmbedder) Embed(text string) ([]float32, error) {
	embedding := make([]float32, e.dimensions)
	text = strings.ToLower(text)
	words := splitWords(text)

	// Word and bigram feature hashing; start-of-text tokens weigh more
	for i, w := range words {
		posWeight := float32(1.0)
		if i < 3 {
			posWeight = 1.5
		}
		embedding[hashFeature(w)%e.dimensions] += posWeight
		if i+1 < len(words) {
			embedding[hashFeature(w+" "+words[i+1])%e.dimensions] += 0.5 * posWeight
		}
	}

	// Character trigrams absorb typos and inflection variants
	for i := 0; i+3 <= len(text); i++ {
		embedding[hashFeature("c3:"+text[i:i+3])%e.dimensions] += 0.1
	}

	normalizeVec(embedding)
	return embedding, nil
}

func (e *LocalEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i], _ = e.Embed(text)
	}
	return embeddings, nil
}

func splitWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	words := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			words = append(words, f)
		}
	}
	return words
}

// hashFeature is a small FNV-style string hash for feature bucketing.
func hashFeature(s string) int {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h & 0x7fffffff)
}

func normalizeVec(v []float32) {
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if norm > 0 {
		norm = float32(math.Sqrt(float64(norm)))
		for i := range v {
			v[i] /= norm
		}
	}
}

// OpenAIEmbedder uses OpenAI's embedding API
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      "text-embedding-3-small",
		dimensions: 1536,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Embed(text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	reqBody, _ := json.Marshal(map[string]interface{}{
		"model": e.model,
		"input": texts,
	})

	req, err := http.NewRequest("POST", "https://api.openai.com/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	return embeddings, nil
}
