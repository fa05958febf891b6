// Package ranking: feedback collection. Five channels funnel relevance
// signals into one storage call; raw query text is hashed and reduced to
// keywords before anything persists.

package ranking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tendrilhq/tendril/internal/memory"
)

// Channels.
const (
	ChannelAgent        = "agent"
	ChannelCLI          = "cli"
	ChannelDashboard    = "dashboard"
	ChannelImplicit     = "implicit"
	ChannelPassiveDecay = "passive_decay"
)

// Signal type → value tables per channel. Fixed: callers pick a type,
// never a raw value.
var (
	agentSignalValues = map[string]float64{
		"used_in_response": 1.0,
		"partially_used":   0.7,
		"not_relevant":     0.0,
	}
	dashboardSignalValues = map[string]float64{
		"thumbs_up":   1.0,
		"star":        0.9,
		"click":       0.6,
		"thumbs_down": 0.0,
	}
)

// Passive decay parameters.
const (
	// decayMinQueryHashes is how many distinct queries must surface a
	// memory (without engagement) before it earns a decay signal.
	decayMinQueryHashes = 5

	// decaySignalType marks the synthetic negative signal.
	decaySignalType = "ignored"
)

// maxQueryKeywords caps how many extracted keywords persist per signal.
const maxQueryKeywords = 3

// FeedbackStore is the persistence surface the collector writes through.
type FeedbackStore interface {
	StoreFeedback(ctx context.Context, sig memory.FeedbackSignal) (int64, error)
	HasPositiveFeedback(ctx context.Context, memoryID string) (bool, error)
	FeedbackForTraining(ctx context.Context, limit int) ([]memory.FeedbackSignal, error)
}

// FeedbackCollector ingests relevance signals and synthesizes passive
// decay for chronically ignored results. The recall buffer is one shared
// map guarded by a single mutex.
type FeedbackCollector struct {
	store FeedbackStore

	mu           sync.Mutex
	recallBuffer map[string]map[string]int // query_hash -> memory_id -> times returned
	recallOps    int
}

func NewFeedbackCollector(store FeedbackStore) *FeedbackCollector {
	return &FeedbackCollector{
		store:        store,
		recallBuffer: make(map[string]map[string]int),
	}
}

// HashQuery returns the first 16 hex chars of the query's SHA-256.
// Deterministic for any input, including empty and unicode strings.
func HashQuery(query string) string {
	h := sha256.Sum256([]byte(query))
	return hex.EncodeToString(h[:])[:16]
}

// queryStopwords are dropped during keyword extraction.
var queryStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "were": true, "be": true, "been": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"can": true, "it": true, "its": true, "this": true, "that": true,
	"these": true, "those": true, "i": true, "you": true, "we": true,
	"they": true, "what": true, "which": true, "who": true, "how": true,
	"when": true, "where": true, "why": true, "my": true, "me": true,
	"your": true, "our": true, "their": true, "not": true, "no": true,
	"so": true, "than": true, "too": true, "very": true, "just": true,
	"about": true, "into": true, "over": true, "after": true, "before": true,
}

// ExtractKeywords reduces a query to at most three frequency-ranked
// keywords: lowercase, 2+ characters, stopwords removed. Ties rank by
// first appearance.
func ExtractKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	counts := make(map[string]int)
	var order []string
	for _, f := range fields {
		if len(f) < 2 || queryStopwords[f] {
			continue
		}
		if _, seen := counts[f]; !seen {
			order = append(order, f)
		}
		counts[f]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxQueryKeywords {
		order = order[:maxQueryKeywords]
	}
	return order
}

// record funnels every channel through one storage call. Empty queries
// and memory ids are a silent no-op (row id 0), per the input-error
// policy: feedback is best-effort, never fatal.
func (c *FeedbackCollector) record(ctx context.Context, query, memoryID, signalType string, value float64, channel string, rankPosition int, sourceTool string, dwellTime float64) (int64, error) {
	if strings.TrimSpace(query) == "" || memoryID == "" {
		return 0, nil
	}
	return c.store.StoreFeedback(ctx, memory.FeedbackSignal{
		QueryHash:    HashQuery(query),
		Keywords:     ExtractKeywords(query),
		MemoryID:     memoryID,
		SignalType:   signalType,
		SignalValue:  value,
		Channel:      channel,
		RankPosition: rankPosition,
		SourceTool:   sourceTool,
		DwellTime:    dwellTime,
	})
}

// RecordUsage ingests explicit agent-reported usefulness. Unknown signal
// types are the one user-visible input error.
func (c *FeedbackCollector) RecordUsage(ctx context.Context, query, memoryID, signalType string, rankPosition int, sourceTool string) (int64, error) {
	value, ok := agentSignalValues[signalType]
	if !ok {
		return 0, fmt.Errorf("invalid agent signal type: %q", signalType)
	}
	return c.record(ctx, query, memoryID, signalType, value, ChannelAgent, rankPosition, sourceTool, 0)
}

// RecordCLIBatch marks a batch of recall results helpful or unhelpful
// from the command line. Returns the number of signals stored.
func (c *FeedbackCollector) RecordCLIBatch(ctx context.Context, query string, memoryIDs []string, helpful bool) (int, error) {
	signalType, value := "helpful", 1.0
	if !helpful {
		signalType, value = "unhelpful", 0.0
	}
	stored := 0
	for i, id := range memoryIDs {
		rowID, err := c.record(ctx, query, id, signalType, value, ChannelCLI, i+1, "", 0)
		if err != nil {
			return stored, err
		}
		if rowID > 0 {
			stored++
		}
	}
	return stored, nil
}

// RecordDashboard ingests clicks and reactions from a dashboard surface.
func (c *FeedbackCollector) RecordDashboard(ctx context.Context, query, memoryID, signalType string, rankPosition int) (int64, error) {
	value, ok := dashboardSignalValues[signalType]
	if !ok {
		return 0, fmt.Errorf("invalid dashboard signal type: %q", signalType)
	}
	return c.record(ctx, query, memoryID, signalType, value, ChannelDashboard, rankPosition, "", 0)
}

// RecordImplicit infers a relevance value from dwell time: 30s+ of
// attention reads as strong interest, under 10s as a bounce.
func (c *FeedbackCollector) RecordImplicit(ctx context.Context, query, memoryID string, dwellSeconds float64, sourceTool string) (int64, error) {
	var signalType string
	var value float64
	switch {
	case dwellSeconds >= 30:
		signalType, value = "dwell_long", 0.8
	case dwellSeconds >= 10:
		signalType, value = "dwell_medium", 0.5
	default:
		signalType, value = "dwell_short", 0.2
	}
	return c.record(ctx, query, memoryID, signalType, value, ChannelImplicit, 0, sourceTool, dwellSeconds)
}

// RecordRecallResults buffers one recall operation for passive decay.
// The read-modify-write on the shared buffer is atomic under the mutex.
func (c *FeedbackCollector) RecordRecallResults(query string, memoryIDs []string) {
	if strings.TrimSpace(query) == "" || len(memoryIDs) == 0 {
		return
	}
	queryHash := HashQuery(query)

	c.mu.Lock()
	defer c.mu.Unlock()
	perMemory, ok := c.recallBuffer[queryHash]
	if !ok {
		perMemory = make(map[string]int)
		c.recallBuffer[queryHash] = perMemory
	}
	for _, id := range memoryIDs {
		perMemory[id]++
	}
	c.recallOps++
}

// ComputePassiveDecay emits one synthetic negative signal per memory
// that surfaced in at least decayMinQueryHashes distinct queries without
// any positive feedback, then clears the whole buffer. It does nothing
// until at least threshold recall operations have been buffered.
// Returns the number of decay signals stored.
func (c *FeedbackCollector) ComputePassiveDecay(ctx context.Context, threshold int) (int, error) {
	if threshold <= 0 {
		threshold = 10
	}

	c.mu.Lock()
	if c.recallOps < threshold {
		c.mu.Unlock()
		return 0, nil
	}
	buffer := c.recallBuffer
	c.recallBuffer = make(map[string]map[string]int)
	c.recallOps = 0
	c.mu.Unlock()

	// memory id -> distinct query hashes it surfaced in
	appearances := make(map[string]map[string]bool)
	for queryHash, perMemory := range buffer {
		for id := range perMemory {
			if appearances[id] == nil {
				appearances[id] = make(map[string]bool)
			}
			appearances[id][queryHash] = true
		}
	}

	// Deterministic processing order
	ids := make([]string, 0, len(appearances))
	for id := range appearances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	decayed := 0
	for _, id := range ids {
		hashes := appearances[id]
		if len(hashes) < decayMinQueryHashes {
			continue
		}
		positive, err := c.store.HasPositiveFeedback(ctx, id)
		if err != nil || positive {
			continue
		}

		// Attribute the signal to the smallest hash for reproducibility
		hashList := make([]string, 0, len(hashes))
		for h := range hashes {
			hashList = append(hashList, h)
		}
		sort.Strings(hashList)

		_, err = c.store.StoreFeedback(ctx, memory.FeedbackSignal{
			QueryHash:   hashList[0],
			MemoryID:    id,
			SignalType:  decaySignalType,
			SignalValue: 0.0,
			Channel:     ChannelPassiveDecay,
		})
		if err != nil {
			continue
		}
		decayed++
	}
	return decayed, nil
}

// BufferedRecallOps reports how many recall operations are pending decay
// evaluation (diagnostics only).
func (c *FeedbackCollector) BufferedRecallOps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recallOps
}

// TrainingCorpus exposes the persisted signals for model training.
func (c *FeedbackCollector) TrainingCorpus(ctx context.Context, limit int) ([]memory.FeedbackSignal, error) {
	return c.store.FeedbackForTraining(ctx, limit)
}

// LearnedPatterns mines keyword patterns from the stored corpus: each
// distinct keyword set that earned 2+ signals becomes a pattern whose
// confidence is its average signal value.
func (c *FeedbackCollector) LearnedPatterns(ctx context.Context) []Pattern {
	signals, err := c.store.FeedbackForTraining(ctx, 1000)
	if err != nil {
		return nil
	}

	type accumulator struct {
		keywords []string
		sum      float64
		count    int
	}
	byKey := make(map[string]*accumulator)
	for _, sig := range signals {
		if len(sig.Keywords) == 0 {
			continue
		}
		key := strings.Join(sig.Keywords, " ")
		acc, ok := byKey[key]
		if !ok {
			acc = &accumulator{keywords: sig.Keywords}
			byKey[key] = acc
		}
		acc.sum += sig.SignalValue
		acc.count++
	}

	var patterns []Pattern
	for _, acc := range byKey {
		if acc.count < 2 {
			continue
		}
		patterns = append(patterns, Pattern{
			Keywords:   acc.keywords,
			Confidence: acc.sum / float64(acc.count),
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].Confidence > patterns[j].Confidence
	})
	return patterns
}
