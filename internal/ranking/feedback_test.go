package ranking

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendrilhq/tendril/internal/memory"
)

// fakeFeedbackStore records signals in memory.
type fakeFeedbackStore struct {
	signals []memory.FeedbackSignal
	nextID  int64
}

func (f *fakeFeedbackStore) StoreFeedback(ctx context.Context, sig memory.FeedbackSignal) (int64, error) {
	f.nextID++
	sig.ID = f.nextID
	f.signals = append(f.signals, sig)
	return sig.ID, nil
}

func (f *fakeFeedbackStore) HasPositiveFeedback(ctx context.Context, memoryID string) (bool, error) {
	for _, sig := range f.signals {
		if sig.MemoryID == memoryID && sig.SignalValue > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFeedbackStore) FeedbackForTraining(ctx context.Context, limit int) ([]memory.FeedbackSignal, error) {
	return f.signals, nil
}

func TestHashQuery(t *testing.T) {
	h := HashQuery("how to deploy the app")
	assert.Len(t, h, 16)
	assert.Equal(t, h, HashQuery("how to deploy the app"), "hash must be deterministic")
	assert.NotEqual(t, h, HashQuery("a different query"))
	for _, c := range h {
		assert.Contains(t, "0123456789abcdef", string(c))
	}

	// Edge inputs still hash
	assert.Len(t, HashQuery(""), 16)
	assert.Len(t, HashQuery("日本語のクエリ"), 16)
}

func TestExtractKeywords(t *testing.T) {
	kws := ExtractKeywords("how to deploy the app")
	assert.Equal(t, []string{"deploy", "app"}, kws, "stopwords and short tokens must be dropped")

	// Frequency ranks above first appearance
	kws = ExtractKeywords("cache invalidation cache strategy cache")
	require.NotEmpty(t, kws)
	assert.Equal(t, "cache", kws[0])

	// Never more than three
	kws = ExtractKeywords("postgres sqlite redis kafka rabbitmq")
	assert.Len(t, kws, 3)

	// All stopwords: empty, not an error
	assert.Empty(t, ExtractKeywords("how to do it"))
}

func TestRecordUsage_ValueTable(t *testing.T) {
	cases := map[string]float64{
		"used_in_response": 1.0,
		"partially_used":   0.7,
		"not_relevant":     0.0,
	}
	for signalType, want := range cases {
		store := &fakeFeedbackStore{}
		c := NewFeedbackCollector(store)
		_, err := c.RecordUsage(context.Background(), "deploy query", "mem1", signalType, 1, "cursor")
		require.NoError(t, err)
		require.Len(t, store.signals, 1)
		assert.Equal(t, want, store.signals[0].SignalValue)
		assert.Equal(t, ChannelAgent, store.signals[0].Channel)
		assert.Equal(t, "cursor", store.signals[0].SourceTool)
	}
}

func TestRecordUsage_InvalidType(t *testing.T) {
	c := NewFeedbackCollector(&fakeFeedbackStore{})
	_, err := c.RecordUsage(context.Background(), "q", "mem1", "loved_it", 1, "")
	assert.Error(t, err)
}

func TestRecordUsage_EmptyQueryIsNoop(t *testing.T) {
	store := &fakeFeedbackStore{}
	c := NewFeedbackCollector(store)
	id, err := c.RecordUsage(context.Background(), "   ", "mem1", "used_in_response", 1, "")
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Empty(t, store.signals)
}

func TestRecordCLIBatch(t *testing.T) {
	store := &fakeFeedbackStore{}
	c := NewFeedbackCollector(store)

	stored, err := c.RecordCLIBatch(context.Background(), "deploy", []string{"m1", "m2"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	for i, sig := range store.signals {
		assert.Equal(t, 1.0, sig.SignalValue)
		assert.Equal(t, "helpful", sig.SignalType)
		assert.Equal(t, i+1, sig.RankPosition)
	}

	stored, err = c.RecordCLIBatch(context.Background(), "deploy", []string{"m3"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	assert.Equal(t, 0.0, store.signals[2].SignalValue)
	assert.Equal(t, "unhelpful", store.signals[2].SignalType)
}

func TestRecordDashboard_ValueTable(t *testing.T) {
	cases := map[string]float64{
		"thumbs_up":   1.0,
		"star":        0.9,
		"click":       0.6,
		"thumbs_down": 0.0,
	}
	for signalType, want := range cases {
		store := &fakeFeedbackStore{}
		c := NewFeedbackCollector(store)
		_, err := c.RecordDashboard(context.Background(), "q", "m1", signalType, 2)
		require.NoError(t, err)
		assert.Equal(t, want, store.signals[0].SignalValue)
	}

	c := NewFeedbackCollector(&fakeFeedbackStore{})
	_, err := c.RecordDashboard(context.Background(), "q", "m1", "shrug", 1)
	assert.Error(t, err)
}

func TestRecordImplicit_DwellBuckets(t *testing.T) {
	cases := []struct {
		dwell float64
		want  float64
	}{
		{45, 0.8},
		{30, 0.8},
		{15, 0.5},
		{10, 0.5},
		{3, 0.2},
	}
	for _, tc := range cases {
		store := &fakeFeedbackStore{}
		c := NewFeedbackCollector(store)
		_, err := c.RecordImplicit(context.Background(), "q", "m1", tc.dwell, "dashboard")
		require.NoError(t, err)
		assert.Equal(t, tc.want, store.signals[0].SignalValue, "dwell %vs", tc.dwell)
		assert.Equal(t, ChannelImplicit, store.signals[0].Channel)
	}
}

func TestComputePassiveDecay_IgnoredMemoryGetsSignal(t *testing.T) {
	store := &fakeFeedbackStore{}
	c := NewFeedbackCollector(store)

	// Memory 99 surfaces in five distinct queries with no engagement
	for i := 0; i < 5; i++ {
		c.RecordRecallResults(fmt.Sprintf("query number %d", i), []string{"99", fmt.Sprintf("other%d", i)})
	}

	decayed, err := c.ComputePassiveDecay(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, decayed)

	require.Len(t, store.signals, 1)
	sig := store.signals[0]
	assert.Equal(t, "99", sig.MemoryID)
	assert.Equal(t, "ignored", sig.SignalType)
	assert.Equal(t, 0.0, sig.SignalValue)
	assert.Equal(t, ChannelPassiveDecay, sig.Channel)
}

func TestComputePassiveDecay_PositiveFeedbackProtects(t *testing.T) {
	store := &fakeFeedbackStore{}
	c := NewFeedbackCollector(store)

	_, err := c.RecordUsage(context.Background(), "some query", "99", "used_in_response", 1, "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.RecordRecallResults(fmt.Sprintf("query number %d", i), []string{"99"})
	}

	decayed, err := c.ComputePassiveDecay(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, decayed, "memories with positive history never decay")
}

func TestComputePassiveDecay_BelowThresholdDoesNothing(t *testing.T) {
	store := &fakeFeedbackStore{}
	c := NewFeedbackCollector(store)

	for i := 0; i < 4; i++ {
		c.RecordRecallResults(fmt.Sprintf("query %d", i), []string{"99"})
	}
	decayed, err := c.ComputePassiveDecay(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, decayed)
	assert.Equal(t, 4, c.BufferedRecallOps(), "buffer must survive a below-threshold pass")
}

func TestComputePassiveDecay_SecondCallReturnsZero(t *testing.T) {
	store := &fakeFeedbackStore{}
	c := NewFeedbackCollector(store)

	for i := 0; i < 5; i++ {
		c.RecordRecallResults(fmt.Sprintf("query number %d", i), []string{"99"})
	}

	first, err := c.ComputePassiveDecay(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	// Buffer was cleared wholesale: an immediate second pass is empty
	second, err := c.ComputePassiveDecay(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, second)
	assert.Zero(t, c.BufferedRecallOps())
}

func TestComputePassiveDecay_FewDistinctQueries(t *testing.T) {
	store := &fakeFeedbackStore{}
	c := NewFeedbackCollector(store)

	// Same query repeated: one distinct hash, never decays
	for i := 0; i < 12; i++ {
		c.RecordRecallResults("the same query", []string{"99"})
	}
	decayed, err := c.ComputePassiveDecay(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, decayed)
}

func TestLearnedPatterns(t *testing.T) {
	store := &fakeFeedbackStore{}
	c := NewFeedbackCollector(store)
	ctx := context.Background()

	// Two positive signals for the same keyword set, one stray negative
	_, err := c.RecordUsage(ctx, "deploy the app", "m1", "used_in_response", 1, "")
	require.NoError(t, err)
	_, err = c.RecordUsage(ctx, "deploy the app", "m2", "partially_used", 2, "")
	require.NoError(t, err)
	_, err = c.RecordUsage(ctx, "unrelated cache question", "m3", "not_relevant", 1, "")
	require.NoError(t, err)

	patterns := c.LearnedPatterns(ctx)
	require.Len(t, patterns, 1, "singleton keyword sets are noise, not patterns")
	assert.Equal(t, []string{"deploy", "app"}, patterns[0].Keywords)
	assert.InDelta(t, 0.85, patterns[0].Confidence, 1e-9)
}
