package memory

import (
	"context"
	"fmt"
	"math"
	"testing"
)

func storeSignal(t *testing.T, s *Store, queryHash, memoryID string, value float64) {
	t.Helper()
	_, err := s.StoreFeedback(context.Background(), FeedbackSignal{
		QueryHash:   queryHash,
		MemoryID:    memoryID,
		SignalType:  "helpful",
		SignalValue: value,
		Channel:     "cli",
	})
	if err != nil {
		t.Fatalf("store feedback failed: %v", err)
	}
}

func TestStoreFeedback_Roundtrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	id, err := store.StoreFeedback(ctx, FeedbackSignal{
		QueryHash:    "abcd1234abcd1234",
		Keywords:     []string{"deploy", "app"},
		MemoryID:     "m1",
		SignalType:   "used_in_response",
		SignalValue:  1.0,
		Channel:      "agent",
		RankPosition: 2,
		SourceTool:   "cursor",
	})
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("expected positive row id, got %d", id)
	}

	signals, err := store.FeedbackForTraining(ctx, 10)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.QueryHash != "abcd1234abcd1234" || sig.MemoryID != "m1" || sig.Channel != "agent" {
		t.Errorf("roundtrip mismatch: %+v", sig)
	}
	if len(sig.Keywords) != 2 || sig.Keywords[0] != "deploy" {
		t.Errorf("keywords lost: %v", sig.Keywords)
	}
	if sig.RankPosition != 2 || sig.SourceTool != "cursor" {
		t.Errorf("metadata lost: %+v", sig)
	}
}

func TestStoreFeedback_ClampsValue(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	store.StoreFeedback(ctx, FeedbackSignal{QueryHash: "h", MemoryID: "m", SignalType: "x", SignalValue: 3.7, Channel: "cli"})
	store.StoreFeedback(ctx, FeedbackSignal{QueryHash: "h", MemoryID: "m", SignalType: "x", SignalValue: -1.2, Channel: "cli"})

	signals, _ := store.FeedbackForTraining(ctx, 10)
	for _, sig := range signals {
		if sig.SignalValue < 0 || sig.SignalValue > 1 {
			t.Errorf("signal value out of [0,1]: %v", sig.SignalValue)
		}
	}
}

func TestFeedbackCounts(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	// 3 signals over 2 distinct query hashes
	storeSignal(t, store, "hash-one", "m1", 1.0)
	storeSignal(t, store, "hash-one", "m2", 0.5)
	storeSignal(t, store, "hash-two", "m1", 0.0)

	count, err := store.FeedbackCount(ctx)
	if err != nil || count != 3 {
		t.Errorf("expected feedback count 3, got %d (%v)", count, err)
	}
	unique, err := store.UniqueQueryCount(ctx)
	if err != nil || unique != 2 {
		t.Errorf("expected 2 unique queries, got %d (%v)", unique, err)
	}
}

func TestSignalStats(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	storeSignal(t, store, "h1", "m1", 1.0)
	storeSignal(t, store, "h2", "m1", 0.5)
	storeSignal(t, store, "h3", "m2", 0.0)

	count, avg, err := store.SignalStats(ctx, "m1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 signals for m1, got %d", count)
	}
	if math.Abs(avg-0.75) > 1e-9 {
		t.Errorf("expected avg 0.75, got %v", avg)
	}

	// No signals: zero count, zero average, no error
	count, avg, err = store.SignalStats(ctx, "unknown")
	if err != nil || count != 0 || avg != 0 {
		t.Errorf("expected empty stats, got count=%d avg=%v err=%v", count, avg, err)
	}
}

func TestHasPositiveFeedback(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	storeSignal(t, store, "h1", "liked", 0.7)
	storeSignal(t, store, "h2", "rejected", 0.0)

	if pos, _ := store.HasPositiveFeedback(ctx, "liked"); !pos {
		t.Error("expected positive feedback for liked")
	}
	if pos, _ := store.HasPositiveFeedback(ctx, "rejected"); pos {
		t.Error("zero-value signals are not positive")
	}
	if pos, _ := store.HasPositiveFeedback(ctx, "never-seen"); pos {
		t.Error("unknown memory has no positive feedback")
	}
}

func TestMemoryCountsByCreator(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	store.Remember(ctx, Memory{Content: "one", CreatedBy: "cursor"})
	store.Remember(ctx, Memory{Content: "two", CreatedBy: "cursor"})
	store.Remember(ctx, Memory{Content: "three"})

	counts, err := store.MemoryCountsByCreator(ctx)
	if err != nil {
		t.Fatalf("counts failed: %v", err)
	}
	if counts["cursor"] != 2 {
		t.Errorf("expected 2 for cursor, got %d", counts["cursor"])
	}
	if counts["unknown"] != 1 {
		t.Errorf("creatorless memories group under unknown, got %d", counts["unknown"])
	}
}

func TestSourceQualityUpsert(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	row := SourceQualityScore{SourceID: "cursor", PositiveSignals: 8, TotalMemories: 10, QualityScore: 0.75}
	if err := store.UpsertSourceQuality(ctx, row); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// Upsert again with new numbers: same row, updated values
	row.PositiveSignals = 9
	row.QualityScore = 10.0 / 12.0
	if err := store.UpsertSourceQuality(ctx, row); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	scores, err := store.SourceScores(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(scores) != 1 {
		t.Fatalf("expected 1 row, got %d", len(scores))
	}
	if got := scores["cursor"]; got.PositiveSignals != 9 || math.Abs(got.QualityScore-10.0/12.0) > 1e-9 {
		t.Errorf("upsert did not replace values: %+v", got)
	}
}

func TestFeedbackForTraining_Limit(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	for i := 0; i < 10; i++ {
		storeSignal(t, store, fmt.Sprintf("hash-%d", i), "m1", 0.5)
	}
	signals, err := store.FeedbackForTraining(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 4 {
		t.Errorf("expected 4 signals, got %d", len(signals))
	}
}
