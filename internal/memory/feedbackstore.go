// Package memory: durable feedback and source-quality storage.
// Signals are insert-only; source quality rows are recomputed wholesale
// and upserted, so a refresh is idempotent.

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// FeedbackSignal is one relevance observation tied to a hashed query.
// Raw query text is never stored; only the 16-hex-char hash and up to
// three extracted keywords reach this struct.
type FeedbackSignal struct {
	ID           int64     `json:"id,omitempty"`
	QueryHash    string    `json:"query_hash"`
	Keywords     []string  `json:"keywords,omitempty"`
	MemoryID     string    `json:"memory_id"`
	SignalType   string    `json:"signal_type"`
	SignalValue  float64   `json:"signal_value"` // always in [0,1]
	Channel      string    `json:"channel"`
	RankPosition int       `json:"rank_position,omitempty"`
	SourceTool   string    `json:"source_tool,omitempty"`
	DwellTime    float64   `json:"dwell_time,omitempty"` // seconds
	CreatedAt    time.Time `json:"created_at"`
}

// SourceQualityScore is the Beta-Binomial posterior for one memory creator.
type SourceQualityScore struct {
	SourceID        string    `json:"source_id"`
	PositiveSignals int       `json:"positive_signals"`
	TotalMemories   int       `json:"total_memories"`
	QualityScore    float64   `json:"quality_score"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StoreFeedback inserts a feedback signal and returns its row id.
// Signal values are clamped to [0,1] at the storage boundary.
func (s *Store) StoreFeedback(ctx context.Context, sig FeedbackSignal) (int64, error) {
	if sig.SignalValue < 0 {
		sig.SignalValue = 0
	}
	if sig.SignalValue > 1 {
		sig.SignalValue = 1
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	keywordsJSON, _ := json.Marshal(sig.Keywords)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_signals (query_hash, keywords, memory_id, signal_type, signal_value, channel, rank_position, source_tool, dwell_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.QueryHash, string(keywordsJSON), sig.MemoryID, sig.SignalType, sig.SignalValue,
		sig.Channel, sig.RankPosition, sig.SourceTool, sig.DwellTime, sig.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to store feedback: %w", err)
	}
	return res.LastInsertId()
}

// FeedbackCount returns the total number of stored feedback signals.
func (s *Store) FeedbackCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_signals`).Scan(&count)
	return count, err
}

// UniqueQueryCount returns the number of distinct query hashes with feedback.
func (s *Store) UniqueQueryCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT query_hash) FROM feedback_signals`).Scan(&count)
	return count, err
}

// FeedbackForTraining returns the most recent signals as a training corpus.
func (s *Store) FeedbackForTraining(ctx context.Context, limit int) ([]FeedbackSignal, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_hash, keywords, memory_id, signal_type, signal_value, channel,
			COALESCE(rank_position, 0), COALESCE(source_tool, ''), COALESCE(dwell_time, 0), created_at
		FROM feedback_signals ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []FeedbackSignal
	for rows.Next() {
		var sig FeedbackSignal
		var keywordsJSON string
		if err := rows.Scan(&sig.ID, &sig.QueryHash, &keywordsJSON, &sig.MemoryID, &sig.SignalType,
			&sig.SignalValue, &sig.Channel, &sig.RankPosition, &sig.SourceTool, &sig.DwellTime, &sig.CreatedAt); err != nil {
			continue
		}
		json.Unmarshal([]byte(keywordsJSON), &sig.Keywords)
		signals = append(signals, sig)
	}
	return signals, nil
}

// SignalStats returns per-memory aggregate stats (count, average value).
// The feature extractor uses these for the signal-history slots.
func (s *Store) SignalStats(ctx context.Context, memoryID string) (count int, avgValue float64, err error) {
	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(signal_value) FROM feedback_signals WHERE memory_id = ?
	`, memoryID).Scan(&count, &avg)
	if err != nil {
		return 0, 0, err
	}
	if avg.Valid {
		avgValue = avg.Float64
	}
	return count, avgValue, nil
}

// HasPositiveFeedback reports whether the memory has at least one signal
// with value > 0. Passive decay skips such memories.
func (s *Store) HasPositiveFeedback(ctx context.Context, memoryID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feedback_signals WHERE memory_id = ? AND signal_value > 0
	`, memoryID).Scan(&count)
	return count > 0, err
}

// PositiveMemoryIDs returns the set of memory ids with at least one
// positive (value > 0) feedback signal.
func (s *Store) PositiveMemoryIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT memory_id FROM feedback_signals WHERE signal_value > 0
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids[id] = true
	}
	return ids, nil
}

// MemoryCountsByCreator groups memory counts by creator identity.
// Memories without a creator fall under "unknown".
func (s *Store) MemoryCountsByCreator(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(created_by, ''), 'unknown'), COUNT(*) FROM memories GROUP BY 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var creator string
		var n int
		if err := rows.Scan(&creator, &n); err != nil {
			continue
		}
		counts[creator] = n
	}
	return counts, nil
}

// MemoryIDsByCreator returns the ids of memories attributed to a creator.
func (s *Store) MemoryIDsByCreator(ctx context.Context, creator string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memories WHERE COALESCE(NULLIF(created_by, ''), 'unknown') = ?
	`, creator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpsertSourceQuality writes one recomputed source quality row.
func (s *Store) UpsertSourceQuality(ctx context.Context, score SourceQualityScore) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_quality (source_id, positive_signals, total_memories, quality_score, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			positive_signals = excluded.positive_signals,
			total_memories = excluded.total_memories,
			quality_score = excluded.quality_score,
			updated_at = excluded.updated_at
	`, score.SourceID, score.PositiveSignals, score.TotalMemories, score.QualityScore, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert source quality: %w", err)
	}
	return nil
}

// SourceScores returns all persisted source quality rows keyed by source id.
func (s *Store) SourceScores(ctx context.Context) (map[string]SourceQualityScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, positive_signals, total_memories, quality_score, updated_at FROM source_quality
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]SourceQualityScore)
	for rows.Next() {
		var sc SourceQualityScore
		if err := rows.Scan(&sc.SourceID, &sc.PositiveSignals, &sc.TotalMemories, &sc.QualityScore, &sc.UpdatedAt); err != nil {
			continue
		}
		scores[sc.SourceID] = sc
	}
	return scores, nil
}
