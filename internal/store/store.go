package store

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adaptixlab/adaptix/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PREDICTION STORE - Append-only keyed record of forecasts
// ═══════════════════════════════════════════════════════════════════════════════
//
// Capacity-bounded: every insert that pushes the store past its maximum evicts
// oldest-by-timestamp records until the bound holds, regardless of whether the
// evicted records were evaluated yet.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Store holds prediction records keyed by id
type Store struct {
	mu      sync.RWMutex
	records map[string]*types.PredictionRecord
	maxSize int
}

// Stats is a cheap full-set summary, independent of the windowed metrics
// the performance tracker computes.
type Stats struct {
	Total          int     `json:"total"`
	EvaluatedCount int     `json:"evaluatedCount"`
	PendingCount   int     `json:"pendingCount"`
	CorrectCount   int     `json:"correctCount"`
	IncorrectCount int     `json:"incorrectCount"`
	Accuracy       float64 `json:"accuracy"`
	MeanConfidence float64 `json:"meanConfidence"`
}

// New creates a store bounded to maxSize records
func New(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Store{
		records: make(map[string]*types.PredictionRecord),
		maxSize: maxSize,
	}
}

// Add inserts a record by id, evicting oldest entries past capacity
func (s *Store) Add(rec types.PredictionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := rec
	s.records[r.ID] = &r

	if len(s.records) > s.maxSize {
		s.trimLocked(s.maxSize)
	}
}

// Update replaces an existing record. Unknown ids are ignored, not an error:
// the record may simply have been evicted between log and evaluate.
func (s *Store) Update(rec types.PredictionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		return
	}
	r := rec
	s.records[r.ID] = &r
}

// Get returns a copy of the record and whether it exists
func (s *Store) Get(id string) (types.PredictionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return types.PredictionRecord{}, false
	}
	return *r, true
}

// Evaluated returns all records whose outcome is set, oldest first
func (s *Store) Evaluated() []types.PredictionRecord {
	return s.filter(func(r *types.PredictionRecord) bool { return r.Evaluated() })
}

// Pending returns all records still awaiting an outcome, oldest first
func (s *Store) Pending() []types.PredictionRecord {
	return s.filter(func(r *types.PredictionRecord) bool { return !r.Evaluated() })
}

// Recent returns the n most recent records by timestamp, newest first
func (s *Store) Recent(n int) []types.PredictionRecord {
	all := s.filter(func(*types.PredictionRecord) bool { return true })

	// filter sorts oldest first; flip and cut
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// ByTimeRange returns records with start <= timestamp <= end, oldest first
func (s *Store) ByTimeRange(start, end time.Time) []types.PredictionRecord {
	return s.filter(func(r *types.PredictionRecord) bool {
		return !r.Timestamp.Before(start) && !r.Timestamp.After(end)
	})
}

// BySymbol returns records for one trading symbol, oldest first
func (s *Store) BySymbol(symbol string) []types.PredictionRecord {
	return s.filter(func(r *types.PredictionRecord) bool { return r.Symbol == symbol })
}

// ByTimeframe returns records for one timeframe label, oldest first
func (s *Store) ByTimeframe(tf string) []types.PredictionRecord {
	return s.filter(func(r *types.PredictionRecord) bool { return r.Timeframe == tf })
}

// Size returns the current record count
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SetMaxSize replaces the capacity bound, evicting immediately if exceeded
func (s *Store) SetMaxSize(maxSize int) {
	if maxSize <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSize = maxSize
	if len(s.records) > s.maxSize {
		s.trimLocked(s.maxSize)
	}
}

// Clear drops every record
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*types.PredictionRecord)
}

// TrimTo keeps the keepCount most recent records by timestamp and drops the rest
func (s *Store) TrimTo(keepCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked(keepCount)
}

// trimLocked requires s.mu held for writing
func (s *Store) trimLocked(keepCount int) {
	if keepCount < 0 {
		keepCount = 0
	}
	if len(s.records) <= keepCount {
		return
	}

	ordered := make([]*types.PredictionRecord, 0, len(s.records))
	for _, r := range s.records {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	evict := len(ordered) - keepCount
	for _, r := range ordered[:evict] {
		delete(s.records, r.ID)
	}
	log.Debug().Int("evicted", evict).Int("kept", keepCount).Msg("Prediction store trimmed")
}

// Stats summarizes the full current record set
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Total: len(s.records)}
	confSum := 0.0
	for _, r := range s.records {
		confSum += r.Confidence
		if !r.Evaluated() {
			st.PendingCount++
			continue
		}
		st.EvaluatedCount++
		if *r.IsCorrect {
			st.CorrectCount++
		} else {
			st.IncorrectCount++
		}
	}
	if st.EvaluatedCount > 0 {
		st.Accuracy = float64(st.CorrectCount) / float64(st.EvaluatedCount)
	}
	if st.Total > 0 {
		st.MeanConfidence = confSum / float64(st.Total)
	}
	return st
}

// ExportAll serializes every record as a JSON array, oldest first
func (s *Store) ExportAll() ([]byte, error) {
	all := s.filter(func(*types.PredictionRecord) bool { return true })
	return json.Marshal(all)
}

// ImportAll upserts records from a JSON array produced by ExportAll
func (s *Store) ImportAll(data []byte) error {
	var recs []types.PredictionRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range recs {
		r := recs[i]
		s.records[r.ID] = &r
	}
	if len(s.records) > s.maxSize {
		s.trimLocked(s.maxSize)
	}
	return nil
}

// filter returns matching record copies sorted oldest first
func (s *Store) filter(keep func(*types.PredictionRecord) bool) []types.PredictionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PredictionRecord, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
