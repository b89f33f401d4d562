package perf

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERFORMANCE TRACKER - Rolling outcome history & windowed metrics
// ═══════════════════════════════════════════════════════════════════════════════
//
// Keeps one global outcome sequence plus one per model id, both capacity-bounded
// ring buffers (oldest trimmed first). All queries recompute from the selected
// subsequence with the same formulas; nothing is cached.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	trendThreshold    = 0.02
	defaultTrendSize  = 50
	defaultPeriodSize = 50

	highConfidenceFloor   = 0.7
	mediumConfidenceFloor = 0.4
)

// TrendReport compares the latest accuracy window against the one before it
type TrendReport struct {
	Current  float64 `json:"current"`
	Previous float64 `json:"previous"`
	Trend    string  `json:"trend"` // "improving", "declining", "stable"
	Change   float64 `json:"change"`
}

// Band is accuracy within one confidence partition
type Band struct {
	Accuracy float64 `json:"accuracy"`
	Count    int     `json:"count"`
}

// ConfidenceBands partitions outcomes by forecast confidence
type ConfidenceBands struct {
	High   Band `json:"high"`   // [0.7, 1]
	Medium Band `json:"medium"` // [0.4, 0.7)
	Low    Band `json:"low"`    // [0, 0.4)
}

// Period is one fixed-size window over the chronological sequence
type Period struct {
	Start   int     `json:"start"` // index range [Start, End) into the sequence
	End     int     `json:"end"`
	Metrics Metrics `json:"metrics"`
}

// PeriodsReport carries the best and worst sliding windows by accuracy
type PeriodsReport struct {
	Best  Period `json:"best"`
	Worst Period `json:"worst"`
}

// Tracker owns the scored-outcome history
type Tracker struct {
	mu         sync.RWMutex
	maxHistory int
	global     []Outcome
	byModel    map[string][]Outcome
}

// NewTracker creates a tracker bounded to maxHistory outcomes per sequence
func NewTracker(maxHistory int) *Tracker {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Tracker{
		maxHistory: maxHistory,
		global:     make([]Outcome, 0, maxHistory),
		byModel:    make(map[string][]Outcome),
	}
}

// AddResult appends the outcome to the global sequence and, for each supplied
// model id, to that model's sequence. Per-model attribution is best-effort:
// callers that cannot name contributing models simply pass none.
func (t *Tracker) AddResult(o Outcome, modelIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.global = trim(append(t.global, o), t.maxHistory)
	for _, id := range modelIDs {
		if id == "" {
			continue
		}
		t.byModel[id] = trim(append(t.byModel[id], o), t.maxHistory)
	}
}

// SetMaxHistory replaces the per-sequence bound, trimming immediately
func (t *Tracker) SetMaxHistory(maxHistory int) {
	if maxHistory <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maxHistory = maxHistory
	t.global = trim(t.global, maxHistory)
	for id, seq := range t.byModel {
		t.byModel[id] = trim(seq, maxHistory)
	}
}

// Overall computes metrics over the full global sequence
func (t *Tracker) Overall() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return computeMetrics(t.global)
}

// ByModel computes metrics per model id
func (t *Tracker) ByModel() map[string]Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Metrics, len(t.byModel))
	for id, seq := range t.byModel {
		out[id] = computeMetrics(seq)
	}
	return out
}

// InWindow computes metrics over outcomes from the last `minutes` minutes
func (t *Tracker) InWindow(minutes int) Metrics {
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)

	t.mu.RLock()
	defer t.mu.RUnlock()

	recent := make([]Outcome, 0, len(t.global))
	for _, o := range t.global {
		if !o.Timestamp.Before(cutoff) {
			recent = append(recent, o)
		}
	}
	return computeMetrics(recent)
}

// Trend compares the accuracy of the last windowSize outcomes against the
// windowSize before them. With fewer than 2*windowSize outcomes the answer is
// a zeroed "stable".
func (t *Tracker) Trend(windowSize int) TrendReport {
	if windowSize <= 0 {
		windowSize = defaultTrendSize
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.global)
	if n < 2*windowSize {
		return TrendReport{Trend: "stable"}
	}

	current := computeMetrics(t.global[n-windowSize:]).Accuracy
	previous := computeMetrics(t.global[n-2*windowSize : n-windowSize]).Accuracy
	change := current - previous

	trend := "stable"
	switch {
	case change > trendThreshold:
		trend = "improving"
	case change < -trendThreshold:
		trend = "declining"
	}

	return TrendReport{Current: current, Previous: previous, Trend: trend, Change: change}
}

// ConfidenceBands partitions outcomes into high/medium/low confidence and
// reports accuracy per band.
func (t *Tracker) ConfidenceBands() ConfidenceBands {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var high, medium, low []Outcome
	for _, o := range t.global {
		switch {
		case o.Confidence >= highConfidenceFloor:
			high = append(high, o)
		case o.Confidence >= mediumConfidenceFloor:
			medium = append(medium, o)
		default:
			low = append(low, o)
		}
	}

	return ConfidenceBands{
		High:   Band{Accuracy: computeMetrics(high).Accuracy, Count: len(high)},
		Medium: Band{Accuracy: computeMetrics(medium).Accuracy, Count: len(medium)},
		Low:    Band{Accuracy: computeMetrics(low).Accuracy, Count: len(low)},
	}
}

// BestAndWorstPeriods slides a periodSize window across the chronological
// sequence and returns the windows with maximal and minimal accuracy.
func (t *Tracker) BestAndWorstPeriods(periodSize int) PeriodsReport {
	if periodSize <= 0 {
		periodSize = defaultPeriodSize
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.global)
	if n == 0 {
		return PeriodsReport{}
	}
	if n <= periodSize {
		whole := Period{Start: 0, End: n, Metrics: computeMetrics(t.global)}
		return PeriodsReport{Best: whole, Worst: whole}
	}

	best := Period{Start: -1}
	worst := Period{Start: -1}
	for start := 0; start+periodSize <= n; start++ {
		m := computeMetrics(t.global[start : start+periodSize])
		if best.Start < 0 || m.Accuracy > best.Metrics.Accuracy {
			best = Period{Start: start, End: start + periodSize, Metrics: m}
		}
		if worst.Start < 0 || m.Accuracy < worst.Metrics.Accuracy {
			worst = Period{Start: start, End: start + periodSize, Metrics: m}
		}
	}
	return PeriodsReport{Best: best, Worst: worst}
}

// Size returns the global outcome count
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.global)
}

// Reset clears all sequences
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.global = t.global[:0]
	t.byModel = make(map[string][]Outcome)
	log.Info().Msg("Performance history cleared")
}

// trim drops the oldest entries past max, keeping the backing array tidy
func trim(seq []Outcome, max int) []Outcome {
	if len(seq) <= max {
		return seq
	}
	excess := len(seq) - max
	copy(seq, seq[excess:])
	return seq[:max]
}
