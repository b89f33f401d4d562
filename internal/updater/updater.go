package updater

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adaptixlab/adaptix/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MODEL UPDATER - Retraining orchestration per model
// ═══════════════════════════════════════════════════════════════════════════════
//
// The updater knows nothing about model internals. It trims the dataset to the
// configured candle window, hands it to the external Trainer, and keeps a
// bounded history of attempts so staleness questions can be answered later.
//
// ═══════════════════════════════════════════════════════════════════════════════

const maxHistoryEntries = 100

// Trainer is the external training capability. Implementations may run the
// work asynchronously internally, but Train must not return before the model
// is usable (or training has failed).
type Trainer interface {
	Train(ctx context.Context, modelID string, dataset types.MarketData) error
}

// HistoryEntry is one retraining attempt
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	ModelID   string    `json:"modelId"`
	Samples   int       `json:"samples"`
	Success   bool      `json:"success"`
}

// Stats summarizes the retraining history
type Stats struct {
	TotalUpdates   int            `json:"totalUpdates"`
	SuccessCount   int            `json:"successCount"`
	FailureCount   int            `json:"failureCount"`
	AvgSamplesUsed float64        `json:"avgSamplesUsed"`
	LastUpdateTime time.Time      `json:"lastUpdateTime"`
	CountsByModel  map[string]int `json:"countsByModel"`
}

// Params are the knobs the learning controller forwards on config changes
type Params struct {
	MinSamplesForUpdate  int
	WindowSize           int
	PerformanceThreshold float64
	UpdateInterval       time.Duration
}

// Updater coordinates retraining through the external Trainer
type Updater struct {
	mu      sync.RWMutex
	trainer Trainer
	params  Params
	history []HistoryEntry
}

// New creates an updater around the external training capability
func New(trainer Trainer, params Params) *Updater {
	return &Updater{
		trainer: trainer,
		params:  params,
		history: make([]HistoryEntry, 0, maxHistoryEntries),
	}
}

// SetParams replaces the tunables; called when the controller's config changes
func (u *Updater) SetParams(params Params) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.params = params
}

// Update retrains one model on a window-trimmed dataset. Below the minimum
// evaluated-sample count it logs and returns (false, nil): a no-op that
// records no history entry. The returned bool reports whether the trainer was
// actually invoked, so callers can mirror real attempts only. Trainer failures
// are recorded as a failed history entry and returned so the caller decides
// whether to continue with other models.
func (u *Updater) Update(ctx context.Context, modelID string, marketData types.MarketData, predictions []types.PredictionRecord) (bool, error) {
	u.mu.RLock()
	params := u.params
	u.mu.RUnlock()

	evaluated := 0
	for i := range predictions {
		if predictions[i].Evaluated() {
			evaluated++
		}
	}

	if evaluated < params.MinSamplesForUpdate {
		log.Info().
			Str("model", modelID).
			Int("evaluated", evaluated).
			Int("required", params.MinSamplesForUpdate).
			Msg("Skipping model update, not enough evaluated samples")
		return false, nil
	}

	dataset := trimDataset(marketData, params.WindowSize)

	err := u.trainer.Train(ctx, modelID, dataset)
	u.record(HistoryEntry{
		Timestamp: time.Now(),
		ModelID:   modelID,
		Samples:   evaluated,
		Success:   err == nil,
	})

	if err != nil {
		log.Error().Err(err).Str("model", modelID).Msg("Model training failed")
		return true, fmt.Errorf("train %s: %w", modelID, err)
	}

	log.Info().Str("model", modelID).Int("samples", evaluated).Msg("✅ Model retrained")
	return true, nil
}

// UpdateMany retrains each model independently; one failure never aborts the
// rest. The returned map holds the error for each model that failed.
func (u *Updater) UpdateMany(ctx context.Context, modelIDs []string, marketData types.MarketData, predictions []types.PredictionRecord) map[string]error {
	failures := make(map[string]error)
	for _, id := range modelIDs {
		if _, err := u.Update(ctx, id, marketData, predictions); err != nil {
			failures[id] = err
		}
	}
	return failures
}

// IsStale reports whether a model needs retraining: accuracy below threshold,
// no successful update on record, or too long since the last successful one.
func (u *Updater) IsStale(modelID string, currentAccuracy float64) bool {
	u.mu.RLock()
	params := u.params
	lastSuccess, ok := u.lastSuccessLocked(modelID)
	u.mu.RUnlock()

	if currentAccuracy < params.PerformanceThreshold {
		return true
	}
	if !ok {
		return true
	}
	return time.Since(lastSuccess) > params.UpdateInterval
}

// History returns retraining attempts, newest last. An empty modelID returns
// every model's entries.
func (u *Updater) History(modelID string) []HistoryEntry {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]HistoryEntry, 0, len(u.history))
	for _, e := range u.history {
		if modelID == "" || e.ModelID == modelID {
			out = append(out, e)
		}
	}
	return out
}

// Stats summarizes all recorded attempts
func (u *Updater) Stats() Stats {
	u.mu.RLock()
	defer u.mu.RUnlock()

	st := Stats{CountsByModel: make(map[string]int)}
	samples := 0
	for _, e := range u.history {
		st.TotalUpdates++
		if e.Success {
			st.SuccessCount++
		} else {
			st.FailureCount++
		}
		samples += e.Samples
		st.CountsByModel[e.ModelID]++
		if e.Timestamp.After(st.LastUpdateTime) {
			st.LastUpdateTime = e.Timestamp
		}
	}
	if st.TotalUpdates > 0 {
		st.AvgSamplesUsed = float64(samples) / float64(st.TotalUpdates)
	}
	return st
}

// record appends one attempt, capped to the most recent entries
func (u *Updater) record(e HistoryEntry) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.history = append(u.history, e)
	if len(u.history) > maxHistoryEntries {
		excess := len(u.history) - maxHistoryEntries
		copy(u.history, u.history[excess:])
		u.history = u.history[:maxHistoryEntries]
	}
}

// lastSuccessLocked requires u.mu held (read or write)
func (u *Updater) lastSuccessLocked(modelID string) (time.Time, bool) {
	for i := len(u.history) - 1; i >= 0; i-- {
		if u.history[i].ModelID == modelID && u.history[i].Success {
			return u.history[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

// trimDataset keeps only the last windowSize candles per timeframe
func trimDataset(marketData types.MarketData, windowSize int) types.MarketData {
	dataset := make(types.MarketData, len(marketData))
	for tf, candles := range marketData {
		if windowSize > 0 && len(candles) > windowSize {
			candles = candles[len(candles)-windowSize:]
		}
		trimmed := make([]types.Candle, len(candles))
		copy(trimmed, candles)
		dataset[tf] = trimmed
	}
	return dataset
}
