package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/adaptixlab/adaptix/internal/perf"
	"github.com/adaptixlab/adaptix/internal/store"
	"github.com/adaptixlab/adaptix/internal/updater"
	"github.com/adaptixlab/adaptix/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LEARNING CONTROLLER - Closes the loop between forecasts and outcomes
// ═══════════════════════════════════════════════════════════════════════════════
//
// Owns the config and sequences the store, tracker and updater. The only
// mutual exclusion is the Idle/Updating flag around the retrain cycle; logging,
// evaluation and metric queries interleave freely with an in-flight retrain,
// which reads a snapshot of the evaluated set taken at decision time.
//
// ═══════════════════════════════════════════════════════════════════════════════

// neutralBandPct: observed moves within ±0.5% count as NEUTRAL
var neutralBandPct = decimal.NewFromFloat(0.5)

// ErrUpdateInProgress is returned by forced updates that lose the race against
// an already-running retrain cycle. Gated checks just skip silently.
var ErrUpdateInProgress = errors.New("retrain cycle already in progress")

// Archive persists loop state across restarts. Optional; a nil archive
// disables persistence.
type Archive interface {
	SavePrediction(rec types.PredictionRecord) error
	SaveUpdateEntry(e updater.HistoryEntry) error
}

// Notifier pushes retrain-cycle results and accuracy alerts to the outside
// world. Optional.
type Notifier interface {
	NotifyRetrainCycle(succeeded, failed int, accuracy float64)
	NotifyAccuracyDrop(accuracy, threshold float64)
}

// PerformanceSnapshot aggregates every stats surface the loop exposes
type PerformanceSnapshot struct {
	Overall         perf.Metrics            `json:"overall"`
	ByModel         map[string]perf.Metrics `json:"byModel"`
	Trend           perf.TrendReport        `json:"trend"`
	ConfidenceBands perf.ConfidenceBands    `json:"confidenceBands"`
	Store           store.Stats             `json:"store"`
	Updates         updater.Stats           `json:"updates"`
}

// exportSnapshot is the ExportTrainingData wire shape
type exportSnapshot struct {
	Predictions []types.PredictionRecord `json:"predictions"`
	Performance perf.Metrics             `json:"performance"`
	Config      Config                   `json:"config"`
}

// Controller is the loop's root component
type Controller struct {
	mu       sync.RWMutex // guards cfg and lastUpdate
	updating atomic.Bool  // Idle=false / Updating=true

	cfg        Config
	lastUpdate time.Time

	// lastAccuracyAlert throttles degraded-accuracy notifications when no
	// dataset is available to act on; guarded by mu.
	lastAccuracyAlert time.Time

	store   *store.Store
	tracker *perf.Tracker
	updater *updater.Updater

	archive  Archive
	notifier Notifier

	idSeq atomic.Uint64
}

// NewController wires the loop around the external training capability
func NewController(cfg Config, trainer updater.Trainer) *Controller {
	return &Controller{
		cfg:     cfg,
		store:   store.New(cfg.MaxPredictionHistory),
		tracker: perf.NewTracker(cfg.MaxPredictionHistory),
		updater: updater.New(trainer, updaterParams(cfg)),
	}
}

// SetArchive attaches optional persistence
func (c *Controller) SetArchive(a Archive) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archive = a
}

// SetNotifier attaches optional retrain notifications
func (c *Controller) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

// LogPrediction stores a pending record built from the ensemble forecast and
// returns its id. No retrain side effects.
func (c *Controller) LogPrediction(ens types.EnsemblePrediction, currentPrice decimal.Decimal, symbol, timeframe string) string {
	direction := ens.Direction
	if !direction.Valid() {
		log.Warn().Str("direction", string(direction)).Msg("Unknown ensemble direction, coercing to NEUTRAL")
		direction = types.DirectionNeutral
	}

	subs := make([]types.SubPrediction, 0, len(ens.SubPredictions))
	for _, sp := range ens.SubPredictions {
		if !sp.Direction.Valid() {
			log.Warn().Str("model", sp.ModelID).Str("direction", string(sp.Direction)).Msg("Unknown sub-prediction direction, coercing to NEUTRAL")
			sp.Direction = types.DirectionNeutral
		}
		sp.Confidence = clamp01(sp.Confidence)
		subs = append(subs, sp)
	}

	now := time.Now()
	rec := types.PredictionRecord{
		ID:             c.nextID(symbol, now),
		Timestamp:      now,
		Symbol:         symbol,
		Timeframe:      timeframe,
		CurrentPrice:   currentPrice,
		Prediction:     direction,
		Confidence:     clamp01(ens.Confidence),
		SubPredictions: subs,
	}
	c.store.Add(rec)
	c.persist(rec)

	log.Debug().
		Str("id", rec.ID).
		Str("symbol", symbol).
		Str("direction", string(direction)).
		Float64("confidence", rec.Confidence).
		Msg("Prediction logged")
	return rec.ID
}

// EvaluatePrediction scores a pending record against the observed price.
// Unknown and already-evaluated ids are warn-level no-ops.
func (c *Controller) EvaluatePrediction(predictionID string, actualPrice decimal.Decimal) {
	rec, ok := c.store.Get(predictionID)
	if !ok {
		log.Warn().Str("id", predictionID).Msg("Cannot evaluate unknown prediction")
		return
	}
	if rec.Evaluated() {
		log.Warn().Str("id", predictionID).Msg("Prediction already evaluated, ignoring")
		return
	}
	if rec.CurrentPrice.IsZero() {
		log.Warn().Str("id", predictionID).Msg("Prediction has zero reference price, skipping evaluation")
		return
	}

	changePct := actualPrice.Sub(rec.CurrentPrice).Div(rec.CurrentPrice).Mul(decimal.NewFromInt(100))

	actualDirection := types.DirectionNeutral
	switch {
	case changePct.GreaterThan(neutralBandPct):
		actualDirection = types.DirectionUp
	case changePct.LessThan(neutralBandPct.Neg()):
		actualDirection = types.DirectionDown
	}

	correct := rec.Prediction == actualDirection
	pnl := actualPrice.Sub(rec.CurrentPrice)
	now := time.Now()

	rec.SetOutcome(actualPrice, actualDirection, correct, pnl, changePct, now)
	c.store.Update(rec)
	c.persist(rec)

	outcome := perf.Outcome{
		Timestamp:  now,
		Correct:    correct,
		PnL:        pnl.InexactFloat64(),
		PnLPercent: changePct.InexactFloat64(),
		Confidence: rec.Confidence,
		Predicted:  rec.Prediction,
		Actual:     actualDirection,
	}
	// Best-effort per-model attribution: the ensemble's correctness is
	// evidence for the sub-models that voted with it.
	c.tracker.AddResult(outcome, agreeingModels(rec)...)

	log.Info().
		Str("id", rec.ID).
		Str("predicted", string(rec.Prediction)).
		Str("actual", string(actualDirection)).
		Bool("correct", correct).
		Str("pnlPct", changePct.StringFixed(3)).
		Msg("Prediction evaluated")

	c.maybeRetrain(context.Background(), nil)
}

// EvaluateDue evaluates every pending prediction for symbol logged at least
// horizon ago, using price as the observed value. Returns the number scored.
func (c *Controller) EvaluateDue(symbol string, price decimal.Decimal, horizon time.Duration) int {
	cutoff := time.Now().Add(-horizon)
	due := 0
	for _, rec := range c.store.Pending() {
		if rec.Symbol != symbol || rec.Timestamp.After(cutoff) {
			continue
		}
		c.EvaluatePrediction(rec.ID, price)
		due++
	}
	return due
}

// ProcessNewCandle runs the gated retrain check on per-candle trigger mode
func (c *Controller) ProcessNewCandle(marketData types.MarketData, symbol, timeframe string) {
	c.mu.RLock()
	perCandle := c.cfg.TriggerMode == TriggerPerCandle
	auto := c.cfg.AutoRetrain
	c.mu.RUnlock()

	if !perCandle || !auto {
		return
	}
	log.Debug().Str("symbol", symbol).Str("timeframe", timeframe).Msg("Candle trigger, checking retrain conditions")
	c.maybeRetrain(context.Background(), marketData)
}

// ForceUpdate unconditionally runs a full retrain cycle, bypassing the
// decision gate but still respecting the concurrency guard. An empty dataset
// is a logged no-op, same as the gated path.
func (c *Controller) ForceUpdate(ctx context.Context, marketData types.MarketData) error {
	if len(marketData) == 0 {
		log.Warn().Msg("Forced retrain without a dataset, skipping cycle")
		return nil
	}
	if !c.updating.CompareAndSwap(false, true) {
		return ErrUpdateInProgress
	}
	defer c.updating.Store(false)

	c.runRetrainCycleLocked(ctx, marketData)
	return nil
}

// ForceUpdateModel retrains a single model immediately. Unlike the full
// cycle, a training failure here is re-raised to the caller.
func (c *Controller) ForceUpdateModel(ctx context.Context, marketData types.MarketData, modelID string) error {
	if len(marketData) == 0 {
		log.Warn().Str("model", modelID).Msg("Forced retrain without a dataset, skipping")
		return nil
	}
	if !c.updating.CompareAndSwap(false, true) {
		return ErrUpdateInProgress
	}
	defer c.updating.Store(false)

	c.mu.RLock()
	timeout := c.cfg.TrainTimeout
	c.mu.RUnlock()

	evaluated := c.store.Evaluated()
	trained, err := c.trainOne(ctx, modelID, marketData, evaluated, timeout)
	if trained {
		c.recordUpdateEntry(modelID, len(evaluated), err == nil)
	}
	if err != nil {
		return fmt.Errorf("forced update of %s: %w", modelID, err)
	}
	return nil
}

// IsUpdating reports whether a retrain cycle is in flight
func (c *Controller) IsUpdating() bool {
	return c.updating.Load()
}

// GetPerformanceStats aggregates every stats surface
func (c *Controller) GetPerformanceStats() PerformanceSnapshot {
	return PerformanceSnapshot{
		Overall:         c.tracker.Overall(),
		ByModel:         c.tracker.ByModel(),
		Trend:           c.tracker.Trend(0),
		ConfidenceBands: c.tracker.ConfidenceBands(),
		Store:           c.store.Stats(),
		Updates:         c.updater.Stats(),
	}
}

// GetPredictionHistory returns up to limit most recent records, newest first
func (c *Controller) GetPredictionHistory(limit int) []types.PredictionRecord {
	return c.store.Recent(limit)
}

// Tracker exposes windowed/trend queries directly
func (c *Controller) Tracker() *perf.Tracker { return c.tracker }

// Store exposes the prediction record store
func (c *Controller) Store() *store.Store { return c.store }

// Updater exposes retraining history and staleness queries
func (c *Controller) Updater() *updater.Updater { return c.updater }

// ExportTrainingData serializes {predictions, performance, config}
func (c *Controller) ExportTrainingData() ([]byte, error) {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	snap := exportSnapshot{
		Predictions: c.store.Recent(0),
		Performance: c.tracker.Overall(),
		Config:      cfg,
	}
	return json.Marshal(snap)
}

// Config returns a copy of the current configuration
func (c *Controller) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// UpdateConfig merges a partial config and propagates the change to the
// updater, store and tracker synchronously.
func (c *Controller) UpdateConfig(patch ConfigPatch) {
	c.mu.Lock()
	c.cfg = patch.apply(c.cfg)
	cfg := c.cfg
	c.mu.Unlock()

	c.updater.SetParams(updaterParams(cfg))
	c.store.SetMaxSize(cfg.MaxPredictionHistory)
	c.tracker.SetMaxHistory(cfg.MaxPredictionHistory)

	log.Info().
		Str("trigger", string(cfg.TriggerMode)).
		Int("minSamples", cfg.MinSamplesForUpdate).
		Float64("threshold", cfg.PerformanceThreshold).
		Msg("Learning config updated")
}

// Reset clears prediction and outcome history and the update bookkeeping
func (c *Controller) Reset() {
	c.store.Clear()
	c.tracker.Reset()

	c.mu.Lock()
	c.lastUpdate = time.Time{}
	c.lastAccuracyAlert = time.Time{}
	c.mu.Unlock()

	log.Info().Msg("Learning loop reset")
}

// maybeRetrain is the gated decision check. marketData may be nil when the
// trigger carries no dataset (e.g. an evaluation); the decision then degrades
// to a logged no-op at the final step.
func (c *Controller) maybeRetrain(ctx context.Context, marketData types.MarketData) {
	if c.updating.Load() {
		return // skipped checks are retried on the next trigger
	}

	c.mu.RLock()
	cfg := c.cfg
	lastUpdate := c.lastUpdate
	c.mu.RUnlock()

	if !cfg.AutoRetrain {
		return
	}

	fresh := c.freshEvaluatedCount(lastUpdate)
	if fresh < cfg.MinSamplesForUpdate {
		log.Debug().Int("fresh", fresh).Int("required", cfg.MinSamplesForUpdate).Msg("Not enough fresh samples for retrain")
		return
	}

	if cfg.TriggerMode == TriggerPerWindow && time.Since(lastUpdate) < cfg.UpdateInterval {
		return
	}

	accuracy := c.tracker.Overall().Accuracy
	if accuracy >= cfg.PerformanceThreshold {
		return
	}

	if len(marketData) == 0 {
		log.Info().Float64("accuracy", accuracy).Msg("Retrain warranted but no dataset available, skipping cycle")
		c.alertAccuracyDrop(accuracy, cfg)
		return
	}

	if !c.updating.CompareAndSwap(false, true) {
		return
	}
	defer c.updating.Store(false)

	log.Info().
		Float64("accuracy", accuracy).
		Float64("threshold", cfg.PerformanceThreshold).
		Int("freshSamples", fresh).
		Msg("📉 Accuracy below threshold, starting retrain cycle")

	c.runRetrainCycleLocked(ctx, marketData)
}

// runRetrainCycleLocked executes one retrain cycle. The caller must hold the
// Updating flag; it is released by the caller's defer even if a trainer
// misbehaves.
func (c *Controller) runRetrainCycleLocked(ctx context.Context, marketData types.MarketData) {
	c.mu.RLock()
	cfg := c.cfg
	notifier := c.notifier
	c.mu.RUnlock()

	// Snapshot the sample set now; evaluations arriving during the cycle
	// belong to the next one.
	evaluated := c.store.Evaluated()

	attempted := 0
	failed := 0
	for _, modelID := range cfg.ModelIDs {
		trained, err := c.trainOne(ctx, modelID, marketData, evaluated, cfg.TrainTimeout)
		if err != nil {
			failed++
			log.Error().Err(err).Str("model", modelID).Msg("Model update failed, continuing with remaining models")
		}
		if trained {
			// Mirror real attempts only; a below-minimum skip records
			// nothing, matching the updater's own history.
			attempted++
			c.recordUpdateEntry(modelID, len(evaluated), err == nil)
		}
	}

	c.mu.Lock()
	c.lastUpdate = time.Now()
	c.mu.Unlock()

	c.store.TrimTo(cfg.MaxPredictionHistory)

	succeeded := attempted - failed
	accuracy := c.tracker.Overall().Accuracy
	log.Info().
		Int("succeeded", succeeded).
		Int("failed", failed).
		Int("samples", len(evaluated)).
		Msg("🔄 Retrain cycle finished")

	if notifier != nil {
		notifier.NotifyRetrainCycle(succeeded, failed, accuracy)
	}
}

// trainOne runs a single model update under the optional training timeout.
// The bool reports whether the trainer was actually invoked.
func (c *Controller) trainOne(ctx context.Context, modelID string, marketData types.MarketData, evaluated []types.PredictionRecord, timeout time.Duration) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.updater.Update(ctx, modelID, marketData, evaluated)
}

// freshEvaluatedCount counts evaluated predictions not yet consumed by a
// retrain, i.e. evaluated after the last cycle.
func (c *Controller) freshEvaluatedCount(lastUpdate time.Time) int {
	count := 0
	for _, rec := range c.store.Evaluated() {
		if rec.EvaluatedAt != nil && rec.EvaluatedAt.After(lastUpdate) {
			count++
		}
	}
	return count
}

// alertAccuracyDrop notifies that accuracy sits below the retrain threshold
// while no dataset is available to retrain on. Throttled to one alert per
// update interval so a degraded stretch does not page on every evaluation.
func (c *Controller) alertAccuracyDrop(accuracy float64, cfg Config) {
	c.mu.Lock()
	notifier := c.notifier
	due := notifier != nil && time.Since(c.lastAccuracyAlert) >= cfg.UpdateInterval
	if due {
		c.lastAccuracyAlert = time.Now()
	}
	c.mu.Unlock()

	if due {
		notifier.NotifyAccuracyDrop(accuracy, cfg.PerformanceThreshold)
	}
}

// recordUpdateEntry mirrors one attempt into the archive, if attached
func (c *Controller) recordUpdateEntry(modelID string, samples int, success bool) {
	c.mu.RLock()
	archive := c.archive
	c.mu.RUnlock()
	if archive == nil {
		return
	}
	entry := updater.HistoryEntry{
		Timestamp: time.Now(),
		ModelID:   modelID,
		Samples:   samples,
		Success:   success,
	}
	if err := archive.SaveUpdateEntry(entry); err != nil {
		log.Error().Err(err).Str("model", modelID).Msg("Failed to persist update entry")
	}
}

// persist mirrors a record into the archive, if attached
func (c *Controller) persist(rec types.PredictionRecord) {
	c.mu.RLock()
	archive := c.archive
	c.mu.RUnlock()
	if archive == nil {
		return
	}
	if err := archive.SavePrediction(rec); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to persist prediction")
	}
}

// nextID builds a unique prediction id
func (c *Controller) nextID(symbol string, at time.Time) string {
	return fmt.Sprintf("pred_%s_%d_%d", strings.ToLower(symbol), at.UnixNano(), c.idSeq.Add(1))
}

// agreeingModels returns the sub-models that voted with the ensemble
func agreeingModels(rec types.PredictionRecord) []string {
	ids := make([]string, 0, len(rec.SubPredictions))
	for _, sp := range rec.SubPredictions {
		if sp.Direction == rec.Prediction && sp.ModelID != "" {
			ids = append(ids, sp.ModelID)
		}
	}
	return ids
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func updaterParams(cfg Config) updater.Params {
	return updater.Params{
		MinSamplesForUpdate:  cfg.MinSamplesForUpdate,
		WindowSize:           cfg.WindowSize,
		PerformanceThreshold: cfg.PerformanceThreshold,
		UpdateInterval:       cfg.UpdateInterval,
	}
}
