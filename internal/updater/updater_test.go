package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adaptixlab/adaptix/types"
)

// fakeTrainer records calls and fails for configured model ids
type fakeTrainer struct {
	mu       sync.Mutex
	calls    []string
	datasets map[string]types.MarketData
	failFor  map[string]error
}

func newFakeTrainer() *fakeTrainer {
	return &fakeTrainer{
		datasets: make(map[string]types.MarketData),
		failFor:  make(map[string]error),
	}
}

func (f *fakeTrainer) Train(_ context.Context, modelID string, dataset types.MarketData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, modelID)
	f.datasets[modelID] = dataset
	return f.failFor[modelID]
}

func (f *fakeTrainer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testParams() Params {
	return Params{
		MinSamplesForUpdate:  5,
		WindowSize:           10,
		PerformanceThreshold: 0.55,
		UpdateInterval:       time.Hour,
	}
}

func evaluatedRecords(n int) []types.PredictionRecord {
	t0 := time.Unix(0, 0).UTC()
	recs := make([]types.PredictionRecord, n)
	for i := range recs {
		recs[i] = types.PredictionRecord{
			ID:           fmt.Sprintf("pred_%d", i),
			Timestamp:    t0.Add(time.Duration(i) * time.Minute),
			CurrentPrice: decimal.NewFromInt(100),
			Prediction:   types.DirectionUp,
			Confidence:   0.8,
		}
		recs[i].SetOutcome(decimal.NewFromInt(101), types.DirectionUp, true, decimal.NewFromInt(1), decimal.NewFromInt(1), t0.Add(time.Hour))
	}
	return recs
}

func candles(n int) []types.Candle {
	t0 := time.Unix(0, 0).UTC()
	out := make([]types.Candle, n)
	for i := range out {
		px := decimal.NewFromInt(int64(100 + i))
		out[i] = types.Candle{Timestamp: t0.Add(time.Duration(i) * time.Minute), Open: px, High: px, Low: px, Close: px}
	}
	return out
}

func TestUpdateBelowMinSamplesIsNoOp(t *testing.T) {
	trainer := newFakeTrainer()
	u := New(trainer, testParams())

	trained, err := u.Update(context.Background(), "lstm", types.MarketData{"1m": candles(20)}, evaluatedRecords(4))
	if err != nil {
		t.Fatalf("no-op must not return an error: %v", err)
	}
	if trained {
		t.Fatal("a skipped update must report that no training was attempted")
	}
	if trainer.callCount() != 0 {
		t.Fatal("trainer must not be invoked below the sample minimum")
	}
	if len(u.History("")) != 0 {
		t.Fatal("a skipped update must not record a history entry")
	}
}

func TestUpdateIgnoresPendingRecords(t *testing.T) {
	trainer := newFakeTrainer()
	u := New(trainer, testParams())

	// 5 evaluated + 3 pending: pending must not count toward the minimum
	recs := evaluatedRecords(5)
	for i := 0; i < 3; i++ {
		recs = append(recs, types.PredictionRecord{ID: fmt.Sprintf("pending_%d", i)})
	}

	trained, err := u.Update(context.Background(), "lstm", types.MarketData{"1m": candles(5)}, recs)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !trained {
		t.Fatal("5 evaluated samples meet the minimum, training must run")
	}
	entries := u.History("lstm")
	if len(entries) != 1 || entries[0].Samples != 5 {
		t.Fatalf("history entry should count 5 evaluated samples: %+v", entries)
	}
}

func TestUpdateTrimsDatasetToWindow(t *testing.T) {
	trainer := newFakeTrainer()
	u := New(trainer, testParams()) // WindowSize 10

	md := types.MarketData{"1m": candles(30), "5m": candles(6)}
	if _, err := u.Update(context.Background(), "lstm", md, evaluatedRecords(5)); err != nil {
		t.Fatalf("update: %v", err)
	}

	got := trainer.datasets["lstm"]
	if len(got["1m"]) != 10 {
		t.Fatalf("1m dataset = %d candles, want 10", len(got["1m"]))
	}
	// last windowSize candles, i.e. the most recent ones
	if !got["1m"][0].Close.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("dataset must keep the newest candles, first close = %s", got["1m"][0].Close)
	}
	if len(got["5m"]) != 6 {
		t.Fatalf("short timeframes must pass through untrimmed, got %d", len(got["5m"]))
	}
}

func TestUpdateRecordsFailureAndReturnsError(t *testing.T) {
	trainer := newFakeTrainer()
	boom := errors.New("gpu on fire")
	trainer.failFor["lstm"] = boom

	u := New(trainer, testParams())
	trained, err := u.Update(context.Background(), "lstm", types.MarketData{"1m": candles(5)}, evaluatedRecords(5))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped trainer error, got %v", err)
	}
	if !trained {
		t.Fatal("a failed attempt still counts as an attempt")
	}

	entries := u.History("lstm")
	if len(entries) != 1 || entries[0].Success {
		t.Fatalf("failed attempt must be recorded as failed: %+v", entries)
	}
}

func TestUpdateManyIsolatesFailures(t *testing.T) {
	trainer := newFakeTrainer()
	trainer.failFor["transformer"] = errors.New("diverged")

	u := New(trainer, testParams())
	failures := u.UpdateMany(context.Background(), []string{"lstm", "transformer", "cnn"},
		types.MarketData{"1m": candles(5)}, evaluatedRecords(5))

	if trainer.callCount() != 3 {
		t.Fatalf("all models must be attempted, got %d calls", trainer.callCount())
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want only transformer", failures)
	}
	if _, ok := failures["transformer"]; !ok {
		t.Fatalf("transformer failure missing: %v", failures)
	}
}

func TestIsStale(t *testing.T) {
	trainer := newFakeTrainer()
	u := New(trainer, testParams()) // threshold 0.55, interval 1h

	// no successful update on record
	if !u.IsStale("lstm", 0.9) {
		t.Fatal("model without a successful update must be stale")
	}

	if _, err := u.Update(context.Background(), "lstm", types.MarketData{"1m": candles(5)}, evaluatedRecords(5)); err != nil {
		t.Fatalf("update: %v", err)
	}

	if u.IsStale("lstm", 0.9) {
		t.Fatal("freshly trained model with good accuracy must not be stale")
	}
	if !u.IsStale("lstm", 0.4) {
		t.Fatal("accuracy below threshold must mean stale")
	}
	// another model id is still stale
	if !u.IsStale("cnn", 0.9) {
		t.Fatal("unseen model must be stale")
	}
}

func TestStatsAndHistoryCap(t *testing.T) {
	trainer := newFakeTrainer()
	trainer.failFor["bad"] = errors.New("nope")
	u := New(trainer, testParams())

	recs := evaluatedRecords(5)
	md := types.MarketData{"1m": candles(5)}
	for i := 0; i < 60; i++ {
		_, _ = u.Update(context.Background(), "good", md, recs)
		_, _ = u.Update(context.Background(), "bad", md, recs)
	}

	st := u.Stats()
	if st.TotalUpdates != maxHistoryEntries {
		t.Fatalf("history must be capped at %d, got %d", maxHistoryEntries, st.TotalUpdates)
	}
	if st.SuccessCount+st.FailureCount != st.TotalUpdates {
		t.Fatalf("success+failure must equal total: %+v", st)
	}
	if st.AvgSamplesUsed != 5 {
		t.Fatalf("avgSamplesUsed = %f, want 5", st.AvgSamplesUsed)
	}
	if st.LastUpdateTime.IsZero() {
		t.Fatal("lastUpdateTime must be set")
	}
	if st.CountsByModel["good"] == 0 || st.CountsByModel["bad"] == 0 {
		t.Fatalf("countsByModel missing entries: %+v", st.CountsByModel)
	}
}
