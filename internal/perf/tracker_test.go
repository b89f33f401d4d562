package perf

import (
	"math"
	"testing"
	"time"

	"github.com/adaptixlab/adaptix/types"
)

func mkOutcome(correct bool, predicted, actual types.Direction, pnlPct, confidence float64, ts time.Time) Outcome {
	return Outcome{
		Timestamp:  ts,
		Correct:    correct,
		PnL:        pnlPct, // magnitude is irrelevant for these tests
		PnLPercent: pnlPct,
		Confidence: confidence,
		Predicted:  predicted,
		Actual:     actual,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOverallAccuracy(t *testing.T) {
	tr := NewTracker(100)
	now := time.Now()

	// 10 outcomes, 7 correct
	for i := 0; i < 10; i++ {
		correct := i < 7
		actual := types.DirectionDown
		if correct {
			actual = types.DirectionUp
		}
		tr.AddResult(mkOutcome(correct, types.DirectionUp, actual, 1.0, 0.8, now))
	}

	m := tr.Overall()
	if m.Total != 10 {
		t.Fatalf("total = %d, want 10", m.Total)
	}
	if !almostEqual(m.Accuracy, 0.7) {
		t.Fatalf("accuracy = %f, want 0.7", m.Accuracy)
	}
}

func TestEmptyMetricsAreZero(t *testing.T) {
	m := NewTracker(10).Overall()
	if m.Total != 0 || m.Accuracy != 0 || m.Precision != 0 || m.Recall != 0 ||
		m.F1 != 0 || m.Sharpe != 0 || m.WinRate != 0 {
		t.Fatalf("empty metrics must be all zero: %+v", m)
	}
}

func TestPrecisionRecallExcludeNeutral(t *testing.T) {
	tr := NewTracker(100)
	now := time.Now()

	// 2 UP predictions: 1 hits UP, 1 lands NEUTRAL
	tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 1, 0.8, now))
	tr.AddResult(mkOutcome(false, types.DirectionUp, types.DirectionNeutral, 0.1, 0.8, now))
	// 1 DOWN prediction that hits
	tr.AddResult(mkOutcome(true, types.DirectionDown, types.DirectionDown, 1, 0.8, now))
	// 1 NEUTRAL prediction: counts for accuracy only
	tr.AddResult(mkOutcome(true, types.DirectionNeutral, types.DirectionNeutral, 0.1, 0.8, now))

	m := tr.Overall()
	// precision_UP = 1/2, precision_DOWN = 1/1 → 0.75
	if !almostEqual(m.Precision, 0.75) {
		t.Fatalf("precision = %f, want 0.75", m.Precision)
	}
	// recall_UP = 1/1, recall_DOWN = 1/1 → 1.0
	if !almostEqual(m.Recall, 1.0) {
		t.Fatalf("recall = %f, want 1.0", m.Recall)
	}
	wantF1 := 2 * 0.75 * 1.0 / 1.75
	if !almostEqual(m.F1, wantF1) {
		t.Fatalf("f1 = %f, want %f", m.F1, wantF1)
	}
	if !almostEqual(m.Accuracy, 0.75) {
		t.Fatalf("accuracy = %f, want 0.75", m.Accuracy)
	}
}

func TestPrecisionZeroDenominator(t *testing.T) {
	tr := NewTracker(100)
	now := time.Now()

	// only NEUTRAL predictions: both class denominators are zero
	tr.AddResult(mkOutcome(true, types.DirectionNeutral, types.DirectionNeutral, 0, 0.5, now))

	m := tr.Overall()
	if m.Precision != 0 || m.Recall != 0 || m.F1 != 0 {
		t.Fatalf("degenerate precision/recall must be 0: %+v", m)
	}
}

func TestSharpeZeroVariance(t *testing.T) {
	tr := NewTracker(100)
	now := time.Now()

	// identical pnl% values → stdev 0 → sharpe 0
	for i := 0; i < 5; i++ {
		tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 1.5, 0.8, now))
	}

	if m := tr.Overall(); m.Sharpe != 0 {
		t.Fatalf("sharpe = %f, want 0 for zero variance", m.Sharpe)
	}
}

func TestWinRateAndAverages(t *testing.T) {
	tr := NewTracker(100)
	now := time.Now()

	tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 2.0, 0.9, now))
	tr.AddResult(mkOutcome(false, types.DirectionUp, types.DirectionDown, -1.0, 0.5, now))

	m := tr.Overall()
	if !almostEqual(m.WinRate, 0.5) {
		t.Fatalf("winRate = %f, want 0.5", m.WinRate)
	}
	if !almostEqual(m.AvgPnLPercent, 0.5) {
		t.Fatalf("avgPnlPercent = %f, want 0.5", m.AvgPnLPercent)
	}
	if !almostEqual(m.AvgConfidence, 0.7) {
		t.Fatalf("avgConfidence = %f, want 0.7", m.AvgConfidence)
	}
}

func TestRingBufferTrim(t *testing.T) {
	tr := NewTracker(10)
	t0 := time.Unix(0, 0).UTC()

	for i := 0; i < 25; i++ {
		// only the last 10 are correct
		tr.AddResult(mkOutcome(i >= 15, types.DirectionUp, types.DirectionUp, 1, 0.8, t0.Add(time.Duration(i)*time.Minute)))
	}

	if tr.Size() != 10 {
		t.Fatalf("size = %d, want 10", tr.Size())
	}
	if m := tr.Overall(); !almostEqual(m.Accuracy, 1.0) {
		t.Fatalf("oldest outcomes should be trimmed first, accuracy = %f", m.Accuracy)
	}
}

func TestInWindow(t *testing.T) {
	tr := NewTracker(100)
	now := time.Now()

	tr.AddResult(mkOutcome(false, types.DirectionUp, types.DirectionDown, -1, 0.8, now.Add(-2*time.Hour)))
	tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 1, 0.8, now.Add(-5*time.Minute)))

	m := tr.InWindow(30)
	if m.Total != 1 {
		t.Fatalf("windowed total = %d, want 1", m.Total)
	}
	if !almostEqual(m.Accuracy, 1.0) {
		t.Fatalf("windowed accuracy = %f, want 1.0", m.Accuracy)
	}
}

func TestTrendRequiresTwoWindows(t *testing.T) {
	tr := NewTracker(100)
	now := time.Now()

	for i := 0; i < 19; i++ {
		tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 1, 0.8, now))
	}

	got := tr.Trend(10)
	if got.Trend != "stable" || got.Current != 0 || got.Previous != 0 || got.Change != 0 {
		t.Fatalf("with < 2*windowSize outcomes want zeroed stable, got %+v", got)
	}
}

func TestTrendDirection(t *testing.T) {
	cases := []struct {
		name        string
		prevCorrect int // correct out of 10 in the older window
		curCorrect  int // correct out of 10 in the newer window
		wantTrend   string
	}{
		{"improving", 5, 9, "improving"},
		{"declining", 9, 5, "declining"},
		{"stable", 7, 7, "stable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker(100)
			now := time.Now()
			add := func(count, correct int) {
				for i := 0; i < count; i++ {
					ok := i < correct
					actual := types.DirectionDown
					if ok {
						actual = types.DirectionUp
					}
					tr.AddResult(mkOutcome(ok, types.DirectionUp, actual, 1, 0.8, now))
				}
			}
			add(10, tc.prevCorrect)
			add(10, tc.curCorrect)

			got := tr.Trend(10)
			if got.Trend != tc.wantTrend {
				t.Fatalf("trend = %q (change %f), want %q", got.Trend, got.Change, tc.wantTrend)
			}
		})
	}
}

func TestConfidenceBands(t *testing.T) {
	tr := NewTracker(100)
	now := time.Now()

	tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 1, 0.9, now))     // high
	tr.AddResult(mkOutcome(false, types.DirectionUp, types.DirectionDown, -1, 0.7, now)) // high (inclusive floor)
	tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 1, 0.5, now))     // medium
	tr.AddResult(mkOutcome(false, types.DirectionUp, types.DirectionDown, -1, 0.1, now)) // low

	bands := tr.ConfidenceBands()
	if bands.High.Count != 2 || bands.Medium.Count != 1 || bands.Low.Count != 1 {
		t.Fatalf("band counts wrong: %+v", bands)
	}
	if !almostEqual(bands.High.Accuracy, 0.5) {
		t.Fatalf("high band accuracy = %f, want 0.5", bands.High.Accuracy)
	}
	if !almostEqual(bands.Medium.Accuracy, 1.0) {
		t.Fatalf("medium band accuracy = %f, want 1.0", bands.Medium.Accuracy)
	}
}

func TestBestAndWorstPeriods(t *testing.T) {
	tr := NewTracker(100)
	t0 := time.Unix(0, 0).UTC()

	// 10 bad outcomes then 10 good ones, periodSize 5:
	// worst window sits in the first half, best in the second
	for i := 0; i < 20; i++ {
		ok := i >= 10
		actual := types.DirectionDown
		if ok {
			actual = types.DirectionUp
		}
		tr.AddResult(mkOutcome(ok, types.DirectionUp, actual, 1, 0.8, t0.Add(time.Duration(i)*time.Minute)))
	}

	report := tr.BestAndWorstPeriods(5)
	if !almostEqual(report.Best.Metrics.Accuracy, 1.0) {
		t.Fatalf("best accuracy = %f, want 1.0", report.Best.Metrics.Accuracy)
	}
	if !almostEqual(report.Worst.Metrics.Accuracy, 0.0) {
		t.Fatalf("worst accuracy = %f, want 0.0", report.Worst.Metrics.Accuracy)
	}
	if report.Best.Start < 10 {
		t.Fatalf("best window should be in the second half, starts at %d", report.Best.Start)
	}
	if report.Worst.Start >= 10 {
		t.Fatalf("worst window should be in the first half, starts at %d", report.Worst.Start)
	}
	if report.Best.End-report.Best.Start != 5 {
		t.Fatalf("period length = %d, want 5", report.Best.End-report.Best.Start)
	}
}

func TestByModelAttribution(t *testing.T) {
	tr := NewTracker(100)
	now := time.Now()

	tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 1, 0.8, now), "lstm", "cnn")
	tr.AddResult(mkOutcome(false, types.DirectionUp, types.DirectionDown, -1, 0.8, now), "lstm")
	tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 1, 0.8, now)) // no attribution

	byModel := tr.ByModel()
	if byModel["lstm"].Total != 2 {
		t.Fatalf("lstm total = %d, want 2", byModel["lstm"].Total)
	}
	if byModel["cnn"].Total != 1 {
		t.Fatalf("cnn total = %d, want 1", byModel["cnn"].Total)
	}
	if tr.Overall().Total != 3 {
		t.Fatalf("global total = %d, want 3", tr.Overall().Total)
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker(100)
	tr.AddResult(mkOutcome(true, types.DirectionUp, types.DirectionUp, 1, 0.8, time.Now()), "lstm")
	tr.Reset()

	if tr.Size() != 0 {
		t.Fatalf("size after reset = %d, want 0", tr.Size())
	}
	if len(tr.ByModel()) != 0 {
		t.Fatal("per-model sequences must be cleared on reset")
	}
}
