package perf

import (
	"math"
	"time"

	"github.com/adaptixlab/adaptix/types"
)

// Outcome is one scored forecast: created when a prediction is evaluated,
// immutable afterwards. Prices are already collapsed to float64 here because
// everything downstream is statistics, not money movement.
type Outcome struct {
	Timestamp  time.Time       `json:"timestamp"`
	Correct    bool            `json:"correct"`
	PnL        float64         `json:"pnl"`
	PnLPercent float64         `json:"pnlPercent"`
	Confidence float64         `json:"confidence"`
	Predicted  types.Direction `json:"predicted"`
	Actual     types.Direction `json:"actual"`
}

// Metrics is the full scorecard over one subsequence of outcomes.
// Every zero-denominator case yields 0 rather than NaN.
type Metrics struct {
	Total         int     `json:"total"`
	Accuracy      float64 `json:"accuracy"`
	Precision     float64 `json:"precision"`
	Recall        float64 `json:"recall"`
	F1            float64 `json:"f1"`
	AvgPnL        float64 `json:"avgPnl"`
	AvgPnLPercent float64 `json:"avgPnlPercent"`
	WinRate       float64 `json:"winRate"`
	AvgConfidence float64 `json:"avgConfidence"`
	Sharpe        float64 `json:"sharpe"`
}

// computeMetrics applies the same formulas to whatever subsequence the caller
// selected. UP and DOWN are the only classes for precision/recall; NEUTRAL
// still counts toward total and accuracy.
func computeMetrics(outcomes []Outcome) Metrics {
	m := Metrics{Total: len(outcomes)}
	if m.Total == 0 {
		return m
	}

	var (
		correct, wins              int
		pnlSum, pnlPctSum, confSum float64

		upTP, upPredicted, upActual       int
		downTP, downPredicted, downActual int
	)

	for _, o := range outcomes {
		if o.Correct {
			correct++
		}
		if o.PnL > 0 {
			wins++
		}
		pnlSum += o.PnL
		pnlPctSum += o.PnLPercent
		confSum += o.Confidence

		switch o.Predicted {
		case types.DirectionUp:
			upPredicted++
			if o.Actual == types.DirectionUp {
				upTP++
			}
		case types.DirectionDown:
			downPredicted++
			if o.Actual == types.DirectionDown {
				downTP++
			}
		}
		switch o.Actual {
		case types.DirectionUp:
			upActual++
		case types.DirectionDown:
			downActual++
		}
	}

	total := float64(m.Total)
	m.Accuracy = float64(correct) / total
	m.WinRate = float64(wins) / total
	m.AvgPnL = pnlSum / total
	m.AvgPnLPercent = pnlPctSum / total
	m.AvgConfidence = confSum / total

	m.Precision = (ratio(upTP, upPredicted) + ratio(downTP, downPredicted)) / 2
	m.Recall = (ratio(upTP, upActual) + ratio(downTP, downActual)) / 2
	if sum := m.Precision + m.Recall; sum > 0 {
		m.F1 = 2 * m.Precision * m.Recall / sum
	}

	// Sharpe over pnl%, population stdev
	variance := 0.0
	for _, o := range outcomes {
		d := o.PnLPercent - m.AvgPnLPercent
		variance += d * d
	}
	if stdev := math.Sqrt(variance / total); stdev > 0 {
		m.Sharpe = m.AvgPnLPercent / stdev
	}

	return m
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
