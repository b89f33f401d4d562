package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Direction represents a predicted or observed price direction
type Direction string

const (
	DirectionUp      Direction = "UP"
	DirectionDown    Direction = "DOWN"
	DirectionNeutral Direction = "NEUTRAL"
)

// Valid reports whether d is one of the three known directions.
// Anything else is rejected at the intake boundary.
func (d Direction) Valid() bool {
	switch d {
	case DirectionUp, DirectionDown, DirectionNeutral:
		return true
	}
	return false
}

// Candle represents one OHLCV bar
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// MarketData maps a timeframe label ("1m", "5m", ...) to its candle history,
// oldest first.
type MarketData map[string][]Candle

// SubPrediction is one underlying model's vote inside an ensemble
type SubPrediction struct {
	ModelID        string           `json:"modelId"`
	Direction      Direction        `json:"direction"`
	Confidence     float64          `json:"confidence"`
	PredictedPrice *decimal.Decimal `json:"predictedPrice,omitempty"`
}

// EnsemblePrediction is the combined forecast produced by the model ensemble
type EnsemblePrediction struct {
	Direction      Direction       `json:"direction"`
	Confidence     float64         `json:"confidence"`
	SubPredictions []SubPrediction `json:"subPredictions"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PredictionRecord is one logged forecast event. Outcome fields are nil while
// the record is pending and are set together, exactly once, on evaluation.
type PredictionRecord struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	CurrentPrice   decimal.Decimal `json:"currentPrice"`
	Prediction     Direction       `json:"prediction"`
	Confidence     float64         `json:"confidence"`
	SubPredictions []SubPrediction `json:"subPredictions"`

	ActualPrice     *decimal.Decimal `json:"actualPrice"`
	ActualDirection *Direction       `json:"actualDirection"`
	IsCorrect       *bool            `json:"isCorrect"`
	PnL             *decimal.Decimal `json:"pnl"`
	PnLPercent      *decimal.Decimal `json:"pnlPercent"`
	EvaluatedAt     *time.Time       `json:"evaluatedAt"`
}

// Evaluated reports whether the record has transitioned pending→evaluated
func (r *PredictionRecord) Evaluated() bool {
	return r.EvaluatedAt != nil
}

// SetOutcome fills every outcome field in one shot so a record can never be
// observed half-evaluated.
func (r *PredictionRecord) SetOutcome(actualPrice decimal.Decimal, actualDirection Direction, correct bool, pnl, pnlPercent decimal.Decimal, at time.Time) {
	r.ActualPrice = &actualPrice
	r.ActualDirection = &actualDirection
	r.IsCorrect = &correct
	r.PnL = &pnl
	r.PnLPercent = &pnlPercent
	r.EvaluatedAt = &at
}
