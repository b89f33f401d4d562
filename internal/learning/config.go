package learning

import "time"

// TriggerMode selects when the retrain-decision check runs
type TriggerMode string

const (
	// TriggerPerCandle runs the check on every new market event
	TriggerPerCandle TriggerMode = "candle"
	// TriggerPerWindow runs the check at most once per update interval
	TriggerPerWindow TriggerMode = "window"
	// TriggerManual leaves retraining to explicit ForceUpdate calls
	TriggerManual TriggerMode = "manual"
)

// Config is the learning loop's immutable-per-session configuration. Replace
// it at runtime through UpdateConfig, never by mutating in place.
type Config struct {
	TriggerMode          TriggerMode   `json:"triggerMode"`
	WindowSize           int           `json:"windowSize"`          // candles per timeframe in a retrain dataset
	MinSamplesForUpdate  int           `json:"minSamplesForUpdate"` // evaluated samples required before any retrain
	UpdateInterval       time.Duration `json:"updateInterval"`      // min wall-clock gap between window-triggered retrains
	AutoRetrain          bool          `json:"autoRetrain"`
	PerformanceThreshold float64       `json:"performanceThreshold"` // retrain when accuracy drops below this
	MaxPredictionHistory int           `json:"maxPredictionHistory"`
	ModelIDs             []string      `json:"modelIds"`
	TrainTimeout         time.Duration `json:"trainTimeout"` // 0 = wait forever on the trainer
}

// DefaultConfig returns the stock tuning
func DefaultConfig() Config {
	return Config{
		TriggerMode:          TriggerPerWindow,
		WindowSize:           200,
		MinSamplesForUpdate:  50,
		UpdateInterval:       30 * time.Minute,
		AutoRetrain:          true,
		PerformanceThreshold: 0.55,
		MaxPredictionHistory: 1000,
		ModelIDs:             []string{"lstm", "transformer", "cnn", "xgboost"},
		TrainTimeout:         0,
	}
}

// ConfigPatch is a partial config update; nil fields keep their prior values
type ConfigPatch struct {
	TriggerMode          *TriggerMode   `json:"triggerMode,omitempty"`
	WindowSize           *int           `json:"windowSize,omitempty"`
	MinSamplesForUpdate  *int           `json:"minSamplesForUpdate,omitempty"`
	UpdateInterval       *time.Duration `json:"updateInterval,omitempty"`
	AutoRetrain          *bool          `json:"autoRetrain,omitempty"`
	PerformanceThreshold *float64       `json:"performanceThreshold,omitempty"`
	MaxPredictionHistory *int           `json:"maxPredictionHistory,omitempty"`
	ModelIDs             []string       `json:"modelIds,omitempty"`
	TrainTimeout         *time.Duration `json:"trainTimeout,omitempty"`
}

// apply merges the patch into a copy of cfg
func (p ConfigPatch) apply(cfg Config) Config {
	if p.TriggerMode != nil {
		cfg.TriggerMode = *p.TriggerMode
	}
	if p.WindowSize != nil {
		cfg.WindowSize = *p.WindowSize
	}
	if p.MinSamplesForUpdate != nil {
		cfg.MinSamplesForUpdate = *p.MinSamplesForUpdate
	}
	if p.UpdateInterval != nil {
		cfg.UpdateInterval = *p.UpdateInterval
	}
	if p.AutoRetrain != nil {
		cfg.AutoRetrain = *p.AutoRetrain
	}
	if p.PerformanceThreshold != nil {
		cfg.PerformanceThreshold = *p.PerformanceThreshold
	}
	if p.MaxPredictionHistory != nil {
		cfg.MaxPredictionHistory = *p.MaxPredictionHistory
	}
	if p.ModelIDs != nil {
		cfg.ModelIDs = append([]string(nil), p.ModelIDs...)
	}
	if p.TrainTimeout != nil {
		cfg.TrainTimeout = *p.TrainTimeout
	}
	return cfg
}
