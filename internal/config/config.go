package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adaptixlab/adaptix/internal/learning"
)

// Config holds all configuration for the daemon
type Config struct {
	// Market data
	Symbols   []string
	Timeframe string

	// Evaluation
	EvaluationHorizon time.Duration // how long after logging a forecast is scored

	// Intake / stats HTTP server
	ListenAddr string

	// External training service
	TrainerURL     string
	TrainerTimeout time.Duration

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64

	// Database (optional; empty disables persistence)
	DatabasePath string

	// Learning loop
	Learning learning.Config
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Symbols:   splitList(getEnv("SYMBOLS", "BTCUSDT")),
		Timeframe: getEnv("TIMEFRAME", "1m"),

		EvaluationHorizon: getEnvDuration("EVALUATION_HORIZON", 5*time.Minute),

		ListenAddr: getEnv("LISTEN_ADDR", ":8090"),

		TrainerURL:     getEnv("TRAINER_URL", "http://localhost:8091/train"),
		TrainerTimeout: getEnvDuration("TRAINER_TIMEOUT", 10*time.Minute),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/adaptix.db"),

		Learning: loadLearning(),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err == nil {
			cfg.TelegramChatID = id
		}
	}

	return cfg, nil
}

// loadLearning overlays env vars on the stock learning tuning
func loadLearning() learning.Config {
	lc := learning.DefaultConfig()
	lc.TriggerMode = learning.TriggerMode(getEnv("TRIGGER_MODE", string(lc.TriggerMode)))
	lc.WindowSize = getEnvInt("WINDOW_SIZE", lc.WindowSize)
	lc.MinSamplesForUpdate = getEnvInt("MIN_SAMPLES_FOR_UPDATE", lc.MinSamplesForUpdate)
	lc.UpdateInterval = getEnvDuration("UPDATE_INTERVAL", lc.UpdateInterval)
	lc.AutoRetrain = getEnvBool("AUTO_RETRAIN", lc.AutoRetrain)
	lc.PerformanceThreshold = getEnvFloat("PERFORMANCE_THRESHOLD", lc.PerformanceThreshold)
	lc.MaxPredictionHistory = getEnvInt("MAX_PREDICTION_HISTORY", lc.MaxPredictionHistory)
	lc.TrainTimeout = getEnvDuration("TRAIN_TIMEOUT", lc.TrainTimeout)
	if ids := os.Getenv("MODEL_IDS"); ids != "" {
		lc.ModelIDs = splitList(ids)
	}
	return lc
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
