// Adaptix - Online-learning control loop for prediction ensembles
//
// Adaptix closes the loop between a predictive model's forecasts and their
// real-world outcomes:
// 1. The external ensemble predictor POSTs forecasts to /predictions
// 2. Observed prices arrive from the Binance kline feed
// 3. Pending forecasts are scored once their evaluation horizon elapses
// 4. Rolling accuracy decides when the external trainer is asked to retrain
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/adaptixlab/adaptix/internal/config"
	"github.com/adaptixlab/adaptix/internal/database"
	"github.com/adaptixlab/adaptix/internal/feed"
	"github.com/adaptixlab/adaptix/internal/learning"
	"github.com/adaptixlab/adaptix/internal/notify"
	"github.com/adaptixlab/adaptix/types"
)

const version = "1.0.0"

// candleBook accumulates closed candles per symbol for retrain datasets
type candleBook struct {
	mu      sync.RWMutex
	maxKeep int
	byKey   map[string][]types.Candle // "SYMBOL|timeframe"
}

func newCandleBook(maxKeep int) *candleBook {
	return &candleBook{maxKeep: maxKeep, byKey: make(map[string][]types.Candle)}
}

func (b *candleBook) add(symbol, timeframe string, c types.Candle) {
	key := symbol + "|" + timeframe
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := append(b.byKey[key], c)
	if len(seq) > b.maxKeep {
		seq = seq[len(seq)-b.maxKeep:]
	}
	b.byKey[key] = seq
}

// dataset returns the symbol's candle history per timeframe. An empty symbol
// merges every symbol's candles per timeframe, ordered by timestamp, which is
// what a whole-portfolio retrain wants.
func (b *candleBook) dataset(symbol string) types.MarketData {
	b.mu.RLock()
	defer b.mu.RUnlock()

	md := make(types.MarketData)
	for key, seq := range b.byKey {
		parts := strings.SplitN(key, "|", 2)
		if symbol != "" && parts[0] != strings.ToUpper(symbol) {
			continue
		}
		md[parts[1]] = append(md[parts[1]], seq...)
	}
	for _, candles := range md {
		sort.Slice(candles, func(i, j int) bool {
			return candles[i].Timestamp.Before(candles[j].Timestamp)
		})
	}
	return md
}

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("version", version).
		Strs("symbols", cfg.Symbols).
		Str("timeframe", cfg.Timeframe).
		Str("trigger", string(cfg.Learning.TriggerMode)).
		Msg("⚡ Adaptix learning loop starting...")

	// External training capability
	trainer := newHTTPTrainer(cfg.TrainerURL, cfg.TrainerTimeout)

	// Learning controller owns the store, tracker and updater
	ctrl := learning.NewController(cfg.Learning, trainer)

	// Optional persistence
	if cfg.DatabasePath != "" {
		db, err := database.New(cfg.DatabasePath)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Database unavailable, running without persistence")
		} else {
			defer db.Close()
			ctrl.SetArchive(db)
			warmStore(ctrl, db, cfg.Learning.MaxPredictionHistory)
		}
	}

	// Optional Telegram notifications
	if tg := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID); tg != nil {
		ctrl.SetNotifier(tg)
	}

	// Market data feed
	book := newCandleBook(cfg.Learning.WindowSize * 4)
	priceFeed := feed.NewBinanceFeed(cfg.Symbols, cfg.Timeframe)
	candles := priceFeed.Subscribe()
	priceFeed.Start()
	defer priceFeed.Stop()

	go runLoop(ctrl, book, candles, cfg.EvaluationHorizon)

	// Intake / inspection HTTP server
	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: (&server{
			ctrl:      ctrl,
			price:     priceFeed.GetPrice,
			dataset:   book.dataset,
			timeframe: cfg.Timeframe,
		}).routes(),
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("🌐 HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
}

// runLoop drives evaluation and retrain checks from closed candles
func runLoop(ctrl *learning.Controller, book *candleBook, candles chan feed.CandleEvent, horizon time.Duration) {
	for event := range candles {
		if !event.Closed {
			continue
		}

		book.add(event.Symbol, event.Timeframe, event.Candle)

		if n := ctrl.EvaluateDue(event.Symbol, event.Candle.Close, horizon); n > 0 {
			log.Debug().Int("evaluated", n).Str("symbol", event.Symbol).Msg("Scored due predictions")
		}

		ctrl.ProcessNewCandle(book.dataset(event.Symbol), event.Symbol, event.Timeframe)
	}
}

// warmStore reloads persisted predictions so restarts keep their history
func warmStore(ctrl *learning.Controller, db *database.Database, limit int) {
	recs, err := db.LoadPredictions(limit)
	if err != nil {
		log.Warn().Err(err).Msg("Could not reload prediction history")
		return
	}
	for _, rec := range recs {
		ctrl.Store().Add(rec)
	}
	if len(recs) > 0 {
		log.Info().Int("records", len(recs)).Msg("💾 Prediction history reloaded")
	}
}
