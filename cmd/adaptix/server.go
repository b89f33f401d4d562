package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/adaptixlab/adaptix/internal/learning"
	"github.com/adaptixlab/adaptix/types"
)

// server is the HTTP intake and inspection surface around the loop: the
// external ensemble predictor POSTs forecasts here, operators read stats and
// force retrains.
type server struct {
	ctrl      *learning.Controller
	price     func(symbol string) decimal.Decimal
	dataset   func(symbol string) types.MarketData
	timeframe string
}

type predictRequest struct {
	Symbol       string                   `json:"symbol"`
	Timeframe    string                   `json:"timeframe"`
	CurrentPrice *decimal.Decimal         `json:"currentPrice"`
	Ensemble     types.EnsemblePrediction `json:"ensemble"`
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /predictions", s.handlePredict)
	mux.HandleFunc("GET /predictions", s.handleHistory)
	mux.HandleFunc("GET /performance", s.handlePerformance)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("POST /retrain", s.handleRetrain)
	mux.HandleFunc("POST /config", s.handleConfig)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if req.Timeframe == "" {
		req.Timeframe = s.timeframe
	}

	price := decimal.Zero
	if req.CurrentPrice != nil {
		price = *req.CurrentPrice
	} else if s.price != nil {
		price = s.price(req.Symbol)
	}
	if price.IsZero() {
		http.Error(w, "no reference price available for symbol", http.StatusServiceUnavailable)
		return
	}

	id := s.ctrl.LogPrediction(req.Ensemble, price, req.Symbol, req.Timeframe)
	writeJSON(w, map[string]string{"id": id})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	writeJSON(w, s.ctrl.GetPredictionHistory(limit))
}

func (s *server) handlePerformance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.ctrl.GetPerformanceStats())
}

func (s *server) handleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := s.ctrl.ExportTrainingData()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	var md types.MarketData
	if s.dataset != nil {
		md = s.dataset(symbol)
	}

	var err error
	if modelID := r.URL.Query().Get("model"); modelID != "" {
		err = s.ctrl.ForceUpdateModel(r.Context(), md, modelID)
	} else {
		err = s.ctrl.ForceUpdate(context.WithoutCancel(r.Context()), md)
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, learning.ErrUpdateInProgress) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, map[string]string{"status": "retrained"})
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var patch learning.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.ctrl.UpdateConfig(patch)
	writeJSON(w, s.ctrl.Config())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Response encoding failed")
	}
}
