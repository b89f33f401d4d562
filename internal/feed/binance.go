package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/adaptixlab/adaptix/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE KLINE FEED - Observed prices for outcome evaluation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Streams kline events over WebSocket and republishes closed candles to
// subscribers. The loop only needs observed closes: the evaluation scheduler
// scores pending forecasts against them, and closed candles accumulate into
// the retrain dataset.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	binanceWSBase = "wss://stream.binance.com:9443/stream?streams="
	pingInterval  = 30 * time.Second
)

// CandleEvent is one kline update; Closed marks the final tick of the bar
type CandleEvent struct {
	Symbol    string
	Timeframe string
	Candle    types.Candle
	Closed    bool
}

// streamMessage is the combined-stream envelope
type streamMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Kline  struct {
			StartTime int64  `json:"t"`
			Symbol    string `json:"s"`
			Interval  string `json:"i"`
			Open      string `json:"o"`
			Close     string `json:"c"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Volume    string `json:"v"`
			Final     bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// BinanceFeed streams klines for a set of symbols on one timeframe
type BinanceFeed struct {
	mu        sync.RWMutex
	running   bool
	connected bool
	stopCh    chan struct{}
	conn      *websocket.Conn

	symbols   []string
	timeframe string

	// Last observed close per symbol
	prices map[string]decimal.Decimal

	subscribers []chan CandleEvent
}

// NewBinanceFeed creates a feed for the given symbols and timeframe
func NewBinanceFeed(symbols []string, timeframe string) *BinanceFeed {
	return &BinanceFeed{
		stopCh:      make(chan struct{}),
		symbols:     symbols,
		timeframe:   timeframe,
		prices:      make(map[string]decimal.Decimal),
		subscribers: make([]chan CandleEvent, 0),
	}
}

// Start connects and begins processing
func (f *BinanceFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Strs("symbols", f.symbols).Str("timeframe", f.timeframe).Msg("📈 Binance kline feed started")
}

// Stop closes the connection
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}

	f.running = false
	close(f.stopCh)

	if f.conn != nil {
		f.conn.Close()
	}

	log.Info().Msg("Binance kline feed stopped")
}

// Subscribe returns a channel that receives candle events
func (f *BinanceFeed) Subscribe() chan CandleEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan CandleEvent, 100)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// GetPrice returns the last observed close for a symbol
func (f *BinanceFeed) GetPrice(symbol string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prices[strings.ToUpper(symbol)]
}

// connectionLoop maintains the WebSocket connection with exponential backoff
func (f *BinanceFeed) connectionLoop() {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry forever

	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			wait := policy.NextBackOff()
			log.Error().Err(err).Dur("retryIn", wait).Msg("Feed connection failed")
			select {
			case <-f.stopCh:
				return
			case <-time.After(wait):
			}
			continue
		}

		policy.Reset()
		f.readLoop()
	}
}

// connect establishes the WebSocket connection
func (f *BinanceFeed) connect() error {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(s), f.timeframe))
	}

	conn, _, err := websocket.DefaultDialer.Dial(binanceWSBase+strings.Join(streams, "/"), nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	log.Info().Msg("🔌 Binance WebSocket connected")

	go f.pingLoop()
	return nil
}

// readLoop processes messages until the connection drops
func (f *BinanceFeed) readLoop() {
	for {
		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			f.connected = false
			f.mu.Unlock()
			select {
			case <-f.stopCh:
			default:
				log.Warn().Err(err).Msg("Feed read failed, reconnecting")
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.Event != "kline" {
			continue
		}

		event, err := toCandleEvent(msg)
		if err != nil {
			log.Debug().Err(err).Str("stream", msg.Stream).Msg("Dropping malformed kline")
			continue
		}

		f.mu.Lock()
		f.prices[event.Symbol] = event.Candle.Close
		subs := f.subscribers
		f.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- event:
			default: // slow subscriber, drop rather than block the read loop
			}
		}
	}
}

// pingLoop keeps the connection alive
func (f *BinanceFeed) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.mu.RLock()
			conn := f.conn
			connected := f.connected
			f.mu.RUnlock()

			if !connected || conn == nil {
				return
			}
			conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func toCandleEvent(msg streamMessage) (CandleEvent, error) {
	k := msg.Data.Kline

	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return CandleEvent{}, err
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return CandleEvent{}, err
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return CandleEvent{}, err
	}
	closePx, err := decimal.NewFromString(k.Close)
	if err != nil {
		return CandleEvent{}, err
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return CandleEvent{}, err
	}

	return CandleEvent{
		Symbol:    strings.ToUpper(k.Symbol),
		Timeframe: k.Interval,
		Closed:    k.Final,
		Candle: types.Candle{
			Timestamp: time.UnixMilli(k.StartTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
		},
	}, nil
}
