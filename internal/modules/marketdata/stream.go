package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/signald/internal/events"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// maxCandleBuffer bounds the per-ticker bar history; enough for the
	// slowest indicator period with headroom.
	maxCandleBuffer = 240
)

// streamMessage is the feed's wire envelope. Quote messages carry the trade
// and book fields, candle messages the OHLCV fields.
type streamMessage struct {
	Type   string  `json:"type"`
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Volume float64 `json:"volume"`
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
}

// subscribeRequest asks the feed for quote and candle updates on tickers.
type subscribeRequest struct {
	Op      string   `json:"op"`
	Tickers []string `json:"tickers"`
}

// QuoteStream maintains a live websocket subscription to the market data
// feed and keeps the latest quote plus a bounded candle buffer per ticker.
// Updates are written through to the cache repository so a restart resumes
// from recent data.
type QuoteStream struct {
	// Connection
	url        string
	tickers    []string
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	// Dependencies
	cache    *CacheRepository
	eventBus *events.Bus
	log      zerolog.Logger

	// State
	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	// Market state (thread-safe)
	quotes  map[string]Quote
	candles map[string][]Candle
	dataMu  sync.RWMutex
}

// NewQuoteStream creates a quote stream client for the given feed URL and
// ticker subscription list. cache and eventBus may be nil in tests.
func NewQuoteStream(url string, tickers []string, cache *CacheRepository, eventBus *events.Bus, log zerolog.Logger) *QuoteStream {
	return &QuoteStream{
		url:      url,
		tickers:  tickers,
		cache:    cache,
		eventBus: eventBus,
		log:      log.With().Str("component", "quote_stream").Logger(),
		stopChan: make(chan struct{}),
		quotes:   make(map[string]Quote),
		candles:  make(map[string][]Candle),
	}
}

// Start establishes the connection and launches the read loop. A failed
// initial dial is not fatal; the reconnect loop keeps trying in background.
func (qs *QuoteStream) Start() error {
	qs.log.Info().Str("url", qs.url).Int("tickers", len(qs.tickers)).Msg("Starting quote stream")

	if err := qs.Connect(); err != nil {
		qs.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go qs.reconnectLoop()
		return err
	}

	qs.mu.RLock()
	ctx := qs.connCtx
	qs.mu.RUnlock()
	go qs.readMessages(ctx)

	return nil
}

// Stop gracefully shuts down the stream.
func (qs *QuoteStream) Stop() error {
	qs.mu.Lock()
	if qs.stopped {
		qs.mu.Unlock()
		return nil
	}
	qs.stopped = true
	qs.mu.Unlock()

	qs.log.Info().Msg("Stopping quote stream")
	close(qs.stopChan)
	return qs.Disconnect()
}

// Connect dials the feed and subscribes to the configured tickers.
func (qs *QuoteStream) Connect() error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, qs.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	qs.conn = conn
	qs.connCtx = connCtx
	qs.cancelFunc = connCancel
	qs.connected = true

	if err := qs.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		qs.conn = nil
		qs.connCtx = nil
		qs.cancelFunc = nil
		qs.connected = false
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	qs.log.Info().Msg("Quote stream connected")
	if qs.eventBus != nil {
		qs.eventBus.EmitStreamStatus(true)
	}
	return nil
}

// Disconnect closes the websocket connection.
func (qs *QuoteStream) Disconnect() error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if qs.conn == nil {
		return nil
	}

	if qs.cancelFunc != nil {
		qs.cancelFunc()
		qs.cancelFunc = nil
	}

	err := qs.conn.Close(websocket.StatusNormalClosure, "")
	qs.conn = nil
	qs.connCtx = nil
	qs.connected = false

	if qs.eventBus != nil {
		qs.eventBus.EmitStreamStatus(false)
	}
	if err != nil {
		return fmt.Errorf("error closing stream: %w", err)
	}
	return nil
}

func (qs *QuoteStream) subscribe(ctx context.Context) error {
	req := subscribeRequest{Op: "subscribe", Tickers: qs.tickers}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe request: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := qs.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscribe request: %w", err)
	}

	qs.log.Debug().Strs("tickers", qs.tickers).Msg("Subscribed to feed")
	return nil
}

// readMessages drains the connection until it drops, then hands off to the
// reconnect loop unless the stream was stopped on purpose.
func (qs *QuoteStream) readMessages(ctx context.Context) {
	defer func() {
		qs.mu.RLock()
		stopped := qs.stopped
		qs.mu.RUnlock()
		if !stopped {
			go qs.reconnectLoop()
		}
	}()

	for {
		select {
		case <-qs.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		qs.mu.RLock()
		conn := qs.conn
		qs.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				qs.log.Info().Int("status", int(closeStatus)).Msg("Stream closed normally")
			} else if ctx.Err() == nil {
				qs.log.Error().Err(err).Msg("Unexpected stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := qs.handleMessage(ctx, message); err != nil {
			// Keep the stream alive through junk messages.
			qs.log.Error().Err(err).Msg("Failed to handle stream message")
		}
	}
}

// handleMessage parses one feed message and updates market state.
func (qs *QuoteStream) handleMessage(ctx context.Context, message []byte) error {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("failed to parse stream message: %w", err)
	}
	if msg.Ticker == "" {
		return fmt.Errorf("stream message without ticker")
	}

	switch msg.Type {
	case "quote":
		qs.handleQuote(ctx, msg)
	case "candle":
		qs.handleCandle(ctx, msg)
	default:
		qs.log.Debug().Str("type", msg.Type).Msg("Ignoring unknown stream message type")
	}
	return nil
}

func (qs *QuoteStream) handleQuote(ctx context.Context, msg streamMessage) {
	quote := Quote{
		Ticker:    msg.Ticker,
		Price:     msg.Price,
		Bid:       msg.Bid,
		Ask:       msg.Ask,
		Volume:    msg.Volume,
		UpdatedAt: time.Now().UTC(),
	}

	qs.dataMu.Lock()
	qs.quotes[msg.Ticker] = quote
	qs.dataMu.Unlock()

	if qs.cache != nil {
		if err := qs.cache.SaveQuote(ctx, &quote); err != nil {
			qs.log.Warn().Err(err).Str("ticker", msg.Ticker).Msg("Failed to cache quote")
		}
	}
	if qs.eventBus != nil {
		qs.eventBus.EmitQuoteUpdated(msg.Ticker, msg.Price)
	}
}

func (qs *QuoteStream) handleCandle(ctx context.Context, msg streamMessage) {
	candle := Candle{
		Ts:     time.Unix(msg.Ts, 0).UTC(),
		Open:   msg.Open,
		High:   msg.High,
		Low:    msg.Low,
		Close:  msg.Close,
		Volume: msg.Volume,
	}

	qs.dataMu.Lock()
	buf := append(qs.candles[msg.Ticker], candle)
	if len(buf) > maxCandleBuffer {
		buf = buf[len(buf)-maxCandleBuffer:]
	}
	qs.candles[msg.Ticker] = buf
	qs.dataMu.Unlock()

	if qs.cache != nil {
		if err := qs.cache.SaveCandle(ctx, msg.Ticker, candle); err != nil {
			qs.log.Warn().Err(err).Str("ticker", msg.Ticker).Msg("Failed to cache candle")
		}
	}
}

// reconnectLoop retries the connection with exponential backoff. It never
// gives up; past maxReconnectAttempts it keeps going at the capped delay.
func (qs *QuoteStream) reconnectLoop() {
	qs.mu.Lock()
	if qs.reconnecting || qs.stopped {
		qs.mu.Unlock()
		return
	}
	qs.reconnecting = true
	qs.mu.Unlock()

	defer func() {
		qs.mu.Lock()
		qs.reconnecting = false
		qs.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-qs.stopChan:
			return
		default:
		}

		qs.mu.RLock()
		stopped := qs.stopped
		qs.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := qs.calculateBackoff(attempt)
		if attempt <= maxReconnectAttempts {
			qs.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to stream")
		} else {
			qs.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Still reconnecting to stream")
		}

		select {
		case <-time.After(delay):
		case <-qs.stopChan:
			return
		}

		if err := qs.Connect(); err != nil {
			qs.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnection failed")
			continue
		}

		qs.mu.RLock()
		ctx := qs.connCtx
		qs.mu.RUnlock()
		go qs.readMessages(ctx)
		return
	}
}

func (qs *QuoteStream) calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// LatestQuote returns the most recent in-memory quote for ticker.
func (qs *QuoteStream) LatestQuote(ticker string) (Quote, bool) {
	qs.dataMu.RLock()
	defer qs.dataMu.RUnlock()
	q, ok := qs.quotes[ticker]
	return q, ok
}

// RecentCandles returns a copy of the in-memory candle buffer, oldest first.
func (qs *QuoteStream) RecentCandles(ticker string) []Candle {
	qs.dataMu.RLock()
	defer qs.dataMu.RUnlock()
	buf := qs.candles[ticker]
	out := make([]Candle, len(buf))
	copy(out, buf)
	return out
}

// IsConnected returns current connection status.
func (qs *QuoteStream) IsConnected() bool {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	return qs.connected
}
