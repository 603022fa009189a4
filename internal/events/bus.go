// Package events provides the in-process pub/sub bus that connects the
// decision pipeline to the SSE stream and background listeners.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventType identifies a class of system event.
type EventType string

const (
	// SignalReceived fires when the boundary accepts a raw signal.
	SignalReceived EventType = "SIGNAL_RECEIVED"
	// SignalRejected fires when a payload fails normalization or auth.
	SignalRejected EventType = "SIGNAL_REJECTED"
	// DecisionMade fires after a decision is appended to the ledger.
	DecisionMade EventType = "DECISION_MADE"
	// DecisionAmended fires after an exit outcome is recorded.
	DecisionAmended EventType = "DECISION_AMENDED"
	// QuoteUpdated fires on every stream quote tick.
	QuoteUpdated EventType = "QUOTE_UPDATED"
	// StreamStatusChanged fires when the feed connects or drops.
	StreamStatusChanged EventType = "STREAM_STATUS_CHANGED"
	// RetryQueued fires when a failed ledger append lands in the retry queue.
	RetryQueued EventType = "RETRY_QUEUED"

	// Job lifecycle events from the scheduler.
	JobStarted   EventType = "JOB_STARTED"
	JobCompleted EventType = "JOB_COMPLETED"
	JobFailed    EventType = "JOB_FAILED"
)

// Event is one published occurrence. Data is a loosely typed map at the bus
// level; typed payloads live in event_data.go for producers that want them.
type Event struct {
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Handler receives published events. Handlers must not block; slow consumers
// should buffer internally and drop (the SSE stream does exactly that).
type Handler func(*Event)

// Bus is a minimal in-process pub/sub dispatcher. Emit never blocks the
// producer: dispatch happens on a dedicated goroutine per event.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	allSubs  map[int]Handler
	nextID   int
	log      zerolog.Logger
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		allSubs:  make(map[int]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type. Subscriptions are
// permanent; use SubscribeAll for connection-scoped consumers.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type and returns a
// cancel function that detaches it. SSE connections hold one of these for
// their lifetime.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.allSubs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.allSubs, id)
		b.mu.Unlock()
	}
}

// Emit publishes an event to all matching handlers. The producer returns
// immediately; a panicking handler is logged and isolated.
func (b *Bus) Emit(t EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      t,
		Module:    module,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[t])+len(b.allSubs))
	targets = append(targets, b.handlers[t]...)
	for _, h := range b.allSubs {
		targets = append(targets, h)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	go func() {
		for _, h := range targets {
			b.dispatch(h, event)
		}
	}()
}

func (b *Bus) dispatch(h Handler, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(e.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(e)
}

// EmitQuoteUpdated publishes a quote tick.
func (b *Bus) EmitQuoteUpdated(ticker string, price float64) {
	b.Emit(QuoteUpdated, "marketdata", map[string]interface{}{
		"ticker": ticker,
		"price":  price,
	})
}

// EmitStreamStatus publishes a feed connectivity change.
func (b *Bus) EmitStreamStatus(connected bool) {
	b.Emit(StreamStatusChanged, "marketdata", map[string]interface{}{
		"connected": connected,
	})
}
