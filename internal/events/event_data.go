package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface all typed event payloads implement. Producers
// that want compile-time checked payloads use these; the bus itself stays
// loosely typed.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// SignalReceivedData contains data for SignalReceived events
type SignalReceivedData struct {
	Sender    string `json:"sender"`
	Ticker    string `json:"ticker"`
	Direction string `json:"direction"`
	Timeframe string `json:"timeframe"`
}

// EventType returns the event type for SignalReceivedData
func (d *SignalReceivedData) EventType() EventType {
	return SignalReceived
}

// SignalRejectedData contains data for SignalRejected events
type SignalRejectedData struct {
	Sender string `json:"sender"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// EventType returns the event type for SignalRejectedData
func (d *SignalRejectedData) EventType() EventType {
	return SignalRejected
}

// DecisionMadeData contains data for DecisionMade events
type DecisionMadeData struct {
	EntryID         string  `json:"entry_id"`
	Ticker          string  `json:"ticker"`
	Decision        string  `json:"decision"`
	ConfluenceScore float64 `json:"confluence_score"`
	Timeframe       string  `json:"timeframe"`
}

// EventType returns the event type for DecisionMadeData
func (d *DecisionMadeData) EventType() EventType {
	return DecisionMade
}

// DecisionAmendedData contains data for DecisionAmended events
type DecisionAmendedData struct {
	EntryID   string `json:"entry_id"`
	OutcomeID string `json:"outcome_id"`
	Result    string `json:"result,omitempty"`
}

// EventType returns the event type for DecisionAmendedData
func (d *DecisionAmendedData) EventType() EventType {
	return DecisionAmended
}

// QuoteUpdatedData contains data for QuoteUpdated events
type QuoteUpdatedData struct {
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
}

// EventType returns the event type for QuoteUpdatedData
func (d *QuoteUpdatedData) EventType() EventType {
	return QuoteUpdated
}

// StreamStatusData contains data for StreamStatusChanged events
type StreamStatusData struct {
	Connected bool `json:"connected"`
}

// EventType returns the event type for StreamStatusData
func (d *StreamStatusData) EventType() EventType {
	return StreamStatusChanged
}

// RetryQueuedData contains data for RetryQueued events
type RetryQueuedData struct {
	EntryID  string `json:"entry_id"`
	Failure  string `json:"failure"`
	Attempts int    `json:"attempts"`
}

// EventType returns the event type for RetryQueuedData
func (d *RetryQueuedData) EventType() EventType {
	return RetryQueued
}

// JobStatusData contains data for scheduler job lifecycle events
type JobStatusData struct {
	JobName   string    `json:"job_name"`
	Status    string    `json:"status"` // "started", "completed", "failed"
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration,omitempty"` // seconds
	Timestamp time.Time `json:"timestamp"`
}

// EventType returns the event type for JobStatusData
// Note: The actual event type is determined by the Status field
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// EventWithData represents an event with a typed payload
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) > 0 {
		var eventData EventData
		switch aux.Type {
		case SignalReceived:
			eventData = &SignalReceivedData{}
		case SignalRejected:
			eventData = &SignalRejectedData{}
		case DecisionMade:
			eventData = &DecisionMadeData{}
		case DecisionAmended:
			eventData = &DecisionAmendedData{}
		case QuoteUpdated:
			eventData = &QuoteUpdatedData{}
		case StreamStatusChanged:
			eventData = &StreamStatusData{}
		case RetryQueued:
			eventData = &RetryQueuedData{}
		case JobStarted, JobCompleted, JobFailed:
			eventData = &JobStatusData{}
		default:
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if eventData != nil {
			if err := json.Unmarshal(aux.Data, eventData); err != nil {
				return err
			}
			e.Data = eventData
		}
	}

	return nil
}

// GenericEventData is a fallback for events without a dedicated type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
