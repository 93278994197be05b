package domain

import "time"

// EventType names an outbound engine notification. The strings double as
// notify filter keys and signal bus channel suffixes.
type EventType string

const (
	EventStartup           EventType = "startup"
	EventScanCompleted     EventType = "scan_completed"
	EventStatus            EventType = "status"
	EventTradeExecuted     EventType = "trade_executed"
	EventTradeFailed       EventType = "trade_failed"
	EventEngineHalted      EventType = "engine_halted"
	EventAutomationStarted EventType = "automation_started"
	EventAutomationStopped EventType = "automation_stopped"
	EventHaltCleared       EventType = "halt_cleared"
)

// Event is one message on the engine's outbound channel.
type Event struct {
	Type    EventType `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Emitter is a non-blocking outbound event channel.
type Emitter struct {
	ch chan Event
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(buffer int) *Emitter {
	if buffer < 1 {
		buffer = 1
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

// Emit queues ev without blocking. It reports false when the buffer was full
// and the event was dropped. A nil Emitter drops everything.
func (e *Emitter) Emit(ev Event) bool {
	if e == nil {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case e.ch <- ev:
		return true
	default:
		return false
	}
}

// Events exposes the receive side for the dispatcher.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}
