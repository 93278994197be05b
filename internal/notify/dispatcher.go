package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// Channel and stream names on the signal bus.
const (
	ChannelPrefix  = "ch:"
	EventsPattern  = "ch:*"
	EventsStream   = "stream:events"
	deliverTimeout = 10 * time.Second
	drainTimeout   = 5 * time.Second
)

// Broadcaster receives every encoded event for in-process fan-out, e.g. to
// WebSocket clients when no signal bus is configured. channel is the bus
// channel the event would be published on.
type Broadcaster interface {
	Broadcast(channel string, msg []byte)
}

// audited lists the event types recorded in the audit log.
var audited = map[domain.EventType]bool{
	domain.EventAutomationStarted: true,
	domain.EventAutomationStopped: true,
	domain.EventEngineHalted:      true,
	domain.EventHaltCleared:       true,
	domain.EventTradeExecuted:     true,
	domain.EventTradeFailed:       true,
}

// Dispatcher drains the engine's Emitter and delivers each event to the
// notifier, the signal bus, the audit log and an optional local broadcaster.
// Every sink is best effort; a failing sink is logged and skipped.
type Dispatcher struct {
	emitter     *domain.Emitter
	notifier    *Notifier
	bus         domain.SignalBus
	audit       domain.AuditStore
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher reading from emitter.
func NewDispatcher(emitter *domain.Emitter, notifier *Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		emitter:  emitter,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// SetBus publishes events to "ch:<type>" and appends them to the events
// stream.
func (d *Dispatcher) SetBus(bus domain.SignalBus) { d.bus = bus }

// SetAudit records operator-relevant events in the audit log.
func (d *Dispatcher) SetAudit(audit domain.AuditStore) { d.audit = audit }

// SetBroadcaster forwards encoded events in-process.
func (d *Dispatcher) SetBroadcaster(b Broadcaster) { d.broadcaster = b }

// Run delivers events until ctx is cancelled, then drains what is already
// buffered within a short deadline.
func (d *Dispatcher) Run(ctx context.Context) error {
	events := d.emitter.Events()
	for {
		select {
		case <-ctx.Done():
			d.drain(events)
			return nil
		case ev := <-events:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) drain(events <-chan domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-events:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), deliverTimeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, ev); err != nil {
		d.logger.Warn("notification failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("encode event",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	channel := ChannelPrefix + string(ev.Type)
	if d.bus != nil {
		if err := d.bus.Publish(ctx, channel, payload); err != nil {
			d.logger.Warn("publish event", slog.String("event", string(ev.Type)), slog.String("error", err.Error()))
		}
		if err := d.bus.StreamAppend(ctx, EventsStream, payload); err != nil {
			d.logger.Warn("append event stream", slog.String("event", string(ev.Type)), slog.String("error", err.Error()))
		}
	}
	if d.broadcaster != nil {
		d.broadcaster.Broadcast(channel, payload)
	}
	if d.audit != nil && audited[ev.Type] {
		detail := map[string]any{"title": ev.Title, "message": ev.Message}
		if err := d.audit.Log(ctx, string(ev.Type), detail); err != nil {
			d.logger.Warn("audit event", slog.String("event", string(ev.Type)), slog.String("error", err.Error()))
		}
	}
}
