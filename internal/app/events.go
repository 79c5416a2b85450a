package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/executor"
)

// eventNotifier is the subset of notify.Notifier the fan-out uses.
type eventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// eventCounter is the subset of metrics.Metrics the fan-out uses.
type eventCounter interface {
	Event(t domain.EventType)
}

// EventFanout delivers every engine event to the audit log, the signal bus
// (and from there the WebSocket hub), the notifier and the event counter.
// Any of them may be nil. Delivery failures are logged and never propagate
// back to the executor.
type EventFanout struct {
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier eventNotifier
	counter  eventCounter
	logger   *slog.Logger
	timeout  time.Duration
}

var _ executor.EventSink = (*EventFanout)(nil)

// NewEventFanout creates a fan-out sink.
func NewEventFanout(audit domain.AuditStore, bus domain.SignalBus, notifier eventNotifier, counter eventCounter, logger *slog.Logger) *EventFanout {
	return &EventFanout{
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		counter:  counter,
		logger:   logger.With(slog.String("component", "events")),
		timeout:  3 * time.Second,
	}
}

// Emit implements executor.EventSink.
func (f *EventFanout) Emit(ctx context.Context, ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if f.counter != nil {
		f.counter.Event(ev.Type)
	}

	// Events raised during shutdown still need to reach the audit log.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	if f.audit != nil {
		if err := f.audit.Log(ctx, string(ev.Type), auditDetail(ev)); err != nil {
			f.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	if f.bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = f.bus.Publish(ctx, domain.EventsChannel, payload)
		}
		if err != nil {
			f.logger.WarnContext(ctx, "event publish failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	if f.notifier != nil {
		if err := f.notifier.NotifyEvent(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "event notification failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func auditDetail(ev domain.Event) map[string]any {
	d := map[string]any{"at": ev.At.Format(time.RFC3339Nano)}
	add := func(k, v string) {
		if v != "" {
			d[k] = v
		}
	}
	add("session_id", ev.SessionID)
	add("entry_id", ev.EntryID)
	add("exit_id", ev.ExitID)
	add("instrument", ev.Instrument)
	add("direction", string(ev.Direction))
	add("reason", ev.Reason)
	add("code", ev.Code)
	add("detail", ev.Detail)
	if ev.Price != 0 {
		d["price"] = ev.Price
	}
	if ev.Profit != 0 {
		d["profit"] = ev.Profit
	}
	return d
}
