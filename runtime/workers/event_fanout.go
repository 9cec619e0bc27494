package workers

import (
	"chat-sync/contract"
	"chat-sync/domain/event"
	"context"
	"fmt"
	"log/slog"
	"time"
)

var _ contract.EventSink = (*EventFanout)(nil)

// EventFanout decouples a session from its consumers.
// Consume queues the event; Run delivers it to every sink in queue order,
// so a slow terminal never holds a subscription callback.
//
// EventFanout is safe for concurrent use by multiple goroutines.
type EventFanout struct {
	log         *slog.Logger
	events      chan event.DomainEvent
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, capacity int, sinkTimeout time.Duration, sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{
		log:         log,
		events:      make(chan event.DomainEvent, capacity),
		sinks:       sinks,
		sinkTimeout: sinkTimeout,
	}
}

// Queue exposes the pending events for capacity sampling.
func (w *EventFanout) Queue() NamedChannel {
	return NamedChannel{Name: "event_fanout", Channel: w.events}
}

// Consume blocks while the queue is full, until ctx ends.
// An event that fits in the queue is accepted even when ctx is already done.
func (w *EventFanout) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case w.events <- e:
		return nil
	default:
	}
	select {
	case w.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-w.events:
			w.Fanout(ctx, evt)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		}
	}
}

// Fanout hands the event to each sink in turn, each bounded by sinkTimeout.
func (w *EventFanout) Fanout(ctx context.Context, e event.DomainEvent) {
	for _, sink := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, e); err != nil {
			w.log.Warn("Sink failed", "sink", fmt.Sprintf("%T", sink), "room", e.RoomID(), "error", err)
		}
		cancel()
	}
}
