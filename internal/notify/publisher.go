package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// EventChannel is the Pub/Sub channel events are published on.
const EventChannel = "events"

// Broadcaster pushes a payload to connected websocket clients.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Publisher implements domain.EventPublisher. PublishEvent only enqueues;
// Run delivers to the notifier, the event bus and the websocket hub so a
// slow webhook never stalls the trading loop.
type Publisher struct {
	notifier *Notifier
	bus      domain.SignalBus
	hub      Broadcaster
	queue    chan domain.Event
	logger   *slog.Logger
	now      func() time.Time
}

// NewPublisher creates a Publisher. Any of notifier, bus and hub may be nil.
func NewPublisher(notifier *Notifier, bus domain.SignalBus, hub Broadcaster, logger *slog.Logger) *Publisher {
	return &Publisher{
		notifier: notifier,
		bus:      bus,
		hub:      hub,
		queue:    make(chan domain.Event, 256),
		logger:   logger.With(slog.String("component", "publisher")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PublishEvent implements domain.EventPublisher. When the queue is full the
// event is logged and dropped.
func (p *Publisher) PublishEvent(ctx context.Context, ev domain.Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = p.now()
	}
	select {
	case p.queue <- ev:
	default:
		p.logger.WarnContext(ctx, "event queue full, dropping event",
			slog.String("event", string(ev.Type)),
			slog.String("symbol", ev.Symbol),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left with a short deadline.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case ev := <-p.queue:
			p.deliver(ctx, ev)
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if p.hub != nil {
		p.hub.Broadcast(payload)
	}
	if p.bus != nil {
		if err := p.bus.Publish(ctx, EventChannel, payload); err != nil {
			p.logger.WarnContext(ctx, "publish event failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.notifier != nil {
		_ = p.notifier.Notify(ctx, ev) // failures are logged by the notifier
	}
}

// Compile-time interface check.
var _ domain.EventPublisher = (*Publisher)(nil)
