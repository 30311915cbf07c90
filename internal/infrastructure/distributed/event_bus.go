package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roomcast/internal/core/domain"
	"roomcast/pkg/circuitbreaker"
)

// Event is the wire form of a room event on the bus.
type Event struct {
	domain.RoomEvent
	InstanceID string `json:"instance_id"`
}

type EventBusConfig struct {
	Channel      string
	InstanceID   string
	QueueSize    int
	BatchSize    int
	PublishLimit time.Duration // timeout for one pipelined publish
	Breaker      circuitbreaker.Config
}

func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Channel:      "roomcast:events",
		QueueSize:    1024,
		BatchSize:    64,
		PublishLimit: 2 * time.Second,
		Breaker:      circuitbreaker.DefaultConfig(),
	}
}

// EventBus publishes room events to a Redis channel. Emit never blocks:
// events are queued and published in batches by a single worker, and dropped
// when the queue is full or Redis is unavailable.
type EventBus struct {
	client  redis.UniversalClient
	config  EventBusConfig
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger

	// OnDrop, if set, is called once per event that was not published.
	OnDrop func()

	queue     chan domain.RoomEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewEventBus(client redis.UniversalClient, config EventBusConfig, logger *zap.SugaredLogger) *EventBus {
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.PublishLimit <= 0 {
		config.PublishLimit = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	eb := &EventBus{
		client:  client,
		config:  config,
		breaker: circuitbreaker.New(config.Breaker),
		logger:  logger.With("channel", config.Channel),
		queue:   make(chan domain.RoomEvent, config.QueueSize),
		done:    make(chan struct{}),
	}
	eb.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		eb.logger.Warnw("Event bus circuit changed", "from", from.String(), "to", to.String())
	})

	eb.wg.Add(1)
	go eb.run()
	return eb
}

// Emit implements ports.EventSink.
func (eb *EventBus) Emit(event domain.RoomEvent) {
	select {
	case <-eb.done:
		eb.dropped(1)
		return
	default:
	}

	select {
	case eb.queue <- event:
	default:
		eb.logger.Debugw("Event queue full, dropping event", "type", event.Type, "room_id", event.RoomID)
		eb.dropped(1)
	}
}

func (eb *EventBus) run() {
	defer eb.wg.Done()

	batch := make([]domain.RoomEvent, 0, eb.config.BatchSize)
	for {
		select {
		case event := <-eb.queue:
			batch = append(batch[:0], event)
			batch = eb.fill(batch)
			eb.flush(batch)
		case <-eb.done:
			// drain what is already queued
			for {
				batch = eb.fill(batch[:0])
				if len(batch) == 0 {
					return
				}
				eb.flush(batch)
			}
		}
	}
}

// fill appends queued events without waiting.
func (eb *EventBus) fill(batch []domain.RoomEvent) []domain.RoomEvent {
	for len(batch) < eb.config.BatchSize {
		select {
		case event := <-eb.queue:
			batch = append(batch, event)
		default:
			return batch
		}
	}
	return batch
}

func (eb *EventBus) flush(batch []domain.RoomEvent) {
	err := eb.breaker.Execute(func() error {
		return eb.publish(batch)
	})
	if err == nil {
		return
	}
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		eb.logger.Warnw("Failed to publish events", "count", len(batch), "error", err)
	}
	eb.dropped(len(batch))
}

func (eb *EventBus) publish(batch []domain.RoomEvent) error {
	payloads := make([][]byte, 0, len(batch))
	for _, event := range batch {
		data, err := json.Marshal(Event{RoomEvent: event, InstanceID: eb.config.InstanceID})
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		payloads = append(payloads, data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), eb.config.PublishLimit)
	defer cancel()

	_, err := eb.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, data := range payloads {
			pipe.Publish(ctx, eb.config.Channel, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish events: %w", err)
	}
	return nil
}

func (eb *EventBus) dropped(n int) {
	if eb.OnDrop == nil {
		return
	}
	for i := 0; i < n; i++ {
		eb.OnDrop()
	}
}

// Subscribe delivers events published by other instances to handler until
// ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(Event)) error {
	pubsub := eb.client.Subscribe(ctx, eb.config.Channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.config.Channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("Failed to unmarshal event", "error", err)
				continue
			}
			if event.InstanceID == eb.config.InstanceID {
				continue
			}
			handler(event)
		}
	}
}

// Close stops accepting events and waits for queued ones to be flushed.
func (eb *EventBus) Close() error {
	eb.closeOnce.Do(func() {
		close(eb.done)
	})
	eb.wg.Wait()
	return nil
}
