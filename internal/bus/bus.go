package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topics carried by the bus.
const (
	TopicTriggerRegistered = "trigger-registered"
	TopicTriggerFired      = "trigger-fired"
	TopicOrderRequested    = "order-requested"
	TopicOrderCompleted    = "order-completed"
	TopicNotification      = "notification"
)

// Handler consumes one published message. Returning an error requests
// redelivery; after the attempt budget is spent the message is dropped.
type Handler func(ctx context.Context, payload []byte) error

const (
	subscriberBuffer = 1024
	maxAttempts      = 5
	baseRetryDelay   = 200 * time.Millisecond
)

type subscriber struct {
	name    string
	handler Handler
	ch      chan []byte
}

// Bus is an in-process publish/subscribe broker. Each subscriber gets
// its own worker goroutine and buffered channel, so every handler
// processes messages serially while topics fan out concurrently.
// Delivery is at-least-once: failed handlers are retried with backoff.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	// Dropped is called when a message exhausts its attempts.
	Dropped func(topic, subscriber string)
}

// New creates a stopped-when-Closed broker.
func New(logger *zap.SugaredLogger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:   make(map[string][]*subscriber),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Subscribe registers a named handler on a topic and starts its worker.
// Subscriptions must happen before the first Publish on that topic to
// guarantee the subscriber sees it.
func (b *Bus) Subscribe(topic, name string, h Handler) {
	sub := &subscriber{
		name:    name,
		handler: h,
		ch:      make(chan []byte, subscriberBuffer),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.worker(topic, sub)
}

// Publish marshals v once and fans it out to every subscriber of the
// topic. It blocks when a subscriber's buffer is full rather than drop.
func (b *Bus) Publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal message for %s: %w", topic, err)
	}

	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debugf("no subscribers on topic %s, message discarded", topic)
		return nil
	}

	for _, sub := range subs {
		select {
		case sub.ch <- payload:
		case <-b.ctx.Done():
			return b.ctx.Err()
		}
	}
	return nil
}

// Close stops all workers and waits for them to drain their current
// message.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bus) worker(topic string, sub *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case payload := <-sub.ch:
			b.deliver(topic, sub, payload)
		}
	}
}

func (b *Bus) deliver(topic string, sub *subscriber, payload []byte) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = sub.handler(b.ctx, payload); err == nil {
			return
		}
		b.logger.Warnf("handler %s on %s failed (attempt %d/%d): %v", sub.name, topic, attempt, maxAttempts, err)

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(baseRetryDelay * time.Duration(attempt)):
		}
	}

	// Poison guard: surface and move on instead of looping forever.
	b.logger.Errorf("dropping message on %s for %s after %d attempts: %v", topic, sub.name, maxAttempts, err)
	if b.Dropped != nil {
		b.Dropped(topic, sub.name)
	}
}

// Decode adapts a typed handler into a raw bus Handler. An undecodable
// payload is a data error, not a transient one, so it is logged and
// acknowledged rather than retried.
func Decode[T any](logger *zap.SugaredLogger, h func(ctx context.Context, msg T) error) Handler {
	return func(ctx context.Context, payload []byte) error {
		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Errorf("discarding malformed message: %v", err)
			return nil
		}
		return h(ctx, msg)
	}
}
