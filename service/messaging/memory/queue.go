// Package memory provides the channel-backed queue the kernel's event
// plumbing runs on. Delivery is at-least-once: a nacked message is requeued
// until its redelivery budget runs out, then counted as dropped rather than
// blocking the loop.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/minoskernel/minos/internal/idgen"
	"github.com/minoskernel/minos/service/messaging"
)

// Config for the memory queue.
type Config struct {
	// MaxRedeliveries bounds how many times a nacked message is requeued.
	MaxRedeliveries int
	// Buffer is the channel capacity; Publish fails fast when full so a
	// stalled observer can never wedge the kernel loop.
	Buffer int
}

// DefaultConfig returns the configuration the kernel uses for its own
// queues.
func DefaultConfig() Config {
	return Config{MaxRedeliveries: 1, Buffer: 256}
}

// ErrQueueFull is returned by Publish when the buffer is exhausted.
var ErrQueueFull = fmt.Errorf("memory queue full")

// Message implements messaging.Message for the memory queue.
type Message[T any] struct {
	id         string
	payload    T
	queue      *Queue[T]
	deliveries int
	mu         sync.Mutex
	settled    bool
}

// T returns the message payload.
func (m *Message[T]) T() *T {
	return &m.payload
}

// ID returns the message identifier, stable across redeliveries.
func (m *Message[T]) ID() string { return m.id }

// Ack settles the message.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return fmt.Errorf("message %v already settled", m.id)
	}
	m.settled = true
	return nil
}

// Nack settles this delivery and requeues the message while its redelivery
// budget lasts; past the budget it is dropped and counted.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return fmt.Errorf("message %v already settled", m.id)
	}
	m.settled = true

	if m.deliveries > m.queue.config.MaxRedeliveries {
		atomic.AddUint64(&m.queue.dropped, 1)
		return nil
	}
	redelivery := &Message[T]{
		id:         m.id,
		payload:    m.payload,
		queue:      m.queue,
		deliveries: m.deliveries + 1,
	}
	select {
	case m.queue.messages <- redelivery:
		return nil
	default:
		atomic.AddUint64(&m.queue.dropped, 1)
		return ErrQueueFull
	}
}

// Queue implements an in-memory messaging.Queue.
type Queue[T any] struct {
	messages chan *Message[T]
	config   Config
	dropped  uint64
}

// NewQueue creates a new in-memory queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.Buffer <= 0 {
		config.Buffer = DefaultConfig().Buffer
	}
	return &Queue[T]{
		messages: make(chan *Message[T], config.Buffer),
		config:   config,
	}
}

// Publish adds a new item to the queue. It never blocks: a full buffer is an
// error the publisher decides how to handle.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &Message[T]{
		id:         idgen.New(),
		payload:    *t,
		queue:      q,
		deliveries: 1,
	}
	select {
	case q.messages <- msg:
		return nil
	default:
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// Consume retrieves a single item, blocking until one arrives or ctx ends.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the current number of queued messages.
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

// Dropped returns how many messages were lost to a full buffer or an
// exhausted redelivery budget.
func (q *Queue[T]) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
