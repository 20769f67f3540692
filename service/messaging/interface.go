package messaging

import (
	"context"
)

// Queue is an abstract delivery queue for any payload type. The kernel uses
// it to move lifecycle events and device notifications between the loop
// goroutine and observers without sharing state.
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message from the queue
	Consume(ctx context.Context) (Message[T], error)
}

// Message represents a message retrieved from a queue
type Message[T any] interface {
	// T returns the payload of this message
	T() *T

	// Ack acknowledges successful processing of this message
	Ack() error

	// Nack indicates failure in processing this message; the queue may
	// redeliver it
	Nack(err error) error
}
