// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"errors"
)

// ErrQueueClosed is returned by Pop once the queue has been closed.
var ErrQueueClosed = errors.New("command queue closed")

// QueueMessage is a single payload taken off the command queue.
type QueueMessage struct {
	// ID identifies the message within its backend. Empty for list queues.
	ID string

	// Receipt is needed to acknowledge the message. Empty for list queues.
	Receipt string

	// Body is the raw command payload.
	Body []byte
}

// CommandQueue is a FIFO source of raw command payloads.
type CommandQueue interface {
	// Pop blocks until a message is available or ctx is cancelled.
	Pop(ctx context.Context) (QueueMessage, error)

	// Ack marks a message as handled. Backends that remove on Pop treat this
	// as a no-op.
	Ack(ctx context.Context, msg QueueMessage) error

	// Close releases the queue's resources.
	Close() error
}

// CommandPublisher pushes raw payloads onto the command queue.
type CommandPublisher interface {
	Push(ctx context.Context, body []byte) error
}
