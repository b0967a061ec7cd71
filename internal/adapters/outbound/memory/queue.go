package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/luminamt5/executor/internal/ports/outbound"
)

var (
	_ outbound.CommandQueue     = (*Queue)(nil)
	_ outbound.CommandPublisher = (*Queue)(nil)
)

// Queue is an unbounded FIFO of raw payloads.
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	seq    int
	acked  []string
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Push appends body to the tail of the queue.
func (q *Queue) Push(_ context.Context, body []byte) error {
	select {
	case <-q.closed:
		return outbound.ErrQueueClosed
	default:
	}

	q.mu.Lock()
	q.items = append(q.items, clone(body))
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until an item is available, the queue is closed or ctx is done.
func (q *Queue) Pop(ctx context.Context) (outbound.QueueMessage, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			body := q.items[0]
			q.items = q.items[1:]
			q.seq++
			id := strconv.Itoa(q.seq)
			remaining := len(q.items)
			q.mu.Unlock()

			if remaining > 0 {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return outbound.QueueMessage{ID: id, Receipt: id, Body: body}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return outbound.QueueMessage{}, ctx.Err()
		case <-q.closed:
			return outbound.QueueMessage{}, outbound.ErrQueueClosed
		case <-q.ready:
		}
	}
}

// Ack records the acknowledged message id.
func (q *Queue) Ack(_ context.Context, msg outbound.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msg.ID)
	return nil
}

// Acked returns the ids acknowledged so far.
func (q *Queue) Acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes any blocked Pop with ErrQueueClosed.
func (q *Queue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
