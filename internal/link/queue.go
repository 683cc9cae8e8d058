package link

import (
	"sync"

	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/link"
)

// fifo is an unbounded first-in first-out queue safe for one or more
// producers and a single consumer. Pops never block.
type fifo[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

func (q *fifo[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

func (q *fifo[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items, q.head = q.items[:0], 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items, q.head = q.items[:n], 0
	}
	return v, true
}

func (q *fifo[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// MessageQueue carries tagged lines from the communication goroutine to the
// poller in enqueue order.
type MessageQueue struct {
	q fifo[link.Message]
}

// NewMessageQueue returns an empty queue.
func NewMessageQueue() *MessageQueue { return &MessageQueue{} }

// Push appends a message of the given kind.
func (m *MessageQueue) Push(kind link.Kind, text string) {
	m.q.push(link.Message{Kind: kind, Text: text})
}

// TryPop removes and returns the oldest message without blocking.
func (m *MessageQueue) TryPop() (link.Message, bool) { return m.q.tryPop() }

// Len returns the number of queued messages.
func (m *MessageQueue) Len() int { return m.q.len() }

var _ link.MessageSource = (*MessageQueue)(nil)

// CommandQueue holds raw command lines injected out of band, e.g. by a pendant.
type CommandQueue struct {
	q fifo[string]
}

// NewCommandQueue returns an empty queue.
func NewCommandQueue() *CommandQueue { return &CommandQueue{} }

// Push appends a command line.
func (c *CommandQueue) Push(cmd string) { c.q.push(cmd) }

// TryPop removes and returns the oldest command without blocking.
func (c *CommandQueue) TryPop() (string, bool) { return c.q.tryPop() }

// Len returns the number of queued commands.
func (c *CommandQueue) Len() int { return c.q.len() }

var _ link.CommandSource = (*CommandQueue)(nil)
