package bus

import (
	"sync"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// DefaultQueueCapacity is the per-band capacity of a PriorityChannel.
const DefaultQueueCapacity = 10000

// fifo is a slice-backed queue that compacts its consumed prefix.
type fifo struct {
	items []domain.Message
	head  int
}

func (q *fifo) len() int { return len(q.items) - q.head }

func (q *fifo) push(m domain.Message) { q.items = append(q.items, m) }

func (q *fifo) pop() (domain.Message, bool) {
	if q.len() == 0 {
		return domain.Message{}, false
	}
	m := q.items[q.head]
	q.items[q.head] = domain.Message{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return m, true
}

// PriorityChannel is an ordered set of FIFO sub-queues, one per priority band.
// Safe for concurrent use.
type PriorityChannel struct {
	mu       sync.Mutex
	bands    [domain.PriorityLevels]fifo
	capacity int
}

// NewPriorityChannel creates a channel whose bands each hold up to capacity messages.
func NewPriorityChannel(capacity int) *PriorityChannel {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &PriorityChannel{capacity: capacity}
}

func bandOf(p domain.Priority) int {
	return int(p.Clamp()) - 1
}

// Push appends msg to the band matching its priority.
// When the band is full its oldest message is dropped and returned.
func (c *PriorityChannel) Push(msg domain.Message) (evicted domain.Message, dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := &c.bands[bandOf(msg.Priority)]
	if q.len() >= c.capacity {
		evicted, dropped = q.pop()
	}
	q.push(msg)
	return evicted, dropped
}

// Pop removes the oldest message of the highest non-empty band.
func (c *PriorityChannel) Pop() (domain.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.bands) - 1; i >= 0; i-- {
		if m, ok := c.bands[i].pop(); ok {
			return m, true
		}
	}
	return domain.Message{}, false
}

// Len returns the number of queued messages across all bands.
func (c *PriorityChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for i := range c.bands {
		n += c.bands[i].len()
	}
	return n
}

// LenByPriority returns the queued count per band.
func (c *PriorityChannel) LenByPriority() map[domain.Priority]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[domain.Priority]int, len(c.bands))
	for i := range c.bands {
		out[domain.Priority(i+1)] = c.bands[i].len()
	}
	return out
}

// Capacity returns the per-band capacity.
func (c *PriorityChannel) Capacity() int {
	return c.capacity
}
