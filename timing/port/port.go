// Package port models the narrow boundary surface between a cache
// engine and its neighbors: the other cache in the same node, or the
// out-of-scope network/directory/processor collaborators. A Queue is
// one directional FIFO of pool indices.
package port

import "github.com/sarchlab/cohecache/timing/reqpool"

// Queue is an unbounded FIFO of pool indices. Unlike a Pipeline, a
// Queue never blocks head-of-line: it exists only to stage messages
// between a producer's output cycle and a consumer's next intake
// cycle, enforcing §5's "a message produced this cycle becomes visible
// to the consumer only next cycle" ordering guarantee.
type Queue struct {
	items []reqpool.Index
}

// New returns an empty Queue.
func New() *Queue { return &Queue{} }

// Push appends idx to the tail.
func (q *Queue) Push(idx reqpool.Index) {
	q.items = append(q.items, idx)
}

// Peek returns the head entry without removing it.
func (q *Queue) Peek() (reqpool.Index, bool) {
	if len(q.items) == 0 {
		return reqpool.NoIndex, false
	}
	return q.items[0], true
}

// Pop removes the head entry.
func (q *Queue) Pop() {
	if len(q.items) == 0 {
		return
	}
	q.items = q.items[1:]
}

// Len returns the number of queued entries.
func (q *Queue) Len() int { return len(q.items) }
