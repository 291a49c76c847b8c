// Package smartmshr implements the smart-MSHR queue: a per-cache FIFO
// of held resources whose outbound message could not immediately enter
// the output port. The cache retries one entry per cycle and may invoke
// a resource-release callback on success, decoupling inbound reply
// processing from outbound port congestion (§4.8, §8 invariant 8).
package smartmshr

// Node is one queued retry.
type Node struct {
	Msg        interface{}
	ResourceID int
	Release    func(resourceID int)
}

// Queue is a FIFO of Nodes, implemented as a slice used head-first.
type Queue struct {
	nodes []Node
}

// New returns an empty Queue.
func New() *Queue { return &Queue{} }

// Len returns the number of queued entries.
func (q *Queue) Len() int { return len(q.nodes) }

// Enqueue appends msg to the tail of the queue.
func (q *Queue) Enqueue(msg interface{}, resourceID int, release func(int)) {
	q.nodes = append(q.nodes, Node{Msg: msg, ResourceID: resourceID, Release: release})
}

// TryDispatch attempts to send the head entry via send. On success, it
// removes the head, runs its Release callback (if any) with its
// ResourceID, and returns true. On failure, the head is left in place
// (to be retried next cycle) and TryDispatch returns false. Called at
// most once per cycle, so that an inbound reply absorbed this cycle
// never backs up behind outbound congestion.
func (q *Queue) TryDispatch(send func(msg interface{}) bool) bool {
	if len(q.nodes) == 0 {
		return false
	}
	head := q.nodes[0]
	if !send(head.Msg) {
		return false
	}
	q.nodes = q.nodes[1:]
	if head.Release != nil {
		head.Release(head.ResourceID)
	}
	return true
}

// RotateToTail moves a persistently-blocked head to the tail, the only
// reordering this queue permits, so that entries behind it can retry.
func (q *Queue) RotateToTail() {
	if len(q.nodes) < 2 {
		return
	}
	head := q.nodes[0]
	q.nodes = append(q.nodes[1:], head)
}
