// Package node assembles one L1 and one L2 engine into the per-node
// control flow §2 describes: every cycle, intake runs on both engines
// before either produces output, and the ports that cross the L1/L2
// boundary are drained into the neighbor's inbound queues only after
// both engines have finished dispatching, so a message produced this
// cycle becomes visible to its consumer on the next Tick.
//
// Everything beyond the L1/L2 boundary — the directory/home-memory
// module, the interconnect, and the processor front end — is out of
// scope (spec §1). Network and Directory are the narrow interfaces this
// package needs from those collaborators so the cache core can be
// driven and tested standalone.
package node

import (
	"github.com/sarchlab/cohecache/timing/config"
	"github.com/sarchlab/cohecache/timing/l1"
	"github.com/sarchlab/cohecache/timing/l2"
	"github.com/sarchlab/cohecache/timing/reqpool"
)

// Network accepts a message this node addressed to another node's cache
// (a cache-to-cache REPLY built by l2.Engine's forward path, or any
// other REPLY-kind message L2 sends below it). Ownership of idx passes
// to the implementation.
type Network interface {
	Send(idx reqpool.Index)
}

// Directory accepts a message this node addressed to the home-node
// directory/memory controller: an ordinary L2 miss REQUEST, a
// replacement WRB/REPL, or a COHE_REPLY answering a coherence message
// the directory sent. Ownership of idx passes to the implementation.
type Directory interface {
	Send(idx reqpool.Index)
}

// Node is one processor's L1+L2 cache pair.
type Node struct {
	ID   int
	Pool *reqpool.Pool
	L1   *l1.Engine
	L2   *l2.Engine

	Net Network
	Dir Directory

	// Filter selects which L1 completions DrainCompleted reports, chosen
	// once from the L1 flavor at construction (§9 SUPPLEMENTED FEATURES).
	Filter l1.CompletionFilter
}

// New returns a Node wired from sys's L1/L2 configuration. flavor tells
// the L2 engine which inclusion-enforcing companion messages to spawn
// on replacement, and must agree with sys.L1.CacheLevelType.
func New(id int, sys *config.System, pool *reqpool.Pool, flavor l2.L1Flavor, net Network, dir Directory) *Node {
	filter := l1.CompleteAll
	if sys.L1.CacheLevelType == config.FIRSTLEVEL_WT {
		filter = l1.CompleteWritesAndL2Prefetch
	}

	return &Node{
		ID:     id,
		Pool:   pool,
		L1:     l1.New(id, sys.L1, pool),
		L2:     l2.New(id, sys.L2, pool, flavor),
		Net:    net,
		Dir:    dir,
		Filter: filter,
	}
}

// Tick advances both engines by one cycle: intake on both, then output
// on both, then the L1/L2 boundary and the external ports are drained
// so every message produced this cycle is picked up on the next Tick's
// Intake, never this one's (§5).
func (n *Node) Tick() {
	n.L1.Intake()
	n.L2.Intake()

	n.L1.Output()
	n.L2.Output()

	n.drainL1ToL2()
	n.drainL2ToL1()
	n.drainL2Outbound()
}

// drainL1ToL2 moves everything L1 sent toward L2 (REQUEST, COHE_REPLY)
// into L2's request port.
func (n *Node) drainL1ToL2() {
	for {
		idx, ok := n.L1.OutBelow.Peek()
		if !ok {
			break
		}
		n.L1.OutBelow.Pop()
		n.L2.InReq.Push(idx)
	}
}

// drainL2ToL1 moves everything L2 sent toward L1 (REPLY, COHE) into the
// matching inbound port, split by Kind since L1 keeps them in separate
// pipelines.
func (n *Node) drainL2ToL1() {
	for {
		idx, ok := n.L2.OutAbove.Peek()
		if !ok {
			break
		}
		n.L2.OutAbove.Pop()
		if n.Pool.Get(idx).Kind == reqpool.KindCohe {
			n.L1.InCohe.Push(idx)
		} else {
			n.L1.InReply.Push(idx)
		}
	}
}

// drainL2Outbound hands everything L2 sent below this node to the
// matching out-of-scope collaborator: a forwarded cache-to-cache REPLY
// goes to the network, everything else (REQUEST, WRB, REPL,
// COHE_REPLY) goes to the home directory.
func (n *Node) drainL2Outbound() {
	for {
		idx, ok := n.L2.OutBelow.Peek()
		if !ok {
			break
		}
		n.L2.OutBelow.Pop()
		if n.Pool.Get(idx).Kind == reqpool.KindReply {
			n.Net.Send(idx)
		} else {
			n.Dir.Send(idx)
		}
	}
}

// DrainCompleted returns L1's completions for this node since the last
// call, filtered per n.Filter.
func (n *Node) DrainCompleted() []l1.Completion {
	return n.L1.DrainCompleted(n.Filter)
}
