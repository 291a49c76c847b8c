package node_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cohecache/timing/config"
	"github.com/sarchlab/cohecache/timing/l1"
	"github.com/sarchlab/cohecache/timing/l2"
	"github.com/sarchlab/cohecache/timing/node"
	"github.com/sarchlab/cohecache/timing/reqpool"
)

func TestNode(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Node Suite")
}

// fakeDirectory records every message it receives; the tests answer a
// recorded request themselves by pushing it back into L2 as a REPLY.
type fakeDirectory struct {
	pool     *reqpool.Pool
	received []reqpool.Index
}

func (d *fakeDirectory) Send(idx reqpool.Index) {
	d.received = append(d.received, idx)
}

type fakeNetwork struct {
	pool     *reqpool.Pool
	received []reqpool.Index
}

func (n *fakeNetwork) Send(idx reqpool.Index) {
	n.received = append(n.received, idx)
}

var _ = Describe("Node", func() {
	It("carries a processor REQUEST through L1 into L2 and out to the directory", func() {
		pool := reqpool.NewPool()
		dir := &fakeDirectory{pool: pool}
		net := &fakeNetwork{pool: pool}
		sys := config.DefaultSystem()
		n := node.New(0, sys, pool, l2.L1FlavorWB, net, dir)

		idx := pool.Alloc()
		req := pool.Get(idx)
		req.Addr, req.Type, req.Kind = 0x800, reqpool.READ, reqpool.KindRequest
		req.ForwardTo = -1
		n.L1.InReq.Push(idx)

		n.Tick() // L1 dispatches the miss; node drains it into L2's request port
		n.Tick() // L2 dispatches READ_SH; node drains it to the directory
		n.Tick() // nothing left on this path; the directory already has it

		Expect(dir.received).NotTo(BeEmpty())
		sent := pool.Get(dir.received[0])
		Expect(sent.Type).To(Equal(reqpool.READ_SH))
	})

	It("carries a directory REPLY through L2 up into L1 as a completion", func() {
		pool := reqpool.NewPool()
		dir := &fakeDirectory{pool: pool}
		net := &fakeNetwork{pool: pool}
		sys := config.DefaultSystem()
		n := node.New(0, sys, pool, l2.L1FlavorWB, net, dir)

		idx := pool.Alloc()
		req := pool.Get(idx)
		req.Addr, req.Type, req.Kind = 0x800, reqpool.READ, reqpool.KindRequest
		req.ForwardTo = -1
		n.L1.InReq.Push(idx)

		n.Tick()
		n.Tick()
		n.Tick()

		Expect(dir.received).NotTo(BeEmpty())
		outIdx := dir.received[0]
		rep := pool.Get(outIdx)
		rep.Type = reqpool.REPLY_SH
		rep.Kind = reqpool.KindReply
		n.L2.InReply.Push(outIdx)

		n.Tick() // L2 fills the line; node drains its REPLY into L1's reply port
		n.Tick() // L1 dispatches the REPLY into a completion

		completions := n.DrainCompleted()
		Expect(completions).To(HaveLen(1))
		Expect(completions[0].MissType).To(Equal(reqpool.MissNone))
	})
})

var _ = Describe("Node filter selection", func() {
	It("uses CompleteWritesAndL2Prefetch for a write-through L1", func() {
		pool := reqpool.NewPool()
		dir := &fakeDirectory{pool: pool}
		net := &fakeNetwork{pool: pool}
		sys := &config.System{NumNodes: 1, L1: config.DefaultL1WTConfig(), L2: config.DefaultL2Config()}
		n := node.New(0, sys, pool, l2.L1FlavorWT, net, dir)

		Expect(n.Filter).To(Equal(l1.CompleteWritesAndL2Prefetch))
	})
})
