package l2_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cohecache/timing/coherence"
	"github.com/sarchlab/cohecache/timing/config"
	"github.com/sarchlab/cohecache/timing/l2"
	"github.com/sarchlab/cohecache/timing/reqpool"
)

func TestL2(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "L2 Engine Suite")
}

func newReq(pool *reqpool.Pool, addr uint64, t reqpool.ReqType) reqpool.Index {
	idx := pool.Alloc()
	r := pool.Get(idx)
	r.Addr, r.Type, r.Kind = addr, t, reqpool.KindRequest
	r.ForwardTo = -1
	return idx
}

var _ = Describe("Engine", func() {
	var (
		pool *reqpool.Pool
		e    *l2.Engine
	)

	BeforeEach(func() {
		pool = reqpool.NewPool()
		cfg := config.DefaultL2Config()
		e = l2.New(0, cfg, pool, l2.L1FlavorWB)
	})

	It("forwards a cold read miss downstream and allocates an MSHR, reserving a WRB slot", func() {
		idx := newReq(pool, 0x400, reqpool.READ)
		e.InReq.Push(idx)

		e.Intake()
		e.Output()

		Expect(e.OutBelow.Len()).To(Equal(1))
		outIdx, _ := e.OutBelow.Peek()
		Expect(pool.Get(outIdx).Type).To(Equal(reqpool.READ_SH))
		Expect(e.MSHRs.Count()).To(Equal(1))
		Expect(e.WRB.Used()).To(Equal(1))
	})

	It("fills the line on REPLY_SH and forwards a REPLY up to L1", func() {
		idx := newReq(pool, 0x400, reqpool.READ)
		e.InReq.Push(idx)
		e.Intake()
		e.Output()

		outIdx, _ := e.OutBelow.Peek()
		e.OutBelow.Pop()
		rep := pool.Get(outIdx)
		rep.Type = reqpool.REPLY_SH
		rep.Kind = reqpool.KindReply
		e.InReply.Push(outIdx)

		e.Intake()
		e.Output()

		Expect(e.MSHRs.Count()).To(Equal(0))
		Expect(e.WRB.Used()).To(Equal(0))
		Expect(e.OutAbove.Len()).To(Equal(1))
		upIdx, _ := e.OutAbove.Peek()
		Expect(pool.Get(upIdx).Type).To(Equal(reqpool.REPLY_SH))
	})

	It("spawns a write-back and an upward invalidation when a dirty private line is replaced", func() {
		cfg := config.DefaultL2Config()
		cfg.LineSz = 1024
		cfg.SetSize = 1
		cfg.SizeKB = 1
		e2 := l2.New(0, cfg, pool, l2.L1FlavorWB)

		_, _, ok := e2.Cache.Install(0x1000, coherence.PR_DY, 0)
		Expect(ok).To(BeTrue())

		idx := newReq(pool, 0x2000, reqpool.READ)
		e2.InReq.Push(idx)
		e2.Intake()
		e2.Output()

		outIdx, _ := e2.OutBelow.Peek()
		e2.OutBelow.Pop()
		rep := pool.Get(outIdx)
		rep.Type = reqpool.REPLY_SH
		rep.Kind = reqpool.KindReply
		e2.InReply.Push(outIdx)

		e2.Intake()
		e2.Output()

		Expect(e2.Stats.Victims).To(Equal(uint64(1)))
		Expect(e2.Stats.PRVictims).To(Equal(uint64(1)))
		Expect(e2.WRB.Used()).To(BeNumerically(">=", 1))
	})
})
