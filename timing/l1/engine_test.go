package l1_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cohecache/timing/config"
	"github.com/sarchlab/cohecache/timing/l1"
	"github.com/sarchlab/cohecache/timing/reqpool"
)

func TestL1(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "L1 Engine Suite")
}

func newReq(pool *reqpool.Pool, addr uint64, t reqpool.ReqType) reqpool.Index {
	idx := pool.Alloc()
	r := pool.Get(idx)
	r.Addr, r.Type, r.Kind = addr, t, reqpool.KindRequest
	return idx
}

var _ = Describe("Engine", func() {
	var (
		pool *reqpool.Pool
		e    *l1.Engine
	)

	BeforeEach(func() {
		pool = reqpool.NewPool()
		cfg := config.DefaultL1WBConfig()
		e = l1.New(0, cfg, pool)
	})

	It("forwards a cold read miss downstream and allocates an MSHR", func() {
		idx := newReq(pool, 0x100, reqpool.READ)
		e.InReq.Push(idx)

		e.Intake()
		e.Output()

		Expect(e.OutBelow.Len()).To(Equal(1))
		outIdx, _ := e.OutBelow.Peek()
		Expect(pool.Get(outIdx).Type).To(Equal(reqpool.READ))
		Expect(e.MSHRs.Count()).To(Equal(1))
	})

	It("hits after a reply fills the line", func() {
		idx := newReq(pool, 0x100, reqpool.READ)
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
		e.Output() // reply pipe stage 1 (depth=1 default -> dispatch same cycle)

		Expect(e.MSHRs.Count()).To(Equal(0))

		idx2 := newReq(pool, 0x100, reqpool.READ)
		e.InReq.Push(idx2)
		e.Intake()
		e.Output()

		completions := e.DrainCompleted(l1.CompleteAll)
		Expect(completions).NotTo(BeEmpty())
	})

	It("stalls a second miss when max_mshrs=1", func() {
		cfg := config.DefaultL1WBConfig()
		cfg.MaxMSHRs = 1
		e2 := l1.New(0, cfg, pool)

		idx1 := newReq(pool, 0x100, reqpool.READ)
		e2.InReq.Push(idx1)
		e2.Intake()
		e2.Output()
		Expect(e2.MSHRs.Count()).To(Equal(1))

		idx2 := newReq(pool, 0x200, reqpool.READ)
		e2.InReq.Push(idx2)
		e2.Intake()
		e2.Output()

		Expect(e2.OutBelow.Len()).To(Equal(1)) // only the first miss went out
	})
})
