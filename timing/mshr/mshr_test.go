package mshr_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohecache/timing/coherence"
	"github.com/sarchlab/cohecache/timing/mshr"
	"github.com/sarchlab/cohecache/timing/reqpool"
)

func TestMSHR(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "MSHR Suite")
}

var _ = Describe("File", func() {
	var (
		pool *reqpool.Pool
		tbl  *coherence.Table
	)

	BeforeEach(func() {
		pool = reqpool.NewPool()
		tbl = coherence.BuildL2WB(coherence.MESI, coherence.HintsAll)
	})

	newReadReq := func(addr uint64) (reqpool.Index, *reqpool.Req) {
		idx := pool.Alloc()
		r := pool.Get(idx)
		r.Addr = addr
		r.Type = reqpool.READ
		r.Kind = reqpool.KindRequest
		return idx, r
	}

	newWriteReq := func(addr uint64) (reqpool.Index, *reqpool.Req) {
		idx := pool.Alloc()
		r := pool.Get(idx)
		r.Addr = addr
		r.Type = reqpool.WRITE
		r.Kind = reqpool.KindRequest
		return idx, r
	}

	It("allocates MSHR_NEW on a cold miss", func() {
		f := mshr.New(4, 4)
		idx, r := newReadReq(0x100)
		resp, slot, _ := f.NotPresMSHR(mshr.DecisionInput{
			Addr: 0x100, Idx: idx, Req: r, State: coherence.INVALID, Table: tbl, IsL2: true, WrbBufCap: 8,
		})
		Expect(resp).To(Equal(mshr.MSHR_NEW))
		Expect(slot).To(BeNumerically(">=", 0))
	})

	It("returns NOMSHR_STALL with max_mshrs=1 and two distinct misses", func() {
		f := mshr.New(1, 4)
		idx1, r1 := newReadReq(0x100)
		resp1, _, _ := f.NotPresMSHR(mshr.DecisionInput{
			Addr: 0x100, Idx: idx1, Req: r1, State: coherence.INVALID, Table: tbl, IsL2: true, WrbBufCap: 8,
		})
		Expect(resp1).To(Equal(mshr.MSHR_NEW))

		idx2, r2 := newReadReq(0x200)
		resp2, _, _ := f.NotPresMSHR(mshr.DecisionInput{
			Addr: 0x200, Idx: idx2, Req: r2, State: coherence.INVALID, Table: tbl, IsL2: true, WrbBufCap: 8,
		})
		Expect(resp2).To(Equal(mshr.NOMSHR_STALL))
	})

	It("returns NOMSHR on a hit with cohe_pend clear", func() {
		f := mshr.New(4, 4)
		idx, r := newReadReq(0x100)
		resp, _, _ := f.NotPresMSHR(mshr.DecisionInput{
			Addr: 0x100, Idx: idx, Req: r, State: coherence.PR_CL, Table: tbl, IsL2: true, WrbBufCap: 8,
		})
		Expect(resp).To(Equal(mshr.NOMSHR))
	})

	It("coalesces a second access to the same outstanding line", func() {
		f := mshr.New(4, 4)
		idx1, r1 := newReadReq(0x100)
		f.NotPresMSHR(mshr.DecisionInput{Addr: 0x100, Idx: idx1, Req: r1, State: coherence.INVALID, Table: tbl, IsL2: true, WrbBufCap: 8})

		idx2, r2 := newReadReq(0x100)
		resp, slot, _ := f.NotPresMSHR(mshr.DecisionInput{Addr: 0x100, Idx: idx2, Req: r2, State: coherence.INVALID, Table: tbl, IsL2: true, WrbBufCap: 8})
		Expect(resp).To(Equal(mshr.MSHR_COAL))
		f.Coalesce(slot, idx2, r2, 10, false)
		Expect(f.Entry(slot).Coalesced).To(ConsistOf(idx2))
	})

	It("stalls a write coalescing into a read-only MSHR (STALL_WAR)", func() {
		f := mshr.New(4, 4)
		idx1, r1 := newReadReq(0x100)
		f.NotPresMSHR(mshr.DecisionInput{Addr: 0x100, Idx: idx1, Req: r1, State: coherence.INVALID, Table: tbl, IsL2: true, WrbBufCap: 8})

		idx2, r2 := newReadReq(0x100)
		resp, slot, _ := f.NotPresMSHR(mshr.DecisionInput{Addr: 0x100, Idx: idx2, Req: r2, State: coherence.INVALID, Table: tbl, IsL2: true, WrbBufCap: 8})
		Expect(resp).To(Equal(mshr.MSHR_COAL))
		f.Coalesce(slot, idx2, r2, 10, false)

		idx3, r3 := newWriteReq(0x100)
		resp3, _, _ := f.NotPresMSHR(mshr.DecisionInput{Addr: 0x100, Idx: idx3, Req: r3, State: coherence.INVALID, Table: tbl, IsL2: true, WrbBufCap: 8})
		Expect(resp3).To(Equal(mshr.MSHR_STALL_WAR))
	})

	It("frees a slot exactly once across RemoveMSHR(i, subst) then RemoveMSHR(i, nil)", func() {
		f := mshr.New(4, 4)
		idx, r := newReadReq(0x100)
		_, slot, _ := f.NotPresMSHR(mshr.DecisionInput{Addr: 0x100, Idx: idx, Req: r, State: coherence.INVALID, Table: tbl, IsL2: true, WrbBufCap: 8})

		subIdx := pool.Alloc()
		f.RemoveMSHR(slot, subIdx, 5)
		Expect(f.Entry(slot).Valid).To(BeTrue())
		Expect(f.Entry(slot).Primary).To(Equal(subIdx))

		f.RemoveMSHR(slot, reqpool.NoIndex, 6)
		Expect(f.Entry(slot).Valid).To(BeFalse())
	})
})
