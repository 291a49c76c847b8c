package cacheline_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohecache/timing/cacheline"
	"github.com/sarchlab/cohecache/timing/coherence"
)

func TestCacheline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cacheline Suite")
}

var _ = Describe("Cache", func() {
	It("installs into an empty (INVALID) set first", func() {
		c := cacheline.New(1, 2, 64, false)
		_, meta, ok := c.Install(0x0, coherence.SH_CL, 0)
		Expect(ok).To(BeTrue())
		Expect(meta.State).To(Equal(coherence.SH_CL))
	})

	It("never selects a line with mshr_out set, except at L1-WT", func() {
		c := cacheline.New(1, 1, 64, false)
		_, meta, _ := c.Install(0x0, coherence.PR_CL, 0)
		meta.MshrOut = true

		_, _, ok := c.SelectVictim(0x40)
		Expect(ok).To(BeFalse()) // NO_REPLACE: the only line is locked

		wt := cacheline.New(1, 1, 64, true)
		_, meta2, _ := wt.Install(0x0, coherence.PR_CL, 0)
		meta2.MshrOut = true
		_, _, ok2 := wt.SelectVictim(0x40)
		Expect(ok2).To(BeTrue()) // L1-WT is the documented exception
	})

	It("prefers INVALID over SH_CL over PR_CL over PR_DY over SH_DY", func() {
		c := cacheline.New(1, 5, 64, false)
		// Fill 4 of 5 ways with non-invalid states, leave one INVALID.
		states := []coherence.LineState{coherence.SH_DY, coherence.PR_DY, coherence.PR_CL, coherence.SH_CL}
		addr := uint64(0)
		for _, s := range states {
			_, _, ok := c.Install(addr, s, 0)
			Expect(ok).To(BeTrue())
			addr += 64
		}
		block, meta, ok := c.SelectVictim(addr)
		Expect(ok).To(BeTrue())
		Expect(block.IsValid).To(BeFalse())
		_ = meta
	})

	It("returns NO_REPLACE when a set is filled with PR_* lines all mshr_out", func() {
		c := cacheline.New(1, 2, 64, false)
		_, m1, _ := c.Install(0x0, coherence.PR_CL, 0)
		_, m2, _ := c.Install(0x40, coherence.PR_DY, 0)
		m1.MshrOut = true
		m2.MshrOut = true
		_, _, ok := c.SelectVictim(0x80)
		Expect(ok).To(BeFalse())
	})

	It("picks the oldest line within a bucket, not the newest", func() {
		c := cacheline.New(1, 2, 64, false)
		blockA, _, ok := c.Install(0x0, coherence.SH_CL, 0)
		Expect(ok).To(BeTrue())
		_, _, ok = c.Install(0x40, coherence.SH_CL, 0)
		Expect(ok).To(BeTrue())

		block, _, ok := c.SelectVictim(0x80)
		Expect(ok).To(BeTrue())
		Expect(block).To(Equal(blockA))
	})
})
