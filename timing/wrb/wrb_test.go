package wrb_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohecache/timing/reqpool"
	"github.com/sarchlab/cohecache/timing/wrb"
)

func TestWRB(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "WRB Suite")
}

var _ = Describe("Buffer", func() {
	It("inserts and finds by tag", func() {
		b := wrb.New(2)
		slot := b.Insert(0x100, reqpool.Index(1), reqpool.NoIndex)
		Expect(slot).To(BeNumerically(">=", 0))
		Expect(b.Hit(0x100)).To(Equal(slot))
		Expect(b.Hit(0x200)).To(Equal(-1))
	})

	It("requires both data and L1 completion before ready to send", func() {
		b := wrb.New(1)
		slot := b.Insert(0x100, reqpool.Index(1), reqpool.NoIndex)
		Expect(b.ReadyToSend(slot)).To(BeFalse())
		b.MarkDoneData(0x100, true)
		Expect(b.ReadyToSend(slot)).To(BeFalse())
		b.MarkDoneL1(0x100)
		Expect(b.ReadyToSend(slot)).To(BeTrue())
	})

	It("downgrades WRB to REPL only when both sides were clean", func() {
		Expect(wrb.DowngradeToRepl(false, false)).To(BeTrue())
		Expect(wrb.DowngradeToRepl(true, false)).To(BeFalse())
		Expect(wrb.DowngradeToRepl(false, true)).To(BeFalse())
	})

	It("reports full when no slot is free", func() {
		b := wrb.New(1)
		Expect(b.Insert(1, reqpool.Index(1), reqpool.NoIndex)).To(BeNumerically(">=", 0))
		Expect(b.Insert(2, reqpool.Index(2), reqpool.NoIndex)).To(Equal(-1))
	})

	It("promotes the secondary request via Replace", func() {
		b := wrb.New(1)
		slot := b.Insert(0x100, reqpool.Index(1), reqpool.Index(2))
		b.Replace(slot)
		Expect(b.Hit(0x100)).To(Equal(slot))
	})
})
