package port_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cohecache/timing/port"
	"github.com/sarchlab/cohecache/timing/reqpool"
)

func TestPort(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Port Suite")
}

var _ = Describe("Queue", func() {
	It("is FIFO and never blocks", func() {
		q := port.New()
		Expect(q.Len()).To(Equal(0))

		q.Push(reqpool.Index(1))
		q.Push(reqpool.Index(2))
		q.Push(reqpool.Index(3))
		Expect(q.Len()).To(Equal(3))

		idx, ok := q.Peek()
		Expect(ok).To(BeTrue())
		Expect(idx).To(Equal(reqpool.Index(1)))

		q.Pop()
		idx, ok = q.Peek()
		Expect(ok).To(BeTrue())
		Expect(idx).To(Equal(reqpool.Index(2)))
		Expect(q.Len()).To(Equal(2))
	})

	It("reports empty correctly", func() {
		q := port.New()
		_, ok := q.Peek()
		Expect(ok).To(BeFalse())
		q.Pop() // must not panic on an empty queue
	})
})
