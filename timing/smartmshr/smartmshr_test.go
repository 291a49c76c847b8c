package smartmshr_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohecache/timing/smartmshr"
)

func TestSmartMSHR(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SmartMSHR Suite")
}

var _ = Describe("Queue", func() {
	It("dispatches the head first (FIFO order)", func() {
		q := smartmshr.New()
		var order []string
		q.Enqueue("a", 1, func(int) { order = append(order, "a") })
		q.Enqueue("b", 2, func(int) { order = append(order, "b") })

		ok := q.TryDispatch(func(msg interface{}) bool { return true })
		Expect(ok).To(BeTrue())
		ok = q.TryDispatch(func(msg interface{}) bool { return true })
		Expect(ok).To(BeTrue())
		Expect(order).To(Equal([]string{"a", "b"}))
	})

	It("leaves the head in place on failed dispatch", func() {
		q := smartmshr.New()
		q.Enqueue("a", 1, nil)
		ok := q.TryDispatch(func(msg interface{}) bool { return false })
		Expect(ok).To(BeFalse())
		Expect(q.Len()).To(Equal(1))
	})

	It("lets RotateToTail reorder only the blocked head", func() {
		q := smartmshr.New()
		q.Enqueue("a", 1, nil)
		q.Enqueue("b", 2, nil)
		q.RotateToTail()

		var dispatched string
		q.TryDispatch(func(msg interface{}) bool {
			dispatched = msg.(string)
			return true
		})
		Expect(dispatched).To(Equal("b"))
	})
})
