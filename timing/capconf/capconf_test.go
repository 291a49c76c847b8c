package capconf_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohecache/timing/capconf"
)

func TestCapconf(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Capconf Suite")
}

var _ = Describe("Detector", func() {
	It("reports CAP then CONF for a repeated observe when not full", func() {
		d := capconf.New(4)
		Expect(d.Observe(0x100)).To(Equal(capconf.CAP))
		Expect(d.Observe(0x100)).To(Equal(capconf.CONF))
	})

	It("evicts the oldest tag once full, reporting CAP for the newcomer", func() {
		d := capconf.New(2)
		Expect(d.Observe(1)).To(Equal(capconf.CAP))
		Expect(d.Observe(2)).To(Equal(capconf.CAP))
		Expect(d.Full()).To(BeTrue())
		// 1 is the oldest and gets evicted to admit 3; set is now {2,3}.
		Expect(d.Observe(3)).To(Equal(capconf.CAP))
		Expect(d.Observe(2)).To(Equal(capconf.CONF))
		Expect(d.Observe(3)).To(Equal(capconf.CONF))
		// 1 was evicted earlier: reseeing it now is CAP again, not CONF.
		Expect(d.Observe(1)).To(Equal(capconf.CAP))
	})
})
