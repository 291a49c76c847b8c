package config_test

import (
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohecache/timing/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	It("validates a default L1 and L2 config", func() {
		Expect(config.DefaultL1WBConfig().Validate()).To(Succeed())
		Expect(config.DefaultL2Config().Validate()).To(Succeed())
	})

	It("rejects a non-power-of-two line size", func() {
		c := config.DefaultL1WBConfig()
		c.LineSz = 100
		Expect(c.Validate()).NotTo(Succeed())
	})

	It("round-trips through JSON", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "l1.json")

		c := config.DefaultL1WBConfig()
		c.MaxMSHRs = 2
		Expect(c.SaveConfig(path)).To(Succeed())

		loaded, err := config.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.MaxMSHRs).To(Equal(2))
	})

	It("clones independently of the pipe width slices", func() {
		c := config.DefaultL1WBConfig()
		clone := c.Clone()
		clone.TagPipe.PipeWidths[0] = 99
		Expect(c.TagPipe.PipeWidths[0]).NotTo(Equal(99))
	})

	It("computes WrbBufSize as MaxMSHRs + WrbBufExtra", func() {
		c := config.DefaultL2Config()
		Expect(c.WrbBufSize()).To(Equal(c.MaxMSHRs + c.WrbBufExtra))
	})
})

var _ = Describe("System", func() {
	It("validates the default single-node system", func() {
		Expect(config.DefaultSystem().Validate()).To(Succeed())
	})

	It("rejects zero nodes", func() {
		sys := config.DefaultSystem()
		sys.NumNodes = 0
		Expect(sys.Validate()).NotTo(Succeed())
	})
})
