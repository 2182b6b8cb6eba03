package probes_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hybridcore/inference-core/pkg/probes"
)

type fakeVRAM struct {
	max, allocated float64
	ok             bool
}

func (f fakeVRAM) Query() (float64, float64, bool) { return f.max, f.allocated, f.ok }

type fakeThermal struct{ level probes.Thermal }

func (f fakeThermal) Query() probes.Thermal { return f.level }

var _ = Describe("Probes", func() {
	var registry *prometheus.Registry

	BeforeEach(func() {
		registry = prometheus.NewRegistry()
	})

	Describe("CurrentVRAMStatus", func() {
		It("computes available VRAM as 0.75x max minus allocated", func() {
			p := probes.New(fakeVRAM{max: 32 * (1 << 30), allocated: 4 * (1 << 30), ok: true}, fakeThermal{}, probes.NewMetricsWithRegistry(registry))

			status := p.CurrentVRAMStatus()

			Expect(status.AvailableVRAM).To(BeNumerically("==", 0.75*32*(1<<30)-4*(1<<30)))
		})

		It("clamps available VRAM at zero", func() {
			p := probes.New(fakeVRAM{max: 4 * (1 << 30), allocated: 100 * (1 << 30), ok: true}, fakeThermal{}, probes.NewMetricsWithRegistry(registry))

			status := p.CurrentVRAMStatus()

			Expect(status.AvailableVRAM).To(BeNumerically(">=", 0))
		})

		It("returns AvailableVRAM=0 when the accelerator cannot be queried", func() {
			p := probes.New(fakeVRAM{ok: false}, fakeThermal{}, probes.NewMetricsWithRegistry(registry))

			status := p.CurrentVRAMStatus()

			Expect(status.AvailableVRAM).To(Equal(0.0))
		})

		DescribeTable("recommends quantization as a monotonic step function of available VRAM",
			func(availableGB float64, expected probes.Quantization) {
				// available = 0.75*max - allocated; pick max so available == availableGB exactly.
				maxWorkingSet := availableGB * (1 << 30) / 0.75
				p := probes.New(fakeVRAM{max: maxWorkingSet, ok: true}, fakeThermal{}, probes.NewMetricsWithRegistry(registry))

				status := p.CurrentVRAMStatus()

				Expect(status.RecommendedQuantization).To(Equal(expected))
			},
			Entry("very low headroom", 2.0, probes.QuantQ3),
			Entry("low headroom", 8.0, probes.QuantQ4),
			Entry("mid headroom", 16.0, probes.QuantQ8),
			Entry("high headroom", 30.0, probes.QuantNone),
		)
	})

	Describe("CurrentThermalStatus", func() {
		It("does not trigger the emergency latch for non-critical levels", func() {
			p := probes.New(fakeVRAM{ok: true}, fakeThermal{level: probes.ThermalFair}, probes.NewMetricsWithRegistry(registry))

			status := p.CurrentThermalStatus()

			Expect(status.EmergencyTriggered).To(BeFalse())
		})

		It("triggers the emergency latch once on entering critical", func() {
			th := &mutableThermal{level: probes.ThermalCritical}
			p := probes.New(fakeVRAM{ok: true}, th, probes.NewMetricsWithRegistry(registry))

			first := p.CurrentThermalStatus()
			second := p.CurrentThermalStatus()

			Expect(first.EmergencyTriggered).To(BeTrue())
			Expect(second.EmergencyTriggered).To(BeFalse(), "latch must not re-trigger while thermal stays critical")
		})

		It("clears the latch once thermal drops back below critical", func() {
			th := &mutableThermal{level: probes.ThermalCritical}
			p := probes.New(fakeVRAM{ok: true}, th, probes.NewMetricsWithRegistry(registry))

			p.CurrentThermalStatus()
			th.level = probes.ThermalFair
			p.CurrentThermalStatus()

			th.level = probes.ThermalCritical
			third := p.CurrentThermalStatus()

			Expect(third.EmergencyTriggered).To(BeTrue(), "a fresh critical observation after recovery re-triggers")
		})
	})

	Describe("Thermal ladder predicates", func() {
		It("allows intensive compute only at nominal and fair", func() {
			Expect(probes.ThermalNominal.AllowsIntensiveCompute()).To(BeTrue())
			Expect(probes.ThermalFair.AllowsIntensiveCompute()).To(BeTrue())
			Expect(probes.ThermalSerious.AllowsIntensiveCompute()).To(BeFalse())
			Expect(probes.ThermalCritical.AllowsIntensiveCompute()).To(BeFalse())
		})

		It("requires cloud offload only at critical", func() {
			Expect(probes.ThermalSerious.RequiresCloudOffload()).To(BeFalse())
			Expect(probes.ThermalCritical.RequiresCloudOffload()).To(BeTrue())
		})
	})

	Describe("EstimateModelMemory", func() {
		It("applies a 20% overhead over raw parameter bytes", func() {
			raw := 7.0 * 1e9 * 8 / 8
			got := probes.EstimateModelMemory(7.0, 8)
			Expect(got).To(BeNumerically("==", raw*1.2))
		})
	})

	Describe("RecommendModelClass", func() {
		It("has strictly increasing RecommendedVRAM by ParameterBillions", func() {
			classes := probes.ModelClasses()
			for i := 1; i < len(classes); i++ {
				Expect(classes[i].RecommendedVRAM).To(BeNumerically(">", classes[i-1].RecommendedVRAM))
				Expect(classes[i].ParameterBillions).To(BeNumerically(">", classes[i-1].ParameterBillions))
			}
		})

		It("picks the largest class that fits the available VRAM", func() {
			mc := probes.RecommendModelClass(9 * (1 << 30))
			Expect(mc.RecommendedVRAM).To(BeNumerically("<=", 9*(1<<30)))
		})
	})
})

type mutableThermal struct{ level probes.Thermal }

func (m *mutableThermal) Query() probes.Thermal { return m.level }
