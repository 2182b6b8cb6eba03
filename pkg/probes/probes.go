// Package probes implements the Hardware Probes (spec.md §4.A): polled
// snapshots of VRAM headroom and the thermal ladder, exposed as Prometheus
// gauges the way the teacher's pkg/gateway/metrics registers its counters
// and histograms (test/unit/gateway/metrics/metrics_test.go).
package probes

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// Thermal is the totally ordered thermal ladder.
type Thermal int

const (
	ThermalNominal Thermal = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (t Thermal) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// AllowsIntensiveCompute partitions the ladder: only {nominal, fair} permit
// heavy local inference.
func (t Thermal) AllowsIntensiveCompute() bool {
	return t == ThermalNominal || t == ThermalFair
}

// RequiresCloudOffload is true only at the top of the ladder; "serious"
// forbids heavy local work without forcing cloud on its own.
func (t Thermal) RequiresCloudOffload() bool {
	return t == ThermalCritical
}

// ThermalStatus is the latched thermal observation plus the one-shot
// emergency latch described in spec.md §4.A.
type ThermalStatus struct {
	Level              Thermal
	EmergencyTriggered bool
}

// Quantization is the recommended weight quantization for the available
// VRAM headroom.
type Quantization string

const (
	QuantNone Quantization = "none"
	QuantQ8   Quantization = "q8"
	QuantQ4   Quantization = "q4"
	QuantQ3   Quantization = "q3"
)

// VRAMStatus is a pure snapshot of accelerator memory headroom.
type VRAMStatus struct {
	RecommendedMaxWorkingSet float64 // bytes
	CurrentAllocated         float64 // bytes
	AvailableVRAM            float64 // bytes
	RecommendedQuantization  Quantization
}

const gib = 1 << 30

func quantizationFor(availableVRAM float64) Quantization {
	switch {
	case availableVRAM >= 24*gib:
		return QuantNone
	case availableVRAM >= 12*gib:
		return QuantQ8
	case availableVRAM >= 6*gib:
		return QuantQ4
	default:
		return QuantQ3
	}
}

// VRAMQuery is the narrow hardware-facing collaborator this probe consumes.
// Concrete accelerator introspection (CUDA, Metal, ROCm) is out of scope;
// callers inject a VRAMQuery.
type VRAMQuery interface {
	// MaxWorkingSet and CurrentAllocated report bytes. ok=false means the
	// accelerator could not be queried.
	Query() (maxWorkingSet, currentAllocated float64, ok bool)
}

// ThermalQuery is the narrow hardware-facing collaborator reporting the raw
// ladder value. Concrete sensor polling is out of scope.
type ThermalQuery interface {
	Query() Thermal
}

// Metrics are the Prometheus gauges this probe publishes, namespaced
// "hybridcore_" the way the teacher namespaces gateway metrics
// "gateway_".
type Metrics struct {
	AvailableVRAMBytes prometheus.Gauge
	ThermalLevel       prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AvailableVRAMBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hybridcore_probe_available_vram_bytes",
			Help: "Estimated available accelerator VRAM in bytes.",
		}),
		ThermalLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hybridcore_probe_thermal_level",
			Help: "Thermal ladder level: 0=nominal 1=fair 2=serious 3=critical.",
		}),
	}
	reg.MustRegister(m.AvailableVRAMBytes, m.ThermalLevel)
	return m
}

// Probes exposes the current working-set limit and thermal ladder as polled
// snapshots (spec.md §4.A).
type Probes struct {
	vram    VRAMQuery
	thermal ThermalQuery
	metrics *Metrics

	lastWasCritical bool
}

func New(vram VRAMQuery, thermal ThermalQuery, metrics *Metrics) *Probes {
	return &Probes{vram: vram, thermal: thermal, metrics: metrics}
}

// CurrentVRAMStatus is a pure function of device capability and currently
// allocated accelerator memory. If the accelerator cannot be queried,
// AvailableVRAM is 0 rather than erroring; callers must treat that as "no
// local capability".
func (p *Probes) CurrentVRAMStatus() VRAMStatus {
	maxWorkingSet, allocated, ok := p.vram.Query()
	if !ok {
		if p.metrics != nil {
			p.metrics.AvailableVRAMBytes.Set(0)
		}
		return VRAMStatus{RecommendedQuantization: QuantQ3}
	}

	available := 0.75*maxWorkingSet - allocated
	if available < 0 {
		available = 0
	}

	if p.metrics != nil {
		p.metrics.AvailableVRAMBytes.Set(available)
	}

	return VRAMStatus{
		RecommendedMaxWorkingSet: maxWorkingSet,
		CurrentAllocated:         allocated,
		AvailableVRAM:            available,
		RecommendedQuantization:  quantizationFor(available),
	}
}

// CurrentThermalStatus latches the observed ladder value. Critical is
// sticky for one emission: the first observation of critical sets
// EmergencyTriggered; the next non-critical observation clears the latch.
func (p *Probes) CurrentThermalStatus() ThermalStatus {
	level := p.thermal.Query()

	if p.metrics != nil {
		p.metrics.ThermalLevel.Set(float64(level))
	}

	triggered := false
	if level == ThermalCritical {
		if !p.lastWasCritical {
			triggered = true
		}
		p.lastWasCritical = true
	} else {
		p.lastWasCritical = false
	}

	return ThermalStatus{Level: level, EmergencyTriggered: triggered}
}

const bitsPerByte = 8

// EstimateModelMemory estimates bytes required to load a model of the given
// parameter count at the given quantization, including a 20% overhead for
// activations and KV cache.
func EstimateModelMemory(paramBillions float64, bitsPerWeight int) float64 {
	params := paramBillions * 1e9
	return params * float64(bitsPerWeight) / bitsPerByte * 1.2
}

// BitsPerWeight maps a Quantization to its effective bits-per-weight.
func BitsPerWeight(q Quantization) int {
	switch q {
	case QuantQ3:
		return 3
	case QuantQ4:
		return 4
	case QuantQ8:
		return 8
	default:
		return 16
	}
}

// ModelClass is a closed set of local model identifiers.
type ModelClass struct {
	Name                  string
	ParameterBillions     float64
	RecommendedVRAM       float64 // bytes
	IsAcceleratorOptimized bool
}

// modelClasses is ordered by ParameterBillions ascending; RecommendedVRAM
// is strictly increasing, per spec.md §3.
var modelClasses = []ModelClass{
	{Name: "tiny-1b", ParameterBillions: 1, RecommendedVRAM: 2 * gib, IsAcceleratorOptimized: true},
	{Name: "small-3b", ParameterBillions: 3, RecommendedVRAM: 4 * gib, IsAcceleratorOptimized: true},
	{Name: "medium-7b", ParameterBillions: 7, RecommendedVRAM: 8 * gib, IsAcceleratorOptimized: true},
	{Name: "large-13b", ParameterBillions: 13, RecommendedVRAM: 14 * gib, IsAcceleratorOptimized: false},
	{Name: "xl-34b", ParameterBillions: 34, RecommendedVRAM: 28 * gib, IsAcceleratorOptimized: false},
}

// ModelClasses returns the closed, ascending set of local model classes.
func ModelClasses() []ModelClass {
	out := make([]ModelClass, len(modelClasses))
	copy(out, modelClasses)
	return out
}

// RecommendModelClass picks the largest model class whose RecommendedVRAM
// fits within availableVRAM, per the latest VRAM snapshot.
func RecommendModelClass(availableVRAM float64) ModelClass {
	best := modelClasses[0]
	for _, mc := range modelClasses {
		if mc.RecommendedVRAM <= availableVRAM {
			best = mc
		}
	}
	return best
}

// RecommendBatchSize is a pure function of the latest VRAM status: more
// headroom permits a larger batch, floored at 1.
func RecommendBatchSize(status VRAMStatus) int {
	if status.AvailableVRAM <= 0 {
		return 1
	}
	batch := int(math.Floor(status.AvailableVRAM / (2 * gib)))
	if batch < 1 {
		batch = 1
	}
	if batch > 8 {
		batch = 8
	}
	return batch
}
