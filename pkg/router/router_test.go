package router_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hybridcore/inference-core/internal/config"
	"github.com/hybridcore/inference-core/pkg/audit"
	"github.com/hybridcore/inference-core/pkg/cloud"
	"github.com/hybridcore/inference-core/pkg/probes"
	"github.com/hybridcore/inference-core/pkg/retry"
	"github.com/hybridcore/inference-core/pkg/router"
	"github.com/hybridcore/inference-core/pkg/sanitize"
	"github.com/hybridcore/inference-core/pkg/secrets"
	"github.com/hybridcore/inference-core/pkg/sse"
)

const gib = 1 << 30

type fakeVRAM struct{ max, allocated float64 }

func (f fakeVRAM) Query() (float64, float64, bool) { return f.max, f.allocated, true }

type fakeThermal struct{ level probes.Thermal }

func (f fakeThermal) Query() probes.Thermal { return f.level }

// probesWithAvailable builds a Probes whose CurrentVRAMStatus().AvailableVRAM
// equals availableBytes exactly (allocated=0).
func probesWithAvailable(availableBytes float64, thermal probes.Thermal) *probes.Probes {
	max := availableBytes / 0.75
	return probes.New(fakeVRAM{max: max}, fakeThermal{level: thermal}, nil)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

type auditEvent struct {
	eventType audit.EventType
	source    string
	details   map[string]interface{}
}

func (r *recordingAudit) Log(eventType audit.EventType, source string, details map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, auditEvent{eventType, source, details})
	return true, nil
}

func (r *recordingAudit) find(t audit.EventType) (auditEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.eventType == t {
			return e, true
		}
	}
	return auditEvent{}, false
}

func (r *recordingAudit) count(t audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.eventType == t {
			n++
		}
	}
	return n
}

func noProviderCloud() *cloud.Client {
	cfg := config.Default()
	store := secrets.NewEnvStore(nil)
	return cloud.New(cfg, store, map[config.Provider]cloud.ProviderClient{}, nil, retry.New(retry.DefaultConfig()), nil)
}

func newRouter(cfg *config.Config, vram *probes.Probes, cloudClient *cloud.Client, auditLog audit.Log) *router.Router {
	return router.New(cfg, sanitize.NewSanitizer(), vram, cloudClient, auditLog)
}

var _ = Describe("Router", func() {
	var auditLog *recordingAudit

	BeforeEach(func() {
		auditLog = &recordingAudit{}
	})

	Describe("gate 1: safe mode override", func() {
		It("always routes to the private cloud provider regardless of VRAM or thermal", func() {
			cfg := config.Default()
			cfg.Policy = config.PolicySafeMode
			r := newRouter(cfg, probesWithAvailable(64*gib, probes.ThermalNominal), noProviderCloud(), auditLog)

			decision, _, err := r.QuickRoute(context.Background(), "hello there")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.IsLocal).To(BeFalse())
			Expect(decision.CloudProvider).To(Equal(config.ProviderPrivateCloud))
		})
	})

	Describe("gate 2: thermal critical override", func() {
		It("routes to the preferred cloud provider when thermal is critical", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(64*gib, probes.ThermalCritical), noProviderCloud(), auditLog)

			decision, _, err := r.QuickRoute(context.Background(), "hello there")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.IsLocal).To(BeFalse())
			Expect(decision.CloudProvider).To(Equal(config.ProviderAnthropic))
		})

		It("takes priority over the low-complexity/high-VRAM local shortcut", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(64*gib, probes.ThermalCritical), noProviderCloud(), auditLog)

			decision, analysis, err := r.QuickRoute(context.Background(), "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Complexity).To(Equal(router.ComplexityLow))
			Expect(decision.IsLocal).To(BeFalse())
		})
	})

	Describe("gate 3: low-complexity high-VRAM shortcut", func() {
		It("routes locally when complexity is low, VRAM is plentiful, and thermal allows intensive compute", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(32*gib, probes.ThermalNominal), noProviderCloud(), auditLog)

			decision, analysis, err := r.QuickRoute(context.Background(), "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Complexity).To(Equal(router.ComplexityLow))
			Expect(decision.IsLocal).To(BeTrue())
			Expect(decision.LocalModel.Name).To(Equal("xl-34b"))
		})
	})

	Describe("gate 4: high-complexity or low-VRAM push to cloud", func() {
		It("routes to cloud when complexity is high even with plentiful VRAM", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(32*gib, probes.ThermalNominal), noProviderCloud(), auditLog)

			longPrompt := "please design a new algorithm and implement a refactor of the entire subsystem with careful architecture considerations"
			decision, analysis, err := r.QuickRoute(context.Background(), longPrompt)
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Complexity).To(Equal(router.ComplexityHigh))
			Expect(decision.IsLocal).To(BeFalse())
		})

		It("routes to cloud when VRAM is below 8 GiB even for a low-complexity prompt", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(4*gib, probes.ThermalNominal), noProviderCloud(), auditLog)

			decision, analysis, err := r.QuickRoute(context.Background(), "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Complexity).To(Equal(router.ComplexityLow))
			Expect(decision.IsLocal).To(BeFalse())
		})
	})

	Describe("gate 5: default", func() {
		It("routes locally when VRAM exceeds 8 GiB and thermal is not serious", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(9*gib, probes.ThermalFair), noProviderCloud(), auditLog)

			decision, _, err := r.QuickRoute(context.Background(), "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.IsLocal).To(BeTrue())
		})

		It("routes to cloud when thermal is serious even with moderate VRAM", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(9*gib, probes.ThermalSerious), noProviderCloud(), auditLog)

			decision, _, err := r.QuickRoute(context.Background(), "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.IsLocal).To(BeFalse())
		})
	})

	Describe("local heuristic fallback invariant", func() {
		It("always produces confidence<=0.5 and intent=undefined", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(32*gib, probes.ThermalNominal), noProviderCloud(), auditLog)

			_, analysis, err := r.QuickRoute(context.Background(), "hi there")
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Confidence).To(BeNumerically("<=", 0.5))
			Expect(analysis.Intent).To(Equal(router.IntentUndefined))
			Expect(analysis.Reasoning).To(Equal("Fallback"))
		})
	})

	Describe("audit emission", func() {
		It("emits exactly one shadow_router_decision event per route call", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(32*gib, probes.ThermalNominal), noProviderCloud(), auditLog)

			_, _, err := r.QuickRoute(context.Background(), "hi there")
			Expect(err).NotTo(HaveOccurred())

			ev, found := auditLog.find(audit.EventShadowRouterDecision)
			Expect(found).To(BeTrue())
			Expect(auditLog.count(audit.EventShadowRouterDecision)).To(Equal(1))
			Expect(ev.details).To(HaveKey("elapsed_ms"))
			Expect(ev.details).To(HaveKey("is_local"))
		})

		It("emits pii_redaction audit event when the prompt contains PII, without altering the decision gate", func() {
			cfg := config.Default()
			r := newRouter(cfg, probesWithAvailable(32*gib, probes.ThermalNominal), noProviderCloud(), auditLog)

			_, _, err := r.QuickRoute(context.Background(), "email me at someone@example.com")
			Expect(err).NotTo(HaveOccurred())

			_, found := auditLog.find(audit.EventPIIRedaction)
			Expect(found).To(BeTrue())
		})
	})

	Describe("remote intent analysis with fallback", func() {
		It("falls back to the local heuristic when the mini-tier call fails", func() {
			cfg := config.Default()
			store := secrets.NewEnvStore(map[config.Provider]string{config.ProviderAnthropic: "test-token"})
			failingProvider := &failingProviderClient{name: config.ProviderAnthropic}
			cloudClient := cloud.New(cfg, store, map[config.Provider]cloud.ProviderClient{
				config.ProviderAnthropic: failingProvider,
			}, []config.Provider{config.ProviderAnthropic}, retry.New(retry.DefaultConfig()), nil)

			r := newRouter(cfg, probesWithAvailable(32*gib, probes.ThermalNominal), cloudClient, auditLog)

			_, analysis, err := r.Route(context.Background(), "hi there")
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Intent).To(Equal(router.IntentUndefined))
			Expect(analysis.Confidence).To(BeNumerically("<=", 0.5))
		})
	})
})

type failingProviderClient struct{ name config.Provider }

func (f *failingProviderClient) Provider() config.Provider { return f.name }

func (f *failingProviderClient) GenerateStreaming(ctx context.Context, token, model string, messages []cloud.Message, params config.GenerationParams, maxBytes int) <-chan sse.StreamEvent {
	out := make(chan sse.StreamEvent, 1)
	out <- sse.ErrorEvent(context.DeadlineExceeded)
	close(out)
	return out
}
