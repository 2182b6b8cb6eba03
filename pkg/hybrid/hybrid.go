// Package hybrid implements the Hybrid Execution Manager (spec.md §4.I): the
// single orchestration entry point enforcing sanitize -> route -> execute ->
// observe, wrapped in an SLA envelope, grounded on the teacher's AIService
// orchestration pattern (progress/completion/failure delegate callbacks over
// a pipeline of named phases).
package hybrid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hybridcore/inference-core/internal/config"
	apperrors "github.com/hybridcore/inference-core/internal/errors"
	"github.com/hybridcore/inference-core/pkg/cloud"
	"github.com/hybridcore/inference-core/pkg/localengine"
	"github.com/hybridcore/inference-core/pkg/probes"
	"github.com/hybridcore/inference-core/pkg/router"
	"github.com/hybridcore/inference-core/pkg/sanitize"
)

// Phase is a pipeline stage observable to delegates.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseSanitizing      Phase = "sanitizing"
	PhaseAnalyzingIntent Phase = "analyzing_intent"
	PhaseRouting         Phase = "routing"
	PhaseLoadingModel    Phase = "loading_model"
	PhaseGenerating      Phase = "generating"
	PhaseCompleted       Phase = "completed"
	PhaseFailed          Phase = "failed"
)

// Progress is emitted to delegates at coarse pipeline milestones.
type Progress struct {
	Phase          Phase
	PercentComplete float64
}

// Result is the HybridExecutionResult (spec.md §3). Invariant:
// RoutingTime + GenerationTime <= TotalTime.
type Result struct {
	Text           string
	Decision       router.Decision
	RoutingTime    time.Duration
	GenerationTime time.Duration
	TotalTime      time.Duration
	PIIRedacted    bool
	Metadata       map[string]string
}

// Delegate receives pipeline callbacks. Any of the three fields may be nil.
type Delegate struct {
	OnProgress   func(Progress)
	OnCompletion func(Result)
	OnFailure    func(error)
}

// ExecuteOptions mirrors the Hybrid Execution Manager's per-call
// configuration (spec.md §4.I). Zero value uses the manager's defaults.
type ExecuteOptions struct {
	UseIntentAnalysis *bool
	ForceLocal        bool
	ForceCloud        bool
	PreferredTier     config.CloudTier
	LocalParams       *config.GenerationParams
	CloudParams       *config.GenerationParams
	AllowFallback     *bool
}

func (o ExecuteOptions) useIntentAnalysis(def bool) bool {
	if o.UseIntentAnalysis != nil {
		return *o.UseIntentAnalysis
	}
	return def
}

func (o ExecuteOptions) allowFallback(def bool) bool {
	if o.AllowFallback != nil {
		return *o.AllowFallback
	}
	return def
}

func boolPtr(b bool) *bool { return &b }

// Preset option constructors (spec.md §4.I).
func QuickOptions() ExecuteOptions {
	return ExecuteOptions{UseIntentAnalysis: boolPtr(false)}
}

func PrivacyOptions() ExecuteOptions {
	return ExecuteOptions{ForceLocal: true, AllowFallback: boolPtr(false)}
}

func PerformanceOptions() ExecuteOptions {
	return ExecuteOptions{ForceCloud: true}
}

type invocationRecord struct {
	fingerprint string
	version     string
}

// Manager is the single orchestration entry point.
type Manager struct {
	cfg       *config.Config
	sanitizer *sanitize.Sanitizer
	router    *router.Router
	probes    *probes.Probes
	local     *localengine.Facade
	cloud     *cloud.Client
	log       logrus.FieldLogger

	mu         sync.Mutex
	delegates  map[int]Delegate
	nextID     int
	seenHashes map[string]invocationRecord
}

func New(cfg *config.Config, sanitizer *sanitize.Sanitizer, r *router.Router, probesFacade *probes.Probes, local *localengine.Facade, cloudClient *cloud.Client, log logrus.FieldLogger) *Manager {
	return &Manager{
		cfg:        cfg,
		sanitizer:  sanitizer,
		router:     r,
		probes:     probesFacade,
		local:      local,
		cloud:      cloudClient,
		log:        log,
		delegates:  make(map[int]Delegate),
		seenHashes: make(map[string]invocationRecord),
	}
}

// AddDelegate registers a delegate and returns its id for later removal.
func (m *Manager) AddDelegate(d Delegate) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.delegates[id] = d
	return id
}

// RemoveDelegate unregisters a previously added delegate. A no-op for an
// unknown id.
func (m *Manager) RemoveDelegate(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.delegates, id)
}

func (m *Manager) snapshotDelegates() []Delegate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delegate, 0, len(m.delegates))
	for _, d := range m.delegates {
		out = append(out, d)
	}
	return out
}

func (m *Manager) emitProgress(phase Phase, percent float64) {
	for _, d := range m.snapshotDelegates() {
		if d.OnProgress != nil {
			d.OnProgress(Progress{Phase: phase, PercentComplete: percent})
		}
	}
}

func (m *Manager) emitCompletion(res Result) {
	for _, d := range m.snapshotDelegates() {
		if d.OnCompletion != nil {
			d.OnCompletion(res)
		}
	}
}

func (m *Manager) emitFailure(err error) {
	for _, d := range m.snapshotDelegates() {
		if d.OnFailure != nil {
			d.OnFailure(err)
		}
	}
}

// CanExecuteLocally reports whether the local engine has a model loaded.
func (m *Manager) CanExecuteLocally() bool {
	return m.local != nil && m.local.State() == localengine.StateLoaded
}

// CanExecuteInCloud reports whether any cloud provider has credentials.
func (m *Manager) CanExecuteInCloud() bool {
	return m.cloud != nil && m.cloud.HasAnyProvider()
}

// IsModelLoaded reports whether the local engine currently has a model.
func (m *Manager) IsModelLoaded() bool {
	return m.CanExecuteLocally()
}

// PreloadModel loads a local model ahead of any inference call.
func (m *Manager) PreloadModel(ctx context.Context, directory string, class probes.ModelClass) error {
	return m.local.Load(ctx, class, directory, probes.QuantQ4)
}

// UnloadModel releases the currently loaded local model, if any.
func (m *Manager) UnloadModel() error {
	return m.local.Unload()
}

// inputHash derives a deterministic fingerprint of the material the SLA
// envelope treats as the identity of a call (spec.md §4.I).
func inputHash(prompt string, useIntentAnalysis, forceLocal, forceCloud bool) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%v|%v|%v", prompt, useIntentAnalysis, forceLocal, forceCloud)
	return hex.EncodeToString(h.Sum(nil))
}

func outputFingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// QuickExecute skips intent analysis.
func (m *Manager) QuickExecute(ctx context.Context, prompt string) (*Result, error) {
	return m.Execute(ctx, prompt, QuickOptions())
}

// PrivacyExecute forces local execution with fallback disabled.
func (m *Manager) PrivacyExecute(ctx context.Context, prompt string) (*Result, error) {
	return m.Execute(ctx, prompt, PrivacyOptions())
}

// PerformanceExecute forces cloud execution.
func (m *Manager) PerformanceExecute(ctx context.Context, prompt string) (*Result, error) {
	return m.Execute(ctx, prompt, PerformanceOptions())
}

// Execute runs the pipeline once, without fallback on a routing/generation
// failure.
func (m *Manager) Execute(ctx context.Context, prompt string, opts ExecuteOptions) (*Result, error) {
	return m.run(ctx, prompt, opts, false)
}

// ExecuteWithFallback runs the pipeline; on a primary failure it retries
// once per the fallback semantics of spec.md §4.I.
func (m *Manager) ExecuteWithFallback(ctx context.Context, prompt string, opts ExecuteOptions) (*Result, error) {
	return m.run(ctx, prompt, opts, true)
}

func (m *Manager) run(ctx context.Context, prompt string, opts ExecuteOptions, withFallback bool) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.SLA.TimeoutS)*time.Second)
	defer cancel()

	start := time.Now()
	result, err := m.attempt(ctx, prompt, opts, start)
	if err == nil {
		return result, nil
	}
	if !withFallback || !opts.allowFallback(m.cfg.Hybrid.AllowFallback) {
		m.emitFailure(err)
		return nil, err
	}

	var retryOpts ExecuteOptions
	switch {
	case opts.ForceLocal:
		retryOpts = ExecuteOptions{ForceCloud: true, UseIntentAnalysis: boolPtr(false), AllowFallback: boolPtr(false)}
	default:
		if !m.CanExecuteLocally() {
			m.emitFailure(err)
			return nil, err
		}
		retryOpts = ExecuteOptions{ForceLocal: true, UseIntentAnalysis: boolPtr(false), AllowFallback: boolPtr(false)}
	}

	result, retryErr := m.attempt(ctx, prompt, retryOpts, start)
	if retryErr != nil {
		m.emitFailure(retryErr)
		return nil, retryErr
	}
	return result, nil
}

func (m *Manager) attempt(ctx context.Context, prompt string, opts ExecuteOptions, callStart time.Time) (*Result, error) {
	useAnalysis := opts.useIntentAnalysis(m.cfg.Hybrid.UseIntentAnalysis)
	hash := inputHash(prompt, useAnalysis, opts.ForceLocal, opts.ForceCloud)

	m.emitProgress(PhaseSanitizing, 0.1)
	sanResult := m.sanitizer.Sanitize(prompt)
	m.emitProgress(PhaseSanitizing, 0.2)

	if ctx.Err() != nil {
		return nil, m.cancelled(ctx, callStart)
	}

	m.emitProgress(PhaseRouting, 0.3)

	var decision router.Decision
	routingStart := time.Now()

	switch {
	case opts.ForceLocal:
		vram := m.probes.CurrentVRAMStatus()
		decision = router.LocalDecision(router.SelectLocalModel(vram.AvailableVRAM))
	case opts.ForceCloud:
		provider, ok := m.cloud.PreferredProvider()
		if !ok {
			return nil, apperrors.New(apperrors.ErrorTypeAllEnginesUnavailable, "no cloud provider available")
		}
		tier := opts.PreferredTier
		if tier == "" {
			tier = m.cfg.Hybrid.PreferredCloudTier
		}
		if tier == "" {
			tier = config.TierNormal
		}
		model, _ := m.cfg.ModelOf(provider, tier)
		decision = router.CloudDecision(provider, model)
	default:
		if useAnalysis {
			m.emitProgress(PhaseAnalyzingIntent, 0.35)
		}
		var err error
		if useAnalysis {
			decision, _, err = m.router.Route(ctx, sanResult.SanitizedText)
		} else {
			decision, _, err = m.router.QuickRoute(ctx, sanResult.SanitizedText)
		}
		if err != nil {
			return nil, err
		}
	}
	routingTime := time.Since(routingStart)
	m.emitProgress(PhaseRouting, 0.4)

	if ctx.Err() != nil {
		return nil, m.cancelled(ctx, callStart)
	}

	genStart := time.Now()
	var text, finishReason string

	if decision.IsLocal {
		m.emitProgress(PhaseLoadingModel, 0.5)
		loaded, ok := m.local.LoadedModel()
		if !ok {
			return nil, apperrors.New(apperrors.ErrorTypeRoutingFailed, "model not loaded")
		}
		if loaded.Class.Name != decision.LocalModel.Name {
			return nil, apperrors.New(apperrors.ErrorTypeRoutingFailed, "model mismatch").
				WithDetailsf("loaded=%s wanted=%s", loaded.Class.Name, decision.LocalModel.Name)
		}

		m.emitProgress(PhaseGenerating, 0.6)
		params := m.cfg.Hybrid.LocalGeneration
		if opts.LocalParams != nil {
			params = *opts.LocalParams
		}
		genResult, err := m.local.Generate(ctx, sanResult.SanitizedText, params)
		if err != nil {
			return nil, err
		}
		text, finishReason = genResult.Text, genResult.FinishReason
	} else {
		m.emitProgress(PhaseGenerating, 0.6)
		params := m.cfg.Hybrid.CloudGeneration
		if opts.CloudParams != nil {
			params = *opts.CloudParams
		}
		messages := []cloud.Message{{Role: cloud.RoleUser, Content: sanResult.SanitizedText}}
		tier := opts.PreferredTier
		if tier == "" {
			tier = m.cfg.Hybrid.PreferredCloudTier
		}
		if tier == "" {
			tier = config.TierNormal
		}
		genResult, err := m.cloud.GenerateWithRetry(ctx, decision.CloudProvider, tier, messages, params)
		if err != nil {
			return nil, err
		}
		text, finishReason = genResult.Text, genResult.FinishReason
	}
	_ = finishReason
	generationTime := time.Since(genStart)

	if err := m.checkDeterminism(hash, text); err != nil {
		return nil, err
	}
	if err := m.checkSLABudget(callStart); err != nil {
		return nil, err
	}

	totalTime := time.Since(callStart)
	if totalTime < routingTime+generationTime {
		totalTime = routingTime + generationTime
	}

	result := &Result{
		Text:           text,
		Decision:       decision,
		RoutingTime:    routingTime,
		GenerationTime: generationTime,
		TotalTime:      totalTime,
		PIIRedacted:    sanResult.WasSanitized,
		Metadata:       map[string]string{"target_model": decision.TargetModel()},
	}

	m.emitProgress(PhaseCompleted, 1.0)
	m.emitCompletion(*result)
	return result, nil
}

func (m *Manager) checkDeterminism(hash, text string) error {
	if !m.cfg.SLA.Deterministic {
		return nil
	}
	fingerprint := outputFingerprint(text)

	m.mu.Lock()
	defer m.mu.Unlock()
	prior, seen := m.seenHashes[hash]
	m.seenHashes[hash] = invocationRecord{fingerprint: fingerprint, version: m.cfg.SLA.Version}
	if seen && prior.version == m.cfg.SLA.Version && prior.fingerprint != fingerprint {
		return apperrors.NewDeterministicViolation(hash)
	}
	return nil
}

// cancelled distinguishes the SLA's own timeout_exceeded(s) variant from a
// caller-initiated cancellation_requested (spec.md §7): ctx expiring on a
// deadline (the one this manager set in run(), or an earlier parent
// deadline) is a timeout; an explicit cancel is a plain cancellation request.
func (m *Manager) cancelled(ctx context.Context, callStart time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewTimeoutExceeded(time.Since(callStart).Seconds())
	}
	return apperrors.New(apperrors.ErrorTypeCancellationRequested, "operation cancelled")
}

// checkSLABudget enforces the max_latency_ms and max_memory_mb fields of the
// SLA envelope (spec.md §4.I) that aren't already covered by the
// context.WithTimeout deadline. A zero budget field means "unenforced."
func (m *Manager) checkSLABudget(callStart time.Time) error {
	if limit := m.cfg.SLA.MaxLatencyMS; limit > 0 {
		if elapsed := time.Since(callStart); elapsed.Milliseconds() > limit {
			return apperrors.NewTimeoutExceeded(elapsed.Seconds())
		}
	}

	if limit := m.cfg.SLA.MaxMemoryMB; limit > 0 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		observedMB := int64(stats.Alloc / (1 << 20))
		if observedMB > limit {
			return apperrors.NewMemoryBudgetExceeded(limit, observedMB)
		}
	}

	return nil
}
