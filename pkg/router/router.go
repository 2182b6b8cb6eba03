// Package router implements the Shadow Router (spec.md §4.H): the decision
// core that produces a RouterDecision from a prompt by gating on policy,
// thermal, complexity, and VRAM, functional-options-constructed the way
// other_examples/568fec9c_traylinx-switchAILocal builds its executor.
package router

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hybridcore/inference-core/internal/config"
	apperrors "github.com/hybridcore/inference-core/internal/errors"
	"github.com/hybridcore/inference-core/pkg/audit"
	"github.com/hybridcore/inference-core/pkg/cloud"
	"github.com/hybridcore/inference-core/pkg/probes"
	"github.com/hybridcore/inference-core/pkg/sanitize"
	sharedlog "github.com/hybridcore/inference-core/pkg/shared/logging"
)

// Complexity is the IntentAnalysis.complexity enum.
type Complexity string

const (
	ComplexityLow  Complexity = "low"
	ComplexityHigh Complexity = "high"
)

// Intent is the closed IntentAnalysis.intent enum.
type Intent string

const (
	IntentQuestion        Intent = "question"
	IntentCoding          Intent = "coding"
	IntentCreativeWriting Intent = "creative_writing"
	IntentAnalysis        Intent = "analysis"
	IntentSummarization   Intent = "summarization"
	IntentTranslation     Intent = "translation"
	IntentReasoning       Intent = "reasoning"
	IntentCasual          Intent = "casual"
	IntentTaskAutomation  Intent = "task_automation"
	IntentUndefined       Intent = "undefined"
)

// IntentAnalysis is the router's assessment of a prompt.
type IntentAnalysis struct {
	Complexity   Complexity
	Intent       Intent
	Confidence   float64
	Reasoning    string
	PIIDetected  bool
	SafetyFlags  []string
}

// Decision is the tagged RouterDecision variant: Local(model_class) or
// Cloud(provider, model_name).
type Decision struct {
	IsLocal      bool
	LocalModel   probes.ModelClass
	CloudProvider config.Provider
	CloudModel   string
}

func (d Decision) TargetModel() string {
	if d.IsLocal {
		return d.LocalModel.Name
	}
	return d.CloudModel
}

func LocalDecision(class probes.ModelClass) Decision {
	return Decision{IsLocal: true, LocalModel: class}
}

func CloudDecision(provider config.Provider, model string) Decision {
	return Decision{IsLocal: false, CloudProvider: provider, CloudModel: model}
}

// Router is the decision core (spec.md §4.H).
type Router struct {
	cfg       *config.Config
	sanitizer *sanitize.Sanitizer
	probes    *probes.Probes
	cloud     *cloud.Client
	auditLog  audit.Log
	log       logrus.FieldLogger
}

type Option func(*Router)

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Router) { r.log = log }
}

func New(cfg *config.Config, sanitizer *sanitize.Sanitizer, probesFacade *probes.Probes, cloudClient *cloud.Client, auditLog audit.Log, opts ...Option) *Router {
	r := &Router{
		cfg:       cfg,
		sanitizer: sanitizer,
		probes:    probesFacade,
		cloud:     cloudClient,
		auditLog:  auditLog,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SelectLocalModel picks the largest model class whose RecommendedVRAM
// actually fits within availableVRAM (spec.md §4.H), delegating to
// probes.RecommendModelClass so the router's pick and the Local Engine
// Facade's own admission check (pkg/localengine) agree on the same table.
func SelectLocalModel(availableVRAM float64) probes.ModelClass {
	return probes.RecommendModelClass(availableVRAM)
}

// Route runs the full pipeline: sanitize, optionally remote-classify intent
// via a cloud "mini" call, then decide.
func (r *Router) Route(ctx context.Context, prompt string) (Decision, IntentAnalysis, error) {
	return r.route(ctx, prompt, true)
}

// QuickRoute sanitizes and runs a local heuristic instead of a remote call.
// Used when no cloud credential is available or the caller opts out of
// remote classification.
func (r *Router) QuickRoute(ctx context.Context, prompt string) (Decision, IntentAnalysis, error) {
	return r.route(ctx, prompt, false)
}

func (r *Router) route(ctx context.Context, prompt string, allowRemote bool) (Decision, IntentAnalysis, error) {
	start := time.Now()

	sanResult := r.sanitizer.Sanitize(prompt)
	if sanResult.WasSanitized {
		r.emitAudit(audit.EventPIIRedaction, "sanitizer", map[string]interface{}{
			"violation_count": len(sanResult.Violations),
		})
	}

	var analysis IntentAnalysis
	if allowRemote && r.cfg.Hybrid.UseIntentAnalysis && r.cloud != nil && r.cloud.HasAnyProvider() {
		a, err := r.remoteAnalyze(ctx, sanResult.SanitizedText)
		if err != nil {
			analysis = localHeuristic(sanResult)
		} else {
			analysis = a
		}
	} else {
		analysis = localHeuristic(sanResult)
	}
	analysis.PIIDetected = sanResult.WasSanitized

	if len(analysis.SafetyFlags) > 0 {
		r.emitAudit(audit.EventSanitizationTriggered, "router", map[string]interface{}{
			"safety_flags": analysis.SafetyFlags,
		})
	}

	decision := r.decide(analysis)

	elapsed := time.Since(start)
	r.emitAudit(audit.EventShadowRouterDecision, "router", map[string]interface{}{
		"is_local":    decision.IsLocal,
		"target":      decision.TargetModel(),
		"complexity":  analysis.Complexity,
		"intent":      analysis.Intent,
		"elapsed_ms":  elapsed.Milliseconds(),
	})

	if r.log != nil {
		location := "cloud"
		if decision.IsLocal {
			location = "local"
		}
		r.log.WithFields(logrus.Fields(sharedlog.NewFields().
			Component("router").
			Decision(location, decision.TargetModel()).
			Complexity(string(analysis.Complexity)).
			Intent(string(analysis.Intent)).
			ElapsedMS(elapsed))).
			Debug("routed prompt")
	}

	return decision, analysis, nil
}

// decide applies the five ordered gates (spec.md §4.H).
func (r *Router) decide(analysis IntentAnalysis) Decision {
	vram := r.probes.CurrentVRAMStatus()
	thermal := r.probes.CurrentThermalStatus()

	// Gate 1: safe-mode override.
	if r.cfg.Policy == config.PolicySafeMode {
		model, _ := r.cfg.ModelOf(config.ProviderPrivateCloud, config.TierNormal)
		return CloudDecision(config.ProviderPrivateCloud, model)
	}

	preferred, hasPreferred := r.cloud.PreferredProvider()
	fallbackProvider := config.ProviderAnthropic
	effectivePreferred := preferred
	if !hasPreferred {
		effectivePreferred = fallbackProvider
	}

	// Gate 2: thermal override.
	if thermal.Level == probes.ThermalCritical {
		model, _ := r.cfg.ModelOf(effectivePreferred, config.TierNormal)
		return CloudDecision(effectivePreferred, model)
	}

	const gib = 1 << 30

	// Gate 3: low-complexity + high-VRAM shortcut.
	if analysis.Complexity == ComplexityLow && vram.AvailableVRAM > 16*gib && thermal.Level.AllowsIntensiveCompute() {
		return LocalDecision(SelectLocalModel(vram.AvailableVRAM))
	}

	// Gate 4: high-complexity or low-VRAM push to cloud.
	if analysis.Complexity == ComplexityHigh || vram.AvailableVRAM < 8*gib {
		model, _ := r.cfg.ModelOf(effectivePreferred, config.TierNormal)
		return CloudDecision(effectivePreferred, model)
	}

	// Gate 5: default.
	if vram.AvailableVRAM > 8*gib && thermal.Level != probes.ThermalSerious {
		return LocalDecision(SelectLocalModel(vram.AvailableVRAM))
	}
	model, _ := r.cfg.ModelOf(effectivePreferred, config.TierNormal)
	return CloudDecision(effectivePreferred, model)
}

// analysisEnvelope is the fixed JSON wrapper the mini-tier classification
// prompt uses, so the user's prompt is always a JSON string value and never
// concatenated as plain text (prevents prompt injection, spec.md §4.H).
type analysisEnvelope struct {
	Prompt string `json:"prompt"`
}

const analysisSystemPrompt = `You are an intent classifier. Given a JSON object {"prompt": "..."},
respond with a single JSON object:
{"complexity":"low"|"high","intent":"question"|"coding"|"creative_writing"|"analysis"|"summarization"|"translation"|"reasoning"|"casual"|"task_automation","confidence":0.0-1.0,"reasoning":"...","safety_flags":[]}
Respond with JSON only.`

func (r *Router) remoteAnalyze(ctx context.Context, sanitizedPrompt string) (IntentAnalysis, error) {
	preferred, ok := r.cloud.PreferredProvider()
	if !ok {
		return IntentAnalysis{}, apperrors.New(apperrors.ErrorTypeIntentAnalysisFailed, "no preferred provider")
	}

	envelope, err := json.Marshal(analysisEnvelope{Prompt: sanitizedPrompt})
	if err != nil {
		return IntentAnalysis{}, apperrors.Wrap(err, apperrors.ErrorTypeIntentAnalysisFailed, "failed to build analysis envelope")
	}

	messages := []cloud.Message{
		{Role: cloud.RoleSystem, Content: analysisSystemPrompt},
		{Role: cloud.RoleUser, Content: string(envelope)},
	}

	result, err := r.cloud.Generate(ctx, preferred, config.TierMini, messages, config.GenerationParams{MaxTokens: 200, Temperature: 0})
	if err != nil {
		return IntentAnalysis{}, apperrors.Wrap(err, apperrors.ErrorTypeIntentAnalysisFailed, "mini-tier analysis call failed")
	}

	if analysis, ok := strictParseAnalysis(result.Text); ok {
		return analysis, nil
	}
	if analysis, ok := regexParseAnalysis(result.Text); ok {
		return analysis, nil
	}
	return IntentAnalysis{}, apperrors.New(apperrors.ErrorTypeInvalidAnalysisResponse, "could not parse analysis response")
}

type rawAnalysis struct {
	Complexity  string   `json:"complexity"`
	Intent      string   `json:"intent"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
	SafetyFlags []string `json:"safety_flags"`
}

func strictParseAnalysis(text string) (IntentAnalysis, bool) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return IntentAnalysis{}, false
	}
	return IntentAnalysis{
		Complexity:  Complexity(raw.Complexity),
		Intent:      Intent(raw.Intent),
		Confidence:  raw.Confidence,
		Reasoning:   raw.Reasoning,
		SafetyFlags: raw.SafetyFlags,
	}, true
}

var (
	complexityRe = regexp.MustCompile(`(?i)"?complexity"?\s*[:=]\s*"?(low|high)"?`)
	intentRe     = regexp.MustCompile(`(?i)"?intent"?\s*[:=]\s*"?(\w+)"?`)
	confidenceRe = regexp.MustCompile(`(?i)"?confidence"?\s*[:=]\s*"?([0-9.]+)"?`)
)

// regexParseAnalysis is the fallback field extractor for a malformed or
// loosely-formatted analysis response.
func regexParseAnalysis(text string) (IntentAnalysis, bool) {
	cm := complexityRe.FindStringSubmatch(text)
	if cm == nil {
		return IntentAnalysis{}, false
	}

	analysis := IntentAnalysis{Complexity: Complexity(strings.ToLower(cm[1])), Intent: IntentUndefined, Reasoning: "Fallback"}
	if im := intentRe.FindStringSubmatch(text); im != nil {
		analysis.Intent = Intent(im[1])
	}
	if fm := confidenceRe.FindStringSubmatch(text); fm != nil {
		if v, err := strconv.ParseFloat(fm[1], 64); err == nil {
			analysis.Confidence = v
		}
	}
	return analysis, true
}

// localHeuristic synthesizes an IntentAnalysis without any remote call.
// Per spec.md §3's invariant, a heuristic-derived analysis always carries
// confidence <= 0.5 and intent = undefined.
func localHeuristic(sanResult sanitize.Result) IntentAnalysis {
	complexity := ComplexityLow
	text := sanResult.SanitizedText
	if len(text) > 280 || strings.Count(text, " ") > 40 {
		complexity = ComplexityHigh
	}
	for _, kw := range []string{"architecture", "design a", "implement", "refactor", "algorithm"} {
		if strings.Contains(strings.ToLower(text), kw) {
			complexity = ComplexityHigh
			break
		}
	}

	return IntentAnalysis{
		Complexity: complexity,
		Intent:     IntentUndefined,
		Confidence: 0.5,
		Reasoning:  "Fallback",
	}
}

func (r *Router) emitAudit(eventType audit.EventType, source string, details map[string]interface{}) {
	if r.auditLog == nil {
		return
	}
	if _, err := r.auditLog.Log(eventType, source, details); err != nil && r.log != nil {
		r.log.WithError(err).Warn("audit log write failed")
	}
}
