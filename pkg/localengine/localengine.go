// Package localengine implements the Local Engine Facade (spec.md §4.G):
// the at-most-one loaded local model and its generation surface, talking to
// a LocalAI-compatible HTTP backend the way the teacher's pkg/slm client
// talks to LocalAI's /v1/chat/completions endpoint.
package localengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hybridcore/inference-core/internal/config"
	apperrors "github.com/hybridcore/inference-core/internal/errors"
	"github.com/hybridcore/inference-core/pkg/probes"
)

// State is the local engine's lifecycle state machine.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateUnloading State = "unloading"
	StateFailed    State = "failed"
)

// ModelInfo describes the currently (or most recently) loaded model.
type ModelInfo struct {
	Class        probes.ModelClass
	Directory    string
	Quantization probes.Quantization
}

const safetyMargin = 2 << 30 // 2 GiB, per spec.md §4.G

// LocalAIRequest/Response mirror the teacher's pkg/slm LocalAI wire shapes.
type LocalAIRequest struct {
	Model       string         `json:"model"`
	Messages    []LocalAIChatMessage `json:"messages"`
	Temperature float64        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	TopP        float64        `json:"top_p,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Stream      bool           `json:"stream"`
}

type LocalAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type LocalAIResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []LocalAIChoice      `json:"choices"`
	Usage   LocalAIUsage         `json:"usage"`
}

type LocalAIChoice struct {
	Index        int                 `json:"index"`
	Message      LocalAIChatMessage  `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type LocalAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// InferenceResult is the outcome of a local generation call.
type InferenceResult struct {
	Text         string
	FinishReason string
	TotalTokens  int
}

// Facade holds the at-most-one loaded local model.
type Facade struct {
	mu       sync.Mutex
	state    State
	model    *ModelInfo
	failure  string

	endpoint   string
	httpClient *http.Client
	probes     *probes.Probes
	log        logrus.FieldLogger
}

func New(endpoint string, httpClient *http.Client, probesFacade *probes.Probes, log logrus.FieldLogger) *Facade {
	return &Facade{
		state:      StateUnloaded,
		endpoint:   endpoint,
		httpClient: httpClient,
		probes:     probesFacade,
		log:        log,
	}
}

// State reports the facade's current lifecycle state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LoadedModel reports the currently loaded model, if any.
func (f *Facade) LoadedModel() (ModelInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return ModelInfo{}, false
	}
	return *f.model, true
}

// Load transitions unloaded -> loading -> loaded. If a model is already
// loaded, it is first unloaded (the singleton invariant). Rejects with
// insufficient_memory when the estimated footprint (plus a 2 GiB safety
// margin) exceeds the probe's available VRAM.
func (f *Facade) Load(ctx context.Context, class probes.ModelClass, directory string, quantization probes.Quantization) error {
	f.mu.Lock()
	if f.state == StateLoaded {
		f.mu.Unlock()
		if err := f.Unload(); err != nil {
			return err
		}
		f.mu.Lock()
	}
	f.state = StateLoading
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		f.setFailed("")
		f.mu.Lock()
		f.state = StateUnloaded
		f.mu.Unlock()
		return apperrors.New(apperrors.ErrorTypeModelLoadFailed, "validation_cancelled")
	default:
	}

	estimated := probes.EstimateModelMemory(class.ParameterBillions, probes.BitsPerWeight(quantization))
	vram := f.probes.CurrentVRAMStatus()
	if vram.AvailableVRAM < estimated+safetyMargin {
		f.setFailed("insufficient_memory")
		return apperrors.New(apperrors.ErrorTypeInsufficientVRAM, "insufficient_memory").
			WithDetailsf("need=%.0f have=%.0f", estimated+safetyMargin, vram.AvailableVRAM)
	}

	if _, err := os.Stat(directory); err != nil {
		f.setFailed("invalid_format")
		return apperrors.Wrap(err, apperrors.ErrorTypeInvalidModelFormat, "invalid_format").WithDetails(directory)
	}

	f.mu.Lock()
	f.state = StateLoaded
	f.model = &ModelInfo{Class: class, Directory: directory, Quantization: quantization}
	f.failure = ""
	f.mu.Unlock()

	if f.log != nil {
		f.log.WithField("model", class.Name).Info("local model loaded")
	}
	return nil
}

func (f *Facade) setFailed(reason string) {
	f.mu.Lock()
	f.state = StateFailed
	f.failure = reason
	f.mu.Unlock()
}

// Unload is idempotent: unloading an already-unloaded engine is a no-op.
func (f *Facade) Unload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateUnloaded {
		return nil
	}
	f.state = StateUnloading
	f.model = nil
	f.state = StateUnloaded
	return nil
}

// Generate produces text from the currently loaded model. Fails with
// model_not_loaded when state != loaded.
func (f *Facade) Generate(ctx context.Context, prompt string, params config.GenerationParams) (*InferenceResult, error) {
	f.mu.Lock()
	if f.state != StateLoaded {
		f.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrorTypeModelNotLoaded, "model_not_loaded")
	}
	model := f.model
	f.mu.Unlock()

	reqBody := LocalAIRequest{
		Model: model.Class.Name,
		Messages: []LocalAIChatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
		Stop:        params.StopSequences,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeGenerationFailed, "failed to marshal local request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeGenerationFailed, "failed to build local request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeGenerationFailed, "local engine request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.ErrorTypeGenerationFailed, "local engine returned status %d", resp.StatusCode)
	}

	var localResp LocalAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&localResp); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeGenerationFailed, "failed to decode local response")
	}
	if len(localResp.Choices) == 0 {
		return nil, apperrors.New(apperrors.ErrorTypeGenerationFailed, "local engine returned no choices")
	}

	return &InferenceResult{
		Text:         localResp.Choices[0].Message.Content,
		FinishReason: localResp.Choices[0].FinishReason,
		TotalTokens:  localResp.Usage.TotalTokens,
	}, nil
}

// ListAvailableModels enumerates model directories without loading them.
// A missing directory yields an empty list, not an error.
func (f *Facade) ListAvailableModels(directory string) ([]string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list models in %s: %w", directory, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
