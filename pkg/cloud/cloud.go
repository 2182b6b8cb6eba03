// Package cloud implements the Cloud Provider Client (spec.md §4.F):
// per-provider request shaping, streaming, retry, and circuit-breaking
// behind one aggregating Client. Concrete providers live in the anthropic,
// openai, google, and privatecloud subpackages.
package cloud

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/hybridcore/inference-core/internal/config"
	apperrors "github.com/hybridcore/inference-core/internal/errors"
	"github.com/hybridcore/inference-core/pkg/breaker"
	"github.com/hybridcore/inference-core/pkg/retry"
	"github.com/hybridcore/inference-core/pkg/secrets"
	"github.com/hybridcore/inference-core/pkg/sse"
)

// Role is a chat message's author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role    Role
	Content string
}

// Result is the accumulated, non-streaming outcome of a generation.
type Result struct {
	Text         string
	FinishReason string
	Provider     config.Provider
	Model        string
}

// maxResponseBytes is the default size cap named in spec.md §4.F.
const maxResponseBytes = 1 << 20

// ProviderClient is implemented by each concrete provider adapter
// (anthropic, openai, google, privatecloud).
type ProviderClient interface {
	Provider() config.Provider
	// GenerateStreaming streams the response. Implementations must stop
	// reading and cancel the underlying transport once maxResponseBytes of
	// text has been accumulated, emitting a truncated Finish instead of
	// treating the response as successful.
	GenerateStreaming(ctx context.Context, token, model string, messages []Message, params config.GenerationParams, maxResponseBytes int) <-chan sse.StreamEvent
}

// Client aggregates the configured providers behind retry and per-host
// circuit breaking.
type Client struct {
	providers       map[config.Provider]ProviderClient
	order           []config.Provider
	secrets         secrets.Store
	breakers        map[config.Provider]*breaker.Breaker
	retryPolicy     *retry.Policy
	cfg             *config.Config
	log             logrus.FieldLogger
	maxResponseSize int
}

type Option func(*Client)

func WithMaxResponseSize(n int) Option {
	return func(c *Client) { c.maxResponseSize = n }
}

// New builds a Client from the configured provider order (anthropic,
// openai, google, private_cloud), wiring one circuit breaker per host.
func New(cfg *config.Config, store secrets.Store, providers map[config.Provider]ProviderClient, order []config.Provider, retryPolicy *retry.Policy, log logrus.FieldLogger) *Client {
	breakers := make(map[config.Provider]*breaker.Breaker, len(order))
	for _, p := range order {
		breakers[p] = breaker.New(string(p), breaker.Config{
			FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
			Cooldown:         cfg.Breaker.Cooldown,
		})
	}

	return &Client{
		providers:       providers,
		order:           order,
		secrets:         store,
		breakers:        breakers,
		retryPolicy:     retryPolicy,
		cfg:             cfg,
		log:             log,
		maxResponseSize: maxResponseBytes,
	}
}

// HasAnyProvider reports whether credentials exist for at least one
// configured provider.
func (c *Client) HasAnyProvider() bool {
	for _, p := range c.order {
		if _, ok := c.secrets.CredentialFor(p); ok {
			return true
		}
	}
	return false
}

// PreferredProvider returns the first provider (in configured order) with
// installed credentials.
func (c *Client) PreferredProvider() (config.Provider, bool) {
	for _, p := range c.order {
		if _, ok := c.secrets.CredentialFor(p); ok {
			return p, true
		}
	}
	return "", false
}

// GenerateStreaming translates (messages, configuration) into a
// provider-specific request and streams the response, applying the
// circuit breaker around the stream's outcome.
func (c *Client) GenerateStreaming(ctx context.Context, provider config.Provider, tier config.CloudTier, messages []Message, params config.GenerationParams) (<-chan sse.StreamEvent, error) {
	token, ok := c.secrets.CredentialFor(provider)
	if !ok {
		return nil, apperrors.New(apperrors.ErrorTypeNoTokenAvailable, "no credential installed for provider").WithDetails(string(provider))
	}

	pc, ok := c.providers[provider]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrorTypeInvalidRequest, "unknown provider %q", provider)
	}

	model, ok := c.cfg.ModelOf(provider, tier)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrorTypeInvalidRequest, "no model configured for %s/%s", provider, tier)
	}

	cb := c.breakers[provider]
	var cbToken *breaker.Token
	if cb != nil {
		var ok bool
		cbToken, ok = cb.CanExecute()
		if !ok {
			return nil, apperrors.New(apperrors.ErrorTypeServiceUnavail, "circuit breaker open").WithDetails(string(provider))
		}
	}

	upstream := pc.GenerateStreaming(ctx, token, model, messages, params, c.maxResponseSize)

	out := make(chan sse.StreamEvent)
	go func() {
		defer close(out)
		sawError := false
		for ev := range upstream {
			if ev.Kind == sse.KindError {
				sawError = true
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				cbToken.RecordFailure()
				return
			}
		}
		if sawError {
			cbToken.RecordFailure()
		} else {
			cbToken.RecordSuccess()
		}
	}()
	return out, nil
}

// Generate accumulates GenerateStreaming into a single Result.
func (c *Client) Generate(ctx context.Context, provider config.Provider, tier config.CloudTier, messages []Message, params config.GenerationParams) (*Result, error) {
	events, err := c.GenerateStreaming(ctx, provider, tier, messages, params)
	if err != nil {
		return nil, err
	}

	model, _ := c.cfg.ModelOf(provider, tier)
	result := &Result{Provider: provider, Model: model}
	var builder []byte

	for ev := range events {
		switch ev.Kind {
		case sse.KindText:
			builder = append(builder, ev.Delta...)
		case sse.KindFinish:
			if ev.Reason == "truncated" {
				return nil, apperrors.New(apperrors.ErrorTypeStreamCancelled, "response exceeded max_response_bytes")
			}
			result.FinishReason = ev.Reason
		case sse.KindError:
			// Preserve the provider adapter's own classification (e.g.
			// rate_limited, service_unavailable) instead of collapsing every
			// stream error to stream_cancelled, or the retry policy never
			// sees a retryable status.
			if appErr, ok := ev.Err.(*apperrors.AppError); ok {
				return nil, appErr
			}
			return nil, apperrors.Wrap(ev.Err, apperrors.ErrorTypeStreamCancelled, "stream ended with an error")
		}
	}

	result.Text = string(builder)
	return result, nil
}

// GenerateWithRetry wraps Generate with the retry policy, retrying on
// retryable AppErrors.
func (c *Client) GenerateWithRetry(ctx context.Context, provider config.Provider, tier config.CloudTier, messages []Message, params config.GenerationParams) (*Result, error) {
	var result *Result
	err := c.retryPolicy.Do(ctx, isRetryableAppError, func() error {
		r, err := c.Generate(ctx, provider, tier, messages, params)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isRetryableAppError(err error) bool {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		return retry.IsRetryableErr(err)
	}
	switch appErr.Type {
	case apperrors.ErrorTypeRateLimited, apperrors.ErrorTypeServiceUnavail, apperrors.ErrorTypeNetwork:
		return true
	default:
		return false
	}
}
