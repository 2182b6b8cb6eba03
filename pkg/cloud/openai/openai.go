// Package openai adapts github.com/tmc/langchaingo's OpenAI backend to the
// cloud.ProviderClient contract (spec.md §4.F).
package openai

import (
	"context"
	"regexp"
	"strconv"

	"github.com/tmc/langchaingo/llms"
	langchainopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/hybridcore/inference-core/internal/config"
	apperrors "github.com/hybridcore/inference-core/internal/errors"
	"github.com/hybridcore/inference-core/pkg/cloud"
	"github.com/hybridcore/inference-core/pkg/sse"
)

// statusInErr matches the "status code: 429" form langchaingo's internal
// openaiclient wraps HTTP failures in; it does not export a typed API error,
// so this is the only way to recover the status without fabricating a
// symbol that may not exist in that package.
var statusInErr = regexp.MustCompile(`status code:?\s*(\d{3})`)

// classifyErr turns a langchaingo openai error into the AppError taxonomy by
// scraping the HTTP status langchaingo embeds in its error text, falling
// back to a plain connection failure when no status can be recovered (a
// dial failure, or a client-construction error that never reached the
// network).
func classifyErr(err error) *apperrors.AppError {
	if m := statusInErr.FindStringSubmatch(err.Error()); m != nil {
		if status, convErr := strconv.Atoi(m[1]); convErr == nil {
			return cloud.ClassifyStatus(status, err.Error())
		}
	}
	return apperrors.Wrap(err, apperrors.ErrorTypeConnectionFailed, "openai request failed")
}

type Client struct {
	endpoint string
}

func New(endpoint string) *Client {
	return &Client{endpoint: endpoint}
}

func (c *Client) Provider() config.Provider { return config.ProviderOpenAI }

func (c *Client) GenerateStreaming(ctx context.Context, token, model string, messages []cloud.Message, params config.GenerationParams, maxResponseBytes int) <-chan sse.StreamEvent {
	out := make(chan sse.StreamEvent)

	go func() {
		defer close(out)

		opts := []langchainopenai.Option{
			langchainopenai.WithToken(token),
			langchainopenai.WithModel(model),
		}
		if c.endpoint != "" {
			opts = append(opts, langchainopenai.WithBaseURL(c.endpoint))
		}

		llm, err := langchainopenai.New(opts...)
		if err != nil {
			out <- sse.ErrorEvent(classifyErr(err))
			return
		}

		var total int
		streamFunc := llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			total += len(chunk)
			if total > maxResponseBytes {
				return apperrors.New(apperrors.ErrorTypeStreamCancelled, "response exceeded max_response_bytes")
			}
			out <- sse.TextEvent(string(chunk))
			return nil
		})

		callOpts := []llms.CallOption{streamFunc, llms.WithMaxTokens(params.MaxTokens)}
		if params.Temperature > 0 {
			callOpts = append(callOpts, llms.WithTemperature(params.Temperature))
		}
		if params.TopP > 0 {
			callOpts = append(callOpts, llms.WithTopP(params.TopP))
		}
		if len(params.StopSequences) > 0 {
			callOpts = append(callOpts, llms.WithStopWords(params.StopSequences))
		}

		resp, err := llm.GenerateContent(ctx, toLangchainMessages(messages), callOpts...)
		if err != nil {
			if total > maxResponseBytes {
				out <- sse.FinishEvent("truncated")
				return
			}
			out <- sse.ErrorEvent(classifyErr(err))
			return
		}

		reason := "stop"
		if len(resp.Choices) > 0 && resp.Choices[0].StopReason != "" {
			reason = resp.Choices[0].StopReason
		}
		out <- sse.FinishEvent(reason)
	}()

	return out
}

func toLangchainMessages(messages []cloud.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case cloud.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case cloud.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}
