// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// cloud.ProviderClient contract, used both for the "anthropic" provider and
// as the router's "mini" intent-classification call (spec.md §4.H).
package anthropic

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hybridcore/inference-core/internal/config"
	apperrors "github.com/hybridcore/inference-core/internal/errors"
	"github.com/hybridcore/inference-core/pkg/cloud"
	"github.com/hybridcore/inference-core/pkg/sse"
)

// classifyErr turns an SDK error into the AppError taxonomy the retry
// policy reads, by status code when the SDK exposes one (anthropic.Error
// carries the HTTP status of the failed request), falling back to a plain
// connection failure when no HTTP response was ever received.
func classifyErr(err error) *apperrors.AppError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return cloud.ClassifyStatus(apiErr.StatusCode, apiErr.Error())
	}
	return apperrors.Wrap(err, apperrors.ErrorTypeConnectionFailed, "anthropic stream failed")
}

// Client streams chat completions from the Anthropic Messages API.
type Client struct {
	endpoint string
}

func New(endpoint string) *Client {
	return &Client{endpoint: endpoint}
}

func (c *Client) Provider() config.Provider { return config.ProviderAnthropic }

func (c *Client) GenerateStreaming(ctx context.Context, token, model string, messages []cloud.Message, params config.GenerationParams, maxResponseBytes int) <-chan sse.StreamEvent {
	out := make(chan sse.StreamEvent)

	go func() {
		defer close(out)

		opts := []option.RequestOption{option.WithAPIKey(token)}
		if c.endpoint != "" {
			opts = append(opts, option.WithBaseURL(c.endpoint))
		}
		client := anthropic.NewClient(opts...)

		msgParams := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(params.MaxTokens),
			Messages:  toAnthropicMessages(messages),
		}
		if params.Temperature > 0 {
			msgParams.Temperature = anthropic.Float(params.Temperature)
		}
		if params.TopP > 0 {
			msgParams.TopP = anthropic.Float(params.TopP)
		}
		if len(params.StopSequences) > 0 {
			msgParams.StopSequences = params.StopSequences
		}

		stream := client.Messages.NewStreaming(ctx, msgParams)
		defer stream.Close()

		var total int
		for stream.Next() {
			event := stream.Current()
			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				text := delta.Delta.Text
				if text == "" {
					continue
				}
				total += len(text)
				if total > maxResponseBytes {
					out <- sse.FinishEvent("truncated")
					return
				}
				out <- sse.TextEvent(text)
			case anthropic.MessageStopEvent:
				out <- sse.FinishEvent("stop")
				return
			}
		}

		if err := stream.Err(); err != nil {
			out <- sse.ErrorEvent(classifyErr(err))
		}
	}()

	return out
}

func toAnthropicMessages(messages []cloud.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case cloud.RoleUser:
			out = append(out, anthropic.NewUserMessage(block))
		case cloud.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
