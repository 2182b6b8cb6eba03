// Package google adapts github.com/google/generative-ai-go (genai) to the
// cloud.ProviderClient contract for the "google" provider (spec.md §4.F).
package google

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hybridcore/inference-core/internal/config"
	apperrors "github.com/hybridcore/inference-core/internal/errors"
	"github.com/hybridcore/inference-core/pkg/cloud"
	"github.com/hybridcore/inference-core/pkg/sse"
)

// classifyErr turns a genai/REST transport error into the AppError taxonomy
// by status code: requests to the Generative Language API surface failures
// as *googleapi.Error, which carries the HTTP status the transport saw.
func classifyErr(err error) *apperrors.AppError {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return cloud.ClassifyStatus(gerr.Code, gerr.Message)
	}
	return apperrors.Wrap(err, apperrors.ErrorTypeConnectionFailed, "google genai stream failed")
}

type Client struct{}

func New() *Client { return &Client{} }

func (c *Client) Provider() config.Provider { return config.ProviderGoogle }

func (c *Client) GenerateStreaming(ctx context.Context, token, model string, messages []cloud.Message, params config.GenerationParams, maxResponseBytes int) <-chan sse.StreamEvent {
	out := make(chan sse.StreamEvent)

	go func() {
		defer close(out)

		client, err := genai.NewClient(ctx, option.WithAPIKey(token))
		if err != nil {
			out <- sse.ErrorEvent(classifyErr(err))
			return
		}
		defer client.Close()

		gm := client.GenerativeModel(model)
		gm.SetMaxOutputTokens(int32(params.MaxTokens))
		if params.Temperature > 0 {
			gm.SetTemperature(float32(params.Temperature))
		}
		if params.TopP > 0 {
			gm.SetTopP(float32(params.TopP))
		}
		if len(params.StopSequences) > 0 {
			gm.StopSequences = params.StopSequences
		}

		history, prompt := toGenaiHistory(messages)
		cs := gm.StartChat()
		cs.History = history

		iter := cs.SendMessageStream(ctx, genai.Text(prompt))

		var total int
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				out <- sse.FinishEvent("stop")
				return
			}
			if err != nil {
				out <- sse.ErrorEvent(classifyErr(err))
				return
			}

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					text, ok := part.(genai.Text)
					if !ok {
						continue
					}
					total += len(text)
					if total > maxResponseBytes {
						out <- sse.FinishEvent("truncated")
						return
					}
					out <- sse.TextEvent(string(text))
				}
			}
		}
	}()

	return out
}

func toGenaiHistory(messages []cloud.Message) ([]*genai.Content, string) {
	if len(messages) == 0 {
		return nil, ""
	}

	history := make([]*genai.Content, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		role := "user"
		if m.Role == cloud.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	return history, messages[len(messages)-1].Content
}
