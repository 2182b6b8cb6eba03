// Package privatecloud models the Private-Cloud provider (spec.md §4.F) as
// a Bedrock-compatible gateway, invoked via
// github.com/aws/aws-sdk-go-v2/service/bedrockruntime's
// InvokeModelWithResponseStream. This is also the provider safe_mode always
// routes to (spec.md §4.H gate 1).
package privatecloud

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/hybridcore/inference-core/internal/config"
	apperrors "github.com/hybridcore/inference-core/internal/errors"
	"github.com/hybridcore/inference-core/pkg/cloud"
	"github.com/hybridcore/inference-core/pkg/sse"
)

// classifyErr turns a Bedrock invoke/stream error into the AppError taxonomy.
// The Bedrock runtime surfaces throttling and overload as named exception
// types rather than a bare status code, so those are mapped directly; for
// anything else, fall back to whatever HTTP status smithy-go's transport
// recorded on the response.
func classifyErr(err error) *apperrors.AppError {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return cloud.ClassifyStatus(429, throttled.ErrorMessage())
	}

	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return cloud.ClassifyStatus(503, unavailable.ErrorMessage())
	}

	var modelTimeout *types.ModelTimeoutException
	if errors.As(err, &modelTimeout) {
		return cloud.ClassifyStatus(504, modelTimeout.ErrorMessage())
	}

	var notReady *types.ModelNotReadyException
	if errors.As(err, &notReady) {
		return cloud.ClassifyStatus(503, notReady.ErrorMessage())
	}

	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return cloud.ClassifyStatus(500, internal.ErrorMessage())
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return cloud.ClassifyStatus(respErr.HTTPStatusCode(), respErr.Error())
	}

	return apperrors.Wrap(err, apperrors.ErrorTypeConnectionFailed, "bedrock request failed")
}

type Client struct {
	region   string
	endpoint string
}

func New(region, endpoint string) *Client {
	return &Client{region: region, endpoint: endpoint}
}

func (c *Client) Provider() config.Provider { return config.ProviderPrivateCloud }

type requestBody struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
}

type responseChunk struct {
	Completion string `json:"completion"`
	StopReason string `json:"stop_reason,omitempty"`
}

func (c *Client) GenerateStreaming(ctx context.Context, token, model string, messages []cloud.Message, params config.GenerationParams, maxResponseBytes int) <-chan sse.StreamEvent {
	out := make(chan sse.StreamEvent)

	go func() {
		defer close(out)

		cfg := aws.Config{
			Region:      c.region,
			Credentials: credentials.NewStaticCredentialsProvider(token, "", ""),
		}
		client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
			if c.endpoint != "" {
				o.BaseEndpoint = aws.String(c.endpoint)
			}
		})

		body, err := json.Marshal(requestBody{
			Prompt:      flatten(messages),
			MaxTokens:   params.MaxTokens,
			Temperature: params.Temperature,
			TopP:        params.TopP,
			StopSeqs:    params.StopSequences,
		})
		if err != nil {
			out <- sse.ErrorEvent(apperrors.Wrap(err, apperrors.ErrorTypeInvalidRequest, "failed to marshal bedrock request body"))
			return
		}

		output, err := client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(model),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			out <- sse.ErrorEvent(classifyErr(err))
			return
		}

		stream := output.GetStream()
		defer stream.Close()

		var total int
		for event := range stream.Events() {
			chunkEvent, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			var chunk responseChunk
			if err := json.Unmarshal(chunkEvent.Value.Bytes, &chunk); err != nil {
				continue
			}

			if chunk.Completion != "" {
				total += len(chunk.Completion)
				if total > maxResponseBytes {
					out <- sse.FinishEvent("truncated")
					return
				}
				out <- sse.TextEvent(chunk.Completion)
			}
			if chunk.StopReason != "" {
				out <- sse.FinishEvent(chunk.StopReason)
				return
			}
		}

		if err := stream.Err(); err != nil {
			out <- sse.ErrorEvent(classifyErr(err))
			return
		}

		out <- sse.FinishEvent("stop")
	}()

	return out
}

func flatten(messages []cloud.Message) string {
	var prompt string
	for _, m := range messages {
		prompt += string(m.Role) + ": " + m.Content + "\n"
	}
	return prompt
}
