package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink persists flushed audit events to a Redis stream, giving the
// audit trail a durable home beyond the process that produced it — the
// teacher uses go-redis for session/idempotency-key storage; here the same
// client serves the audit archive spec.md §5 calls out-of-scope for this
// core to implement fully but still expects a writer to exist.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink builds a Sink that XADDs each event as a stream entry,
// trimming the stream to approximately maxLen entries.
func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = "hybridcore:audit"
	}
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Write(ctx context.Context, events []Event) error {
	pipe := s.client.Pipeline()
	for _, ev := range events {
		payload, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal event details: %w", err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":        ev.ID,
				"type":      string(ev.Type),
				"source":    ev.Source,
				"details":   payload,
				"timestamp": ev.Timestamp.Format(time.RFC3339Nano),
				"signature": ev.Signature,
			},
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}
