// Package audit implements the audit log collaborator consumed by the
// sanitizer and shadow router (spec.md §6). Tamper evidence (hashing,
// rotation, chained signatures) is out of scope for this core — audit only
// calls a Signer to attach a detached signature per event.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hybridcore/inference-core/pkg/signer"
)

// EventType is the closed set of audit event types this core emits.
type EventType string

const (
	EventPIIRedaction          EventType = "pii_redaction"
	EventSanitizationTriggered EventType = "sanitization_triggered"
	EventShadowRouterDecision  EventType = "shadow_router_decision"
)

// Event is one audit log entry.
type Event struct {
	ID        string
	Type      EventType
	Source    string
	Details   map[string]interface{}
	Timestamp time.Time
	Signature []byte
}

// Log is the consumed interface: log(type, source, details) -> ok | error.
type Log interface {
	Log(eventType EventType, source string, details map[string]interface{}) (bool, error)
}

// Sink receives events the BufferedLog has flushed. Implementations are the
// out-of-scope persistent conversation/audit archive; this core is a writer
// only, per spec.md §5.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// BufferedLog batches events in memory and flushes them on an interval or
// when the batch fills, so that audit writes never block the caller —
// grounded on the teacher's buffered audit store design (pkg/audit).
type BufferedLog struct {
	mu            sync.Mutex
	buf           []Event
	batchSize     int
	flushInterval time.Duration
	sink          Sink
	signer        signer.Signer
	logger        logrus.FieldLogger

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewBufferedLog(sink Sink, sig signer.Signer, logger logrus.FieldLogger, batchSize int, flushInterval time.Duration) *BufferedLog {
	if sig == nil {
		sig = signer.NoopSigner{}
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	bl := &BufferedLog{
		batchSize:     batchSize,
		flushInterval: flushInterval,
		sink:          sink,
		signer:        sig,
		logger:        logger,
		flushCh:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go bl.run()
	return bl
}

// Log appends an event and signals a flush; it never blocks on the sink.
func (b *BufferedLog) Log(eventType EventType, source string, details map[string]interface{}) (bool, error) {
	data, err := serialize(eventType, source, details)
	if err != nil {
		return false, err
	}
	sig, err := b.signer.Sign(data)
	if err != nil {
		return false, err
	}

	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Details:   details,
		Timestamp: time.Now(),
		Signature: sig,
	}

	b.mu.Lock()
	b.buf = append(b.buf, ev)
	full := len(b.buf) >= b.batchSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}

	return true, nil
}

func (b *BufferedLog) run() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.flushCh:
			b.flush()
		case <-b.stopCh:
			b.flush()
			return
		}
	}
}

func (b *BufferedLog) flush() {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buf
	b.buf = nil
	b.mu.Unlock()

	if b.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.sink.Write(ctx, batch); err != nil && b.logger != nil {
		b.logger.WithError(err).Warn("audit flush failed; events dropped")
	}
}

// Stop flushes any buffered events and stops the background flusher.
func (b *BufferedLog) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

func serialize(eventType EventType, source string, details map[string]interface{}) ([]byte, error) {
	buf := []byte(string(eventType) + "|" + source + "|")
	for k, v := range details {
		buf = append(buf, []byte(k)...)
		buf = append(buf, '=')
		buf = append(buf, []byte(fmt.Sprint(v))...)
		buf = append(buf, ';')
	}
	return buf, nil
}
