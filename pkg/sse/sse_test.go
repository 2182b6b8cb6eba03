package sse_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hybridcore/inference-core/pkg/sse"
)

type textDelta struct {
	Delta string `json:"delta"`
}

func decodeTextDelta(payload []byte) (sse.StreamEvent, bool) {
	var td textDelta
	if err := json.Unmarshal(payload, &td); err != nil || td.Delta == "" {
		return sse.StreamEvent{}, false
	}
	return sse.TextEvent(td.Delta), true
}

func TestParseLine_NonDataLineYieldsNoEvent(t *testing.T) {
	_, ok := sse.ParseLine("event: ping", decodeTextDelta)
	if ok {
		t.Fatal("expected no event for a non-data line")
	}
}

func TestParseLine_DoneYieldsFinish(t *testing.T) {
	ev, ok := sse.ParseLine("data: [DONE]", decodeTextDelta)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Kind != sse.KindFinish || ev.Reason != "stop" {
		t.Fatalf("expected Finish(stop), got %+v", ev)
	}
}

func TestParseLine_TextDelta(t *testing.T) {
	ev, ok := sse.ParseLine(`data: {"delta":"hello"}`, decodeTextDelta)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Kind != sse.KindText || ev.Delta != "hello" {
		t.Fatalf("expected Text(hello), got %+v", ev)
	}
}

func TestParseLine_MalformedJSONIsSkipped(t *testing.T) {
	_, ok := sse.ParseLine(`data: {not json`, decodeTextDelta)
	if ok {
		t.Fatal("expected malformed payload to be skipped, not errored")
	}
}

func TestParseLine_DecoderRejectionIsSkipped(t *testing.T) {
	_, ok := sse.ParseLine(`data: {"role":"assistant"}`, decodeTextDelta)
	if ok {
		t.Fatal("expected a payload with no delta to be skipped")
	}
}

func TestParseLine_EmptyDataIsSkipped(t *testing.T) {
	_, ok := sse.ParseLine("data:", decodeTextDelta)
	if ok {
		t.Fatal("expected empty data payload to be skipped")
	}
}

func TestParse_StreamsUntilFinish(t *testing.T) {
	body := "data: {\"delta\":\"he\"}\n" +
		"data: {\"role\":\"assistant\"}\n" +
		"data: {\"delta\":\"llo\"}\n" +
		"data: [DONE]\n"

	var got []sse.StreamEvent
	for ev := range sse.Parse(strings.NewReader(body), decodeTextDelta) {
		got = append(got, ev)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 events (2 text + 1 finish), got %d: %+v", len(got), got)
	}
	if got[0].Delta != "he" || got[1].Delta != "llo" {
		t.Fatalf("unexpected deltas: %+v", got)
	}
	if got[2].Kind != sse.KindFinish {
		t.Fatalf("expected final event to be Finish, got %+v", got[2])
	}
}

func TestParse_EachLineIsIndependent(t *testing.T) {
	// A line-level parser must not carry state between lines: a malformed
	// line followed by a valid one should not corrupt the valid one.
	body := "data: {broken\n" + "data: {\"delta\":\"ok\"}\n" + "data: [DONE]\n"

	var got []sse.StreamEvent
	for ev := range sse.Parse(strings.NewReader(body), decodeTextDelta) {
		got = append(got, ev)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(got), got)
	}
	if got[0].Delta != "ok" {
		t.Fatalf("expected the valid delta to survive the broken line, got %+v", got[0])
	}
}
