package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"aerodesk/internal/session"
)

type sliceSnapshots struct {
	snapshots []Snapshot
	index     int
	err       error
}

func (s *sliceSnapshots) Recv() (Snapshot, error) {
	if s.index < len(s.snapshots) {
		snapshot := s.snapshots[s.index]
		s.index++
		return snapshot, nil
	}
	if s.err != nil {
		return Snapshot{}, s.err
	}
	return Snapshot{}, io.EOF
}

func collectEvents(t *testing.T, state *session.State, stream SnapshotStream, fallback func(context.Context) (string, error)) ([]StreamEvent, Result, error) {
	t.Helper()
	var events []StreamEvent
	aggregator := NewAggregator(state, func(event StreamEvent) error {
		events = append(events, event)
		return nil
	}, fallback, nil)
	result, err := aggregator.Run(context.Background(), stream)
	return events, result, err
}

func TestAggregatorDeltaGrowth(t *testing.T) {
	stream := &sliceSnapshots{snapshots: []Snapshot{
		{Messages: []TaggedMessage{{ID: "a1", Role: "assistant", Text: "Hello"}}},
		{Messages: []TaggedMessage{{ID: "a1", Role: "assistant", Text: "Hello world"}}},
	}}
	state := session.NewStore().Get("s1")

	events, result, err := collectEvents(t, state, stream, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 2 deltas + done, got %d events", len(events))
	}
	if events[0].Delta != "Hello" || events[1].Delta != " world" {
		t.Fatalf("unexpected deltas: %q %q", events[0].Delta, events[1].Delta)
	}
	if !events[2].Done || events[2].Delta != "" {
		t.Fatalf("last event must be an empty done event: %+v", events[2])
	}

	// Concatenating all deltas equals the final accumulated text.
	var joined strings.Builder
	for _, event := range events {
		joined.WriteString(event.Delta)
	}
	if joined.String() != "Hello world" || result.Content != "Hello world" {
		t.Fatalf("delta concatenation law violated: %q vs %q", joined.String(), result.Content)
	}
}

func TestAggregatorAttributionExactlyOnce(t *testing.T) {
	snapshot := Snapshot{Messages: []TaggedMessage{
		{ID: "a1", Role: "assistant", Text: "routing", ToolCalls: []ToolInvocation{
			{ID: "t1", Name: "billing_tool"},
			{ID: "t2", Name: "policy_tool"},
		}},
	}}
	// The identical snapshot replayed must not duplicate entries.
	stream := &sliceSnapshots{snapshots: []Snapshot{snapshot, snapshot, snapshot}}
	state := session.NewStore().Get("s1")

	_, result, err := collectEvents(t, state, stream, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantAgents := []string{"Billing Tool Agent", "Policy Tool Agent"}
	if len(result.Agents) != 2 || result.Agents[0] != wantAgents[0] || result.Agents[1] != wantAgents[1] {
		t.Fatalf("unexpected agents: %v", result.Agents)
	}
	wantModels := []string{SupervisorModelName, "OpenAI gpt-4o-mini"}
	if len(result.Models) != 2 || result.Models[0] != wantModels[0] || result.Models[1] != wantModels[1] {
		t.Fatalf("unexpected models: %v", result.Models)
	}
}

func TestAggregatorUsageFoldsOncePerMessage(t *testing.T) {
	usage := &UsageMetadata{InputTokens: 100, OutputTokens: 40}
	snapshot := Snapshot{Messages: []TaggedMessage{
		{ID: "a1", Role: "assistant", Text: "done", Usage: usage},
	}}
	stream := &sliceSnapshots{snapshots: []Snapshot{snapshot, snapshot}}
	state := session.NewStore().Get("s1")

	_, result, err := collectEvents(t, state, stream, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Usage.InputTokens != 100 || result.Usage.OutputTokens != 40 {
		t.Fatalf("usage folded more than once: %+v", result.Usage)
	}
}

func TestAggregatorUsageMonotonicAcrossRequests(t *testing.T) {
	state := session.NewStore().Get("s1")

	first := &sliceSnapshots{snapshots: []Snapshot{
		{Messages: []TaggedMessage{{ID: "a1", Role: "assistant", Text: "x", Usage: &UsageMetadata{InputTokens: 10, OutputTokens: 5}}}},
	}}
	_, _, _ = collectEvents(t, state, first, nil)

	second := &sliceSnapshots{snapshots: []Snapshot{
		{Messages: []TaggedMessage{{ID: "a2", Role: "assistant", Text: "y", Usage: &UsageMetadata{InputTokens: 7, OutputTokens: 3}}}},
	}}
	_, result, _ := collectEvents(t, state, second, nil)

	if result.Usage.InputTokens != 17 || result.Usage.OutputTokens != 8 {
		t.Fatalf("session totals must accumulate across requests: %+v", result.Usage)
	}
}

func TestAggregatorFallbackWhenNothingStreamed(t *testing.T) {
	stream := &sliceSnapshots{}
	state := session.NewStore().Get("s1")
	fallbackCalls := 0
	fallback := func(context.Context) (string, error) {
		fallbackCalls++
		return "fallback answer", nil
	}

	events, result, err := collectEvents(t, state, stream, fallback)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fallbackCalls != 1 {
		t.Fatalf("fallback invoked %d times", fallbackCalls)
	}
	if len(events) != 2 || events[0].Delta != "fallback answer" || !events[1].Done {
		t.Fatalf("expected single fallback delta + done, got %+v", events)
	}
	if result.Content != "fallback answer" {
		t.Fatalf("unexpected content %q", result.Content)
	}
}

func TestAggregatorFallbackSkippedAfterStreaming(t *testing.T) {
	stream := &sliceSnapshots{snapshots: []Snapshot{
		{Messages: []TaggedMessage{{ID: "a1", Role: "assistant", Text: "streamed"}}},
	}}
	state := session.NewStore().Get("s1")
	fallback := func(context.Context) (string, error) {
		t.Fatalf("fallback must not run when content streamed")
		return "", nil
	}
	_, result, err := collectEvents(t, state, stream, fallback)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "streamed" {
		t.Fatalf("unexpected content %q", result.Content)
	}
}

func TestAggregatorErrorEmitsSingleErrorDeltaThenDone(t *testing.T) {
	stream := &sliceSnapshots{
		snapshots: []Snapshot{
			{Messages: []TaggedMessage{{ID: "a1", Role: "assistant", Text: "partial"}}},
		},
		err: errors.New("provider connection reset"),
	}
	state := session.NewStore().Get("s1")

	events, result, err := collectEvents(t, state, stream, nil)
	if err == nil {
		t.Fatalf("expected stream error to surface")
	}
	if len(events) != 3 {
		t.Fatalf("expected partial delta + error delta + done, got %d events", len(events))
	}
	if !events[1].Error || events[1].Delta != streamErrorText {
		t.Fatalf("expected error delta, got %+v", events[1])
	}
	if !events[2].Done {
		t.Fatalf("error must be followed by done: %+v", events[2])
	}
	if result.Content != streamErrorText {
		t.Fatalf("unexpected result content %q", result.Content)
	}
}

func TestAggregatorDoneAlwaysCarriesListsAndTotals(t *testing.T) {
	stream := &sliceSnapshots{snapshots: []Snapshot{
		{Messages: []TaggedMessage{
			{ID: "a1", Role: "assistant", ToolCalls: []ToolInvocation{{ID: "t1", Name: "technical_tool"}}, Usage: &UsageMetadata{InputTokens: 3, OutputTokens: 1}},
		}},
	}}
	state := session.NewStore().Get("s1")

	events, _, err := collectEvents(t, state, stream, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// No textual delta was ever produced, but the done event still carries
	// the final lists and totals.
	done := events[len(events)-1]
	if !done.Done {
		t.Fatalf("last event must be done: %+v", done)
	}
	if len(done.Agents) != 1 || done.Agents[0] != "Technical Tool Agent" {
		t.Fatalf("done event missing agents: %+v", done)
	}
	if done.Usage.InputTokens != 3 || done.Usage.OutputTokens != 1 {
		t.Fatalf("done event missing totals: %+v", done)
	}
}

func TestAggregatorNewAssistantMessageRestartsAccumulation(t *testing.T) {
	stream := &sliceSnapshots{snapshots: []Snapshot{
		{Messages: []TaggedMessage{{ID: "a1", Role: "assistant", Text: "first"}}},
		{Messages: []TaggedMessage{
			{ID: "a1", Role: "assistant", Text: "first"},
			{ID: "a2", Role: "assistant", Text: "second"},
		}},
	}}
	state := session.NewStore().Get("s1")

	events, _, err := collectEvents(t, state, stream, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events) != 3 || events[0].Delta != "first" || events[1].Delta != "second" {
		t.Fatalf("unexpected deltas: %+v", events)
	}
}
