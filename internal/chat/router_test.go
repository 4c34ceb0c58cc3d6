package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"aerodesk/internal/knowledge"
	"aerodesk/internal/session"
	"aerodesk/pkg/llm"
)

func drain(t *testing.T, stream SnapshotStream) []Snapshot {
	t.Helper()
	var snapshots []Snapshot
	for {
		snapshot, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return snapshots
			}
			t.Fatalf("Recv: %v", err)
		}
		snapshots = append(snapshots, snapshot)
	}
}

func TestRouterEmergencyShortCircuits(t *testing.T) {
	provider := &fakeChatProvider{}
	router := &Router{Provider: provider}

	snapshots := drain(t, router.Route(context.Background(), nil, "mayday: engine failure over the Atlantic"))
	if len(snapshots) != 1 {
		t.Fatalf("expected a single escalation snapshot, got %d", len(snapshots))
	}
	latest := snapshots[0].LatestAssistant()
	if latest == nil || latest.Text != EscalationNotice("") {
		t.Fatalf("expected the escalation notice, got %+v", latest)
	}
	if provider.callCount() != 0 {
		t.Fatalf("emergency queries must not reach the supervisor model")
	}
}

func TestRouterToolRoundEndToEnd(t *testing.T) {
	supervisor := &fakeChatProvider{responses: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{
			ID:        "call-1",
			Name:      "billing_tool",
			Arguments: `{"request":"invoice status for ACME"}`,
		}}}},
		{
			{Content: "ACME"},
			{Content: " is paid."},
			{Usage: &llm.Usage{InputTokens: 42, OutputTokens: 7}},
		},
	}}
	specialistProvider := &fakeChatProvider{responses: [][]llm.Chunk{
		{{Content: "Invoice 123 is paid."}},
	}}
	router := &Router{
		Provider: supervisor,
		Specialists: map[knowledge.Domain]*Specialist{
			knowledge.DomainBilling: {Domain: knowledge.DomainBilling, Provider: specialistProvider},
		},
	}

	state := session.NewStore().Get("s1")
	aggregator := NewAggregator(state, nil, nil, nil)
	result, err := aggregator.Run(context.Background(), router.Route(context.Background(), nil, "what is the invoice status for ACME"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Content != "ACME is paid." {
		t.Fatalf("unexpected content %q", result.Content)
	}
	if len(result.Agents) != 1 || result.Agents[0] != "Billing Tool Agent" {
		t.Fatalf("unexpected agents %v", result.Agents)
	}
	if len(result.Models) != 2 || result.Models[0] != SupervisorModelName || result.Models[1] != "OpenAI gpt-4o-mini" {
		t.Fatalf("unexpected models %v", result.Models)
	}
	if result.Usage.InputTokens != 42 || result.Usage.OutputTokens != 7 {
		t.Fatalf("supervisor usage not folded: %+v", result.Usage)
	}

	// The second supervisor round must see the specialist answer as a tool
	// result paired with the originating call.
	if supervisor.callCount() != 2 {
		t.Fatalf("expected two supervisor rounds, got %d", supervisor.callCount())
	}
	var toolMsg *llm.Message
	for i := range supervisor.calls[1] {
		if supervisor.calls[1][i].Role == "tool" {
			toolMsg = &supervisor.calls[1][i]
		}
	}
	if toolMsg == nil || toolMsg.Content != "Invoice 123 is paid." || toolMsg.ToolCallID != "call-1" {
		t.Fatalf("tool result not forwarded: %+v", toolMsg)
	}
}

func TestRouterFanOutMergesInInvocationOrder(t *testing.T) {
	supervisor := &fakeChatProvider{responses: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "billing_tool", Arguments: `{"request":"invoice totals"}`},
			{ID: "call-2", Name: "policy_tool", Arguments: `{"request":"aging policy"}`},
		}}},
		{{Content: "combined answer"}},
	}}
	billing := &fakeChatProvider{responses: [][]llm.Chunk{{{Content: "billing answer"}}}}
	policy := &fakeChatProvider{responses: [][]llm.Chunk{{{Content: "policy answer"}}}}
	router := &Router{
		Provider: supervisor,
		Specialists: map[knowledge.Domain]*Specialist{
			knowledge.DomainBilling: {Domain: knowledge.DomainBilling, Provider: billing},
			knowledge.DomainPolicy:  {Domain: knowledge.DomainPolicy, Provider: policy},
		},
	}

	state := session.NewStore().Get("s1")
	aggregator := NewAggregator(state, nil, nil, nil)
	result, err := aggregator.Run(context.Background(), router.Route(context.Background(), nil, "invoice totals and aging policy"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Contribution order follows the recorded invocation order, not network
	// completion order.
	if len(result.Agents) != 2 || result.Agents[0] != "Billing Tool Agent" || result.Agents[1] != "Policy Tool Agent" {
		t.Fatalf("unexpected agent order %v", result.Agents)
	}

	// Both tool results forwarded in order.
	var toolContents []string
	for _, msg := range supervisor.calls[1] {
		if msg.Role == "tool" {
			toolContents = append(toolContents, msg.Content)
		}
	}
	if len(toolContents) != 2 || toolContents[0] != "billing answer" || toolContents[1] != "policy answer" {
		t.Fatalf("tool results out of order: %v", toolContents)
	}
}

func TestRouterUnknownToolDegrades(t *testing.T) {
	supervisor := &fakeChatProvider{responses: [][]llm.Chunk{
		{{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "weather_tool", Arguments: `{"request":"forecast"}`}}}},
		{{Content: "done"}},
	}}
	router := &Router{Provider: supervisor}

	state := session.NewStore().Get("s1")
	aggregator := NewAggregator(state, nil, nil, nil)
	if _, err := aggregator.Run(context.Background(), router.Route(context.Background(), nil, "hello")); err != nil {
		t.Fatalf("unknown tool must not abort the run: %v", err)
	}
	var toolMsg string
	for _, msg := range supervisor.calls[1] {
		if msg.Role == "tool" {
			toolMsg = msg.Content
		}
	}
	if !strings.Contains(toolMsg, "Unknown tool") {
		t.Fatalf("expected unknown-tool message, got %q", toolMsg)
	}
}

func TestRouterProviderErrorSurfacesToAggregator(t *testing.T) {
	supervisor := &fakeChatProvider{err: errors.New("provider unavailable")}
	router := &Router{Provider: supervisor}

	state := session.NewStore().Get("s1")
	var events []StreamEvent
	aggregator := NewAggregator(state, func(event StreamEvent) error {
		events = append(events, event)
		return nil
	}, nil, nil)
	_, err := aggregator.Run(context.Background(), router.Route(context.Background(), nil, "hello"))
	if err == nil {
		t.Fatalf("expected provider error to surface")
	}
	if len(events) != 2 || !events[0].Error || !events[1].Done {
		t.Fatalf("expected error delta + done, got %+v", events)
	}
}
