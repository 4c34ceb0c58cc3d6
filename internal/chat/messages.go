package chat

import (
	"fmt"
	"strings"
)

// UsageMetadata is the provider-reported token accounting attached to one
// message.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolInvocation records one specialist invocation on an assistant message.
// The ID is the attribution key: each invocation contributes to the agent and
// model lists exactly once, however many snapshots carry it.
type ToolInvocation struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
}

// TaggedMessage is the single normalized message shape used throughout the
// routing and aggregation path. Provider responses are mapped into it once,
// at the boundary.
type TaggedMessage struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Text      string           `json:"text"`
	ToolCalls []ToolInvocation `json:"tool_calls,omitempty"`
	Usage     *UsageMetadata   `json:"usage,omitempty"`
}

// Snapshot is the full accumulated message list at one point in a streaming
// response. The producer appends and grows messages; consumers only read.
type Snapshot struct {
	Messages []TaggedMessage
}

// SnapshotStream is an ordered single-producer sequence of snapshots.
// Recv returns io.EOF when the sequence ends.
type SnapshotStream interface {
	Recv() (Snapshot, error)
}

// LatestAssistant returns the last assistant message in the snapshot, or nil.
func (s Snapshot) LatestAssistant() *TaggedMessage {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "assistant" {
			return &s.Messages[i]
		}
	}
	return nil
}

// clone copies the message list so the producer can keep mutating its own
// slice after handing a snapshot off.
func (s Snapshot) clone() Snapshot {
	messages := make([]TaggedMessage, len(s.Messages))
	copy(messages, s.Messages)
	for i := range messages {
		if len(messages[i].ToolCalls) > 0 {
			calls := make([]ToolInvocation, len(messages[i].ToolCalls))
			copy(calls, messages[i].ToolCalls)
			messages[i].ToolCalls = calls
		}
	}
	return Snapshot{Messages: messages}
}

// renderMessages is the fallback rendering used when a response carries no
// extractable text content.
func renderMessages(messages []TaggedMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Text)
	}
	return strings.TrimSpace(b.String())
}
