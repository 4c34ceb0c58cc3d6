package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"aerodesk/internal/knowledge"
	"aerodesk/pkg/llm"
	"aerodesk/pkg/logging"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxToolRounds = 6
	specialistFanOut     = 3
)

// Router runs the supervisor loop for one request: emergency pre-filter,
// supervisor completion, specialist fan-out per tool round, and snapshot
// emission for the aggregator.
type Router struct {
	Provider        llm.Provider
	Specialists     map[knowledge.Domain]*Specialist
	Logger          logging.Logger
	MaxRounds       int
	EscalationEmail string
}

// Route starts the routing process and returns the snapshot stream the
// aggregator consumes. The producer goroutine owns the message list; every
// emitted snapshot is a copy.
func (r *Router) Route(ctx context.Context, history []llm.Message, query string) SnapshotStream {
	pipe := newSnapshotPipe()
	go r.produce(ctx, pipe, history, query)
	return pipe
}

// Fallback is the one non-streaming completion the aggregator uses when the
// snapshot sequence ends without any content.
func (r *Router) Fallback(ctx context.Context, history []llm.Message, query string) (string, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: SupervisorPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: query})

	stream, err := r.Provider.Complete(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()

	var text strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			return "", recvErr
		}
		text.WriteString(chunk.Content)
	}
	return strings.TrimSpace(text.String()), nil
}

func (r *Router) produce(ctx context.Context, pipe *snapshotPipe, history []llm.Message, query string) {
	// Emergency scan runs before any routing decision and short-circuits
	// dispatch entirely.
	if notice := ScanEmergency(query, r.EscalationEmail); notice != "" {
		snapshot := Snapshot{Messages: []TaggedMessage{
			{ID: uuid.NewString(), Role: "user", Text: query},
			{ID: uuid.NewString(), Role: "assistant", Text: notice},
		}}
		pipe.send(ctx, snapshot)
		pipe.close(nil)
		return
	}

	tagged := make([]TaggedMessage, 0, len(history)+2)
	tagged = append(tagged, TaggedMessage{ID: uuid.NewString(), Role: "system", Text: SupervisorPrompt})
	for _, msg := range history {
		tagged = append(tagged, TaggedMessage{ID: uuid.NewString(), Role: msg.Role, Text: msg.Content})
	}
	tagged = append(tagged, TaggedMessage{ID: uuid.NewString(), Role: "user", Text: query})

	tools := supervisorTools()
	maxRounds := r.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}

	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			pipe.close(err)
			return
		}

		llmStart := time.Now()
		stream, err := r.Provider.Complete(ctx, wireMessages(tagged), tools)
		if err != nil {
			llmCallsTotal.WithLabelValues("supervisor", "error").Inc()
			pipe.close(err)
			return
		}

		assistant := TaggedMessage{ID: uuid.NewString(), Role: "assistant"}
		tagged = append(tagged, assistant)
		assistantIdx := len(tagged) - 1

		var pending []llm.ToolCall
		for {
			chunk, recvErr := stream.Recv()
			if recvErr != nil {
				if errors.Is(recvErr, io.EOF) {
					break
				}
				_ = stream.Close()
				llmCallsTotal.WithLabelValues("supervisor", "error").Inc()
				pipe.close(recvErr)
				return
			}
			if chunk.Content != "" {
				tagged[assistantIdx].Text += chunk.Content
				pipe.send(ctx, Snapshot{Messages: tagged})
			}
			if len(chunk.ToolCalls) > 0 {
				pending = mergeToolCalls(pending, chunk.ToolCalls)
			}
			if chunk.Usage != nil {
				tagged[assistantIdx].Usage = &UsageMetadata{
					InputTokens:  chunk.Usage.InputTokens,
					OutputTokens: chunk.Usage.OutputTokens,
				}
			}
		}
		_ = stream.Close()
		llmCallsTotal.WithLabelValues("supervisor", "success").Inc()
		llmDuration.WithLabelValues("supervisor").Observe(time.Since(llmStart).Seconds())

		if tagged[assistantIdx].Usage != nil {
			// Usage arrives on the final chunk; surface it in a snapshot so
			// the aggregator folds it.
			pipe.send(ctx, Snapshot{Messages: tagged})
		}

		if len(pending) == 0 {
			break
		}

		// Record the invocations on the assistant message before dispatch so
		// attribution order follows the order the supervisor requested them.
		invocations := make([]ToolInvocation, len(pending))
		for i, call := range pending {
			id := call.ID
			if id == "" {
				id = uuid.NewString()
			}
			invocations[i] = ToolInvocation{ID: id, Name: call.Name}
		}
		tagged[assistantIdx].ToolCalls = invocations
		pipe.send(ctx, Snapshot{Messages: tagged})

		// Fan out specialist calls; merge results back in recorded
		// invocation order, not completion order.
		results := make([]string, len(pending))
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(specialistFanOut)
		for i, call := range pending {
			group.Go(func() error {
				results[i] = r.dispatch(groupCtx, call)
				return nil
			})
		}
		_ = group.Wait()

		for i := range pending {
			tagged[assistantIdx].ToolCalls[i].Result = results[i]
			// Tool result messages keep their originating invocation so the
			// wire conversion can pair tool_use with tool_result.
			tagged = append(tagged, TaggedMessage{
				ID:        uuid.NewString(),
				Role:      "tool",
				Text:      results[i],
				ToolCalls: []ToolInvocation{{ID: invocations[i].ID, Name: invocations[i].Name}},
			})
		}
		pipe.send(ctx, Snapshot{Messages: tagged})

		if round == maxRounds-2 {
			tagged = append(tagged, TaggedMessage{
				ID:   uuid.NewString(),
				Role: "user",
				Text: "[System note: one routing round remains. Synthesize your answer now from the specialist responses already gathered.]",
			})
		}
	}

	pipe.close(nil)
}

// dispatch resolves a supervisor tool call to a specialist and asks it.
// Unknown tools and missing specialists degrade to displayable text; a tool
// round never aborts the overall aggregation.
func (r *Router) dispatch(ctx context.Context, call llm.ToolCall) string {
	domain, ok := toolDomains[call.Name]
	if !ok {
		return "Unknown tool: " + call.Name
	}
	specialist := r.Specialists[domain]
	if specialist == nil {
		return apologyText(domain, errors.New("specialist unavailable"))
	}

	request := parseToolRequest(call.Arguments)
	if request == "" {
		return apologyText(domain, errors.New("empty request"))
	}
	return specialist.Ask(ctx, request)
}

func parseToolRequest(arguments string) string {
	var args struct {
		Request string `json:"request"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return strings.TrimSpace(arguments)
	}
	return strings.TrimSpace(args.Request)
}

func supervisorTools() []llm.Tool {
	tools := make([]llm.Tool, 0, len(ToolDefinitions))
	for _, tool := range ToolDefinitions {
		tools = append(tools, llm.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}
	return tools
}

func wireMessages(tagged []TaggedMessage) []llm.Message {
	messages := make([]llm.Message, 0, len(tagged))
	for _, msg := range tagged {
		if msg.Role == "assistant" && msg.Text == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		wire := llm.Message{Role: msg.Role, Content: msg.Text}
		if msg.Role == "tool" && len(msg.ToolCalls) == 1 {
			wire.Name = msg.ToolCalls[0].Name
			wire.ToolCallID = msg.ToolCalls[0].ID
		}
		messages = append(messages, wire)
	}
	return messages
}

// mergeToolCalls accumulates tool calls across streaming chunks. A chunk
// carrying a call with an already-seen ID replaces that call's arguments
// (providers may split one call across frames); new IDs are appended.
func mergeToolCalls(existing, incoming []llm.ToolCall) []llm.ToolCall {
	for _, inc := range incoming {
		found := false
		for i, ex := range existing {
			if ex.ID != "" && ex.ID == inc.ID {
				existing[i].Arguments = inc.Arguments
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, inc)
		}
	}
	return existing
}

// snapshotPipe is the single-producer snapshot channel between the router
// goroutine and the aggregator.
type snapshotPipe struct {
	ch  chan Snapshot
	err error
}

func newSnapshotPipe() *snapshotPipe {
	return &snapshotPipe{ch: make(chan Snapshot, 8)}
}

func (p *snapshotPipe) Recv() (Snapshot, error) {
	snapshot, ok := <-p.ch
	if !ok {
		if p.err != nil {
			return Snapshot{}, p.err
		}
		return Snapshot{}, io.EOF
	}
	return snapshot, nil
}

func (p *snapshotPipe) send(ctx context.Context, snapshot Snapshot) {
	select {
	case p.ch <- snapshot.clone():
	case <-ctx.Done():
	}
}

// close ends the stream; err, when set, is surfaced to the consumer after
// the buffered snapshots drain.
func (p *snapshotPipe) close(err error) {
	p.err = err
	close(p.ch)
}
