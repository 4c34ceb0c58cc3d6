package chat

import (
	"context"
	"errors"
	"io"
	"strings"

	"aerodesk/internal/session"
	"aerodesk/pkg/logging"
)

type aggregatorState int

const (
	stateAwaitingFirstContent aggregatorState = iota
	stateStreaming
	stateDone
	stateError
)

const streamErrorText = "An error occurred while processing your request. Please try again."

// StreamEvent is one attributed emission to the caller: a text delta plus
// the contribution list, model list, and usage totals as of that point.
// The terminal event has Done set and an empty delta.
type StreamEvent struct {
	Delta  string             `json:"delta"`
	Agents []string           `json:"agents"`
	Models []string           `json:"models"`
	Usage  session.TokenStats `json:"usage"`
	Done   bool               `json:"done,omitempty"`
	Error  bool               `json:"error,omitempty"`
}

// Result is the non-streaming view of one aggregated response.
type Result struct {
	Content string             `json:"response"`
	Agents  []string           `json:"agents_used"`
	Models  []string           `json:"models_used"`
	Usage   session.TokenStats `json:"usage"`
}

// Aggregator consumes an ordered snapshot sequence from the router and turns
// it into attributed deltas. State machine: AWAITING_FIRST_CONTENT →
// STREAMING → DONE, with ERROR absorbing from any state.
//
// Per snapshot it (1) appends each not-yet-seen tool invocation's specialist
// and model names to the ordered contribution lists, gated by an
// invocation-id set so a replayed snapshot never duplicates an entry;
// (2) folds token usage into the session totals once per message identity,
// all-or-nothing; (3) emits the suffix of the latest assistant text beyond
// the previously accumulated length as a delta.
type Aggregator struct {
	sessionState *session.State
	emit         func(StreamEvent) error
	fallback     func(context.Context) (string, error)
	logger       logging.Logger

	state           aggregatorState
	seenInvocations map[string]struct{}
	agents          []string
	models          []string
	lastMessageID   string
	accumulated     int
	content         strings.Builder
}

// NewAggregator builds an aggregator for one request. emit may be nil for
// the non-streaming call; fallback, when set, is the one non-streaming
// completion used if the snapshot sequence ends without any content.
func NewAggregator(
	state *session.State,
	emit func(StreamEvent) error,
	fallback func(context.Context) (string, error),
	logger logging.Logger,
) *Aggregator {
	return &Aggregator{
		sessionState:    state,
		emit:            emit,
		fallback:        fallback,
		logger:          logger,
		state:           stateAwaitingFirstContent,
		seenInvocations: make(map[string]struct{}),
		models:          []string{SupervisorModelName},
	}
}

// Run drains the snapshot stream to completion and returns the aggregated
// result. The returned error reports stream failure to the caller's logs;
// the user-facing degradation (error delta + done) has already been emitted.
func (a *Aggregator) Run(ctx context.Context, stream SnapshotStream) (Result, error) {
	for {
		snapshot, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return a.fail(err)
		}
		if err := a.apply(snapshot); err != nil {
			return a.fail(err)
		}
	}

	// Nothing streamed: one fallback non-streaming completion, emitted as a
	// single delta.
	if a.state == stateAwaitingFirstContent && a.fallback != nil {
		text, err := a.fallback(ctx)
		if err != nil {
			return a.fail(err)
		}
		if text != "" {
			if err := a.emitDelta(text); err != nil {
				return a.fail(err)
			}
		}
	}

	a.state = stateDone
	if err := a.send(StreamEvent{Done: true}); err != nil {
		return a.result(), err
	}
	return a.result(), nil
}

func (a *Aggregator) apply(snapshot Snapshot) error {
	latest := snapshot.LatestAssistant()

	// Exactly-once attribution: ordered append gated by the invocation-id
	// set, plus value-level append-if-absent so two invocations of the same
	// tool list its agent and model once.
	if latest != nil {
		for _, call := range latest.ToolCalls {
			if call.ID == "" {
				continue
			}
			if _, seen := a.seenInvocations[call.ID]; seen {
				continue
			}
			a.seenInvocations[call.ID] = struct{}{}
			agent := toolAgentNames[call.Name]
			if agent == "" {
				agent = call.Name
			}
			a.agents = appendIfAbsent(a.agents, agent)
			if model := toolModelNames[call.Name]; model != "" {
				a.models = appendIfAbsent(a.models, model)
			}
		}
	}

	// Usage folds once per message identity, all-or-nothing.
	for _, msg := range snapshot.Messages {
		if msg.Usage == nil || msg.ID == "" {
			continue
		}
		if a.sessionState.FoldUsage(msg.ID, msg.Usage.InputTokens, msg.Usage.OutputTokens) {
			llmTokensTotal.WithLabelValues("input").Add(float64(msg.Usage.InputTokens))
			llmTokensTotal.WithLabelValues("output").Add(float64(msg.Usage.OutputTokens))
		}
	}

	// Delta: the suffix of the latest assistant text beyond what was already
	// emitted. A new assistant message restarts accumulation.
	if latest == nil {
		return nil
	}
	if latest.ID != a.lastMessageID {
		a.lastMessageID = latest.ID
		a.accumulated = 0
	}
	if len(latest.Text) <= a.accumulated {
		return nil
	}
	delta := latest.Text[a.accumulated:]
	a.accumulated = len(latest.Text)
	return a.emitDelta(delta)
}

func (a *Aggregator) emitDelta(delta string) error {
	if a.state == stateAwaitingFirstContent {
		a.state = stateStreaming
	}
	a.content.WriteString(delta)
	streamDeltasTotal.Inc()
	return a.send(StreamEvent{Delta: delta})
}

// fail transitions to ERROR: one user-facing error delta, then done. The
// session's usage totals stay as of the last fully processed snapshot.
func (a *Aggregator) fail(err error) (Result, error) {
	a.state = stateError
	if a.logger != nil {
		a.logger.WithError(err).Warn("Streaming aggregation failed")
	}
	_ = a.send(StreamEvent{Delta: streamErrorText, Error: true})
	_ = a.send(StreamEvent{Done: true})
	result := a.result()
	result.Content = streamErrorText
	return result, err
}

func (a *Aggregator) send(event StreamEvent) error {
	event.Agents = append([]string(nil), a.agents...)
	event.Models = append([]string(nil), a.models...)
	event.Usage = a.sessionState.Stats()
	if a.emit == nil {
		return nil
	}
	return a.emit(event)
}

func (a *Aggregator) result() Result {
	return Result{
		Content: a.content.String(),
		Agents:  append([]string(nil), a.agents...),
		Models:  append([]string(nil), a.models...),
		Usage:   a.sessionState.Stats(),
	}
}

func appendIfAbsent(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
