package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"aerodesk/internal/knowledge"
	"aerodesk/internal/session"
	"aerodesk/pkg/llm"
	"aerodesk/pkg/logging"
)

// Display names used in contribution lists. The supervisor model is listed
// first in every response's model list.
const SupervisorModelName = "AWS Bedrock Claude 3 Haiku"

var toolAgentNames = map[string]string{
	"billing_tool":   "Billing Tool Agent",
	"technical_tool": "Technical Tool Agent",
	"policy_tool":    "Policy Tool Agent",
}

var toolModelNames = map[string]string{
	"billing_tool":   "OpenAI gpt-4o-mini",
	"technical_tool": "OpenAI gpt-4o-mini",
	"policy_tool":    "OpenAI gpt-4o-mini",
}

var toolDomains = map[string]knowledge.Domain{
	"billing_tool":   knowledge.DomainBilling,
	"technical_tool": knowledge.DomainTechnical,
	"policy_tool":    knowledge.DomainPolicy,
}

var domainContacts = map[knowledge.Domain]string{
	knowledge.DomainBilling:   "billing@aerospace-co.com",
	knowledge.DomainTechnical: "technical@aerospace-co.com",
	knowledge.DomainPolicy:    "compliance@aerospace-co.com",
}

func apologyText(domain knowledge.Domain, err error) string {
	return fmt.Sprintf("I apologize, but I encountered an error processing your %s inquiry: %v. Please try again or contact %s for assistance.",
		domain, err, domainContacts[domain])
}

// ContextRetriever produces displayable knowledge context for one domain.
// Implementations never fail; errors are rendered into the returned text.
type ContextRetriever interface {
	Retrieve(ctx context.Context, domain knowledge.Domain, query string, requestedK int) string
}

// Specialist wraps one domain responder behind a uniform ask contract. Every
// call is a fresh isolated invocation: the specialist sees only its own
// system prompt, the retrieved context, and the forwarded request, never the
// outer conversation or another specialist's turns.
type Specialist struct {
	Domain    knowledge.Domain
	Provider  llm.Provider
	Retriever ContextRetriever
	Sessions  *session.Store
	Logger    logging.Logger
}

// Ask forwards a self-contained request to the specialist and returns
// displayable text. Failures never propagate: any error becomes a
// user-facing apology naming the domain contact, so one failed specialist
// cannot abort a multi-specialist aggregation.
func (s *Specialist) Ask(ctx context.Context, request string) string {
	start := time.Now()
	answer, err := s.ask(ctx, request)
	specialistDuration.WithLabelValues(string(s.Domain)).Observe(time.Since(start).Seconds())
	if err != nil {
		specialistCallsTotal.WithLabelValues(string(s.Domain), "error").Inc()
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("domain", string(s.Domain)).Warn("Specialist dispatch failed")
		}
		return apologyText(s.Domain, err)
	}
	specialistCallsTotal.WithLabelValues(string(s.Domain), "success").Inc()
	return answer
}

func (s *Specialist) ask(ctx context.Context, request string) (string, error) {
	if s.Provider == nil {
		return "", errors.New("llm provider unavailable")
	}
	request = strings.TrimSpace(request)
	if request == "" {
		return "", errors.New("empty request")
	}

	contextText := s.buildContext(ctx, request)

	messages := []llm.Message{
		{Role: "system", Content: specialistPrompts[s.Domain]},
		{Role: "user", Content: request + "\n\n" + contextText},
	}

	llmStart := time.Now()
	stream, err := s.Provider.Complete(ctx, messages, nil)
	if err != nil {
		llmCallsTotal.WithLabelValues("specialist", "error").Inc()
		return "", err
	}
	defer func() { _ = stream.Close() }()

	var text strings.Builder
	var response []TaggedMessage
	for {
		chunk, recvErr := stream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			llmCallsTotal.WithLabelValues("specialist", "error").Inc()
			return "", recvErr
		}
		text.WriteString(chunk.Content)
		if chunk.Usage != nil {
			llmTokensTotal.WithLabelValues("input").Add(float64(chunk.Usage.InputTokens))
			llmTokensTotal.WithLabelValues("output").Add(float64(chunk.Usage.OutputTokens))
		}
	}
	llmCallsTotal.WithLabelValues("specialist", "success").Inc()
	llmDuration.WithLabelValues("specialist").Observe(time.Since(llmStart).Seconds())

	// Last message text, or a rendering of the whole exchange if the
	// provider produced no extractable content.
	answer := strings.TrimSpace(text.String())
	if answer == "" {
		for _, msg := range messages {
			response = append(response, TaggedMessage{Role: msg.Role, Text: msg.Content})
		}
		response = append(response, TaggedMessage{Role: "assistant", Text: ""})
		return renderMessages(response), nil
	}
	return answer, nil
}

// buildContext assembles the retrieved knowledge context for the request.
// Policy requests go through the session's single-slot cache. Billing
// requests additionally consult the policy cache when the request carries
// policy vocabulary (invoicing terms and aging policies overlap).
func (s *Specialist) buildContext(ctx context.Context, request string) string {
	if s.Retriever == nil {
		return ""
	}

	switch s.Domain {
	case knowledge.DomainPolicy:
		if state := s.sessionState(ctx); state != nil {
			content, _ := state.GetOrFetch(request, func() (string, error) {
				return s.Retriever.Retrieve(ctx, knowledge.DomainPolicy, request, knowledge.DomainPolicy.DefaultK()), nil
			})
			return content
		}
		return s.Retriever.Retrieve(ctx, knowledge.DomainPolicy, request, knowledge.DomainPolicy.DefaultK())

	case knowledge.DomainBilling:
		contextText := s.Retriever.Retrieve(ctx, knowledge.DomainBilling, request, knowledge.DomainBilling.DefaultK())
		if mentionsPolicy(request) {
			if state := s.sessionState(ctx); state != nil {
				policyContext, _ := state.GetOrFetch(request, func() (string, error) {
					return s.Retriever.Retrieve(ctx, knowledge.DomainPolicy, request, knowledge.DomainPolicy.DefaultK()), nil
				})
				if policyContext != "" {
					contextText += "\n\n" + policyContext
				}
			}
		}
		return contextText

	default:
		return s.Retriever.Retrieve(ctx, s.Domain, request, s.Domain.DefaultK())
	}
}

func (s *Specialist) sessionState(ctx context.Context) *session.State {
	if s.Sessions == nil {
		return nil
	}
	id := session.GetSessionID(ctx)
	if id == "" {
		return nil
	}
	return s.Sessions.Get(id)
}

func mentionsPolicy(request string) bool {
	_, scores := knowledge.ClassifyWithScores(request, "")
	return scores.Policy > 0
}
