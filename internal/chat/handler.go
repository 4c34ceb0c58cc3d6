package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"aerodesk/internal/knowledge"
	"aerodesk/internal/session"
	"aerodesk/pkg/llm"
	"aerodesk/pkg/logging"

	"github.com/gin-gonic/gin"
)

const (
	maxMessageRunes           = 10000
	defaultMaxHistoryMessages = 20
)

// CollectionLister reports per-domain knowledge collection stats.
type CollectionLister interface {
	ListCollections(ctx context.Context) ([]knowledge.CollectionSummary, error)
}

// UsageRecorder receives per-session usage events for billing.
type UsageRecorder interface {
	RecordLLMCall(sessionID string, inputTokens, outputTokens int)
}

type ChatHandler struct {
	History            *session.HistoryStore
	Sessions           *session.Store
	Router             *Router
	Collections        CollectionLister
	Metering           UsageRecorder
	Logger             logging.Logger
	MaxHistoryMessages int

	// sessionLocks serializes concurrent requests to the same session; the
	// aggregator and cache assume one in-flight request per session.
	sessionLocks sync.Map
}

func NewChatHandler(
	history *session.HistoryStore,
	sessions *session.Store,
	router *Router,
	collections CollectionLister,
	logger logging.Logger,
) *ChatHandler {
	return &ChatHandler{
		History:            history,
		Sessions:           sessions,
		Router:             router,
		Collections:        collections,
		Logger:             logger,
		MaxHistoryMessages: defaultMaxHistoryMessages,
	}
}

func RegisterRoutes(router gin.IRoutes, handler *ChatHandler) {
	router.POST("/chat", handler.HandleChat)
	router.GET("/sessions", handler.HandleListSessions)
	router.GET("/sessions/:id", handler.HandleGetSession)
	router.GET("/sessions/:id/usage", handler.HandleSessionUsage)
	router.DELETE("/sessions/:id", handler.HandleDeleteSession)
	router.POST("/sessions/:id/feedback", handler.HandleFeedback)
	router.GET("/collections", handler.HandleListCollections)
	router.POST("/classify", handler.HandleClassify)
	router.POST("/resolve-k", handler.HandleResolveK)
}

type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Stream    *bool  `json:"stream,omitempty"`
}

type sseDelta struct {
	Type    string             `json:"type"`
	Content string             `json:"content"`
	Agents  []string           `json:"agents"`
	Models  []string           `json:"models"`
	Usage   session.TokenStats `json:"usage"`
}

type sseDone struct {
	Type   string             `json:"type"`
	Agents []string           `json:"agents"`
	Models []string           `json:"models"`
	Usage  session.TokenStats `json:"usage"`
}

func (h *ChatHandler) HandleChat(c *gin.Context) {
	if h == nil || h.Router == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "router unavailable"})
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}
	streaming := req.Stream == nil || *req.Stream

	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	ctx := c.Request.Context()
	if userID != "" {
		ctx = session.WithUserID(ctx, userID)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	isNewSession := false
	if sessionID == "" {
		var err error
		sessionID, err = h.History.CreateSession(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}
		isNewSession = true
	} else if _, err := h.History.GetSession(ctx, sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	ctx = session.WithSessionID(ctx, sessionID)

	sessMu := h.lockSession(sessionID)
	defer sessMu.Unlock()

	historyLimit := h.MaxHistoryMessages
	if historyLimit <= 0 {
		historyLimit = defaultMaxHistoryMessages
	}
	records, err := h.History.GetRecentMessages(ctx, sessionID, historyLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session history"})
		return
	}

	if _, addErr := h.History.AddMessage(ctx, sessionID, "user", req.Message, nil, nil, session.TokenStats{}); addErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist user message"})
		return
	}

	history := buildPromptHistory(records, req.Message)
	state := h.Sessions.Get(sessionID)
	fallback := func(ctx context.Context) (string, error) {
		return h.Router.Fallback(ctx, history, req.Message)
	}

	chatsActive.Inc()
	defer chatsActive.Dec()

	var result Result
	var runErr error
	if streaming {
		streamer, sseErr := newSSEStreamer(c.Writer)
		if sseErr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unavailable"})
			return
		}
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Header("X-Session-ID", sessionID)
		c.Status(http.StatusOK)

		aggregator := NewAggregator(state, streamer.SendEvent, fallback, h.Logger)
		result, runErr = aggregator.Run(ctx, h.Router.Route(ctx, history, req.Message))
		_ = streamer.SendTerminator()
	} else {
		aggregator := NewAggregator(state, nil, fallback, h.Logger)
		result, runErr = aggregator.Run(ctx, h.Router.Route(ctx, history, req.Message))
	}
	if runErr != nil && h.Logger != nil {
		h.Logger.WithError(runErr).WithField("session_id", sessionID).Warn("Chat routing failed")
	}

	h.persistResult(ctx, sessionID, result)
	if h.Metering != nil {
		h.Metering.RecordLLMCall(sessionID, result.Usage.InputTokens, result.Usage.OutputTokens)
	}
	if isNewSession {
		title := truncateTitle(req.Message, 60)
		if err := h.History.UpdateTitle(ctx, sessionID, title); err != nil && h.Logger != nil {
			h.Logger.WithError(err).Warn("Failed to set session title")
		}
	}

	if !streaming {
		c.JSON(http.StatusOK, gin.H{
			"session_id":  sessionID,
			"response":    result.Content,
			"agents_used": result.Agents,
			"models_used": result.Models,
			"usage":       result.Usage,
		})
	}
}

// lockSession acquires the per-session mutex, creating it on first use.
// Entries live until HandleDeleteSession removes them; deleting on release
// would race a request that has loaded the mutex but not yet locked it.
func (h *ChatHandler) lockSession(sessionID string) *sync.Mutex {
	lockVal, _ := h.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	sessMu := lockVal.(*sync.Mutex)
	sessMu.Lock()
	return sessMu
}

func (h *ChatHandler) persistResult(ctx context.Context, sessionID string, result Result) {
	agentsJSON, _ := json.Marshal(result.Agents)
	modelsJSON, _ := json.Marshal(result.Models)
	if _, err := h.History.AddMessage(ctx, sessionID, "assistant", result.Content, agentsJSON, modelsJSON, result.Usage); err != nil && h.Logger != nil {
		h.Logger.WithError(err).Warn("Failed to store assistant response")
	}
}

func (h *ChatHandler) HandleListSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	limit := 50
	offset := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	summaries, err := h.History.ListSessions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *ChatHandler) HandleGetSession(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id is required"})
		return
	}
	ctx := h.userContext(c)
	sess, err := h.History.GetSession(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *ChatHandler) HandleSessionUsage(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id is required"})
		return
	}
	c.JSON(http.StatusOK, h.Sessions.Get(sessionID).Stats())
}

func (h *ChatHandler) HandleDeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id is required"})
		return
	}
	ctx := h.userContext(c)
	if err := h.History.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}
	// Drop in-memory state too: cache slot, usage totals, request lock.
	h.Sessions.Drop(sessionID)
	h.sessionLocks.Delete(sessionID)
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) HandleFeedback(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id is required"})
		return
	}
	var req struct {
		MessageID string `json:"message_id"`
		Rating    int    `json:"rating"`
		Comment   string `json:"comment,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if req.MessageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id is required"})
		return
	}
	err := h.History.SetFeedback(c.Request.Context(), sessionID, req.MessageID, req.Rating, req.Comment)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message_id": req.MessageID, "rating": req.Rating})
	case errors.Is(err, session.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case strings.Contains(err.Error(), "rating must be"):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store feedback"})
	}
}

func (h *ChatHandler) HandleListCollections(c *gin.Context) {
	if h.Collections == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "collections unavailable"})
		return
	}
	summaries, err := h.Collections.ListCollections(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list collections"})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *ChatHandler) HandleClassify(c *gin.Context) {
	var req struct {
		Content  string `json:"content"`
		Filename string `json:"filename,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	domain, scores := knowledge.ClassifyWithScores(req.Content, req.Filename)
	knowledge.ObserveClassification(domain)
	c.JSON(http.StatusOK, gin.H{
		"domain": domain,
		"scores": gin.H{
			"billing":   scores.Billing,
			"technical": scores.Technical,
			"policy":    scores.Policy,
		},
	})
}

func (h *ChatHandler) HandleResolveK(c *gin.Context) {
	var req struct {
		Query      string `json:"query"`
		RequestedK int    `json:"requested_k"`
		Domain     string `json:"domain"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	domain, err := knowledge.ParseDomain(req.Domain)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resolved := knowledge.ResolveK(req.Query, req.RequestedK, domain)
	c.JSON(http.StatusOK, gin.H{
		"resolved_k":  resolved,
		"comparative": knowledge.IsComparativeQuery(req.Query),
	})
}

func (h *ChatHandler) userContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if userID := strings.TrimSpace(c.GetHeader("X-User-ID")); userID != "" {
		ctx = session.WithUserID(ctx, userID)
	}
	return ctx
}

// maxPromptTokenBudget is a rough ceiling for the combined history handed to
// the supervisor. Oldest messages are trimmed first.
const maxPromptTokenBudget = 6000

func buildPromptHistory(records []session.Record, userMessage string) []llm.Message {
	var filtered []session.Record
	for _, rec := range records {
		if rec.Role == "" || rec.Content == "" || rec.Role == "tool" {
			continue
		}
		filtered = append(filtered, rec)
	}

	budget := maxPromptTokenBudget - estimateTokens(SupervisorPrompt) - estimateTokens(userMessage)
	if budget < 0 {
		budget = 0
	}

	// Walk from newest to oldest, keeping messages that fit.
	kept := make([]session.Record, 0, len(filtered))
	used := 0
	for i := len(filtered) - 1; i >= 0; i-- {
		msgTokens := estimateTokens(filtered[i].Content)
		if used+msgTokens > budget {
			break
		}
		used += msgTokens
		kept = append(kept, filtered[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	messages := make([]llm.Message, 0, len(kept))
	for _, rec := range kept {
		messages = append(messages, llm.Message{Role: rec.Role, Content: rec.Content})
	}
	return messages
}

func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

type sseStreamer struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func newSSEStreamer(writer http.ResponseWriter) (*sseStreamer, error) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	return &sseStreamer{writer: writer, flusher: flusher}, nil
}

// SendEvent maps aggregator events onto the SSE wire format.
func (s *sseStreamer) SendEvent(event StreamEvent) error {
	if event.Done {
		return s.send(sseDone{Type: "done", Agents: event.Agents, Models: event.Models, Usage: event.Usage})
	}
	eventType := "delta"
	if event.Error {
		eventType = "error"
	}
	return s.send(sseDelta{
		Type:    eventType,
		Content: event.Delta,
		Agents:  event.Agents,
		Models:  event.Models,
		Usage:   event.Usage,
	})
}

func (s *sseStreamer) SendTerminator() error {
	if _, err := fmt.Fprintf(s.writer, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStreamer) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func truncateTitle(message string, maxLen int) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= maxLen {
		return message
	}
	truncated := string(runes[:maxLen])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxLen/2 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}
