package metering

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"aerodesk/pkg/logging"
)

// UsageSummary is the aggregated usage report for one session window,
// published to the billing topic and persisted per event type.
type UsageSummary struct {
	SessionID    string           `json:"session_id"`
	ServiceID    string           `json:"service_id"`
	Period       string           `json:"period"`
	Timestamp    time.Time        `json:"timestamp"`
	LLMCalls     int              `json:"llm_calls"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	Searches     int              `json:"searches"`
	Embeddings   int              `json:"embeddings"`
	Breakdown    []UsageBreakdown `json:"breakdown,omitempty"`
}

// UsageBreakdown is one event type's share of a summary.
type UsageBreakdown struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
	Tokens    int    `json:"tokens,omitempty"`
}

type UsageTrackerConfig struct {
	DB            *sql.DB
	Publisher     *Publisher
	Logger        logging.Logger
	Model         string
	ServiceID     string
	FlushInterval time.Duration
}

// UsageTracker aggregates per-session usage in memory and flushes it to
// Postgres (and optionally kafka) on an interval. Failed flushes re-queue.
type UsageTracker struct {
	db             *sql.DB
	publisher      *Publisher
	logger         logging.Logger
	model          string
	serviceID      string
	flushInterval  time.Duration
	stopOnce       sync.Once
	stopCh         chan struct{}
	mu             sync.Mutex
	lastFlush      time.Time
	usageBySession map[string]*sessionUsage
	pendingMu      sync.Mutex
	pending        []UsageSummary
}

type sessionUsage struct {
	llmCalls     int
	inputTokens  int
	outputTokens int
	searches     int
	embeddings   int
}

func NewUsageTracker(cfg UsageTrackerConfig) *UsageTracker {
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Minute
	}
	serviceID := cfg.ServiceID
	if serviceID == "" {
		serviceID = "aerodesk"
	}
	return &UsageTracker{
		db:             cfg.DB,
		publisher:      cfg.Publisher,
		logger:         cfg.Logger,
		model:          cfg.Model,
		serviceID:      serviceID,
		flushInterval:  flushInterval,
		stopCh:         make(chan struct{}),
		lastFlush:      time.Now(),
		usageBySession: make(map[string]*sessionUsage),
	}
}

func (t *UsageTracker) Start() {
	if t == nil {
		return
	}
	go t.loop()
}

func (t *UsageTracker) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

func (t *UsageTracker) RecordLLMCall(sessionID string, inputTokens, outputTokens int) {
	if t == nil || sessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	usage := t.ensureSession(sessionID)
	usage.llmCalls++
	usage.inputTokens += inputTokens
	usage.outputTokens += outputTokens
}

func (t *UsageTracker) RecordSearchQuery(sessionID string) {
	if t == nil || sessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	usage := t.ensureSession(sessionID)
	usage.searches++
}

func (t *UsageTracker) RecordEmbedding(sessionID string) {
	if t == nil || sessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	usage := t.ensureSession(sessionID)
	usage.embeddings++
}

func (t *UsageTracker) loop() {
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Flush(context.Background())
		case <-t.stopCh:
			t.Flush(context.Background())
			return
		}
	}
}

func (t *UsageTracker) Flush(ctx context.Context) {
	if t == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()

	t.retryPendingSummaries(ctx)

	t.mu.Lock()
	if len(t.usageBySession) == 0 {
		t.lastFlush = now
		t.mu.Unlock()
		return
	}
	snapshot := t.usageBySession
	t.usageBySession = make(map[string]*sessionUsage)
	windowStart := t.lastFlush
	t.lastFlush = now
	t.mu.Unlock()

	for sessionID, usage := range snapshot {
		t.flushSession(ctx, sessionID, usage, windowStart, now)
	}
}

func (t *UsageTracker) flushSession(ctx context.Context, sessionID string, usage *sessionUsage, windowStart, windowEnd time.Time) {
	if sessionID == "" || usage == nil {
		return
	}

	if usage.llmCalls == 0 && usage.searches == 0 && usage.embeddings == 0 {
		return
	}

	if err := t.persistUsage(ctx, sessionID, usage); err != nil {
		t.requeueUsage(sessionID, usage)
		return
	}

	if t.publisher != nil {
		summary := t.buildUsageSummary(sessionID, usage, windowStart, windowEnd)
		if err := t.publisher.PublishUsageSummary(summary); err != nil {
			t.enqueueSummary(summary)
			if t.logger != nil {
				t.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to publish usage summary")
			}
		}
	}
}

func (t *UsageTracker) persistUsage(ctx context.Context, sessionID string, usage *sessionUsage) error {
	if t.db == nil {
		return nil
	}
	var errs []error
	if usage.llmCalls > 0 {
		if err := t.insertUsageRow(ctx, sessionID, "llm_call", usage.llmCalls, usage.inputTokens, usage.outputTokens, t.model); err != nil {
			errs = append(errs, err)
		}
	}
	if usage.searches > 0 {
		if err := t.insertUsageRow(ctx, sessionID, "search_query", usage.searches, 0, 0, ""); err != nil {
			errs = append(errs, err)
		}
	}
	if usage.embeddings > 0 {
		if err := t.insertUsageRow(ctx, sessionID, "embedding", usage.embeddings, 0, 0, ""); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("persist usage failed with %d error(s)", len(errs))
	}
	return nil
}

func (t *UsageTracker) insertUsageRow(ctx context.Context, sessionID, eventType string, count, inputTokens, outputTokens int, model string) error {
	if count <= 0 {
		return nil
	}
	var modelValue sql.NullString
	if model != "" {
		modelValue = sql.NullString{String: model, Valid: true}
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO desk.desk_usage (
			session_id,
			event_type,
			event_count,
			tokens_input,
			tokens_output,
			model,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, sessionID, eventType, count, inputTokens, outputTokens, modelValue)
	if err != nil && t.logger != nil {
		t.logger.WithError(err).WithFields(logging.Fields{
			"session_id": sessionID,
			"event_type": eventType,
		}).Warn("Failed to persist usage")
	}
	return err
}

func (t *UsageTracker) buildUsageSummary(sessionID string, usage *sessionUsage, windowStart, windowEnd time.Time) UsageSummary {
	breakdown := make([]UsageBreakdown, 0, 3)
	if usage.llmCalls > 0 {
		breakdown = append(breakdown, UsageBreakdown{
			EventType: "llm_call",
			Count:     usage.llmCalls,
			Tokens:    usage.inputTokens + usage.outputTokens,
		})
	}
	if usage.searches > 0 {
		breakdown = append(breakdown, UsageBreakdown{EventType: "search_query", Count: usage.searches})
	}
	if usage.embeddings > 0 {
		breakdown = append(breakdown, UsageBreakdown{EventType: "embedding", Count: usage.embeddings})
	}

	period := fmt.Sprintf("%s/%s", windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))

	return UsageSummary{
		SessionID:    sessionID,
		ServiceID:    t.serviceID,
		Period:       period,
		Timestamp:    windowEnd,
		LLMCalls:     usage.llmCalls,
		InputTokens:  usage.inputTokens,
		OutputTokens: usage.outputTokens,
		Searches:     usage.searches,
		Embeddings:   usage.embeddings,
		Breakdown:    breakdown,
	}
}

func (t *UsageTracker) ensureSession(sessionID string) *sessionUsage {
	usage, ok := t.usageBySession[sessionID]
	if !ok {
		usage = &sessionUsage{}
		t.usageBySession[sessionID] = usage
	}
	return usage
}

func (t *UsageTracker) requeueUsage(sessionID string, usage *sessionUsage) {
	if t == nil || sessionID == "" || usage == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.ensureSession(sessionID)
	current.llmCalls += usage.llmCalls
	current.inputTokens += usage.inputTokens
	current.outputTokens += usage.outputTokens
	current.searches += usage.searches
	current.embeddings += usage.embeddings
}

func (t *UsageTracker) enqueueSummary(summary UsageSummary) {
	if t == nil {
		return
	}
	t.pendingMu.Lock()
	t.pending = append(t.pending, summary)
	t.pendingMu.Unlock()
}

func (t *UsageTracker) retryPendingSummaries(ctx context.Context) {
	if t == nil || t.publisher == nil {
		return
	}
	t.pendingMu.Lock()
	pending := t.pending
	t.pending = nil
	t.pendingMu.Unlock()
	if len(pending) == 0 {
		return
	}
	var remaining []UsageSummary
	for _, summary := range pending {
		if err := t.publisher.PublishUsageSummary(summary); err != nil {
			remaining = append(remaining, summary)
			if t.logger != nil {
				t.logger.WithError(err).WithField("session_id", summary.SessionID).Warn("Failed to retry usage summary")
			}
		}
	}
	if len(remaining) > 0 {
		t.pendingMu.Lock()
		t.pending = append(t.pending, remaining...)
		t.pendingMu.Unlock()
	}
}
