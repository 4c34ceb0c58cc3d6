package knowledge

import (
	"context"
	"time"

	"aerodesk/internal/session"
	"aerodesk/pkg/logging"
)

// Retriever ties the embedder, the passage store, and the sizing policy into
// the single retrieval call the specialists consume.
type Retriever struct {
	store    PassageSearcher
	embedder QueryEmbedder
	usage    UsageRecorder
	logger   logging.Logger
}

type PassageSearcher interface {
	Search(ctx context.Context, domain Domain, embedding []float32, limit int) ([]Passage, error)
}

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// UsageRecorder receives per-session billing events for retrieval work.
type UsageRecorder interface {
	RecordSearchQuery(sessionID string)
	RecordEmbedding(sessionID string)
}

func NewRetriever(store PassageSearcher, embedder QueryEmbedder, usage UsageRecorder, logger logging.Logger) *Retriever {
	return &Retriever{store: store, embedder: embedder, usage: usage, logger: logger}
}

// Retrieve returns formatted context for a query against one domain. The
// result is always displayable text: retrieval failures come back as the
// error string, never as a raised error.
func (r *Retriever) Retrieve(ctx context.Context, domain Domain, query string, requestedK int) string {
	if requestedK <= 0 {
		requestedK = domain.DefaultK()
	}
	k := ResolveK(query, requestedK, domain)
	if k != requestedK && r.logger != nil {
		r.logger.WithFields(logging.Fields{
			"domain":      domain,
			"requested_k": requestedK,
			"resolved_k":  k,
		}).Info("Comparative query detected, widening retrieval")
	}

	start := time.Now()
	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).WithField("domain", domain).Warn("Query embedding failed")
		}
		retrievalsTotal.WithLabelValues(string(domain), "error").Inc()
		return RetrievalErrorText(domain, err)
	}
	r.recordUsage(ctx, func(recorder UsageRecorder, sessionID string) {
		recorder.RecordEmbedding(sessionID)
	})

	passages, err := r.store.Search(ctx, domain, embedding, k)
	retrievalDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).WithField("domain", domain).Warn("Knowledge search failed")
		}
		retrievalsTotal.WithLabelValues(string(domain), "error").Inc()
		return RetrievalErrorText(domain, err)
	}
	r.recordUsage(ctx, func(recorder UsageRecorder, sessionID string) {
		recorder.RecordSearchQuery(sessionID)
	})

	retrievalsTotal.WithLabelValues(string(domain), "success").Inc()
	retrievalResultsCount.Observe(float64(len(passages)))
	return FormatContext(domain, query, passages)
}

// recordUsage attributes one billing event to the request's session. Events
// without a session in context are not billable.
func (r *Retriever) recordUsage(ctx context.Context, record func(UsageRecorder, string)) {
	if r.usage == nil {
		return
	}
	sessionID := session.GetSessionID(ctx)
	if sessionID == "" {
		return
	}
	record(r.usage, sessionID)
}
