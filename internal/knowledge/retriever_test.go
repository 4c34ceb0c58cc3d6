package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"aerodesk/internal/session"
)

type fakeSearcher struct {
	lastLimit int
	passages  []Passage
	err       error
}

func (f *fakeSearcher) Search(ctx context.Context, domain Domain, embedding []float32, limit int) ([]Passage, error) {
	f.lastLimit = limit
	return f.passages, f.err
}

func TestRetrieverFormatsResults(t *testing.T) {
	searcher := &fakeSearcher{passages: []Passage{{SourceFile: "rates.md", Text: "Standard rate is 120/hr."}}}
	retriever := NewRetriever(searcher, &Embedder{client: &fakeEmbeddingClient{}}, nil, nil)

	out := retriever.Retrieve(context.Background(), DomainBilling, "standard rate", 3)
	if !strings.Contains(out, "Relevant billing information") {
		t.Fatalf("unexpected context: %s", out)
	}
	if searcher.lastLimit != 3 {
		t.Fatalf("expected limit 3, got %d", searcher.lastLimit)
	}
}

func TestRetrieverWidensComparativeQueries(t *testing.T) {
	searcher := &fakeSearcher{}
	retriever := NewRetriever(searcher, &Embedder{client: &fakeEmbeddingClient{}}, nil, nil)

	retriever.Retrieve(context.Background(), DomainBilling, "which company is our most valuable customer", 5)
	if searcher.lastLimit != 20 {
		t.Fatalf("expected comparative floor 20, got %d", searcher.lastLimit)
	}
}

func TestRetrieverSearchFailureIsDisplayable(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("db unreachable")}
	retriever := NewRetriever(searcher, &Embedder{client: &fakeEmbeddingClient{}}, nil, nil)

	out := retriever.Retrieve(context.Background(), DomainPolicy, "refund policy", 5)
	if !strings.Contains(out, "Error retrieving policy information: db unreachable") {
		t.Fatalf("unexpected failure text: %s", out)
	}
}

func TestRetrieverEmbedFailureIsDisplayable(t *testing.T) {
	retriever := NewRetriever(&fakeSearcher{}, &Embedder{client: &fakeEmbeddingClient{err: errors.New("provider down")}}, nil, nil)

	out := retriever.Retrieve(context.Background(), DomainTechnical, "engine vibration", 3)
	if !strings.Contains(out, "Error retrieving technical information") {
		t.Fatalf("unexpected failure text: %s", out)
	}
}

type fakeUsageRecorder struct {
	searches   []string
	embeddings []string
}

func (f *fakeUsageRecorder) RecordSearchQuery(sessionID string) {
	f.searches = append(f.searches, sessionID)
}

func (f *fakeUsageRecorder) RecordEmbedding(sessionID string) {
	f.embeddings = append(f.embeddings, sessionID)
}

func TestRetrieverRecordsUsagePerCall(t *testing.T) {
	recorder := &fakeUsageRecorder{}
	retriever := NewRetriever(&fakeSearcher{}, &Embedder{client: &fakeEmbeddingClient{}}, recorder, nil)

	ctx := session.WithSessionID(context.Background(), "sess-9")
	retriever.Retrieve(ctx, DomainBilling, "standard rate", 3)

	if len(recorder.embeddings) != 1 || recorder.embeddings[0] != "sess-9" {
		t.Fatalf("expected one embedding event for sess-9, got %v", recorder.embeddings)
	}
	if len(recorder.searches) != 1 || recorder.searches[0] != "sess-9" {
		t.Fatalf("expected one search event for sess-9, got %v", recorder.searches)
	}
}

func TestRetrieverSkipsUsageWhenEmbeddingFails(t *testing.T) {
	recorder := &fakeUsageRecorder{}
	retriever := NewRetriever(&fakeSearcher{}, &Embedder{client: &fakeEmbeddingClient{err: errors.New("provider down")}}, recorder, nil)

	ctx := session.WithSessionID(context.Background(), "sess-9")
	retriever.Retrieve(ctx, DomainBilling, "standard rate", 3)

	if len(recorder.embeddings) != 0 || len(recorder.searches) != 0 {
		t.Fatalf("expected no usage events, got embeddings=%v searches=%v", recorder.embeddings, recorder.searches)
	}
}

func TestRetrieverSkipsUsageWithoutSession(t *testing.T) {
	recorder := &fakeUsageRecorder{}
	retriever := NewRetriever(&fakeSearcher{}, &Embedder{client: &fakeEmbeddingClient{}}, recorder, nil)

	retriever.Retrieve(context.Background(), DomainBilling, "standard rate", 3)

	if len(recorder.embeddings) != 0 || len(recorder.searches) != 0 {
		t.Fatalf("expected no usage events without a session, got embeddings=%v searches=%v", recorder.embeddings, recorder.searches)
	}
}
