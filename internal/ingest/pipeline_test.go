package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"aerodesk/internal/knowledge"
)

type fakeEmbedder struct {
	passages []knowledge.Passage
	err      error
}

func (f *fakeEmbedder) EmbedDocument(context.Context, string) ([]knowledge.Passage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]knowledge.Passage(nil), f.passages...), nil
}

type fakeWriter struct {
	stored []knowledge.Passage
	err    error
}

func (f *fakeWriter) Upsert(_ context.Context, passages []knowledge.Passage) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, passages...)
	return nil
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		filename string
		size     int
		wantErr  bool
	}{
		{"report.pdf", 100, false},
		{"notes.txt", 100, false},
		{"readme.md", 100, false},
		{"guide.markdown", 100, false},
		{"data.json", 100, false},
		{"image.png", 100, true},
		{"archive.zip", 100, true},
		{"", 100, true},
		{"report.pdf", 0, true},
		{"report.pdf", maxDocumentBytes + 1, true},
	}
	for _, tt := range tests {
		err := ValidateDocument(tt.filename, tt.size)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ValidateDocument(%q, %d) = %v, wantErr %v", tt.filename, tt.size, err, tt.wantErr)
		}
	}
}

func TestIngestClassifiesAndEnriches(t *testing.T) {
	embedder := &fakeEmbedder{passages: []knowledge.Passage{
		{Text: "invoice terms", Index: 0, TotalChunks: 2},
		{Text: "payment schedule", Index: 1, TotalChunks: 2},
	}}
	writer := &fakeWriter{}
	pipeline := NewPipeline(embedder, writer, nil)

	result, err := pipeline.Ingest(context.Background(), Request{
		Filename: "billing-invoice-Q4.pdf",
		Content:  "invoice payment due for the Q4 contract",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Domain != knowledge.DomainBilling || result.Chunks != 2 || result.Forced {
		t.Fatalf("unexpected result %+v", result)
	}

	if len(writer.stored) != 2 {
		t.Fatalf("expected 2 stored passages, got %d", len(writer.stored))
	}
	for i, passage := range writer.stored {
		if passage.Domain != knowledge.DomainBilling {
			t.Fatalf("passage %d domain = %q", i, passage.Domain)
		}
		if passage.SourceFile != "billing-invoice-Q4.pdf" {
			t.Fatalf("passage %d source = %q", i, passage.SourceFile)
		}
		if passage.Metadata["document_category"] != "billing" {
			t.Fatalf("passage %d metadata %v", i, passage.Metadata)
		}
		if passage.Metadata["chunk_index"] != i || passage.Metadata["total_chunks"] != 2 {
			t.Fatalf("passage %d chunk metadata %v", i, passage.Metadata)
		}
		if passage.UploadedAt.IsZero() {
			t.Fatalf("passage %d missing upload timestamp", i)
		}
	}
}

func TestIngestForcedDomainSkipsClassifier(t *testing.T) {
	embedder := &fakeEmbedder{passages: []knowledge.Passage{{Text: "x", TotalChunks: 1}}}
	writer := &fakeWriter{}
	pipeline := NewPipeline(embedder, writer, nil)

	// Content that would classify as billing lands in policy when forced.
	result, err := pipeline.Ingest(context.Background(), Request{
		Filename: "invoice-handling.md",
		Content:  "invoice payment terms",
		Domain:   knowledge.DomainPolicy,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Domain != knowledge.DomainPolicy || !result.Forced {
		t.Fatalf("forced domain not honored: %+v", result)
	}
}

func TestIngestRejectsInvalidDocument(t *testing.T) {
	pipeline := NewPipeline(&fakeEmbedder{}, &fakeWriter{}, nil)

	if _, err := pipeline.Ingest(context.Background(), Request{Filename: "malware.exe", Content: "x"}); err == nil {
		t.Fatalf("expected extension rejection")
	}
	if _, err := pipeline.Ingest(context.Background(), Request{Filename: "empty.txt"}); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestIngestEmbedFailurePropagates(t *testing.T) {
	pipeline := NewPipeline(&fakeEmbedder{err: errors.New("embedding api down")}, &fakeWriter{}, nil)

	_, err := pipeline.Ingest(context.Background(), Request{Filename: "doc.txt", Content: "text"})
	if err == nil || !strings.Contains(err.Error(), "embedding api down") {
		t.Fatalf("expected embed error, got %v", err)
	}
}
