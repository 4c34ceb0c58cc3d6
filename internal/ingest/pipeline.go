package ingest

import (
	"context"
	"fmt"
	"time"

	"aerodesk/internal/knowledge"
	"aerodesk/pkg/logging"
)

// DocumentEmbedder chunks and embeds one document.
type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, content string) ([]knowledge.Passage, error)
}

// PassageWriter persists embedded passages, replacing any previous chunks of
// the same (domain, source file) pair.
type PassageWriter interface {
	Upsert(ctx context.Context, passages []knowledge.Passage) error
}

// Request is one document upload. Domain, when set, forces the target
// collection; otherwise the classifier assigns it.
type Request struct {
	Filename string
	Content  string
	Domain   knowledge.Domain
}

// Result reports where a document landed.
type Result struct {
	Domain     knowledge.Domain `json:"domain"`
	SourceFile string           `json:"source_file"`
	Chunks     int              `json:"chunks"`
	Forced     bool             `json:"forced_domain,omitempty"`
}

// Pipeline is the document ingestion path: validate, classify, chunk, embed,
// enrich metadata, store. Domain assignment happens exactly once, here.
type Pipeline struct {
	Embedder DocumentEmbedder
	Store    PassageWriter
	Logger   logging.Logger
}

func NewPipeline(embedder DocumentEmbedder, store PassageWriter, logger logging.Logger) *Pipeline {
	return &Pipeline{Embedder: embedder, Store: store, Logger: logger}
}

func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	if err := ValidateDocument(req.Filename, len(req.Content)); err != nil {
		return Result{}, err
	}

	domain := req.Domain
	forced := domain.Valid()
	if !forced {
		var scores knowledge.DomainScores
		domain, scores = knowledge.ClassifyWithScores(req.Content, req.Filename)
		if p.Logger != nil {
			p.Logger.WithFields(logging.Fields{
				"source_file": req.Filename,
				"domain":      string(domain),
				"billing":     scores.Billing,
				"technical":   scores.Technical,
				"policy":      scores.Policy,
			}).Info("Classified document")
		}
	}
	knowledge.ObserveClassification(domain)

	passages, err := p.Embedder.EmbedDocument(ctx, req.Content)
	if err != nil {
		return Result{}, fmt.Errorf("embed %s: %w", req.Filename, err)
	}

	uploadedAt := time.Now().UTC()
	for i := range passages {
		passages[i].Domain = domain
		passages[i].SourceFile = req.Filename
		passages[i].UploadedAt = uploadedAt
		passages[i].Metadata = map[string]any{
			"source_file":       req.Filename,
			"upload_timestamp":  uploadedAt.Format(time.RFC3339),
			"document_category": string(domain),
			"chunk_index":       passages[i].Index,
			"total_chunks":      passages[i].TotalChunks,
		}
	}

	if err := p.Store.Upsert(ctx, passages); err != nil {
		return Result{}, fmt.Errorf("store %s: %w", req.Filename, err)
	}

	return Result{
		Domain:     domain,
		SourceFile: req.Filename,
		Chunks:     len(passages),
		Forced:     forced,
	}, nil
}
