package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Passage is one stored chunk of a knowledge document, with source
// attribution carried through to retrieval formatting.
type Passage struct {
	ID          string
	Domain      Domain
	SourceFile  string
	UploadedAt  time.Time
	Text        string
	Index       int
	TotalChunks int
	Embedding   []float32
	Metadata    map[string]any
	Similarity  float64
}

// CollectionSummary describes one domain's knowledge base.
type CollectionSummary struct {
	Domain       Domain     `json:"domain"`
	ChunkCount   int        `json:"chunk_count"`
	SourceCount  int        `json:"source_count"`
	LastUploadAt *time.Time `json:"last_upload_at,omitempty"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Search runs a cosine-distance similarity search within one domain.
func (s *Store) Search(ctx context.Context, domain Domain, embedding []float32, limit int) ([]Passage, error) {
	if !domain.Valid() {
		return nil, fmt.Errorf("invalid domain %q", domain)
	}
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if limit <= 0 {
		limit = domain.DefaultK()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			domain,
			source_file,
			upload_timestamp,
			chunk_text,
			chunk_index,
			total_chunks,
			metadata,
			1 - (embedding <=> $2) AS similarity
		FROM desk.desk_documents
		WHERE domain = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, string(domain), pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search %s knowledge: %w", domain, err)
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var p Passage
		var metadataBytes []byte
		if err := rows.Scan(
			&p.ID,
			&p.Domain,
			&p.SourceFile,
			&p.UploadedAt,
			&p.Text,
			&p.Index,
			&p.TotalChunks,
			&metadataBytes,
			&p.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		if len(metadataBytes) > 0 {
			if err := json.Unmarshal(metadataBytes, &p.Metadata); err != nil {
				return nil, fmt.Errorf("decode passage metadata: %w", err)
			}
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passages: %w", err)
	}

	return passages, nil
}

// Upsert replaces all stored chunks for each (domain, source file) pair
// covered by the batch, then inserts the new chunks in one transaction.
func (s *Store) Upsert(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}

	bySource := make(map[string]Domain)
	for _, p := range passages {
		if !p.Domain.Valid() {
			return fmt.Errorf("invalid domain %q for chunk of %q", p.Domain, p.SourceFile)
		}
		if p.SourceFile == "" {
			return errors.New("source file is required for chunk")
		}
		bySource[p.SourceFile] = p.Domain
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for sourceFile, domain := range bySource {
		if _, execErr := tx.ExecContext(ctx, `
			DELETE FROM desk.desk_documents
			WHERE domain = $1 AND source_file = $2
		`, string(domain), sourceFile); execErr != nil {
			return fmt.Errorf("delete existing chunks: %w", execErr)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO desk.desk_documents (
			domain,
			source_file,
			upload_timestamp,
			chunk_text,
			chunk_index,
			total_chunks,
			embedding,
			metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		metadataBytes, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("encode passage metadata: %w", err)
		}
		uploadedAt := p.UploadedAt
		if uploadedAt.IsZero() {
			uploadedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(
			ctx,
			string(p.Domain),
			p.SourceFile,
			uploadedAt,
			p.Text,
			p.Index,
			p.TotalChunks,
			pgvector.NewVector(p.Embedding),
			metadataBytes,
		); err != nil {
			return fmt.Errorf("insert passage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (s *Store) DeleteBySource(ctx context.Context, domain Domain, sourceFile string) error {
	if !domain.Valid() {
		return fmt.Errorf("invalid domain %q", domain)
	}
	if sourceFile == "" {
		return errors.New("source file is required")
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM desk.desk_documents
		WHERE domain = $1 AND source_file = $2
	`, string(domain), sourceFile); err != nil {
		return fmt.Errorf("delete by source: %w", err)
	}
	return nil
}

// ListCollections reports chunk and source counts per domain. Domains with
// nothing ingested yet still appear, with zero counts.
func (s *Store) ListCollections(ctx context.Context) ([]CollectionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain,
			COUNT(*) AS chunk_count,
			COUNT(DISTINCT source_file) AS source_count,
			MAX(upload_timestamp) AS last_upload_at
		FROM desk.desk_documents
		GROUP BY domain
	`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	byDomain := make(map[Domain]CollectionSummary, 3)
	for rows.Next() {
		var summary CollectionSummary
		var lastUpload sql.NullTime
		if err := rows.Scan(&summary.Domain, &summary.ChunkCount, &summary.SourceCount, &lastUpload); err != nil {
			return nil, fmt.Errorf("scan collection summary: %w", err)
		}
		if lastUpload.Valid {
			t := lastUpload.Time
			summary.LastUploadAt = &t
		}
		byDomain[summary.Domain] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}

	summaries := make([]CollectionSummary, 0, 3)
	for _, domain := range AllDomains() {
		summary, ok := byDomain[domain]
		if !ok {
			summary = CollectionSummary{Domain: domain}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
