package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aerodesk/pkg/llm"
)

// ErrNoChunks is returned when a document produces no usable chunks.
var ErrNoChunks = errors.New("document produced no chunks")

const (
	// Character-based chunking: ~100 KB documents split into ~1 KB chunks
	// with enough overlap to keep sentences that straddle a boundary
	// retrievable from either side.
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	maxEmbedBatchSize   = 2048
)

type EmbedderOption func(*Embedder)

type Embedder struct {
	client       llm.EmbeddingClient
	chunkSize    int
	chunkOverlap int
}

func NewEmbedder(client llm.EmbeddingClient, opts ...EmbedderOption) (*Embedder, error) {
	if client == nil {
		return nil, errors.New("embedding client is required")
	}
	embedder := &Embedder{
		client:       client,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(embedder)
	}
	if embedder.chunkSize <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if embedder.chunkOverlap < 0 {
		return nil, errors.New("chunk overlap must be non-negative")
	}
	if embedder.chunkOverlap >= embedder.chunkSize {
		return nil, errors.New("chunk overlap must be less than chunk size")
	}
	return embedder, nil
}

func WithChunkSize(size int) EmbedderOption {
	return func(e *Embedder) {
		e.chunkSize = size
	}
}

func WithChunkOverlap(overlap int) EmbedderOption {
	return func(e *Embedder) {
		e.chunkOverlap = overlap
	}
}

// EmbedDocument chunks a document, embeds every chunk, and returns passages
// ready for the store. Domain assignment and source metadata are the
// ingestion pipeline's job; this fills Text, Index, TotalChunks, Embedding.
func (e *Embedder) EmbedDocument(ctx context.Context, content string) ([]Passage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content is required")
	}
	chunks := e.ChunkContent(content)
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	embedStart := time.Now()
	vectors, err := e.embedBatched(ctx, chunks)
	embedDuration.Observe(time.Since(embedStart).Seconds())
	if err != nil {
		embedCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embed document: %w", err)
	}
	embedCallsTotal.WithLabelValues("success").Inc()
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	passages := make([]Passage, 0, len(chunks))
	for i, text := range chunks {
		passages = append(passages, Passage{
			Text:        text,
			Index:       i,
			TotalChunks: len(chunks),
			Embedding:   vectors[i],
		})
	}
	return passages, nil
}

func (e *Embedder) embedBatched(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) <= maxEmbedBatchSize {
		return e.client.Embed(ctx, chunks)
	}
	var all [][]float32
	for i := 0; i < len(chunks); i += maxEmbedBatchSize {
		end := i + maxEmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := e.client.Embed(ctx, chunks[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i/maxEmbedBatchSize, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}
	vectors, err := e.client.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return vectors[0], nil
}

// ChunkContent splits text recursively: paragraphs first, then sentences,
// then words, packing pieces into chunks up to chunkSize characters with
// chunkOverlap characters carried between adjacent chunks.
func (e *Embedder) ChunkContent(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= e.chunkSize {
		return []string{content}
	}

	pieces := splitRecursive(content, e.chunkSize, [][2]string{
		{"\n\n", "\n\n"},
		{"\n", "\n"},
		{". ", ". "},
		{" ", " "},
	})
	return e.packPieces(pieces)
}

// splitRecursive breaks text on the first separator in the hierarchy that
// produces pieces small enough; oversized pieces recurse on the remaining
// separators. Pieces keep their trailing separator so joins are lossless.
func splitRecursive(text string, limit int, separators [][2]string) []string {
	if len(text) <= limit {
		return []string{text}
	}
	if len(separators) == 0 {
		// No separator left: hard split.
		var out []string
		for len(text) > limit {
			out = append(out, text[:limit])
			text = text[limit:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	sep := separators[0][0]
	keep := separators[0][1]
	parts := strings.Split(text, sep)
	var out []string
	for i, part := range parts {
		if i < len(parts)-1 {
			part += keep
		}
		if part == "" {
			continue
		}
		if len(part) > limit {
			out = append(out, splitRecursive(part, limit, separators[1:])...)
		} else {
			out = append(out, part)
		}
	}
	return out
}

// packPieces greedily packs split pieces into chunks of at most chunkSize
// characters, seeding each new chunk with the tail of the previous one.
func (e *Embedder) packPieces(pieces []string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
	}

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece) > e.chunkSize {
			prev := current.String()
			flush()
			overlap := tailChars(prev, e.chunkOverlap)
			if overlap != "" && len(overlap)+len(piece) <= e.chunkSize {
				current.WriteString(overlap)
			}
		}
		current.WriteString(piece)
	}
	flush()
	return chunks
}

// tailChars returns the last n characters of text, snapped forward to the
// next word boundary so the overlap never starts mid-word.
func tailChars(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		tail = tail[idx+1:]
	}
	return tail
}
