package knowledge

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureEmbeddingDimensions checks whether the embedding vector column matches
// the target dimension count. When they differ it truncates stale data, alters
// the column type, and rebuilds the HNSW index.
// Returns true when a migration was performed.
func EnsureEmbeddingDimensions(ctx context.Context, db *sql.DB, target int) (bool, error) {
	if target <= 0 {
		return false, fmt.Errorf("invalid embedding dimensions: %d", target)
	}

	// pgvector stores the dimension count in atttypmod for vector(N) columns.
	var current int
	err := db.QueryRowContext(ctx, `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = 'desk.desk_documents'::regclass
		  AND attname = 'embedding'
	`).Scan(&current)
	if err != nil {
		return false, fmt.Errorf("query current embedding dimensions: %w", err)
	}

	if current == target {
		return false, nil
	}

	// Dimensions changed: old embeddings came from a different model and
	// cannot be meaningfully searched, so truncate before altering.
	stmts := []string{
		`DROP INDEX IF EXISTS desk.desk_documents_embedding_idx`,
		`TRUNCATE desk.desk_documents`,
		fmt.Sprintf(`ALTER TABLE desk.desk_documents ALTER COLUMN embedding TYPE vector(%d)`, target),
		`CREATE INDEX desk_documents_embedding_idx ON desk.desk_documents USING hnsw (embedding vector_cosine_ops) WITH (m = 24, ef_construction = 256)`,
	}
	for _, stmt := range stmts {
		if _, execErr := db.ExecContext(ctx, stmt); execErr != nil {
			return false, fmt.Errorf("migrate embedding dimensions (%d to %d): %w", current, target, execErr)
		}
	}

	return true, nil
}
