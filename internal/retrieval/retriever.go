// Package retrieval implements category-scoped vector search and the
// retrieval-augmented context assembly in front of generation.
package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Chunk is one scored fragment returned by the vector store.
type Chunk struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	ChunkIndex   int     `json:"chunk_index"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// Retriever queries a category-scoped nearest-neighbor index.
type Retriever interface {
	Query(ctx context.Context, categoryID string, vector []float32, topK int) ([]Chunk, error)
	DeleteCollection(ctx context.Context, categoryID string) error
}

// PGStore is the pgvector-backed Retriever. Chunks live in one table keyed
// by category; cosine distance drives the ordering.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("vector store connect: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func NewPGStoreWithPool(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Query(ctx context.Context, categoryID string, vector []float32, topK int) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, document_id, document_name, page_number, chunk_index, content,
		       1 - (embedding <=> $1) AS score
		FROM chunks
		WHERE category_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(vector), categoryID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("vector query category %s: %w", categoryID, err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.DocumentName, &c.PageNumber, &c.ChunkIndex, &c.Text, &c.Score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) DeleteCollection(ctx context.Context, categoryID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE category_id = $1`, categoryID); err != nil {
		return fmt.Errorf("delete collection %s: %w", categoryID, err)
	}
	return nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}
