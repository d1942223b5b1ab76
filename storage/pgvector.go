package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"visualMem/config"
	"visualMem/core"
)

// PgVectorIndex 备选向量索引后端：pgvector + ivfflat。
// 批量写入用 pgx.Batch 一次往返提交整批。
type PgVectorIndex struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPgVectorIndex(ctx context.Context, cfg *config.Config) (*PgVectorIndex, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgVectorIndex{pool: pool, dim: cfg.EmbeddingDim}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgVectorIndex) ensureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS frame_vectors (
			id SERIAL PRIMARY KEY,
			frame_id VARCHAR(64) UNIQUE NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			image_path VARCHAR(1024),
			ocr_text TEXT,
			embedding vector(%d),
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
	`, s.dim)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create frame_vectors table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_frame_vectors_ts ON frame_vectors(ts);",
		`CREATE INDEX IF NOT EXISTS idx_frame_vectors_embedding ON frame_vectors
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);`,
	}
	for _, q := range indexes {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *PgVectorIndex) BatchInsert(ctx context.Context, frames []*core.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range frames {
		batch.Queue(`
			INSERT INTO frame_vectors (frame_id, ts, image_path, ocr_text, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (frame_id) DO UPDATE SET
				image_path = EXCLUDED.image_path,
				ocr_text = EXCLUDED.ocr_text,
				embedding = EXCLUDED.embedding
		`, f.FrameID, f.Timestamp, f.ImagePath, f.OCRText, pgvector.NewVector(f.Embedding))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range frames {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("pgvector batch insert: %w", err)
		}
	}
	return nil
}

func (s *PgVectorIndex) Search(ctx context.Context, vector []float32, topK int, window core.TimeWindow) ([]core.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	var start, end *time.Time
	if window.Start != nil {
		start = window.Start
	}
	if window.End != nil {
		end = window.End
	}

	rows, err := s.pool.Query(ctx, `
		SELECT frame_id, ts, COALESCE(image_path, ''), COALESCE(ocr_text, ''),
			   1 - (embedding <=> $1) AS similarity
		FROM frame_vectors
		WHERE ($2::timestamptz IS NULL OR ts >= $2)
		  AND ($3::timestamptz IS NULL OR ts <= $3)
		ORDER BY embedding <=> $1
		LIMIT $4
	`, pgvector.NewVector(vector), start, end, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var hits []core.SearchResult
	for rows.Next() {
		var r core.SearchResult
		if err := rows.Scan(&r.FrameID, &r.Timestamp, &r.ImagePath, &r.OCRText, &r.Score); err != nil {
			continue
		}
		r.Source = core.SourceDense
		hits = append(hits, r)
	}
	return hits, rows.Err()
}

func (s *PgVectorIndex) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM frame_vectors").Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector count: %w", err)
	}
	return n, nil
}

// Close 释放连接池
func (s *PgVectorIndex) Close() {
	s.pool.Close()
}
