package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"visualMem/config"
	"visualMem/core"
	"visualMem/ocr"
)

// MetaStats /api/stats 用的聚合计数
type MetaStats struct {
	TotalFrames int64
	OCRFrames   int64
}

// MetadataIndex 二级索引：帧元数据 + OCR 全文检索。
// 写入逐行进行，单行失败不影响同批其他行。
type MetadataIndex interface {
	InsertFrame(ctx context.Context, frame *core.Frame) error
	WriteOCR(ctx context.Context, frameID string, ts time.Time, res ocr.Result) error
	SearchText(ctx context.Context, query string, limit int) ([]core.SearchResult, error)
	FramesInRange(ctx context.Context, start, end time.Time) ([]core.FrameMeta, error)
	FramesByDate(ctx context.Context, date string, offset, limit int) ([]core.FrameMeta, error)
	CountByDate(ctx context.Context, date string) (int, error)
	DateRange(ctx context.Context) (earliest, latest string, err error)
	Stats(ctx context.Context) (MetaStats, error)
}

// PostgresMeta pgx 实现。全文检索走 tsvector 生成列 + GIN 索引，
// 时间过滤由调用方在窗口裁剪（全文查询本身不带时间谓词）。
type PostgresMeta struct {
	pool *pgxpool.Pool
}

func NewPostgresMeta(ctx context.Context, cfg *config.Config) (*PostgresMeta, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresMeta{pool: pool}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresMeta) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS frames (
			frame_id VARCHAR(64) PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			image_path VARCHAR(1024) NOT NULL DEFAULT '',
			ocr_text TEXT NOT NULL DEFAULT '',
			ocr_text_json TEXT NOT NULL DEFAULT '',
			ocr_engine VARCHAR(64) NOT NULL DEFAULT 'pending',
			ocr_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			device_name VARCHAR(128) NOT NULL DEFAULT 'default',
			metadata JSONB,
			ocr_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', coalesce(ocr_text, ''))) STORED,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create frames table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_frames_ts ON frames(ts);",
		"CREATE INDEX IF NOT EXISTS idx_frames_ocr_tsv ON frames USING GIN (ocr_tsv);",
	}
	for _, q := range indexes {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *PostgresMeta) InsertFrame(ctx context.Context, frame *core.Frame) error {
	meta, err := json.Marshal(frame.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO frames (frame_id, ts, image_path, ocr_text, ocr_text_json, ocr_engine, ocr_confidence, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (frame_id) DO UPDATE SET
			image_path = EXCLUDED.image_path,
			metadata = EXCLUDED.metadata
	`, frame.FrameID, frame.Timestamp, frame.ImagePath, frame.OCRText,
		frame.OCRTextJSON, frame.OCREngine, frame.OCRConfidence, meta)
	if err != nil {
		return fmt.Errorf("insert frame %s: %w", frame.FrameID, err)
	}
	return nil
}

// WriteOCR 回填异步 OCR 结果（实现 ocr.ResultSink）。
// OCR 可能在帧元数据行刷盘之前完成，所以这里是 upsert：
// 行不存在就先落 OCR 字段，之后 InsertFrame 的冲突分支补齐其余列。
func (s *PostgresMeta) WriteOCR(ctx context.Context, frameID string, ts time.Time, res ocr.Result) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO frames (frame_id, ts, ocr_text, ocr_text_json, ocr_engine, ocr_confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (frame_id) DO UPDATE SET
			ocr_text = EXCLUDED.ocr_text,
			ocr_text_json = EXCLUDED.ocr_text_json,
			ocr_engine = EXCLUDED.ocr_engine,
			ocr_confidence = EXCLUDED.ocr_confidence
	`, frameID, ts, res.Text, res.TextJSON, res.Engine, res.Confidence)
	if err != nil {
		return fmt.Errorf("write ocr for frame %s: %w", frameID, err)
	}
	return nil
}

// SearchText 稀疏检索。命中分数固定为 1.0，合并时排在稠密结果之后。
func (s *PostgresMeta) SearchText(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT frame_id, ts, image_path, ocr_text
		FROM frames
		WHERE ocr_tsv @@ websearch_to_tsquery('simple', $1)
		ORDER BY ts DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()

	var hits []core.SearchResult
	for rows.Next() {
		var r core.SearchResult
		if err := rows.Scan(&r.FrameID, &r.Timestamp, &r.ImagePath, &r.OCRText); err != nil {
			continue
		}
		r.Score = 1.0
		r.Source = core.SourceSparse
		hits = append(hits, r)
	}
	return hits, rows.Err()
}

func (s *PostgresMeta) FramesInRange(ctx context.Context, start, end time.Time) ([]core.FrameMeta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT frame_id, ts, image_path, ocr_text
		FROM frames
		WHERE ts >= $1 AND ts <= $2 AND image_path <> ''
		ORDER BY ts ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("frames in range: %w", err)
	}
	defer rows.Close()
	return scanFrameMetas(rows)
}

func (s *PostgresMeta) FramesByDate(ctx context.Context, date string, offset, limit int) ([]core.FrameMeta, error) {
	// limit 限制在 1-200，offset 非负
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT frame_id, ts, image_path, ocr_text
		FROM frames
		WHERE ts >= $1::date AND ts < ($1::date + INTERVAL '1 day') AND image_path <> ''
		ORDER BY ts ASC
		LIMIT $2 OFFSET $3
	`, date, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("frames by date: %w", err)
	}
	defer rows.Close()
	return scanFrameMetas(rows)
}

func (s *PostgresMeta) CountByDate(ctx context.Context, date string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM frames
		WHERE ts >= $1::date AND ts < ($1::date + INTERVAL '1 day') AND image_path <> ''
	`, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by date: %w", err)
	}
	return n, nil
}

func (s *PostgresMeta) DateRange(ctx context.Context) (string, string, error) {
	var earliest, latest *time.Time
	err := s.pool.QueryRow(ctx, "SELECT MIN(ts), MAX(ts) FROM frames").Scan(&earliest, &latest)
	if err != nil {
		return "", "", fmt.Errorf("date range: %w", err)
	}
	if earliest == nil || latest == nil {
		return "", "", nil
	}
	return earliest.UTC().Format("2006-01-02"), latest.UTC().Format("2006-01-02"), nil
}

func (s *PostgresMeta) Stats(ctx context.Context) (MetaStats, error) {
	var stats MetaStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE ocr_engine <> 'pending' AND ocr_text <> '')
		FROM frames
	`).Scan(&stats.TotalFrames, &stats.OCRFrames)
	if err != nil {
		return stats, fmt.Errorf("meta stats: %w", err)
	}
	return stats, nil
}

// Close 释放连接池
func (s *PostgresMeta) Close() {
	s.pool.Close()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanFrameMetas(rows rowScanner) ([]core.FrameMeta, error) {
	var out []core.FrameMeta
	for rows.Next() {
		var frameID, path, text string
		var ts time.Time
		if err := rows.Scan(&frameID, &ts, &path, &text); err != nil {
			continue
		}
		out = append(out, core.FrameMeta{
			FrameID:   frameID,
			Timestamp: ts.UTC().Format(time.RFC3339Nano),
			ImagePath: path,
			OCRText:   text,
		})
	}
	return out, rows.Err()
}
