package storage

import (
	"context"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"visualMem/config"
	"visualMem/core"
)

// VectorIndex 向量索引后端抽象。批量写入一次提交整批，
// 检索在给定时间窗口内做近邻搜索。
type VectorIndex interface {
	BatchInsert(ctx context.Context, frames []*core.Frame) error
	Search(ctx context.Context, vector []float32, topK int, window core.TimeWindow) ([]core.SearchResult, error)
	Count(ctx context.Context) (int64, error)
}

// NewVectorIndex selects the backend from the STORE environment variable
// (milvus | pgvector | memory). Backend init failures fall back to the
// in-memory store so ingestion keeps working.
func NewVectorIndex(cfg *config.Config, log *slog.Logger) VectorIndex {
	kind := strings.ToLower(strings.TrimSpace(os.Getenv("STORE")))
	switch kind {
	case "milvus":
		s, err := NewMilvusIndex(cfg)
		if err != nil {
			log.Warn("milvus init failed, falling back to memory store", "error", err)
			return NewMemoryIndex()
		}
		return s
	case "pgvector":
		s, err := NewPgVectorIndex(context.Background(), cfg)
		if err != nil {
			log.Warn("pgvector init failed, falling back to memory store", "error", err)
			return NewMemoryIndex()
		}
		return s
	default:
		return NewMemoryIndex()
	}
}

// ========== Memory implementation (kept for fallback) ==========

type memoryDoc struct {
	frame  core.SearchResult
	vector []float32
}

type MemoryIndex struct {
	mu   sync.RWMutex
	docs []memoryDoc
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (s *MemoryIndex) BatchInsert(ctx context.Context, frames []*core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range frames {
		if len(f.Embedding) == 0 {
			continue
		}
		s.docs = append(s.docs, memoryDoc{
			frame: core.SearchResult{
				FrameID:   f.FrameID,
				Timestamp: f.Timestamp,
				ImagePath: f.ImagePath,
				OCRText:   f.OCRText,
				Source:    core.SourceDense,
			},
			vector: f.Embedding,
		})
	}
	return nil
}

func (s *MemoryIndex) Search(ctx context.Context, vector []float32, topK int, window core.TimeWindow) ([]core.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}

	type scored struct {
		res   core.SearchResult
		score float64
	}
	candidates := make([]scored, 0, len(s.docs))
	for _, d := range s.docs {
		if !window.Contains(d.frame.Timestamp) {
			continue
		}
		candidates = append(candidates, scored{res: d.frame, score: cosine(vector, d.vector)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if topK > len(candidates) {
		topK = len(candidates)
	}

	hits := make([]core.SearchResult, 0, topK)
	for _, c := range candidates[:topK] {
		r := c.res
		r.Score = c.score
		hits = append(hits, r)
	}
	return hits, nil
}

func (s *MemoryIndex) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.docs)), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
