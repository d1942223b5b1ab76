package retrieval

import (
	"context"
	"errors"
	"log/slog"

	"visualMem/core"
	"visualMem/storage"
)

// ErrNoResults 稠密+稀疏合并后仍为空
var ErrNoResults = errors.New("no frames matched the query")

// HybridRetriever runs the dense pass over the vector index and, in hybrid
// mode, a sparse full-text pass over the metadata index, then merges.
type HybridRetriever struct {
	encoder     Encoder
	vector      storage.VectorIndex
	meta        storage.MetadataIndex
	defaultTopK int
	log         *slog.Logger
}

// NewHybridRetriever defaultTopK 用于请求未给 top_k 的情况（MAX_IMAGES_TO_LOAD）
func NewHybridRetriever(encoder Encoder, vector storage.VectorIndex, meta storage.MetadataIndex, defaultTopK int, log *slog.Logger) *HybridRetriever {
	if defaultTopK <= 0 {
		defaultTopK = 19
	}
	return &HybridRetriever{encoder: encoder, vector: vector, meta: meta, defaultTopK: defaultTopK, log: log}
}

// Retrieve 对每个查询变体依次做稠密检索（限定时间窗口），hybrid 模式下
// 再做稀疏全文检索（本地窗口裁剪）。合并去重时稠密结果优先。
func (r *HybridRetriever) Retrieve(ctx context.Context, variants []string, window core.TimeWindow, hybrid bool, topK int) ([]core.SearchResult, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	var dense []core.SearchResult
	for _, q := range variants {
		vec, err := r.encoder.EmbedText(ctx, q)
		if err != nil {
			r.log.Warn("query embedding failed, skipping variant", "query", q, "error", err)
			continue
		}
		hits, err := r.vector.Search(ctx, vec, topK, window)
		if err != nil {
			r.log.Warn("vector search failed, skipping variant", "query", q, "error", err)
			continue
		}
		dense = append(dense, hits...)
	}

	var sparse []core.SearchResult
	if hybrid {
		for _, q := range variants {
			hits, err := r.meta.SearchText(ctx, q, topK)
			if err != nil {
				r.log.Warn("text search failed, skipping variant", "query", q, "error", err)
				continue
			}
			// 全文查询不带时间谓词，窗口在此裁剪
			for _, h := range hits {
				if window.Contains(h.Timestamp) {
					sparse = append(sparse, h)
				}
			}
		}
	}

	merged := mergeResults(dense, sparse)
	if len(merged) == 0 {
		return nil, ErrNoResults
	}
	return merged, nil
}

// mergeResults 按 frame_id 去重，稠密结果先进先得
func mergeResults(dense, sparse []core.SearchResult) []core.SearchResult {
	seen := make(map[string]bool, len(dense)+len(sparse))
	merged := make([]core.SearchResult, 0, len(dense)+len(sparse))
	for _, r := range dense {
		if seen[r.FrameID] {
			continue
		}
		seen[r.FrameID] = true
		merged = append(merged, r)
	}
	for _, r := range sparse {
		if seen[r.FrameID] {
			continue
		}
		seen[r.FrameID] = true
		merged = append(merged, r)
	}
	return merged
}
