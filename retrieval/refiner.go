package retrieval

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"visualMem/core"
	"visualMem/storage"
)

// ErrRerankUnavailable 请求要求重排但重排服务未配置
var ErrRerankUnavailable = errors.New("rerank requested but no rerank service is configured")

// LoadedFrame 已从磁盘载入像素的检索结果
type LoadedFrame struct {
	core.SearchResult
	Image image.Image
}

// Refiner 结果精炼：载入帧图片、可选重排、截断到 top-K
type Refiner struct {
	images   *storage.ImageStore
	reranker Reranker
	topK     int
	maxLoad  int
	log      *slog.Logger
}

func NewRefiner(images *storage.ImageStore, reranker Reranker, topK, maxLoad int, log *slog.Logger) *Refiner {
	if topK <= 0 {
		topK = 10
	}
	if maxLoad <= 0 {
		maxLoad = 19
	}
	return &Refiner{images: images, reranker: reranker, topK: topK, maxLoad: maxLoad, log: log}
}

// Refine loads candidate images from disk, drops the ones that fail to
// load, optionally reranks, and truncates. Rerank failure is not fatal:
// merge order stands in for relevance order.
func (r *Refiner) Refine(ctx context.Context, query string, candidates []core.SearchResult, rerank bool) ([]LoadedFrame, error) {
	if rerank && r.reranker == nil {
		return nil, ErrRerankUnavailable
	}

	loaded := make([]LoadedFrame, 0, len(candidates))
	for _, c := range candidates {
		if len(loaded) >= r.maxLoad {
			break
		}
		img, err := r.images.Load(c.ImagePath)
		if err != nil {
			r.log.Warn("failed to load frame image, skipping", "frame_id", c.FrameID, "path", c.ImagePath, "error", err)
			continue
		}
		loaded = append(loaded, LoadedFrame{SearchResult: c, Image: img})
	}
	if len(loaded) == 0 {
		return nil, ErrNoResults
	}

	if rerank {
		ordered, err := r.reranker.Rerank(ctx, query, loaded)
		if err != nil {
			r.log.Warn("rerank failed, keeping merge order", "error", err)
		} else {
			loaded = ordered
		}
	}

	if len(loaded) > r.topK {
		loaded = loaded[:r.topK]
	}
	return loaded, nil
}
