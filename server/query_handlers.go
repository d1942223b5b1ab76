package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"visualMem/core"
	"visualMem/retrieval"
)

type queryRequest struct {
	Query        string `json:"query"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	TopK         int    `json:"top_k"`
	SearchType   string `json:"search_type"`
	EnableHybrid *bool  `json:"enable_hybrid"`
	EnableRerank *bool  `json:"enable_rerank"`
}

type queryResultItem struct {
	FrameID   string  `json:"frame_id"`
	Timestamp string  `json:"timestamp"`
	ImagePath string  `json:"image_path"`
	OCRText   string  `json:"ocr_text"`
	Score     float64 `json:"score"`
	Source    string  `json:"source"`
}

// handleQueryRAG 带时间窗口的 RAG 问答：
// 查询改写 → 窗口融合 → 混合检索 → 精炼 → VLM 生成答案
func (s *Server) handleQueryRAG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Query == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if req.SearchType != "" && req.SearchType != "image" && req.SearchType != "text" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "search_type must be image or text"})
		return
	}

	explicit, err := parseWindow(req.StartTime, req.EndTime)
	if err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	reqID := uuid.NewString()
	started := time.Now()
	log := s.log.With("request_id", reqID)
	log.Info("rag query received", "query", req.Query, "search_type", req.SearchType)

	// 查询改写失败可容忍：退回原始查询，无推断窗口
	variants := []string{req.Query}
	var inferred core.TimeWindow
	if s.rewriter != nil {
		rw, err := s.rewriter.Rewrite(r.Context(), req.Query, time.Now())
		if err != nil {
			log.Warn("query rewrite failed, using original query", "error", err)
		} else {
			variants = rw.Queries
			inferred = rw.Window
		}
	}
	window := retrieval.ResolveWindow(explicit, inferred)

	hybrid := s.cfg.EnableHybrid
	if req.EnableHybrid != nil {
		hybrid = *req.EnableHybrid
	}
	// 文本检索模式强制启用稀疏通道
	if req.SearchType == "text" {
		hybrid = true
	}
	results, err := s.retriever.Retrieve(r.Context(), variants, window, hybrid, req.TopK)
	if err != nil {
		if errors.Is(err, retrieval.ErrNoResults) {
			log.Info("rag query matched nothing", "elapsed", time.Since(started))
			core.WriteJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"answer":  "",
				"message": "no frames matched the query in the requested time range",
				"frames":  []queryResultItem{},
			})
			return
		}
		log.Error("retrieval failed", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "retrieval failed: " + err.Error()})
		return
	}

	useRerank := s.cfg.EnableRerank
	if req.EnableRerank != nil {
		useRerank = *req.EnableRerank
	}
	frames, err := s.refiner.Refine(r.Context(), req.Query, results, useRerank)
	if err != nil {
		if errors.Is(err, retrieval.ErrRerankUnavailable) {
			log.Error("rerank requested without service")
			core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "rerank is enabled but RERANK_URL is not configured"})
			return
		}
		if errors.Is(err, retrieval.ErrNoResults) {
			core.WriteJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"answer":  "",
				"message": "matched frames could not be loaded from storage",
				"frames":  []queryResultItem{},
			})
			return
		}
		log.Error("refine failed", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "refine failed: " + err.Error()})
		return
	}

	answer, err := s.answerer.Answer(r.Context(), req.Query, frames)
	if err != nil {
		log.Error("answer synthesis failed", "error", err)
		core.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "answer synthesis failed: " + err.Error()})
		return
	}

	items := make([]queryResultItem, 0, len(frames))
	for _, f := range frames {
		items = append(items, queryResultItem{
			FrameID:   f.FrameID,
			Timestamp: f.Timestamp.UTC().Format(time.RFC3339Nano),
			ImagePath: f.ImagePath,
			OCRText:   f.OCRText,
			Score:     f.Score,
			Source:    string(f.Source),
		})
	}

	log.Info("rag query answered",
		"variants", len(variants),
		"candidates", len(results),
		"frames", len(frames),
		"elapsed", time.Since(started))

	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"answer":  answer,
		"frames":  items,
	})
}

// ========== 请求解析辅助 ==========

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}

func parseWindow(start, end string) (core.TimeWindow, error) {
	var w core.TimeWindow
	if start != "" {
		t, err := parseTime(start)
		if err != nil {
			return w, fmt.Errorf("invalid start_time: %w", err)
		}
		w.Start = &t
	}
	if end != "" {
		t, err := parseTime(end)
		if err != nil {
			return w, fmt.Errorf("invalid end_time: %w", err)
		}
		w.End = &t
	}
	if w.Inverted() {
		return w, fmt.Errorf("start_time is after end_time")
	}
	return w, nil
}
