package server

import (
	"net/http"
	"time"

	"visualMem/core"
)

// handleStats GET → 帧计数、OCR 进度、缓冲/队列深度、磁盘占用
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	meta, err := s.meta.Stats(r.Context())
	if err != nil {
		s.log.Error("meta stats failed", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	vectorCount, err := s.vector.Count(r.Context())
	if err != nil {
		s.log.Warn("vector count failed", "error", err)
		vectorCount = -1
	}

	queueDepth := 0
	if s.queueDepth != nil {
		queueDepth = s.queueDepth()
	}

	diskBytes := core.DirSize(s.images.Root())
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"total_frames":    meta.TotalFrames,
		"ocr_frames":      meta.OCRFrames,
		"vector_count":    vectorCount,
		"buffer_pending":  s.buffer.Len(),
		"ocr_queue_depth": queueDepth,
		"disk_usage":      core.FormatSize(diskBytes),
		"disk_bytes":      diskBytes,
		"config": map[string]any{
			"capture_interval_seconds": s.cfg.CaptureIntervalSeconds,
			"diff_threshold":           s.cfg.DiffThreshold,
			"batch_size":               s.cfg.BatchSize,
			"flush_interval_seconds":   s.cfg.FlushIntervalSeconds,
			"enable_ocr":               s.cfg.EnableOCR,
			"enable_hybrid":            s.cfg.EnableHybrid,
			"enable_rerank":            s.cfg.EnableRerank,
		},
	})
}

// handleHealth 存活探针
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
