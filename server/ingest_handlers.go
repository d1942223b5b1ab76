package server

import (
	"bytes"
	"encoding/base64"
	"image"
	"net/http"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"visualMem/core"
)

type storeFrameRequest struct {
	FrameID   string         `json:"frame_id"`
	Timestamp string         `json:"timestamp"`
	Image     string         `json:"image"`
	Metadata  map[string]any `json:"metadata"`
}

// handleStoreFrame 外部推帧入口：走与采集循环相同的入库管线
func (s *Server) handleStoreFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req storeFrameRequest
	if err := decodeJSON(r, &req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Image == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "image is required"})
		return
	}

	// 时间优先级：timestamp 字段 > frame_id 内嵌时间 > 服务器当前时间。
	// ID 由时间戳确定性生成，客户端给的 frame_id 无冲突时原样复现。
	ts := time.Now().UTC()
	switch {
	case req.Timestamp != "":
		parsed, err := parseTime(req.Timestamp)
		if err != nil {
			core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid timestamp: " + err.Error()})
			return
		}
		ts = parsed
	case req.FrameID != "":
		parsed, err := core.ParseFrameID(req.FrameID)
		if err != nil {
			core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "frame_id is not a timestamp-derived id"})
			return
		}
		ts = parsed
	}

	raw, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "image is not valid base64"})
		return
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot decode image: " + err.Error()})
		return
	}

	frame, err := s.ingestor.Ingest(r.Context(), &core.RawFrame{Image: img, Timestamp: ts, Metadata: req.Metadata})
	if err != nil {
		s.log.Error("store_frame ingest failed", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store frame: " + err.Error()})
		return
	}

	core.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"frame_id":   frame.FrameID,
		"image_path": frame.ImagePath,
		"timestamp":  frame.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// handleStopRecording 停止采集并把缓冲区同步刷盘
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if s.stopRecording != nil {
		s.stopRecording()
	}
	pending := s.buffer.Len()
	s.buffer.Flush()
	s.log.Info("recording stopped, buffer flushed", "flushed", pending)

	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"flushed": pending,
	})
}
