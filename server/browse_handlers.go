package server

import (
	"net/http"
	"strconv"
	"time"

	"visualMem/core"
)

// handleFramesInRange POST {start_time, end_time} → 窗口内全部帧
func (s *Server) handleFramesInRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	}
	if err := decodeJSON(r, &req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.StartTime == "" || req.EndTime == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "start_time and end_time are required"})
		return
	}

	start, err := parseTime(req.StartTime)
	if err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start_time: " + err.Error()})
		return
	}
	end, err := parseTime(req.EndTime)
	if err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end_time: " + err.Error()})
		return
	}
	if start.After(end) {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "start_time is after end_time"})
		return
	}

	frames, err := s.meta.FramesInRange(r.Context(), start, end)
	if err != nil {
		s.log.Error("frames in range failed", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(frames), "frames": frames})
}

// handleFramesByDate POST {date, offset, limit} → 分页浏览某天的帧
func (s *Server) handleFramesByDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Date   string `json:"date"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if !validDate(req.Date) {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}

	frames, err := s.meta.FramesByDate(r.Context(), req.Date, req.Offset, req.Limit)
	if err != nil {
		s.log.Error("frames by date failed", "date", req.Date, "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(frames), "frames": frames})
}

// handleCountByDate POST {date} → 某天的帧总数（分页用）
func (s *Server) handleCountByDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Date string `json:"date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if !validDate(req.Date) {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}

	n, err := s.meta.CountByDate(r.Context(), req.Date)
	if err != nil {
		s.log.Error("count by date failed", "date", req.Date, "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "date": req.Date, "count": n})
}

// handleRecentFrames GET ?minutes=N（默认 5）→ 最近 N 分钟的帧
func (s *Server) handleRecentFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	minutes := 5
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "minutes must be a positive integer"})
			return
		}
		minutes = n
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(minutes) * time.Minute)
	frames, err := s.meta.FramesInRange(r.Context(), start, end)
	if err != nil {
		s.log.Error("recent frames failed", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"minutes": minutes,
		"count":   len(frames),
		"frames":  frames,
	})
}

// handleDateRange GET → 有帧数据的最早/最晚日期
func (s *Server) handleDateRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	earliest, latest, err := s.meta.DateRange(r.Context())
	if err != nil {
		s.log.Error("date range failed", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"earliest": earliest,
		"latest":   latest,
	})
}

// handleImage GET ?path= → 返回帧图片文件（路径必须在图片根目录内）
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}
	resolved, err := s.images.Resolve(path)
	if err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	http.ServeFile(w, r, resolved)
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
