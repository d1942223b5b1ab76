package core

import (
	"image"
	"time"
)

// ========== 基础数据结构 ==========

// RawFrame 采集器产出的原始帧（还没有 frame_id）
type RawFrame struct {
	Image     image.Image
	Timestamp time.Time
	Metadata  map[string]any
}

// Frame is one captured screen image with its derived fields. The image is
// owned by the frame until it is durably written or dropped.
type Frame struct {
	FrameID   string
	Timestamp time.Time
	Image     image.Image
	ImagePath string
	Embedding []float32

	// OCR 字段由 OCR worker 异步回填，入库时为 pending 占位
	OCRText       string
	OCRTextJSON   string
	OCREngine     string
	OCRConfidence float64

	Metadata map[string]any
}

// ResultSource 标记检索结果来源
type ResultSource string

const (
	SourceDense  ResultSource = "dense"
	SourceSparse ResultSource = "sparse"
)

// SearchResult 单条检索命中
type SearchResult struct {
	FrameID   string       `json:"frame_id"`
	Timestamp time.Time    `json:"timestamp"`
	ImagePath string       `json:"image_path"`
	OCRText   string       `json:"ocr_text"`
	Score     float64      `json:"score"`
	Source    ResultSource `json:"source"`
}

// FrameMeta 浏览接口返回的帧摘要
type FrameMeta struct {
	FrameID   string `json:"frame_id"`
	Timestamp string `json:"timestamp"`
	ImagePath string `json:"image_path"`
	OCRText   string `json:"ocr_text"`
}

// PendingOCREngine 是 OCR 尚未完成时的占位值
const PendingOCREngine = "pending"
