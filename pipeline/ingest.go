package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"visualMem/core"
	"visualMem/ocr"
	"visualMem/retrieval"
	"visualMem/storage"
)

// Ingestor 入库管线：帧 ID 分配 → 图片落盘 → 图像编码 → 批量缓冲 →
// 异步 OCR 投递。实现 capture.Sink。
type Ingestor struct {
	images     *storage.ImageStore
	encoder    retrieval.Encoder
	buffer     *storage.BatchWriteBuffer
	dispatcher *ocr.Dispatcher
	log        *slog.Logger
}

// NewIngestor dispatcher 为 nil 时跳过 OCR 投递
func NewIngestor(images *storage.ImageStore, encoder retrieval.Encoder, buffer *storage.BatchWriteBuffer, dispatcher *ocr.Dispatcher, log *slog.Logger) *Ingestor {
	return &Ingestor{
		images:     images,
		encoder:    encoder,
		buffer:     buffer,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Ingest persists one raw frame. The frame enters the write buffer before
// the OCR task is submitted, so an OCR result can never land ahead of the
// row it updates being queued for durability.
func (g *Ingestor) Ingest(ctx context.Context, raw *core.RawFrame) (*core.Frame, error) {
	frameID, ts, err := core.AllocateFrameID(raw.Timestamp, g.images.Exists)
	if err != nil {
		return nil, fmt.Errorf("allocate frame id: %w", err)
	}

	path, err := g.images.Save(frameID, raw.Image)
	if err != nil {
		return nil, fmt.Errorf("save frame %s: %w", frameID, err)
	}

	embedding, err := g.encoder.EmbedImage(ctx, raw.Image)
	if err != nil {
		return nil, fmt.Errorf("embed frame %s: %w", frameID, err)
	}

	// metadata 必须在入缓冲前就位：Add 可能同步触发刷盘
	frame := &core.Frame{
		FrameID:   frameID,
		Timestamp: ts,
		Image:     raw.Image,
		ImagePath: path,
		Embedding: embedding,
		OCREngine: core.PendingOCREngine,
		Metadata:  raw.Metadata,
	}

	g.buffer.Add(frame)
	g.log.Debug("frame ingested", "frame_id", frameID, "path", path)

	if g.dispatcher != nil {
		if !g.dispatcher.Submit(ocr.Task{FrameID: frameID, Timestamp: ts, Image: raw.Image}) {
			g.log.Warn("OCR queue full, frame skipped for OCR", "frame_id", frameID)
		}
	}
	return frame, nil
}
