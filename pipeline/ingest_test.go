package pipeline

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"visualMem/core"
	"visualMem/ocr"
	"visualMem/storage"
)

type countingEncoder struct{ calls int }

func (e *countingEncoder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (e *countingEncoder) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	e.calls++
	return []float32{0, 1}, nil
}

type nullVector struct{}

func (nullVector) BatchInsert(ctx context.Context, frames []*core.Frame) error { return nil }
func (nullVector) Count(ctx context.Context) (int64, error)                    { return 0, nil }
func (nullVector) Search(ctx context.Context, vector []float32, topK int, window core.TimeWindow) ([]core.SearchResult, error) {
	return nil, nil
}

type nullMeta struct{}

func (nullMeta) InsertFrame(ctx context.Context, frame *core.Frame) error { return nil }
func (nullMeta) WriteOCR(ctx context.Context, frameID string, ts time.Time, res ocr.Result) error {
	return nil
}
func (nullMeta) SearchText(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	return nil, nil
}
func (nullMeta) FramesInRange(ctx context.Context, start, end time.Time) ([]core.FrameMeta, error) {
	return nil, nil
}
func (nullMeta) FramesByDate(ctx context.Context, date string, offset, limit int) ([]core.FrameMeta, error) {
	return nil, nil
}
func (nullMeta) CountByDate(ctx context.Context, date string) (int, error) { return 0, nil }
func (nullMeta) DateRange(ctx context.Context) (string, string, error)     { return "", "", nil }
func (nullMeta) Stats(ctx context.Context) (storage.MetaStats, error) {
	return storage.MetaStats{}, nil
}

func testIngestor(t *testing.T) (*Ingestor, *storage.BatchWriteBuffer, *storage.ImageStore) {
	t.Helper()
	images, err := storage.NewImageStore(t.TempDir(), 80)
	if err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	buffer := storage.NewBatchWriteBuffer(nullVector{}, nullMeta{}, 100, time.Hour, log)
	return NewIngestor(images, &countingEncoder{}, buffer, nil, log), buffer, images
}

func TestIngestPersistsFrame(t *testing.T) {
	ing, buffer, images := testIngestor(t)

	ts := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	raw := &core.RawFrame{Image: image.NewGray(image.Rect(0, 0, 4, 4)), Timestamp: ts}
	frame, err := ing.Ingest(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if frame.FrameID != "20250314_120000_000000" {
		t.Errorf("frame_id = %s", frame.FrameID)
	}
	if !images.Exists(frame.FrameID) {
		t.Error("frame image not written to disk")
	}
	if len(frame.Embedding) == 0 {
		t.Error("frame stored without embedding")
	}
	if frame.OCREngine != core.PendingOCREngine {
		t.Errorf("ocr_engine = %s, want pending placeholder", frame.OCREngine)
	}
	if buffer.Len() != 1 {
		t.Errorf("buffer holds %d entries, want 1", buffer.Len())
	}
}

type metadataRecorder struct {
	nullMeta
	mu       sync.Mutex
	metadata []map[string]any
}

func (m *metadataRecorder) InsertFrame(ctx context.Context, frame *core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata = append(m.metadata, frame.Metadata)
	return nil
}

// metadata 在帧进入缓冲前就位：batch size 1 时 Ingest 内部同步刷盘，
// 刷下去的行必须已带上调用方的 metadata
func TestIngestCarriesMetadataThroughSyncFlush(t *testing.T) {
	images, err := storage.NewImageStore(t.TempDir(), 80)
	if err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	meta := &metadataRecorder{}
	buffer := storage.NewBatchWriteBuffer(nullVector{}, meta, 1, time.Hour, log)
	ing := NewIngestor(images, &countingEncoder{}, buffer, nil, log)

	raw := &core.RawFrame{
		Image:     image.NewGray(image.Rect(0, 0, 2, 2)),
		Timestamp: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
		Metadata:  map[string]any{"width": 2, "height": 2},
	}
	frame, err := ing.Ingest(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Metadata == nil {
		t.Fatal("frame lost its metadata")
	}

	meta.mu.Lock()
	defer meta.mu.Unlock()
	if len(meta.metadata) != 1 {
		t.Fatalf("metadata index received %d rows, want 1", len(meta.metadata))
	}
	if meta.metadata[0] == nil {
		t.Fatal("metadata persisted as nil")
	}
	if meta.metadata[0]["width"] != 2 {
		t.Errorf("persisted width = %v, want 2", meta.metadata[0]["width"])
	}
}

// 同一时间戳重复入库时微秒探测保证 ID 不冲突
func TestIngestResolvesIDCollision(t *testing.T) {
	ing, _, _ := testIngestor(t)

	ts := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		raw := &core.RawFrame{Image: image.NewGray(image.Rect(0, 0, 4, 4)), Timestamp: ts}
		frame, err := ing.Ingest(context.Background(), raw)
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		if seen[frame.FrameID] {
			t.Fatalf("duplicate frame_id %s", frame.FrameID)
		}
		seen[frame.FrameID] = true
	}
}
