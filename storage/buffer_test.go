package storage

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"visualMem/core"
	"visualMem/ocr"
)

type fakeVector struct {
	mu      sync.Mutex
	batches [][]*core.Frame
}

func (f *fakeVector) BatchInsert(ctx context.Context, frames []*core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]*core.Frame, len(frames))
	copy(batch, frames)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeVector) Search(ctx context.Context, vector []float32, topK int, window core.TimeWindow) ([]core.SearchResult, error) {
	return nil, nil
}

func (f *fakeVector) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, b := range f.batches {
		n += int64(len(b))
	}
	return n, nil
}

func (f *fakeVector) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeMeta struct {
	mu       sync.Mutex
	inserted []string
}

func (f *fakeMeta) InsertFrame(ctx context.Context, frame *core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, frame.FrameID)
	return nil
}

func (f *fakeMeta) WriteOCR(ctx context.Context, frameID string, ts time.Time, res ocr.Result) error {
	return nil
}
func (f *fakeMeta) SearchText(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	return nil, nil
}
func (f *fakeMeta) FramesInRange(ctx context.Context, start, end time.Time) ([]core.FrameMeta, error) {
	return nil, nil
}
func (f *fakeMeta) FramesByDate(ctx context.Context, date string, offset, limit int) ([]core.FrameMeta, error) {
	return nil, nil
}
func (f *fakeMeta) CountByDate(ctx context.Context, date string) (int, error) { return 0, nil }
func (f *fakeMeta) DateRange(ctx context.Context) (string, string, error)     { return "", "", nil }
func (f *fakeMeta) Stats(ctx context.Context) (MetaStats, error)              { return MetaStats{}, nil }

func (f *fakeMeta) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func frameN(i int) *core.Frame {
	return &core.Frame{
		FrameID:   fmt.Sprintf("20250314_150926_%06d", i),
		Timestamp: time.Now(),
		Embedding: []float32{1, 0, 0},
	}
}

// 达到批次大小时 Add 同步触发刷新
func TestBufferFlushOnBatchSize(t *testing.T) {
	vec := &fakeVector{}
	meta := &fakeMeta{}
	b := NewBatchWriteBuffer(vec, meta, 10, time.Hour, discardLogger())

	for i := 0; i < 9; i++ {
		b.Add(frameN(i))
	}
	if vec.batchCount() != 0 {
		t.Fatal("buffer flushed below batch size")
	}
	if b.Len() != 9 {
		t.Fatalf("buffer holds %d entries, want 9", b.Len())
	}

	b.Add(frameN(9))
	if vec.batchCount() != 1 {
		t.Fatal("buffer did not flush at batch size")
	}
	if b.Len() != 0 {
		t.Errorf("buffer holds %d entries after flush, want 0", b.Len())
	}
	if meta.insertCount() != 10 {
		t.Errorf("metadata received %d rows, want 10", meta.insertCount())
	}
}

// 刷新间隔到期后后台 ticker 触发刷新
func TestBufferFlushOnInterval(t *testing.T) {
	vec := &fakeVector{}
	meta := &fakeMeta{}
	b := NewBatchWriteBuffer(vec, meta, 100, 50*time.Millisecond, discardLogger())
	b.Start()
	defer b.Stop()

	b.Add(frameN(0))
	b.Add(frameN(1))

	deadline := time.Now().Add(3 * time.Second)
	for vec.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if vec.batchCount() == 0 {
		t.Fatal("interval flush never fired")
	}
	if b.Len() != 0 {
		t.Errorf("buffer holds %d entries after interval flush", b.Len())
	}
}

func TestBufferFlushEmptyIsNoop(t *testing.T) {
	vec := &fakeVector{}
	b := NewBatchWriteBuffer(vec, &fakeMeta{}, 10, time.Hour, discardLogger())
	b.Flush()
	if vec.batchCount() != 0 {
		t.Error("empty flush wrote a batch")
	}
}

// Stop 做最终刷盘，且释放帧像素
func TestBufferStopFlushes(t *testing.T) {
	vec := &fakeVector{}
	meta := &fakeMeta{}
	b := NewBatchWriteBuffer(vec, meta, 100, time.Hour, discardLogger())
	b.Start()

	f := frameN(0)
	f.Image = image.NewGray(image.Rect(0, 0, 2, 2))
	b.Add(f)
	b.Stop()

	if vec.batchCount() != 1 {
		t.Fatal("Stop did not flush remaining entries")
	}
	if f.Image != nil {
		t.Error("frame pixels not released after persist")
	}
	if meta.insertCount() != 1 {
		t.Errorf("metadata received %d rows, want 1", meta.insertCount())
	}
}
