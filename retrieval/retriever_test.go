package retrieval

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"visualMem/core"
	"visualMem/ocr"
	"visualMem/storage"
)

type fakeEncoder struct{}

func (fakeEncoder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEncoder) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	return nil, errors.New("not used")
}

type fakeVector struct {
	hits     map[string][]core.SearchResult
	lastTopK int
}

func (f *fakeVector) BatchInsert(ctx context.Context, frames []*core.Frame) error { return nil }
func (f *fakeVector) Count(ctx context.Context) (int64, error)                    { return 0, nil }
func (f *fakeVector) Search(ctx context.Context, vector []float32, topK int, window core.TimeWindow) ([]core.SearchResult, error) {
	f.lastTopK = topK
	return f.hits["dense"], nil
}

type fakeMeta struct {
	hits []core.SearchResult
}

func (f *fakeMeta) InsertFrame(ctx context.Context, frame *core.Frame) error { return nil }
func (f *fakeMeta) WriteOCR(ctx context.Context, frameID string, ts time.Time, res ocr.Result) error {
	return nil
}
func (f *fakeMeta) SearchText(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	return f.hits, nil
}
func (f *fakeMeta) FramesInRange(ctx context.Context, start, end time.Time) ([]core.FrameMeta, error) {
	return nil, nil
}
func (f *fakeMeta) FramesByDate(ctx context.Context, date string, offset, limit int) ([]core.FrameMeta, error) {
	return nil, nil
}
func (f *fakeMeta) CountByDate(ctx context.Context, date string) (int, error) { return 0, nil }
func (f *fakeMeta) DateRange(ctx context.Context) (string, string, error)     { return "", "", nil }
func (f *fakeMeta) Stats(ctx context.Context) (storage.MetaStats, error) {
	return storage.MetaStats{}, nil
}

func hit(id string, source core.ResultSource, score float64) core.SearchResult {
	return core.SearchResult{
		FrameID:   id,
		Timestamp: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
		Score:     score,
		Source:    source,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// 稠密 [A,B,C] + 稀疏 [B,D] 合并为 [A,B,C,D]，稠密结果优先
func TestRetrieveMergesDenseFirst(t *testing.T) {
	vec := &fakeVector{hits: map[string][]core.SearchResult{
		"dense": {
			hit("A", core.SourceDense, 0.9),
			hit("B", core.SourceDense, 0.8),
			hit("C", core.SourceDense, 0.7),
		},
	}}
	meta := &fakeMeta{hits: []core.SearchResult{
		hit("B", core.SourceSparse, 1.0),
		hit("D", core.SourceSparse, 1.0),
	}}
	r := NewHybridRetriever(fakeEncoder{}, vec, meta, 19, testLogger())

	got, err := r.Retrieve(context.Background(), []string{"q"}, core.TimeWindow{}, true, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"A", "B", "C", "D"}
	if len(got) != len(want) {
		t.Fatalf("merged %d results, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].FrameID != id {
			t.Errorf("result[%d] = %s, want %s", i, got[i].FrameID, id)
		}
	}
	// 重复命中保留稠密来源
	if got[1].Source != core.SourceDense {
		t.Errorf("duplicate hit B has source %s, want dense", got[1].Source)
	}
}

func TestRetrieveSparseRespectsWindow(t *testing.T) {
	outside := hit("X", core.SourceSparse, 1.0)
	outside.Timestamp = time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)

	vec := &fakeVector{hits: map[string][]core.SearchResult{}}
	meta := &fakeMeta{hits: []core.SearchResult{hit("B", core.SourceSparse, 1.0), outside}}
	r := NewHybridRetriever(fakeEncoder{}, vec, meta, 19, testLogger())

	window := core.TimeWindow{Start: tp(10), End: tp(14)}
	got, err := r.Retrieve(context.Background(), []string{"q"}, window, true, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].FrameID != "B" {
		t.Errorf("window filter kept %v, want only B", got)
	}
}

func TestRetrieveNoResults(t *testing.T) {
	r := NewHybridRetriever(fakeEncoder{}, &fakeVector{hits: map[string][]core.SearchResult{}}, &fakeMeta{}, 19, testLogger())
	_, err := r.Retrieve(context.Background(), []string{"q"}, core.TimeWindow{}, true, 5)
	if !errors.Is(err, ErrNoResults) {
		t.Errorf("err = %v, want ErrNoResults", err)
	}
}

// 请求没带 top_k 时用配置的加载上限
func TestRetrieveDefaultTopK(t *testing.T) {
	vec := &fakeVector{hits: map[string][]core.SearchResult{
		"dense": {hit("A", core.SourceDense, 0.9)},
	}}
	r := NewHybridRetriever(fakeEncoder{}, vec, &fakeMeta{}, 19, testLogger())

	if _, err := r.Retrieve(context.Background(), []string{"q"}, core.TimeWindow{}, false, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vec.lastTopK != 19 {
		t.Errorf("dense search top_k = %d, want configured default 19", vec.lastTopK)
	}

	if _, err := r.Retrieve(context.Background(), []string{"q"}, core.TimeWindow{}, false, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vec.lastTopK != 7 {
		t.Errorf("dense search top_k = %d, want caller's 7", vec.lastTopK)
	}
}
