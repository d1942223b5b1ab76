package retrieval

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"visualMem/core"
	"visualMem/storage"
)

func refinerFixture(t *testing.T) (*storage.ImageStore, []core.SearchResult) {
	t.Helper()
	images, err := storage.NewImageStore(t.TempDir(), 80)
	if err != nil {
		t.Fatal(err)
	}

	var candidates []core.SearchResult
	for i, id := range []string{"20250314_120000_000001", "20250314_120000_000002"} {
		path, err := images.Save(id, image.NewGray(image.Rect(0, 0, 4, 4)))
		if err != nil {
			t.Fatal(err)
		}
		candidates = append(candidates, core.SearchResult{
			FrameID:   id,
			Timestamp: time.Date(2025, 3, 14, 12, 0, 0, i*1000, time.UTC),
			ImagePath: path,
			Source:    core.SourceDense,
		})
	}
	return images, candidates
}

func TestRefineLoadsImages(t *testing.T) {
	images, candidates := refinerFixture(t)
	r := NewRefiner(images, nil, 10, 19, testLogger())

	frames, err := r.Refine(context.Background(), "q", candidates, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("loaded %d frames, want 2", len(frames))
	}
	for _, f := range frames {
		if f.Image == nil {
			t.Errorf("frame %s loaded without pixels", f.FrameID)
		}
	}
}

// 图片读取失败的候选直接跳过，不中断整个查询
func TestRefineSkipsUnloadable(t *testing.T) {
	images, candidates := refinerFixture(t)
	candidates = append(candidates, core.SearchResult{
		FrameID:   "20250314_120000_000099",
		ImagePath: images.PathFor("20250314_120000_000099"),
	})
	r := NewRefiner(images, nil, 10, 19, testLogger())

	frames, err := r.Refine(context.Background(), "q", candidates, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("loaded %d frames, want 2 (missing image skipped)", len(frames))
	}
}

func TestRefineTruncatesToTopK(t *testing.T) {
	images, candidates := refinerFixture(t)
	r := NewRefiner(images, nil, 1, 19, testLogger())

	frames, err := r.Refine(context.Background(), "q", candidates, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Errorf("got %d frames, want 1 after truncation", len(frames))
	}
	if frames[0].FrameID != candidates[0].FrameID {
		t.Error("truncation must keep the head of the merge order")
	}
}

func TestRefineRerankWithoutService(t *testing.T) {
	images, candidates := refinerFixture(t)
	r := NewRefiner(images, nil, 10, 19, testLogger())

	_, err := r.Refine(context.Background(), "q", candidates, true)
	if !errors.Is(err, ErrRerankUnavailable) {
		t.Errorf("err = %v, want ErrRerankUnavailable", err)
	}
}

func TestRefineAllUnloadable(t *testing.T) {
	images, _ := refinerFixture(t)
	r := NewRefiner(images, nil, 10, 19, testLogger())

	_, err := r.Refine(context.Background(), "q", []core.SearchResult{
		{FrameID: "gone", ImagePath: images.PathFor("gone")},
	}, false)
	if !errors.Is(err, ErrNoResults) {
		t.Errorf("err = %v, want ErrNoResults", err)
	}
}
