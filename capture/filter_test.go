package capture

import (
	"image"
	"image/color"
	"testing"
)

func solidGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestFilterKeepsFirstFrame(t *testing.T) {
	f := NewFilter(0.006)
	if !f.Keep(solidGray(10, 10, 128)) {
		t.Error("first frame must always be kept")
	}
}

func TestFilterDropsNearIdentical(t *testing.T) {
	f := NewFilter(0.006)
	f.Keep(solidGray(10, 10, 128))
	if f.Keep(solidGray(10, 10, 128)) {
		t.Error("identical frame must be dropped")
	}
	// 单像素 +1，远低于阈值
	almost := solidGray(10, 10, 128)
	almost.SetGray(0, 0, color.Gray{Y: 129})
	if f.Keep(almost) {
		t.Error("near-identical frame must be dropped")
	}
}

func TestFilterKeepsChangedFrame(t *testing.T) {
	f := NewFilter(0.006)
	f.Keep(solidGray(10, 10, 0))
	if !f.Keep(solidGray(10, 10, 255)) {
		t.Error("fully changed frame must be kept")
	}
}

// 基线锚定在最后一张保留帧：连续微小漂移最终应当越过阈值
func TestFilterBaselineAnchoring(t *testing.T) {
	f := NewFilter(0.02)
	f.Keep(solidGray(10, 10, 100))

	kept := 0
	for v := uint8(101); v <= 120; v++ {
		if f.Keep(solidGray(10, 10, v)) {
			kept++
		}
	}
	// 每步差 1/255 ≈ 0.004 < 0.02，但相对基线累积后必然触发保留
	if kept == 0 {
		t.Error("accumulated drift never crossed the threshold")
	}
	if kept == 20 {
		t.Error("every drift step was kept, baseline is not anchored")
	}
}

func TestNormalizedRMSDiffBounds(t *testing.T) {
	a := solidGray(4, 4, 0)
	b := solidGray(4, 4, 255)
	if got := NormalizedRMSDiff(a, b); got != 1.0 {
		t.Errorf("max diff = %v, want 1.0", got)
	}
	if got := NormalizedRMSDiff(a, a); got != 0 {
		t.Errorf("self diff = %v, want 0", got)
	}
	// 尺寸不同视为完全不同
	if got := NormalizedRMSDiff(a, solidGray(5, 5, 0)); got != 1.0 {
		t.Errorf("size mismatch diff = %v, want 1.0", got)
	}
}
