package capture

import (
	"image"
	"image/color"
	"math"
)

// Filter 帧差过滤器：和上一张保留帧比较，变化太小的帧直接丢弃。
// 基线永远是最后一张保留帧，缓慢漂移会相对锚点累积，不会悄悄漏过。
// 只被采集循环这一个 goroutine 使用，不需要锁。
type Filter struct {
	threshold float64
	baseline  *image.Gray
}

func NewFilter(threshold float64) *Filter {
	return &Filter{threshold: threshold}
}

// Keep reports whether the candidate differs enough from the last kept
// frame. The first frame is always kept. Keeping a frame replaces the
// baseline; dropping one does not.
func (f *Filter) Keep(img image.Image) bool {
	gray := toGray(img)
	if f.baseline == nil {
		f.baseline = gray
		return true
	}

	score := NormalizedRMSDiff(f.baseline, gray)
	if score < f.threshold {
		return false
	}
	f.baseline = gray
	return true
}

// NormalizedRMSDiff 计算两张灰度图的归一化 RMS 差值，范围 [0,1]。
// 尺寸不同视为完全不同。
func NormalizedRMSDiff(a, b *image.Gray) float64 {
	if a.Bounds() != b.Bounds() {
		return 1.0
	}
	bounds := a.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			d := float64(a.GrayAt(x, y).Y) - float64(b.GrayAt(x, y).Y)
			sum += d * d
		}
	}
	rms := math.Sqrt(sum / float64(w*h))
	return rms / 255.0
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}
