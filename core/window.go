package core

import "time"

// TimeWindow 查询时间窗口，任一端为 nil 表示无界
type TimeWindow struct {
	Start *time.Time
	End   *time.Time
}

// IsZero reports whether both bounds are absent.
func (w TimeWindow) IsZero() bool {
	return w.Start == nil && w.End == nil
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && t.After(*w.End) {
		return false
	}
	return true
}

// Inverted reports whether both bounds are present and start > end.
func (w TimeWindow) Inverted() bool {
	return w.Start != nil && w.End != nil && w.Start.After(*w.End)
}

// Intersect 取两个窗口的交集：start 取较大者，end 取较小者。
// 交集可能为空（Inverted），由调用方按回退规则处理。
func (w TimeWindow) Intersect(other TimeWindow) TimeWindow {
	out := TimeWindow{}

	switch {
	case w.Start != nil && other.Start != nil:
		if w.Start.After(*other.Start) {
			out.Start = w.Start
		} else {
			out.Start = other.Start
		}
	case w.Start != nil:
		out.Start = w.Start
	case other.Start != nil:
		out.Start = other.Start
	}

	switch {
	case w.End != nil && other.End != nil:
		if w.End.Before(*other.End) {
			out.End = w.End
		} else {
			out.End = other.End
		}
	case w.End != nil:
		out.End = w.End
	case other.End != nil:
		out.End = other.End
	}

	return out
}
