package retrieval

import (
	"testing"
	"time"

	"visualMem/core"
)

func tp(hour int) *time.Time {
	t := time.Date(2025, 3, 14, hour, 0, 0, 0, time.UTC)
	return &t
}

func TestResolveWindowIntersects(t *testing.T) {
	got := ResolveWindow(
		core.TimeWindow{Start: tp(10), End: tp(20)},
		core.TimeWindow{Start: tp(15), End: tp(25)},
	)
	if got.Start == nil || !got.Start.Equal(*tp(15)) {
		t.Errorf("start = %v, want 15:00", got.Start)
	}
	if got.End == nil || !got.End.Equal(*tp(20)) {
		t.Errorf("end = %v, want 20:00", got.End)
	}
}

// 不相交时显式窗口优先
func TestResolveWindowDisjointFallsBackToExplicit(t *testing.T) {
	explicit := core.TimeWindow{Start: tp(8), End: tp(9)}
	got := ResolveWindow(explicit, core.TimeWindow{Start: tp(18), End: tp(20)})
	if got.Start != explicit.Start || got.End != explicit.End {
		t.Errorf("got [%v, %v], want the explicit window", got.Start, got.End)
	}
}

func TestResolveWindowSingleSide(t *testing.T) {
	inferred := core.TimeWindow{Start: tp(10), End: tp(12)}
	got := ResolveWindow(core.TimeWindow{}, inferred)
	if got.Start != inferred.Start || got.End != inferred.End {
		t.Error("inferred-only resolution must return the inferred window unchanged")
	}

	explicit := core.TimeWindow{Start: tp(10)}
	got = ResolveWindow(explicit, core.TimeWindow{})
	if got.Start != explicit.Start || got.End != nil {
		t.Error("explicit-only resolution must return the explicit window unchanged")
	}

	if !ResolveWindow(core.TimeWindow{}, core.TimeWindow{}).IsZero() {
		t.Error("two empty windows must resolve to an empty window")
	}
}
