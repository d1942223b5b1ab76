package retrieval

import "visualMem/core"

// ResolveWindow fuses the caller-supplied window with the model-inferred
// one. Both present: intersect; an empty intersection falls back to the
// explicit window. Only one present: use it as-is.
func ResolveWindow(explicit, inferred core.TimeWindow) core.TimeWindow {
	if inferred.IsZero() {
		return explicit
	}
	if explicit.IsZero() {
		return inferred
	}
	merged := explicit.Intersect(inferred)
	if merged.Inverted() {
		// 两个窗口不相交时显式窗口优先
		return explicit
	}
	return merged
}
