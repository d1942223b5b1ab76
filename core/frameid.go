package core

import (
	"fmt"
	"strconv"
	"time"
)

const maxMicrosecond = 999999

// ErrFrameIDExhausted 同一秒内微秒探测空间用尽
var ErrFrameIDExhausted = fmt.Errorf("frame id probe space exhausted within one second")

// FormatFrameID 生成基于时间戳的 frame ID：YYYYMMDD_HHMMSS_ffffff。
// 按字典序排序即为时间排序。
func FormatFrameID(ts time.Time) string {
	return ts.Format("20060102_150405_") + fmt.Sprintf("%06d", ts.Nanosecond()/1000)
}

// ParseFrameID 还原 frame ID 内嵌的 UTC 时间戳
func ParseFrameID(id string) (time.Time, error) {
	if len(id) != 22 || id[8] != '_' || id[15] != '_' {
		return time.Time{}, fmt.Errorf("malformed frame id %q", id)
	}
	base, err := time.Parse("20060102_150405", id[:15])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed frame id %q: %w", id, err)
	}
	micro, err := strconv.Atoi(id[16:])
	if err != nil || micro < 0 || micro > maxMicrosecond {
		return time.Time{}, fmt.Errorf("malformed frame id %q", id)
	}
	return base.Add(time.Duration(micro) * time.Microsecond).UTC(), nil
}

// AllocateFrameID returns a frame ID derived from ts that is not already
// taken according to exists. On collision the microsecond component is
// incremented by one (capped at 999999) and probed linearly. Running out of
// microseconds within the same second is an error, not a wraparound.
func AllocateFrameID(ts time.Time, exists func(id string) bool) (string, time.Time, error) {
	id := FormatFrameID(ts)
	if exists == nil || !exists(id) {
		return id, ts, nil
	}

	micro := ts.Nanosecond() / 1000
	for micro < maxMicrosecond {
		micro++
		adjusted := ts.Truncate(time.Second).Add(time.Duration(micro) * time.Microsecond)
		id = FormatFrameID(adjusted)
		if !exists(id) {
			return id, adjusted, nil
		}
	}
	return "", ts, ErrFrameIDExhausted
}
