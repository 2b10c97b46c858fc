// Package schedule computes the due digest windows for a topic from its
// interval, cursor, lag, and backfill cap.
package schedule

import (
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

const (
	msPerMinute = int64(60_000)
	msPerSecond = int64(1000)
)

// Config bounds window emission.
type Config struct {
	MaxBackfillWindows int
	MinWindowSeconds   int
	LagSeconds         int
}

// DefaultConfig returns the standard scheduler bounds.
func DefaultConfig() Config {
	return Config{
		MaxBackfillWindows: 6,
		MinWindowSeconds:   60,
		LagSeconds:         60,
	}
}

// DueWindows returns the windows of a topic that are due at now, oldest
// first, capped at MaxBackfillWindows. Windows are emitted with strictly
// increasing end times; the caller persists the advanced cursor only after a
// window completes successfully.
func DueWindows(topic domain.Topic, now time.Time, cfg Config) []domain.Window {
	if !topic.ScheduleEnabled || topic.IntervalMinutes <= 0 {
		return nil
	}

	intervalMs := int64(topic.IntervalMinutes) * msPerMinute
	if intervalMs < int64(cfg.MinWindowSeconds)*msPerSecond {
		return nil
	}

	nowMs := now.UnixMilli()

	var cursorEndMs int64
	if topic.CursorEnd != nil {
		cursorEndMs = topic.CursorEnd.UnixMilli()
	} else {
		cursorEndMs = nowMs/msPerMinute*msPerMinute - intervalMs
	}

	deadline := nowMs - int64(cfg.LagSeconds)*msPerSecond

	var windows []domain.Window

	for i := 0; i < cfg.MaxBackfillWindows; i++ {
		windowStart := cursorEndMs
		windowEnd := cursorEndMs + intervalMs

		if windowEnd > deadline {
			break
		}

		windows = append(windows, domain.Window{
			Start:   time.UnixMilli(windowStart).UTC(),
			End:     time.UnixMilli(windowEnd).UTC(),
			Mode:    topic.Mode,
			Trigger: "scheduled",
		})

		cursorEndMs = windowEnd
	}

	return windows
}
