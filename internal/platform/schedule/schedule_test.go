package schedule

import (
	"testing"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

func topicAt(cursorEnd *time.Time, intervalMinutes int) domain.Topic {
	return domain.Topic{
		ID:              "topic-1",
		UserID:          "user-1",
		Name:            "golang",
		ScheduleEnabled: true,
		IntervalMinutes: intervalMinutes,
		Mode:            domain.TierNormal,
		CursorEnd:       cursorEnd,
	}
}

func TestDueWindowsDisabled(t *testing.T) {
	topic := topicAt(nil, 60)
	topic.ScheduleEnabled = false

	if got := DueWindows(topic, time.Now(), DefaultConfig()); len(got) != 0 {
		t.Fatalf("disabled topic should emit no windows, got %d", len(got))
	}
}

func TestDueWindowsBackfillCap(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 30, 0, time.UTC)
	cursor := now.Add(-24 * time.Hour)
	topic := topicAt(&cursor, 60)

	windows := DueWindows(topic, now, DefaultConfig())

	if len(windows) != 6 {
		t.Fatalf("expected backfill cap of 6 windows, got %d", len(windows))
	}

	for i, w := range windows {
		wantStart := cursor.Add(time.Duration(i) * time.Hour)
		if !w.Start.Equal(wantStart) || !w.End.Equal(wantStart.Add(time.Hour)) {
			t.Errorf("window %d = [%v, %v), want [%v, %v)", i, w.Start, w.End, wantStart, wantStart.Add(time.Hour))
		}

		if i > 0 && !windows[i].End.After(windows[i-1].End) {
			t.Errorf("window ends must be strictly increasing at %d", i)
		}
	}
}

func TestDueWindowsLagHoldsBackFreshWindow(t *testing.T) {
	now := time.Date(2026, 1, 10, 13, 0, 30, 0, time.UTC)
	cursor := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	topic := topicAt(&cursor, 60)

	// Window [12:00, 13:00) ends 30s ago, inside the 60s lag.
	if got := DueWindows(topic, now, DefaultConfig()); len(got) != 0 {
		t.Fatalf("window inside lag should not be emitted, got %d", len(got))
	}

	// One minute later it is due.
	got := DueWindows(topic, now.Add(time.Minute), DefaultConfig())
	if len(got) != 1 {
		t.Fatalf("expected 1 due window, got %d", len(got))
	}

	if !got[0].Start.Equal(cursor) || !got[0].End.Equal(cursor.Add(time.Hour)) {
		t.Errorf("window = [%v, %v), want [%v, %v)", got[0].Start, got[0].End, cursor, cursor.Add(time.Hour))
	}
}

func TestDueWindowsNilCursorAlignsToMinute(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 34, 56, 0, time.UTC)
	topic := topicAt(nil, 30)

	windows := DueWindows(topic, now, DefaultConfig())
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}

	wantEnd := time.Date(2026, 1, 10, 12, 34, 0, 0, time.UTC)
	wantStart := wantEnd.Add(-30 * time.Minute)

	if !windows[0].Start.Equal(wantStart) || !windows[0].End.Equal(wantEnd) {
		t.Errorf("window = [%v, %v), want [%v, %v)", windows[0].Start, windows[0].End, wantStart, wantEnd)
	}

	if windows[0].Mode != domain.TierNormal || windows[0].Trigger != "scheduled" {
		t.Errorf("window mode/trigger = %s/%s", windows[0].Mode, windows[0].Trigger)
	}
}

func TestDueWindowsIntervalBelowMinimum(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	cursor := now.Add(-time.Hour)

	cfg := DefaultConfig()
	cfg.MinWindowSeconds = 120

	if got := DueWindows(topicAt(&cursor, 1), now, cfg); len(got) != 0 {
		t.Fatalf("interval below minimum should emit no windows, got %d", len(got))
	}
}

func TestDueWindowsNoSkipOnAdvance(t *testing.T) {
	// Advancing the cursor to the last emitted end and ticking again picks up
	// exactly the next window.
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	cursor := now.Add(-3 * time.Hour)
	topic := topicAt(&cursor, 60)

	first := DueWindows(topic, now, DefaultConfig())
	if len(first) == 0 {
		t.Fatal("expected due windows")
	}

	last := first[len(first)-1].End
	topic.CursorEnd = &last

	second := DueWindows(topic, now.Add(time.Hour), DefaultConfig())
	if len(second) == 0 {
		t.Fatal("expected next window after cursor advance")
	}

	if !second[0].Start.Equal(last) {
		t.Errorf("next window starts at %v, want %v", second[0].Start, last)
	}
}
