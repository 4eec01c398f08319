package filter

import (
	"testing"
	"time"
)

func TestDedupe_ConsecutiveRuns(t *testing.T) {
	f := NewDedupeFilter(0)

	if r := f.Check("Waiting for device"); !r.ShouldEmit || r.Count != 1 {
		t.Fatalf("first line should be emitted, got %+v", r)
	}
	if r := f.Check("Waiting for device"); r.ShouldEmit || r.Count != 2 {
		t.Fatalf("repeat should be suppressed, got %+v", r)
	}
	f.Check("Waiting for device")

	r := f.Check("Tunnel ready")
	if !r.ShouldEmit {
		t.Fatalf("new line should be emitted")
	}
	if r.Collapsed != 2 || r.Previous != "Waiting for device" {
		t.Fatalf("expected 2 collapsed repeats of previous line, got %+v", r)
	}

	// a line seen before but not consecutively is emitted again
	if r := f.Check("Waiting for device"); !r.ShouldEmit {
		t.Fatalf("non-consecutive repeat should be emitted")
	}
}

func TestDedupe_Window(t *testing.T) {
	f := NewDedupeFilter(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	f.Check("a")
	f.Check("b")
	if r := f.Check("a"); r.ShouldEmit {
		t.Fatalf("repeat inside window should be suppressed")
	}

	now = now.Add(2 * time.Minute)
	if r := f.Check("a"); !r.ShouldEmit {
		t.Fatalf("repeat after window should be emitted")
	}
}

func TestDedupe_Reset(t *testing.T) {
	f := NewDedupeFilter(0)
	f.Check("x")
	f.Reset()
	if r := f.Check("x"); !r.ShouldEmit {
		t.Fatalf("reset should forget previous lines")
	}
}
