package serve

import (
	"testing"
	"time"
)

func TestEditThrottle(t *testing.T) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	throttle := newEditThrottle(500*time.Millisecond, 50)
	throttle.now = func() time.Time { return clock }

	// Not enough new characters.
	if throttle.shouldEdit(49) {
		t.Error("edited below the character threshold")
	}

	// Enough characters, interval starts satisfied (lastEdit is zero).
	if !throttle.shouldEdit(50) {
		t.Error("first qualifying draft not flushed")
	}

	// 60 more chars but only 100ms later.
	clock = clock.Add(100 * time.Millisecond)
	if throttle.shouldEdit(110) {
		t.Error("edited inside the minimum interval")
	}

	// Same length, past the interval.
	clock = clock.Add(400 * time.Millisecond)
	if !throttle.shouldEdit(110) {
		t.Error("qualifying draft not flushed after the interval")
	}

	// Interval passed but too little new text since the last flush.
	clock = clock.Add(time.Second)
	if throttle.shouldEdit(130) {
		t.Error("edited with only 20 new characters")
	}
	if !throttle.shouldEdit(160) {
		t.Error("qualifying draft not flushed")
	}
}
