package cw

import (
	"errors"
	"testing"
	"time"
)

// feedMarks clocks a dot/dash string through the receiver with perfect
// timing at the given unit length, returning the end time of the last mark.
func feedMarks(t *testing.T, r *Receiver, start time.Time, marks string, unit time.Duration) time.Time {
	t.Helper()
	now := start
	for i, m := range marks {
		if i > 0 {
			now = now.Add(unit)
		}
		if err := r.MarkBegin(now); err != nil {
			t.Fatalf("MarkBegin for mark %d failed: %v", i, err)
		}
		length := unit
		if m == '-' {
			length = 3 * unit
		}
		now = now.Add(length)
		if err := r.MarkEnd(now); err != nil {
			t.Fatalf("MarkEnd for mark %d failed: %v", i, err)
		}
	}
	return now
}

func TestReceiverParameters(t *testing.T) {
	t.Run("Speed Range", func(t *testing.T) {
		r := NewReceiver()
		if err := r.SetSpeed(SpeedMin - 1); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument below range, got: %v", err)
		}
		if err := r.SetSpeed(SpeedMax + 1); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument above range, got: %v", err)
		}
		if err := r.SetSpeed(20); err != nil {
			t.Fatalf("SetSpeed(20) failed: %v", err)
		}
		if r.Speed() != 20 {
			t.Errorf("Expected speed 20, got %v", r.Speed())
		}
	})

	t.Run("Speed Locked While Adaptive", func(t *testing.T) {
		r := NewReceiver()
		r.SetAdaptive(true)
		if err := r.SetSpeed(20); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState while adaptive, got: %v", err)
		}
		r.SetAdaptive(false)
		if err := r.SetSpeed(20); err != nil {
			t.Errorf("SetSpeed after disabling adaptive failed: %v", err)
		}
	})

	t.Run("Tolerance And Gap Ranges", func(t *testing.T) {
		r := NewReceiver()
		if err := r.SetTolerance(ToleranceMax + 1); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument for tolerance, got: %v", err)
		}
		if err := r.SetGap(-1); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument for gap, got: %v", err)
		}
	})

	t.Run("Noise Spike Threshold", func(t *testing.T) {
		r := NewReceiver()
		if err := r.SetNoiseSpikeThreshold(-time.Millisecond); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument for negative threshold, got: %v", err)
		}
		if err := r.SetNoiseSpikeThreshold(0); err != nil {
			t.Errorf("Disabling the filter failed: %v", err)
		}
	})
}

func TestReceiverClassification(t *testing.T) {
	// 20 WPM: unit 60ms, tolerance 50% -> dot window 30-90ms, dash
	// window 150-210ms.
	const unit = 60 * time.Millisecond
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	newFixed := func(t *testing.T) *Receiver {
		t.Helper()
		r := NewReceiver()
		if err := r.SetSpeed(20); err != nil {
			t.Fatalf("SetSpeed failed: %v", err)
		}
		return r
	}

	t.Run("Dot And Dash", func(t *testing.T) {
		r := newFixed(t)
		end := feedMarks(t, r, base, ".-", unit)

		representation, isWord, isError, err := r.PollRepresentation(end.Add(3 * unit))
		if err != nil {
			t.Fatalf("PollRepresentation failed: %v", err)
		}
		if representation != ".-" {
			t.Errorf("Expected representation %q, got %q", ".-", representation)
		}
		if isWord || isError {
			t.Errorf("Expected clean character, got isWord=%v isError=%v", isWord, isError)
		}
	})

	t.Run("Character Decode", func(t *testing.T) {
		r := newFixed(t)
		end := feedMarks(t, r, base, ".-.", unit)

		c, isWord, isError, err := r.PollCharacter(end.Add(3 * unit))
		if err != nil {
			t.Fatalf("PollCharacter failed: %v", err)
		}
		if c != 'R' {
			t.Errorf("Expected 'R', got %q", c)
		}
		if isWord || isError {
			t.Errorf("Expected clean decode, got isWord=%v isError=%v", isWord, isError)
		}
	})

	t.Run("Poll Before Window Opens", func(t *testing.T) {
		r := newFixed(t)
		end := feedMarks(t, r, base, ".", unit)

		// 100ms is still inside the inter-mark range, nothing to decide.
		if _, _, _, err := r.PollRepresentation(end.Add(100 * time.Millisecond)); !errors.Is(err, ErrNotReady) {
			t.Errorf("Expected ErrNotReady, got: %v", err)
		}
		// The receiver must still accept more marks for this character.
		if err := r.MarkBegin(end.Add(unit)); err != nil {
			t.Errorf("MarkBegin after early poll failed: %v", err)
		}
	})

	t.Run("Word Boundary", func(t *testing.T) {
		r := newFixed(t)
		end := feedMarks(t, r, base, "...", unit)

		// First poll inside the character window: not a word yet.
		representation, isWord, _, err := r.PollRepresentation(end.Add(3 * unit))
		if err != nil {
			t.Fatalf("PollRepresentation failed: %v", err)
		}
		if isWord {
			t.Error("Expected isWord=false inside character window")
		}

		// Poll again once the space has grown past seven units; the
		// frozen representation is upgraded to a word boundary.
		representation, isWord, isError, err := r.PollRepresentation(end.Add(7 * unit))
		if err != nil {
			t.Fatalf("Second poll failed: %v", err)
		}
		if representation != "..." {
			t.Errorf("Expected representation %q, got %q", "...", representation)
		}
		if !isWord {
			t.Error("Expected isWord=true past the word threshold")
		}
		if isError {
			t.Error("Expected isError=false for a word gap")
		}
	})

	t.Run("Space Too Long", func(t *testing.T) {
		r := newFixed(t)
		end := feedMarks(t, r, base, ".", unit)

		// In fixed-speed mode a space far beyond the word gap is an error.
		_, isWord, isError, err := r.PollRepresentation(end.Add(20 * unit))
		if err != nil {
			t.Fatalf("PollRepresentation failed: %v", err)
		}
		if !isWord {
			t.Error("Expected isWord=true for an overlong space")
		}
		if !isError {
			t.Error("Expected isError=true for an overlong space in fixed mode")
		}
	})

	t.Run("Mark Out Of Range", func(t *testing.T) {
		r := newFixed(t)
		if err := r.MarkBegin(base); err != nil {
			t.Fatalf("MarkBegin failed: %v", err)
		}
		// 120ms falls in the dead zone between dot and dash windows.
		if err := r.MarkEnd(base.Add(2 * unit)); !errors.Is(err, ErrMarkOutOfRange) {
			t.Fatalf("Expected ErrMarkOutOfRange, got: %v", err)
		}

		// The error is reported through the next poll, not a dead receiver.
		_, _, isError, err := r.PollRepresentation(base.Add(2*unit + 3*unit))
		if err != nil {
			t.Fatalf("Poll after bad mark failed: %v", err)
		}
		if !isError {
			t.Error("Expected isError=true after out-of-range mark")
		}

		r.ResetState()
		end := feedMarks(t, r, base.Add(time.Second), ".", unit)
		if _, _, isError, err := r.PollRepresentation(end.Add(3 * unit)); err != nil || isError {
			t.Errorf("Expected clean decode after reset, got isError=%v err=%v", isError, err)
		}
	})

	t.Run("Noise Spike Discarded", func(t *testing.T) {
		r := newFixed(t)
		end := feedMarks(t, r, base, ".", unit)

		// A 5ms blip between marks must not corrupt the character.
		spike := end.Add(20 * time.Millisecond)
		if err := r.MarkBegin(spike); err != nil {
			t.Fatalf("MarkBegin for spike failed: %v", err)
		}
		if err := r.MarkEnd(spike.Add(5 * time.Millisecond)); !errors.Is(err, ErrNoiseSpike) {
			t.Fatalf("Expected ErrNoiseSpike, got: %v", err)
		}

		end = feedMarks(t, r, end.Add(unit), "-", unit)
		c, _, isError, err := r.PollCharacter(end.Add(3 * unit))
		if err != nil {
			t.Fatalf("PollCharacter failed: %v", err)
		}
		if c != 'A' || isError {
			t.Errorf("Expected clean 'A' after spike, got %q isError=%v", c, isError)
		}
	})

	t.Run("Unknown Representation", func(t *testing.T) {
		r := newFixed(t)
		end := feedMarks(t, r, base, "-------", unit)

		if _, _, _, err := r.PollCharacter(end.Add(3 * unit)); err == nil {
			t.Error("Expected lookup error for unknown representation")
		}
		// The representation itself is still available.
		representation, _, _, err := r.PollRepresentation(end.Add(3 * unit))
		if err != nil {
			t.Fatalf("PollRepresentation failed: %v", err)
		}
		if representation != "-------" {
			t.Errorf("Expected raw representation, got %q", representation)
		}
	})

	t.Run("Representation Overflow", func(t *testing.T) {
		r := newFixed(t)
		end := feedMarks(t, r, base, ".......", unit)

		// An eighth mark cannot be buffered.
		if err := r.MarkBegin(end.Add(unit)); err != nil {
			t.Fatalf("MarkBegin failed: %v", err)
		}
		if err := r.MarkEnd(end.Add(2 * unit)); !errors.Is(err, ErrMarkOutOfRange) {
			t.Errorf("Expected ErrMarkOutOfRange on overflow, got: %v", err)
		}
	})
}

func TestReceiverCallSequence(t *testing.T) {
	const unit = 60 * time.Millisecond
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := NewReceiver()
	if err := r.SetSpeed(20); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}

	t.Run("MarkEnd Without MarkBegin", func(t *testing.T) {
		if err := r.MarkEnd(base); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got: %v", err)
		}
	})

	t.Run("Poll While Idle", func(t *testing.T) {
		if _, _, _, err := r.PollRepresentation(base); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got: %v", err)
		}
	})

	t.Run("Nested MarkBegin", func(t *testing.T) {
		if err := r.MarkBegin(base); err != nil {
			t.Fatalf("MarkBegin failed: %v", err)
		}
		if err := r.MarkBegin(base.Add(unit)); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState for nested MarkBegin, got: %v", err)
		}
		if err := r.MarkEnd(base.Add(unit)); err != nil {
			t.Fatalf("MarkEnd failed: %v", err)
		}
	})

	t.Run("MarkBegin While Frozen", func(t *testing.T) {
		if _, _, _, err := r.PollRepresentation(base.Add(unit + 3*unit)); err != nil {
			t.Fatalf("PollRepresentation failed: %v", err)
		}
		if err := r.MarkBegin(base.Add(10 * unit)); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState while frozen, got: %v", err)
		}
		r.ResetState()
		if err := r.MarkBegin(base.Add(10 * unit)); err != nil {
			t.Errorf("MarkBegin after reset failed: %v", err)
		}
	})
}

func TestReceiverAdaptiveTracking(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := NewReceiver()
	r.SetAdaptive(true)
	if !r.Adaptive() {
		t.Fatal("Expected adaptive mode to be enabled")
	}

	// Stream dots timed for 30 WPM (40ms unit) at a receiver seeded for
	// 12 WPM. The smoothed estimate should converge on the signal.
	const unit = 40 * time.Millisecond
	now := base
	for char := 0; char < 5; char++ {
		end := feedMarks(t, r, now, "....", unit)
		if _, _, _, err := r.PollRepresentation(end.Add(200 * time.Millisecond)); err != nil {
			t.Fatalf("Poll for character %d failed: %v", char, err)
		}
		r.ResetState()
		now = end.Add(400 * time.Millisecond)
	}

	speed := r.Speed()
	if speed < 28 || speed > 32 {
		t.Errorf("Expected tracked speed near 30 WPM, got %.1f", speed)
	}

	// At the tracked speed a 120ms mark is clearly a dash (over two dots).
	if err := r.MarkBegin(now); err != nil {
		t.Fatalf("MarkBegin failed: %v", err)
	}
	if err := r.MarkEnd(now.Add(3 * unit)); err != nil {
		t.Fatalf("MarkEnd failed: %v", err)
	}
	representation, _, _, err := r.PollRepresentation(now.Add(3*unit + 150*time.Millisecond))
	if err != nil {
		t.Fatalf("PollRepresentation failed: %v", err)
	}
	if representation != "-" {
		t.Errorf("Expected dash at tracked speed, got %q", representation)
	}
}

func TestReceiverStatistics(t *testing.T) {
	const unit = 60 * time.Millisecond
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := NewReceiver()
	if err := r.SetSpeed(20); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}

	t.Run("Perfect Timing", func(t *testing.T) {
		end := feedMarks(t, r, base, "...", unit)
		if _, _, _, err := r.PollRepresentation(end.Add(3 * unit)); err != nil {
			t.Fatalf("PollRepresentation failed: %v", err)
		}
		r.ResetState()

		stats := r.GetStatistics()
		if stats.Dot != 0 {
			t.Errorf("Expected zero dot deviation for perfect timing, got %v", stats.Dot)
		}
		if stats.MarkSpace != 0 {
			t.Errorf("Expected zero inter-mark deviation, got %v", stats.MarkSpace)
		}
	})

	t.Run("Consistent Offset", func(t *testing.T) {
		r.ResetStatistics()

		// Dots stretched 10ms past ideal; still inside the window.
		now := base.Add(time.Minute)
		for i := 0; i < 4; i++ {
			if err := r.MarkBegin(now); err != nil {
				t.Fatalf("MarkBegin %d failed: %v", i, err)
			}
			now = now.Add(unit + 10*time.Millisecond)
			if err := r.MarkEnd(now); err != nil {
				t.Fatalf("MarkEnd %d failed: %v", i, err)
			}
			now = now.Add(unit)
		}

		stats := r.GetStatistics()
		if stats.Dot != 10*time.Millisecond {
			t.Errorf("Expected 10ms dot deviation, got %v", stats.Dot)
		}
		r.ResetState()
	})

	t.Run("Reset", func(t *testing.T) {
		r.ResetStatistics()
		stats := r.GetStatistics()
		if stats.Dot != 0 || stats.Dash != 0 || stats.MarkSpace != 0 || stats.CharSpace != 0 {
			t.Errorf("Expected all-zero statistics after reset, got %+v", stats)
		}
	})
}
