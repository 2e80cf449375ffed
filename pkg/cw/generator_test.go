package cw

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// captureSink records everything the generator writes.
type captureSink struct {
	mu      sync.Mutex
	samples []int16
}

func (s *captureSink) WriteSamples(samples []int16) error {
	s.mu.Lock()
	s.samples = append(s.samples, samples...)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) SampleRate() int { return 8000 }

func (s *captureSink) snapshot() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int16, len(s.samples))
	copy(out, s.samples)
	return out
}

func TestGeneratorParameters(t *testing.T) {
	gen, err := NewGenerator(nullSink{})
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}

	t.Run("Defaults", func(t *testing.T) {
		if gen.Speed() != SpeedInitial {
			t.Errorf("Expected speed %d, got %d", SpeedInitial, gen.Speed())
		}
		if gen.Frequency() != FrequencyInitial {
			t.Errorf("Expected frequency %d, got %d", FrequencyInitial, gen.Frequency())
		}
		if gen.Volume() != VolumeInitial {
			t.Errorf("Expected volume %d, got %d", VolumeInitial, gen.Volume())
		}
		if gen.Weighting() != WeightingInitial {
			t.Errorf("Expected weighting %d, got %d", WeightingInitial, gen.Weighting())
		}
	})

	t.Run("Range Checks", func(t *testing.T) {
		cases := []struct {
			name string
			err  error
		}{
			{"Speed", gen.SetSpeed(SpeedMax + 1)},
			{"Frequency", gen.SetFrequency(-1)},
			{"Volume", gen.SetVolume(101)},
			{"Gap", gen.SetGap(GapMax + 1)},
			{"Weighting", gen.SetWeighting(WeightingMin - 1)},
		}
		for _, c := range cases {
			if !errors.Is(c.err, ErrInvalidArgument) {
				t.Errorf("%s: expected ErrInvalidArgument, got: %v", c.name, c.err)
			}
		}
	})

	t.Run("Nil Sink", func(t *testing.T) {
		if _, err := NewGenerator(nil); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument for nil sink, got: %v", err)
		}
	})
}

func TestGeneratorTiming(t *testing.T) {
	gen, err := NewGenerator(nullSink{})
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}

	t.Run("Neutral Weighting", func(t *testing.T) {
		if err := gen.SetSpeed(20); err != nil {
			t.Fatalf("SetSpeed failed: %v", err)
		}
		p := gen.TimingParameters()

		unit := 60 * time.Millisecond
		if p.Dot != unit {
			t.Errorf("Expected dot %v, got %v", unit, p.Dot)
		}
		if p.Dash != 3*unit {
			t.Errorf("Expected dash %v, got %v", 3*unit, p.Dash)
		}
		if p.EOEDelay != unit {
			t.Errorf("Expected inter-element space %v, got %v", unit, p.EOEDelay)
		}
		if p.EOCDelay != 2*unit {
			t.Errorf("Expected character space %v, got %v", 2*unit, p.EOCDelay)
		}
		if p.EOWDelay != 5*unit {
			t.Errorf("Expected word space %v, got %v", 5*unit, p.EOWDelay)
		}
	})

	t.Run("Heavy Weighting", func(t *testing.T) {
		if err := gen.SetWeighting(60); err != nil {
			t.Fatalf("SetWeighting failed: %v", err)
		}
		p := gen.TimingParameters()

		// Above-neutral weighting stretches marks and shrinks spaces.
		if p.Dot <= 60*time.Millisecond {
			t.Errorf("Expected stretched dot, got %v", p.Dot)
		}
		if p.Dash != 3*p.Dot {
			t.Errorf("Expected dash to stay 3 dots, got dot=%v dash=%v", p.Dot, p.Dash)
		}
		if p.EOEDelay >= 60*time.Millisecond {
			t.Errorf("Expected shrunken inter-element space, got %v", p.EOEDelay)
		}
		gen.SetWeighting(WeightingInitial)
	})

	t.Run("Farnsworth Gap", func(t *testing.T) {
		if err := gen.SetGap(2); err != nil {
			t.Fatalf("SetGap failed: %v", err)
		}
		p := gen.TimingParameters()
		if p.AdditionalDelay != 120*time.Millisecond {
			t.Errorf("Expected additional delay 120ms, got %v", p.AdditionalDelay)
		}
		if p.AdjustmentDelay != 7*p.AdditionalDelay/3 {
			t.Errorf("Expected adjustment 7/3 of additional, got %v", p.AdjustmentDelay)
		}
		gen.SetGap(0)
	})
}

func TestGeneratorSend(t *testing.T) {
	newGen := func(t *testing.T) *Generator {
		t.Helper()
		gen, err := NewGenerator(nullSink{})
		if err != nil {
			t.Fatalf("Failed to create generator: %v", err)
		}
		if err := gen.SetSpeed(20); err != nil {
			t.Fatalf("SetSpeed failed: %v", err)
		}
		return gen
	}

	t.Run("Character", func(t *testing.T) {
		gen := newGen(t)
		if err := gen.SendCharacter('A'); err != nil {
			t.Fatalf("SendCharacter failed: %v", err)
		}

		// Dot, space, dash, space, then the character gap.
		tones := drainTones(gen)
		if len(tones) != 5 {
			t.Fatalf("Expected 5 tones for 'A', got %d", len(tones))
		}
		p := gen.TimingParameters()
		if tones[0].Duration != p.Dot || tones[0].Frequency != FrequencyInitial {
			t.Errorf("Tone 0: expected %v dot at %dHz, got %+v", p.Dot, FrequencyInitial, tones[0])
		}
		if tones[2].Duration != p.Dash {
			t.Errorf("Tone 2: expected dash %v, got %v", p.Dash, tones[2].Duration)
		}
		if tones[4].Frequency != 0 || tones[4].Duration != p.EOCDelay {
			t.Errorf("Tone 4: expected character gap %v, got %+v", p.EOCDelay, tones[4])
		}
	})

	t.Run("Lower Case", func(t *testing.T) {
		gen := newGen(t)
		if err := gen.SendCharacter('r'); err != nil {
			t.Errorf("Expected case-insensitive send, got: %v", err)
		}
	})

	t.Run("Unknown Character", func(t *testing.T) {
		gen := newGen(t)
		if err := gen.SendCharacter('€'); err == nil {
			t.Error("Expected error for unsendable character")
		}
		if gen.Queue().Length() != 0 {
			t.Errorf("Expected nothing queued, got %d tones", gen.Queue().Length())
		}
	})

	t.Run("String With Word Space", func(t *testing.T) {
		gen := newGen(t)
		if err := gen.SendString("E E"); err != nil {
			t.Fatalf("SendString failed: %v", err)
		}

		p := gen.TimingParameters()
		tones := drainTones(gen)
		// E, char gap, word space in three parts, E, char gap.
		if len(tones) != 9 {
			t.Fatalf("Expected 9 tones, got %d", len(tones))
		}
		var wordSpace time.Duration
		for _, tone := range tones[3:6] {
			if tone.Frequency != 0 {
				t.Errorf("Expected silence inside word space, got %dHz", tone.Frequency)
			}
			wordSpace += tone.Duration
		}
		if wordSpace != p.EOWDelay+p.AdjustmentDelay {
			t.Errorf("Expected word space %v, got %v", p.EOWDelay+p.AdjustmentDelay, wordSpace)
		}
	})

	t.Run("Invalid String Queues Nothing", func(t *testing.T) {
		gen := newGen(t)
		if err := gen.SendString("SOS\x01"); err == nil {
			t.Error("Expected error for invalid string")
		}
		if gen.Queue().Length() != 0 {
			t.Errorf("Expected nothing queued after rejected string, got %d", gen.Queue().Length())
		}
	})

	t.Run("Bad Representation", func(t *testing.T) {
		gen := newGen(t)
		if err := gen.SendRepresentation(".x"); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument, got: %v", err)
		}
	})
}

func TestGeneratorPlayback(t *testing.T) {
	sink := &captureSink{}
	gen, err := NewGenerator(sink)
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}
	if err := gen.SetSpeed(20); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}

	if err := gen.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := gen.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on double start, got: %v", err)
	}
	if !gen.IsRunning() {
		t.Error("Expected generator to report running")
	}

	if err := gen.SendDot(); err != nil {
		t.Fatalf("SendDot failed: %v", err)
	}
	gen.Queue().WaitForLevel(0)
	gen.Stop()
	if gen.IsRunning() {
		t.Error("Expected generator to report stopped")
	}

	// A 60ms dot at 8kHz is 480 samples; most of them must be non-zero,
	// and nothing may exceed the volume ceiling.
	samples := sink.snapshot()
	nonZero := 0
	for _, s := range samples {
		if s != 0 {
			nonZero++
		}
		if s > 30000 || s < -30000 {
			t.Fatalf("Sample %d exceeds volume ceiling", s)
		}
	}
	if nonZero < 400 {
		t.Errorf("Expected at least 400 non-zero samples for a dot, got %d", nonZero)
	}

	// Stop is idempotent.
	gen.Stop()
}

func TestGeneratorSilence(t *testing.T) {
	gen, err := NewGenerator(nullSink{})
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}
	if err := gen.SendString("SOS"); err != nil {
		t.Fatalf("SendString failed: %v", err)
	}
	if gen.Queue().Length() == 0 {
		t.Fatal("Expected queued tones before silence")
	}

	gen.Silence()

	// Only the falling-edge cutoff remains.
	tone, err := gen.Queue().Dequeue()
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if tone.Frequency != 0 || tone.Slope != SlopeFalling {
		t.Errorf("Expected falling silence, got %+v", tone)
	}
	if gen.Queue().Length() != 0 {
		t.Errorf("Expected empty queue after silence, got %d", gen.Queue().Length())
	}
}
