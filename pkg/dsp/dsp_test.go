package dsp

import (
	"math"
	"testing"
	"time"

	"github.com/morsekit/cwd/pkg/cw"
)

// sine synthesizes n samples of a sine wave at the given frequency and
// amplitude (0..1), for an 8 kHz stream.
func sine(frequency float64, amplitude float64, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*frequency*float64(i)/8000.0))
	}
	return samples
}

func TestGoertzel(t *testing.T) {
	t.Run("Invalid Parameters", func(t *testing.T) {
		if _, err := NewGoertzel(0, 8000, 80); err == nil {
			t.Error("Expected error for zero frequency")
		}
		if _, err := NewGoertzel(5000, 8000, 80); err == nil {
			t.Error("Expected error for frequency above Nyquist")
		}
		if _, err := NewGoertzel(800, 8000, 0); err == nil {
			t.Error("Expected error for zero block size")
		}
	})

	g, err := NewGoertzel(800, 8000, 80)
	if err != nil {
		t.Fatalf("Failed to create Goertzel bin: %v", err)
	}

	t.Run("On Target", func(t *testing.T) {
		magnitude := g.Magnitude(sine(800, 0.8, 80))
		if magnitude < 0.6 {
			t.Errorf("Expected strong magnitude for on-target tone, got %v", magnitude)
		}
	})

	t.Run("Off Target", func(t *testing.T) {
		magnitude := g.Magnitude(sine(1600, 0.8, 80))
		if magnitude > 0.1 {
			t.Errorf("Expected weak magnitude for off-target tone, got %v", magnitude)
		}
	})

	t.Run("Silence", func(t *testing.T) {
		magnitude := g.Magnitude(make([]int16, 80))
		if magnitude != 0 {
			t.Errorf("Expected zero magnitude for silence, got %v", magnitude)
		}
	})
}

func TestDetectorEdges(t *testing.T) {
	g, err := NewGoertzel(800, 8000, 80) // 10ms blocks
	if err != nil {
		t.Fatalf("Failed to create Goertzel bin: %v", err)
	}

	type edge struct {
		on bool
		t  time.Time
	}
	var edges []edge

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d, err := NewDetector(g, 8000, DetectorConfig{Threshold: 0.3, Hysteresis: 2}, start,
		func(toneOn bool, t time.Time) {
			edges = append(edges, edge{on: toneOn, t: t})
		})
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	// 60ms tone, 60ms gap, 180ms tone, 120ms tail silence. A dot and a
	// dash with exact block-aligned edges.
	var stream []int16
	stream = append(stream, sine(800, 0.8, 480)...)
	stream = append(stream, make([]int16, 480)...)
	stream = append(stream, sine(800, 0.8, 1440)...)
	stream = append(stream, make([]int16, 960)...)

	// Deliver in uneven chunks to exercise the partial-block buffering.
	for len(stream) > 0 {
		n := 333
		if n > len(stream) {
			n = len(stream)
		}
		d.Process(stream[:n])
		stream = stream[n:]
	}

	if len(edges) != 4 {
		t.Fatalf("Expected 4 edges, got %d", len(edges))
	}
	expected := []edge{
		{true, start},
		{false, start.Add(60 * time.Millisecond)},
		{true, start.Add(120 * time.Millisecond)},
		{false, start.Add(300 * time.Millisecond)},
	}
	for i, want := range expected {
		if edges[i].on != want.on || !edges[i].t.Equal(want.t) {
			t.Errorf("Edge %d: expected on=%v at %v, got on=%v at %v",
				i, want.on, want.t, edges[i].on, edges[i].t)
		}
	}

	if d.ToneState() {
		t.Error("Expected tone off at end of stream")
	}
}

func TestDetectorFeedsReceiver(t *testing.T) {
	receiver := cw.NewReceiver()
	if err := receiver.SetSpeed(20); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}

	g, err := NewGoertzel(800, 8000, 80)
	if err != nil {
		t.Fatalf("Failed to create Goertzel bin: %v", err)
	}

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d, err := NewDetector(g, 8000, DetectorConfig{Threshold: 0.3, Hysteresis: 2}, start,
		func(toneOn bool, t time.Time) {
			if toneOn {
				if err := receiver.MarkBegin(t); err != nil {
					panic(err)
				}
			} else {
				if err := receiver.MarkEnd(t); err != nil {
					panic(err)
				}
			}
		})
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	// The letter A at 20 WPM: 60ms dot, 60ms gap, 180ms dash.
	var stream []int16
	stream = append(stream, sine(800, 0.8, 480)...)
	stream = append(stream, make([]int16, 480)...)
	stream = append(stream, sine(800, 0.8, 1440)...)
	stream = append(stream, make([]int16, 2400)...) // 300ms tail
	d.Process(stream)

	c, isWord, isError, err := receiver.PollCharacter(start.Add(480 * time.Millisecond))
	if err != nil {
		t.Fatalf("PollCharacter failed: %v", err)
	}
	if c != 'A' {
		t.Errorf("Expected 'A' from the audio stream, got %q", c)
	}
	if isWord || isError {
		t.Errorf("Expected clean decode, got isWord=%v isError=%v", isWord, isError)
	}
}

func TestSpectrumMonitor(t *testing.T) {
	m := NewSpectrumMonitor(8000, 1024)

	t.Run("Before First Window", func(t *testing.T) {
		if f := m.DominantFrequency(); f != 0 {
			t.Errorf("Expected 0 before first FFT, got %v", f)
		}
	})

	t.Run("Dominant Frequency", func(t *testing.T) {
		m.ProcessSamples(sine(700, 0.5, 2048))
		f := m.DominantFrequency()
		if f < 690 || f > 710 {
			t.Errorf("Expected dominant frequency near 700 Hz, got %v", f)
		}
	})

	t.Run("Levels", func(t *testing.T) {
		levels := m.Levels()
		// A half-amplitude sine sits around -9 dBFS RMS.
		if levels.RMSLevel < -12 || levels.RMSLevel > -6 {
			t.Errorf("Expected RMS near -9 dBFS, got %v", levels.RMSLevel)
		}
		if levels.Clipping {
			t.Error("Expected no clipping at half amplitude")
		}
	})

	t.Run("Clipping", func(t *testing.T) {
		m.ProcessSamples(sine(700, 1.0, 1024))
		if !m.Levels().Clipping {
			t.Error("Expected clipping at full amplitude")
		}
	})

	t.Run("Spectrum Snapshot", func(t *testing.T) {
		spectrum := m.Spectrum()
		if len(spectrum.Spectrum) != 512 {
			t.Errorf("Expected 512 bins, got %d", len(spectrum.Spectrum))
		}
		if spectrum.FreqStep != 8000.0/1024.0 {
			t.Errorf("Expected freq step %v, got %v", 8000.0/1024.0, spectrum.FreqStep)
		}
	})
}
