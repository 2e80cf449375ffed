package audio

import (
	"testing"
	"time"
)

func TestOutput(t *testing.T) {
	t.Run("Invalid Parameters", func(t *testing.T) {
		if _, err := NewOutput(0, 1024, false); err == nil {
			t.Error("Expected error for zero sample rate")
		}
		if _, err := NewOutput(8000, 0, false); err == nil {
			t.Error("Expected error for zero buffer size")
		}
	})

	t.Run("Taps Receive Copies", func(t *testing.T) {
		out, err := NewOutput(8000, 1024, false)
		if err != nil {
			t.Fatalf("NewOutput failed: %v", err)
		}

		var received []int16
		out.AddTap(func(samples []int16) {
			received = append(received, samples...)
		})

		src := []int16{1, 2, 3, 4}
		if err := out.WriteSamples(src); err != nil {
			t.Fatalf("WriteSamples failed: %v", err)
		}
		// The writer may reuse its slice; the tap copy must be stable.
		src[0] = 99

		if len(received) != 4 || received[0] != 1 || received[3] != 4 {
			t.Errorf("Tap received wrong samples: %v", received)
		}
		if out.TotalSamples() != 4 {
			t.Errorf("Expected 4 samples written, got %d", out.TotalSamples())
		}
	})

	t.Run("Pacing", func(t *testing.T) {
		out, err := NewOutput(8000, 1024, true)
		if err != nil {
			t.Fatalf("NewOutput failed: %v", err)
		}

		// 800 samples at 8 kHz is 100ms of audio.
		begin := time.Now()
		if err := out.WriteSamples(make([]int16, 800)); err != nil {
			t.Fatalf("WriteSamples failed: %v", err)
		}
		elapsed := time.Since(begin)
		if elapsed < 80*time.Millisecond {
			t.Errorf("Expected paced write to take about 100ms, took %v", elapsed)
		}
	})

	t.Run("Closed Output Rejects Writes", func(t *testing.T) {
		out, err := NewOutput(8000, 1024, false)
		if err != nil {
			t.Fatalf("NewOutput failed: %v", err)
		}
		if err := out.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := out.WriteSamples([]int16{1}); err == nil {
			t.Error("Expected error writing to closed output")
		}
	})
}

func TestBufferPool(t *testing.T) {
	pool := NewBufferPool(16384)

	t.Run("Exact Length", func(t *testing.T) {
		for _, size := range []int{1, 100, 1024, 1025, 4096, 10000} {
			buf := pool.Get(size)
			if len(buf.Data) != size {
				t.Errorf("Expected length %d, got %d", size, len(buf.Data))
			}
			buf.Release()
		}
	})

	t.Run("Reuse", func(t *testing.T) {
		buf := pool.Get(512)
		buf.Data[0] = 42
		buf.Release()

		again := pool.Get(512)
		defer again.Release()
		if again.Data[0] != 0 {
			t.Error("Expected released buffer to be zeroed")
		}

		stats := pool.Statistics()
		if stats["requests"] == 0 || stats["allocations"] > stats["requests"] {
			t.Errorf("Implausible pool counters: %v", stats)
		}
	})

	t.Run("Oversized Allocation", func(t *testing.T) {
		buf := pool.Get(100000)
		if len(buf.Data) != 100000 {
			t.Errorf("Expected oversized buffer length 100000, got %d", len(buf.Data))
		}
		buf.Release()
	})
}
