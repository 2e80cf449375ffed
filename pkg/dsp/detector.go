package dsp

import (
	"fmt"
	"time"
)

// EdgeFunc receives confirmed key-down (toneOn true) and key-up edges.
// The timestamp is derived from the sample stream, not the wall clock, so
// timing survives bursty delivery of the audio.
type EdgeFunc func(toneOn bool, t time.Time)

// DetectorConfig holds the tuning knobs for edge detection.
type DetectorConfig struct {
	// Threshold on the normalized Goertzel magnitude above which the
	// tone counts as present.
	Threshold float64
	// Hysteresis is the number of consecutive blocks that must agree
	// before a state change is confirmed. Debounces noise and clicks.
	Hysteresis int
}

// Detector converts an int16 sample stream into timestamped key edges by
// running a Goertzel bin per block and debouncing the result.
type Detector struct {
	config   DetectorConfig
	goertzel *Goertzel
	blockDur time.Duration

	buffer []int16

	toneState    bool
	pendingState bool
	pendingCount int
	pendingStart time.Time

	// Timestamp of the first sample of the next block.
	clock time.Time

	edge EdgeFunc
}

// NewDetector creates an edge detector. The start time anchors the sample
// clock; every emitted edge is start plus the stream position.
func NewDetector(g *Goertzel, sampleRate int, cfg DetectorConfig, start time.Time, edge EdgeFunc) (*Detector, error) {
	if g == nil {
		return nil, fmt.Errorf("goertzel bin is required")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1), got %v", cfg.Threshold)
	}
	if cfg.Hysteresis < 1 {
		return nil, fmt.Errorf("hysteresis must be at least 1 block, got %d", cfg.Hysteresis)
	}

	return &Detector{
		config:   cfg,
		goertzel: g,
		blockDur: time.Duration(g.BlockSize()) * time.Second / time.Duration(sampleRate),
		buffer:   make([]int16, 0, g.BlockSize()),
		clock:    start,
		edge:     edge,
	}, nil
}

// Process consumes samples, emitting an edge for every confirmed tone
// state change. Partial blocks are buffered until the next call.
func (d *Detector) Process(samples []int16) {
	d.buffer = append(d.buffer, samples...)

	blockSize := d.goertzel.BlockSize()
	for len(d.buffer) >= blockSize {
		d.processBlock(d.buffer[:blockSize])
		copy(d.buffer, d.buffer[blockSize:])
		d.buffer = d.buffer[:len(d.buffer)-blockSize]
		d.clock = d.clock.Add(d.blockDur)
	}
}

func (d *Detector) processBlock(block []int16) {
	present := d.goertzel.Magnitude(block) > d.config.Threshold

	if present == d.toneState {
		d.pendingState = d.toneState
		d.pendingCount = 0
		return
	}

	if present == d.pendingState {
		d.pendingCount++
	} else {
		d.pendingState = present
		d.pendingCount = 1
		d.pendingStart = d.clock
	}

	if d.pendingCount >= d.config.Hysteresis {
		d.toneState = d.pendingState
		d.pendingCount = 0
		if d.edge != nil {
			// Backdate to where the pending run began; hysteresis delays
			// confirmation, not the edge itself.
			d.edge(d.toneState, d.pendingStart)
		}
	}
}

// ToneState returns the current confirmed tone state.
func (d *Detector) ToneState() bool {
	return d.toneState
}

// Reset drops buffered samples and returns to the tone-off state without
// emitting an edge. The sample clock is re-anchored to the given time.
func (d *Detector) Reset(start time.Time) {
	d.buffer = d.buffer[:0]
	d.toneState = false
	d.pendingState = false
	d.pendingCount = 0
	d.clock = start
}
