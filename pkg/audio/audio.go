// Package audio provides the sample sink the tone generator writes into.
// There is no real sound card behind it; the output paces itself to wall
// clock time and fans samples out to taps such as the spectrum monitor.
package audio

import (
	"fmt"
	"sync"
	"time"
)

// Tap receives a copy of every sample buffer written to the output. Taps
// run on the generator's playback goroutine and must not block.
type Tap func(samples []int16)

// Output is a mock audio output. WriteSamples consumes samples at the
// rate a sound card would, which is what gives queued tones their real
// duration.
type Output struct {
	sampleRate int
	bufferSize int
	paced      bool

	mutex   sync.RWMutex
	taps    []Tap
	closed  bool
	written int64

	pool *BufferPool
}

// NewOutput creates an output for the given sample rate. When paced is
// true every write sleeps for the duration of the samples written; tests
// pass false to run playback at full speed.
func NewOutput(sampleRate, bufferSize int, paced bool) (*Output, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if bufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", bufferSize)
	}

	return &Output{
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		paced:      paced,
		pool:       NewBufferPool(maxPooledSamples),
	}, nil
}

// AddTap registers a consumer for the output sample stream.
func (o *Output) AddTap(tap Tap) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.taps = append(o.taps, tap)
}

// WriteSamples delivers samples to all taps and, when pacing is enabled,
// blocks for their playback duration. The caller may reuse the slice
// after WriteSamples returns.
func (o *Output) WriteSamples(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	o.mutex.RLock()
	if o.closed {
		o.mutex.RUnlock()
		return fmt.Errorf("audio output is closed")
	}
	taps := o.taps
	o.mutex.RUnlock()

	if len(taps) > 0 {
		// Taps get a pooled copy so the generator can reuse its buffer.
		buf := o.pool.Get(len(samples))
		copy(buf.Data, samples)
		for _, tap := range taps {
			tap(buf.Data)
		}
		buf.Release()
	}

	o.mutex.Lock()
	o.written += int64(len(samples))
	o.mutex.Unlock()

	if o.paced {
		time.Sleep(time.Duration(len(samples)) * time.Second / time.Duration(o.sampleRate))
	}
	return nil
}

// SampleRate returns the output sample rate in Hz.
func (o *Output) SampleRate() int {
	return o.sampleRate
}

// BufferSize returns the preferred write granularity in samples.
func (o *Output) BufferSize() int {
	return o.bufferSize
}

// TotalSamples returns the number of samples written since creation.
func (o *Output) TotalSamples() int64 {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.written
}

// PoolStatistics exposes the sample buffer pool counters.
func (o *Output) PoolStatistics() map[string]int64 {
	return o.pool.Statistics()
}

// Close marks the output closed. Subsequent writes fail.
func (o *Output) Close() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.closed = true
	return nil
}
