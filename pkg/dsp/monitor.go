package dsp

import (
	"math"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

// SpectrumData is one FFT snapshot of the sidetone output.
type SpectrumData struct {
	Timestamp  int64     `json:"timestamp"`
	SampleRate int       `json:"sample_rate"`
	Spectrum   []float32 `json:"spectrum"`  // magnitude per bin, dB
	FreqStep   float32   `json:"freq_step"` // Hz per bin
}

// LevelData is the broadband level of the sidetone output.
type LevelData struct {
	Timestamp int64   `json:"timestamp"`
	RMSLevel  float32 `json:"rms"`  // dBFS
	PeakLevel float32 `json:"peak"` // dBFS
	Clipping  bool    `json:"clipping"`
}

// SpectrumMonitor watches the generator's sample stream and answers
// "what is actually coming out": dominant frequency, level, clipping.
// Used by the web UI and by the sidetone verification tests.
type SpectrumMonitor struct {
	mutex sync.RWMutex

	sampleRate int
	fftSize    int

	currentRMS  float32
	currentPeak float32
	isClipping  bool

	spectrum     []float32
	spectrumTime time.Time

	sampleBuffer []int16
	fftBuffer    []complex128
	window       []float64
}

// NewSpectrumMonitor creates a monitor. fftSize should be a power of two;
// resolution is sampleRate/fftSize Hz per bin.
func NewSpectrumMonitor(sampleRate, fftSize int) *SpectrumMonitor {
	return &SpectrumMonitor{
		sampleRate: sampleRate,
		fftSize:    fftSize,
		spectrum:   make([]float32, fftSize/2),
		fftBuffer:  make([]complex128, fftSize),
		window:     makeHannWindow(fftSize),
	}
}

func makeHannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

// ProcessSamples folds a buffer of samples into the running level and
// spectrum measurements.
func (m *SpectrumMonitor) ProcessSamples(samples []int16) {
	if len(samples) == 0 {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.measureLevels(samples)

	m.sampleBuffer = append(m.sampleBuffer, samples...)
	if len(m.sampleBuffer) >= m.fftSize {
		m.computeSpectrum()
		// Keep only the newest fftSize samples.
		if len(m.sampleBuffer) > m.fftSize {
			copy(m.sampleBuffer, m.sampleBuffer[len(m.sampleBuffer)-m.fftSize:])
			m.sampleBuffer = m.sampleBuffer[:m.fftSize]
		}
	}
}

func (m *SpectrumMonitor) measureLevels(samples []int16) {
	var sumSquares float64
	var peak int16
	clipping := false

	for _, sample := range samples {
		if sample < 0 {
			sample = -sample
		}
		if sample > peak {
			peak = sample
		}
		if sample >= 32000 {
			clipping = true
		}
		sumSquares += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	if rms > 0 {
		m.currentRMS = float32(20.0 * math.Log10(rms/32768.0))
	} else {
		m.currentRMS = -100.0
	}

	if peak > 0 {
		m.currentPeak = float32(20.0 * math.Log10(float64(peak)/32768.0))
	} else {
		m.currentPeak = -100.0
	}
	m.isClipping = clipping
}

func (m *SpectrumMonitor) computeSpectrum() {
	for i := 0; i < m.fftSize; i++ {
		sample := float64(m.sampleBuffer[i]) / 32768.0
		m.fftBuffer[i] = complex(sample*m.window[i], 0)
	}

	fftResult := fft.FFT(m.fftBuffer)

	for i := 0; i < len(m.spectrum); i++ {
		magnitude := math.Hypot(real(fftResult[i]), imag(fftResult[i]))
		if magnitude > 0 {
			m.spectrum[i] = float32(20.0 * math.Log10(magnitude))
		} else {
			m.spectrum[i] = -100.0
		}
	}
	m.spectrumTime = time.Now()
}

// Levels returns the current broadband measurements.
func (m *SpectrumMonitor) Levels() LevelData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return LevelData{
		Timestamp: time.Now().UnixMilli(),
		RMSLevel:  m.currentRMS,
		PeakLevel: m.currentPeak,
		Clipping:  m.isClipping,
	}
}

// Spectrum returns a copy of the latest FFT snapshot.
func (m *SpectrumMonitor) Spectrum() SpectrumData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	spectrum := make([]float32, len(m.spectrum))
	copy(spectrum, m.spectrum)

	return SpectrumData{
		Timestamp:  m.spectrumTime.UnixMilli(),
		SampleRate: m.sampleRate,
		Spectrum:   spectrum,
		FreqStep:   float32(m.sampleRate) / float32(m.fftSize),
	}
}

// DominantFrequency returns the frequency of the strongest bin, in Hz.
// Returns 0 before the first full FFT window.
func (m *SpectrumMonitor) DominantFrequency() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.spectrumTime.IsZero() {
		return 0
	}

	best := 0
	for i := 1; i < len(m.spectrum); i++ {
		if m.spectrum[i] > m.spectrum[best] {
			best = i
		}
	}
	return float64(best) * float64(m.sampleRate) / float64(m.fftSize)
}
