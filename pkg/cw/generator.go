package cw

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/morsekit/cwd/pkg/morse"
)

// Sink consumes the audio samples the generator synthesizes. The
// generator assumes WriteSamples paces playback (a real device blocks
// until the samples are accepted).
type Sink interface {
	WriteSamples(samples []int16) error
	SampleRate() int
}

// TimingParameters are the element and space lengths derived from the
// current speed, gap and weighting. The keyer and the send functions use
// these; they are recomputed whenever one of the inputs changes.
type TimingParameters struct {
	Dot             time.Duration
	Dash            time.Duration
	EOEDelay        time.Duration // inter-element space
	EOCDelay        time.Duration // additional space ending a character
	EOWDelay        time.Duration // additional space ending a word
	AdditionalDelay time.Duration // Farnsworth gap after characters
	AdjustmentDelay time.Duration // Farnsworth correction after words
}

// When the queue runs dry the playback goroutine keeps the sink fed with
// short stretches of silence, so the audio stream never stalls.
const silenceQuantum = 10 * time.Millisecond

// Length of the raised-cosine edge applied to sloped tones.
const toneSlopeLength = 2 * time.Millisecond

// Generator owns a tone queue and the single background goroutine that
// drains it into the audio sink. It also ticks the attached iambic keyer
// once per dequeued tone, which is what paces the keyer's state machine.
type Generator struct {
	mu sync.RWMutex

	tq    *ToneQueue
	sink  Sink
	keyer *IambicKeyer

	speed     int
	frequency int
	volume    int
	gap       int
	weighting int

	params TimingParameters
	inSync bool

	running bool
	stop    chan struct{}
	done    chan struct{}

	// Oscillator phase carried across tones so there are no clicks at
	// tone boundaries.
	phase float64
}

// NewGenerator creates a stopped generator with the standard queue
// capacity and initial parameters, writing to the given sink.
func NewGenerator(sink Sink) (*Generator, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidArgument)
	}
	tq, err := NewToneQueue(ToneQueueCapacity)
	if err != nil {
		return nil, err
	}
	g := &Generator{
		tq:        tq,
		sink:      sink,
		speed:     SpeedInitial,
		frequency: FrequencyInitial,
		volume:    VolumeInitial,
		gap:       GapInitial,
		weighting: WeightingInitial,
	}
	g.syncParameters()
	return g, nil
}

// Queue returns the generator's tone queue. The queue is owned by the
// generator and lives exactly as long as it does.
func (g *Generator) Queue() *ToneQueue {
	return g.tq
}

// attachKeyer is called by NewIambicKeyer so the playback goroutine can
// tick the keyer after every dequeued tone.
func (g *Generator) attachKeyer(k *IambicKeyer) {
	g.mu.Lock()
	g.keyer = k
	g.mu.Unlock()
}

// syncParameters recomputes the derived element lengths. Callers hold mu.
//
// The weighting adjustment shifts length between marks and spaces around
// a neutral 50%. The inter-element space compensates by 28/22 of the
// weighting length so the PARIS calibration stays exact (PARIS is 22
// full units and 28 empty ones).
func (g *Generator) syncParameters() {
	if g.inSync {
		return
	}

	unit := unitLength(g.speed)
	weighting := 2 * time.Duration(g.weighting-50) * unit / 100

	g.params.Dot = unit + weighting
	g.params.Dash = 3 * g.params.Dot
	g.params.EOEDelay = unit - 28*weighting/22
	g.params.EOCDelay = 3*unit - g.params.EOEDelay
	g.params.EOWDelay = 7*unit - g.params.EOCDelay
	g.params.AdditionalDelay = time.Duration(g.gap) * unit
	g.params.AdjustmentDelay = 7 * g.params.AdditionalDelay / 3

	g.inSync = true
}

// TimingParameters returns the current derived element lengths.
func (g *Generator) TimingParameters() TimingParameters {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.params
}

// SetSpeed sets the send speed in WPM, 4-60.
func (g *Generator) SetSpeed(wpm int) error {
	if wpm < SpeedMin || wpm > SpeedMax {
		return fmt.Errorf("%w: send speed %d WPM", ErrInvalidArgument, wpm)
	}
	g.mu.Lock()
	g.speed = wpm
	g.inSync = false
	g.syncParameters()
	g.mu.Unlock()
	return nil
}

// Speed returns the send speed in WPM.
func (g *Generator) Speed() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.speed
}

// SetFrequency sets the sidetone frequency in Hz, 0-4000. Zero keys
// silence, which is useful for driving an external transmitter only.
func (g *Generator) SetFrequency(hz int) error {
	if hz < FrequencyMin || hz > FrequencyMax {
		return fmt.Errorf("%w: frequency %d Hz", ErrInvalidArgument, hz)
	}
	g.mu.Lock()
	g.frequency = hz
	g.mu.Unlock()
	return nil
}

// Frequency returns the sidetone frequency in Hz.
func (g *Generator) Frequency() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frequency
}

// SetVolume sets the output volume in percent, 0-100.
func (g *Generator) SetVolume(percent int) error {
	if percent < VolumeMin || percent > VolumeMax {
		return fmt.Errorf("%w: volume %d%%", ErrInvalidArgument, percent)
	}
	g.mu.Lock()
	g.volume = percent
	g.mu.Unlock()
	return nil
}

// Volume returns the output volume in percent.
func (g *Generator) Volume() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.volume
}

// SetGap sets the extra Farnsworth gap in units, 0-60.
func (g *Generator) SetGap(gap int) error {
	if gap < GapMin || gap > GapMax {
		return fmt.Errorf("%w: gap %d", ErrInvalidArgument, gap)
	}
	g.mu.Lock()
	g.gap = gap
	g.inSync = false
	g.syncParameters()
	g.mu.Unlock()
	return nil
}

// Gap returns the extra Farnsworth gap in units.
func (g *Generator) Gap() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gap
}

// SetWeighting sets the mark/space weighting in percent, 20-80.
func (g *Generator) SetWeighting(percent int) error {
	if percent < WeightingMin || percent > WeightingMax {
		return fmt.Errorf("%w: weighting %d%%", ErrInvalidArgument, percent)
	}
	g.mu.Lock()
	g.weighting = percent
	g.inSync = false
	g.syncParameters()
	g.mu.Unlock()
	return nil
}

// Weighting returns the mark/space weighting in percent.
func (g *Generator) Weighting() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.weighting
}

// Start launches the playback goroutine. Starting a running generator is
// an ErrInvalidState.
func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return fmt.Errorf("%w: generator already running", ErrInvalidState)
	}
	g.running = true
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go g.playbackLoop(g.stop, g.done)
	return nil
}

// Stop halts the playback goroutine and discards any queued tones.
func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	stop, done := g.stop, g.done
	g.mu.Unlock()

	close(stop)
	g.tq.Flush()
	<-done
}

// IsRunning reports whether the playback goroutine is active.
func (g *Generator) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}

// Silence discards all queued tones and cuts the output with a short
// falling-slope silence.
func (g *Generator) Silence() {
	g.tq.Flush()
	_ = g.tq.Enqueue(Tone{Frequency: 0, Duration: silenceQuantum, Slope: SlopeFalling})
}

// playbackLoop is the single consumer of the tone queue. Each dequeued
// tone is synthesized into the sink; when the queue is empty a quantum of
// silence keeps the stream alive. After every dequeued tone the attached
// keyer is ticked, which is how keyed elements chain into each other.
func (g *Generator) playbackLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		tone, err := g.tq.Dequeue()
		if err != nil {
			g.writeTone(Tone{Frequency: 0, Duration: silenceQuantum, Slope: SlopeNone})
			continue
		}

		g.writeTone(tone)

		g.mu.RLock()
		keyer := g.keyer
		g.mu.RUnlock()
		if keyer != nil {
			keyer.Tick()
		}
	}
}

// writeTone synthesizes one tone into the sink as 16-bit mono samples,
// applying the requested amplitude slopes.
func (g *Generator) writeTone(tone Tone) {
	rate := g.sink.SampleRate()
	n := int(time.Duration(rate) * tone.Duration / time.Second)
	if n == 0 {
		return
	}

	g.mu.RLock()
	volume := g.volume
	g.mu.RUnlock()

	samples := make([]int16, n)
	if tone.Frequency > 0 && volume > 0 {
		amplitude := 0.9 * float64(volume) / 100.0 * math.MaxInt16
		step := 2 * math.Pi * float64(tone.Frequency) / float64(rate)
		slopeSamples := int(time.Duration(rate) * toneSlopeLength / time.Second)
		if slopeSamples > n/2 {
			slopeSamples = n / 2
		}

		phase := g.phase
		for i := range samples {
			v := amplitude * math.Sin(phase)
			switch tone.Slope {
			case SlopeStandard:
				v *= risingEdge(i, slopeSamples) * fallingEdge(i, n, slopeSamples)
			case SlopeRising:
				v *= risingEdge(i, slopeSamples)
			case SlopeFalling:
				v *= fallingEdge(i, n, slopeSamples)
			}
			samples[i] = int16(v)
			phase += step
		}
		g.phase = math.Mod(phase, 2*math.Pi)
	}

	_ = g.sink.WriteSamples(samples)
}

// risingEdge is a raised-cosine ramp from 0 to 1 over the first
// slopeSamples samples.
func risingEdge(i, slopeSamples int) float64 {
	if slopeSamples == 0 || i >= slopeSamples {
		return 1
	}
	return 0.5 * (1 - math.Cos(math.Pi*float64(i)/float64(slopeSamples)))
}

// fallingEdge is the mirror ramp over the last slopeSamples samples.
func fallingEdge(i, n, slopeSamples int) float64 {
	if slopeSamples == 0 || i < n-slopeSamples {
		return 1
	}
	return 0.5 * (1 - math.Cos(math.Pi*float64(n-1-i)/float64(slopeSamples)))
}

// enqueueMark queues a keyed-down tone of the given length at the
// current frequency. Used by the keyer and the send functions.
func (g *Generator) enqueueMark(d time.Duration) error {
	g.mu.RLock()
	frequency := g.frequency
	g.mu.RUnlock()
	return g.tq.Enqueue(Tone{Frequency: frequency, Duration: d, Slope: SlopeStandard})
}

// enqueueSilence queues a keyed-up gap of the given length.
func (g *Generator) enqueueSilence(d time.Duration) error {
	return g.tq.Enqueue(Tone{Frequency: 0, Duration: d, Slope: SlopeNone})
}

// SendDot queues a dot followed by its inter-element space.
func (g *Generator) SendDot() error {
	p := g.TimingParameters()
	if err := g.enqueueMark(p.Dot); err != nil {
		return err
	}
	return g.enqueueSilence(p.EOEDelay)
}

// SendDash queues a dash followed by its inter-element space.
func (g *Generator) SendDash() error {
	p := g.TimingParameters()
	if err := g.enqueueMark(p.Dash); err != nil {
		return err
	}
	return g.enqueueSilence(p.EOEDelay)
}

// SendCharacterSpace queues the silence that completes an
// end-of-character gap after the last element's inter-element space.
func (g *Generator) SendCharacterSpace() error {
	p := g.TimingParameters()
	return g.enqueueSilence(p.EOCDelay + p.AdditionalDelay)
}

// SendWordSpace queues the silence that turns a character gap into a
// word gap. The space is deliberately split into three tones: a drain
// from a nearly empty queue then visits every length between the
// registered low water mark and zero, so the refill callback can never
// be skipped over.
func (g *Generator) SendWordSpace() error {
	p := g.TimingParameters()
	total := p.EOWDelay + p.AdjustmentDelay
	third := total / 3
	for _, d := range []time.Duration{third, third, total - 2*third} {
		if err := g.enqueueSilence(d); err != nil {
			return err
		}
	}
	return nil
}

// SendRepresentation queues the marks of a dot/dash string, without any
// trailing character space.
func (g *Generator) SendRepresentation(representation string) error {
	for _, mark := range representation {
		var err error
		switch mark {
		case '.':
			err = g.SendDot()
		case '-':
			err = g.SendDash()
		default:
			err = fmt.Errorf("%w: mark %q in representation", ErrInvalidArgument, mark)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SendCharacter queues one character with its end-of-character space.
// Unknown characters fail with morse.ErrNotFound and queue nothing.
func (g *Generator) SendCharacter(c rune) error {
	representation, err := morse.CharacterToRepresentation(c)
	if err != nil {
		return err
	}
	if err := g.SendRepresentation(representation); err != nil {
		return err
	}
	return g.SendCharacterSpace()
}

// SendString queues a whole string. The space character produces a word
// gap; the whole string is validated against the character table before
// anything is queued, so a bad string queues nothing.
func (g *Generator) SendString(s string) error {
	for _, c := range s {
		if c == ' ' {
			continue
		}
		if _, err := morse.CharacterToRepresentation(c); err != nil {
			return err
		}
	}

	for _, c := range s {
		// Long strings throttle at the high water mark rather than
		// failing with a full queue.
		g.tq.WaitForLevel(ToneQueueHighWaterMark)

		var err error
		if c == ' ' {
			err = g.SendWordSpace()
		} else {
			err = g.SendCharacter(c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
