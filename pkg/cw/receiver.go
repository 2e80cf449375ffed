package cw

import (
	"fmt"
	"math"
	"time"

	"github.com/morsekit/cwd/pkg/morse"
)

// ReceiverState is the externally visible state of the timing decoder.
type ReceiverState int

const (
	// RecIdle means no mark has been seen since the last reset.
	RecIdle ReceiverState = iota
	// RecMark means a mark is open: MarkBegin was called, MarkEnd was not.
	RecMark
	// RecSpace means the receiver is inside the space after a mark.
	RecSpace
)

// String returns the state name for logging.
func (s ReceiverState) String() string {
	switch s {
	case RecIdle:
		return "idle"
	case RecMark:
		return "mark"
	case RecSpace:
		return "space"
	default:
		return "unknown"
	}
}

// MaxRepresentationLength is the longest representation the character
// table knows about, so the receiver never needs to buffer more marks.
const MaxRepresentationLength = 7

// Smoothing constant for the adaptive dot length estimate: each classified
// mark moves the estimate 1/K of the way towards the new sample.
const adaptiveSmoothing = 4

// Number of deviation samples kept per statistics ring.
const statisticsCapacity = 256

// statCategory tags a deviation sample in the statistics ring.
type statCategory int

const (
	statNone statCategory = iota
	statDot
	statDash
	statMarkSpace // space between marks inside one character
	statCharSpace // space ending a character
)

type statSample struct {
	category statCategory
	delta    time.Duration // actual - ideal, signed
}

// Statistics holds the sample standard deviation of timing error per
// category, over the samples currently held in the ring.
type Statistics struct {
	Dot       time.Duration
	Dash      time.Duration
	MarkSpace time.Duration
	CharSpace time.Duration
}

// recParameters are the derived classification windows. They are
// recomputed whenever speed, tolerance, gap or the adaptive estimate
// change ("parameter synchronization").
type recParameters struct {
	dotIdeal  time.Duration
	dashIdeal time.Duration
	eomIdeal  time.Duration // ideal inter-mark space
	eocIdeal  time.Duration // ideal end-of-character space

	dotMin, dotMax   time.Duration
	dashMin, dashMax time.Duration
	eomMin, eomMax   time.Duration
	eocMin, eocMax   time.Duration

	// End-of-word thresholds. A space at or beyond eowMin is a word gap;
	// in fixed-speed mode a space beyond eowMax is reported as an error.
	eowMin, eowMax time.Duration
}

// Receiver converts timestamped mark/space edges into dot/dash
// representations and characters, with optional adaptive speed tracking
// and timing-jitter statistics.
//
// A Receiver is not internally synchronized: callers must serialize all
// calls against one instance, typically by confining them to the
// goroutine that produces the timestamps.
type Receiver struct {
	state ReceiverState

	markStart time.Time
	markEnd   time.Time

	representation []byte
	errPending     bool // a mark or space inside this character was bad

	// Once frozen, PollRepresentation keeps returning the finalized
	// representation (possibly upgrading it to a word boundary) until
	// ResetState is called.
	frozen     bool
	frozenWord bool

	speed      float64 // WPM; fractional in adaptive mode
	tolerance  int     // percent
	gap        int
	adaptive   bool
	avgDotLen  time.Duration // smoothed dot estimate, adaptive mode only
	noiseSpike time.Duration // marks at or below this length are ignored

	params recParameters
	inSync bool

	stats    [statisticsCapacity]statSample
	statsIdx int
}

// NewReceiver creates a fixed-speed receiver at the initial speed and
// tolerance. Call SetAdaptive to enable speed tracking.
func NewReceiver() *Receiver {
	r := &Receiver{
		speed:      SpeedInitial,
		tolerance:  ToleranceInitial,
		noiseSpike: unitLength(SpeedMax) / 2,
		avgDotLen:  unitLength(SpeedInitial),
	}
	r.syncParameters()
	return r
}

// SetSpeed sets the fixed receive speed in WPM. It fails with
// ErrInvalidState while adaptive tracking is enabled and with
// ErrInvalidArgument outside the 4-60 WPM range.
func (r *Receiver) SetSpeed(wpm int) error {
	if r.adaptive {
		return fmt.Errorf("%w: receive speed is under adaptive control", ErrInvalidState)
	}
	if wpm < SpeedMin || wpm > SpeedMax {
		return fmt.Errorf("%w: receive speed %d WPM", ErrInvalidArgument, wpm)
	}
	r.speed = float64(wpm)
	r.avgDotLen = unitLength(wpm)
	r.inSync = false
	r.syncParameters()
	return nil
}

// Speed returns the current receive speed in WPM. In adaptive mode this
// tracks the incoming signal and may be fractional.
func (r *Receiver) Speed() float64 {
	return r.speed
}

// SetTolerance sets the percentage window around the ideal dot and dash
// lengths within which a mark is still classified, 0-90.
func (r *Receiver) SetTolerance(percent int) error {
	if percent < ToleranceMin || percent > ToleranceMax {
		return fmt.Errorf("%w: tolerance %d%%", ErrInvalidArgument, percent)
	}
	r.tolerance = percent
	r.inSync = false
	r.syncParameters()
	return nil
}

// SetGap sets the extra Farnsworth-style gap, widening the expected
// end-of-character window, 0-60.
func (r *Receiver) SetGap(gap int) error {
	if gap < GapMin || gap > GapMax {
		return fmt.Errorf("%w: gap %d", ErrInvalidArgument, gap)
	}
	r.gap = gap
	r.inSync = false
	r.syncParameters()
	return nil
}

// SetAdaptive enables or disables adaptive speed tracking. Enabling seeds
// the dot length estimate from the current fixed speed.
func (r *Receiver) SetAdaptive(adaptive bool) {
	if r.adaptive == adaptive {
		return
	}
	r.adaptive = adaptive
	r.avgDotLen = DotCalibration / time.Duration(math.Round(r.speed))
	r.inSync = false
	r.syncParameters()
}

// Adaptive reports whether adaptive speed tracking is enabled.
func (r *Receiver) Adaptive() bool {
	return r.adaptive
}

// SetNoiseSpikeThreshold sets the length at or below which a mark is
// discarded as a noise spike. Zero disables the filter.
func (r *Receiver) SetNoiseSpikeThreshold(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: noise spike threshold %v", ErrInvalidArgument, d)
	}
	r.noiseSpike = d
	return nil
}

// State returns the receiver's current state.
func (r *Receiver) State() ReceiverState {
	return r.state
}

// syncParameters recomputes the classification windows. In fixed-speed
// mode the windows come from the configured WPM and tolerance; in
// adaptive mode they are derived from the smoothed dot length estimate,
// with any mark longer than two dots read as a dash.
func (r *Receiver) syncParameters() {
	if r.inSync {
		return
	}
	p := &r.params

	if r.adaptive {
		unit := r.avgDotLen
		r.speed = float64(DotCalibration) / float64(unit)

		p.dotIdeal = unit
		p.dashIdeal = 3 * unit
		p.eomIdeal = unit
		p.eocIdeal = 3 * unit

		p.dotMin = 0
		p.dotMax = 2 * unit
		p.dashMin = p.dotMax
		p.dashMax = time.Duration(math.MaxInt64)

		p.eomMin = 0
		p.eomMax = 2 * unit
		p.eocMin = p.eomMax
		p.eocMax = 5 * unit
		p.eowMin = 7 * unit
		p.eowMax = time.Duration(math.MaxInt64)
	} else {
		unit := DotCalibration / time.Duration(math.Round(r.speed))
		additional := time.Duration(r.gap) * unit
		adjustment := 7 * additional / 3

		p.dotIdeal = unit
		p.dashIdeal = 3 * unit
		p.eomIdeal = unit
		p.eocIdeal = 3 * unit

		// The tolerance window is derived from the dot length and applied
		// symmetrically around both ideals, so with tolerance <= 90% the
		// dot and dash ranges can never overlap.
		tol := unit * time.Duration(r.tolerance) / 100
		p.dotMin = unit - tol
		p.dotMax = unit + tol
		p.dashMin = 3*unit - tol
		p.dashMax = 3*unit + tol

		p.eomMin = p.dotMin
		p.eomMax = p.dotMax
		p.eocMin = p.dashMin
		p.eocMax = p.dashMax + additional + adjustment

		p.eowMin = 7*unit - tol + additional
		p.eowMax = 7*unit + tol + additional + adjustment
	}

	r.inSync = true
}

// MarkBegin records the start of a mark. It fails with ErrInvalidState if
// a mark is already open or a finalized representation has not been
// cleared with ResetState.
func (r *Receiver) MarkBegin(t time.Time) error {
	if r.state == RecMark {
		return fmt.Errorf("%w: mark already open", ErrInvalidState)
	}
	if r.frozen {
		return fmt.Errorf("%w: finalized representation pending ResetState", ErrInvalidState)
	}

	if r.state == RecSpace {
		// The gap between the previous mark and this one is an
		// inter-mark space; record it for jitter statistics.
		r.updateStats(statMarkSpace, t.Sub(r.markEnd))
	}

	r.markStart = t
	r.state = RecMark
	return nil
}

// MarkEnd records the end of the open mark and classifies it as a dot or
// a dash, appending to the representation. A mark at or below the noise
// spike threshold is discarded with ErrNoiseSpike and state restored. A
// mark that fits neither window fails with ErrMarkOutOfRange; the error is
// remembered and reported through the is-error flag of the next poll, so
// the caller can resynchronize without tearing the receiver down.
func (r *Receiver) MarkEnd(t time.Time) error {
	if r.state != RecMark {
		return fmt.Errorf("%w: no open mark", ErrInvalidState)
	}

	markLen := t.Sub(r.markStart)

	if r.noiseSpike > 0 && markLen <= r.noiseSpike {
		// Just a spike. Put the receiver back where it was before the
		// matching MarkBegin; markEnd still refers to the previous
		// genuine mark.
		if len(r.representation) == 0 {
			r.state = RecIdle
		} else {
			r.state = RecSpace
		}
		return fmt.Errorf("%w: %v", ErrNoiseSpike, markLen)
	}

	r.markEnd = t
	r.syncParameters()

	var mark byte
	switch {
	case markLen >= r.params.dotMin && markLen <= r.params.dotMax:
		mark = '.'
	case markLen >= r.params.dashMin && markLen <= r.params.dashMax:
		mark = '-'
	default:
		// Neither dot nor dash. Remember the error, stay receptive.
		r.errPending = true
		r.state = RecSpace
		return fmt.Errorf("%w: %v (dot %v-%v, dash %v-%v)", ErrMarkOutOfRange,
			markLen, r.params.dotMin, r.params.dotMax,
			r.params.dashMin, r.params.dashMax)
	}

	if r.adaptive {
		r.updateAdaptive(markLen, mark)
	}

	// Statistics are recorded after the adaptive update on purpose: when
	// tracking a speed change the smoothed ideals lag the signal, and
	// measuring against the updated ideal keeps the deviations honest.
	if mark == '.' {
		r.updateStats(statDot, markLen)
	} else {
		r.updateStats(statDash, markLen)
	}

	if len(r.representation) >= MaxRepresentationLength {
		r.errPending = true
		r.state = RecSpace
		return fmt.Errorf("%w: representation longer than %d marks",
			ErrMarkOutOfRange, MaxRepresentationLength)
	}

	r.representation = append(r.representation, mark)
	r.state = RecSpace
	return nil
}

// updateAdaptive folds a classified mark into the smoothed dot length
// estimate and resynchronizes the windows. A dash contributes a third of
// its length. The derived speed is clamped to the supported range.
func (r *Receiver) updateAdaptive(markLen time.Duration, mark byte) {
	sample := markLen
	if mark == '-' {
		sample = markLen / 3
	}

	r.avgDotLen += (sample - r.avgDotLen) / adaptiveSmoothing

	if floor := unitLength(SpeedMax); r.avgDotLen < floor {
		r.avgDotLen = floor
	}
	if ceiling := unitLength(SpeedMin); r.avgDotLen > ceiling {
		r.avgDotLen = ceiling
	}

	r.inSync = false
	r.syncParameters()
}

// PollRepresentation classifies the space elapsed since the last mark.
// Before the end-of-character window opens it fails with ErrNotReady and
// mutates nothing. Once the space fits the window the representation is
// frozen and returned, together with isWord (the space has grown past the
// word threshold of about seven dots) and isError (some mark inside the
// character was out of tolerance, or, in fixed-speed mode, the space is
// too long even for a word gap). Repeated polls return the frozen
// representation, upgrading isWord as the space grows.
func (r *Receiver) PollRepresentation(t time.Time) (representation string, isWord, isError bool, err error) {
	if r.state != RecSpace && !r.frozen {
		return "", false, false, fmt.Errorf("%w: receiver %v", ErrInvalidState, r.state)
	}

	r.syncParameters()
	spaceLen := t.Sub(r.markEnd)

	if !r.frozen {
		if spaceLen < r.params.eocMin {
			return "", false, false, ErrNotReady
		}
		if spaceLen <= r.params.eocMax {
			r.updateStats(statCharSpace, spaceLen)
		}
		r.frozen = true
	}

	if spaceLen >= r.params.eowMin {
		r.frozenWord = true
	}
	if !r.adaptive && spaceLen > r.params.eowMax {
		r.errPending = true
	}

	return string(r.representation), r.frozenWord, r.errPending, nil
}

// PollCharacter looks the frozen representation up in the character
// table. It shares PollRepresentation's not-ready and state semantics and
// fails with morse.ErrNotFound for an unknown representation. The
// representation buffer is left untouched; call ResetState to prepare for
// the next character.
func (r *Receiver) PollCharacter(t time.Time) (c rune, isWord, isError bool, err error) {
	representation, isWord, isError, err := r.PollRepresentation(t)
	if err != nil {
		return 0, false, false, err
	}

	c, err = morse.RepresentationToCharacter(representation)
	if err != nil {
		return 0, isWord, isError, err
	}
	return c, isWord, isError, nil
}

// ResetState clears the representation buffer and returns the receiver to
// idle, ready for the next character. Statistics and speed tracking are
// preserved.
func (r *Receiver) ResetState() {
	r.state = RecIdle
	r.representation = r.representation[:0]
	r.errPending = false
	r.frozen = false
	r.frozenWord = false
}

// updateStats pushes one signed deviation from ideal into the ring.
func (r *Receiver) updateStats(category statCategory, actual time.Duration) {
	r.syncParameters()

	var ideal time.Duration
	switch category {
	case statDot:
		ideal = r.params.dotIdeal
	case statDash:
		ideal = r.params.dashIdeal
	case statMarkSpace:
		ideal = r.params.eomIdeal
	case statCharSpace:
		ideal = r.params.eocIdeal
	}

	r.stats[r.statsIdx] = statSample{category: category, delta: actual - ideal}
	r.statsIdx = (r.statsIdx + 1) % statisticsCapacity
}

// GetStatistics returns the standard deviation of the timing error per
// category over the buffered samples.
func (r *Receiver) GetStatistics() Statistics {
	return Statistics{
		Dot:       r.statsFor(statDot),
		Dash:      r.statsFor(statDash),
		MarkSpace: r.statsFor(statMarkSpace),
		CharSpace: r.statsFor(statCharSpace),
	}
}

func (r *Receiver) statsFor(category statCategory) time.Duration {
	var sumSquares float64
	count := 0
	for _, s := range r.stats {
		if s.category == category {
			d := float64(s.delta)
			sumSquares += d * d
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return time.Duration(math.Sqrt(sumSquares / float64(count)))
}

// ResetStatistics clears all buffered deviation samples.
func (r *Receiver) ResetStatistics() {
	r.stats = [statisticsCapacity]statSample{}
	r.statsIdx = 0
}
