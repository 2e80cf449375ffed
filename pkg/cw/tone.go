package cw

import "time"

// SlopeMode selects how a tone's amplitude envelope is shaped when the
// generator synthesizes it.
type SlopeMode int

const (
	// SlopeStandard applies a rising and a falling slope.
	SlopeStandard SlopeMode = iota
	// SlopeNone plays the tone at full amplitude for its whole duration.
	SlopeNone
	// SlopeRising applies only a rising slope.
	SlopeRising
	// SlopeFalling applies only a falling slope.
	SlopeFalling
)

// String returns the slope mode name for logging.
func (s SlopeMode) String() string {
	switch s {
	case SlopeStandard:
		return "standard"
	case SlopeNone:
		return "none"
	case SlopeRising:
		return "rising"
	case SlopeFalling:
		return "falling"
	default:
		return "unknown"
	}
}

// Tone is a single queueable unit of sound: a frequency held for a duration.
// Frequency 0 means silence. A Tone is immutable once enqueued.
type Tone struct {
	Frequency int           // Hz, 0 = silence
	Duration  time.Duration // must be >= 0
	Slope     SlopeMode
}

// Parameter limits. These mirror the classic hardware-keyer ranges and are
// enforced by every setter that accepts one of these parameters.
const (
	SpeedMin     = 4  // WPM
	SpeedMax     = 60 // WPM
	SpeedInitial = 12

	FrequencyMin     = 0 // Hz, 0 = silent
	FrequencyMax     = 4000
	FrequencyInitial = 800

	VolumeMin     = 0 // percent
	VolumeMax     = 100
	VolumeInitial = 70

	GapMin     = 0 // extra inter-character units
	GapMax     = 60
	GapInitial = 0

	WeightingMin     = 20 // percent
	WeightingMax     = 80
	WeightingInitial = 50

	ToleranceMin     = 0 // percent
	ToleranceMax     = 90
	ToleranceInitial = 50
)

// DotCalibration is the number of microseconds in a dot at 1 WPM: the word
// PARIS is 50 units, so one minute at N WPM gives a unit of 1200000/N us.
const DotCalibration = 1200000 * time.Microsecond

// unitLength returns the length of one dot at the given speed.
func unitLength(wpm int) time.Duration {
	return DotCalibration / time.Duration(wpm)
}
