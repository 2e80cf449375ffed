// Package dsp turns audio samples back into CW timing: a Goertzel
// detector produces timestamped key-down/key-up edges for the receiver,
// and a spectrum monitor verifies the sidetone.
package dsp

import (
	"fmt"
	"math"
)

// Goertzel measures the magnitude of one target frequency over a block
// of samples. It is a single-bin DFT, much cheaper than a full FFT when
// only the sidetone frequency matters.
type Goertzel struct {
	coeff     float64
	blockSize int
}

// NewGoertzel creates a detector bin for the target frequency at the
// given sample rate. The block size fixes the time resolution: blockSize
// over sampleRate seconds per magnitude estimate.
func NewGoertzel(targetFreq, sampleRate, blockSize int) (*Goertzel, error) {
	if targetFreq <= 0 || targetFreq*2 > sampleRate {
		return nil, fmt.Errorf("target frequency %d Hz not resolvable at %d Hz sample rate",
			targetFreq, sampleRate)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}

	k := math.Round(float64(blockSize) * float64(targetFreq) / float64(sampleRate))
	omega := 2 * math.Pi * k / float64(blockSize)

	return &Goertzel{
		coeff:     2 * math.Cos(omega),
		blockSize: blockSize,
	}, nil
}

// BlockSize returns the number of samples consumed per magnitude.
func (g *Goertzel) BlockSize() int {
	return g.blockSize
}

// Magnitude computes the normalized magnitude of the target frequency in
// one block. Input samples are int16 PCM; the result is scaled so a
// full-amplitude sine at the target frequency is close to 1.0.
func (g *Goertzel) Magnitude(block []int16) float64 {
	var s0, s1, s2 float64
	for _, sample := range block {
		x := float64(sample) / math.MaxInt16
		s0 = g.coeff*s1 - s2 + x
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - g.coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return 2 * math.Sqrt(power) / float64(g.blockSize)
}
