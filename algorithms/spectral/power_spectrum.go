package spectral

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// powerFloor keeps log10 finite for silent bins
const powerFloor = 1e-20

// PowerSpectrum converts STFT magnitudes into power and decibel matrices
type PowerSpectrum struct{}

// NewPowerSpectrum creates a new power spectrum calculator
func NewPowerSpectrum() *PowerSpectrum {
	return &PowerSpectrum{}
}

// ComputeFromSTFT squares every magnitude of the STFT
func (ps *PowerSpectrum) ComputeFromSTFT(stftResult *STFTResult) [][]float64 {
	power := make([][]float64, stftResult.TimeFrames)

	for t := 0; t < stftResult.TimeFrames; t++ {
		power[t] = make([]float64, stftResult.FreqBins)
		for f := 0; f < stftResult.FreqBins; f++ {
			mag := stftResult.Magnitude[t][f]
			power[t][f] = mag * mag
		}
	}

	return power
}

// Decibels converts a power matrix to dB and clamps it to dynamicRangeDB
// below its maximum. A non-positive range disables clamping.
func (ps *PowerSpectrum) Decibels(power [][]float64, dynamicRangeDB float64) [][]float64 {
	db := make([][]float64, len(power))
	peak := math.Inf(-1)

	for t, frame := range power {
		db[t] = make([]float64, len(frame))
		for f, p := range frame {
			db[t][f] = 10 * math.Log10(math.Max(p, powerFloor))
		}
		if len(frame) > 0 {
			peak = math.Max(peak, floats.Max(db[t]))
		}
	}

	if dynamicRangeDB <= 0 || math.IsInf(peak, -1) {
		return db
	}

	floor := peak - dynamicRangeDB
	for _, frame := range db {
		for f := range frame {
			if frame[f] < floor {
				frame[f] = floor
			}
		}
	}

	return db
}
