// Package filters holds the time-domain conditioning applied to EEG channels
// before spectral analysis.
package filters

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/braincoder/algorithms/common"
)

// DCRemoval is a one-pole DC blocking (high-pass) filter:
//
//	y[n] = x[n] - x[n-1] + R * y[n-1]
//
// See Julius O. Smith III, "Introduction to Digital Filters",
// https://ccrma.stanford.edu/~jos/filters/DC_Blocker.html
type DCRemoval struct {
	poleLocation float64 // R, 0 < R < 1
	x1           float64
	y1           float64
}

// NewDCRemoval creates a DC blocker with its -3 dB point near cutoffHz.
// The pole follows R = 1 - 2*pi*fc/fs, which holds for fc well below fs/2.
func NewDCRemoval(sampleRate int, cutoffHz float64) (*DCRemoval, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if cutoffHz <= 0 || cutoffHz >= float64(sampleRate)/2 {
		return nil, fmt.Errorf("cutoff %.3g Hz outside (0, %d) Hz", cutoffHz, sampleRate/2)
	}

	r := 1 - 2*math.Pi*cutoffHz/float64(sampleRate)
	return &DCRemoval{poleLocation: common.Clamp(r, 0.001, 0.999)}, nil
}

// Process filters one sample
func (dc *DCRemoval) Process(x float64) float64 {
	y := x - dc.x1 + dc.poleLocation*dc.y1
	dc.x1 = x
	dc.y1 = y
	return y
}

// ProcessBuffer filters a whole window. The mean is subtracted first and the
// filter state is reset, so the blocker does not ring on the recording's
// offset at the start of every window.
func (dc *DCRemoval) ProcessBuffer(input []float64) []float64 {
	dc.Reset()
	mean := common.Mean(input)
	out := make([]float64, len(input))
	for i, x := range input {
		out[i] = dc.Process(x - mean)
	}
	return out
}

// Reset clears the filter state
func (dc *DCRemoval) Reset() {
	dc.x1 = 0
	dc.y1 = 0
}
