package eeg

import (
	"sort"

	"github.com/RyanBlaney/braincoder/algorithms/common"
)

// Window is a fixed-length slice of every ROI channel
type Window struct {
	Start float64     // seconds
	End   float64     // seconds, exclusive
	Data  [][]float64 // channels x WindowSamples

	// Observed is the number of samples per channel that came from the
	// recording before truncation or padding
	Observed int
}

// Padded reports whether the window was filled with mean padding
func (w *Window) Padded() bool {
	return w.Observed < WindowSamples
}

// ExtractWindow returns the samples of roi whose timestamps fall in
// [start, end), fitted to exactly WindowSamples per channel: longer spans keep
// their first WindowSamples samples, shorter ones are padded with the mean of
// the channel's observed samples. A span with no samples yields zeros.
func ExtractWindow(roi *ROISignal, start, end float64) *Window {
	ts := roi.Timestamps
	lo := sort.SearchFloat64s(ts, start)
	hi := sort.SearchFloat64s(ts, end)
	if hi < lo {
		hi = lo
	}

	w := &Window{
		Start:    start,
		End:      end,
		Data:     make([][]float64, len(roi.Data)),
		Observed: hi - lo,
	}

	for c, channel := range roi.Data {
		w.Data[c] = FitLength(channel[lo:hi], WindowSamples)
	}

	return w
}

// FitLength copies samples into a slice of exactly n values, truncating to
// the first n or padding with the mean of samples.
func FitLength(samples []float64, n int) []float64 {
	out := make([]float64, n)
	copied := copy(out, samples)
	if copied == n {
		return out
	}

	fill := common.Mean(samples)
	for i := copied; i < n; i++ {
		out[i] = fill
	}
	return out
}
