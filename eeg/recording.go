// Package eeg loads EEG recordings and turns them into fixed-length,
// region-of-interest windows ready for spectral analysis.
package eeg

import (
	"errors"
	"time"
)

const (
	// SampleRate is the sampling frequency every recording must have, in Hz
	SampleRate = 128

	// IntervalSeconds is the stimulus window length
	IntervalSeconds = 6

	// WindowSamples is the number of samples per channel in every window
	WindowSamples = SampleRate * IntervalSeconds

	// sampleRateTolerance is how far a header rate may drift from SampleRate
	sampleRateTolerance = 0.5
)

var (
	// ErrMalformed reports an unreadable or structurally invalid recording
	ErrMalformed = errors.New("malformed recording")

	// ErrSampleRate reports a recording whose sampling rate is not SampleRate
	ErrSampleRate = errors.New("unsupported sample rate")

	// ErrMissingChannel reports that a required ROI channel is absent
	ErrMissingChannel = errors.New("missing ROI channel")
)

// ROIChannels is the canonical 14-electrode set in canonical order
var ROIChannels = []string{
	"AF3", "F7", "F3", "FC5", "T7", "P7", "O1",
	"O2", "P8", "T8", "FC6", "F4", "F8", "AF4",
}

// Recording is one EEG session as read from disk
type Recording struct {
	Path       string            `json:"path"`
	SampleRate float64           `json:"sample_rate"`
	Channels   []string          `json:"channels"`
	Signals    [][]float64       `json:"-"` // channels x samples
	Start      time.Time         `json:"start"`
	Header     map[string]string `json:"header,omitempty"`
}

// Samples returns the length of the shortest channel
func (r *Recording) Samples() int {
	if len(r.Signals) == 0 {
		return 0
	}
	n := len(r.Signals[0])
	for _, s := range r.Signals[1:] {
		n = min(n, len(s))
	}
	return n
}

// Duration returns the recording length
func (r *Recording) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	seconds := float64(r.Samples()) / r.SampleRate
	return time.Duration(seconds * float64(time.Second))
}

// RecordingReader loads a recording from a path
type RecordingReader interface {
	Read(path string) (*Recording, error)
}
