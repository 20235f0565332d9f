package eeg

import (
	"fmt"
	"strings"
)

// ROISignal is a recording restricted to ROIChannels, in canonical order,
// with one timestamp (seconds from recording start) per sample
type ROISignal struct {
	Channels   []string
	Data       [][]float64
	Timestamps []float64
}

// Len returns the number of samples per channel
func (s *ROISignal) Len() int {
	return len(s.Timestamps)
}

// NormalizeChannelName folds a raw EDF label into its electrode name:
// whitespace trimmed, upper-cased, and an "EEG" prefix removed.
func NormalizeChannelName(label string) string {
	name := strings.ToUpper(strings.TrimSpace(label))
	for _, prefix := range []string{"EEG.", "EEG-", "EEG "} {
		if strings.HasPrefix(name, prefix) {
			name = strings.TrimSpace(name[len(prefix):])
			break
		}
	}
	return name
}

// SelectROI extracts ROIChannels from rec. Every missing channel is named in
// the returned error, which wraps ErrMissingChannel.
func SelectROI(rec *Recording) (*ROISignal, error) {
	index := make(map[string]int, len(rec.Channels))
	for i, label := range rec.Channels {
		name := NormalizeChannelName(label)
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	var missing []string
	for _, ch := range ROIChannels {
		if _, ok := index[ch]; !ok {
			missing = append(missing, ch)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingChannel, strings.Join(missing, ", "))
	}

	// channels can differ in length when records were cut short
	n := -1
	for _, ch := range ROIChannels {
		l := len(rec.Signals[index[ch]])
		if n < 0 || l < n {
			n = l
		}
	}

	rate := rec.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}

	roi := &ROISignal{
		Channels:   append([]string(nil), ROIChannels...),
		Data:       make([][]float64, len(ROIChannels)),
		Timestamps: make([]float64, n),
	}
	for c, ch := range ROIChannels {
		roi.Data[c] = rec.Signals[index[ch]][:n:n]
	}
	for i := range roi.Timestamps {
		roi.Timestamps[i] = float64(i) / rate
	}

	return roi, nil
}
