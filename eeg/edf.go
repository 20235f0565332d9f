package eeg

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ishiikurisu/edf"

	"github.com/RyanBlaney/braincoder/logging"
)

// edfStartLayout is the EDF header date/time layout ("dd.mm.yy hh.mm.ss")
const edfStartLayout = "02.01.06 15.04.05"

// annotationLabels are EDF+ pseudo-signals that carry no samples of interest
var annotationLabels = map[string]bool{
	"EDF Annotations": true,
	"Crc16":           true,
}

// EDFReader reads European Data Format recordings
type EDFReader struct {
	logger logging.Logger
}

// NewEDFReader creates a reader that logs through the global logger
func NewEDFReader() *EDFReader {
	return &EDFReader{
		logger: logging.WithFields(logging.Fields{
			"component": "edf_reader",
		}),
	}
}

var _ RecordingReader = (*EDFReader)(nil)

// Read loads the file at path. Unreadable files and files without usable
// signals return an error wrapping ErrMalformed.
func (r *EDFReader) Read(path string) (rec *Recording, err error) {
	logger := r.logger.WithFields(logging.Fields{
		"function": "Read",
		"path":     path,
	})

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	// the edf package panics on truncated or corrupt input
	defer func() {
		if p := recover(); p != nil {
			rec = nil
			err = fmt.Errorf("%w: %s: %v", ErrMalformed, path, p)
		}
	}()

	data := edf.ReadFile(path)

	rate := 0.0
	if d := data.GetDuration(); d > 0 {
		rate = float64(data.GetSampling()) / d
	}

	rec, err = newRecording(path, data.Header, data.GetLabels(), data.PhysicalRecords, rate)
	if err != nil {
		return nil, err
	}

	logger.Debug("Recording loaded", logging.Fields{
		"channels":    len(rec.Channels),
		"samples":     rec.Samples(),
		"sample_rate": rec.SampleRate,
		"duration":    rec.Duration().String(),
	})

	return rec, nil
}

// newRecording validates decoded EDF content and assembles a Recording
func newRecording(path string, header map[string]string, labels []string, signals [][]float64, rate float64) (*Recording, error) {
	if len(signals) == 0 {
		return nil, fmt.Errorf("%w: %s has no signals", ErrMalformed, path)
	}
	if len(labels) != len(signals) {
		return nil, fmt.Errorf("%w: %s has %d labels for %d signals", ErrMalformed, path, len(labels), len(signals))
	}
	if math.IsNaN(rate) || math.Abs(rate-SampleRate) > sampleRateTolerance {
		return nil, fmt.Errorf("%w: %s sampled at %.2f Hz, want %d Hz", ErrSampleRate, path, rate, SampleRate)
	}

	rec := &Recording{
		Path:       path,
		SampleRate: SampleRate,
		Header:     header,
	}

	for i, label := range labels {
		label = strings.TrimSpace(label)
		if annotationLabels[label] {
			continue
		}
		rec.Channels = append(rec.Channels, label)
		rec.Signals = append(rec.Signals, signals[i])
	}

	if len(rec.Channels) == 0 {
		return nil, fmt.Errorf("%w: %s has only annotation signals", ErrMalformed, path)
	}

	if header != nil {
		start := strings.TrimSpace(header["startdate"]) + " " + strings.TrimSpace(header["starttime"])
		if t, err := time.ParseInLocation(edfStartLayout, start, time.Local); err == nil {
			rec.Start = t
		}
	}

	return rec, nil
}
