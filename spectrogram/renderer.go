// Package spectrogram renders single-channel EEG windows as time-frequency
// raster images without axes, suitable as model inputs.
package spectrogram

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"github.com/RyanBlaney/braincoder/algorithms/common"
	"github.com/RyanBlaney/braincoder/algorithms/filters"
	"github.com/RyanBlaney/braincoder/algorithms/spectral"
	"github.com/RyanBlaney/braincoder/algorithms/windowing"
	"github.com/RyanBlaney/braincoder/config"
	"github.com/RyanBlaney/braincoder/logging"
)

// Renderer turns a time series into a spectrogram PNG. It is not safe for
// concurrent use when high-pass filtering is enabled.
type Renderer struct {
	cfg        config.SpectrogramConfig
	sampleRate int
	stft       *spectral.STFT
	power      *spectral.PowerSpectrum
	window     *windowing.Window
	highpass   *filters.DCRemoval
	lut        []color.Color
	logger     logging.Logger
}

// NewRenderer validates cfg and precomputes the analysis window and palette
func NewRenderer(cfg config.SpectrogramConfig, sampleRate int) (*Renderer, error) {
	if cfg.WindowSize <= 0 || cfg.HopSize <= 0 {
		return nil, fmt.Errorf("window size and hop size must be positive")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive")
	}

	window, err := windowing.New(windowing.Type(cfg.Window), cfg.WindowSize, false)
	if err != nil {
		return nil, err
	}

	lut, err := lookupTable(cfg.Colormap)
	if err != nil {
		return nil, err
	}

	var highpass *filters.DCRemoval
	if cfg.HighpassHz > 0 {
		highpass, err = filters.NewDCRemoval(sampleRate, cfg.HighpassHz)
		if err != nil {
			return nil, err
		}
	}

	return &Renderer{
		cfg:        cfg,
		sampleRate: sampleRate,
		stft:       spectral.NewSTFT(),
		power:      spectral.NewPowerSpectrum(),
		window:     window,
		highpass:   highpass,
		lut:        lut,
		logger: logging.WithFields(logging.Fields{
			"component": "spectrogram_renderer",
		}),
	}, nil
}

// Intensities returns the spectrogram as a frequency x time matrix of values
// in [0, 1], row 0 holding the lowest frequency
func (r *Renderer) Intensities(samples []float64) ([][]float64, error) {
	if r.highpass != nil {
		samples = r.highpass.ProcessBuffer(samples)
	}

	stftResult, err := r.stft.ComputeWithWindow(samples, r.cfg.WindowSize, r.cfg.HopSize, r.sampleRate, r.window)
	if err != nil {
		return nil, err
	}

	db := r.power.Decibels(r.power.ComputeFromSTFT(stftResult), r.cfg.DynamicRangeDB)

	flat := make([]float64, 0, stftResult.TimeFrames*stftResult.FreqBins)
	for f := range stftResult.FreqBins {
		for t := range stftResult.TimeFrames {
			flat = append(flat, db[t][f])
		}
	}
	flat = common.MinMaxNormalize(flat)

	out := make([][]float64, stftResult.FreqBins)
	for f := range out {
		out[f] = flat[f*stftResult.TimeFrames : (f+1)*stftResult.TimeFrames]
	}
	return out, nil
}

// Image renders samples at the configured output size
func (r *Renderer) Image(samples []float64) (image.Image, error) {
	intensities, err := r.Intensities(samples)
	if err != nil {
		return nil, err
	}

	bins := len(intensities)
	frames := len(intensities[0])
	cells := image.NewRGBA(image.Rect(0, 0, frames, bins))
	last := float64(len(r.lut) - 1)

	for f, row := range intensities {
		// low frequencies at the bottom of the image
		y := bins - 1 - f
		for t, v := range row {
			idx := int(common.Clamp(v, 0, 1)*last + 0.5)
			cells.Set(t, y, r.lut[idx])
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, r.cfg.Width, r.cfg.Height))
	xdraw.BiLinear.Scale(out, out.Bounds(), cells, cells.Bounds(), xdraw.Src, nil)
	return out, nil
}

// Render writes the spectrogram of samples to path as a PNG, replacing any
// existing file
func (r *Renderer) Render(samples []float64, path string) error {
	img, err := r.Image(samples)
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	r.logger.Debug("Spectrogram written", logging.Fields{"path": path})
	return nil
}
