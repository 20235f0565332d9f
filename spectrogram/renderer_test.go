package spectrogram

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/RyanBlaney/braincoder/config"
	"github.com/RyanBlaney/braincoder/logging"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

func tone(freq float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2*math.Pi*freq*float64(i)/128) + 0.01*math.Sin(2*math.Pi*3*float64(i)/128)
	}
	return out
}

func grayConfig() config.SpectrogramConfig {
	cfg := config.DefaultSpectrogramConfig()
	cfg.Colormap = "gray"
	cfg.Width = 64
	cfg.Height = 48
	return cfg
}

func TestIntensitiesPeakAtToneFrequency(t *testing.T) {
	r, err := NewRenderer(grayConfig(), 128)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	intensities, err := r.Intensities(tone(20, 768))
	if err != nil {
		t.Fatalf("Intensities: %v", err)
	}

	if len(intensities) != 65 || len(intensities[0]) != 41 {
		t.Fatalf("shape = %dx%d, want 65x41", len(intensities), len(intensities[0]))
	}
	for frame := range intensities[0] {
		peak := 0
		for bin := range intensities {
			if intensities[bin][frame] > intensities[peak][frame] {
				peak = bin
			}
		}
		if peak != 20 {
			t.Fatalf("frame %d peak bin = %d, want 20", frame, peak)
		}
		if intensities[peak][frame] < 0.99 {
			t.Fatalf("peak intensity %v, want ~1", intensities[peak][frame])
		}
	}
}

func TestRenderWritesAndOverwritesPNG(t *testing.T) {
	r, err := NewRenderer(grayConfig(), 128)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "nested", "7_c_3.png")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := r.Render(tone(10, 768), path); err != nil {
		t.Fatalf("Render: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Fatalf("image size = %dx%d, want 64x48", b.Dx(), b.Dy())
	}
}

func TestRenderRejectsShortSignal(t *testing.T) {
	r, err := NewRenderer(grayConfig(), 128)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "short.png")
	if err := r.Render(make([]float64, 10), path); err == nil {
		t.Fatal("expected error for signal shorter than the STFT window")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("no file should be written on failure, stat err = %v", err)
	}
}

func TestNewRendererValidation(t *testing.T) {
	cfg := grayConfig()
	cfg.Colormap = "jet"
	if _, err := NewRenderer(cfg, 128); err == nil {
		t.Error("expected unknown colormap error")
	}

	cfg = grayConfig()
	cfg.Window = "gaussian"
	if _, err := NewRenderer(cfg, 128); err == nil {
		t.Error("expected unknown window error")
	}

	cfg = grayConfig()
	cfg.Width = 0
	if _, err := NewRenderer(cfg, 128); err == nil {
		t.Error("expected size error")
	}
}

func TestLookupTableColormaps(t *testing.T) {
	for _, name := range Colormaps() {
		lut, err := lookupTable(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(lut) != paletteSize {
			t.Fatalf("%s: %d colors, want %d", name, len(lut), paletteSize)
		}
	}
}

func TestHighpassRemovesRecordingOffset(t *testing.T) {
	samples := tone(20, 768)
	for i := range samples {
		samples[i] += 4000
	}

	peakBin := func(cfg config.SpectrogramConfig) int {
		r, err := NewRenderer(cfg, 128)
		if err != nil {
			t.Fatal(err)
		}
		intensities, err := r.Intensities(samples)
		if err != nil {
			t.Fatal(err)
		}
		frame := len(intensities[0]) / 2
		peak := 0
		for bin := range intensities {
			if intensities[bin][frame] > intensities[peak][frame] {
				peak = bin
			}
		}
		return peak
	}

	if got := peakBin(grayConfig()); got != 0 {
		t.Fatalf("unfiltered peak bin = %d, want the offset at 0", got)
	}

	cfg := grayConfig()
	cfg.HighpassHz = 0.5
	if got := peakBin(cfg); got != 20 {
		t.Errorf("filtered peak bin = %d, want 20", got)
	}
}
