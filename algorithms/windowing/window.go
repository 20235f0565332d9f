package windowing

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Type names an analysis window
type Type string

const (
	TypeHann        Type = "hann"
	TypeHamming     Type = "hamming"
	TypeBlackman    Type = "blackman"
	TypeRectangular Type = "rectangular"
)

// generator returns the coefficient at index i of an n-point window whose
// period denominator is d (n for periodic windows, n-1 for symmetric ones)
type generator func(i int, d float64) float64

var generators = map[Type]generator{
	TypeHann: func(i int, d float64) float64 {
		return 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/d))
	},
	TypeHamming: func(i int, d float64) float64 {
		return 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/d)
	},
	TypeBlackman: func(i int, d float64) float64 {
		arg := 2 * math.Pi * float64(i) / d
		return 0.42 - 0.5*math.Cos(arg) + 0.08*math.Cos(2*arg)
	},
	TypeRectangular: func(int, float64) float64 {
		return 1.0
	},
}

// Types lists the supported window names in sorted order
func Types() []string {
	names := make([]string, 0, len(generators))
	for t := range generators {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// Window holds precomputed coefficients for one window type and size
type Window struct {
	size         int
	coefficients []float64
}

// New creates a window of the given type. Periodic windows (symmetric=false)
// are the usual choice for spectral analysis.
func New(kind Type, size int, symmetric bool) (*Window, error) {
	kind = Type(strings.ToLower(strings.TrimSpace(string(kind))))
	gen, ok := generators[kind]
	if !ok {
		return nil, fmt.Errorf("unknown window type %q (supported: %s)", kind, strings.Join(Types(), ", "))
	}
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}

	denominator := float64(size)
	if symmetric && size > 1 {
		denominator = float64(size - 1)
	}

	coefficients := make([]float64, size)
	for i := range size {
		coefficients[i] = gen(i, denominator)
	}

	return &Window{
		size:         size,
		coefficients: coefficients,
	}, nil
}

// ApplyInPlace multiplies signal by the window coefficients
func (w *Window) ApplyInPlace(signal []float64) error {
	if len(signal) != w.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), w.size)
	}

	for i, c := range w.coefficients {
		signal[i] *= c
	}
	return nil
}
