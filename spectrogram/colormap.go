package spectrogram

import (
	"fmt"
	"image/color"
	"sort"
	"strings"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// paletteSize is the number of discrete colors an intensity maps onto
const paletteSize = 256

var colormaps = map[string]func() palette.ColorMap{
	"kindlmann": moreland.ExtendedKindlmann,
	"blackbody": moreland.ExtendedBlackBody,
}

// Colormaps lists the accepted colormap names
func Colormaps() []string {
	names := []string{"gray"}
	for name := range colormaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookupTable samples the named colormap into paletteSize colors ordered
// from low to high intensity
func lookupTable(name string) ([]color.Color, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	if name == "gray" || name == "grey" {
		lut := make([]color.Color, paletteSize)
		for i := range lut {
			lut[i] = color.Gray{Y: uint8(i)}
		}
		return lut, nil
	}

	newMap, ok := colormaps[name]
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q (supported: %s)", name, strings.Join(Colormaps(), ", "))
	}

	cm := newMap()
	cm.SetMax(1)
	cm.SetMin(0)
	return cm.Palette(paletteSize).Colors(), nil
}
