// Package progress renders terminal progress bars for long loops. A disabled
// Bar is a no-op so callers never branch on whether output is wanted.
package progress

import (
	"io"
	"os"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Bar tracks completion of a fixed number of steps
type Bar struct {
	container *mpb.Progress
	bar       *mpb.Bar
}

// New starts a bar on stderr. When enabled is false or total is not
// positive the returned Bar does nothing.
func New(enabled bool, name string, total int) *Bar {
	return NewWithOutput(enabled, os.Stderr, name, total)
}

// NewWithOutput starts a bar rendering to w
func NewWithOutput(enabled bool, w io.Writer, name string, total int) *Bar {
	if !enabled || total <= 0 {
		return &Bar{}
	}

	p := mpb.New(mpb.WithWidth(64), mpb.WithOutput(w))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(name+": "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.AverageETA(decor.ET_STYLE_GO),
		),
	)

	return &Bar{container: p, bar: bar}
}

// Increment advances the bar by one step
func (b *Bar) Increment() {
	if b.bar != nil {
		b.bar.Increment()
	}
}

// Done stops the bar, aborting it if the loop ended early, and waits for
// the final render
func (b *Bar) Done() {
	if b.container == nil {
		return
	}
	if !b.bar.Completed() {
		b.bar.Abort(false)
	}
	b.container.Wait()
}
