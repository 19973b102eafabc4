package output

import (
	"github.com/fatih/color"
)

// Palette holds the colors used by the console report.
type Palette struct {
	Title   *color.Color
	Rule    *color.Color
	Label   *color.Color
	Value   *color.Color
	Latency *color.Color
	Phase   *color.Color
	Dim     *color.Color
	Pass    *color.Color
	Warn    *color.Color
	Fail    *color.Color
}

// DefaultPalette returns the default palette with colors forced on. The
// console decides separately whether to use it.
func DefaultPalette() *Palette {
	p := &Palette{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Label:   color.New(color.Bold),
		Value:   color.New(color.FgCyan),
		Latency: color.New(color.FgBlue),
		Phase:   color.New(color.FgMagenta),
		Dim:     color.New(color.Faint),
		Pass:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Fail:    color.New(color.FgRed),
	}
	for _, c := range p.all() {
		c.EnableColor()
	}
	return p
}

// NoColorPalette returns a palette that prints plain text.
func NoColorPalette() *Palette {
	p := DefaultPalette()
	for _, c := range p.all() {
		c.DisableColor()
	}
	return p
}

func (p *Palette) all() []*color.Color {
	return []*color.Color{p.Title, p.Rule, p.Label, p.Value, p.Latency, p.Phase, p.Dim, p.Pass, p.Warn, p.Fail}
}

// Rate picks pass, warn or fail for a success ratio in [0, 1].
func (p *Palette) Rate(ok float64) *color.Color {
	switch {
	case ok < 0.95:
		return p.Fail
	case ok < 0.99:
		return p.Warn
	default:
		return p.Pass
	}
}

// Mark returns a colored check mark or cross.
func (p *Palette) Mark(passed bool) string {
	if passed {
		return p.Pass.Sprint("✓")
	}
	return p.Fail.Sprint("✗")
}
