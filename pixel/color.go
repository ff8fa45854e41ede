package pixel

import "image/color"

// MonoModel is the color model for single-ink plane pixels.
var MonoModel color.Model = color.ModelFunc(monoModel)

var (
	// White is an unset pixel, no ink.
	White = Mono{}

	// Black is a set pixel. On the red plane the ink renders as red; the
	// name follows the dominant plane.
	Black = Mono{Ink: true}
)

// Mono represents one pixel of a single ink plane.
type Mono struct {
	Ink bool
}

func (c Mono) RGBA() (r, g, b, a uint32) {
	if c.Ink {
		return 0, 0, 0, 0xffff
	}
	return 0xffff, 0xffff, 0xffff, 0xffff
}

func monoModel(c color.Color) color.Color {
	if _, ok := c.(Mono); ok {
		return c
	}
	r, g, b, _ := c.RGBA()

	// Unweighted average with a mid-scale threshold, matching the encoder:
	// >= 128 (in 8-bit terms) is paper white, anything darker is ink.
	y := (r + g + b) / 3
	return Mono{Ink: y>>8 < 128}
}
