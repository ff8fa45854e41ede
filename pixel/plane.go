package pixel

import (
	"image"
	"image/color"
)

// Plane is one packed bitmap layer in panel RAM layout: 1 bit per pixel,
// most-significant-bit first within a byte, row-major, no padding between
// rows. A set bit means "pixel energized" (draws ink) in the panel's own
// polarity; see Raster for the inverse convention.
type Plane struct {
	// Rect is the plane bounding box.
	Rect image.Rectangle

	// Pix are the packed pixels.
	Pix []byte

	// Stride is the Pix stride (in bytes) between vertically adjacent pixels.
	Stride int
}

// NewPlane returns an all-white plane (no bits set).
func NewPlane(w, h int) *Plane {
	stride := (w + 7) / 8 // round up to whole bytes
	return &Plane{
		Rect:   image.Rect(0, 0, w, h),
		Pix:    make([]byte, stride*h),
		Stride: stride,
	}
}

func (p *Plane) ColorModel() color.Model {
	return MonoModel
}

func (p *Plane) Bounds() image.Rectangle {
	return p.Rect
}

func (p *Plane) PixOffset(x, y int) int {
	return y*p.Stride + x/8
}

func (p *Plane) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(p.Rect) {
		return color.Transparent
	}

	var (
		index = y*p.Stride + x/8
		bit   = byte(0x80) >> uint(x&7)
	)
	return Mono{Ink: p.Pix[index]&bit != 0}
}

func (p *Plane) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}).In(p.Rect) {
		return
	}

	var (
		index = y*p.Stride + x/8
		bit   = byte(0x80) >> uint(x&7)
	)
	if monoModel(c).(Mono).Ink {
		p.Pix[index] |= bit
	} else {
		p.Pix[index] &^= bit
	}
}

// Fill sets every pixel to the given color.
func (p *Plane) Fill(c color.Color) {
	var value byte
	if monoModel(c).(Mono).Ink {
		value = 0xff
	}
	for i := range p.Pix {
		p.Pix[i] = value
	}
}

// Clear resets the plane to all white.
func (p *Plane) Clear() {
	for i := range p.Pix {
		p.Pix[i] = 0x00
	}
}

// Raster returns a copy of the plane in raster convention, where a set bit
// means "light/unset". Panel and raster conventions differ by exactly one
// inversion, so Raster is its own inverse: loading its result back via
// FromRaster yields the original plane bit-for-bit.
func (p *Plane) Raster() []byte {
	out := make([]byte, len(p.Pix))
	for i, v := range p.Pix {
		out[i] = v ^ 0xff
	}
	return out
}

// FromRaster builds a plane from raster-convention bytes (set bit = white).
func FromRaster(raw []byte, w, h int) *Plane {
	p := NewPlane(w, h)
	if len(raw) != len(p.Pix) {
		return p
	}
	for i, v := range raw {
		p.Pix[i] = v ^ 0xff
	}
	return p
}
