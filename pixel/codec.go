package pixel

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/MaxHalford/halfgone"
	"github.com/disintegration/imaging"
)

// ErrDimensionMismatch is reported when an image matches neither the panel
// orientation nor its transpose. The encoder still returns a usable blank
// plane so a long-running display loop can carry on.
var ErrDimensionMismatch = errors.New("pixel: image dimensions do not match panel")

// Encode converts an image into a plane of the given panel size.
//
// Images arriving in the transposed orientation are rotated 90°
// counter-clockwise first; the direction is fixed, not caller selectable.
// Conversion is an unweighted RGB average thresholded at 128: lighter
// pixels stay paper white, darker pixels become ink. The returned plane is
// in panel polarity, inverted exactly once from raster convention.
func Encode(img image.Image, w, h int) (*Plane, error) {
	img, err := orient(img, w, h)
	if err != nil {
		return NewPlane(w, h), err
	}
	return threshold(img, w, h), nil
}

// EncodeDithered is Encode with Floyd-Steinberg dithering applied before
// thresholding, for photographic input. Pure black/white input passes
// through unchanged.
func EncodeDithered(img image.Image, w, h int) (*Plane, error) {
	img, err := orient(img, w, h)
	if err != nil {
		return NewPlane(w, h), err
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	return threshold(halfgone.FloydSteinbergDitherer{}.Apply(gray), w, h), nil
}

func orient(img image.Image, w, h int) (image.Image, error) {
	b := img.Bounds()
	switch {
	case b.Dx() == w && b.Dy() == h:
		return img, nil
	case b.Dx() == h && b.Dy() == w:
		return imaging.Rotate90(img), nil
	default:
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d or %dx%d",
			ErrDimensionMismatch, b.Dx(), b.Dy(), w, h, h, w)
	}
}

func threshold(img image.Image, w, h int) *Plane {
	var (
		p   = NewPlane(w, h)
		min = img.Bounds().Min
	)
	for y := 0; y < h; y++ {
		row := y * p.Stride
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(min.X+x, min.Y+y).RGBA()
			if y8 := ((r + g + b) / 3) >> 8; y8 < 128 {
				p.Pix[row+x/8] |= 0x80 >> uint(x&7)
			}
		}
	}
	return p
}
