package pixel

import (
	"bytes"
	"image"
	"image/color"
	"math/rand"
	"testing"
)

func TestPlane(t *testing.T) {
	testCases := []image.Point{
		image.Point{},
		image.Pt(1, 1),
		image.Pt(2, 2),
		image.Pt(13, 7),
		image.Pt(256, 32),
		image.Pt(800, 480),
	}
	for _, test := range testCases {
		t.Run(test.String(), func(it *testing.T) {
			p := NewPlane(test.X, test.Y)

			if v := p.Bounds().Size(); !v.Eq(test) {
				it.Errorf("expected plane size %s, got %s", test, v)
			}

			if v := p.ColorModel(); v != MonoModel {
				it.Errorf("expected color model %T, got %T", MonoModel, v)
			}

			if want := (test.X + 7) / 8; p.Stride != want {
				it.Errorf("expected stride %d, got %d", want, p.Stride)
			}

			it.Run("in-bounds", func(itt *testing.T) {
				for y := 0; y < test.Y; y++ {
					for x := 0; x < test.X; x++ {
						c := testRandomColor()
						p.Set(x, y, c)
						if v := MonoModel.Convert(c); p.At(x, y) != v {
							itt.Fatalf("pixel (%d,%d) is %#+v, expected %#+v (%v)", x, y, p.At(x, y), v, c)
							return
						}
					}
				}
			})

			it.Run("out-bounds", func(itt *testing.T) {
				for y := -test.Y - 1; y < test.Y*2+1; y++ {
					for x := -test.X - 1; x < test.X*2+1; x++ {
						if (image.Point{X: x, Y: y}).In(p.Rect) {
							continue
						}
						p.Set(x, y, testRandomColor())
						if v := p.At(x, y); v != color.Transparent {
							itt.Fatalf("pixel (%d,%d) is %#+v, expected transparent", x, y, v)
							return
						}
					}
				}
			})

			it.Run("fill", func(itt *testing.T) {
				c := testRandomColor()
				p.Fill(c)
				if test.X > 0 && test.Y > 0 {
					x := rand.Intn(test.X)
					y := rand.Intn(test.Y)
					if v := MonoModel.Convert(c); p.At(x, y) != v {
						itt.Fatalf("pixel (%d,%d) is %#+v, expected %#+v (%v)", x, y, p.At(x, y), v, c)
						return
					}
				}
			})

			it.Run("clear", func(itt *testing.T) {
				p.Clear()
				if test.X > 0 && test.Y > 0 {
					x := rand.Intn(test.X)
					y := rand.Intn(test.Y)
					if p.At(x, y) != White {
						itt.Fatalf("pixel (%d,%d) is not white", x, y)
					}
				}
			})
		})
	}
}

func TestPlaneRaster(t *testing.T) {
	p := NewPlane(16, 4)
	p.Set(0, 0, Black)
	p.Set(9, 2, Black)

	raw := p.Raster()
	for i, v := range raw {
		if want := p.Pix[i] ^ 0xff; v != want {
			t.Fatalf("raster byte %d is %#02x, expected %#02x", i, v, want)
		}
	}

	if q := FromRaster(raw, 16, 4); !bytes.Equal(q.Pix, p.Pix) {
		t.Errorf("expected raster round-trip to restore the plane, got % x", q.Pix)
	}
}

func TestFromRasterSizeMismatch(t *testing.T) {
	p := FromRaster([]byte{0xff}, 16, 4)
	if want := 2 * 4; len(p.Pix) != want {
		t.Fatalf("expected %d plane bytes, got %d", want, len(p.Pix))
	}
	for i, v := range p.Pix {
		if v != 0 {
			t.Fatalf("expected byte %d to be clear, got %#02x", i, v)
		}
	}
}

func testRandomColor() color.Color {
	return color.RGBA{
		R: uint8(rand.Intn(255)),
		G: uint8(rand.Intn(255)),
		B: uint8(rand.Intn(255)),
		A: 0xFF,
	}
}
