package epaper

import "image"

// AlignRect widens a pixel rectangle to the byte-aligned rectangle the
// panel can address, and returns the number of bytes per packed row.
//
// The panel addresses columns in byte granularity, so the horizontal bounds
// must fall on 8-pixel boundaries. Min.X is floored to a multiple of 8. If
// the requested width is already a multiple of 8 the end is floored too,
// anchoring the window instead of growing it; otherwise Max.X is ceiled.
// Vertical bounds are row-addressed and pass through unchanged. AlignRect
// is idempotent.
func AlignRect(r image.Rectangle) (image.Rectangle, int) {
	aligned := r
	if r.Dx()%8 == 0 {
		aligned.Min.X = r.Min.X &^ 7
		aligned.Max.X = r.Max.X &^ 7
	} else {
		aligned.Min.X = r.Min.X &^ 7
		aligned.Max.X = (r.Max.X + 7) &^ 7
	}
	return aligned, aligned.Dx() / 8
}

// checkRect validates a partial update rectangle against the panel bounds.
// Zero-area rectangles are rejected; an empty window has no wire encoding
// (the inclusive end coordinate would wrap below the start).
func (d *epd7in5b) checkRect(r image.Rectangle) error {
	if r.Empty() ||
		r.Min.X < 0 || r.Min.Y < 0 ||
		r.Max.X > d.width || r.Max.Y > d.height {
		return ErrBounds
	}
	return nil
}
