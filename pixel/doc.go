// Package pixel implements the packed 1-bit-per-pixel plane format used by
// bi-color e-paper panels, and the codec that converts arbitrary raster
// images into it.
package pixel
