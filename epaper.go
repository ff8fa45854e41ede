// Package epaper contains a driver for bi-color (black/red) e-paper panels
// driven over a command/data SPI interface with auxiliary GPIO control
// lines.
package epaper

import (
	"context"
	"errors"
	"image"
	"log"
	"os"

	"github.com/alchemist-s/epaper/pixel"
)

var debug bool

func init() {
	debug = os.Getenv("EPAPER_DEBUG") != ""
}

func debugf(format string, args ...interface{}) {
	if debug {
		log.Printf(format, args...)
	}
}

// Errors
var (
	ErrBounds         = errors.New("epaper: rectangle out of panel bounds")
	ErrPlaneSize      = errors.New("epaper: plane size does not match panel")
	ErrNotInitialized = errors.New("epaper: panel not initialized")
	ErrNotPartialMode = errors.New("epaper: panel not in partial refresh mode")
	ErrSleeping       = errors.New("epaper: panel is in deep sleep")
	ErrBusyTimeout    = errors.New("epaper: busy wait deadline exceeded")
)

// Mode is the panel initialization mode. It determines which refresh
// operations are valid on the session.
type Mode uint8

// Supported modes.
const (
	ModeNone Mode = iota // not initialized
	ModeFull             // full refresh waveform
	ModeFast             // shortened refresh waveform
	ModePartial          // windowed differential refresh
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeFast:
		return "fast"
	case ModePartial:
		return "partial"
	default:
		return "uninitialized"
	}
}

// Config is the panel configuration.
type Config struct {
	// Width of the panel in pixels.
	Width int

	// Height of the panel in pixels.
	Height int
}

// Display is a bi-color e-paper panel.
//
// A Display owns its Bus exclusively and is not safe for concurrent use:
// every protocol step shares command/data and chip-select line state, so
// callers must serialize access to one session per physical panel.
type Display interface {
	// Close releases the underlying bus without the deep-sleep sequence.
	Close() error

	// Bounds is the panel bounding box (dimensions).
	Bounds() image.Rectangle

	// Init powers the panel up for full refresh.
	Init(ctx context.Context) error

	// InitFast powers the panel up with the shortened refresh waveform.
	InitFast(ctx context.Context) error

	// InitPartial powers the panel up for windowed partial refresh.
	InitPartial(ctx context.Context) error

	// Clear pushes a full white frame.
	Clear(ctx context.Context) error

	// Display pushes full black and red planes and refreshes.
	Display(ctx context.Context, black, red *pixel.Plane) error

	// DisplayPartial refreshes only the given pixel rectangle. The plane
	// must cover the byte-aligned rectangle returned by AlignRect.
	DisplayPartial(ctx context.Context, p *pixel.Plane, r image.Rectangle) error

	// Sleep powers the panel down into deep sleep and tears down the bus.
	// The session is terminal afterwards; create a new Display to wake the
	// panel.
	Sleep(ctx context.Context) error

	// Encode converts an image into a plane matching the panel geometry.
	Encode(img image.Image) (*pixel.Plane, error)
}
