package epaper

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// SimConfig describes the simulation backend.
type SimConfig struct {
	// Width and Height of the virtual panel.
	Width  int
	Height int

	// OutputDir, if set, receives a numbered PNG snapshot of the virtual
	// panel on every refresh.
	OutputDir string
}

// Sim is an in-memory Bus that mimics the panel silicon: it decodes the
// command/data stream into black and red RAM planes, honors the partial
// window registers, and composites a frame on every refresh. Its busy line
// always reads ready and delays return immediately.
//
// Sim follows the same sequential-access discipline as the hardware bus:
// one caller at a time.
type Sim struct {
	width  int
	height int
	stride int

	outputDir string

	powered bool
	closed  bool
	dc      gpio.Level

	cmd     byte
	count   int    // data bytes received for cmd
	winArg  []byte // accumulating partial window payload
	partial bool
	window  image.Rectangle

	black []byte // DTM1 RAM, raster convention (set bit = white)
	red   []byte // DTM2 RAM, panel convention (set bit = red)

	frame     *image.RGBA
	frames    int
	transfers int
	delayed   time.Duration
}

// OpenSimulation opens a virtual panel bus.
func OpenSimulation(config *SimConfig) (*Sim, error) {
	if config == nil {
		config = &SimConfig{}
	}
	if config.Width == 0 {
		config.Width = epd7in5bDefaultWidth
	}
	if config.Height == 0 {
		config.Height = epd7in5bDefaultHeight
	}

	if config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
			return nil, err
		}
	}

	stride := (config.Width + 7) / 8
	s := &Sim{
		width:     config.Width,
		height:    config.Height,
		stride:    stride,
		outputDir: config.OutputDir,
		window:    image.Rect(0, 0, config.Width, config.Height),
		black:     make([]byte, stride*config.Height),
		red:       make([]byte, stride*config.Height),
	}
	return s, nil
}

func (s *Sim) String() string {
	return fmt.Sprintf("simulated panel %dx%d", s.width, s.height)
}

func (s *Sim) Init() error {
	s.powered = true
	return nil
}

func (s *Sim) Close() error {
	s.powered = false
	s.closed = true
	return nil
}

// Closed reports whether the bus has been torn down.
func (s *Sim) Closed() bool {
	return s.closed
}

func (s *Sim) DigitalWrite(p Pin, l gpio.Level) error {
	switch p {
	case PinDC:
		s.dc = l
	case PinReset:
		if l == gpio.Low {
			// Reset drops the command decoder and the partial window;
			// RAM contents survive a pulse.
			s.cmd = 0
			s.partial = false
			s.window = image.Rect(0, 0, s.width, s.height)
		}
	case PinBusy:
		return fmt.Errorf("epaper: %s is not an output pin", p)
	}
	return nil
}

func (s *Sim) DigitalRead(p Pin) (gpio.Level, error) {
	if p != PinBusy {
		return gpio.Low, fmt.Errorf("epaper: %s is not an input pin", p)
	}
	return busyReady, nil
}

func (s *Sim) Transfer(tx []byte) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("epaper: transfer on closed simulation bus")
	}
	s.transfers++

	if s.dc == gpio.Low {
		for _, b := range tx {
			s.handleCommand(b)
		}
	} else {
		s.handleData(tx)
	}
	return make([]byte, len(tx)), nil
}

func (s *Sim) Delay(d time.Duration) {
	s.delayed += d
}

func (s *Sim) handleCommand(cmd byte) {
	s.cmd = cmd
	s.count = 0

	switch cmd {
	case epdPartialIn:
		s.partial = true
	case epdPartialOut:
		s.partial = false
		s.window = image.Rect(0, 0, s.width, s.height)
	case epdPartialWindow:
		s.winArg = s.winArg[:0]
	case epdDisplayRefresh:
		s.render()
	}
}

func (s *Sim) handleData(data []byte) {
	switch s.cmd {
	case epdDataStartTransmission1:
		s.write(s.black, data)
	case epdDataStartTransmission2:
		s.write(s.red, data)
	case epdPartialWindow:
		s.winArg = append(s.winArg, data...)
		if len(s.winArg) >= 8 {
			s.window = image.Rect(
				int(s.winArg[0])<<8|int(s.winArg[1]),
				int(s.winArg[4])<<8|int(s.winArg[5]),
				(int(s.winArg[2])<<8|int(s.winArg[3]))+1,
				(int(s.winArg[6])<<8|int(s.winArg[7]))+1,
			)
		}
	}
}

// write streams data bytes into RAM, walking the active window row by row.
func (s *Sim) write(ram []byte, data []byte) {
	window := s.window
	if !s.partial {
		window = image.Rect(0, 0, s.width, s.height)
	}
	bytesPerRow := window.Dx() / 8
	if bytesPerRow == 0 {
		return
	}

	for _, b := range data {
		var (
			row = window.Min.Y + s.count/bytesPerRow
			col = window.Min.X/8 + s.count%bytesPerRow
		)
		s.count++
		if row >= window.Max.Y || row >= s.height || col >= s.stride {
			continue // overflow past the window is dropped, like silicon
		}
		ram[row*s.stride+col] = b
	}
}

// Panel colors.
var (
	simWhite = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	simBlack = color.RGBA{A: 0xff}
	simRed   = color.RGBA{R: 0xff, A: 0xff}
)

// render composites the RAM planes into a frame and snapshots it. Red ink
// wins over black where both planes mark a pixel, matching the panel.
func (s *Sim) render() {
	frame := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			var (
				index = y*s.stride + x/8
				bit   = byte(0x80) >> uint(x&7)
				c     = simWhite
			)
			if s.black[index]&bit == 0 {
				c = simBlack
			}
			if s.red[index]&bit != 0 {
				c = simRed
			}
			frame.SetRGBA(x, y, c)
		}
	}

	s.frame = frame
	s.frames++
	debugf("simulation refresh #%d", s.frames)

	if s.outputDir == "" {
		return
	}
	name := filepath.Join(s.outputDir, fmt.Sprintf("frame_%04d.png", s.frames))
	f, err := os.Create(name)
	if err != nil {
		debugf("simulation snapshot: %v", err)
		return
	}
	defer f.Close()
	if err := png.Encode(f, frame); err != nil {
		debugf("simulation snapshot: %v", err)
	}
}

// Frame returns the last composited frame, or nil before the first refresh.
func (s *Sim) Frame() *image.RGBA {
	return s.frame
}

// Frames returns how many refresh cycles have completed.
func (s *Sim) Frames() int {
	return s.frames
}

// Transfers returns how many SPI transfers have been observed.
func (s *Sim) Transfers() int {
	return s.transfers
}
