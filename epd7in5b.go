package epaper

import (
	"context"
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/alchemist-s/epaper/pixel"
)

const (
	epd7in5bDefaultWidth  = 800
	epd7in5bDefaultHeight = 480
)

// Registers (from the UC8179 controller datasheet, 7.5" B V2 panel).
const (
	epdPanelSetting           = 0x00 // PSR
	epdPowerSetting           = 0x01 // PWR
	epdPowerOff               = 0x02 // POF
	epdPowerOn                = 0x04 // PON
	epdBoosterSoftStart       = 0x06 // BTST
	epdDeepSleep              = 0x07 // DSLP
	epdDataStartTransmission1 = 0x10 // DTM1, black/white plane RAM
	epdDisplayRefresh         = 0x12 // DRF
	epdDataStartTransmission2 = 0x13 // DTM2, red plane RAM
	epdDualSPI                = 0x15 // DUSPI
	epdVCOMDataInterval       = 0x50 // CDI
	epdTCONSetting            = 0x60 // TCON
	epdResolutionSetting      = 0x61 // TRES
	epdGetStatus              = 0x71 // FLG
	epdPartialWindow          = 0x90 // PTL
	epdPartialIn              = 0x91 // PTIN
	epdPartialOut             = 0x92 // PTOUT
	epdCascadeSetting         = 0xE0 // CCSET
	epdForceTemperature       = 0xE5 // TSSET
)

// Deep sleep requires a check code after DSLP.
const epdDeepSleepKey = 0xA5

// The datasheets disagree among themselves on the BUSY polarity; every
// working driver for this panel family treats a high line as "ready".
const busyReady = gpio.High

// Poll and settle intervals for the busy handshake.
const (
	busyPollInterval   = 10 * time.Millisecond
	busySettle         = 200 * time.Millisecond
	refreshStartup     = 100 * time.Millisecond
	deepSleepSettle    = 2 * time.Second
	resetPulse         = 200 * time.Millisecond
	resetAssertedPulse = 4 * time.Millisecond
)

type epd7in5b struct {
	bus Bus

	width  int
	height int
	stride int

	mode          Mode
	asleep        bool
	partialSeeded bool
}

// EPD7in5B opens a driver for the 7.5" black/red panel on the given bus.
// The panel itself stays untouched until one of the Init variants runs.
func EPD7in5B(bus Bus, config *Config) (Display, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Width == 0 {
		config.Width = epd7in5bDefaultWidth
	}
	if config.Height == 0 {
		config.Height = epd7in5bDefaultHeight
	}

	d := &epd7in5b{
		bus:    bus,
		width:  config.Width,
		height: config.Height,
		stride: (config.Width + 7) / 8,
	}

	if err := bus.Init(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *epd7in5b) String() string {
	return fmt.Sprintf("EPD 7.5in B %dx%d (%s)", d.width, d.height, d.mode)
}

func (d *epd7in5b) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.width, d.height)
}

func (d *epd7in5b) Close() error {
	return d.bus.Close()
}

func (d *epd7in5b) Encode(img image.Image) (*pixel.Plane, error) {
	return pixel.Encode(img, d.width, d.height)
}

// command sends a single command byte, DC low, framed by chip-select.
func (d *epd7in5b) command(command byte, data ...byte) error {
	if err := d.bus.DigitalWrite(PinDC, gpio.Low); err != nil {
		return err
	}
	if err := d.bus.DigitalWrite(PinCS, gpio.Low); err != nil {
		return err
	}
	if _, err := d.bus.Transfer([]byte{command}); err != nil {
		_ = d.bus.DigitalWrite(PinCS, gpio.High)
		return err
	}
	if err := d.bus.DigitalWrite(PinCS, gpio.High); err != nil {
		return err
	}
	if len(data) > 0 {
		return d.data(data...)
	}
	return nil
}

// data sends payload bytes, DC high, framed by chip-select.
func (d *epd7in5b) data(data ...byte) error {
	if err := d.bus.DigitalWrite(PinDC, gpio.High); err != nil {
		return err
	}
	if err := d.bus.DigitalWrite(PinCS, gpio.Low); err != nil {
		return err
	}
	if _, err := d.bus.Transfer(data); err != nil {
		_ = d.bus.DigitalWrite(PinCS, gpio.High)
		return err
	}
	return d.bus.DigitalWrite(PinCS, gpio.High)
}

// commands sends a command sequence, checking for cancellation between
// steps. A transfer itself is never interrupted.
func (d *epd7in5b) commands(ctx context.Context, commands ...[]byte) error {
	for _, c := range commands {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("epaper: init aborted: %w", err)
		}
		if err := d.command(c[0], c[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// reset pulses the RST line. Required before every init variant.
func (d *epd7in5b) reset() error {
	if err := d.bus.DigitalWrite(PinReset, gpio.High); err != nil {
		return err
	}
	d.bus.Delay(resetPulse)
	if err := d.bus.DigitalWrite(PinReset, gpio.Low); err != nil {
		return err
	}
	d.bus.Delay(resetAssertedPulse)
	if err := d.bus.DigitalWrite(PinReset, gpio.High); err != nil {
		return err
	}
	d.bus.Delay(resetPulse)
	return nil
}

// readBusy polls the status line until the panel reports ready, then waits
// out the settle time. The poll has no protocol-level timeout; the caller's
// context is the only bound, and hitting it poisons the session.
func (d *epd7in5b) readBusy(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			d.mode = ModeNone
			return fmt.Errorf("%w: %v", ErrBusyTimeout, err)
		}
		if err := d.command(epdGetStatus); err != nil {
			return err
		}
		level, err := d.bus.DigitalRead(PinBusy)
		if err != nil {
			return err
		}
		if level == busyReady {
			break
		}
		d.bus.Delay(busyPollInterval)
	}
	d.bus.Delay(busySettle)
	return nil
}

func (d *epd7in5b) checkAwake() error {
	if d.asleep {
		return ErrSleeping
	}
	return nil
}

// Init brings the panel up for full refresh.
func (d *epd7in5b) Init(ctx context.Context) error {
	if err := d.checkAwake(); err != nil {
		return err
	}
	d.mode = ModeNone

	debugf("init full")
	if err := d.reset(); err != nil {
		return err
	}

	if err := d.commands(ctx,
		[]byte{epdPowerSetting, 0x07, 0x07, 0x3F, 0x3F},
		[]byte{epdBoosterSoftStart, 0x17, 0x17, 0x28, 0x17},
		[]byte{epdPowerOn},
	); err != nil {
		return err
	}
	if err := d.readBusy(ctx); err != nil {
		return err
	}

	if err := d.commands(ctx,
		[]byte{epdPanelSetting, 0x0F},
		d.resolution(),
		[]byte{epdDualSPI, 0x00},
		[]byte{epdVCOMDataInterval, 0x11, 0x07},
		[]byte{epdTCONSetting, 0x22},
	); err != nil {
		return err
	}

	d.mode = ModeFull
	return nil
}

// InitFast brings the panel up with the shortened waveform: faster, at the
// cost of more ghosting.
func (d *epd7in5b) InitFast(ctx context.Context) error {
	if err := d.checkAwake(); err != nil {
		return err
	}
	d.mode = ModeNone

	debugf("init fast")
	if err := d.reset(); err != nil {
		return err
	}

	if err := d.commands(ctx,
		[]byte{epdPanelSetting, 0x0F},
		[]byte{epdPowerOn},
	); err != nil {
		return err
	}
	if err := d.readBusy(ctx); err != nil {
		return err
	}

	if err := d.commands(ctx,
		[]byte{epdBoosterSoftStart, 0x27, 0x27, 0x18, 0x17},
		[]byte{epdCascadeSetting, 0x02},
		[]byte{epdForceTemperature, 0x5A},
	); err != nil {
		return err
	}

	d.mode = ModeFast
	return nil
}

// InitPartial brings the panel up for windowed refresh. The first partial
// update after this seeds the partial RAM plane with a blank baseline.
func (d *epd7in5b) InitPartial(ctx context.Context) error {
	if err := d.checkAwake(); err != nil {
		return err
	}
	d.mode = ModeNone
	d.partialSeeded = false

	debugf("init partial")
	if err := d.reset(); err != nil {
		return err
	}

	if err := d.commands(ctx,
		[]byte{epdPanelSetting, 0x1F},
		[]byte{epdPowerOn},
	); err != nil {
		return err
	}
	if err := d.readBusy(ctx); err != nil {
		return err
	}

	if err := d.commands(ctx,
		[]byte{epdCascadeSetting, 0x02},
		[]byte{epdForceTemperature, 0x6E},
		[]byte{epdVCOMDataInterval, 0xA9, 0x07},
	); err != nil {
		return err
	}

	d.mode = ModePartial
	return nil
}

// resolution encodes the panel geometry as TRES expects: width then height
// as big-endian 16-bit values.
func (d *epd7in5b) resolution() []byte {
	return []byte{
		epdResolutionSetting,
		byte(d.width >> 8), byte(d.width),
		byte(d.height >> 8), byte(d.height),
	}
}

func (d *epd7in5b) checkPlane(p *pixel.Plane) error {
	if p == nil || len(p.Pix) != d.stride*d.height {
		return ErrPlaneSize
	}
	return nil
}

// Display pushes both planes and runs a refresh cycle.
//
// The black plane RAM expects raster convention on the wire, so its bytes
// go out re-inverted; the red plane goes out as stored. This is the single
// inversion-on-write the panel needs, nothing upstream may invert again.
func (d *epd7in5b) Display(ctx context.Context, black, red *pixel.Plane) error {
	if err := d.checkAwake(); err != nil {
		return err
	}
	if d.mode == ModeNone {
		return ErrNotInitialized
	}
	if err := d.checkPlane(black); err != nil {
		return err
	}
	if err := d.checkPlane(red); err != nil {
		return err
	}

	debugf("display %dx%d", d.width, d.height)
	if err := d.command(epdDataStartTransmission1, black.Raster()...); err != nil {
		return err
	}
	if err := d.command(epdDataStartTransmission2, red.Pix...); err != nil {
		return err
	}
	return d.refresh(ctx)
}

// Clear pushes a full white frame.
func (d *epd7in5b) Clear(ctx context.Context) error {
	if err := d.checkAwake(); err != nil {
		return err
	}
	if d.mode == ModeNone {
		return ErrNotInitialized
	}

	debugf("clear")
	size := d.stride * d.height
	white := make([]byte, size)
	for i := range white {
		white[i] = 0xFF
	}

	if err := d.command(epdDataStartTransmission1, white...); err != nil {
		return err
	}
	if err := d.command(epdDataStartTransmission2, make([]byte, size)...); err != nil {
		return err
	}
	return d.refresh(ctx)
}

// DisplayPartial refreshes the byte-aligned window enclosing r with the
// given plane. The plane must be sized for the aligned rectangle.
func (d *epd7in5b) DisplayPartial(ctx context.Context, p *pixel.Plane, r image.Rectangle) error {
	if err := d.checkAwake(); err != nil {
		return err
	}
	if d.mode != ModePartial {
		if d.mode == ModeNone {
			return ErrNotInitialized
		}
		return ErrNotPartialMode
	}
	if err := d.checkRect(r); err != nil {
		return err
	}

	aligned, bytesPerRow := AlignRect(r)
	size := bytesPerRow * aligned.Dy()
	if p == nil || len(p.Pix) != size {
		return ErrPlaneSize
	}

	debugf("display partial %v -> %v", r, aligned)
	if err := d.command(epdPartialIn); err != nil {
		return err
	}
	if err := d.command(epdPartialWindow, partialWindow(aligned)...); err != nil {
		return err
	}

	if !d.partialSeeded {
		// The differential silicon needs a defined baseline before the
		// first window update; stream a blank frame for the whole window.
		white := make([]byte, size)
		for i := range white {
			white[i] = 0xFF
		}
		if err := d.command(epdDataStartTransmission1, white...); err != nil {
			return err
		}
		d.partialSeeded = true
	}

	if err := d.command(epdDataStartTransmission2, p.Pix...); err != nil {
		return err
	}
	return d.refresh(ctx)
}

// partialWindow encodes the PTL payload: big-endian 16-bit inclusive
// bounds followed by the gate-scan terminator.
func partialWindow(r image.Rectangle) []byte {
	var (
		xe = r.Max.X - 1
		ye = r.Max.Y - 1
	)
	return []byte{
		byte(r.Min.X >> 8), byte(r.Min.X),
		byte(xe >> 8), byte(xe),
		byte(r.Min.Y >> 8), byte(r.Min.Y),
		byte(ye >> 8), byte(ye),
		0x01,
	}
}

func (d *epd7in5b) refresh(ctx context.Context) error {
	if err := d.command(epdDisplayRefresh); err != nil {
		return err
	}
	d.bus.Delay(refreshStartup)
	return d.readBusy(ctx)
}

// Sleep powers the panel off and enters deep sleep, then tears the bus
// down. The session is terminal afterwards.
func (d *epd7in5b) Sleep(ctx context.Context) error {
	if err := d.checkAwake(); err != nil {
		return err
	}

	debugf("sleep")
	if err := d.command(epdPowerOff); err != nil {
		return err
	}
	if err := d.readBusy(ctx); err != nil {
		return err
	}
	if err := d.command(epdDeepSleep, epdDeepSleepKey); err != nil {
		return err
	}
	d.bus.Delay(deepSleepSettle)

	d.asleep = true
	d.mode = ModeNone
	return d.bus.Close()
}
