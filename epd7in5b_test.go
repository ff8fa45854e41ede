package epaper

import (
	"bytes"
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/alchemist-s/epaper/pixel"
)

type busWrite struct {
	dc   gpio.Level
	data []byte
}

// busRecorder is a Bus that records every transfer with the command/data
// line state it was sent under. Its busy line level is settable.
type busRecorder struct {
	dc     gpio.Level
	busy   gpio.Level
	closed bool
	writes []busWrite
}

func newBusRecorder() *busRecorder {
	return &busRecorder{busy: busyReady}
}

func (b *busRecorder) Init() error  { return nil }
func (b *busRecorder) Close() error { b.closed = true; return nil }

func (b *busRecorder) DigitalWrite(p Pin, l gpio.Level) error {
	if p == PinDC {
		b.dc = l
	}
	return nil
}

func (b *busRecorder) DigitalRead(Pin) (gpio.Level, error) {
	return b.busy, nil
}

func (b *busRecorder) Transfer(tx []byte) ([]byte, error) {
	b.writes = append(b.writes, busWrite{dc: b.dc, data: append([]byte(nil), tx...)})
	return make([]byte, len(tx)), nil
}

func (b *busRecorder) Delay(time.Duration) {}

// commands lists the command bytes sent so far, in order.
func (b *busRecorder) commands() []byte {
	var out []byte
	for _, w := range b.writes {
		if w.dc == gpio.Low {
			out = append(out, w.data...)
		}
	}
	return out
}

// payload concatenates the data frames following the most recent send of
// the given command.
func (b *busRecorder) payload(cmd byte) []byte {
	var (
		out    []byte
		active bool
	)
	for _, w := range b.writes {
		if w.dc == gpio.Low {
			active = len(w.data) == 1 && w.data[0] == cmd
			if active {
				out = out[:0]
			}
			continue
		}
		if active {
			out = append(out, w.data...)
		}
	}
	return out
}

func testDisplay(t *testing.T) (*epd7in5b, *busRecorder) {
	t.Helper()
	bus := newBusRecorder()
	display, err := EPD7in5B(bus, &Config{Width: 16, Height: 8})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return display.(*epd7in5b), bus
}

func expectCommands(t *testing.T, got, want []byte) {
	t.Helper()
	if !bytes.Equal(got, want) {
		t.Errorf("expected command sequence % 02x, got % 02x", want, got)
	}
}

func expectPayload(t *testing.T, bus *busRecorder, cmd byte, want []byte) {
	t.Helper()
	if got := bus.payload(cmd); !bytes.Equal(got, want) {
		t.Errorf("expected %#02x payload % 02x, got % 02x", cmd, want, got)
	}
}

func TestInitSequence(t *testing.T) {
	d, bus := testDisplay(t)
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expectCommands(t, bus.commands(), []byte{
		epdPowerSetting,
		epdBoosterSoftStart,
		epdPowerOn,
		epdGetStatus,
		epdPanelSetting,
		epdResolutionSetting,
		epdDualSPI,
		epdVCOMDataInterval,
		epdTCONSetting,
	})
	expectPayload(t, bus, epdPanelSetting, []byte{0x0F})
	expectPayload(t, bus, epdResolutionSetting, []byte{0x00, 0x10, 0x00, 0x08})
	expectPayload(t, bus, epdVCOMDataInterval, []byte{0x11, 0x07})
	expectPayload(t, bus, epdBoosterSoftStart, []byte{0x17, 0x17, 0x28, 0x17})
}

func TestInitFastSequence(t *testing.T) {
	d, bus := testDisplay(t)
	if err := d.InitFast(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expectCommands(t, bus.commands(), []byte{
		epdPanelSetting,
		epdPowerOn,
		epdGetStatus,
		epdBoosterSoftStart,
		epdCascadeSetting,
		epdForceTemperature,
	})
	expectPayload(t, bus, epdBoosterSoftStart, []byte{0x27, 0x27, 0x18, 0x17})
	expectPayload(t, bus, epdCascadeSetting, []byte{0x02})
	expectPayload(t, bus, epdForceTemperature, []byte{0x5A})
}

func TestInitPartialSequence(t *testing.T) {
	d, bus := testDisplay(t)
	if err := d.InitPartial(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expectCommands(t, bus.commands(), []byte{
		epdPanelSetting,
		epdPowerOn,
		epdGetStatus,
		epdCascadeSetting,
		epdForceTemperature,
		epdVCOMDataInterval,
	})
	expectPayload(t, bus, epdPanelSetting, []byte{0x1F})
	expectPayload(t, bus, epdForceTemperature, []byte{0x6E})
	expectPayload(t, bus, epdVCOMDataInterval, []byte{0xA9, 0x07})
}

func TestDisplayRequiresInit(t *testing.T) {
	d, _ := testDisplay(t)
	ctx := context.Background()

	black := pixel.NewPlane(16, 8)
	red := pixel.NewPlane(16, 8)
	if err := d.Display(ctx, black, red); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if err := d.Clear(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if err := d.DisplayPartial(ctx, black, d.Bounds()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestDisplayWire(t *testing.T) {
	d, bus := testDisplay(t)
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	black := pixel.NewPlane(16, 8)
	black.Set(0, 0, pixel.Black)
	red := pixel.NewPlane(16, 8)
	red.Set(8, 1, pixel.Black)

	mark := len(bus.writes)
	if err := d.Display(ctx, black, red); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var sent []byte
	for _, w := range bus.writes[mark:] {
		if w.dc == gpio.Low {
			sent = append(sent, w.data...)
		}
	}
	expectCommands(t, sent, []byte{
		epdDataStartTransmission1,
		epdDataStartTransmission2,
		epdDisplayRefresh,
		epdGetStatus,
	})

	// The black plane is inverted once on the wire, the red plane is not.
	expectPayload(t, bus, epdDataStartTransmission1, black.Raster())
	expectPayload(t, bus, epdDataStartTransmission2, red.Pix)
	if v := bus.payload(epdDataStartTransmission1)[0]; v != 0x7F {
		t.Errorf("expected first black byte %#02x, got %#02x", 0x7F, v)
	}
	if v := bus.payload(epdDataStartTransmission2)[3]; v != 0x80 {
		t.Errorf("expected red byte 3 to be %#02x, got %#02x", 0x80, v)
	}
}

func TestDisplayPlaneSize(t *testing.T) {
	d, _ := testDisplay(t)
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	good := pixel.NewPlane(16, 8)
	bad := pixel.NewPlane(16, 4)
	if err := d.Display(ctx, bad, good); !errors.Is(err, ErrPlaneSize) {
		t.Errorf("expected ErrPlaneSize, got %v", err)
	}
	if err := d.Display(ctx, good, bad); !errors.Is(err, ErrPlaneSize) {
		t.Errorf("expected ErrPlaneSize, got %v", err)
	}
	if err := d.Display(ctx, good, nil); !errors.Is(err, ErrPlaneSize) {
		t.Errorf("expected ErrPlaneSize, got %v", err)
	}
}

func TestClearWire(t *testing.T) {
	d, bus := testDisplay(t)
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := d.Clear(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expectPayload(t, bus, epdDataStartTransmission1, bytes.Repeat([]byte{0xFF}, 16))
	expectPayload(t, bus, epdDataStartTransmission2, make([]byte, 16))
}

func TestDisplayPartialModeGate(t *testing.T) {
	d, bus := testDisplay(t)
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mark := len(bus.writes)
	p := pixel.NewPlane(16, 8)
	if err := d.DisplayPartial(ctx, p, d.Bounds()); !errors.Is(err, ErrNotPartialMode) {
		t.Fatalf("expected ErrNotPartialMode, got %v", err)
	}
	if len(bus.writes) != mark {
		t.Errorf("expected no transfers from a rejected partial update, got %d", len(bus.writes)-mark)
	}
}

func TestDisplayPartialWire(t *testing.T) {
	d, bus := testDisplay(t)
	ctx := context.Background()
	if err := d.InitPartial(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// 11 pixels wide, so the window widens to (0,1)-(16,5).
	r := image.Rect(2, 1, 13, 5)
	p := pixel.NewPlane(16, 4)
	p.Set(3, 2, pixel.Black)

	mark := len(bus.writes)
	if err := d.DisplayPartial(ctx, p, r); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var sent []byte
	for _, w := range bus.writes[mark:] {
		if w.dc == gpio.Low {
			sent = append(sent, w.data...)
		}
	}
	expectCommands(t, sent, []byte{
		epdPartialIn,
		epdPartialWindow,
		epdDataStartTransmission1,
		epdDataStartTransmission2,
		epdDisplayRefresh,
		epdGetStatus,
	})

	expectPayload(t, bus, epdPartialWindow, []byte{
		0x00, 0x00, // xs
		0x00, 0x0F, // xe, inclusive
		0x00, 0x01, // ys
		0x00, 0x04, // ye, inclusive
		0x01,
	})
	expectPayload(t, bus, epdDataStartTransmission1, bytes.Repeat([]byte{0xFF}, 8))
	expectPayload(t, bus, epdDataStartTransmission2, p.Pix)

	// The blank baseline is only streamed once per partial session.
	mark = len(bus.writes)
	if err := d.DisplayPartial(ctx, p, r); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, w := range bus.writes[mark:] {
		if w.dc == gpio.Low && w.data[0] == epdDataStartTransmission1 {
			t.Errorf("expected no second baseline frame")
		}
	}
}

func TestDisplayPartialArguments(t *testing.T) {
	d, bus := testDisplay(t)
	ctx := context.Background()
	if err := d.InitPartial(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mark := len(bus.writes)
	p := pixel.NewPlane(16, 4)
	if err := d.DisplayPartial(ctx, p, image.Rect(0, 0, 24, 4)); !errors.Is(err, ErrBounds) {
		t.Errorf("expected ErrBounds, got %v", err)
	}
	if err := d.DisplayPartial(ctx, p, image.Rect(-8, 0, 8, 4)); !errors.Is(err, ErrBounds) {
		t.Errorf("expected ErrBounds, got %v", err)
	}

	// A zero-area window has no wire encoding; its inclusive end
	// coordinate would wrap below the start.
	if err := d.DisplayPartial(ctx, p, image.Rect(4, 0, 4, 4)); !errors.Is(err, ErrBounds) {
		t.Errorf("expected ErrBounds, got %v", err)
	}
	if err := d.DisplayPartial(ctx, p, image.Rect(0, 2, 16, 2)); !errors.Is(err, ErrBounds) {
		t.Errorf("expected ErrBounds, got %v", err)
	}

	if err := d.DisplayPartial(ctx, p, image.Rect(0, 0, 8, 4)); !errors.Is(err, ErrPlaneSize) {
		t.Errorf("expected ErrPlaneSize, got %v", err)
	}
	if err := d.DisplayPartial(ctx, nil, image.Rect(0, 0, 16, 4)); !errors.Is(err, ErrPlaneSize) {
		t.Errorf("expected ErrPlaneSize, got %v", err)
	}

	if len(bus.writes) != mark {
		t.Errorf("expected no transfers from rejected partial updates, got %d", len(bus.writes)-mark)
	}
}

func TestSleep(t *testing.T) {
	d, bus := testDisplay(t)
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mark := len(bus.writes)
	if err := d.Sleep(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var sent []byte
	for _, w := range bus.writes[mark:] {
		if w.dc == gpio.Low {
			sent = append(sent, w.data...)
		}
	}
	expectCommands(t, sent, []byte{epdPowerOff, epdGetStatus, epdDeepSleep})
	expectPayload(t, bus, epdDeepSleep, []byte{epdDeepSleepKey})

	if !bus.closed {
		t.Error("expected the bus to be closed")
	}

	// The session is terminal afterwards.
	if err := d.Init(ctx); !errors.Is(err, ErrSleeping) {
		t.Errorf("expected ErrSleeping, got %v", err)
	}
	black := pixel.NewPlane(16, 8)
	if err := d.Display(ctx, black, black); !errors.Is(err, ErrSleeping) {
		t.Errorf("expected ErrSleeping, got %v", err)
	}
	if err := d.Sleep(ctx); !errors.Is(err, ErrSleeping) {
		t.Errorf("expected ErrSleeping, got %v", err)
	}
}

func TestBusyTimeout(t *testing.T) {
	d, bus := testDisplay(t)
	bus.busy = gpio.Low

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.mode = ModeFull
	if err := d.readBusy(ctx); !errors.Is(err, ErrBusyTimeout) {
		t.Fatalf("expected ErrBusyTimeout, got %v", err)
	}
	if d.mode != ModeNone {
		t.Errorf("expected the busy deadline to poison the session, mode is %s", d.mode)
	}
}

func TestRefreshBusyTimeout(t *testing.T) {
	d, bus := testDisplay(t)
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	bus.busy = gpio.Low
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	black := pixel.NewPlane(16, 8)
	red := pixel.NewPlane(16, 8)
	if err := d.Display(ctx, black, red); !errors.Is(err, ErrBusyTimeout) {
		t.Fatalf("expected ErrBusyTimeout, got %v", err)
	}

	// A poisoned session requires a fresh init.
	if err := d.Display(context.Background(), black, red); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}
