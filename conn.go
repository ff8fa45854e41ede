package epaper

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/alchemist-s/epaper/conn"
)

// Bus errors.
var (
	ErrResetPin = errors.New("epaper: reset GPIO pin is invalid")
	ErrDCPin    = errors.New("epaper: data/command (DC) GPIO pin is invalid")
	ErrCSPin    = errors.New("epaper: chip-select (CS) GPIO pin is invalid")
	ErrBusyPin  = errors.New("epaper: busy GPIO pin is invalid")
)

// SPIConfig describes the spidev bus configuration.
type SPIConfig struct {
	Bus       int
	Device    int
	SpeedHz   uint32
	BatchSize uint
	Reset     gpio.PinOut
	DC        gpio.PinOut
	CS        gpio.PinOut
	Busy      gpio.PinIn
	Power     gpio.PinOut
}

// Vendor HAT wiring (BCM numbering) and bus defaults.
const (
	defaultSPISpeedHz   = 4_000_000
	defaultSPIBatchSize = 4096

	defaultResetPin = "GPIO17"
	defaultDCPin    = "GPIO25"
	defaultCSPin    = "GPIO8"
	defaultBusyPin  = "GPIO24"
	defaultPowerPin = "GPIO18"
)

// DefaultSPIConfig returns the vendor HAT wiring. The pin names resolve
// from the GPIO registry at call time, so host.Init must have run first;
// resolving them any earlier would always come up empty.
func DefaultSPIConfig() *SPIConfig {
	return &SPIConfig{
		Bus:       0,
		Device:    0,
		SpeedHz:   defaultSPISpeedHz,
		BatchSize: defaultSPIBatchSize,
		Reset:     gpioreg.ByName(defaultResetPin),
		DC:        gpioreg.ByName(defaultDCPin),
		CS:        gpioreg.ByName(defaultCSPin),
		Busy:      gpioreg.ByName(defaultBusyPin),
		Power:     gpioreg.ByName(defaultPowerPin),
	}
}

type spiBus struct {
	bus       *conn.SPI
	config    SPIConfig
	batchSize uint
}

// OpenSPI opens a hardware bus backed by spidev and periph.io GPIO lines.
// Callers must run host.Init before resolving pins.
func OpenSPI(config *SPIConfig) (Bus, error) {
	if config == nil {
		config = DefaultSPIConfig()
	}

	if config.Reset == nil || config.Reset == gpio.INVALID {
		return nil, ErrResetPin
	}
	if config.DC == nil || config.DC == gpio.INVALID {
		return nil, ErrDCPin
	}
	if config.CS == nil || config.CS == gpio.INVALID {
		return nil, ErrCSPin
	}
	if config.Busy == nil || config.Busy == gpio.INVALID {
		return nil, ErrBusyPin
	}

	if config.SpeedHz == 0 {
		config.SpeedHz = defaultSPISpeedHz
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaultSPIBatchSize
	}

	c, err := conn.OpenSPI(config.Bus, config.Device)
	if err != nil {
		return nil, err
	}

	if err = c.SetMode(conn.SPIMode0); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err = c.SetMaxSpeed(int(config.SpeedHz)); err != nil {
		_ = c.Close()
		return nil, err
	}

	return &spiBus{
		bus:       c,
		config:    *config,
		batchSize: config.BatchSize,
	}, nil
}

func (b *spiBus) String() string {
	return fmt.Sprintf("SPI bus %s", b.bus)
}

func (b *spiBus) Init() error {
	outs := []struct {
		pin   gpio.PinOut
		level gpio.Level
	}{
		{b.config.Power, gpio.High},
		{b.config.Reset, gpio.High},
		{b.config.DC, gpio.Low},
		{b.config.CS, gpio.High},
	}
	for _, o := range outs {
		if o.pin == nil {
			continue
		}
		if err := o.pin.Out(o.level); err != nil {
			return fmt.Errorf("epaper: init %s: %w", o.pin, err)
		}
	}
	if err := b.config.Busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return fmt.Errorf("epaper: init %s: %w", b.config.Busy, err)
	}
	return nil
}

func (b *spiBus) Close() error {
	// Drop the control lines so the panel isn't half driven while
	// unpowered.
	for _, pin := range []gpio.PinOut{b.config.CS, b.config.DC, b.config.Reset, b.config.Power} {
		if pin != nil {
			_ = pin.Out(gpio.Low)
		}
	}
	return b.bus.Close()
}

func (b *spiBus) DigitalWrite(p Pin, l gpio.Level) error {
	pin := b.outPin(p)
	if pin == nil {
		return fmt.Errorf("epaper: %s is not an output pin", p)
	}
	return pin.Out(l)
}

func (b *spiBus) DigitalRead(p Pin) (gpio.Level, error) {
	if p != PinBusy {
		return gpio.Low, fmt.Errorf("epaper: %s is not an input pin", p)
	}
	return b.config.Busy.Read(), nil
}

func (b *spiBus) outPin(p Pin) gpio.PinOut {
	switch p {
	case PinReset:
		return b.config.Reset
	case PinDC:
		return b.config.DC
	case PinCS:
		return b.config.CS
	case PinPower:
		return b.config.Power
	default:
		return nil
	}
}

func (b *spiBus) Transfer(tx []byte) ([]byte, error) {
	if len(tx) <= int(b.batchSize) {
		return b.bus.Transfer(tx)
	}

	debugf("transfer %d bytes in %d chunks", len(tx), (len(tx)+int(b.batchSize)-1)/int(b.batchSize))
	rx := make([]byte, 0, len(tx))
	for buffer := tx; len(buffer) > 0; {
		n := len(buffer)
		if n > int(b.batchSize) {
			n = int(b.batchSize)
		}
		part, err := b.bus.Transfer(buffer[:n])
		if err != nil {
			return nil, err
		}
		rx = append(rx, part...)
		buffer = buffer[n:]
	}
	return rx, nil
}

func (b *spiBus) Delay(d time.Duration) {
	time.Sleep(d)
}
