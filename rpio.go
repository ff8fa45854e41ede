package epaper

import (
	"fmt"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/gpio"
)

// RPiConfig describes the memory-mapped GPIO backend configuration, using
// BCM pin numbering.
type RPiConfig struct {
	SpeedHz int
	Reset   uint8
	DC      uint8
	CS      uint8
	Busy    uint8
	Power   uint8
}

// DefaultRPiConfig matches the vendor HAT wiring (BCM numbering).
var DefaultRPiConfig = RPiConfig{
	SpeedHz: 4_000_000,
	Reset:   17,
	DC:      25,
	CS:      8,
	Busy:    24,
	Power:   18,
}

// rpioBus drives the panel through go-rpio's memory-mapped GPIO and SPI,
// an alternative to the spidev backend for hosts without a configured
// spidev device.
type rpioBus struct {
	config RPiConfig

	reset, dc, cs, busy, power rpio.Pin
}

// OpenRPi opens a hardware bus backed by go-rpio.
func OpenRPi(config *RPiConfig) (Bus, error) {
	if config == nil {
		config = new(RPiConfig)
		*config = DefaultRPiConfig
	}
	if config.SpeedHz == 0 {
		config.SpeedHz = DefaultRPiConfig.SpeedHz
	}

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("epaper: opening memory range for GPIO access: %w", err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return nil, fmt.Errorf("epaper: claiming SPI pins: %w", err)
	}
	rpio.SpiChipSelect(0)
	rpio.SpiSpeed(config.SpeedHz)

	return &rpioBus{
		config: *config,
		reset:  rpio.Pin(config.Reset),
		dc:     rpio.Pin(config.DC),
		cs:     rpio.Pin(config.CS),
		busy:   rpio.Pin(config.Busy),
		power:  rpio.Pin(config.Power),
	}, nil
}

func (b *rpioBus) String() string {
	return "rpio SPI bus 0"
}

func (b *rpioBus) Init() error {
	b.reset.Output()
	b.dc.Output()
	b.cs.Output()
	b.power.Output()
	b.busy.Input()

	b.power.Write(rpio.High)
	b.reset.Write(rpio.High)
	b.dc.Write(rpio.Low)
	b.cs.Write(rpio.High)
	return nil
}

func (b *rpioBus) Close() error {
	b.cs.Write(rpio.Low)
	b.dc.Write(rpio.Low)
	b.reset.Write(rpio.Low)
	b.power.Write(rpio.Low)

	rpio.SpiEnd(rpio.Spi0)
	return rpio.Close()
}

func (b *rpioBus) pin(p Pin) (rpio.Pin, bool) {
	switch p {
	case PinReset:
		return b.reset, true
	case PinDC:
		return b.dc, true
	case PinCS:
		return b.cs, true
	case PinBusy:
		return b.busy, true
	case PinPower:
		return b.power, true
	default:
		return 0, false
	}
}

func (b *rpioBus) DigitalWrite(p Pin, l gpio.Level) error {
	pin, ok := b.pin(p)
	if !ok || p == PinBusy {
		return fmt.Errorf("epaper: %s is not an output pin", p)
	}
	if l {
		pin.Write(rpio.High)
	} else {
		pin.Write(rpio.Low)
	}
	return nil
}

func (b *rpioBus) DigitalRead(p Pin) (gpio.Level, error) {
	if p != PinBusy {
		return gpio.Low, fmt.Errorf("epaper: %s is not an input pin", p)
	}
	return gpio.Level(b.busy.Read() == rpio.High), nil
}

func (b *rpioBus) Transfer(tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	copy(rx, tx)
	rpio.SpiExchange(rx)
	return rx, nil
}

func (b *rpioBus) Delay(d time.Duration) {
	time.Sleep(d)
}
