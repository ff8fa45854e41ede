package epaper

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Pin identifies one of the panel control lines.
type Pin uint8

// Panel control lines. Busy is the only input.
const (
	PinReset Pin = iota
	PinDC
	PinCS
	PinBusy
	PinPower
)

func (p Pin) String() string {
	switch p {
	case PinReset:
		return "RST"
	case PinDC:
		return "DC"
	case PinCS:
		return "CS"
	case PinBusy:
		return "BUSY"
	case PinPower:
		return "PWR"
	default:
		return "?"
	}
}

// Bus is the transport interface between the panel protocol and one
// GPIO+SPI backend, hardware or simulated.
//
// A Bus is exclusively owned by one display session; Close releases the
// underlying handles.
type Bus interface {
	// Init claims the underlying handles and drives the control lines to
	// their idle levels (power on, chip-select deasserted).
	Init() error

	// Close releases the underlying handles.
	Close() error

	// DigitalWrite sets an output line.
	DigitalWrite(p Pin, l gpio.Level) error

	// DigitalRead samples an input line.
	DigitalRead(p Pin) (gpio.Level, error)

	// Transfer clocks tx out and returns the bytes clocked in. A transfer
	// is a single indivisible unit; it is never interrupted mid-flight.
	Transfer(tx []byte) ([]byte, error)

	// Delay pauses the protocol sequence.
	Delay(d time.Duration)
}
