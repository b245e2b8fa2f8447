package voice

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// DINBaudRate is the MIDI 1.0 DIN transport rate.
const DINBaudRate = 31250

// PortOptions describes the serial connection used for DIN MIDI output,
// typically a USB-serial adapter wired to a MIDI OUT jack.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies MIDI defaults (31250 8N1) for
// any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DINBaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the options to the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// PortOpener opens a serial device. Tests substitute a fake.
type PortOpener func(path string, mode *serial.Mode) (io.WriteCloser, error)

// OpenSerialPort is the default PortOpener backed by go.bug.st/serial.
func OpenSerialPort(path string, mode *serial.Mode) (io.WriteCloser, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// OpenSerialMIDI opens a serial MIDI output with opener (nil for the real
// port) and returns the port ready to be wrapped by a MIDISink.
func OpenSerialMIDI(path string, opts PortOptions, opener PortOpener) (io.WriteCloser, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	if opener == nil {
		opener = OpenSerialPort
	}
	return opener(path, mode)
}
