package rangefeed

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the tag firmware's console speed.
const DefaultBaudRate = 115200

// TagPort wraps a serial connection to a ranging tag.
type TagPort struct {
	serial.Port
}

// OpenTagPort opens the named serial device at 8N1.
func OpenTagPort(portName string, baudRate int) (*TagPort, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return &TagPort{Port: port}, nil
}
