// serialcomm/serialcomm.go
package serialcomm

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

var (
	ErrDeviceClosed = errors.New("serialcomm: device closed")
	ErrPortHangup   = errors.New("serialcomm: port hung up")
)

type SerialConfig struct {
	PortName       string
	BaudRate       int
	ReadTimeout    time.Duration
	WriteDelay     time.Duration
	ReadBufferSize int
	WriteQueue     int
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		PortName:       "/dev/ttyUSB0",
		BaudRate:       115200,
		ReadTimeout:    100 * time.Millisecond,
		WriteDelay:     5 * time.Millisecond,
		ReadBufferSize: 1024,
		WriteQueue:     128,
	}
}

func (c SerialConfig) withDefaults() SerialConfig {
	def := DefaultSerialConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteQueue <= 0 {
		c.WriteQueue = def.WriteQueue
	}
	if c.WriteDelay < 0 {
		c.WriteDelay = 0
	}
	return c
}

// Port is the raw device handle. Read is expected to block for at most the
// configured read timeout and to return zero bytes when nothing arrived.
type Port interface {
	io.ReadWriteCloser
}

// OpenPort opens the controller's serial line as 8N1.
func OpenPort(cfg SerialConfig) (Port, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.PortName,
		Baud:        cfg.BaudRate,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serialcomm: open %s: %w", cfg.PortName, err)
	}
	return port, nil
}
