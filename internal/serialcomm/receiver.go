// serialcomm/receiver.go
package serialcomm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"railbridge/internal/observability"
)

// maxFastEmptyReads is how many zero-byte reads returning well before the
// read timeout are tolerated before the port is treated as hung up.
const maxFastEmptyReads = 50

type receiver struct {
	d       *Device
	scratch []byte
	fast    int
}

func newReceiver(d *Device) *receiver {
	return &receiver{d: d, scratch: make([]byte, d.cfg.ReadBufferSize)}
}

// poll performs one read. An empty chunk with a nil error is a timeout.
func (r *receiver) poll() ([]byte, error) {
	start := time.Now()
	n, err := r.d.port.Read(r.scratch)
	if err != nil && !isTimeout(err) {
		return nil, fmt.Errorf("serialcomm: read %s: %w", r.d.cfg.PortName, err)
	}
	if n > 0 {
		r.fast = 0
		r.d.bytesRead.Add(uint64(n))
		observability.RecordSerialBytes(observability.DirectionRx, n)
		return bytes.Clone(r.scratch[:n]), nil
	}

	timeout := r.d.cfg.ReadTimeout
	if timeout > 0 && time.Since(start) < timeout/10 {
		r.fast++
		if r.fast >= maxFastEmptyReads {
			return nil, fmt.Errorf("%w: %s", ErrPortHangup, r.d.cfg.PortName)
		}
	} else {
		r.fast = 0
	}
	return nil, nil
}

// isTimeout reports whether err is how the port signals an empty poll.
// tarm/serial surfaces a VTIME expiry on posix as io.EOF.
func isTimeout(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
