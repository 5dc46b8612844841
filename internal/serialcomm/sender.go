// serialcomm/sender.go
package serialcomm

import (
	"context"
	"fmt"
	"io"
	"time"

	"railbridge/internal/observability"
)

// WritePaced writes b to w one byte at a time, waiting delay after each
// byte; the controller's UART cannot absorb a full-speed burst. It returns
// the number of bytes written.
func WritePaced(ctx context.Context, w io.Writer, b []byte, delay time.Duration) (int, error) {
	var one [1]byte
	for i := range b {
		one[0] = b[i]
		n, err := w.Write(one[:])
		if err != nil {
			return i, err
		}
		if n != 1 {
			return i, io.ErrShortWrite
		}
		if err := pause(ctx, delay); err != nil {
			return i + 1, err
		}
	}
	return len(b), nil
}

func (d *Device) send(ctx context.Context, b []byte) error {
	n, err := WritePaced(ctx, countingWriter{d}, b, d.cfg.WriteDelay)
	if err != nil {
		return fmt.Errorf("serialcomm: write %s: %w", d.cfg.PortName, err)
	}
	d.logger.Debug().Int("bytes", n).Msg("serial write")
	return nil
}

// countingWriter accounts each byte as soon as the port accepts it, before
// the inter-byte pause.
type countingWriter struct{ d *Device }

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.d.port.Write(p)
	if n > 0 {
		c.d.bytesWritten.Add(uint64(n))
		observability.RecordSerialBytes(observability.DirectionTx, n)
	}
	return n, err
}

func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
