package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var errFakeClosed = errors.New("fake link closed")

// fakeDevice stands in for serialcomm.Device.
type fakeDevice struct {
	rx        chan []byte
	fail      chan error
	submitted chan []byte
	submitErr error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		rx:        make(chan []byte, 64),
		fail:      make(chan error, 1),
		submitted: make(chan []byte, 64),
	}
}

func (d *fakeDevice) Run(ctx context.Context, out chan<- []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-d.fail:
			return err
		case c := <-d.rx:
			select {
			case out <- c:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (d *fakeDevice) Submit(ctx context.Context, b []byte) error {
	if d.submitErr != nil {
		return d.submitErr
	}
	select {
	case d.submitted <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// countedDevice is a fakeDevice that reports serial byte counters.
type countedDevice struct {
	*fakeDevice
	read, written atomic.Uint64
}

func (d *countedDevice) Counters() (read, written uint64) {
	return d.read.Load(), d.written.Load()
}

// fakeLink records writes and serves queued inbound messages.
type fakeLink struct {
	inbound  chan []byte
	readErr  chan error
	written  chan []byte
	writeErr error
	// gate, when set, holds every write until it is closed.
	gate chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		inbound: make(chan []byte, 64),
		readErr: make(chan error, 1),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (l *fakeLink) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case m := <-l.inbound:
		return m, nil
	case err := <-l.readErr:
		return nil, err
	case <-l.closed:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeLink) WriteMessage(ctx context.Context, b []byte) error {
	if l.gate != nil {
		<-l.gate
	}
	if l.writeErr != nil {
		return l.writeErr
	}
	select {
	case <-l.closed:
		return errFakeClosed
	default:
	}
	l.written <- append([]byte(nil), b...)
	return nil
}

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}
