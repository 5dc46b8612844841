package serialcomm

import (
	"errors"
	"sync"
	"time"
)

// fakePort serves queued chunks to Read and records every Write call.
// Read returns (0, nil) after timeout when nothing is queued.
type fakePort struct {
	rx      chan []byte
	fail    chan error
	timeout time.Duration

	mu       sync.Mutex
	writes   [][]byte
	stamps   []time.Time
	writeErr error
	closed   bool
}

func newFakePort(timeout time.Duration) *fakePort {
	return &fakePort{
		rx:      make(chan []byte, 16),
		fail:    make(chan error, 1),
		timeout: timeout,
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.rx:
		return copy(b, chunk), nil
	case err := <-p.fail:
		return 0, err
	case <-time.After(p.timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("fake port closed")
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.stamps = append(p.stamps, time.Now())
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []byte
	for _, w := range p.writes {
		out = append(out, w...)
	}
	return out
}

func (p *fakePort) writeCalls() ([][]byte, []time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...), append([]time.Time(nil), p.stamps...)
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// hungPort returns immediately with nothing, like a yanked USB adapter.
type hungPort struct{ closed bool }

func (p *hungPort) Read([]byte) (int, error)    { return 0, nil }
func (p *hungPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *hungPort) Close() error                { p.closed = true; return nil }
