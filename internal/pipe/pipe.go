// Package pipe provides an in-process growable byte queue with one
// non-blocking writer and one blocking reader.
package pipe

import (
	"io"
	"sync"
)

// initialSize is the starting capacity of the ring buffer.
const initialSize = 128

// Pipe is a single-producer/single-consumer byte queue backed by a growable
// ring buffer.
//
// Writes never block; the buffer doubles when full. Reads block until a byte
// is available or the pipe is closed. Close does not drain: once closed,
// reads return io.EOF immediately even if bytes remain buffered.
type Pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	start  int // index of the oldest byte
	n      int // number of buffered bytes
	closed bool
}

// New returns an empty pipe.
func New() *Pipe {
	p := &Pipe{buf: make([]byte, initialSize)}
	p.cond = sync.NewCond(&p.mu)

	return p
}

// WriteByte appends b. It never blocks and never fails; bytes written after
// Close are discarded.
func (p *Pipe) WriteByte(b byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.put(b)
	p.cond.Signal()

	return nil
}

// Write appends all of b.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return len(b), nil
	}

	for _, c := range b {
		p.put(c)
	}

	p.cond.Signal()

	return len(b), nil
}

// put appends one byte, growing the buffer if needed. Caller holds p.mu.
func (p *Pipe) put(b byte) {
	if p.n == len(p.buf) {
		p.grow()
	}

	p.buf[(p.start+p.n)%len(p.buf)] = b
	p.n++
}

// grow doubles the buffer, unrolling the ring so the oldest byte is at 0.
func (p *Pipe) grow() {
	next := make([]byte, 2*len(p.buf))
	k := copy(next, p.buf[p.start:])
	copy(next[k:], p.buf[:p.start])

	p.buf = next
	p.start = 0
}

// ReadByte blocks until a byte is available or the pipe is closed.
// It returns io.EOF once the pipe is closed.
func (p *Pipe) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.n == 0 && !p.closed {
		p.cond.Wait()
	}

	if p.closed {
		return 0, io.EOF
	}

	return p.take(), nil
}

// Read blocks until at least one byte is available, then copies as many
// buffered bytes as fit into b.
func (p *Pipe) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for p.n == 0 && !p.closed {
		p.cond.Wait()
	}

	if p.closed {
		return 0, io.EOF
	}

	i := 0
	for i < len(b) && p.n > 0 {
		b[i] = p.take()
		i++
	}

	return i, nil
}

// take removes the oldest byte. Caller holds p.mu and has checked p.n > 0.
func (p *Pipe) take() byte {
	b := p.buf[p.start]
	p.start = (p.start + 1) % len(p.buf)
	p.n--

	return b
}

// Buffered returns the number of unread bytes.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.n
}

// Close closes the pipe and wakes any blocked reader. It is safe to call
// Close multiple times.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.cond.Broadcast()

	return nil
}

// Compile-time interface checks.
var (
	_ io.ReadWriteCloser = (*Pipe)(nil)
	_ io.ByteReader      = (*Pipe)(nil)
	_ io.ByteWriter      = (*Pipe)(nil)
)
