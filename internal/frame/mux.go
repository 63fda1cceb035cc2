package frame

import (
	"io"
	"sync"
)

// Multiplexer frames writes from several named channels onto one writer.
//
// Each Write on a channel writer is encoded and written to the underlying
// writer in a single call, so frames of one Write are never interleaved with
// frames of another channel.
type Multiplexer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewMultiplexer returns a multiplexer writing to w.
func NewMultiplexer(w io.Writer) *Multiplexer {
	return &Multiplexer{w: w}
}

// Channel returns a writer for the named channel. It panics if the name
// cannot be encoded; channel names are fixed at construction time.
func (m *Multiplexer) Channel(name string) io.Writer {
	if err := checkName(name); err != nil {
		panic(err)
	}

	return &channelWriter{mux: m, name: name}
}

func (m *Multiplexer) write(name string, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, err := Append(m.buf[:0], name, p)
	if err != nil {
		return 0, err
	}

	m.buf = buf

	if _, err := m.w.Write(buf); err != nil {
		return 0, err
	}

	return len(p), nil
}

type channelWriter struct {
	mux  *Multiplexer
	name string
}

func (c *channelWriter) Write(p []byte) (int, error) {
	return c.mux.write(c.name, p)
}
