package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// MaxLen is the largest channel name or payload a single frame can carry.
const MaxLen = 255

// CommandChannel is the reserved channel carrying the command protocol.
const CommandChannel = "command"

// Conventional stream channels.
const (
	OutChannel = "out"
	ErrChannel = "err"
	InChannel  = "in"
)

var (
	ErrNameTooLong = errors.New("frame: channel name longer than 255 bytes")
	ErrEmptyName   = errors.New("frame: empty channel name")
)

// Frame is one length-prefixed chunk of a channel's byte stream.
//
// Wire format:
//
//	[u8 len(Channel)][Channel][u8 len(Payload)][Payload]
//
// A zero-length payload is a legal frame. It carries no end-of-message
// meaning.
type Frame struct {
	Channel string
	Payload []byte
}

// Encode splits p into frames of at most MaxLen bytes on channel name.
// An empty p yields exactly one empty frame.
func Encode(name string, p []byte) ([]Frame, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	frames := make([]Frame, 0, len(p)/MaxLen+1)

	for {
		n := min(len(p), MaxLen)
		frames = append(frames, Frame{Channel: name, Payload: p[:n:n]})
		p = p[n:]

		if len(p) == 0 {
			return frames, nil
		}
	}
}

// Append appends the wire encoding of p on channel name to dst.
func Append(dst []byte, name string, p []byte) ([]byte, error) {
	frames, err := Encode(name, p)
	if err != nil {
		return dst, err
	}

	for _, f := range frames {
		dst = append(dst, byte(len(f.Channel)))
		dst = append(dst, f.Channel...)
		dst = append(dst, byte(len(f.Payload)))
		dst = append(dst, f.Payload...)
	}

	return dst, nil
}

func checkName(name string) error {
	if name == "" {
		return ErrEmptyName
	}

	if len(name) > MaxLen {
		return ErrNameTooLong
	}

	return nil
}

// Decoder reads frames from a byte stream.
type Decoder struct {
	r    *bufio.Reader
	name [MaxLen]byte
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	return &Decoder{r: br}
}

// Next returns the next frame. io.EOF is returned only when the stream ends
// exactly where a frame would begin; a stream ending inside a frame yields
// io.ErrUnexpectedEOF.
//
// The returned payload is freshly allocated and owned by the caller.
func (d *Decoder) Next() (Frame, error) {
	nameLen, err := d.r.ReadByte()
	if err != nil {
		return Frame{}, err
	}

	name := d.name[:nameLen]
	if _, err := io.ReadFull(d.r, name); err != nil {
		return Frame{}, fmt.Errorf("read channel name: %w", unexpected(err))
	}

	dataLen, err := d.r.ReadByte()
	if err != nil {
		return Frame{}, fmt.Errorf("read payload length: %w", unexpected(err))
	}

	payload := make([]byte, dataLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Frame{}, fmt.Errorf("read payload: %w", unexpected(err))
	}

	return Frame{Channel: string(name), Payload: payload}, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}
