package frame

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// CommandSink receives the bytes of the command channel.
// It is satisfied by *pipe.Pipe.
type CommandSink interface {
	io.ByteWriter
	io.Closer
}

// Demux reads frames from r until the stream ends and routes their payloads.
//
// Frames on CommandChannel are written byte by byte to command. Frames on any
// other channel are written verbatim to the matching entry of channels;
// frames on unknown channels are dropped. The loop ends on end of stream, on
// any read error, or when ctx is done; in every case command is closed before
// Demux returns so that readers blocked on it observe end of stream.
//
// Demux returns nil on a clean end of stream and the read error otherwise.
// Callers treat both as session termination.
func Demux(
	ctx context.Context,
	log *slog.Logger,
	r io.Reader,
	command CommandSink,
	channels map[string]io.Writer,
) error {
	defer command.Close()

	dec := NewDecoder(r)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			log.Debug("Demux reached end of stream")

			return nil
		}

		if err != nil {
			log.Debug("Demux read failed", "error", err)

			return err
		}

		if f.Channel == CommandChannel {
			for _, b := range f.Payload {
				_ = command.WriteByte(b)
			}

			continue
		}

		w, ok := channels[f.Channel]
		if !ok {
			log.Debug("Dropping frame for unknown channel", "channel", f.Channel, "len", len(f.Payload))

			continue
		}

		if _, err := w.Write(f.Payload); err != nil {
			log.Debug("Channel sink write failed", "channel", f.Channel, "error", err)
		}
	}
}
