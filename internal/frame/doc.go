// Package frame implements the wire framing that multiplexes named byte
// channels over one duplex stream.
//
// Every frame is a channel name and a payload, each prefixed by an unsigned
// 8-bit length:
//
//	[u8 nameLen][name][u8 dataLen][payload]
//
// Writes longer than MaxLen bytes are split into consecutive frames on the
// same channel. The receiver appends payloads to the channel's sink; there is
// no close frame and no "more data" flag, so the only end-of-stream signal is
// the underlying stream ending where a frame would begin.
package frame
