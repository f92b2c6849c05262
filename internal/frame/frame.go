// ABOUTME: Length-prefixed frame codec for the tunnel wire protocol.
// ABOUTME: Streaming decoder reassembles frames from arbitrarily chunked reads.

package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DefaultMaxBytes is the default cap on a single frame payload (16 MiB).
const DefaultMaxBytes = 16 << 20

// headerSize is the 4-byte big-endian length prefix on every frame.
const headerSize = 4

// ErrFrameTooLarge indicates a frame whose declared length exceeds the
// configured maximum. After this error the stream offset is unrecoverable
// and the connection must be torn down.
var ErrFrameTooLarge = errors.New("frame too large")

// Encode prefixes p with its length as a big-endian unsigned 32-bit integer.
func Encode(p []byte) ([]byte, error) {
	if uint64(len(p)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload is %d bytes", ErrFrameTooLarge, len(p))
	}

	buf := make([]byte, headerSize+len(p))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(p)))
	copy(buf[headerSize:], p)
	return buf, nil
}

// Decoder is a streaming frame parser. Bytes fed to Consume are buffered
// until a complete frame is available, then its payload is handed to the
// sink. Each payload is delivered exactly once, in stream order.
//
// A Decoder is owned by a single connection's read loop and is not safe
// for concurrent use.
type Decoder struct {
	buf  bytes.Buffer
	max  uint32
	sink func(payload []byte)
}

// NewDecoder creates a Decoder that delivers payloads to sink. Frames
// longer than max bytes are rejected before allocation. A max of zero
// falls back to DefaultMaxBytes.
func NewDecoder(max uint32, sink func(payload []byte)) *Decoder {
	if max == 0 {
		max = DefaultMaxBytes
	}
	return &Decoder{
		max:  max,
		sink: sink,
	}
}

// Consume appends data to the internal buffer and emits every complete
// frame it now holds. Returns ErrFrameTooLarge when a length prefix
// exceeds the maximum; the caller must drop the connection.
func (d *Decoder) Consume(data []byte) error {
	d.buf.Write(data)

	for {
		if d.buf.Len() < headerSize {
			return nil
		}

		length := binary.BigEndian.Uint32(d.buf.Bytes()[:headerSize])
		if length > d.max {
			return fmt.Errorf("%w: declared %d bytes, max %d", ErrFrameTooLarge, length, d.max)
		}

		if d.buf.Len() < headerSize+int(length) {
			return nil
		}

		d.buf.Next(headerSize)
		payload := make([]byte, length)
		copy(payload, d.buf.Next(int(length)))

		d.sink(payload)
	}
}
