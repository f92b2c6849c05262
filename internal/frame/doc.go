// Package frame implements the length-prefixed framing used on tunnel
// sockets.
//
// Every message on the wire is a 4-byte big-endian unsigned length L
// followed by exactly L payload bytes. The payload is opaque at this
// layer; see the envelope package for its contents.
//
// Encode produces one framed message:
//
//	buf, err := frame.Encode(payload)
//
// Decoder consumes a raw byte stream in arbitrary chunks and hands each
// reassembled payload to a sink callback, in order, exactly once:
//
//	dec := frame.NewDecoder(maxBytes, func(p []byte) { ... })
//	err := dec.Consume(chunk)
//
// A length prefix beyond the configured maximum yields ErrFrameTooLarge.
// That error is terminal for the stream: the decoder cannot resynchronize,
// so the owning connection must be closed.
package frame
