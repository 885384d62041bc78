// Package codec implements the length-prefixed frame protocol the ingester
// speaks: a 4-byte big-endian length N followed by N bytes of JSON payload.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrame is the largest payload a single frame may carry. Frames whose
// declared length exceeds this are rejected without reading the body.
const MaxFrame = 1 << 20 // 1 MiB

// Kind distinguishes the ways a frame can be malformed.
type Kind int

const (
	ShortHeader Kind = iota
	ShortBody
	LengthTooLarge
)

func (k Kind) String() string {
	switch k {
	case ShortHeader:
		return "short_header"
	case ShortBody:
		return "short_body"
	case LengthTooLarge:
		return "length_too_large"
	default:
		return "unknown"
	}
}

// FrameError reports a malformed frame. It is connection-local: the caller
// closes that connection and keeps accepting others.
type FrameError struct {
	Kind   Kind
	Length uint32 // declared frame length, when known
}

func (e *FrameError) Error() string {
	if e.Kind == LengthTooLarge {
		return fmt.Sprintf("codec: frame length %d exceeds MAX_FRAME (%d)", e.Length, MaxFrame)
	}
	return fmt.Sprintf("codec: %s", e.Kind)
}

// ErrStreamClosed is returned by Decoder.Next when the underlying stream
// ended cleanly between frames (no partial header or body was read).
var ErrStreamClosed = io.EOF

// Decoder pulls length-prefixed payloads off a byte stream one at a time.
type Decoder struct {
	r        io.Reader
	header   [4]byte
	maxFrame uint32
}

// NewDecoder wraps r. maxFrame of 0 uses MaxFrame.
func NewDecoder(r io.Reader, maxFrame uint32) *Decoder {
	if maxFrame == 0 {
		maxFrame = MaxFrame
	}
	return &Decoder{r: r, maxFrame: maxFrame}
}

// Next reads and returns the next frame's payload. It returns ErrStreamClosed
// (io.EOF) when the stream ends exactly on a frame boundary, or a *FrameError
// when the stream ends mid-frame or the declared length is too large.
func (d *Decoder) Next() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: ShortHeader}
	}

	length := binary.BigEndian.Uint32(d.header[:])
	if length > d.maxFrame {
		return nil, &FrameError{Kind: LengthTooLarge, Length: length}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, &FrameError{Kind: ShortBody, Length: length}
	}

	return payload, nil
}

// Encoder writes length-prefixed frames. Used by tests and the replay tool;
// the live ingester is an external collaborator and isn't implemented here.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Write emits one frame containing payload. It never writes a partial frame:
// the length header and body are built in one buffer before the single
// underlying Write call.
func (e *Encoder) Write(payload []byte) error {
	if len(payload) > MaxFrame {
		return &FrameError{Kind: LengthTooLarge, Length: uint32(len(payload))}
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	_, err := e.w.Write(buf)
	return err
}
