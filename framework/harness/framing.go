package harness

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const frameHeaderSize = 4

// MaxFrameSize is the largest frame body that ReadFrame accepts.
const MaxFrameSize = 64 * 1024 * 1024

// ErrFrameTooLarge means a frame header announced a body larger than MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes a 4-byte little-endian length followed by the body. An empty body is the
// end-of-stream frame.
func WriteFrame(w io.Writer, body []byte) error {
	buf := make([]byte, frameHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[frameHeaderSize:], body)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame body. It returns io.EOF for the end-of-stream frame, and also if the
// stream ends cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(header[:])
	if size == 0 {
		return nil, io.EOF
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}
