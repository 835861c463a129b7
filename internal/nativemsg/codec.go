// Package nativemsg speaks the browser native messaging protocol: each message
// is UTF-8 JSON preceded by its length as a 32-bit unsigned integer in native
// byte order.
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrMessageTooLarge is returned when a frame exceeds the configured limit.
var ErrMessageTooLarge = errors.New("nativemsg: message exceeds size limit")

const headerSize = 4

// WriteMessage encodes v as JSON and writes it as a single frame.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nativemsg: encode: %w", err)
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return ErrMessageTooLarge
	}

	frame := make([]byte, headerSize+len(payload))
	binary.NativeEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerSize:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("nativemsg: write: %w", err)
	}
	return nil
}

// ReadMessage reads one frame. It returns io.EOF when the stream ends cleanly
// between frames and io.ErrUnexpectedEOF when it ends inside one.
func ReadMessage(r io.Reader, maxSize int) (json.RawMessage, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.NativeEndian.Uint32(header[:])
	if maxSize > 0 && uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, size, maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("nativemsg: frame of %d bytes is not valid JSON", size)
	}
	return json.RawMessage(payload), nil
}
