package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ErrShortFrame reports a length-prefixed JSON frame that was truncated,
// either in the 4-byte length prefix or in the declared-length payload.
type ErrShortFrame struct {
	Want int
	Got  int
	Part string // "length prefix" or "payload"
}

func (e *ErrShortFrame) Error() string {
	return fmt.Sprintf("wire: short %s: want %d bytes, got %d", e.Part, e.Want, e.Got)
}

// SendJSON writes v as a length-prefixed JSON frame: a 4-byte big-endian
// signed length, then the JSON payload, as two separate writes.
func SendJSON(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal frame: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(int32(len(payload))))

	n, err := w.Write(lenBuf[:])
	if err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if n != len(lenBuf) {
		return &ErrShortFrame{Want: len(lenBuf), Got: n, Part: "length prefix"}
	}

	n, err = w.Write(payload)
	if err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	if n != len(payload) {
		return &ErrShortFrame{Want: len(payload), Got: n, Part: "payload"}
	}
	return nil
}

// RecvJSON reads a length-prefixed JSON frame written by SendJSON and
// unmarshals it into v. A short read on either the length prefix or the
// declared-length payload returns *ErrShortFrame rather than panicking.
func RecvJSON(r io.Reader, v any) error {
	var lenBuf [4]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if err != nil {
		if n == len(lenBuf) {
			return fmt.Errorf("wire: read length prefix: %w", err)
		}
		return &ErrShortFrame{Want: len(lenBuf), Got: n, Part: "length prefix"}
	}

	length := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if length < 0 {
		return fmt.Errorf("wire: negative frame length %d", length)
	}

	payload := make([]byte, length)
	n, err = io.ReadFull(r, payload)
	if err != nil {
		if n == int(length) {
			return fmt.Errorf("wire: read payload: %w", err)
		}
		return &ErrShortFrame{Want: int(length), Got: n, Part: "payload"}
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("wire: unmarshal frame: %w", err)
	}
	return nil
}
