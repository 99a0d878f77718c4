package network

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Network protocols supported by the prototype. UDP is acceptable because
// every operation is idempotent; TCP is the default.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)

// MaxDatagramSize bounds a framed message in either direction.
const MaxDatagramSize = 1024 * 1024

// WriteFrame writes one length-prefixed envelope.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxDatagramSize {
		return errors.Errorf("frame exceeds max size (%d > %d)", len(payload), MaxDatagramSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed envelope.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxDatagramSize {
		return nil, errors.Errorf("frame exceeds max size (%d > %d)", size, MaxDatagramSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
