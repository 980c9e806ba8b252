package channel

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize caps a single frame payload. Source snapshots are the
// largest field in practice; 8 MiB leaves generous headroom.
const MaxFrameSize = 8 << 20

// headerSize is the fixed-width byte-length prefix of every frame.
const headerSize = 4

// ReadFrame reads one length-prefixed frame from r. It returns io.EOF
// only on a clean stream closure at a frame boundary.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("channel: read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return nil, fmt.Errorf("channel: zero-length frame")
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("channel: frame of %d bytes exceeds %d byte cap", size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("channel: read frame payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("channel: frame of %d bytes exceeds %d byte cap", len(payload), MaxFrameSize)
	}
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("channel: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("channel: write frame payload: %w", err)
	}
	return nil
}
