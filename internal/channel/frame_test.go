package channel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{
		[]byte(`{"v":1,"action":"ping"}`),
		[]byte("second frame\nwith a newline"),
		{0x00, 0xff, 0x7f},
	}
	for _, p := range payloads {
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for i, want := range payloads {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame #%d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame #%d = %q, want %q", i, got, want)
		}
	}
	if _, err := ReadFrame(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("exhausted stream: err = %v, want io.EOF", err)
	}
}

func TestReadFrameCleanEOFOnlyAtBoundary(t *testing.T) {
	// A stream that dies mid-header must not look like a clean closure.
	r := bytes.NewReader([]byte{0x00, 0x00})
	_, err := ReadFrame(r)
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("truncated header: err = %v, want a non-EOF error", err)
	}

	// Same for a stream that dies mid-payload.
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 10)
	buf.Write(header[:])
	buf.WriteString("short")
	_, err = ReadFrame(&buf)
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("truncated payload: err = %v, want a non-EOF error", err)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0, 0, 0})
	if _, err := ReadFrame(r); err == nil {
		t.Error("zero-length frame should be rejected")
	}
}

func TestFrameSizeCap(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	if _, err := ReadFrame(bytes.NewReader(header[:])); err == nil {
		t.Error("oversize frame should be rejected before allocation")
	}

	if err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1)); err == nil {
		t.Error("oversize write should be rejected")
	}
}
