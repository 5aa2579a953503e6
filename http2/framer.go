package http2

import (
	"bytes"
	"fmt"
)

// ConnectionPreface is the literal 24-byte sequence a client sends first on
// an h2c connection (RFC 7540, Section 3.5).
var ConnectionPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// IsH2CPreface reports whether data begins with the HTTP/2 connection
// preface. Useful for protocol sniffing on cleartext connections.
func IsH2CPreface(data []byte) bool {
	return len(data) >= len(ConnectionPreface) && bytes.Equal(data[:len(ConnectionPreface)], ConnectionPreface)
}

// rawFrame is one complete frame as split off the byte stream, before
// type-specific decoding.
type rawFrame struct {
	header  FrameHeader
	payload []byte
}

// framer incrementally splits an inbound byte stream into complete frames.
// It tolerates chunks of any size, retains incomplete bytes across calls,
// and never discards input. It imposes no buffering cap of its own; memory
// policy belongs to the caller.
type framer struct {
	buf           []byte
	expectPreface bool
	prefaceDone   bool
	maxFrameSize  uint32
}

func newFramer(expectPreface bool, maxFrameSize uint32) *framer {
	return &framer{
		expectPreface: expectPreface,
		prefaceDone:   !expectPreface,
		maxFrameSize:  maxFrameSize,
	}
}

// setMaxFrameSize changes the declared-length limit for frames split after
// this call. Frames already returned were validated under the old limit.
func (fr *framer) setMaxFrameSize(size uint32) {
	fr.maxFrameSize = size
}

// prefaceReceived reports whether the connection preface has been consumed
// (always true when no preface is expected).
func (fr *framer) prefaceReceived() bool {
	return fr.prefaceDone
}

// push appends p to the internal buffer and splits off every complete frame
// now available. The output is identical whether the stream arrives in one
// chunk or byte by byte. A returned error is a *ConnectionError and the
// framer must not be used afterward.
func (fr *framer) push(p []byte) ([]rawFrame, error) {
	fr.buf = append(fr.buf, p...)

	if !fr.prefaceDone {
		n := len(fr.buf)
		if n > len(ConnectionPreface) {
			n = len(ConnectionPreface)
		}
		if !bytes.Equal(fr.buf[:n], ConnectionPreface[:n]) {
			return nil, NewConnectionError(ErrCodeProtocolError, "invalid connection preface")
		}
		if n < len(ConnectionPreface) {
			return nil, nil // Preface still incomplete.
		}
		fr.buf = fr.buf[len(ConnectionPreface):]
		fr.prefaceDone = true
	}

	var frames []rawFrame
	for {
		if len(fr.buf) < FrameHeaderLen {
			break
		}
		header := parseFrameHeader(fr.buf)
		if header.Length > fr.maxFrameSize {
			return frames, NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("frame of type %s declares length %d exceeding SETTINGS_MAX_FRAME_SIZE %d", header.Type, header.Length, fr.maxFrameSize))
		}
		total := FrameHeaderLen + int(header.Length)
		if len(fr.buf) < total {
			break
		}
		payload := make([]byte, header.Length)
		copy(payload, fr.buf[FrameHeaderLen:total])
		fr.buf = fr.buf[total:]
		frames = append(frames, rawFrame{header: header, payload: payload})
	}
	// Reclaim the backing array once everything buffered was consumed, so a
	// long-lived connection doesn't pin its largest-ever chunk.
	if len(fr.buf) == 0 {
		fr.buf = nil
	}
	return frames, nil
}

// reset discards all buffered bytes and re-arms preface detection.
func (fr *framer) reset() {
	fr.buf = nil
	fr.prefaceDone = !fr.expectPreface
}
