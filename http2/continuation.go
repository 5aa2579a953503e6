package http2

import "fmt"

// DefaultMaxHeaderBlockSize caps the bytes accumulated for one header block
// across HEADERS and CONTINUATION frames (256 KiB). The cap defends against
// CONTINUATION floods pinning unbounded memory.
const DefaultMaxHeaderBlockSize = 256 * 1024

// headerBlock is the finished product of continuation assembly: one complete
// header-block byte sequence ready for HPACK decoding.
type headerBlock struct {
	streamID  uint32
	fragment  []byte
	endStream bool
}

// continuationAssembler accumulates header-block fragments for the one
// stream allowed to have an open block. While a block is open, no frame
// other than CONTINUATION may arrive on the connection (RFC 7540, Section
// 6.10); the codec checks that exclusivity via isOpen.
type continuationAssembler struct {
	open        bool
	streamID    uint32
	accumulated []byte
	endStream   bool
	maxSize     int
}

func newContinuationAssembler(maxSize int) *continuationAssembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxHeaderBlockSize
	}
	return &continuationAssembler{maxSize: maxSize}
}

// isOpen reports whether a header block is mid-assembly.
func (a *continuationAssembler) isOpen() bool { return a.open }

// openStreamID returns the stream owning the open block; only meaningful
// when isOpen.
func (a *continuationAssembler) openStreamID() uint32 { return a.streamID }

// begin starts assembly from a HEADERS frame that lacked END_HEADERS.
func (a *continuationAssembler) begin(streamID uint32, fragment []byte, endStream bool) error {
	if len(fragment) > a.maxSize {
		return NewConnectionError(ErrCodeEnhanceYourCalm, fmt.Sprintf("header block too large (%d bytes, max %d)", len(fragment), a.maxSize))
	}
	a.open = true
	a.streamID = streamID
	a.accumulated = append([]byte(nil), fragment...)
	a.endStream = endStream
	return nil
}

// push appends a CONTINUATION fragment. When endHeaders is set it returns
// the completed block and returns the assembler to idle.
func (a *continuationAssembler) push(streamID uint32, fragment []byte, endHeaders bool) (*headerBlock, error) {
	if !a.open {
		return nil, NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("unexpected CONTINUATION frame for stream %d", streamID))
	}
	if streamID != a.streamID {
		return nil, NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("CONTINUATION for stream %d but pending headers on stream %d", streamID, a.streamID))
	}
	if len(a.accumulated)+len(fragment) > a.maxSize {
		total := len(a.accumulated) + len(fragment)
		a.discard()
		return nil, NewConnectionError(ErrCodeEnhanceYourCalm, fmt.Sprintf("header block too large (%d bytes, max %d)", total, a.maxSize))
	}
	a.accumulated = append(a.accumulated, fragment...)
	if !endHeaders {
		return nil, nil
	}
	block := &headerBlock{
		streamID:  a.streamID,
		fragment:  a.accumulated,
		endStream: a.endStream,
	}
	a.discard()
	return block, nil
}

// discard drops any partially assembled block and returns to idle.
func (a *continuationAssembler) discard() {
	a.open = false
	a.streamID = 0
	a.accumulated = nil
	a.endStream = false
}
