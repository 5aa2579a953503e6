package http2

import (
	"encoding/binary"
	"fmt"
)

// FrameType represents an HTTP/2 frame type.
type FrameType uint8

const (
	// FrameData is for DATA frames (0x0).
	FrameData FrameType = 0x0
	// FrameHeaders is for HEADERS frames (0x1).
	FrameHeaders FrameType = 0x1
	// FramePriority is for PRIORITY frames (0x2).
	FramePriority FrameType = 0x2
	// FrameRSTStream is for RST_STREAM frames (0x3).
	FrameRSTStream FrameType = 0x3
	// FrameSettings is for SETTINGS frames (0x4).
	FrameSettings FrameType = 0x4
	// FramePushPromise is for PUSH_PROMISE frames (0x5).
	FramePushPromise FrameType = 0x5
	// FramePing is for PING frames (0x6).
	FramePing FrameType = 0x6
	// FrameGoAway is for GOAWAY frames (0x7).
	FrameGoAway FrameType = 0x7
	// FrameWindowUpdate is for WINDOW_UPDATE frames (0x8).
	FrameWindowUpdate FrameType = 0x8
	// FrameContinuation is for CONTINUATION frames (0x9).
	FrameContinuation FrameType = 0x9
)

// String returns the string representation of the FrameType.
func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return fmt.Sprintf("UNKNOWN_FRAME_TYPE_%d", uint8(t))
	}
}

// Flags represents flags for an HTTP/2 frame.
type Flags uint8

// Frame header flags.
const (
	// FlagDataEndStream indicates that this DATA frame is the last from the sender.
	FlagDataEndStream Flags = 0x1
	// FlagDataPadded indicates that this DATA frame is padded.
	FlagDataPadded Flags = 0x8

	// FlagHeadersEndStream indicates that this HEADERS frame is the last from the sender.
	FlagHeadersEndStream Flags = 0x1
	// FlagHeadersEndHeaders indicates that this HEADERS frame contains an entire block of header fields.
	FlagHeadersEndHeaders Flags = 0x4
	// FlagHeadersPadded indicates that this HEADERS frame is padded.
	FlagHeadersPadded Flags = 0x8
	// FlagHeadersPriority indicates that this HEADERS frame includes priority information.
	FlagHeadersPriority Flags = 0x20

	// FlagSettingsAck indicates that this SETTINGS frame acknowledges receipt of the peer's SETTINGS frame.
	FlagSettingsAck Flags = 0x1

	// FlagPingAck indicates that this PING frame is an acknowledgment.
	FlagPingAck Flags = 0x1

	// FlagContinuationEndHeaders indicates that this CONTINUATION frame ends a header block.
	FlagContinuationEndHeaders Flags = 0x4

	// FlagPushPromiseEndHeaders indicates that this PUSH_PROMISE frame contains an entire block of header fields.
	FlagPushPromiseEndHeaders Flags = 0x4
	// FlagPushPromisePadded indicates that this PUSH_PROMISE frame is padded.
	FlagPushPromisePadded Flags = 0x8
)

// SettingID represents a SETTINGS parameter identifier.
type SettingID uint16

// SETTINGS parameters from RFC 7540 Section 6.5.2.
const (
	// SettingHeaderTableSize (0x1): Initial size of the HPACK header table.
	SettingHeaderTableSize SettingID = 0x1
	// SettingEnablePush (0x2): Whether server push is enabled.
	SettingEnablePush SettingID = 0x2
	// SettingMaxConcurrentStreams (0x3): Maximum number of concurrent streams.
	SettingMaxConcurrentStreams SettingID = 0x3
	// SettingInitialWindowSize (0x4): Initial window size for flow control.
	SettingInitialWindowSize SettingID = 0x4
	// SettingMaxFrameSize (0x5): Maximum size of a frame payload.
	SettingMaxFrameSize SettingID = 0x5
	// SettingMaxHeaderListSize (0x6): Maximum size of header list.
	SettingMaxHeaderListSize SettingID = 0x6
)

// String returns the string representation of the SettingID.
func (s SettingID) String() string {
	switch s {
	case SettingHeaderTableSize:
		return "SETTINGS_HEADER_TABLE_SIZE"
	case SettingEnablePush:
		return "SETTINGS_ENABLE_PUSH"
	case SettingMaxConcurrentStreams:
		return "SETTINGS_MAX_CONCURRENT_STREAMS"
	case SettingInitialWindowSize:
		return "SETTINGS_INITIAL_WINDOW_SIZE"
	case SettingMaxFrameSize:
		return "SETTINGS_MAX_FRAME_SIZE"
	case SettingMaxHeaderListSize:
		return "SETTINGS_MAX_HEADER_LIST_SIZE"
	default:
		return fmt.Sprintf("UNKNOWN_SETTING_ID_%d", uint16(s))
	}
}

const (
	// FrameHeaderLen is the length of the HTTP/2 frame header.
	FrameHeaderLen = 9

	// DefaultMaxFrameSize is the SETTINGS_MAX_FRAME_SIZE value in effect until
	// negotiated otherwise (2^14, the minimum a peer may advertise).
	DefaultMaxFrameSize uint32 = 16384
	// MaxAllowedFrameSize is the largest value SETTINGS_MAX_FRAME_SIZE may take (2^24 - 1).
	MaxAllowedFrameSize uint32 = (1 << 24) - 1
	// MinAllowedFrameSize is the smallest value SETTINGS_MAX_FRAME_SIZE may take.
	MinAllowedFrameSize uint32 = 16384

	// DefaultInitialWindowSize is the default initial window size for flow control (2^16 - 1).
	DefaultInitialWindowSize uint32 = 65535

	// DefaultHeaderTableSize is the default HPACK dynamic table size.
	DefaultHeaderTableSize uint32 = 4096
)

const settingEntrySize = 6 // 2 bytes for ID, 4 bytes for Value

// FrameHeader represents the 9-octet header common to all frames.
type FrameHeader struct {
	Length   uint32    // 24 bits
	Type     FrameType // 8 bits
	Flags    Flags     // 8 bits
	StreamID uint32    // 31 bits (R is 1 bit, masked out)
}

// parseFrameHeader decodes the 9-byte frame header at the start of buf.
// The caller guarantees len(buf) >= FrameHeaderLen.
func parseFrameHeader(buf []byte) FrameHeader {
	return FrameHeader{
		Length:   uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]),
		Type:     FrameType(buf[3]),
		Flags:    Flags(buf[4]),
		StreamID: binary.BigEndian.Uint32(buf[5:9]) & 0x7FFFFFFF, // Mask out R bit
	}
}

// appendFrameHeader serializes a 9-byte frame header onto dst.
// The R bit of the stream id is always written as 0.
func appendFrameHeader(dst []byte, length uint32, typ FrameType, flags Flags, streamID uint32) []byte {
	dst = append(dst, byte(length>>16), byte(length>>8), byte(length))
	dst = append(dst, byte(typ), byte(flags))
	var sid [4]byte
	binary.BigEndian.PutUint32(sid[:], streamID&0x7FFFFFFF)
	return append(dst, sid[:]...)
}

// Frame is the interface for all decoded HTTP/2 frames.
type Frame interface {
	Header() *FrameHeader
	parsePayload(payload []byte) error
}

// DataFrame represents an HTTP/2 DATA frame.
// RFC 7540, Section 6.1
type DataFrame struct {
	FrameHeader
	PadLength uint8 // Only meaningful if FlagDataPadded is set
	Data      []byte
}

func (f *DataFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *DataFrame) parsePayload(payload []byte) error {
	if f.StreamID == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received DATA on stream 0")
	}
	if f.Flags&FlagDataPadded != 0 {
		if len(payload) == 0 {
			return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("padded DATA frame on stream %d has no room for the Pad Length field", f.StreamID))
		}
		f.PadLength = payload[0]
		if int(f.PadLength) >= len(payload) {
			// Pad Length field + padding cannot cover the whole payload.
			return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("DATA frame on stream %d declares %d padding octets but payload is only %d octets", f.StreamID, f.PadLength, len(payload)))
		}
		f.Data = payload[1 : len(payload)-int(f.PadLength)]
	} else {
		f.Data = payload
	}
	return nil
}

// HeadersFrame represents an HTTP/2 HEADERS frame.
// RFC 7540, Section 6.2
type HeadersFrame struct {
	FrameHeader
	PadLength           uint8  // Only meaningful if FlagHeadersPadded is set
	Exclusive           bool   // E: 1 bit
	StreamDependency    uint32 // 31 bits
	Weight              uint8  // 8 bits
	HeaderBlockFragment []byte
}

func (f *HeadersFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *HeadersFrame) parsePayload(payload []byte) error {
	if f.StreamID == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received HEADERS on stream 0")
	}
	end := len(payload)
	if f.Flags&FlagHeadersPadded != 0 {
		if len(payload) == 0 {
			return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("padded HEADERS frame on stream %d has no room for the Pad Length field", f.StreamID))
		}
		f.PadLength = payload[0]
		payload = payload[1:]
		if int(f.PadLength) >= len(payload)+1 {
			return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("HEADERS frame on stream %d declares %d padding octets but only %d remain", f.StreamID, f.PadLength, len(payload)))
		}
		end = len(payload) - int(f.PadLength)
	} else {
		end = len(payload)
	}
	if f.Flags&FlagHeadersPriority != 0 {
		if end < 5 {
			return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("HEADERS frame on stream %d too short for priority fields", f.StreamID))
		}
		streamDepAndE := binary.BigEndian.Uint32(payload[0:4])
		f.Exclusive = streamDepAndE>>31 == 1
		f.StreamDependency = streamDepAndE & 0x7FFFFFFF
		f.Weight = payload[4]
		payload = payload[5:]
		end -= 5
	}
	f.HeaderBlockFragment = payload[:end]
	return nil
}

// PriorityFrame represents an HTTP/2 PRIORITY frame.
// RFC 7540, Section 6.3. The engine parses these and discards them.
type PriorityFrame struct {
	FrameHeader
	Exclusive        bool   // E: 1 bit
	StreamDependency uint32 // 31 bits
	Weight           uint8  // 8 bits
}

func (f *PriorityFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *PriorityFrame) parsePayload(payload []byte) error {
	if f.StreamID == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received PRIORITY on stream 0")
	}
	if len(payload) != 5 {
		// A PRIORITY frame with a length other than 5 octets is a stream error
		// of type FRAME_SIZE_ERROR (RFC 7540, Section 6.3).
		return NewStreamError(f.StreamID, ErrCodeFrameSizeError, fmt.Sprintf("PRIORITY frame payload must be 5 bytes, got %d", len(payload)))
	}
	streamDepAndE := binary.BigEndian.Uint32(payload[0:4])
	f.Exclusive = streamDepAndE>>31 == 1
	f.StreamDependency = streamDepAndE & 0x7FFFFFFF
	f.Weight = payload[4]
	return nil
}

// RSTStreamFrame represents an HTTP/2 RST_STREAM frame.
// RFC 7540, Section 6.4
type RSTStreamFrame struct {
	FrameHeader
	ErrorCode ErrorCode
}

func (f *RSTStreamFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *RSTStreamFrame) parsePayload(payload []byte) error {
	if f.StreamID == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received RST_STREAM on stream 0")
	}
	if len(payload) != 4 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("RST_STREAM frame payload must be 4 bytes, got %d", len(payload)))
	}
	f.ErrorCode = ErrorCode(binary.BigEndian.Uint32(payload))
	return nil
}

// Setting represents a single setting in a SETTINGS frame.
type Setting struct {
	ID    SettingID
	Value uint32
}

// SettingsFrame represents an HTTP/2 SETTINGS frame.
// RFC 7540, Section 6.5
type SettingsFrame struct {
	FrameHeader
	Settings []Setting
}

func (f *SettingsFrame) Header() *FrameHeader { return &f.FrameHeader }

// Ack reports whether the ACK flag is set.
func (f *SettingsFrame) Ack() bool { return f.Flags&FlagSettingsAck != 0 }

func (f *SettingsFrame) parsePayload(payload []byte) error {
	if f.StreamID != 0 {
		return NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("received SETTINGS on stream %d", f.StreamID))
	}
	if f.Ack() && len(payload) != 0 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("SETTINGS ACK frame must have a payload length of 0, got %d", len(payload)))
	}
	if len(payload)%settingEntrySize != 0 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("SETTINGS frame payload length %d is not a multiple of %d", len(payload), settingEntrySize))
	}
	numSettings := len(payload) / settingEntrySize
	f.Settings = make([]Setting, 0, numSettings)
	for i := 0; i < numSettings; i++ {
		offset := i * settingEntrySize
		f.Settings = append(f.Settings, Setting{
			ID:    SettingID(binary.BigEndian.Uint16(payload[offset : offset+2])),
			Value: binary.BigEndian.Uint32(payload[offset+2 : offset+6]),
		})
	}
	return nil
}

// PushPromiseFrame represents an HTTP/2 PUSH_PROMISE frame.
// RFC 7540, Section 6.6. Parsed for wire correctness; the engine emits no
// event for it (server push is out of scope).
type PushPromiseFrame struct {
	FrameHeader
	PadLength           uint8
	PromisedStreamID    uint32 // 31 bits (R is 1 bit)
	HeaderBlockFragment []byte
}

func (f *PushPromiseFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *PushPromiseFrame) parsePayload(payload []byte) error {
	if f.StreamID == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received PUSH_PROMISE on stream 0")
	}
	end := len(payload)
	if f.Flags&FlagPushPromisePadded != 0 {
		if len(payload) == 0 {
			return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("padded PUSH_PROMISE frame on stream %d has no room for the Pad Length field", f.StreamID))
		}
		f.PadLength = payload[0]
		payload = payload[1:]
		if int(f.PadLength) >= len(payload)+1 {
			return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("PUSH_PROMISE frame on stream %d declares %d padding octets but only %d remain", f.StreamID, f.PadLength, len(payload)))
		}
		end = len(payload) - int(f.PadLength)
	} else {
		end = len(payload)
	}
	if end < 4 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("PUSH_PROMISE frame on stream %d too short for the promised stream id", f.StreamID))
	}
	f.PromisedStreamID = binary.BigEndian.Uint32(payload[0:4]) & 0x7FFFFFFF
	f.HeaderBlockFragment = payload[4:end]
	return nil
}

// PingFrame represents an HTTP/2 PING frame.
// RFC 7540, Section 6.7
type PingFrame struct {
	FrameHeader
	OpaqueData [8]byte
}

func (f *PingFrame) Header() *FrameHeader { return &f.FrameHeader }

// Ack reports whether the ACK flag is set.
func (f *PingFrame) Ack() bool { return f.Flags&FlagPingAck != 0 }

func (f *PingFrame) parsePayload(payload []byte) error {
	if f.StreamID != 0 {
		return NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("received PING on stream %d", f.StreamID))
	}
	if len(payload) != 8 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("PING frame payload must be 8 bytes, got %d", len(payload)))
	}
	copy(f.OpaqueData[:], payload)
	return nil
}

// GoAwayFrame represents an HTTP/2 GOAWAY frame.
// RFC 7540, Section 6.8
type GoAwayFrame struct {
	FrameHeader
	LastStreamID        uint32 // 31 bits (R is 1 bit)
	ErrorCode           ErrorCode
	AdditionalDebugData []byte
}

func (f *GoAwayFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *GoAwayFrame) parsePayload(payload []byte) error {
	if f.StreamID != 0 {
		return NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("received GOAWAY on stream %d", f.StreamID))
	}
	if len(payload) < 8 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("GOAWAY frame payload must be at least 8 bytes, got %d", len(payload)))
	}
	f.LastStreamID = binary.BigEndian.Uint32(payload[0:4]) & 0x7FFFFFFF
	f.ErrorCode = ErrorCode(binary.BigEndian.Uint32(payload[4:8]))
	f.AdditionalDebugData = payload[8:]
	return nil
}

// WindowUpdateFrame represents an HTTP/2 WINDOW_UPDATE frame.
// RFC 7540, Section 6.9
type WindowUpdateFrame struct {
	FrameHeader
	WindowSizeIncrement uint32 // 31 bits (R is 1 bit)
}

func (f *WindowUpdateFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *WindowUpdateFrame) parsePayload(payload []byte) error {
	if len(payload) != 4 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("WINDOW_UPDATE frame payload must be 4 bytes, got %d", len(payload)))
	}
	f.WindowSizeIncrement = binary.BigEndian.Uint32(payload) & 0x7FFFFFFF
	// A zero increment is a protocol error, but its severity depends on the
	// stream id; the flow-control layer classifies it.
	return nil
}

// ContinuationFrame represents an HTTP/2 CONTINUATION frame.
// RFC 7540, Section 6.10
type ContinuationFrame struct {
	FrameHeader
	HeaderBlockFragment []byte
}

func (f *ContinuationFrame) Header() *FrameHeader { return &f.FrameHeader }

// EndHeaders reports whether the END_HEADERS flag is set.
func (f *ContinuationFrame) EndHeaders() bool { return f.Flags&FlagContinuationEndHeaders != 0 }

func (f *ContinuationFrame) parsePayload(payload []byte) error {
	if f.StreamID == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received CONTINUATION on stream 0")
	}
	f.HeaderBlockFragment = payload
	return nil
}

// UnknownFrame is used for frames whose type is not recognized. RFC 7540,
// Section 4.1 requires such frames to be ignored and discarded, so parsing
// one is never an error.
type UnknownFrame struct {
	FrameHeader
	Payload []byte
}

func (f *UnknownFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *UnknownFrame) parsePayload(payload []byte) error {
	f.Payload = payload
	return nil
}

// DecodeFrame interprets a complete frame's header and payload into a typed
// frame value. The payload slice must hold exactly header.Length bytes; the
// framer guarantees this. The returned error, if any, is a *ConnectionError
// or a *StreamError.
func DecodeFrame(header FrameHeader, payload []byte) (Frame, error) {
	var frame Frame
	switch header.Type {
	case FrameData:
		frame = &DataFrame{FrameHeader: header}
	case FrameHeaders:
		frame = &HeadersFrame{FrameHeader: header}
	case FramePriority:
		frame = &PriorityFrame{FrameHeader: header}
	case FrameRSTStream:
		frame = &RSTStreamFrame{FrameHeader: header}
	case FrameSettings:
		frame = &SettingsFrame{FrameHeader: header}
	case FramePushPromise:
		frame = &PushPromiseFrame{FrameHeader: header}
	case FramePing:
		frame = &PingFrame{FrameHeader: header}
	case FrameGoAway:
		frame = &GoAwayFrame{FrameHeader: header}
	case FrameWindowUpdate:
		frame = &WindowUpdateFrame{FrameHeader: header}
	case FrameContinuation:
		frame = &ContinuationFrame{FrameHeader: header}
	default:
		frame = &UnknownFrame{FrameHeader: header}
	}
	if err := frame.parsePayload(payload); err != nil {
		return nil, err
	}
	return frame, nil
}
