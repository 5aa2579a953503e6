package http2

import "golang.org/x/net/http2/hpack"

// Event is the engine's output vocabulary: each Process call yields zero or
// more events in the exact order their frames were decoded from the byte
// stream. The set of implementations is closed.
type Event interface {
	isEvent()
}

// HeadersEvent reports a complete header block on a stream. HeaderBlock is
// the raw HPACK bytes (HEADERS plus any CONTINUATION fragments joined);
// Fields is populated when the codec was built with a HeaderCodec, nil
// otherwise.
type HeadersEvent struct {
	StreamID    uint32
	HeaderBlock []byte
	Fields      []hpack.HeaderField
	EndStream   bool
}

// DataEvent reports DATA payload bytes on a stream, padding stripped.
type DataEvent struct {
	StreamID  uint32
	Data      []byte
	EndStream bool
}

// SettingsEvent reports a SETTINGS frame. Settings is empty for an ACK.
type SettingsEvent struct {
	Ack      bool
	Settings []Setting
}

// RSTStreamEvent reports that the peer reset a stream.
type RSTStreamEvent struct {
	StreamID  uint32
	ErrorCode ErrorCode
}

// GoAwayEvent reports a connection-level GOAWAY from the peer.
type GoAwayEvent struct {
	LastStreamID uint32
	ErrorCode    ErrorCode
	DebugData    []byte
}

// PingEvent reports a PING frame and its 8 opaque payload bytes.
type PingEvent struct {
	Ack     bool
	Payload [8]byte
}

// WindowUpdateEvent reports flow-control credit granted by the peer.
// StreamID 0 denotes the connection window.
type WindowUpdateEvent struct {
	StreamID  uint32
	Increment uint32
}

// StreamErrorEvent reports a malformed or disallowed operation scoped to one
// stream. The connection continues; the caller should answer with
// EncodeRSTStream carrying Code.
type StreamErrorEvent struct {
	StreamID uint32
	Code     ErrorCode
	Message  string
}

// ConnectionErrorEvent is terminal: the caller must send GOAWAY and close.
// No events after it should be trusted and the codec refuses further input.
type ConnectionErrorEvent struct {
	Code  ErrorCode
	Debug string
}

func (HeadersEvent) isEvent()         {}
func (DataEvent) isEvent()            {}
func (SettingsEvent) isEvent()        {}
func (RSTStreamEvent) isEvent()       {}
func (GoAwayEvent) isEvent()          {}
func (PingEvent) isEvent()            {}
func (WindowUpdateEvent) isEvent()    {}
func (StreamErrorEvent) isEvent()     {}
func (ConnectionErrorEvent) isEvent() {}
