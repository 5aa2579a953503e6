package http2

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2/hpack"
)

// ErrFlowControlBlocked is returned by EncodeData when the requested bytes
// do not fit in the current send windows. It is a local backpressure signal,
// not a wire condition: the caller defers the write until a WindowUpdateEvent
// replenishes the window.
var ErrFlowControlBlocked = errors.New("http2: send window exhausted, waiting for WINDOW_UPDATE")

// Options configures a Codec. The zero value is usable: protocol defaults,
// no preface expected, no header decompression, no logging.
type Options struct {
	// ExpectPreface makes the codec require the 24-byte h2c client preface
	// before the first frame. Set it on the server side of a cleartext
	// connection.
	ExpectPreface bool

	// MaxFrameSize is the largest inbound frame payload accepted, i.e. the
	// SETTINGS_MAX_FRAME_SIZE this side advertises. 0 means the protocol
	// default of 16384.
	MaxFrameSize uint32

	// InitialWindowSize is the advertised SETTINGS_INITIAL_WINDOW_SIZE for
	// inbound flow control. 0 means the protocol default of 65535.
	InitialWindowSize uint32

	// MaxHeaderBlockSize caps header-block accumulation across HEADERS and
	// CONTINUATION frames. 0 means DefaultMaxHeaderBlockSize.
	MaxHeaderBlockSize int

	// HeaderCodec, when set, is consulted at header-block-complete
	// boundaries: inbound blocks are decoded into HeadersEvent.Fields and
	// EncodeHeaders becomes available. Without it the codec still assembles
	// and delivers raw block bytes.
	HeaderCodec HeaderCodec

	// Logger receives frame-level trace output. Nil disables logging.
	Logger *zerolog.Logger
}

// streamState tracks the lifecycle bits the codec needs per stream.
type streamState struct {
	headersComplete bool
	remoteEnded     bool
	localEnded      bool
}

// Codec is the per-connection orchestrator: it owns one framer, one
// continuation assembler, one flow-control manager and the negotiated
// settings for exactly one connection. All methods are synchronous and
// non-blocking; the instance is not safe for concurrent use. Run one Codec
// per connection and feed it from that connection's own loop.
type Codec struct {
	framer      *framer
	assembler   *continuationAssembler
	flow        *FlowControlManager
	headerCodec HeaderCodec
	log         zerolog.Logger

	streams map[uint32]*streamState

	// recvMaxFrameSize bounds inbound frames (our advertised setting);
	// sendMaxFrameSize bounds outbound fragmentation (the peer's setting).
	recvMaxFrameSize uint32
	sendMaxFrameSize uint32

	// failed holds the terminal connection error once one occurred. Every
	// Process call afterward returns it unchanged.
	failed *ConnectionError

	opts Options
}

// NewCodec creates a codec for one connection direction pair.
func NewCodec(opts Options) *Codec {
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.InitialWindowSize == 0 {
		opts.InitialWindowSize = DefaultInitialWindowSize
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Codec{
		framer:           newFramer(opts.ExpectPreface, opts.MaxFrameSize),
		assembler:        newContinuationAssembler(opts.MaxHeaderBlockSize),
		flow:             NewFlowControlManager(DefaultInitialWindowSize, opts.InitialWindowSize),
		headerCodec:      opts.HeaderCodec,
		log:              log,
		streams:          make(map[uint32]*streamState),
		recvMaxFrameSize: opts.MaxFrameSize,
		sendMaxFrameSize: DefaultMaxFrameSize,
		opts:             opts,
	}
}

// FlowControl exposes the codec's window bookkeeping so callers can size
// writes (ReserveSend) and decide when to replenish receive credit.
func (c *Codec) FlowControl() *FlowControlManager { return c.flow }

// PrefaceReceived reports whether the h2c connection preface has been
// consumed. Always true when the codec was not configured to expect one.
func (c *Codec) PrefaceReceived() bool { return c.framer.prefaceReceived() }

// RemoveStream discards all per-stream state (lifecycle bits and flow
// windows). Callers use it to drop streams they cancelled out-of-band.
func (c *Codec) RemoveStream(streamID uint32) {
	delete(c.streams, streamID)
	c.flow.CloseStream(streamID)
}

// Reset returns the codec to its initial state: buffered bytes, stream
// state, pending header blocks and any terminal error are dropped, and
// preface detection is re-armed. Flow-control windows and negotiated frame
// sizes return to their configured initial values.
func (c *Codec) Reset() {
	c.framer.reset()
	c.assembler.discard()
	c.flow = NewFlowControlManager(DefaultInitialWindowSize, c.opts.InitialWindowSize)
	c.streams = make(map[uint32]*streamState)
	c.sendMaxFrameSize = DefaultMaxFrameSize
	c.failed = nil
}

// Process consumes a chunk of inbound bytes and returns the protocol events
// they complete, in frame order. Chunking is irrelevant: any split of the
// same byte stream yields the same event sequence. On a connection error the
// returned events end with a terminal ConnectionErrorEvent, the error is
// also returned, and every later call fails with the same error.
func (c *Codec) Process(p []byte) ([]Event, error) {
	if c.failed != nil {
		return nil, c.failed
	}
	frames, framerErr := c.framer.push(p)
	var events []Event
	for _, rf := range frames {
		evs, err := c.processFrame(rf)
		events = append(events, evs...)
		if err != nil {
			return c.fail(events, err)
		}
	}
	if framerErr != nil {
		return c.fail(events, framerErr)
	}
	return events, nil
}

// fail records the terminal connection error and appends its event.
func (c *Codec) fail(events []Event, err error) ([]Event, error) {
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		connErr = NewConnectionErrorWithCause(ErrCodeInternalError, "internal error", err)
	}
	c.failed = connErr
	c.log.Debug().Str("code", connErr.Code.String()).Str("detail", connErr.Msg).Msg("connection error")
	return append(events, ConnectionErrorEvent{Code: connErr.Code, Debug: connErr.Msg}), connErr
}

func (c *Codec) processFrame(rf rawFrame) ([]Event, error) {
	c.log.Trace().
		Stringer("type", rf.header.Type).
		Uint32("stream_id", rf.header.StreamID).
		Uint32("length", rf.header.Length).
		Uint8("flags", uint8(rf.header.Flags)).
		Msg("frame received")

	// While a header block is open, CONTINUATION frames for that stream are
	// the only thing allowed on the whole connection (RFC 7540, Section 6.10).
	if c.assembler.isOpen() && rf.header.Type != FrameContinuation {
		return nil, NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("received %s frame while a header block is open on stream %d", rf.header.Type, c.assembler.openStreamID()))
	}

	frame, err := DecodeFrame(rf.header, rf.payload)
	if err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return []Event{StreamErrorEvent{StreamID: streamErr.StreamID, Code: streamErr.Code, Message: streamErr.Msg}}, nil
		}
		return nil, err
	}

	switch f := frame.(type) {
	case *DataFrame:
		return c.onData(f)
	case *HeadersFrame:
		return c.onHeaders(f)
	case *ContinuationFrame:
		return c.onContinuation(f)
	case *SettingsFrame:
		return c.onSettings(f)
	case *RSTStreamFrame:
		c.RemoveStream(f.StreamID)
		return []Event{RSTStreamEvent{StreamID: f.StreamID, ErrorCode: f.ErrorCode}}, nil
	case *GoAwayFrame:
		return []Event{GoAwayEvent{LastStreamID: f.LastStreamID, ErrorCode: f.ErrorCode, DebugData: f.AdditionalDebugData}}, nil
	case *PingFrame:
		return []Event{PingEvent{Ack: f.Ack(), Payload: f.OpaqueData}}, nil
	case *WindowUpdateFrame:
		return c.onWindowUpdate(f)
	case *PriorityFrame, *PushPromiseFrame, *UnknownFrame:
		// PRIORITY is parsed and discarded; PUSH_PROMISE is out of scope;
		// unknown types must be ignored (RFC 7540, Section 4.1).
		return nil, nil
	default:
		return nil, NewConnectionError(ErrCodeInternalError, fmt.Sprintf("unhandled frame type %s", rf.header.Type))
	}
}

func (c *Codec) onData(f *DataFrame) ([]Event, error) {
	// The whole payload counts against flow control, padding included
	// (RFC 7540, Section 6.9).
	if err := c.flow.OnDataReceived(f.StreamID, f.Length); err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return []Event{StreamErrorEvent{StreamID: streamErr.StreamID, Code: streamErr.Code, Message: streamErr.Msg}}, nil
		}
		return nil, err
	}
	st := c.stream(f.StreamID)
	endStream := f.Flags&FlagDataEndStream != 0
	if endStream {
		st.remoteEnded = true
		c.maybeCloseStream(f.StreamID)
	}
	return []Event{DataEvent{StreamID: f.StreamID, Data: f.Data, EndStream: endStream}}, nil
}

func (c *Codec) onHeaders(f *HeadersFrame) ([]Event, error) {
	endStream := f.Flags&FlagHeadersEndStream != 0
	if f.Flags&FlagHeadersEndHeaders != 0 {
		return c.completeHeaderBlock(f.StreamID, f.HeaderBlockFragment, endStream)
	}
	if err := c.assembler.begin(f.StreamID, f.HeaderBlockFragment, endStream); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Codec) onContinuation(f *ContinuationFrame) ([]Event, error) {
	block, err := c.assembler.push(f.StreamID, f.HeaderBlockFragment, f.EndHeaders())
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, nil
	}
	return c.completeHeaderBlock(block.streamID, block.fragment, block.endStream)
}

// completeHeaderBlock hands a finished header block to the HeaderCodec and
// emits the Headers event.
func (c *Codec) completeHeaderBlock(streamID uint32, block []byte, endStream bool) ([]Event, error) {
	var fields []hpack.HeaderField
	if c.headerCodec != nil {
		var err error
		fields, err = c.headerCodec.Decode(block)
		if err != nil {
			return nil, NewConnectionErrorWithCause(ErrCodeCompressionError, fmt.Sprintf("decoding header block on stream %d", streamID), err)
		}
	}
	st := c.stream(streamID)
	st.headersComplete = true
	if endStream {
		st.remoteEnded = true
	}
	ev := HeadersEvent{StreamID: streamID, HeaderBlock: block, Fields: fields, EndStream: endStream}
	if endStream {
		c.maybeCloseStream(streamID)
	}
	return []Event{ev}, nil
}

func (c *Codec) onSettings(f *SettingsFrame) ([]Event, error) {
	if f.Ack() {
		return []Event{SettingsEvent{Ack: true}}, nil
	}
	for _, s := range f.Settings {
		switch s.ID {
		case SettingEnablePush:
			if s.Value > 1 {
				return nil, NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("SETTINGS_ENABLE_PUSH must be 0 or 1, got %d", s.Value))
			}
		case SettingInitialWindowSize:
			if err := c.flow.SetInitialSendWindow(s.Value); err != nil {
				return nil, err
			}
		case SettingMaxFrameSize:
			if s.Value < MinAllowedFrameSize || s.Value > MaxAllowedFrameSize {
				return nil, NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("SETTINGS_MAX_FRAME_SIZE %d outside [%d, %d]", s.Value, MinAllowedFrameSize, MaxAllowedFrameSize))
			}
			c.sendMaxFrameSize = s.Value
		case SettingHeaderTableSize:
			if hc, ok := c.headerCodec.(interface{ SetMaxEncoderDynamicTableSize(uint32) }); ok {
				hc.SetMaxEncoderDynamicTableSize(s.Value)
			}
		}
		// Unknown setting ids are ignored (RFC 7540, Section 6.5.2) but
		// still surfaced in the event.
	}
	return []Event{SettingsEvent{Ack: false, Settings: f.Settings}}, nil
}

func (c *Codec) onWindowUpdate(f *WindowUpdateFrame) ([]Event, error) {
	if err := c.flow.OnWindowUpdate(f.StreamID, f.WindowSizeIncrement); err != nil {
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return []Event{StreamErrorEvent{StreamID: streamErr.StreamID, Code: streamErr.Code, Message: streamErr.Msg}}, nil
		}
		return nil, err
	}
	return []Event{WindowUpdateEvent{StreamID: f.StreamID, Increment: f.WindowSizeIncrement}}, nil
}

// stream returns the lifecycle record for streamID, creating it on first
// reference.
func (c *Codec) stream(streamID uint32) *streamState {
	st, ok := c.streams[streamID]
	if !ok {
		st = &streamState{}
		c.streams[streamID] = st
		c.flow.OpenStream(streamID)
	}
	return st
}

// maybeCloseStream drops stream state once END_STREAM was seen in both
// directions.
func (c *Codec) maybeCloseStream(streamID uint32) {
	if st, ok := c.streams[streamID]; ok && st.remoteEnded && st.localEnded {
		c.RemoveStream(streamID)
	}
}

// EncodeRSTStream serializes a RST_STREAM frame and drops local state for
// the stream.
func (c *Codec) EncodeRSTStream(streamID uint32, code ErrorCode) []byte {
	c.RemoveStream(streamID)
	buf := appendFrameHeader(make([]byte, 0, FrameHeaderLen+4), 4, FrameRSTStream, 0, streamID)
	return append(buf, byte(code>>24), byte(code>>16), byte(code>>8), byte(code))
}

// EncodeWindowUpdate serializes a WINDOW_UPDATE granting the peer increment
// more bytes on the given scope (stream 0 = connection) and records the
// credit in the receive-side bookkeeping. The engine never sends these on
// its own; replenishment policy belongs to the caller.
func (c *Codec) EncodeWindowUpdate(streamID uint32, increment uint32) ([]byte, error) {
	if increment == 0 || increment > MaxWindowSize {
		return nil, fmt.Errorf("http2: WINDOW_UPDATE increment %d outside [1, %d]", increment, int64(MaxWindowSize))
	}
	if err := c.flow.AddRecvCredit(streamID, increment); err != nil {
		return nil, fmt.Errorf("http2: %w", err)
	}
	buf := appendFrameHeader(make([]byte, 0, FrameHeaderLen+4), 4, FrameWindowUpdate, 0, streamID)
	return append(buf, byte(increment>>24), byte(increment>>16), byte(increment>>8), byte(increment)), nil
}

// EncodeSettings serializes a SETTINGS frame advertising the given
// parameters and applies the receive-side ones locally: MAX_FRAME_SIZE
// tightens (or relaxes) the inbound frame limit for frames split after this
// call, INITIAL_WINDOW_SIZE shifts open streams' receive windows.
func (c *Codec) EncodeSettings(settings []Setting) ([]byte, error) {
	for _, s := range settings {
		switch s.ID {
		case SettingMaxFrameSize:
			if s.Value < MinAllowedFrameSize || s.Value > MaxAllowedFrameSize {
				return nil, fmt.Errorf("http2: SETTINGS_MAX_FRAME_SIZE %d outside [%d, %d]", s.Value, MinAllowedFrameSize, MaxAllowedFrameSize)
			}
		case SettingInitialWindowSize:
			if s.Value > MaxWindowSize {
				return nil, fmt.Errorf("http2: SETTINGS_INITIAL_WINDOW_SIZE %d exceeds %d", s.Value, int64(MaxWindowSize))
			}
		case SettingEnablePush:
			if s.Value > 1 {
				return nil, fmt.Errorf("http2: SETTINGS_ENABLE_PUSH must be 0 or 1, got %d", s.Value)
			}
		}
	}
	for _, s := range settings {
		switch s.ID {
		case SettingMaxFrameSize:
			c.recvMaxFrameSize = s.Value
			c.framer.setMaxFrameSize(s.Value)
		case SettingInitialWindowSize:
			if err := c.flow.SetInitialRecvWindow(s.Value); err != nil {
				return nil, fmt.Errorf("http2: %w", err)
			}
		case SettingHeaderTableSize:
			if hc, ok := c.headerCodec.(interface{ SetMaxDecoderDynamicTableSize(uint32) }); ok {
				hc.SetMaxDecoderDynamicTableSize(s.Value)
			}
		}
	}
	buf := appendFrameHeader(make([]byte, 0, FrameHeaderLen+len(settings)*settingEntrySize), uint32(len(settings)*settingEntrySize), FrameSettings, 0, 0)
	for _, s := range settings {
		buf = append(buf, byte(s.ID>>8), byte(s.ID))
		buf = append(buf, byte(s.Value>>24), byte(s.Value>>16), byte(s.Value>>8), byte(s.Value))
	}
	return buf, nil
}

// EncodeSettingsAck serializes an empty SETTINGS frame with the ACK flag.
func (c *Codec) EncodeSettingsAck() []byte {
	return appendFrameHeader(make([]byte, 0, FrameHeaderLen), 0, FrameSettings, FlagSettingsAck, 0)
}

// EncodePing serializes a PING frame. Set ack when answering a peer PING,
// echoing its payload.
func (c *Codec) EncodePing(ack bool, payload [8]byte) []byte {
	var flags Flags
	if ack {
		flags = FlagPingAck
	}
	buf := appendFrameHeader(make([]byte, 0, FrameHeaderLen+8), 8, FramePing, flags, 0)
	return append(buf, payload[:]...)
}

// EncodeGoAway serializes a GOAWAY frame on stream 0.
func (c *Codec) EncodeGoAway(lastStreamID uint32, code ErrorCode, debug []byte) []byte {
	length := uint32(8 + len(debug))
	buf := appendFrameHeader(make([]byte, 0, FrameHeaderLen+int(length)), length, FrameGoAway, 0, 0)
	buf = append(buf, byte(lastStreamID>>24)&0x7F, byte(lastStreamID>>16), byte(lastStreamID>>8), byte(lastStreamID))
	buf = append(buf, byte(code>>24), byte(code>>16), byte(code>>8), byte(code))
	return append(buf, debug...)
}

// EncodeHeaders encodes fields through the HeaderCodec and serializes the
// block as one HEADERS frame, fragmented across CONTINUATION frames when it
// exceeds the peer's SETTINGS_MAX_FRAME_SIZE. Header blocks are exempt from
// flow control.
func (c *Codec) EncodeHeaders(streamID uint32, fields []hpack.HeaderField, endStream bool) ([]byte, error) {
	if c.headerCodec == nil {
		return nil, errors.New("http2: EncodeHeaders requires a HeaderCodec")
	}
	block, err := c.headerCodec.Encode(fields)
	if err != nil {
		return nil, fmt.Errorf("http2: encoding header block for stream %d: %w", streamID, err)
	}
	max := int(c.sendMaxFrameSize)

	first := block
	rest := []byte(nil)
	if len(block) > max {
		first, rest = block[:max], block[max:]
	}
	flags := Flags(0)
	if endStream {
		flags |= FlagHeadersEndStream
	}
	if len(rest) == 0 {
		flags |= FlagHeadersEndHeaders
	}
	buf := appendFrameHeader(make([]byte, 0, FrameHeaderLen+len(block)+FrameHeaderLen), uint32(len(first)), FrameHeaders, flags, streamID)
	buf = append(buf, first...)

	for len(rest) > 0 {
		fragment := rest
		if len(fragment) > max {
			fragment = fragment[:max]
		}
		rest = rest[len(fragment):]
		contFlags := Flags(0)
		if len(rest) == 0 {
			contFlags = FlagContinuationEndHeaders
		}
		buf = appendFrameHeader(buf, uint32(len(fragment)), FrameContinuation, contFlags, streamID)
		buf = append(buf, fragment...)
	}

	st := c.stream(streamID)
	if endStream {
		st.localEnded = true
		c.maybeCloseStream(streamID)
	}
	return buf, nil
}

// EncodeData serializes data as one or more DATA frames, fragmenting at the
// peer's SETTINGS_MAX_FRAME_SIZE, and charges the bytes against both send
// windows. When the full length does not fit in the lesser of the two
// windows it returns ErrFlowControlBlocked and sends nothing; the caller may
// size a partial write itself via FlowControl().
func (c *Codec) EncodeData(streamID uint32, data []byte, endStream bool) ([]byte, error) {
	if streamID == 0 {
		return nil, errors.New("http2: DATA requires a nonzero stream id")
	}
	if len(data) > 0 && !c.flow.ReserveSend(streamID, uint32(len(data))) {
		return nil, ErrFlowControlBlocked
	}
	max := int(c.sendMaxFrameSize)

	var buf []byte
	rest := data
	for {
		fragment := rest
		if len(fragment) > max {
			fragment = fragment[:max]
		}
		rest = rest[len(fragment):]
		var flags Flags
		if len(rest) == 0 && endStream {
			flags = FlagDataEndStream
		}
		buf = appendFrameHeader(buf, uint32(len(fragment)), FrameData, flags, streamID)
		buf = append(buf, fragment...)
		if len(rest) == 0 {
			break
		}
	}
	if len(data) > 0 {
		c.flow.ConsumeSend(streamID, uint32(len(data)))
	}
	st := c.stream(streamID)
	if endStream {
		st.localEnded = true
		c.maybeCloseStream(streamID)
	}
	return buf, nil
}
