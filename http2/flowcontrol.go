package http2

import "fmt"

// MaxWindowSize is the maximum value a flow control window can reach (2^31 - 1).
// RFC 7540, Section 6.9.1.
const MaxWindowSize = 1<<31 - 1

// flowWindow holds the send/receive credit pair for one scope. Signed so a
// SETTINGS_INITIAL_WINDOW_SIZE decrease can legally drive send negative;
// recv going negative is a flow-control violation by the peer.
type flowWindow struct {
	send int64
	recv int64
}

// FlowControlManager tracks the connection-level window pair and one pair
// per active stream. It is pure bookkeeping: nothing here blocks, and no
// WINDOW_UPDATE frames are generated automatically. The caller decides when
// to replenish via the codec's EncodeWindowUpdate.
type FlowControlManager struct {
	conn    flowWindow
	streams map[uint32]*flowWindow

	// initialSendWindow is the peer's SETTINGS_INITIAL_WINDOW_SIZE, applied
	// to the send side of newly opened streams and retroactively to open
	// ones on change. initialRecvWindow is our advertised value, applied to
	// the recv side.
	initialSendWindow uint32
	initialRecvWindow uint32
}

// NewFlowControlManager creates a manager with both initial window sizes.
// Both default to DefaultInitialWindowSize (65535) in a fresh connection.
func NewFlowControlManager(initialSend, initialRecv uint32) *FlowControlManager {
	return &FlowControlManager{
		conn:              flowWindow{send: int64(initialSend), recv: int64(initialRecv)},
		streams:           make(map[uint32]*flowWindow),
		initialSendWindow: initialSend,
		initialRecvWindow: initialRecv,
	}
}

// window returns the stream's window pair, creating it on first reference.
func (m *FlowControlManager) window(streamID uint32) *flowWindow {
	w, ok := m.streams[streamID]
	if !ok {
		w = &flowWindow{send: int64(m.initialSendWindow), recv: int64(m.initialRecvWindow)}
		m.streams[streamID] = w
	}
	return w
}

// OpenStream ensures window state exists for streamID.
func (m *FlowControlManager) OpenStream(streamID uint32) {
	m.window(streamID)
}

// CloseStream discards window state for streamID.
func (m *FlowControlManager) CloseStream(streamID uint32) {
	delete(m.streams, streamID)
}

// OnDataReceived charges n payload bytes of an inbound DATA frame against
// both receive windows. A connection-window violation is a *ConnectionError
// (FLOW_CONTROL_ERROR); a stream-window violation is a *StreamError the
// caller can answer with RST_STREAM while the connection continues.
func (m *FlowControlManager) OnDataReceived(streamID uint32, n uint32) error {
	m.conn.recv -= int64(n)
	if m.conn.recv < 0 {
		return NewConnectionError(ErrCodeFlowControlError, fmt.Sprintf("peer overran the connection receive window by %d bytes", -m.conn.recv))
	}
	w := m.window(streamID)
	w.recv -= int64(n)
	if w.recv < 0 {
		return NewStreamError(streamID, ErrCodeFlowControlError, fmt.Sprintf("peer overran the stream receive window by %d bytes", -w.recv))
	}
	return nil
}

// OnWindowUpdate applies a WINDOW_UPDATE received from the peer to the send
// window of the named scope (stream 0 is the connection window; a stream
// update never touches the connection window). A zero increment is a
// PROTOCOL_ERROR at the frame's scope; accumulating past MaxWindowSize is a
// FLOW_CONTROL_ERROR at the frame's scope.
func (m *FlowControlManager) OnWindowUpdate(streamID uint32, increment uint32) error {
	if increment == 0 {
		if streamID == 0 {
			return NewConnectionError(ErrCodeProtocolError, "WINDOW_UPDATE with zero increment on the connection")
		}
		return NewStreamError(streamID, ErrCodeProtocolError, "WINDOW_UPDATE with zero increment")
	}
	if streamID == 0 {
		if m.conn.send+int64(increment) > MaxWindowSize {
			return NewConnectionError(ErrCodeFlowControlError, fmt.Sprintf("connection send window %d + increment %d exceeds %d", m.conn.send, increment, int64(MaxWindowSize)))
		}
		m.conn.send += int64(increment)
		return nil
	}
	w := m.window(streamID)
	if w.send+int64(increment) > MaxWindowSize {
		return NewStreamError(streamID, ErrCodeFlowControlError, fmt.Sprintf("stream send window %d + increment %d exceeds %d", w.send, increment, int64(MaxWindowSize)))
	}
	w.send += int64(increment)
	return nil
}

// SetInitialSendWindow applies a peer SETTINGS_INITIAL_WINDOW_SIZE change.
// The delta is applied to every open stream's send window (RFC 7540, Section
// 6.9.2); the connection window is unaffected. A decrease may drive stream
// windows negative; the sender simply waits for WINDOW_UPDATE. An increase
// that pushes any window past MaxWindowSize is a connection error.
func (m *FlowControlManager) SetInitialSendWindow(newSize uint32) error {
	if newSize > MaxWindowSize {
		return NewConnectionError(ErrCodeFlowControlError, fmt.Sprintf("SETTINGS_INITIAL_WINDOW_SIZE %d exceeds %d", newSize, int64(MaxWindowSize)))
	}
	delta := int64(newSize) - int64(m.initialSendWindow)
	for streamID, w := range m.streams {
		if w.send+delta > MaxWindowSize {
			return NewConnectionError(ErrCodeFlowControlError, fmt.Sprintf("SETTINGS_INITIAL_WINDOW_SIZE change overflows the send window of stream %d", streamID))
		}
		w.send += delta
	}
	m.initialSendWindow = newSize
	return nil
}

// SetInitialRecvWindow applies a locally advertised SETTINGS_INITIAL_WINDOW_SIZE
// change to the recv side of every open stream, mirroring what the peer will
// do to its send windows once it processes our SETTINGS frame.
func (m *FlowControlManager) SetInitialRecvWindow(newSize uint32) error {
	if newSize > MaxWindowSize {
		return fmt.Errorf("SETTINGS_INITIAL_WINDOW_SIZE %d exceeds %d", newSize, int64(MaxWindowSize))
	}
	delta := int64(newSize) - int64(m.initialRecvWindow)
	for streamID, w := range m.streams {
		if w.recv+delta > MaxWindowSize {
			return fmt.Errorf("window size change overflows the receive window of stream %d", streamID)
		}
		w.recv += delta
	}
	m.initialRecvWindow = newSize
	return nil
}

// ReserveSend reports whether n bytes fit in both the connection and the
// stream send windows right now. It never blocks: a false return means "not
// yet" and the caller defers until a WINDOW_UPDATE event is observed.
func (m *FlowControlManager) ReserveSend(streamID uint32, n uint32) bool {
	if m.conn.send < int64(n) {
		return false
	}
	return m.window(streamID).send >= int64(n)
}

// ConsumeSend charges n bytes against both send windows after a DATA frame
// was actually serialized. Callers must have checked ReserveSend; driving a
// send window negative from this side is a local bug, not a wire condition.
func (m *FlowControlManager) ConsumeSend(streamID uint32, n uint32) {
	m.conn.send -= int64(n)
	m.window(streamID).send -= int64(n)
}

// AddRecvCredit records that the caller granted the peer increment more
// bytes via an outbound WINDOW_UPDATE on the named scope.
func (m *FlowControlManager) AddRecvCredit(streamID uint32, increment uint32) error {
	if streamID == 0 {
		if m.conn.recv+int64(increment) > MaxWindowSize {
			return fmt.Errorf("connection receive window %d + increment %d exceeds %d", m.conn.recv, increment, int64(MaxWindowSize))
		}
		m.conn.recv += int64(increment)
		return nil
	}
	w := m.window(streamID)
	if w.recv+int64(increment) > MaxWindowSize {
		return fmt.Errorf("stream %d receive window %d + increment %d exceeds %d", streamID, w.recv, increment, int64(MaxWindowSize))
	}
	w.recv += int64(increment)
	return nil
}

// ConnectionSendWindow returns the connection-level send credit. It can be
// negative after a retroactive SETTINGS decrease.
func (m *FlowControlManager) ConnectionSendWindow() int64 { return m.conn.send }

// ConnectionRecvWindow returns the connection-level receive credit.
func (m *FlowControlManager) ConnectionRecvWindow() int64 { return m.conn.recv }

// StreamSendWindow returns the stream's send credit, creating the stream's
// window state on first reference.
func (m *FlowControlManager) StreamSendWindow(streamID uint32) int64 {
	return m.window(streamID).send
}

// StreamRecvWindow returns the stream's receive credit.
func (m *FlowControlManager) StreamRecvWindow(streamID uint32) int64 {
	return m.window(streamID).recv
}
