package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowControlManager(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)
	require.NotNil(t, m)
	assert.Equal(t, int64(DefaultInitialWindowSize), m.ConnectionSendWindow())
	assert.Equal(t, int64(DefaultInitialWindowSize), m.ConnectionRecvWindow())

	m.OpenStream(1)
	assert.Equal(t, int64(DefaultInitialWindowSize), m.StreamSendWindow(1))
	assert.Equal(t, int64(DefaultInitialWindowSize), m.StreamRecvWindow(1))
}

func TestFlowControlManager_OnDataReceived(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)
	m.OpenStream(1)

	err := m.OnDataReceived(1, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultInitialWindowSize-1000), m.ConnectionRecvWindow())
	assert.Equal(t, int64(DefaultInitialWindowSize-1000), m.StreamRecvWindow(1))

	// A second stream only shares the connection window.
	m.OpenStream(3)
	err = m.OnDataReceived(3, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultInitialWindowSize-1500), m.ConnectionRecvWindow())
	assert.Equal(t, int64(DefaultInitialWindowSize-1000), m.StreamRecvWindow(1))
	assert.Equal(t, int64(DefaultInitialWindowSize-500), m.StreamRecvWindow(3))
}

func TestFlowControlManager_OnDataReceived_ConnectionOverrun(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, 100)
	// Grow the stream window so only the connection window can overflow.
	m.OpenStream(1)
	require.NoError(t, m.AddRecvCredit(1, 1000))

	err := m.OnDataReceived(1, 101)
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrCodeFlowControlError, connErr.Code)
}

func TestFlowControlManager_OnDataReceived_StreamOverrun(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, 100)
	m.OpenStream(1)
	require.NoError(t, m.AddRecvCredit(0, 1000))

	err := m.OnDataReceived(1, 101)
	require.Error(t, err)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, uint32(1), streamErr.StreamID)
	assert.Equal(t, ErrCodeFlowControlError, streamErr.Code)
}

func TestFlowControlManager_OnWindowUpdate(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)
	m.OpenStream(1)
	m.ConsumeSend(1, 500)

	err := m.OnWindowUpdate(1, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultInitialWindowSize+500), m.StreamSendWindow(1))
	// Connection window untouched by a stream-level update.
	assert.Equal(t, int64(DefaultInitialWindowSize-500), m.ConnectionSendWindow())

	err = m.OnWindowUpdate(0, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultInitialWindowSize+1500), m.ConnectionSendWindow())
}

func TestFlowControlManager_OnWindowUpdate_ZeroIncrement(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)

	err := m.OnWindowUpdate(0, 0)
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrCodeProtocolError, connErr.Code)

	err = m.OnWindowUpdate(1, 0)
	require.Error(t, err)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, uint32(1), streamErr.StreamID)
	assert.Equal(t, ErrCodeProtocolError, streamErr.Code)
}

func TestFlowControlManager_OnWindowUpdate_Overflow(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)

	// Push the connection send window right up to the limit, then one more.
	err := m.OnWindowUpdate(0, MaxWindowSize-DefaultInitialWindowSize)
	require.NoError(t, err)
	assert.Equal(t, int64(MaxWindowSize), m.ConnectionSendWindow())

	err = m.OnWindowUpdate(0, 1)
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrCodeFlowControlError, connErr.Code)

	// Same crossing on a stream window is stream-severity.
	m2 := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)
	m2.OpenStream(5)
	require.NoError(t, m2.OnWindowUpdate(5, MaxWindowSize-DefaultInitialWindowSize))
	err = m2.OnWindowUpdate(5, 1)
	require.Error(t, err)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, uint32(5), streamErr.StreamID)
	assert.Equal(t, ErrCodeFlowControlError, streamErr.Code)
}

func TestFlowControlManager_SetInitialSendWindow(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)
	m.OpenStream(1)
	m.ConsumeSend(1, 60000)
	assert.Equal(t, int64(5535), m.StreamSendWindow(1))

	// Shrinking the initial size applies the delta retroactively; the window
	// may go negative.
	err := m.SetInitialSendWindow(100)
	require.NoError(t, err)
	assert.Equal(t, int64(5535-(65535-100)), m.StreamSendWindow(1))
	assert.True(t, m.StreamSendWindow(1) < 0)

	// Growing it back restores the exact balance.
	err = m.SetInitialSendWindow(DefaultInitialWindowSize)
	require.NoError(t, err)
	assert.Equal(t, int64(5535), m.StreamSendWindow(1))

	// The connection window never moves with INITIAL_WINDOW_SIZE.
	assert.Equal(t, int64(DefaultInitialWindowSize-60000), m.ConnectionSendWindow())

	// New streams pick up the current initial size.
	require.NoError(t, m.SetInitialSendWindow(200))
	m.OpenStream(3)
	assert.Equal(t, int64(200), m.StreamSendWindow(3))
}

func TestFlowControlManager_SetInitialSendWindow_Overflow(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)
	m.OpenStream(1)
	require.NoError(t, m.OnWindowUpdate(1, MaxWindowSize-DefaultInitialWindowSize))

	// Any growth of the initial size now overflows stream 1.
	err := m.SetInitialSendWindow(DefaultInitialWindowSize + 1)
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrCodeFlowControlError, connErr.Code)

	err = m.SetInitialSendWindow(MaxWindowSize + 1)
	require.Error(t, err)
}

func TestFlowControlManager_ReserveAndConsumeSend(t *testing.T) {
	m := NewFlowControlManager(1000, DefaultInitialWindowSize)
	m.OpenStream(1)

	assert.True(t, m.ReserveSend(1, 1000))
	assert.False(t, m.ReserveSend(1, 1001))

	m.ConsumeSend(1, 600)
	assert.Equal(t, int64(400), m.StreamSendWindow(1))
	assert.Equal(t, int64(400), m.ConnectionSendWindow())
	assert.True(t, m.ReserveSend(1, 400))
	assert.False(t, m.ReserveSend(1, 401))

	// Another stream has a fresh stream window but the shared connection
	// window still gates it.
	m.OpenStream(3)
	assert.Equal(t, int64(1000), m.StreamSendWindow(3))
	assert.False(t, m.ReserveSend(3, 500))
	assert.True(t, m.ReserveSend(3, 400))
}

func TestFlowControlManager_AddRecvCredit(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)
	m.OpenStream(1)
	require.NoError(t, m.OnDataReceived(1, 5000))

	require.NoError(t, m.AddRecvCredit(1, 5000))
	assert.Equal(t, int64(DefaultInitialWindowSize), m.StreamRecvWindow(1))
	assert.Equal(t, int64(DefaultInitialWindowSize-5000), m.ConnectionRecvWindow())

	require.NoError(t, m.AddRecvCredit(0, 5000))
	assert.Equal(t, int64(DefaultInitialWindowSize), m.ConnectionRecvWindow())

	// Credit past the limit is refused.
	err := m.AddRecvCredit(0, MaxWindowSize)
	require.Error(t, err)
}

func TestFlowControlManager_CloseStream(t *testing.T) {
	m := NewFlowControlManager(DefaultInitialWindowSize, DefaultInitialWindowSize)
	m.OpenStream(1)
	m.ConsumeSend(1, 100)
	m.CloseStream(1)

	// Re-referencing the stream creates a fresh window.
	assert.Equal(t, int64(DefaultInitialWindowSize), m.StreamSendWindow(1))
	// The connection window keeps its balance.
	assert.Equal(t, int64(DefaultInitialWindowSize-100), m.ConnectionSendWindow())
}
