package http2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContinuationAssembler(t *testing.T) {
	a := newContinuationAssembler(0)
	assert.False(t, a.isOpen())

	require.NoError(t, a.begin(1, []byte("frag1"), true))
	assert.True(t, a.isOpen())
	assert.Equal(t, uint32(1), a.openStreamID())

	block, err := a.push(1, []byte("frag2"), false)
	require.NoError(t, err)
	assert.Nil(t, block)
	assert.True(t, a.isOpen())

	block, err = a.push(1, []byte("frag3"), true)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, uint32(1), block.streamID)
	assert.True(t, block.endStream)
	assert.True(t, bytes.Equal(block.fragment, []byte("frag1frag2frag3")))
	assert.False(t, a.isOpen())
}

func TestContinuationAssemblerUnexpectedContinuation(t *testing.T) {
	a := newContinuationAssembler(0)

	_, err := a.push(1, []byte("frag"), true)
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrCodeProtocolError, connErr.Code)
}

func TestContinuationAssemblerWrongStream(t *testing.T) {
	a := newContinuationAssembler(0)
	require.NoError(t, a.begin(1, []byte("frag"), false))

	_, err := a.push(3, []byte("frag"), true)
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrCodeProtocolError, connErr.Code)
}

func TestContinuationAssemblerSizeCap(t *testing.T) {
	a := newContinuationAssembler(10)

	// An oversized opening fragment is refused outright.
	err := a.begin(1, make([]byte, 11), false)
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrCodeEnhanceYourCalm, connErr.Code)

	// Accumulation crossing the cap drops the partial block.
	a = newContinuationAssembler(10)
	require.NoError(t, a.begin(1, make([]byte, 6), false))
	_, err = a.push(1, make([]byte, 5), false)
	require.Error(t, err)
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, ErrCodeEnhanceYourCalm, connErr.Code)
	assert.False(t, a.isOpen())

	// Exactly at the cap is fine.
	a = newContinuationAssembler(10)
	require.NoError(t, a.begin(1, make([]byte, 6), false))
	block, err := a.push(1, make([]byte, 4), true)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Len(t, block.fragment, 10)
}

func TestContinuationAssemblerDiscard(t *testing.T) {
	a := newContinuationAssembler(0)
	require.NoError(t, a.begin(7, []byte("frag"), true))
	a.discard()
	assert.False(t, a.isOpen())

	_, err := a.push(7, []byte("frag"), true)
	require.Error(t, err)
}

func TestContinuationAssemblerDefaultCap(t *testing.T) {
	a := newContinuationAssembler(0)
	assert.Equal(t, DefaultMaxHeaderBlockSize, a.maxSize)

	a = newContinuationAssembler(-1)
	assert.Equal(t, DefaultMaxHeaderBlockSize, a.maxSize)
}
