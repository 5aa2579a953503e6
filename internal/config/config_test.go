package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariel42/h2-sans-io/http2"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.ExpectPreface)
	assert.Equal(t, http2.DefaultMaxFrameSize, cfg.MaxFrameSize)
	assert.Equal(t, http2.DefaultInitialWindowSize, cfg.InitialWindowSize)
	assert.Equal(t, http2.DefaultMaxHeaderBlockSize, cfg.MaxHeaderBlockSize)
	assert.Equal(t, http2.DefaultHeaderTableSize, cfg.HeaderTableSize)
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	data := []byte(`
expect_preface = true
max_frame_size = 32768
initial_window_size = 1048576
`)
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, cfg.ExpectPreface)
	assert.Equal(t, uint32(32768), cfg.MaxFrameSize)
	assert.Equal(t, uint32(1048576), cfg.InitialWindowSize)
	// Unset fields fall back to defaults.
	assert.Equal(t, http2.DefaultMaxHeaderBlockSize, cfg.MaxHeaderBlockSize)
	assert.Equal(t, http2.DefaultHeaderTableSize, cfg.HeaderTableSize)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseInvalidTOML(t *testing.T) {
	_, err := Parse([]byte("max_frame_size = ["))
	require.Error(t, err)
}

func TestParseOutOfRange(t *testing.T) {
	_, err := Parse([]byte("max_frame_size = 100"))
	require.Error(t, err)

	_, err = Parse([]byte("max_frame_size = 16777216"))
	require.Error(t, err)

	_, err = Parse([]byte("initial_window_size = 2147483648"))
	require.Error(t, err)

	_, err = Parse([]byte("max_header_block_size = -1"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("expect_preface = true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.ExpectPreface)
	assert.Equal(t, http2.DefaultMaxFrameSize, cfg.MaxFrameSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.ExpectPreface = true
	cfg.MaxHeaderBlockSize = 4096

	opts := cfg.Options()
	assert.True(t, opts.ExpectPreface)
	assert.Equal(t, cfg.MaxFrameSize, opts.MaxFrameSize)
	assert.Equal(t, 4096, opts.MaxHeaderBlockSize)
	require.NotNil(t, opts.HeaderCodec)

	// The wired HPACK codec must round-trip.
	block, err := opts.HeaderCodec.Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, block)
}
