// Package config loads engine settings for tooling built on the codec.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/ariel42/h2-sans-io/http2"
)

// Config holds the tunable protocol parameters of one codec instance.
// Zero-valued fields take the protocol defaults during Validate.
type Config struct {
	// ExpectPreface requires the 24-byte h2c client preface before frames.
	ExpectPreface bool `toml:"expect_preface"`
	// MaxFrameSize is the advertised SETTINGS_MAX_FRAME_SIZE (16384..16777215).
	MaxFrameSize uint32 `toml:"max_frame_size"`
	// InitialWindowSize is the advertised SETTINGS_INITIAL_WINDOW_SIZE.
	InitialWindowSize uint32 `toml:"initial_window_size"`
	// MaxHeaderBlockSize caps header-block accumulation in bytes.
	MaxHeaderBlockSize int `toml:"max_header_block_size"`
	// HeaderTableSize is the HPACK dynamic table size for both directions.
	HeaderTableSize uint32 `toml:"header_table_size"`
}

// Default returns a Config populated with the RFC 7540 defaults.
func Default() Config {
	return Config{
		MaxFrameSize:       http2.DefaultMaxFrameSize,
		InitialWindowSize:  http2.DefaultInitialWindowSize,
		MaxHeaderBlockSize: http2.DefaultMaxHeaderBlockSize,
		HeaderTableSize:    http2.DefaultHeaderTableSize,
	}
}

// Load reads a TOML file, fills unset fields with defaults, and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML bytes, fills unset fields with defaults, and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.InitialWindowSize == 0 {
		c.InitialWindowSize = def.InitialWindowSize
	}
	if c.MaxHeaderBlockSize == 0 {
		c.MaxHeaderBlockSize = def.MaxHeaderBlockSize
	}
	if c.HeaderTableSize == 0 {
		c.HeaderTableSize = def.HeaderTableSize
	}
}

// Validate checks the protocol bounds of RFC 7540 Section 6.5.2.
func (c *Config) Validate() error {
	if c.MaxFrameSize < http2.MinAllowedFrameSize || c.MaxFrameSize > http2.MaxAllowedFrameSize {
		return fmt.Errorf("max_frame_size %d outside [%d, %d]", c.MaxFrameSize, http2.MinAllowedFrameSize, http2.MaxAllowedFrameSize)
	}
	if c.InitialWindowSize > http2.MaxWindowSize {
		return fmt.Errorf("initial_window_size %d exceeds %d", c.InitialWindowSize, int64(http2.MaxWindowSize))
	}
	if c.MaxHeaderBlockSize < 0 {
		return fmt.Errorf("max_header_block_size must not be negative, got %d", c.MaxHeaderBlockSize)
	}
	return nil
}

// Options converts the configuration into codec options, wiring an HPACK
// header codec sized by HeaderTableSize.
func (c Config) Options() http2.Options {
	return http2.Options{
		ExpectPreface:      c.ExpectPreface,
		MaxFrameSize:       c.MaxFrameSize,
		InitialWindowSize:  c.InitialWindowSize,
		MaxHeaderBlockSize: c.MaxHeaderBlockSize,
		HeaderCodec:        http2.NewHpackCodec(c.HeaderTableSize),
	}
}
