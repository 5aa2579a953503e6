package http2

import (
	"bytes"
	"fmt"

	"golang.org/x/net/http2/hpack"
)

// HeaderCodec is the header-compression collaborator consulted by the codec
// only at header-block boundaries. Implementations own their dynamic-table
// state across calls for one connection direction; the codec never looks
// inside the block bytes itself.
type HeaderCodec interface {
	Encode(fields []hpack.HeaderField) ([]byte, error)
	Decode(block []byte) ([]hpack.HeaderField, error)
}

// HpackCodec implements HeaderCodec over golang.org/x/net/http2/hpack,
// wrapping one encoder and one decoder with their buffers.
type HpackCodec struct {
	encoder       *hpack.Encoder
	decoder       *hpack.Decoder
	encodeBuf     *bytes.Buffer
	decodedFields []hpack.HeaderField
}

// NewHpackCodec creates an HpackCodec whose encoder and decoder dynamic
// tables start at maxTableSize (SETTINGS_HEADER_TABLE_SIZE; 4096 is the
// protocol default).
func NewHpackCodec(maxTableSize uint32) *HpackCodec {
	c := &HpackCodec{encodeBuf: new(bytes.Buffer)}
	c.encoder = hpack.NewEncoder(c.encodeBuf)
	c.encoder.SetMaxDynamicTableSize(maxTableSize)
	c.decoder = hpack.NewDecoder(maxTableSize, c.emitHeaderField)
	return c
}

// emitHeaderField is the hpack.Decoder callback collecting decoded fields.
// hpack.HeaderField holds immutable strings, so appending directly is safe.
func (c *HpackCodec) emitHeaderField(hf hpack.HeaderField) {
	c.decodedFields = append(c.decodedFields, hf)
}

// Encode serializes fields into one HPACK header block. The returned slice
// is a copy; the internal buffer is reused across calls.
func (c *HpackCodec) Encode(fields []hpack.HeaderField) ([]byte, error) {
	c.encodeBuf.Reset()
	for _, hf := range fields {
		if hf.Name == "" {
			return nil, fmt.Errorf("hpack: empty header field name (value %q)", hf.Value)
		}
		if err := c.encoder.WriteField(hf); err != nil {
			return nil, fmt.Errorf("hpack: encoding field %q: %w", hf.Name, err)
		}
	}
	block := make([]byte, c.encodeBuf.Len())
	copy(block, c.encodeBuf.Bytes())
	return block, nil
}

// Decode parses one complete header block, returning the fields in order.
// The block must be complete: the codec hands blocks off only once
// END_HEADERS was observed.
func (c *HpackCodec) Decode(block []byte) ([]hpack.HeaderField, error) {
	c.decodedFields = nil
	if _, err := c.decoder.Write(block); err != nil {
		c.decodedFields = nil
		return nil, fmt.Errorf("hpack: decoding header block: %w", err)
	}
	if err := c.decoder.Close(); err != nil {
		c.decodedFields = nil
		return nil, fmt.Errorf("hpack: finishing header block: %w", err)
	}
	fields := c.decodedFields
	c.decodedFields = nil
	return fields, nil
}

// SetMaxDecoderDynamicTableSize updates the decoder's dynamic table limit
// (the SETTINGS_HEADER_TABLE_SIZE this side advertises).
func (c *HpackCodec) SetMaxDecoderDynamicTableSize(size uint32) {
	c.decoder.SetMaxDynamicTableSize(size)
}

// SetMaxEncoderDynamicTableSize updates the encoder's dynamic table limit
// (the SETTINGS_HEADER_TABLE_SIZE received from the peer).
func (c *HpackCodec) SetMaxEncoderDynamicTableSize(size uint32) {
	c.encoder.SetMaxDynamicTableSize(size)
}
