// Package bytestring splits and assembles wire payloads made of fixed-width
// cryptographic fields followed by an optional msgpack remainder.
package bytestring

import (
	"fmt"

	"github.com/ugorji/go/codec"

	"github.com/AdalynJs/nucypher/pkg/models"
)

// Field names one fixed-width leading field of a payload.
type Field struct {
	Name string
	Size int
}

// Splitter parses payloads laid out as a fixed sequence of Fields.
type Splitter struct {
	fields []Field
	min    int
}

// NewSplitter creates a splitter for the given field layout.
func NewSplitter(fields ...Field) *Splitter {
	min := 0
	for _, f := range fields {
		if f.Size <= 0 {
			panic(fmt.Sprintf("bytestring: field %q has non-positive size %d", f.Name, f.Size))
		}
		min += f.Size
	}
	return &Splitter{fields: fields, min: min}
}

// MinLength is the sum of the fixed field sizes.
func (s *Splitter) MinLength() int { return s.min }

// Split returns the fixed fields and the remainder as sub-slices of payload.
// Every returned slice has its capacity clipped so appending to it cannot
// write into payload.
func (s *Splitter) Split(payload []byte) ([][]byte, []byte, error) {
	if len(payload) < s.min {
		return nil, nil, models.NewMalformedPayloadError("", s.min, len(payload))
	}
	out := make([][]byte, len(s.fields))
	off := 0
	for i, f := range s.fields {
		end := off + f.Size
		out[i] = payload[off:end:end]
		off = end
	}
	return out, payload[off:len(payload):len(payload)], nil
}

// SplitInto splits payload and decodes the msgpack remainder into v.
func (s *Splitter) SplitInto(payload []byte, v interface{}) ([][]byte, error) {
	fields, rest, err := s.Split(payload)
	if err != nil {
		return nil, err
	}
	if err := Unpack(rest, v); err != nil {
		return nil, err
	}
	return fields, nil
}

// Assemble is the inverse of Split. It checks every field against the layout.
func (s *Splitter) Assemble(fields [][]byte, remainder []byte) ([]byte, error) {
	if len(fields) != len(s.fields) {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", models.ErrMalformedPayload, len(s.fields), len(fields))
	}
	for i, f := range s.fields {
		if len(fields[i]) != f.Size {
			return nil, models.NewMalformedPayloadError(f.Name, f.Size, len(fields[i]))
		}
	}
	return Assemble(fields, remainder), nil
}

// AssembleWith packs v as the remainder.
func (s *Splitter) AssembleWith(fields [][]byte, v interface{}) ([]byte, error) {
	rest, err := Pack(v)
	if err != nil {
		return nil, err
	}
	return s.Assemble(fields, rest)
}

// Split is a convenience wrapper around NewSplitter(fields...).Split.
func Split(payload []byte, fields ...Field) ([][]byte, []byte, error) {
	return NewSplitter(fields...).Split(payload)
}

// Assemble concatenates fields followed by remainder into a fresh buffer.
func Assemble(fields [][]byte, remainder []byte) []byte {
	n := len(remainder)
	for _, f := range fields {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range fields {
		out = append(out, f...)
	}
	return append(out, remainder...)
}

var msgpackHandle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = false
	return h
}

// Pack serializes v as msgpack.
func Pack(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, msgpackHandle).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode remainder: %w", err)
	}
	return out, nil
}

// Unpack decodes a msgpack remainder into v.
func Unpack(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty remainder", models.ErrMalformedPayload)
	}
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	return nil
}
