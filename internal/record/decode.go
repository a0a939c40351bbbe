package record

import (
	"bytes"
)

// DefaultMaxDepth bounds container nesting for Decode.
const DefaultMaxDepth = 64

var (
	binaryMagic = []byte("bplist00")
	utf8BOM     = []byte{0xEF, 0xBB, 0xBF}
)

// Format identifies the on-disk encoding of a record.
type Format int

const (
	FormatUnknown Format = iota
	FormatBinary
	FormatXML
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatXML:
		return "xml"
	}
	return "unknown"
}

// Decoder decodes records with a configurable nesting limit.
type Decoder struct {
	MaxDepth int
}

// NewDecoder returns a Decoder with the given depth limit. A non-positive
// limit selects DefaultMaxDepth.
func NewDecoder(maxDepth int) *Decoder {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Decoder{MaxDepth: maxDepth}
}

// Decode parses data with DefaultMaxDepth.
func Decode(data []byte) (Value, error) {
	return NewDecoder(DefaultMaxDepth).Decode(data)
}

// Detect reports the encoding of data without decoding it.
func Detect(data []byte) Format {
	if bytes.HasPrefix(data, binaryMagic) {
		return FormatBinary
	}
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, utf8BOM), " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<plist")) ||
		bytes.HasPrefix(trimmed, []byte("<!DOCTYPE")) {
		return FormatXML
	}
	return FormatUnknown
}

// Decode parses a binary or XML property list.
func (d *Decoder) Decode(data []byte) (Value, error) {
	limit := d.MaxDepth
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	switch Detect(data) {
	case FormatBinary:
		return decodeBinary(data, limit)
	case FormatXML:
		return decodeXML(data, limit)
	}
	if len(data) == 0 {
		return Value{}, malformed("empty input")
	}
	return Value{}, malformed("unrecognized header")
}
