package record

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"
)

// ErrUnencodable is returned when a value has no representation in the
// requested format.
var ErrUnencodable = errors.New("value cannot be encoded")

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
`

// EncodeXML renders v as an XML property list. Null has no XML form and
// fails with ErrUnencodable. UIDs are written as CF$UID dictionaries.
func EncodeXML(v Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	if err := writeXMLValue(&buf, v, 0); err != nil {
		return nil, err
	}
	buf.WriteString("</plist>\n")
	return buf.Bytes(), nil
}

func writeXMLValue(buf *bytes.Buffer, v Value, indent int) error {
	pad := bytes.Repeat([]byte{'\t'}, indent)
	buf.Write(pad)
	switch v.kind {
	case KindNull:
		return fmt.Errorf("%w: null in xml plist", ErrUnencodable)
	case KindBool:
		if v.b {
			buf.WriteString("<true/>\n")
		} else {
			buf.WriteString("<false/>\n")
		}
	case KindInteger:
		fmt.Fprintf(buf, "<integer>%d</integer>\n", v.i)
	case KindReal:
		fmt.Fprintf(buf, "<real>%s</real>\n", strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		buf.WriteString("<string>")
		if err := xml.EscapeText(buf, []byte(v.s)); err != nil {
			return err
		}
		buf.WriteString("</string>\n")
	case KindData:
		fmt.Fprintf(buf, "<data>%s</data>\n", base64.StdEncoding.EncodeToString(v.data))
	case KindDate:
		fmt.Fprintf(buf, "<date>%s</date>\n", v.t.UTC().Format(xmlDateLayout))
	case KindUID:
		fmt.Fprintf(buf, "<dict>\n%s\t<key>CF$UID</key>\n%s\t<integer>%d</integer>\n%s</dict>\n", pad, pad, uint64(v.i), pad)
	case KindArray:
		if len(v.items) == 0 {
			buf.WriteString("<array/>\n")
			return nil
		}
		buf.WriteString("<array>\n")
		for _, it := range v.items {
			if err := writeXMLValue(buf, it, indent+1); err != nil {
				return err
			}
		}
		buf.Write(pad)
		buf.WriteString("</array>\n")
	case KindMapping:
		if v.mapping.Len() == 0 {
			buf.WriteString("<dict/>\n")
			return nil
		}
		buf.WriteString("<dict>\n")
		for _, k := range v.mapping.keys {
			buf.Write(pad)
			buf.WriteString("\t<key>")
			if err := xml.EscapeText(buf, []byte(k)); err != nil {
				return err
			}
			buf.WriteString("</key>\n")
			if err := writeXMLValue(buf, v.mapping.values[k], indent+1); err != nil {
				return err
			}
		}
		buf.Write(pad)
		buf.WriteString("</dict>\n")
	default:
		return fmt.Errorf("%w: %s", ErrUnencodable, v.kind)
	}
	return nil
}

// EncodeBinary renders v as a bplist00 document. Objects are not
// deduplicated.
func EncodeBinary(v Value) ([]byte, error) {
	var objs []encodedObject
	flattenBinary(v, &objs)

	refSize := minBytes(uint64(len(objs)))
	var body bytes.Buffer
	body.Write(binaryMagic)
	offsets := make([]uint64, len(objs))
	for i, o := range objs {
		offsets[i] = uint64(body.Len())
		if err := o.write(&body, refSize); err != nil {
			return nil, err
		}
	}

	tableOffset := uint64(body.Len())
	offSize := minBytes(tableOffset)
	for _, off := range offsets {
		writeUintN(&body, off, offSize)
	}

	var trailer [bplistTrailerSize]byte
	trailer[6] = byte(offSize)
	trailer[7] = byte(refSize)
	binary.BigEndian.PutUint64(trailer[8:], uint64(len(objs)))
	binary.BigEndian.PutUint64(trailer[16:], 0)
	binary.BigEndian.PutUint64(trailer[24:], tableOffset)
	body.Write(trailer[:])
	return body.Bytes(), nil
}

type encodedObject struct {
	v    Value
	refs []uint64 // children; for mappings keys first, then values
}

func flattenBinary(v Value, objs *[]encodedObject) uint64 {
	idx := uint64(len(*objs))
	*objs = append(*objs, encodedObject{v: v})
	var refs []uint64
	switch v.kind {
	case KindArray:
		for _, it := range v.items {
			refs = append(refs, flattenBinary(it, objs))
		}
	case KindMapping:
		keys := make([]uint64, 0, v.mapping.Len())
		vals := make([]uint64, 0, v.mapping.Len())
		for _, k := range v.mapping.keys {
			keys = append(keys, flattenBinary(String(k), objs))
		}
		for _, k := range v.mapping.keys {
			vals = append(vals, flattenBinary(v.mapping.values[k], objs))
		}
		refs = append(keys, vals...)
	}
	(*objs)[idx].refs = refs
	return idx
}

func (o encodedObject) write(buf *bytes.Buffer, refSize int) error {
	v := o.v
	switch v.kind {
	case KindNull:
		buf.WriteByte(0x00)
	case KindBool:
		if v.b {
			buf.WriteByte(0x09)
		} else {
			buf.WriteByte(0x08)
		}
	case KindInteger:
		writeBinaryInt(buf, v.i)
	case KindReal:
		buf.WriteByte(0x23)
		writeUintN(buf, math.Float64bits(v.f), 8)
	case KindDate:
		buf.WriteByte(0x33)
		secs := v.t.Sub(plistEpoch).Seconds()
		writeUintN(buf, math.Float64bits(secs), 8)
	case KindData:
		writeMarker(buf, 0x4, uint64(len(v.data)))
		buf.Write(v.data)
	case KindString:
		if isASCII(v.s) {
			writeMarker(buf, 0x5, uint64(len(v.s)))
			buf.WriteString(v.s)
			return nil
		}
		units := utf16.Encode([]rune(v.s))
		writeMarker(buf, 0x6, uint64(len(units)))
		for _, u := range units {
			writeUintN(buf, uint64(u), 2)
		}
	case KindUID:
		buf.WriteByte(0x87)
		writeUintN(buf, uint64(v.i), 8)
	case KindArray:
		writeMarker(buf, 0xA, uint64(len(o.refs)))
		for _, r := range o.refs {
			writeUintN(buf, r, refSize)
		}
	case KindMapping:
		writeMarker(buf, 0xD, uint64(len(o.refs)/2))
		for _, r := range o.refs {
			writeUintN(buf, r, refSize)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnencodable, v.kind)
	}
	return nil
}

func writeMarker(buf *bytes.Buffer, high byte, n uint64) {
	if n < 0x0F {
		buf.WriteByte(high<<4 | byte(n))
		return
	}
	buf.WriteByte(high<<4 | 0x0F)
	writeBinaryInt(buf, int64(n))
}

func writeBinaryInt(buf *bytes.Buffer, i int64) {
	switch {
	case i >= 0 && i <= math.MaxUint8:
		buf.WriteByte(0x10)
		writeUintN(buf, uint64(i), 1)
	case i >= 0 && i <= math.MaxUint16:
		buf.WriteByte(0x11)
		writeUintN(buf, uint64(i), 2)
	case i >= 0 && i <= math.MaxUint32:
		buf.WriteByte(0x12)
		writeUintN(buf, uint64(i), 4)
	default:
		buf.WriteByte(0x13)
		writeUintN(buf, uint64(i), 8)
	}
}

func writeUintN(buf *bytes.Buffer, v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * uint(i))))
	}
}

func minBytes(v uint64) int {
	switch {
	case v <= math.MaxUint8:
		return 1
	case v <= math.MaxUint16:
		return 2
	case v <= math.MaxUint32:
		return 4
	}
	return 8
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
