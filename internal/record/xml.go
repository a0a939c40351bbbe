package record

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

const xmlDateLayout = "2006-01-02T15:04:05Z"

type xmlReader struct {
	dec   *xml.Decoder
	limit int
}

func decodeXML(data []byte, limit int) (Value, error) {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	dec.Strict = true
	r := &xmlReader{dec: dec, limit: limit}

	start, err := r.nextStart()
	if err != nil {
		return Value{}, err
	}

	var root Value
	if start.Name.Local == "plist" {
		inner, err := r.nextStart()
		if err != nil {
			return Value{}, err
		}
		if root, err = r.value(inner, 0); err != nil {
			return Value{}, err
		}
		if err := r.expectEnd("plist"); err != nil {
			return Value{}, err
		}
	} else {
		if root, err = r.value(start, 0); err != nil {
			return Value{}, err
		}
	}

	// Only whitespace, comments and processing instructions may follow.
	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Value{}, malformed("trailing content: %v", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return Value{}, malformed("unexpected text after root element")
			}
		case xml.StartElement:
			return Value{}, malformed("unexpected element <%s> after root element", t.Name.Local)
		}
	}
	return root, nil
}

// nextStart skips prolog tokens and returns the next start element.
func (r *xmlReader) nextStart() (xml.StartElement, error) {
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return xml.StartElement{}, r.wrap(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.EndElement:
			return xml.StartElement{}, malformed("unexpected </%s>", t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return xml.StartElement{}, malformed("unexpected text %q", strings.TrimSpace(string(t)))
			}
		}
	}
}

func (r *xmlReader) expectEnd(name string) error {
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return r.wrap(err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local != name {
				return malformed("expected </%s>, got </%s>", name, t.Name.Local)
			}
			return nil
		case xml.StartElement:
			return malformed("unexpected <%s> inside <%s>", t.Name.Local, name)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return malformed("unexpected text inside <%s>", name)
			}
		}
	}
}

func (r *xmlReader) wrap(err error) error {
	if errors.Is(err, ErrMalformedRecord) || errors.Is(err, ErrDepthExceeded) {
		return err
	}
	if err == io.EOF {
		return malformed("unexpected end of document")
	}
	return malformed("%v", err)
}

// text collects character data up to the matching end element.
func (r *xmlReader) text(start xml.StartElement) (string, error) {
	var sb strings.Builder
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return "", r.wrap(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return sb.String(), nil
		case xml.StartElement:
			return "", malformed("unexpected <%s> inside <%s>", t.Name.Local, start.Name.Local)
		}
	}
}

func (r *xmlReader) value(start xml.StartElement, depth int) (Value, error) {
	if depth > r.limit {
		return Value{}, tooDeep(r.limit)
	}
	switch start.Name.Local {
	case "dict":
		return r.dict(depth)
	case "array":
		return r.array(depth)
	case "true", "false":
		if err := r.expectEnd(start.Name.Local); err != nil {
			return Value{}, err
		}
		return Bool(start.Name.Local == "true"), nil
	}

	s, err := r.text(start)
	if err != nil {
		return Value{}, err
	}
	switch start.Name.Local {
	case "string":
		return String(s), nil
	case "integer":
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 0, 64); err == nil {
			return Integer(n), nil
		}
		// Values above MaxInt64 are stored as their two's complement.
		u, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return Value{}, malformed("invalid integer %q", s)
		}
		return Integer(int64(u)), nil
	case "real":
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, malformed("invalid real %q", s)
		}
		return Real(f), nil
	case "data":
		clean := strings.Map(func(c rune) rune {
			if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
				return -1
			}
			return c
		}, s)
		b, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return Value{}, malformed("invalid base64 data: %v", err)
		}
		return Data(b), nil
	case "date":
		t, err := time.Parse(xmlDateLayout, strings.TrimSpace(s))
		if err != nil {
			return Value{}, malformed("invalid date %q", s)
		}
		return Date(t), nil
	}
	return Value{}, malformed("unknown element <%s>", start.Name.Local)
}

func (r *xmlReader) array(depth int) (Value, error) {
	var items []Value
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return Value{}, r.wrap(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := r.value(t, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		case xml.EndElement:
			return Value{kind: KindArray, items: items}, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return Value{}, malformed("unexpected text inside <array>")
			}
		}
	}
}

func (r *xmlReader) dict(depth int) (Value, error) {
	m := NewMapping()
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return Value{}, r.wrap(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "key" {
				return Value{}, malformed("expected <key> in <dict>, got <%s>", t.Name.Local)
			}
			key, err := r.text(t)
			if err != nil {
				return Value{}, err
			}
			vs, err := r.nextStart()
			if err != nil {
				return Value{}, err
			}
			v, err := r.value(vs, depth+1)
			if err != nil {
				return Value{}, err
			}
			if !m.Set(key, v) {
				return Value{}, malformed("duplicate key %q", key)
			}
		case xml.EndElement:
			return MappingValue(m), nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return Value{}, malformed("unexpected text inside <dict>")
			}
		}
	}
}
