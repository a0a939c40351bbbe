package record

import "unicode/utf8"

// BlobToDisplayString maps every byte to the character with the same code
// point (0-255) and concatenates them in order. It does not decode UTF-8:
// a multi-byte sequence comes out as one character per byte. Use
// LooksMultiByte to flag blobs where that happens.
func BlobToDisplayString(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// LooksMultiByte reports whether b contains at least one valid multi-byte
// UTF-8 sequence, i.e. text that BlobToDisplayString will not render as
// the author intended.
func LooksMultiByte(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if size > 1 && r != utf8.RuneError {
			return true
		}
		b = b[size:]
	}
	return false
}

// DisplayString returns the printable form of v when it is a String, a Data
// blob, or an Array of byte codes. The second result is false for any other
// kind. Conversion only happens when the caller asks for it.
func DisplayString(v Value) (string, bool) {
	if s, ok := v.AsString(); ok {
		return s, true
	}
	if b, ok := v.AsData(); ok {
		return BlobToDisplayString(b), true
	}
	if b, ok := v.ByteCodes(); ok {
		return BlobToDisplayString(b), true
	}
	return "", false
}
