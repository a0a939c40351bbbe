package record

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord is returned when the input does not match the
	// expected container structure, a length overruns the buffer, or a
	// mapping key repeats.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrDepthExceeded is returned when containers nest deeper than the
	// decoder's limit. Reference cycles in binary plists also end here.
	ErrDepthExceeded = errors.New("record nesting depth exceeded")
)

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}

func tooDeep(limit int) error {
	return fmt.Errorf("%w: limit %d", ErrDepthExceeded, limit)
}

func cyclic(ref uint64) error {
	return fmt.Errorf("%w: reference cycle through object %d", ErrDepthExceeded, ref)
}
