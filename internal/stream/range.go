// Package stream serves cached documents over HTTP with byte-range support.
package stream

import (
	"strconv"
	"strings"
)

// Kind classifies a Range header against a resource size.
type Kind int

const (
	// None means no Range header was sent.
	None Kind = iota
	// Partial is a satisfiable single range.
	Partial
	// Malformed headers are ignored and the whole resource is served.
	Malformed
	// Unsatisfiable ranges start at or past the end of the resource.
	Unsatisfiable
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Partial:
		return "partial"
	case Malformed:
		return "malformed"
	case Unsatisfiable:
		return "unsatisfiable"
	}
	return "unknown"
}

// Range is an inclusive byte span.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the span.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange interprets a Range header for a resource of size bytes.
// Only single ranges are honoured. An end past the resource is clamped to the
// last byte, and a suffix range (bytes=-N) selects the last N bytes.
func ParseRange(header string, size int64) (Range, Kind) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Range{}, None
	}

	const preamble = "bytes="
	if !strings.HasPrefix(header, preamble) {
		return Range{}, Malformed
	}
	rangeSet := header[len(preamble):]
	if strings.ContainsRune(rangeSet, ',') {
		return Range{}, Malformed
	}

	dash := strings.IndexByte(rangeSet, '-')
	if dash < 0 {
		return Range{}, Malformed
	}
	startStr, endStr := strings.TrimSpace(rangeSet[:dash]), strings.TrimSpace(rangeSet[dash+1:])

	if startStr == "" {
		// Suffix range
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n < 0 {
			return Range{}, Malformed
		}
		if n == 0 || size <= 0 {
			return Range{}, Unsatisfiable
		}
		if n > size {
			n = size
		}
		return Range{Start: size - n, End: size - 1}, Partial
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Range{}, Malformed
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return Range{}, Malformed
		}
		if end < start {
			return Range{}, Malformed
		}
	}

	if start >= size {
		return Range{}, Unsatisfiable
	}
	if end >= size {
		end = size - 1
	}

	return Range{Start: start, End: end}, Partial
}
