// Package stream provides line-record framing for incremental provider
// response bodies. Providers deliver bodies as arbitrary byte chunks that
// may split a logical line across reads or pack several lines into one
// read; the framer restores complete-line boundaries.
package stream

import "strings"

// LineFramer buffers a trailing partial line across Feed calls and emits
// only complete newline-terminated records.
type LineFramer struct {
	tail string
}

// NewLineFramer constructs an empty framer.
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Feed appends chunk to the internal buffer and returns every complete
// line it now holds, in order. The fragment after the last newline (which
// may be empty or a partial record) is retained for the next call.
func (f *LineFramer) Feed(chunk string) []string {
	if chunk == "" {
		return nil
	}

	parts := strings.Split(f.tail+chunk, "\n")
	f.tail = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// Flush returns any still-buffered partial line and resets the framer.
// Callers treat the result as an incomplete record: it is never parsed.
func (f *LineFramer) Flush() string {
	tail := f.tail
	f.tail = ""
	return tail
}

// Pending reports whether a partial line is currently buffered.
func (f *LineFramer) Pending() bool {
	return f.tail != ""
}
