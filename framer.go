package main

import (
	"bytes"
	"iter"
)

// LineFramer accumulates raw chunks from a streaming body and yields
// complete newline-terminated records. A trailing partial record is kept
// until more data arrives or Flush is called.
//
// A LineFramer is driven by a single producer and is not safe for
// concurrent use.
type LineFramer struct {
	buf []byte
}

// Feed appends chunk to the buffer and returns the complete records now
// available, oldest first. Records the caller does not consume stay
// buffered and are yielded by the next call to Feed.
func (f *LineFramer) Feed(chunk []byte) iter.Seq[string] {
	f.buf = append(f.buf, chunk...)
	return func(yield func(string) bool) {
		for {
			i := bytes.IndexByte(f.buf, '\n')
			if i < 0 {
				return
			}
			record := string(bytes.TrimSuffix(f.buf[:i], []byte{'\r'}))
			f.buf = f.buf[i+1:]
			if !yield(record) {
				return
			}
		}
	}
}

// Flush returns any buffered fragment as a final record and empties the
// buffer. ok is false when nothing was buffered.
func (f *LineFramer) Flush() (record string, ok bool) {
	if len(f.buf) == 0 {
		return "", false
	}
	record = string(bytes.TrimSuffix(f.buf, []byte{'\r'}))
	f.buf = nil
	return record, true
}
