package main

import (
	"errors"
	"io"
	"iter"
	"log"
)

// readChunkSize is the size of each read from the response body
const readChunkSize = 4096

// EventStream turns a streaming response body into typed events.
// Events come out in wire order. Once the body is exhausted a complete
// event is synthesized if the server sent neither complete nor error, so
// every stream that ends cleanly ends with a terminal event.
type EventStream struct {
	body    io.ReadCloser
	framer  LineFramer
	pending []Event
	chunk   []byte

	sawTerminal bool
	eof         bool
	done        bool
	err         error
	dropped     int
}

// NewEventStream wraps body. The stream owns body and closes it once
// the last event has been read or Close is called.
func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{
		body:  body,
		chunk: make([]byte, readChunkSize),
	}
}

// Next returns the next event. It returns io.EOF after the final event.
// Any other error is a transport failure; events already returned stay valid.
func (s *EventStream) Next() (Event, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return Event{}, s.err
		}
		if s.done {
			return Event{}, io.EOF
		}
		if s.eof {
			s.finish()
			continue
		}

		n, err := s.body.Read(s.chunk)
		if n > 0 {
			for record := range s.framer.Feed(s.chunk[:n]) {
				s.decode(record)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				continue
			}
			s.err = err
			s.Close()
		}
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// All returns the remaining events as a sequence. The sequence stops at
// the end of the stream or after yielding the first transport error.
// It can only be ranged over once.
func (s *EventStream) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Dropped returns how many malformed records were discarded so far
func (s *EventStream) Dropped() int {
	return s.dropped
}

// Close releases the underlying body
func (s *EventStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}

// finish flushes the last partial record and adds the synthetic complete
func (s *EventStream) finish() {
	if record, ok := s.framer.Flush(); ok {
		s.decode(record)
	}
	if !s.sawTerminal {
		s.pending = append(s.pending, Event{Type: EventComplete, Synthetic: true})
		s.sawTerminal = true
	}
	s.Close()
}

func (s *EventStream) decode(record string) {
	ev, ok, err := DecodeEvent(record)
	if err != nil {
		s.dropped++
		log.Printf("Dropping malformed stream event: %v", err)
		return
	}
	if !ok {
		return
	}
	if ev.Terminal() {
		s.sawTerminal = true
	}
	s.pending = append(s.pending, ev)
}
