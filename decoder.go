package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType is the "type" tag carried by every stream event
type EventType string

const (
	EventStage1Start    EventType = "stage1_start"
	EventStage1Complete EventType = "stage1_complete"
	EventStage2Start    EventType = "stage2_start"
	EventStage2Complete EventType = "stage2_complete"
	EventStage3Start    EventType = "stage3_start"
	EventStage3Complete EventType = "stage3_complete"
	EventTitleComplete  EventType = "title_complete"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// eventPrefix marks a record that carries an event payload
const eventPrefix = "data: "

// Event is a decoded stream event. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	Stage1   []Stage1Response
	Stage2   []Stage2Ranking
	Stage3   *Stage3Response
	Metadata *Metadata
	Message  string
	Title    string

	// Synthetic is set on events the client made up itself, such as the
	// complete event added when a stream ends without one.
	Synthetic bool
}

// Known reports whether the event type is part of the protocol
func (e Event) Known() bool {
	switch e.Type {
	case EventStage1Start, EventStage1Complete,
		EventStage2Start, EventStage2Complete,
		EventStage3Start, EventStage3Complete,
		EventTitleComplete, EventComplete, EventError:
		return true
	}
	return false
}

// Terminal reports whether the event ends the exchange
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// envelope is the wire shape of a data record
type envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Metadata *Metadata       `json:"metadata,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// ErrMalformedEvent is wrapped by every decode failure
var ErrMalformedEvent = errors.New("malformed event")

// DecodeEvent parses a single record.
// ok is false for records that are not events (blank lines, comments,
// other SSE fields); err is set when a data record cannot be parsed.
// Unknown event types decode successfully.
func DecodeEvent(record string) (ev Event, ok bool, err error) {
	payload, found := strings.CutPrefix(record, eventPrefix)
	if !found {
		return Event{}, false, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Event{}, false, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return Event{}, false, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	ev = Event{
		Type:     EventType(env.Type),
		Metadata: env.Metadata,
		Message:  env.Message,
	}

	switch ev.Type {
	case EventStage1Complete:
		if err := decodeData(env.Data, &ev.Stage1); err != nil {
			return Event{}, false, err
		}
	case EventStage2Complete:
		if err := decodeData(env.Data, &ev.Stage2); err != nil {
			return Event{}, false, err
		}
	case EventStage3Complete:
		var s3 Stage3Response
		if err := decodeData(env.Data, &s3); err != nil {
			return Event{}, false, err
		}
		ev.Stage3 = &s3
	case EventTitleComplete:
		// the title is informational; a missing or odd data field is fine
		var t struct {
			Title string `json:"title"`
		}
		if len(env.Data) > 0 && json.Unmarshal(env.Data, &t) == nil {
			ev.Title = t.Title
		}
	}

	return ev, true, nil
}

// decodeData unmarshals a required data field
func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
