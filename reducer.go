package main

import "log"

// PendingRef identifies the assistant message a stream is filling in.
// The store hands it to Reduce so the reducer never has to guess which
// message is the target.
type PendingRef struct {
	Index int
	ID    string
}

// Effects describe the out-of-band work an event asks the caller to do
type Effects struct {
	// RefreshList asks for the conversation list to be reloaded
	// (titles and message counts change server side).
	RefreshList bool
	// Settled marks the end of the exchange; the busy indicator is cleared.
	Settled bool
	// Err carries the message of an error event.
	Err string
}

// Reduce applies ev to the pending assistant message referenced by target
// and returns the resulting conversation. conv is never modified.
//
// Stage events are no-ops unless target still points at a pending
// assistant message. Unknown event types are no-ops.
func Reduce(conv Conversation, target PendingRef, ev Event) (Conversation, Effects) {
	switch ev.Type {
	case EventTitleComplete:
		return conv, Effects{RefreshList: true}
	case EventComplete:
		return settle(conv, target, ""), Effects{Settled: true, RefreshList: true}
	case EventError:
		return settle(conv, target, ev.Message), Effects{Settled: true, RefreshList: true, Err: ev.Message}
	case EventStage1Start, EventStage1Complete,
		EventStage2Start, EventStage2Complete,
		EventStage3Start, EventStage3Complete:
	default:
		return conv, Effects{}
	}

	msg, ok := pendingMessage(conv, target)
	if !ok {
		log.Printf("Ignoring %s: no pending message %s at index %d", ev.Type, target.ID, target.Index)
		return conv, Effects{}
	}

	switch ev.Type {
	case EventStage1Start:
		if msg.Stage1 != nil {
			log.Printf("Ignoring %s after stage 1 completed for message %s", ev.Type, msg.ID)
			return conv, Effects{}
		}
		msg.Loading.Stage1 = true
	case EventStage1Complete:
		if msg.Stage1 != nil {
			log.Printf("Ignoring duplicate %s for message %s", ev.Type, msg.ID)
			return conv, Effects{}
		}
		msg.Stage1 = nonNilStage1(ev.Stage1)
		msg.Loading.Stage1 = false
	case EventStage2Start:
		if msg.Stage2 != nil {
			log.Printf("Ignoring %s after stage 2 completed for message %s", ev.Type, msg.ID)
			return conv, Effects{}
		}
		msg.Loading.Stage2 = true
	case EventStage2Complete:
		if msg.Stage2 != nil {
			log.Printf("Ignoring duplicate %s for message %s", ev.Type, msg.ID)
			return conv, Effects{}
		}
		msg.Stage2 = nonNilStage2(ev.Stage2)
		if ev.Metadata != nil {
			md := ev.Metadata.clone()
			msg.Metadata = &md
		}
		msg.Loading.Stage2 = false
	case EventStage3Start:
		if msg.Stage3 != nil {
			log.Printf("Ignoring %s after stage 3 completed for message %s", ev.Type, msg.ID)
			return conv, Effects{}
		}
		msg.Loading.Stage3 = true
	case EventStage3Complete:
		if ev.Stage3 == nil {
			return conv, Effects{}
		}
		if msg.Stage3 != nil {
			log.Printf("Ignoring duplicate %s for message %s", ev.Type, msg.ID)
			return conv, Effects{}
		}
		s3 := *ev.Stage3
		msg.Stage3 = &s3
		msg.Loading.Stage3 = false
	}

	return replaceMessage(conv, target.Index, msg), Effects{}
}

// settle clears the loading flags of the pending message and records errText.
// Stage data already applied is kept.
func settle(conv Conversation, target PendingRef, errText string) Conversation {
	msg, ok := pendingMessage(conv, target)
	if !ok {
		return conv
	}
	msg.Loading = Loading{}
	msg.Pending = false
	msg.Error = errText
	return replaceMessage(conv, target.Index, msg)
}

// pendingMessage returns a private copy of the target message if it is
// still the pending assistant message
func pendingMessage(conv Conversation, target PendingRef) (Message, bool) {
	if target.Index < 0 || target.Index >= len(conv.Messages) {
		return Message{}, false
	}
	m := conv.Messages[target.Index]
	if m.ID != target.ID || m.Role != RoleAssistant || !m.Pending {
		return Message{}, false
	}
	return m.clone(), true
}

// replaceMessage returns conv with the message at i swapped for msg.
// Untouched messages are shared with conv; they are never mutated in place.
func replaceMessage(conv Conversation, i int, msg Message) Conversation {
	out := conv
	out.Messages = make([]Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	out.Messages[i] = msg
	return out
}

// nonNilStage1 keeps "stage completed with no responses" distinct from
// "stage not completed"
func nonNilStage1(s []Stage1Response) []Stage1Response {
	out := make([]Stage1Response, len(s))
	copy(out, s)
	return out
}

func nonNilStage2(s []Stage2Ranking) []Stage2Ranking {
	out := make([]Stage2Ranking, len(s))
	for i, r := range s {
		r.ParsedRanking = append([]string(nil), r.ParsedRanking...)
		out[i] = r
	}
	return out
}
