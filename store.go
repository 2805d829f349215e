package main

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ConversationStore owns the client's copy of the conversations and is the
// only place they are changed. The server remains the source of truth;
// everything here is a cache plus the optimistic state of in-flight sends.
//
// Sends are serialized per conversation: a second Send while one is
// streaming is rejected with ErrorBusy.
type ConversationStore struct {
	api       Upstream
	list      *ConversationListCache
	updates   chan<- Conversation
	maxLength int
	newID     func() string

	mu            sync.Mutex
	conversations map[string]Conversation
	busy          map[string]bool
	currentID     string
}

// StoreOption configures a ConversationStore
type StoreOption func(*ConversationStore)

// WithUpdates publishes a snapshot of a conversation every time it changes.
// Sends never block; a snapshot is skipped when the channel is full.
func WithUpdates(ch chan<- Conversation) StoreOption {
	return func(s *ConversationStore) {
		s.updates = ch
	}
}

// WithListCache shares a conversation list cache with the store
func WithListCache(cache *ConversationListCache) StoreOption {
	return func(s *ConversationStore) {
		s.list = cache
	}
}

// WithMaxMessageLength overrides the local content limit
func WithMaxMessageLength(n int) StoreOption {
	return func(s *ConversationStore) {
		s.maxLength = n
	}
}

// NewConversationStore creates a store backed by api
func NewConversationStore(api Upstream, opts ...StoreOption) *ConversationStore {
	s := &ConversationStore{
		api:           api,
		maxLength:     MaxMessageLength,
		newID:         uuid.NewString,
		conversations: make(map[string]Conversation),
		busy:          make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.list == nil {
		s.list = NewConversationListCache(ConversationListTTL)
	}
	return s
}

// SelectConversation loads a conversation from the server and makes it
// current. The conversation list is refreshed alongside; a failed list
// refresh does not fail the selection.
func (s *ConversationStore) SelectConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var fetched *Conversation

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		conv, err := s.api.GetConversation(gctx, conversationID)
		if err != nil {
			return err
		}
		fetched = conv
		return nil
	})
	g.Go(func() error {
		if _, err := s.RefreshConversations(gctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Failed to refresh conversation list: %v", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentID = conversationID
	if s.busy[conversationID] {
		// the in-flight exchange owns the local copy until it settles
		return s.conversations[conversationID].clone(), nil
	}
	conv := *fetched
	s.conversations[conversationID] = conv
	return conv.clone(), nil
}

// CreateConversation creates a conversation on the server, adds it to the
// top of the list and makes it current.
func (s *ConversationStore) CreateConversation(ctx context.Context) (Conversation, error) {
	created, err := s.api.CreateConversation(ctx)
	if err != nil {
		return Conversation{}, err
	}
	conv := *created
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}

	s.list.Prepend(ConversationMetadata{
		ID:           conv.ID,
		CreatedAt:    conv.CreatedAt,
		Title:        conv.Title,
		MessageCount: len(conv.Messages),
	})

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.currentID = conv.ID
	s.mu.Unlock()

	return conv.clone(), nil
}

// Send posts content to a conversation and folds the streamed answer into
// the local copy as it arrives.
//
// Content is validated before any network call. A user message and a
// pending assistant message are inserted optimistically. If the transport
// fails before any stage result was applied both are removed again;
// after that, the partial answer is kept and the error is returned.
// An error event from the server is returned as an ErrorStream error with
// the partial answer kept. Reading stops at the first complete or error
// event. The conversation is never left busy.
func (s *ConversationStore) Send(ctx context.Context, conversationID, content string) error {
	if err := s.validate(content); err != nil {
		return err
	}

	ref, userID, err := s.beginExchange(conversationID, strings.TrimSpace(content))
	if err != nil {
		return err
	}
	defer s.endExchange(conversationID)

	stream, err := s.api.SendMessageStream(ctx, conversationID, content)
	if err != nil {
		s.rollback(conversationID, userID, ref.ID)
		return asTransportError(err, "send_failed")
	}
	defer stream.Close()

	var serverErr string
	for ev, err := range stream.All() {
		if err != nil {
			if !s.hasStageData(conversationID, ref) {
				s.rollback(conversationID, userID, ref.ID)
				return asTransportError(err, "stream_interrupted")
			}
			s.apply(ctx, conversationID, ref, Event{Type: EventError, Message: err.Error(), Synthetic: true})
			return asTransportError(err, "stream_interrupted")
		}

		if eff := s.apply(ctx, conversationID, ref, ev); eff.Err != "" && serverErr == "" {
			serverErr = eff.Err
		}
		// nothing after complete or error belongs to this exchange
		if ev.Terminal() {
			break
		}
	}

	// the stream always ends with a terminal event; this covers a stream
	// closed from underneath the loop
	if s.isPending(conversationID, ref) {
		s.apply(ctx, conversationID, ref, Event{Type: EventComplete, Synthetic: true})
	}

	if stream.Dropped() > 0 {
		log.Printf("Conversation %s: dropped %d malformed events", conversationID, stream.Dropped())
	}
	if serverErr != "" {
		return newError(ErrorStream, serverErr, nil)
	}
	return nil
}

// RefreshConversations reloads the conversation list from the server
func (s *ConversationStore) RefreshConversations(ctx context.Context) ([]ConversationMetadata, error) {
	conversations, err := s.api.ListConversations(ctx)
	if err != nil {
		s.list.Invalidate()
		return nil, err
	}
	s.list.Set(conversations)
	return conversations, nil
}

// ListConversations returns the cached list, reloading it when stale
func (s *ConversationStore) ListConversations(ctx context.Context) ([]ConversationMetadata, error) {
	if items, ok := s.list.Get(); ok {
		return items, nil
	}
	return s.RefreshConversations(ctx)
}

// Conversations returns the cached list without touching the network
func (s *ConversationStore) Conversations() []ConversationMetadata {
	return s.list.Peek()
}

// Conversation returns a copy of the local state of a conversation
func (s *ConversationStore) Conversation(conversationID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return conv.clone(), true
}

// Current returns the id of the selected conversation
func (s *ConversationStore) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Busy reports whether a send is in flight for the conversation
func (s *ConversationStore) Busy(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[conversationID]
}

func (s *ConversationStore) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return newError(ErrorContentEmpty, "content_empty", nil)
	}
	if s.maxLength > 0 && utf8.RuneCountInString(content) > s.maxLength {
		e := newError(ErrorContentTooLong, "content_too_long", nil)
		e.MaxLength = s.maxLength
		return e
	}
	return nil
}

// beginExchange marks the conversation busy and appends the optimistic
// user message and the pending assistant placeholder
func (s *ConversationStore) beginExchange(conversationID, content string) (PendingRef, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy[conversationID] {
		return PendingRef{}, "", newError(ErrorBusy, "send_in_progress", nil)
	}

	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = Conversation{ID: conversationID}
	}

	userID := s.newID()
	assistantID := s.newID()
	next := conv
	next.Messages = make([]Message, len(conv.Messages), len(conv.Messages)+2)
	copy(next.Messages, conv.Messages)
	next.Messages = append(next.Messages,
		Message{ID: userID, Role: RoleUser, Content: content},
		Message{ID: assistantID, Role: RoleAssistant, Pending: true},
	)

	s.conversations[conversationID] = next
	s.busy[conversationID] = true
	s.publishLocked(next)

	return PendingRef{Index: len(next.Messages) - 1, ID: assistantID}, userID, nil
}

func (s *ConversationStore) endExchange(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, conversationID)
}

// apply folds one event into the conversation and carries out its effects
func (s *ConversationStore) apply(ctx context.Context, conversationID string, ref PendingRef, ev Event) Effects {
	s.mu.Lock()
	conv := s.conversations[conversationID]
	next, eff := Reduce(conv, ref, ev)
	if ev.Type == EventTitleComplete && ev.Title != "" {
		next.Title = ev.Title
	}
	s.conversations[conversationID] = next
	s.publishLocked(next)
	s.mu.Unlock()

	if eff.RefreshList {
		s.list.Invalidate()
		if _, err := s.RefreshConversations(ctx); err != nil {
			log.Printf("Failed to refresh conversation list: %v", err)
		}
	}
	return eff
}

// rollback removes the optimistic messages of a failed exchange
func (s *ConversationStore) rollback(conversationID, userID, assistantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[conversationID]
	next := conv
	next.Messages = make([]Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.ID == userID || m.ID == assistantID {
			continue
		}
		next.Messages = append(next.Messages, m)
	}
	s.conversations[conversationID] = next
	s.publishLocked(next)
}

func (s *ConversationStore) isPending(conversationID string, ref PendingRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := pendingMessage(s.conversations[conversationID], ref)
	return ok
}

// hasStageData reports whether any stage result reached the pending message
func (s *ConversationStore) hasStageData(conversationID string, ref PendingRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[conversationID]
	if ref.Index >= len(conv.Messages) || conv.Messages[ref.Index].ID != ref.ID {
		return false
	}
	m := conv.Messages[ref.Index]
	return m.Stage1 != nil || m.Stage2 != nil || m.Stage3 != nil
}

func (s *ConversationStore) publishLocked(conv Conversation) {
	if s.updates == nil {
		return
	}
	select {
	case s.updates <- conv.clone():
	default:
	}
}

// asTransportError keeps typed errors and classifies the rest as transport failures
func asTransportError(err error, reason string) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(ErrorTransport, reason, err)
}
