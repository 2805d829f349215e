package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore keeps dev server conversations as one JSON file each
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// EnsureDataDir ensures the data directory exists.
// Creates the directory with 0755 permissions if it doesn't exist.
func (s *FileStore) EnsureDataDir() error {
	return os.MkdirAll(s.dir, 0755)
}

// GetConversationPath returns the file path for a conversation.
func (s *FileStore) GetConversationPath(conversationID string) string {
	return filepath.Join(s.dir, conversationID+".json")
}

// CreateConversation creates a new conversation with the given ID.
// Initializes an empty conversation with default title and saves it to disk.
func (s *FileStore) CreateConversation(conversationID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation := &Conversation{
		ID:        conversationID,
		CreatedAt: time.Now().UTC(),
		Title:     "New Conversation",
		Messages:  []Message{},
	}

	if err := s.save(conversation); err != nil {
		return nil, err
	}

	return conversation, nil
}

// GetConversation loads a conversation from storage by ID.
// Returns nil without error if the conversation doesn't exist.
func (s *FileStore) GetConversation(conversationID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(conversationID)
}

// ListConversations lists all conversations with metadata only.
// Returns a slice of conversation metadata sorted by creation time (newest first).
// Silently skips invalid or unreadable files.
func (s *FileStore) ListConversations() ([]ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	// initialize with empty slice to avoid null in JSON
	conversations := make([]ConversationMetadata, 0)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}

		var conv Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			continue
		}

		conversations = append(conversations, ConversationMetadata{
			ID:           conv.ID,
			CreatedAt:    conv.CreatedAt,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].CreatedAt.After(conversations[j].CreatedAt)
	})

	return conversations, nil
}

// AddUserMessage appends a user message to a conversation.
func (s *FileStore) AddUserMessage(conversationID string, content string) error {
	return s.update(conversationID, func(conv *Conversation) {
		conv.Messages = append(conv.Messages, Message{
			Role:    RoleUser,
			Content: content,
		})
	})
}

// AddAssistantMessage adds an assistant message with all 3 stages.
func (s *FileStore) AddAssistantMessage(conversationID string, stage1 []Stage1Response, stage2 []Stage2Ranking, stage3 Stage3Response, metadata Metadata) error {
	return s.update(conversationID, func(conv *Conversation) {
		conv.Messages = append(conv.Messages, Message{
			Role:     RoleAssistant,
			Stage1:   stage1,
			Stage2:   stage2,
			Stage3:   &stage3,
			Metadata: &metadata,
		})
	})
}

// UpdateConversationTitle updates the title of a conversation.
func (s *FileStore) UpdateConversationTitle(conversationID string, title string) error {
	return s.update(conversationID, func(conv *Conversation) {
		conv.Title = title
	})
}

// update loads, modifies and saves a conversation under the store lock
func (s *FileStore) update(conversationID string, fn func(*Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, err := s.load(conversationID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}

	fn(conversation)
	return s.save(conversation)
}

func (s *FileStore) load(conversationID string) (*Conversation, error) {
	path := s.GetConversationPath(conversationID)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var conversation Conversation
	if err := json.Unmarshal(data, &conversation); err != nil {
		return nil, fmt.Errorf("failed to parse conversation JSON: %w", err)
	}
	if conversation.Messages == nil {
		conversation.Messages = []Message{}
	}

	return &conversation, nil
}

// save writes the conversation atomically via a temp file and rename
func (s *FileStore) save(conversation *Conversation) error {
	if err := s.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(conversation, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	path := s.GetConversationPath(conversation.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write conversation file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write conversation file: %w", err)
	}

	return nil
}
