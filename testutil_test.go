package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestHelper provides utilities for tests
type TestHelper struct {
	t       *testing.T
	tempDir string
}

// NewTestHelper creates a new test helper
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTempDir creates a temporary directory for testing
func (h *TestHelper) CreateTempDir() string {
	tempDir, err := os.MkdirTemp("", "council-client-test-*")
	if err != nil {
		h.t.Fatalf("Failed to create temp dir: %v", err)
	}
	h.tempDir = tempDir
	return tempDir
}

// Cleanup removes the temporary directory
func (h *TestHelper) Cleanup() {
	if h.tempDir != "" {
		os.RemoveAll(h.tempDir)
	}
}

// WriteJSONFile writes JSON data to a file in the temp directory
func (h *TestHelper) WriteJSONFile(filename string, data any) string {
	if h.tempDir == "" {
		h.CreateTempDir()
	}

	path := filepath.Join(h.tempDir, filename)
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		h.t.Fatalf("Failed to marshal JSON: %v", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		h.t.Fatalf("Failed to write file: %v", err)
	}

	return path
}

// ReadJSONFile reads and unmarshals JSON from a file
func (h *TestHelper) ReadJSONFile(path string, v any) {
	data, err := os.ReadFile(path)
	if err != nil {
		h.t.Fatalf("Failed to read file: %v", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		h.t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
}

// AssertEqual checks if two comparable values are equal
func (h *TestHelper) AssertEqual(got, want any, message string) {
	h.t.Helper()
	if got != want {
		h.t.Errorf("%s: got %v, want %v", message, got, want)
	}
}

// AssertNoError checks if an error is nil
func (h *TestHelper) AssertNoError(err error, message string) {
	h.t.Helper()
	if err != nil {
		h.t.Errorf("%s: unexpected error: %v", message, err)
	}
}

// AssertError checks if an error is not nil
func (h *TestHelper) AssertError(err error, message string) {
	h.t.Helper()
	if err == nil {
		h.t.Errorf("%s: expected error, got nil", message)
	}
}

// AssertCode checks the error code carried by err
func (h *TestHelper) AssertCode(err error, want ErrorCode, message string) {
	h.t.Helper()
	if got := ErrorCodeOf(err); got != want {
		h.t.Errorf("%s: error code = %q, want %q (err: %v)", message, got, want, err)
	}
}

// SampleConversation creates a sample conversation for testing
func SampleConversation(id string) *Conversation {
	return &Conversation{
		ID:        id,
		CreatedAt: testTime(),
		Title:     "Test Conversation",
		Messages: []Message{
			{
				Role:    RoleUser,
				Content: "What is Go?",
			},
			{
				Role: RoleAssistant,
				Stage1: []Stage1Response{
					{Model: "test/model1", Response: "Go is a programming language."},
					{Model: "test/model2", Response: "Go is developed by Google."},
				},
				Stage2: []Stage2Ranking{
					{
						Model:         "test/model1",
						Ranking:       "Response B is precise.\n\nFINAL RANKING:\n1. Response B\n2. Response A",
						ParsedRanking: []string{"Response B", "Response A"},
					},
				},
				Stage3: &Stage3Response{
					Model:    "test/chairman",
					Response: "Go is a programming language developed by Google.",
				},
				Metadata: &Metadata{
					LabelToModel: map[string]string{
						"Response A": "test/model1",
						"Response B": "test/model2",
					},
					AggregateRankings: []AggregateRanking{
						{Model: "test/model2", AverageRank: 1, RankingsCount: 1},
						{Model: "test/model1", AverageRank: 2, RankingsCount: 1},
					},
				},
			},
		},
	}
}

// testTime returns a fixed time for testing
func testTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// sseBody renders events as a server would put them on the wire
func sseBody(events ...any) string {
	var b strings.Builder
	for _, ev := range events {
		if s, ok := ev.(string); ok {
			b.WriteString(s)
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			panic(err)
		}
		fmt.Fprintf(&b, "data: %s\n\n", data)
	}
	return b.String()
}

// fullExchange is a complete, well-formed answer stream
func fullExchange() string {
	return sseBody(
		map[string]any{"type": "stage1_start"},
		map[string]any{"type": "stage1_complete", "data": []Stage1Response{
			{Model: "openai/gpt-4o", Response: "Answer one"},
			{Model: "anthropic/claude", Response: "Answer two"},
		}},
		map[string]any{"type": "stage2_start"},
		map[string]any{"type": "stage2_complete",
			"data": []Stage2Ranking{
				{Model: "openai/gpt-4o", Ranking: "FINAL RANKING:\n1. Response B\n2. Response A", ParsedRanking: []string{"Response B", "Response A"}},
			},
			"metadata": Metadata{
				LabelToModel:      map[string]string{"Response A": "openai/gpt-4o", "Response B": "anthropic/claude"},
				AggregateRankings: []AggregateRanking{{Model: "anthropic/claude", AverageRank: 1, RankingsCount: 1}},
			},
		},
		map[string]any{"type": "stage3_start"},
		map[string]any{"type": "stage3_complete", "data": Stage3Response{Model: "openai/gpt-4o", Response: "Final answer"}},
		map[string]any{"type": "title_complete", "data": map[string]string{"title": "A question"}},
		map[string]any{"type": "complete"},
	)
}

// chunkedBody returns the chunks one Read at a time, then err (io.EOF if nil)
type chunkedBody struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	closed bool
}

func newChunkedBody(err error, chunks ...string) *chunkedBody {
	b := &chunkedBody{err: err}
	for _, c := range chunks {
		b.chunks = append(b.chunks, []byte(c))
	}
	return b
}

// splitEvery cuts s into pieces of n bytes
func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errors.New("read on closed body")
	}
	if len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *chunkedBody) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// fakeUpstream is an in-memory Upstream. Each SendMessageStream call
// consumes the next scripted stream.
type fakeUpstream struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	streams       []io.ReadCloser
	sendErr       error
	listErr       error
	roster        Roster
	rosterErr     error

	sendCalls int
	listCalls int
	sent      []string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{conversations: make(map[string]*Conversation)}
}

func (f *fakeUpstream) script(bodies ...io.ReadCloser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, bodies...)
}

func (f *fakeUpstream) ListConversations(ctx context.Context) ([]ConversationMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []ConversationMetadata{}
	for _, c := range f.conversations {
		out = append(out, ConversationMetadata{ID: c.ID, CreatedAt: c.CreatedAt, Title: c.Title, MessageCount: len(c.Messages)})
	}
	return out, nil
}

func (f *fakeUpstream) CreateConversation(ctx context.Context) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := fmt.Sprintf("conv-%d", len(f.conversations)+1)
	c := &Conversation{ID: id, CreatedAt: testTime(), Title: "New Conversation", Messages: []Message{}}
	f.conversations[id] = c
	return c, nil
}

func (f *fakeUpstream) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.conversations[conversationID]
	if !ok {
		return nil, newError(ErrorNotFound, "Conversation not found", nil)
	}
	out := c.clone()
	return &out, nil
}

func (f *fakeUpstream) SendMessageStream(ctx context.Context, conversationID, content string) (*EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sendCalls++
	f.sent = append(f.sent, content)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if len(f.streams) == 0 {
		return nil, errors.New("no scripted stream")
	}
	body := f.streams[0]
	f.streams = f.streams[1:]
	return NewEventStream(body), nil
}

func (f *fakeUpstream) FetchRoster(ctx context.Context) (Roster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roster, f.rosterErr
}

func (f *fakeUpstream) calls() (send, list int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls, f.listCalls
}
