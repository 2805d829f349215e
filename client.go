package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Upstream is the council server as seen by the store
type Upstream interface {
	ListConversations(ctx context.Context) ([]ConversationMetadata, error)
	CreateConversation(ctx context.Context) (*Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	SendMessageStream(ctx context.Context, conversationID, content string) (*EventStream, error)
	FetchRoster(ctx context.Context) (Roster, error)
}

// maxErrorBodySize bounds how much of an error response is read
const maxErrorBodySize = 64 << 10

// APIClient talks to the council server over HTTP
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// ClientOption configures an APIClient
type ClientOption func(*APIClient)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// WithRequestTimeout bounds every non-streaming call
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *APIClient) {
		c.timeout = timeout
	}
}

// NewAPIClient creates a client for the server at baseURL.
// The streaming call is never bounded by a timeout; cancel its context instead.
func NewAPIClient(baseURL string, opts ...ClientOption) *APIClient {
	c := &APIClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
		timeout:    RequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListConversations lists all conversations with metadata only.
// GET /api/conversations
func (c *APIClient) ListConversations(ctx context.Context) ([]ConversationMetadata, error) {
	var conversations []ConversationMetadata
	if err := c.getJSON(ctx, "/api/conversations", &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// CreateConversation creates a new, empty conversation.
// POST /api/conversations
func (c *APIClient) CreateConversation(ctx context.Context) (*Conversation, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/api/conversations", struct{}{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var conversation Conversation
	if err := decodeResponse(resp, &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

// GetConversation fetches a conversation with all its messages.
// GET /api/conversations/:id
func (c *APIClient) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var conversation Conversation
	if err := c.getJSON(ctx, "/api/conversations/"+url.PathEscape(conversationID), &conversation); err != nil {
		return nil, err
	}
	if conversation.Messages == nil {
		conversation.Messages = []Message{}
	}
	return &conversation, nil
}

// SendMessageStream posts a message and returns the event stream of the answer.
// POST /api/conversations/:id/message/stream
func (c *APIClient) SendMessageStream(ctx context.Context, conversationID, content string) (*EventStream, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/message/stream"
	resp, err := c.do(ctx, http.MethodPost, path, SendMessageRequest{Content: content})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, errorFromResponse(resp)
	}
	return NewEventStream(resp.Body), nil
}

// FetchRoster asks the server which models sit on the council.
// GET /api/config
func (c *APIClient) FetchRoster(ctx context.Context) (Roster, error) {
	var roster Roster
	if err := c.getJSON(ctx, "/api/config", &roster); err != nil {
		return Roster{}, err
	}
	return roster, nil
}

func (c *APIClient) getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, v)
}

func (c *APIClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// do sends a request; a non-nil body is sent as JSON
func (c *APIClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(ErrorTransport, "request_failed", err)
	}
	return resp, nil
}

// decodeResponse decodes a 2xx JSON body into v or maps the failure
func decodeResponse(resp *http.Response, v any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return newError(ErrorTransport, "invalid_response_body", err)
	}
	return nil
}

// errorFromResponse maps a non-2xx response onto the error taxonomy
func errorFromResponse(resp *http.Response) *Error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var body APIErrorBody
	_ = json.Unmarshal(bodyBytes, &body)
	detail := body.Error
	reason := detail.MessageEN
	if reason == "" {
		reason = detail.Message
	}
	if reason == "" {
		reason = strings.TrimSpace(string(bodyBytes))
	}
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	e := &Error{
		Reason: reason,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("API returned status %d", resp.StatusCode),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Code = ErrorRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusNotFound:
		e.Code = ErrorNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		switch ErrorCode(detail.Code) {
		case ErrorContentTooLong:
			e.Code = ErrorContentTooLong
			if n, ok := detail.Details["max_length"].(float64); ok {
				e.MaxLength = int(n)
			}
		case ErrorContentEmpty:
			e.Code = ErrorContentEmpty
		default:
			e.Code = ErrorValidation
		}
	default:
		e.Code = ErrorAPI
	}
	return e
}

// parseRetryAfter understands the delay-seconds form of Retry-After
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
