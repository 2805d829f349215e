package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DevServer is a local council server with a scripted council.
// It speaks the same HTTP and event stream protocol as the real backend.
type DevServer struct {
	storage    *FileStore
	council    *Council
	roster     Roster
	limiter    *clientLimiter
	stageDelay time.Duration
	router     *gin.Engine
}

// NewDevServer creates a dev server storing conversations in storage
func NewDevServer(storage *FileStore, roster Roster, responder Responder) *DevServer {
	s := &DevServer{
		storage:    storage,
		council:    NewCouncil(roster, responder),
		roster:     roster,
		limiter:    newClientLimiter(rate.Every(RateLimitInterval), RateLimitBurst),
		stageDelay: DevServerStageDelay,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler of the server
func (s *DevServer) Handler() http.Handler {
	return s.router
}

// Run serves on addr until the server fails
func (s *DevServer) Run(addr string) error {
	if err := s.storage.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	log.Printf("Starting council dev server on %s...", addr)
	return s.router.Run(addr)
}

func (s *DevServer) routes() *gin.Engine {
	router := gin.Default()

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	router.Use(cors.New(cors.Config{
		AllowOriginFunc:  allowOrigin,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Retry-After"},
		AllowCredentials: true,
	}))

	router.GET("/", s.healthCheck)
	router.GET("/api/config", s.configHandler)
	router.GET("/api/conversations", s.listConversationsHandler)
	router.POST("/api/conversations", s.createConversationHandler)
	router.GET("/api/conversations/:id", s.getConversationHandler)
	router.POST("/api/conversations/:id/message/stream", s.rateLimit, s.sendMessageStreamHandler)

	return router
}

// allowOrigin accepts the configured origins, or any localhost origin when
// none are configured
func allowOrigin(origin string) bool {
	if len(CORSAllowedOrigins) > 0 {
		return slices.Contains(CORSAllowedOrigins, origin)
	}
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
}

// healthCheck returns a simple health check response.
// GET /
func (s *DevServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Council dev server",
	})
}

// configHandler publishes the council roster.
// GET /api/config
func (s *DevServer) configHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.roster)
}

// listConversationsHandler lists all conversations with metadata only.
// GET /api/conversations
func (s *DevServer) listConversationsHandler(c *gin.Context) {
	conversations, err := s.storage.ListConversations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list conversations: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// createConversationHandler creates a new conversation.
// POST /api/conversations
func (s *DevServer) createConversationHandler(c *gin.Context) {
	conversation, err := s.storage.CreateConversation(uuid.New().String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create conversation: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// getConversationHandler gets a specific conversation by ID.
// GET /api/conversations/:id
func (s *DevServer) getConversationHandler(c *gin.Context) {
	conversation, err := s.storage.GetConversation(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		apiError(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// sendMessageStreamHandler sends a message and streams the council process.
// POST /api/conversations/:id/message/stream
// Events: stage1_start, stage1_complete, stage2_start, stage2_complete,
// stage3_start, stage3_complete, title_complete, complete, error.
func (s *DevServer) sendMessageStreamHandler(c *gin.Context) {
	conversationID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		apiError(c, http.StatusBadRequest, string(ErrorValidation), fmt.Sprintf("Invalid request: %v", err), nil)
		return
	}
	if !s.validateContent(c, request.Content) {
		return
	}

	conversation, err := s.storage.GetConversation(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		apiError(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
		return
	}

	question := strings.TrimSpace(request.Content)
	isFirstMessage := len(conversation.Messages) == 0

	if err := s.storage.AddUserMessage(conversationID, question); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add user message: %v", err),
		})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	sendSSEComment(c, "stream open")

	ctx := c.Request.Context()

	// Start title generation in background if first message
	var titleChan chan string
	if isFirstMessage {
		titleChan = make(chan string, 1)
		go func() {
			defer close(titleChan)
			title, err := s.council.GenerateConversationTitle(ctx, question)
			if err != nil || title == "" {
				log.Printf("Failed to generate title: %v", err)
				return
			}
			if err := s.storage.UpdateConversationTitle(conversationID, title); err != nil {
				log.Printf("Failed to save title: %v", err)
				return
			}
			titleChan <- title
		}()
	}

	// Stage 1
	sendSSEEvent(c, gin.H{"type": EventStage1Start})
	stage1, err := s.council.Stage1CollectResponses(ctx, question)
	if err != nil {
		sendSSEError(c, fmt.Sprintf("Stage 1 failed: %v", err))
		return
	}
	sendSSEEvent(c, gin.H{"type": EventStage1Complete, "data": stage1})

	if !s.pause(ctx) {
		return
	}

	// Stage 2
	sendSSEEvent(c, gin.H{"type": EventStage2Start})
	stage2, labelToModel, err := s.council.Stage2CollectRankings(ctx, question, stage1)
	if err != nil {
		sendSSEError(c, fmt.Sprintf("Stage 2 failed: %v", err))
		return
	}
	metadata := Metadata{
		LabelToModel:      labelToModel,
		AggregateRankings: CalculateAggregateRankings(stage2, labelToModel),
	}
	sendSSEEvent(c, gin.H{"type": EventStage2Complete, "data": stage2, "metadata": metadata})

	if !s.pause(ctx) {
		return
	}

	// Stage 3
	sendSSEEvent(c, gin.H{"type": EventStage3Start})
	stage3, err := s.council.Stage3SynthesizeFinal(ctx, question, stage1, stage2)
	if err != nil {
		sendSSEError(c, fmt.Sprintf("Stage 3 failed: %v", err))
		return
	}
	sendSSEEvent(c, gin.H{"type": EventStage3Complete, "data": stage3})

	// Wait for title if it was being generated
	if titleChan != nil {
		if title := <-titleChan; title != "" {
			sendSSEEvent(c, gin.H{"type": EventTitleComplete, "data": gin.H{"title": title}})
		}
	}

	if err := s.storage.AddAssistantMessage(conversationID, stage1, stage2, *stage3, metadata); err != nil {
		sendSSEError(c, fmt.Sprintf("Failed to save message: %v", err))
		return
	}

	sendSSEEvent(c, gin.H{"type": EventComplete})
}

// validateContent writes a 400 response and returns false when content is
// empty or too long
func (s *DevServer) validateContent(c *gin.Context, content string) bool {
	if strings.TrimSpace(content) == "" {
		apiError(c, http.StatusBadRequest, string(ErrorContentEmpty), "Message content cannot be empty", nil)
		return false
	}
	if n := utf8.RuneCountInString(content); n > MaxMessageLength {
		apiError(c, http.StatusBadRequest, string(ErrorContentTooLong),
			fmt.Sprintf("Message too long (max %d characters)", MaxMessageLength),
			map[string]any{"max_length": MaxMessageLength, "length": n})
		return false
	}
	return true
}

// rateLimit rejects clients that send messages faster than the limiter allows
func (s *DevServer) rateLimit(c *gin.Context) {
	if s.limiter.Allow(c.ClientIP()) {
		c.Next()
		return
	}

	retryAfter := int(RateLimitRetryAfter / time.Second)
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	apiError(c, http.StatusTooManyRequests, serverRateLimitCode, "Too many requests, please slow down",
		map[string]any{"retry_after": retryAfter})
	c.Abort()
}

// pause waits between stages; false means the client went away
func (s *DevServer) pause(ctx context.Context) bool {
	if s.stageDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.stageDelay):
		return true
	}
}

// apiError writes the structured error body the client maps onto its codes
func apiError(c *gin.Context, status int, code, message string, details map[string]any) {
	c.JSON(status, APIErrorBody{Error: APIErrorDetail{
		Code:      code,
		Message:   message,
		MessageEN: message,
		Details:   details,
	}})
}

// sendSSEEvent sends a Server-Sent Event.
// Marshals data to JSON and writes as SSE format with "data: " prefix.
func sendSSEEvent(c *gin.Context, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to marshal SSE event: %v", err)
		return
	}
	c.Writer.WriteString(fmt.Sprintf("data: %s\n\n", string(jsonData)))
	c.Writer.Flush()
}

// sendSSEError sends an error event via SSE.
func sendSSEError(c *gin.Context, message string) {
	sendSSEEvent(c, gin.H{"type": EventError, "message": message})
}

// sendSSEComment writes an SSE comment line, which clients ignore
func sendSSEComment(c *gin.Context, text string) {
	c.Writer.WriteString(": " + text + "\n\n")
	c.Writer.Flush()
}

// clientLimiter keeps one token bucket per client address
type clientLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes a token for key
func (l *clientLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
