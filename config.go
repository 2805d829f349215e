package main

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Configuration values
var (
	// APIBaseURL is the council server the client talks to
	APIBaseURL = "http://localhost:8008"

	// MaxMessageLength mirrors the server-side content limit (in characters)
	MaxMessageLength = 1000

	// DefaultRoster is used when the server does not publish its roster.
	// Empty unless COUNCIL_MODELS / CHAIRMAN_MODEL are set.
	DefaultRoster = Roster{}

	// ConversationListTTL is how long the cached conversation list is trusted
	ConversationListTTL = 30 * time.Second

	// RequestTimeout bounds the non-streaming API calls
	RequestTimeout = 30 * time.Second

	// Dev server settings
	DevServerAddr = ":8008"
	DataDir       = "data/conversations"

	// CORS allowed origins for the dev server.
	// In development (empty/default), allows any localhost port
	CORSAllowedOrigins = []string{}

	// MaxRequestBodySize is the maximum allowed request body size (1MB)
	MaxRequestBodySize int64 = 1 << 20

	// Dev server rate limit: RateLimitBurst messages, refilled every RateLimitInterval
	RateLimitInterval   = 6 * time.Second
	RateLimitBurst      = 10
	RateLimitRetryAfter = 60 * time.Second

	// DevServerStageDelay pauses the scripted council between stages
	DevServerStageDelay time.Duration

	DevServerDefaultCouncil = []string{
		"deepseek/deepseek-chat-v3.1",
		"qwen/qwen3-14b",
		"x-ai/grok-4.1-fast",
		"kuaishou/kat-coder-pro-v1",
	}
	DevServerDefaultChairman = "deepseek/deepseek-chat-v3.1"
)

// LoadConfig loads configuration from .env files and environment variables
func LoadConfig() {
	envLocations := []string{
		".env",    // Current directory
		"../.env", // Parent directory
	}

	envLoaded := false
	for _, envPath := range envLocations {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				log.Printf("Loaded .env from: %s", absPath)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		log.Printf("No .env file found, using environment only")
	}

	if v := os.Getenv("COUNCIL_API_URL"); v != "" {
		APIBaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("MAX_MESSAGE_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Printf("Warning: ignoring invalid MAX_MESSAGE_LENGTH %q", v)
		} else {
			MaxMessageLength = n
		}
	}

	if v := os.Getenv("COUNCIL_MODELS"); v != "" {
		DefaultRoster.CouncilModels = splitList(v)
	}
	if v := os.Getenv("CHAIRMAN_MODEL"); v != "" {
		DefaultRoster.ChairmanModel = strings.TrimSpace(v)
	}

	if v := os.Getenv("DEV_SERVER_ADDR"); v != "" {
		DevServerAddr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		DataDir = v
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		CORSAllowedOrigins = splitList(corsOrigins)
	}

	log.Println("Configuration loaded successfully")
}

// splitList splits a comma separated list, dropping empty entries
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
