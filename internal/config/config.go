// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	PublicationsCSV string
	JWTSecret       string
	TokenTTL        time.Duration
	QueryTimeout    time.Duration
	Conversation    ConversationConfig
	Stream          StreamConfig
	RateLimit       RateLimitConfig
	LLM             LLMConfig
}

// ConversationConfig controls per-user conversation history.
type ConversationConfig struct {
	Window      int // messages handed to the synthesizer per query
	MaxRetained int // messages kept in memory per user
}

// StreamConfig controls per-query event streams.
type StreamConfig struct {
	BufferSize        int
	HeartbeatInterval time.Duration
}

// RateLimitConfig throttles query submissions per caller.
type RateLimitConfig struct {
	Requests int // submissions allowed per window
	Window   time.Duration
}

// LLMConfig locates the language model behind the synthesis engine. An empty
// APIKey switches the engine to template-only answers.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/chimera.db"),
		PublicationsCSV: getEnv("PUBLICATIONS_CSV", "./data/publications.csv"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		TokenTTL:        getEnvDuration("TOKEN_TTL", 24*time.Hour),
		QueryTimeout:    getEnvDuration("QUERY_TIMEOUT", 60*time.Second),
		Conversation: ConversationConfig{
			Window:      getEnvInt("CONVERSATION_WINDOW", 5),
			MaxRetained: getEnvInt("CONVERSATION_MAX_RETAINED", 50),
		},
		Stream: StreamConfig{
			BufferSize:        getEnvInt("STREAM_BUFFER_SIZE", 16),
			HeartbeatInterval: getEnvDuration("STREAM_HEARTBEAT_INTERVAL", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
			APIKey:  getEnv("GEMINI_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "gemini-2.0-flash"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT must be > 0")
	}
	if c.Conversation.Window <= 0 {
		return fmt.Errorf("CONVERSATION_WINDOW must be > 0")
	}
	if c.Conversation.MaxRetained < c.Conversation.Window {
		return fmt.Errorf("CONVERSATION_MAX_RETAINED must be >= CONVERSATION_WINDOW")
	}
	if c.Stream.BufferSize <= 0 {
		return fmt.Errorf("STREAM_BUFFER_SIZE must be > 0")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
