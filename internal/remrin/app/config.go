package app

import (
	"fmt"
	"time"

	"github.com/bdobrica/Remrin/common/environment"
	"github.com/bdobrica/Remrin/common/retry"
	"github.com/bdobrica/Remrin/internal/remrin/control"
	"github.com/bdobrica/Remrin/internal/remrin/embedding"
	"github.com/bdobrica/Remrin/internal/remrin/images"
	"github.com/bdobrica/Remrin/internal/remrin/llm"
	"github.com/bdobrica/Remrin/internal/remrin/matrix"
	"github.com/bdobrica/Remrin/internal/remrin/quota"
)

// Config holds the service configuration. ConfigFromEnv loads it from the
// environment; tests build it directly.
type Config struct {
	// DatabasePath is the path to the SQLite database file.
	DatabasePath string
	// HTTPAddr is the listen address of the HTTP API. Empty disables it.
	HTTPAddr string
	// APIToken, when set, is required as a bearer token by the HTTP API.
	APIToken string
	// PersonaDir, when set, is imported at boot.
	PersonaDir string
	// WatchPersonas re-imports PersonaDir documents as they change.
	WatchPersonas bool

	TurnTimeout     time.Duration
	PersonaCacheTTL time.Duration
	// DailyQuota is the number of turns per user per 24h. Zero disables it.
	DailyQuota int

	LogLevel  string
	LogFormat string

	// Embedding is disabled when URL is empty; retrieval is then skipped.
	Embedding embedding.Config
	LLM       llm.OpenAIConfig
	// LLMMaxTokens caps every persona's max_tokens when positive.
	LLMMaxTokens int
	// Images is disabled when BaseURL is empty; the portrait tool then
	// reports that generation is not configured.
	Images images.Config

	// Matrix is enabled when Homeserver is set.
	Matrix matrix.Config
	// MatrixRooms maps room IDs to persona IDs.
	MatrixRooms map[string]string
}

const (
	DefaultDatabasePath    = "/data/remrin.db"
	DefaultHTTPAddr        = ":8080"
	DefaultPersonaCacheTTL = 5 * time.Minute
	DefaultLLMModel        = "gpt-4o-mini"
)

// ConfigFromEnv reads the REMRIN_*, EMBEDDING_*, LLM_*, IMAGE_* and MATRIX_*
// variables. Matrix credentials become required once MATRIX_HOMESERVER is
// set.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		DatabasePath:    environment.StringOr("REMRIN_DB_PATH", DefaultDatabasePath),
		HTTPAddr:        environment.StringOr("REMRIN_HTTP_ADDR", DefaultHTTPAddr),
		APIToken:        environment.StringOr("REMRIN_API_TOKEN", ""),
		PersonaDir:      environment.StringOr("REMRIN_PERSONA_DIR", ""),
		WatchPersonas:   environment.BoolOr("REMRIN_PERSONA_WATCH", false),
		TurnTimeout:     environment.DurationOr("REMRIN_TURN_TIMEOUT", control.DefaultTurnTimeout),
		PersonaCacheTTL: environment.DurationOr("REMRIN_PERSONA_CACHE_TTL", DefaultPersonaCacheTTL),
		DailyQuota:      environment.IntOr("REMRIN_DAILY_QUOTA", quota.DefaultDailyQuota),
		LogLevel:        environment.StringOr("LOG_LEVEL", "info"),
		LogFormat:       environment.StringOr("LOG_FORMAT", "text"),
		Embedding: embedding.Config{
			URL:        environment.StringOr("EMBEDDING_BASE_URL", ""),
			APIKey:     environment.StringOr("EMBEDDING_API_KEY", ""),
			Model:      environment.StringOr("EMBEDDING_MODEL", ""),
			Protocol:   embedding.Protocol(environment.StringOr("EMBEDDING_PROTOCOL", string(embedding.ProtocolVector))),
			Dimensions: environment.IntOr("EMBEDDING_DIMENSIONS", embedding.DefaultDimensions),
			Timeout:    environment.DurationOr("EMBEDDING_TIMEOUT", 0),
		},
		LLM: llm.OpenAIConfig{
			APIKey:  environment.StringOr("LLM_API_KEY", ""),
			BaseURL: environment.StringOr("LLM_BASE_URL", ""),
			Model:   environment.StringOr("LLM_MODEL", DefaultLLMModel),
			Timeout: environment.DurationOr("LLM_TIMEOUT", 0),
		},
		LLMMaxTokens: environment.IntOr("LLM_MAX_TOKENS", 0),
		Images: images.Config{
			BaseURL: environment.StringOr("IMAGE_BASE_URL", ""),
			APIKey:  environment.StringOr("IMAGE_API_KEY", ""),
			Model:   environment.StringOr("IMAGE_MODEL", ""),
		},
	}
	if n := environment.IntOr("LLM_MAX_ATTEMPTS", 0); n > 0 {
		cfg.LLM.Retry = retry.DefaultConfig
		cfg.LLM.Retry.MaxAttempts = n
	}

	switch cfg.Embedding.Protocol {
	case embedding.ProtocolVector, embedding.ProtocolOpenAI:
	default:
		return nil, fmt.Errorf("config: EMBEDDING_PROTOCOL %q is not one of vector, openai", cfg.Embedding.Protocol)
	}

	if hs := environment.StringOr("MATRIX_HOMESERVER", ""); hs != "" {
		req := environment.NewReader()
		cfg.Matrix = matrix.Config{
			Homeserver:  hs,
			UserID:      req.Required("MATRIX_USER_ID"),
			AccessToken: req.Required("MATRIX_ACCESS_TOKEN"),
		}
		if err := req.Err(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		rooms, err := environment.Pairs("MATRIX_ROOMS")
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.MatrixRooms = rooms
	}
	return cfg, nil
}
