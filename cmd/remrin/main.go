// Remrin is the persona companion service binary.
//
// All configuration is loaded from environment variables. The service opens
// its SQLite database, imports persona documents from REMRIN_PERSONA_DIR and
// serves turns over the HTTP API and, when configured, Matrix rooms.
//
// Environment variables:
//
//	REMRIN_DB_PATH            - path to the SQLite database (default: /data/remrin.db)
//	REMRIN_HTTP_ADDR          - HTTP API listen address (default ":8080"; empty disables)
//	REMRIN_API_TOKEN          - bearer token required by the HTTP API
//	REMRIN_PERSONA_DIR        - directory of persona YAML documents imported at boot
//	REMRIN_PERSONA_WATCH      - "true" re-imports documents in that directory as they change
//	REMRIN_TURN_TIMEOUT       - per-turn deadline (default: 60s)
//	REMRIN_PERSONA_CACHE_TTL  - persona cache lifetime (default: 5m)
//	REMRIN_DAILY_QUOTA        - turns per user per 24h (default: 50; 0 disables)
//	EMBEDDING_BASE_URL        - embedding service URL (empty disables retrieval)
//	EMBEDDING_PROTOCOL        - "vector" (default) or "openai"
//	EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_DIMENSIONS, EMBEDDING_TIMEOUT
//	LLM_API_KEY               - API key for the chat completions provider
//	LLM_BASE_URL              - override the API base URL (e.g. for Ollama)
//	LLM_MODEL                 - model name (default: gpt-4o-mini)
//	LLM_MAX_TOKENS            - cap on every persona's max_tokens
//	LLM_TIMEOUT, LLM_MAX_ATTEMPTS
//	IMAGE_BASE_URL, IMAGE_API_KEY, IMAGE_MODEL
//	MATRIX_HOMESERVER         - enables the Matrix transport
//	MATRIX_USER_ID, MATRIX_ACCESS_TOKEN
//	MATRIX_ROOMS              - room=persona pairs, comma separated
//	LOG_LEVEL                 - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT                - "text" or "json" (default: "text")
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bdobrica/Remrin/internal/remrin/app"
)

func main() {
	cfg, err := app.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	remrin, err := app.New(cfg, app.Options{})
	if err != nil {
		slog.Error("failed to initialize Remrin", "err", err)
		os.Exit(1)
	}

	if err := remrin.Run(); err != nil {
		slog.Error("Remrin exited with error", "err", err)
		os.Exit(1)
	}
}
