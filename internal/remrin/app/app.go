// Package app wires all Remrin subsystems: SQLite storage, the persona
// repository, the embedding, chat and image clients, the tool registries,
// the turn service and its transports (HTTP API and optional Matrix).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdobrica/Remrin/common/redact"
	"github.com/bdobrica/Remrin/common/spec/persona"
	"github.com/bdobrica/Remrin/common/spec/turnapi"
	"github.com/bdobrica/Remrin/common/version"
	"github.com/bdobrica/Remrin/internal/remrin/cache"
	"github.com/bdobrica/Remrin/internal/remrin/control"
	"github.com/bdobrica/Remrin/internal/remrin/embedding"
	"github.com/bdobrica/Remrin/internal/remrin/facts"
	"github.com/bdobrica/Remrin/internal/remrin/images"
	"github.com/bdobrica/Remrin/internal/remrin/llm"
	"github.com/bdobrica/Remrin/internal/remrin/locket"
	"github.com/bdobrica/Remrin/internal/remrin/matrix"
	"github.com/bdobrica/Remrin/internal/remrin/memory"
	"github.com/bdobrica/Remrin/internal/remrin/observability"
	"github.com/bdobrica/Remrin/internal/remrin/orchestrator"
	"github.com/bdobrica/Remrin/internal/remrin/personas"
	"github.com/bdobrica/Remrin/internal/remrin/quota"
	"github.com/bdobrica/Remrin/internal/remrin/store"
	"github.com/bdobrica/Remrin/internal/remrin/tools"
	"github.com/bdobrica/Remrin/internal/remrin/turn"
)

// Options override collaborators that New would otherwise build from
// Config. Zero values keep the defaults.
type Options struct {
	Logger    *slog.Logger
	Completer llm.Completer
	Embedder  embedding.Embedder
	Images    images.Generator
}

// App is a wired Remrin instance.
type App struct {
	cfg       *Config
	logger    *slog.Logger
	db        *store.Store
	personas  *personas.Repository
	memory    *memory.SQLiteStore
	locket    *locket.SQLiteStore
	service   *turn.Service
	server    *control.Server
	matrixCli *matrix.Client
	bridge    *matrix.Bridge
	startedAt time.Time
}

// New opens the database, imports REMRIN_PERSONA_DIR and builds every
// subsystem. Nothing listens until Run.
func New(cfg *Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Setup(cfg.LogLevel, cfg.LogFormat)
	}

	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ttl := cfg.PersonaCacheTTL
	if ttl <= 0 {
		ttl = DefaultPersonaCacheTTL
	}
	personaCache, err := cache.New[string, *persona.Config](cache.DefaultSize, ttl, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persona cache: %w", err)
	}
	repo := personas.NewRepository(db.DB(), personaCache, logger)
	if cfg.PersonaDir != "" {
		if _, err := repo.LoadDir(context.Background(), cfg.PersonaDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("load personas: %w", err)
		}
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		personas:  repo,
		memory:    memory.NewSQLiteStore(db.DB(), logger),
		locket:    locket.NewSQLiteStore(db.DB()),
		startedAt: time.Now(),
	}

	completer := opts.Completer
	if completer == nil {
		if cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "" {
			logger.Warn("LLM_API_KEY and LLM_BASE_URL are unset; model calls will fail")
		}
		completer = llm.NewOpenAI(cfg.LLM)
	}
	embedder := opts.Embedder
	if embedder == nil {
		embedder = buildEmbedder(cfg.Embedding, logger)
	}
	gen := opts.Images
	if gen == nil && cfg.Images.BaseURL != "" {
		gen = images.NewClient(cfg.Images)
	}
	logger.Info("providers configured",
		"llm_base", cfg.LLM.BaseURL,
		"llm_model", cfg.LLM.Model,
		"llm_key", redact.Secret(cfg.LLM.APIKey),
		"embedding_url", cfg.Embedding.URL,
		"images", gen != nil,
	)

	var limiter *quota.Limiter
	if cfg.DailyQuota > 0 {
		limiter = quota.NewLimiter(cfg.DailyQuota, quota.DefaultWindow, nil)
	}

	a.service, err = turn.NewService(turn.Deps{
		Personas:     repo,
		Embedder:     embedder,
		Memory:       a.memory,
		Locket:       a.locket,
		Facts:        facts.NewSQLiteStore(db.DB()),
		Orchestrator: orchestrator.New(completer, orchestrator.Options{Logger: logger}),
		ToolSets:     buildToolSets(logger, gen, repo),
		Persister:    turn.NewSQLitePersister(db.DB()),
		Quota:        limiter,
		TurnLog:      store.NewTurnLog(db.DB()),
		Logger:       logger,
	}, turn.Config{Model: cfg.LLM.Model, MaxTokens: cfg.LLMMaxTokens})
	if err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Matrix.Homeserver != "" {
		mcfg := cfg.Matrix
		mcfg.DB = db.DB()
		a.matrixCli, err = matrix.New(mcfg, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init matrix: %w", err)
		}
		a.bridge = matrix.NewBridge(cfg.MatrixRooms, a.matrixTurn, a.matrixCli, logger)
	}

	a.server = control.New(cfg.HTTPAddr, control.Handlers{
		Version:     version.Version,
		StartedAt:   a.startedAt,
		Token:       cfg.APIToken,
		TurnTimeout: cfg.TurnTimeout,
		HandleTurn: func(ctx context.Context, req turnapi.TurnRequest) (*turnapi.TurnResponse, error) {
			return a.service.Handle(ctx, req, "http")
		},
		InvalidatePersona: repo.Invalidate,
		PersonaCacheSize:  repo.CacheLen,
		Transports:        a.transports,
		Logger:            logger,
	})
	return a, nil
}

func buildEmbedder(cfg embedding.Config, logger *slog.Logger) embedding.Embedder {
	if cfg.URL == "" {
		logger.Warn("EMBEDDING_BASE_URL is unset; memory retrieval is disabled")
		return embedding.Disabled{}
	}
	return embedding.NewHTTPClient(cfg)
}

func buildToolSets(logger *slog.Logger, gen images.Generator, forge tools.ForgeStore) map[persona.ToolSet]orchestrator.Executor {
	return map[persona.ToolSet]orchestrator.Executor{
		persona.ToolSetConversation: tools.Conversation(tools.New(logger)),
		persona.ToolSetForge:        tools.Forge(tools.New(logger), gen, forge),
	}
}

// Turn runs one turn in-process. remrinctl chat uses it.
func (a *App) Turn(ctx context.Context, req turnapi.TurnRequest, source string) (*turnapi.TurnResponse, error) {
	return a.service.Handle(ctx, req, source)
}

// Personas returns the persona repository.
func (a *App) Personas() *personas.Repository { return a.personas }

// Locket returns the locket store.
func (a *App) Locket() *locket.SQLiteStore { return a.locket }

// Memory returns the memory store.
func (a *App) Memory() *memory.SQLiteStore { return a.memory }

// Handler exposes the HTTP API handler for httptest.
func (a *App) Handler() http.Handler { return a.server.Handler() }

func (a *App) matrixTurn(ctx context.Context, req turnapi.TurnRequest) (*turnapi.TurnResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.turnTimeout())
	defer cancel()
	return a.service.Handle(ctx, req, "matrix")
}

func (a *App) turnTimeout() time.Duration {
	if a.cfg.TurnTimeout > 0 {
		return a.cfg.TurnTimeout
	}
	return control.DefaultTurnTimeout
}

func (a *App) transports() []string {
	out := []string{}
	if a.cfg.HTTPAddr != "" {
		out = append(out, "http")
	}
	if a.matrixCli != nil {
		out = append(out, "matrix")
	}
	return out
}

// Run starts the transports and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the transports and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if a.cfg.HTTPAddr == "" && a.matrixCli == nil {
		return errors.New("no transport configured: set REMRIN_HTTP_ADDR or MATRIX_HOMESERVER")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.HTTPAddr != "" {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("start http api: %w", err)
		}
	}
	if a.matrixCli != nil {
		if err := a.matrixCli.Start(ctx, a.bridge.Rooms(), a.bridge.HandleEvent); err != nil {
			return fmt.Errorf("start matrix: %w", err)
		}
	}
	if a.cfg.WatchPersonas && a.cfg.PersonaDir != "" {
		if err := a.personas.Watch(ctx, a.cfg.PersonaDir, personas.DefaultWatchDebounce); err != nil {
			a.logger.Warn("persona hot reload disabled", "err", err)
		}
	}

	a.logger.Info("Remrin started", "version", version.Version, "transports", a.transports())
	<-ctx.Done()
	a.logger.Info("shutting down")
	a.Stop()
	return nil
}

// Stop shuts down all subsystems.
func (a *App) Stop() {
	if a.matrixCli != nil {
		a.matrixCli.Stop()
	}
	a.server.Stop()
	a.Close()
}

// Close releases the database. Use it when the App was never Run.
func (a *App) Close() error {
	return a.db.Close()
}
