// Package turn runs the per-message pipeline: gather context, compile the
// prompt, run the tool loop, strip save markers and persist the turn.
//
// Context reads (embedding plus memory search, locket, shared facts and the
// relationship count) are independent and run concurrently. Each one that
// fails is recorded as degraded and the turn continues without it. Only a
// model failure or a failed write of the turn itself is fatal.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Remrin/common/spec/persona"
	"github.com/bdobrica/Remrin/common/spec/turnapi"
	"github.com/bdobrica/Remrin/common/trace"
	"github.com/bdobrica/Remrin/internal/remrin/embedding"
	"github.com/bdobrica/Remrin/internal/remrin/facts"
	"github.com/bdobrica/Remrin/internal/remrin/keylock"
	"github.com/bdobrica/Remrin/internal/remrin/locket"
	"github.com/bdobrica/Remrin/internal/remrin/memory"
	"github.com/bdobrica/Remrin/internal/remrin/observability"
	"github.com/bdobrica/Remrin/internal/remrin/orchestrator"
	"github.com/bdobrica/Remrin/internal/remrin/personas"
	"github.com/bdobrica/Remrin/internal/remrin/prompt"
	"github.com/bdobrica/Remrin/internal/remrin/quota"
	"github.com/bdobrica/Remrin/internal/remrin/relationship"
	"github.com/bdobrica/Remrin/internal/remrin/safety"
	"github.com/bdobrica/Remrin/internal/remrin/store"
	"github.com/bdobrica/Remrin/internal/remrin/tools"
)

const (
	// Apology is shown when the model cannot be reached.
	Apology = "The Soul Layer trembles... Please try again."
	// SavedOnlyReply replaces an empty reply whose only content was saves.
	SavedOnlyReply = "I'll remember that."

	DefaultForgeTemperature = 0.8
	DefaultReadTimeout      = 10 * time.Second
)

// Degraded context sources, reported in TurnResponse.Degraded.
const (
	DegradedEmbedding    = "embedding"
	DegradedMemorySearch = "memory_search"
	DegradedLocket       = "locket"
	DegradedSharedFacts  = "shared_facts"
	DegradedRelationship = "relationship"
)

// PersonaSource resolves personas and their access rules.
type PersonaSource interface {
	Get(ctx context.Context, id string) (*persona.Config, error)
	CheckAccess(ctx context.Context, cfg *persona.Config, userID string) error
}

// MemoryReader is the read side of memory.Store.
type MemoryReader interface {
	Search(ctx context.Context, query []float32, personaID, userID string, threshold float64, limit int) ([]memory.Match, error)
	CountMessages(ctx context.Context, userID, personaID string) (int, error)
}

// LocketReader lists the entries a user may see for a persona.
type LocketReader interface {
	ListForScope(ctx context.Context, personaID, userID string) ([]locket.Entry, error)
}

// FactReader lists a user's shared facts.
type FactReader interface {
	ListForUser(ctx context.Context, userID string) ([]facts.Fact, error)
}

// TurnRecorder is the operator log of turns. *store.TurnLog implements it.
type TurnRecorder interface {
	Start(ctx context.Context, t store.TurnStart) error
	Finish(turnID string, f store.TurnFinish) error
}

// Deps are the collaborators of a Service. Quota and TurnLog may be nil.
type Deps struct {
	Personas     PersonaSource
	Embedder     embedding.Embedder
	Memory       MemoryReader
	Locket       LocketReader
	Facts        FactReader
	Compiler     *prompt.Compiler
	Orchestrator *orchestrator.Orchestrator
	// ToolSets maps a persona's tool set to its registry. A missing entry
	// means no tools.
	ToolSets     map[persona.ToolSet]orchestrator.Executor
	Persister    Persister
	Relationship *relationship.Evaluator
	Quota        *quota.Limiter
	TurnLog      TurnRecorder
	Logger       *slog.Logger
}

// Config tunes a Service.
type Config struct {
	// Model is used when the persona names none.
	Model            string
	Threshold        float64
	SearchLimit      int
	EmbedMaxRunes    int
	ForgeTemperature float64
	// MaxTokens, when positive, caps the persona's max_tokens.
	MaxTokens int
	// ReadTimeout bounds each context read and embedding call.
	ReadTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = memory.DefaultThreshold
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = memory.DefaultLimit
	}
	if c.EmbedMaxRunes <= 0 {
		c.EmbedMaxRunes = embedding.DefaultMaxInputRunes
	}
	if c.ForgeTemperature == 0 {
		c.ForgeTemperature = DefaultForgeTemperature
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
}

// Service handles turns. It is safe for concurrent use; turns of the same
// (user, persona) pair are serialized, all others run in parallel.
type Service struct {
	deps   Deps
	cfg    Config
	pairs  keylock.Map
	logger *slog.Logger
	now    func() time.Time
}

// NewService validates deps and returns a Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Personas == nil:
		return nil, errors.New("turn: personas source is required")
	case deps.Memory == nil || deps.Locket == nil || deps.Facts == nil:
		return nil, errors.New("turn: memory, locket and facts readers are required")
	case deps.Orchestrator == nil:
		return nil, errors.New("turn: orchestrator is required")
	case deps.Persister == nil:
		return nil, errors.New("turn: persister is required")
	}
	if deps.Embedder == nil {
		deps.Embedder = embedding.Disabled{}
	}
	if deps.Compiler == nil {
		deps.Compiler = prompt.NewCompiler(prompt.DefaultLimits)
	}
	if deps.Relationship == nil {
		deps.Relationship = relationship.Default
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Service{deps: deps, cfg: cfg, logger: deps.Logger, now: time.Now}, nil
}

// turnContext is what the concurrent reads produce.
type turnContext struct {
	mu          sync.Mutex
	queryVector []float32
	memories    []memory.Match
	locket      []string
	facts       []facts.Fact
	count       int
	degraded    []string
}

// abandon records a turn cut short by ctx and gives the quota slot back.
// A deadline still owes the user a reply; a caller that went away does not.
func (s *Service) abandon(ctx context.Context, finish *store.TurnFinish, userID, turnID string) error {
	finish.Status, finish.Err = store.TurnCancelled, ctx.Err().Error()
	if s.deps.Quota != nil {
		s.deps.Quota.Refund(userID)
	}
	reply := ""
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reply = Apology
	}
	return withTurn(turnapi.NewError(turnapi.CodeCancelled, reply), turnID)
}

func (tc *turnContext) degrade(source string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.degraded = append(tc.degraded, source)
}

// Handle runs one turn. Every error is a *turnapi.Error whose body may
// carry a reply safe to show the user.
func (s *Service) Handle(ctx context.Context, req turnapi.TurnRequest, source string) (*turnapi.TurnResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, turnapi.NewError(turnapi.CodeBadRequest, "")
	}

	ctx, traceID := trace.Ensure(ctx)
	turnID := uuid.NewString()
	log := observability.WithTrace(ctx, s.logger).With("turn_id", turnID, "user", req.UserID, "persona", req.PersonaID)
	started := s.now()

	cfg, err := s.deps.Personas.Get(ctx, req.PersonaID)
	if err != nil {
		if errors.Is(err, personas.ErrNotFound) {
			return nil, withTurn(turnapi.NewError(turnapi.CodeNotFound, ""), turnID)
		}
		log.Error("persona lookup failed", "err", err)
		return nil, withTurn(turnapi.NewError(turnapi.CodeInternal, Apology), turnID)
	}
	if err := s.deps.Personas.CheckAccess(ctx, cfg, req.UserID); err != nil {
		if errors.Is(err, personas.ErrAccessDenied) {
			log.Info("persona access denied")
			return nil, withTurn(turnapi.NewError(turnapi.CodeForbidden, ""), turnID)
		}
		log.Error("access check failed", "err", err)
		return nil, withTurn(turnapi.NewError(turnapi.CodeInternal, Apology), turnID)
	}
	if s.deps.Quota != nil && !s.deps.Quota.Allow(req.UserID) {
		log.Info("daily quota exceeded", "limit", s.deps.Quota.Limit())
		return nil, withTurn(turnapi.NewError(turnapi.CodeQuotaExceeded, quota.Message), turnID)
	}

	unlock := s.pairs.Lock(req.UserID + "\x00" + req.PersonaID)
	defer unlock()

	finish := store.TurnFinish{Status: store.TurnFailed}
	if s.deps.TurnLog != nil {
		if err := s.deps.TurnLog.Start(ctx, store.TurnStart{
			TurnID: turnID, TraceID: traceID, UserID: req.UserID, PersonaID: req.PersonaID,
			Source: source, StartedAt: started,
		}); err != nil {
			log.Warn("turn log start failed", "err", err)
		}
		defer func() {
			finish.Duration = s.now().Sub(started)
			if err := s.deps.TurnLog.Finish(turnID, finish); err != nil {
				log.Warn("turn log finish failed", "err", err)
			}
		}()
	}

	tc := s.gather(ctx, log, cfg, req)
	status := s.deps.Relationship.Evaluate(tc.count)

	systemPrompt := s.deps.Compiler.Compile(prompt.Input{
		Persona:      cfg,
		Locket:       tc.locket,
		Facts:        tc.facts,
		Memories:     tc.memories,
		Relationship: status,
		Safety:       safety.DirectiveFor(cfg.SafetyLevel),
	})

	effects := &tools.Effects{}
	toolCtx := tools.WithEffects(tools.WithScope(ctx, tools.Scope{
		UserID: req.UserID, PersonaID: req.PersonaID, TurnID: turnID,
	}), effects)

	outcome, err := s.deps.Orchestrator.Run(toolCtx, s.loopRequest(cfg, systemPrompt, req.Message))
	if err != nil {
		if ctx.Err() != nil {
			log.Info("turn cancelled during model call", "cause", ctx.Err())
			return nil, s.abandon(ctx, &finish, req.UserID, turnID)
		}
		if s.deps.Quota != nil {
			s.deps.Quota.Refund(req.UserID)
		}
		finish.Err = err.Error()
		log.Error("model unavailable", "err", err)
		return nil, withTurn(turnapi.NewError(turnapi.CodeLLMUnavailable, Apology), turnID)
	}
	finish.Iterations, finish.ToolCalls = outcome.Iterations, len(outcome.ToolCalls)

	visible, saves := ExtractSaves(outcome.Text)
	saves.Merge(effectSaves(effects))
	if visible == "" {
		if saves.Len() > 0 {
			visible = SavedOnlyReply
		} else {
			visible = orchestrator.StallMessage
		}
	}

	if ctx.Err() != nil {
		log.Info("turn cancelled before persist", "cause", ctx.Err())
		return nil, s.abandon(ctx, &finish, req.UserID, turnID)
	}

	rec := Record{
		TurnID:             turnID,
		UserID:             req.UserID,
		PersonaID:          req.PersonaID,
		UserText:           req.Message,
		AssistantText:      visible,
		UserEmbedding:      tc.queryVector,
		AssistantEmbedding: s.embedBestEffort(ctx, log, visible),
		Saves:              saves,
		At:                 s.now(),
	}
	if ctx.Err() != nil {
		return nil, s.abandon(ctx, &finish, req.UserID, turnID)
	}
	if err := s.deps.Persister.Persist(ctx, rec); err != nil {
		finish.Status, finish.Err = store.TurnPersistFailed, err.Error()
		log.Error("turn persist failed; delivering reply anyway", "err", err)
		return nil, withTurn(turnapi.NewError(turnapi.CodePersistFailed, visible), turnID)
	}

	finish.Status = store.TurnSucceeded
	sort.Strings(tc.degraded)
	log.Info("turn complete",
		"iterations", outcome.Iterations,
		"tool_calls", len(outcome.ToolCalls),
		"saved", saves.Len(),
		"stalled", outcome.Stalled,
		"degraded", tc.degraded,
	)
	return &turnapi.TurnResponse{
		TurnID:       turnID,
		Reply:        visible,
		Relationship: turnapi.Relationship{Tier: string(status.Tier), MessageCount: status.Count},
		Iterations:   outcome.Iterations,
		ToolCalls:    len(outcome.ToolCalls),
		Saved:        saves.Len(),
		Degraded:     tc.degraded,
	}, nil
}

// gather runs the independent context reads concurrently. None of them can
// fail the turn.
func (s *Service) gather(ctx context.Context, log *slog.Logger, cfg *persona.Config, req turnapi.TurnRequest) *turnContext {
	tc := &turnContext{}
	var g errgroup.Group

	g.Go(func() error {
		text, ok := embedding.Prepare(req.Message, s.cfg.EmbedMaxRunes)
		if !ok {
			return nil
		}
		rctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		defer cancel()
		vec, err := s.deps.Embedder.Embed(rctx, text)
		if err != nil {
			log.Warn("embedding unavailable; skipping memory search", "err", err)
			tc.degrade(DegradedEmbedding)
			return nil
		}
		tc.queryVector = vec
		matches, err := s.deps.Memory.Search(rctx, vec, cfg.ID, req.UserID, s.cfg.Threshold, s.cfg.SearchLimit)
		if err != nil {
			log.Warn("memory search failed", "err", err)
			tc.degrade(DegradedMemorySearch)
			return nil
		}
		tc.memories = matches
		return nil
	})

	g.Go(func() error {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		defer cancel()
		entries, err := s.deps.Locket.ListForScope(rctx, cfg.ID, req.UserID)
		if err != nil {
			log.Warn("locket read failed", "err", err)
			tc.degrade(DegradedLocket)
			return nil
		}
		tc.locket = locket.Contents(entries)
		return nil
	})

	g.Go(func() error {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		defer cancel()
		fs, err := s.deps.Facts.ListForUser(rctx, req.UserID)
		if err != nil {
			log.Warn("shared facts read failed", "err", err)
			tc.degrade(DegradedSharedFacts)
			return nil
		}
		tc.facts = fs
		return nil
	})

	g.Go(func() error {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		defer cancel()
		n, err := s.deps.Memory.CountMessages(rctx, req.UserID, cfg.ID)
		if err != nil {
			log.Warn("relationship count failed", "err", err)
			tc.degrade(DegradedRelationship)
			return nil
		}
		tc.count = relationship.ClampCount(n)
		return nil
	})

	_ = g.Wait()
	return tc
}

func (s *Service) loopRequest(cfg *persona.Config, systemPrompt, message string) orchestrator.Request {
	model := cfg.Model
	if model == "" {
		model = s.cfg.Model
	}
	req := orchestrator.Request{
		Model:        model,
		SystemPrompt: systemPrompt,
		UserMessage:  message,
		Tools:        s.deps.ToolSets[cfg.ToolSet],
		MaxTokens:    cfg.MaxTokens,
		Temperature:  ptr(cfg.EffectiveTemperature()),
	}
	if s.cfg.MaxTokens > 0 && (req.MaxTokens <= 0 || req.MaxTokens > s.cfg.MaxTokens) {
		req.MaxTokens = s.cfg.MaxTokens
	}
	if cfg.ToolSet == persona.ToolSetForge {
		req.Temperature = ptr(s.cfg.ForgeTemperature)
	}
	return req
}

func (s *Service) embedBestEffort(ctx context.Context, log *slog.Logger, text string) []float32 {
	text, ok := embedding.Prepare(text, s.cfg.EmbedMaxRunes)
	if !ok {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()
	vec, err := s.deps.Embedder.Embed(rctx, text)
	if err != nil {
		log.Debug("assistant reply stored without embedding", "err", err)
		return nil
	}
	return vec
}

func effectSaves(e *tools.Effects) Saves {
	return Saves{Locket: e.Locket(), Facts: e.Facts()}
}

func withTurn(e *turnapi.Error, turnID string) *turnapi.Error {
	e.Body.TurnID = turnID
	return e
}

func ptr(v float64) *float64 { return &v }
