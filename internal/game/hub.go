package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdtechteam/quiz-generator/internal/config"
	"github.com/pdtechteam/quiz-generator/internal/db/repository"
	"github.com/pdtechteam/quiz-generator/internal/game/scoring"
)

// Hub resolves session codes to live runtimes, creating them on demand from
// stored sessions. Runtimes are keyed by session id rather than code: a
// finished session's code can be reissued while its runtime still drains.
type Hub struct {
	store  Store
	scorer *scoring.Engine
	cfg    config.Game
	logger zerolog.Logger

	mu       sync.Mutex
	runtimes map[int64]*Runtime

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates the session hub. Runtime goroutines live until Shutdown.
func NewHub(store Store, scorer *scoring.Engine, cfg config.Game, logger zerolog.Logger) *Hub {
	if cfg.CommandBufferSize <= 0 {
		cfg.CommandBufferSize = 64
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:    store,
		scorer:   scorer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "game_hub").Logger(),
		runtimes: make(map[int64]*Runtime),
		runCtx:   runCtx,
		cancel:   cancel,
	}
}

// Resolve finds the live runtime for a session code, spinning one up from
// the stored row if needed. Unknown codes surface ErrSessionNotFound.
func (h *Hub) Resolve(ctx context.Context, code string) (*Runtime, error) {
	session, err := h.store.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return h.ResolveSession(ctx, session)
}

// ResolveSession returns the runtime for an already-loaded session row,
// creating it if this is the first contact since the process started.
func (h *Hub) ResolveSession(ctx context.Context, session repository.GameSession) (*Runtime, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rt, ok := h.runtimes[session.ID]; ok {
		return rt, nil
	}

	quiz, err := h.store.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return nil, fmt.Errorf("load session quiz: %w", err)
	}
	count, err := h.store.CountQuestions(ctx, session.QuizID)
	if err != nil {
		return nil, fmt.Errorf("count session questions: %w", err)
	}

	// Mid-game sessions need their current question back in memory before
	// the runtime can accept answers for it.
	var current *repository.QuestionWithChoices
	if session.State == repository.StateRunning || session.State == repository.StatePaused {
		q, err := h.store.QuestionAt(ctx, session.QuizID, session.CurrentQuestion)
		switch {
		case errors.Is(err, repository.ErrQuestionNotFound):
		case err != nil:
			return nil, fmt.Errorf("load current question: %w", err)
		default:
			current = &q
		}
	}

	rt := newRuntime(h.store, h.scorer, h.cfg, h.logger, session, quiz, count, current)
	h.runtimes[session.ID] = rt
	sessionsActive.Inc()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer sessionsActive.Dec()
		rt.run(h.runCtx)
	}()

	h.logger.Info().Int64("session_id", session.ID).Str("session_code", session.Code).Msg("session runtime created")
	return rt, nil
}

// Runtimes snapshots the live runtimes, for the heartbeat sweeper.
func (h *Hub) Runtimes() []*Runtime {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Runtime, 0, len(h.runtimes))
	for _, rt := range h.runtimes {
		out = append(out, rt)
	}
	return out
}

// Shutdown stops every runtime and waits for them to drain, giving up when
// the context expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()
	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
