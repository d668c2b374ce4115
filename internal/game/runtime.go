package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdtechteam/quiz-generator/internal/config"
	"github.com/pdtechteam/quiz-generator/internal/db/repository"
	"github.com/pdtechteam/quiz-generator/internal/game/awards"
	"github.com/pdtechteam/quiz-generator/internal/game/scoring"
	httperrors "github.com/pdtechteam/quiz-generator/pkg/http/errors"
	"github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

// phase tracks where the current question is in its lifecycle. It moves
// independently of the stored session state: a paused session parks in
// phaseIdle and remembers where to pick the flow back up.
type phase int

const (
	phaseIdle      phase = iota // no question flow in progress
	phaseCollect                // question open, answers accepted
	phaseReveal                 // all answered, waiting to show the result
	phaseResults                // result shown, waiting to advance
	phaseCountdown              // resume countdown running
)

const countdownStart = 3

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdJoin
	cmdBecomeHost
	cmdStartGame
	cmdPauseGame
	cmdResumeGame
	cmdSkipQuestion
	cmdNextQuestion
	cmdEndGame
	cmdAnswer
	cmdPing
	cmdReaction
	cmdDisconnect
	cmdSweep
	cmdJoinREST
	cmdBecomeHostREST
	cmdHeartbeatREST
)

// command is one unit of work for the runtime goroutine. Live-channel
// commands carry the originating client; REST commands carry the request
// context and a buffered reply channel instead.
type command struct {
	kind   cmdKind
	client *Client

	name   string
	answer ws.AnswerFrame
	emoji  string
	cutoff time.Time

	ctx       context.Context
	playerID  int64
	joinReply chan joinResult
	hostReply chan hostResult
	errReply  chan error
}

type joinResult struct {
	player  repository.Player
	created bool
	err     error
}

type hostResult struct {
	player repository.Player
	err    error
}

// errRuntimeStopped is returned to REST callers racing a hub shutdown.
var errRuntimeStopped = errors.New("session runtime stopped")

// Runtime owns one live session. A single goroutine consumes the command
// queue, so every session mutation is serialized through it; the fields
// below mu are the only ones touched from other goroutines.
type Runtime struct {
	store  Store
	scorer *scoring.Engine
	cfg    config.Game
	logger zerolog.Logger

	cmds chan command
	done chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}

	// Owned by the run goroutine.
	session       repository.GameSession
	quiz          repository.Quiz
	questionCount int
	current       *repository.QuestionWithChoices
	phase         phase
	resumePhase   phase
	countdownLeft int
	beginRetry    bool
	timer         *time.Timer
	timerC        <-chan time.Time
}

func newRuntime(store Store, scorer *scoring.Engine, cfg config.Game, logger zerolog.Logger,
	session repository.GameSession, quiz repository.Quiz, questionCount int,
	current *repository.QuestionWithChoices) *Runtime {

	r := &Runtime{
		store:         store,
		scorer:        scorer,
		cfg:           cfg,
		logger:        logger.With().Int64("session_id", session.ID).Str("session_code", session.Code).Logger(),
		cmds:          make(chan command, cfg.CommandBufferSize),
		done:          make(chan struct{}),
		clients:       make(map[*Client]struct{}),
		session:       session,
		quiz:          quiz,
		questionCount: questionCount,
		current:       current,
	}

	// A restart can orphan a session mid-game. Pick the flow up where the
	// stored row says it stopped: a running session reopens its current
	// question for answers, a paused one waits for the host to resume.
	switch session.State {
	case repository.StateRunning:
		if current != nil {
			r.phase = phaseCollect
		}
	case repository.StatePaused:
		r.resumePhase = phaseCollect
	}
	return r
}

func (r *Runtime) run(ctx context.Context) {
	defer close(r.done)
	defer r.disarm()

	r.logger.Info().Str("state", r.session.State).Msg("session runtime started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("session runtime stopped")
			return
		case cmd := <-r.cmds:
			r.handle(ctx, cmd)
		case <-r.timerC:
			r.timer = nil
			r.timerC = nil
			r.onTimer(ctx)
		}
	}
}

// Attach registers a connection for broadcasts. Called from the connection's
// reader goroutine before any frame is dispatched.
func (r *Runtime) Attach(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
	clientsConnected.Inc()
}

// Detach removes a connection from the broadcast set. Idempotent.
func (r *Runtime) Detach(c *Client) {
	r.mu.Lock()
	_, attached := r.clients[c]
	delete(r.clients, c)
	r.mu.Unlock()
	if attached {
		clientsConnected.Dec()
	}
}

// Connected queues the session_state greeting for a fresh connection.
func (r *Runtime) Connected(c *Client) {
	r.enqueue(command{kind: cmdConnect, client: c})
}

// Disconnect queues the leave work for a closed connection: marking the
// player offline, auto-pausing when a host drops mid-game, and re-checking
// question completion for everyone left.
func (r *Runtime) Disconnect(c *Client) {
	r.enqueue(command{kind: cmdDisconnect, client: c})
}

// TrySweep queues a heartbeat sweep without blocking. A runtime with a full
// queue skips the round and catches up on the next one.
func (r *Runtime) TrySweep(cutoff time.Time) {
	select {
	case r.cmds <- command{kind: cmdSweep, cutoff: cutoff}:
	default:
	}
}

// JoinPlayer registers a player over REST, reusing the existing row when the
// name is already taken in this session.
func (r *Runtime) JoinPlayer(ctx context.Context, name string) (repository.Player, bool, error) {
	reply := make(chan joinResult, 1)
	if err := r.submit(ctx, command{kind: cmdJoinREST, ctx: ctx, name: name, joinReply: reply}); err != nil {
		return repository.Player{}, false, err
	}
	select {
	case res := <-reply:
		return res.player, res.created, res.err
	case <-ctx.Done():
		return repository.Player{}, false, ctx.Err()
	case <-r.done:
		return repository.Player{}, false, errRuntimeStopped
	}
}

// BecomeHost claims the host seat over REST.
func (r *Runtime) BecomeHost(ctx context.Context, playerID int64) (repository.Player, error) {
	reply := make(chan hostResult, 1)
	if err := r.submit(ctx, command{kind: cmdBecomeHostREST, ctx: ctx, playerID: playerID, hostReply: reply}); err != nil {
		return repository.Player{}, err
	}
	select {
	case res := <-reply:
		return res.player, res.err
	case <-ctx.Done():
		return repository.Player{}, ctx.Err()
	case <-r.done:
		return repository.Player{}, errRuntimeStopped
	}
}

// Heartbeat refreshes a player's last-seen stamp over REST.
func (r *Runtime) Heartbeat(ctx context.Context, playerID int64) error {
	reply := make(chan error, 1)
	if err := r.submit(ctx, command{kind: cmdHeartbeatREST, ctx: ctx, playerID: playerID, errReply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return errRuntimeStopped
	}
}

func (r *Runtime) enqueue(cmd command) bool {
	select {
	case r.cmds <- cmd:
		return true
	case <-r.done:
		return false
	}
}

func (r *Runtime) submit(ctx context.Context, cmd command) error {
	select {
	case r.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return errRuntimeStopped
	}
}

func (r *Runtime) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdConnect:
		r.handleConnect(ctx, cmd.client)
	case cmdJoin:
		r.handleJoin(ctx, cmd.client, cmd.name)
	case cmdBecomeHost:
		r.handleBecomeHost(ctx, cmd.client)
	case cmdStartGame:
		r.handleStartGame(ctx, cmd.client)
	case cmdPauseGame:
		r.handlePauseGame(ctx, cmd.client)
	case cmdResumeGame:
		r.handleResumeGame(cmd.client)
	case cmdSkipQuestion, cmdNextQuestion:
		r.handleAdvance(ctx, cmd.client)
	case cmdEndGame:
		r.handleEndGame(ctx, cmd.client)
	case cmdAnswer:
		r.handleAnswer(ctx, cmd.client, cmd.answer)
	case cmdPing:
		r.handlePing(ctx, cmd.client)
	case cmdReaction:
		r.handleReaction(cmd.client, cmd.emoji)
	case cmdDisconnect:
		r.handleDisconnect(ctx, cmd.client)
	case cmdSweep:
		r.handleSweep(ctx, cmd.cutoff)
	case cmdJoinREST:
		r.handleJoinREST(cmd)
	case cmdBecomeHostREST:
		r.handleBecomeHostREST(cmd)
	case cmdHeartbeatREST:
		r.handleHeartbeatREST(cmd)
	}
}

func (r *Runtime) handleConnect(ctx context.Context, c *Client) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		r.sendError(c, httperrors.ErrCodeStoreUnavailable, "Could not load session state")
		return
	}
	r.sendTo(c, ws.SessionStateEvent{Type: ws.TypeSessionState, SessionSnapshot: snap})
}

func (r *Runtime) handleJoin(ctx context.Context, c *Client, name string) {
	var player repository.Player
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		player, _, err = r.store.GetOrCreatePlayer(ctx, r.session.ID, name)
		return err
	})
	if err != nil {
		r.logger.Error().Err(err).Str("player_name", name).Msg("join failed")
		r.sendError(c, httperrors.ErrCodeStoreUnavailable, "Could not join session")
		return
	}

	c.playerID = player.ID
	c.name = player.Name

	view := playerView(player, r.session.Code)
	r.sendTo(c, ws.PlayerEvent{Type: ws.TypeJoined, Player: view})
	r.broadcast(ws.PlayerEvent{Type: ws.TypePlayerJoined, Player: view})

	// Late joiners and reconnects need the full picture, current question
	// included, without asking for it.
	if snap, err := r.snapshot(ctx); err == nil {
		r.sendTo(c, ws.SessionStateEvent{Type: ws.TypeSessionState, SessionSnapshot: snap})
	}
}

func (r *Runtime) handleBecomeHost(ctx context.Context, c *Client) {
	if !c.joined() {
		r.sendError(c, httperrors.ErrCodeNotJoined, "Join before claiming the host seat")
		return
	}
	var player repository.Player
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		player, err = r.store.SetHost(ctx, r.session.ID, c.playerID)
		return err
	})
	switch {
	case errors.Is(err, repository.ErrAlreadyHasHost):
		r.sendError(c, httperrors.ErrCodeAlreadyHasHost, "Session already has a host")
		return
	case errors.Is(err, repository.ErrPlayerNotFound):
		r.sendError(c, httperrors.ErrCodeNotJoined, "Player is not part of this session")
		return
	case err != nil:
		r.logger.Error().Err(err).Int64("player_id", c.playerID).Msg("set host failed")
		r.sendError(c, httperrors.ErrCodeStoreUnavailable, "Could not assign host")
		return
	}

	hostID := player.ID
	r.session.HostPlayerID = &hostID
	r.broadcast(ws.PlayerEvent{Type: ws.TypeHostAssigned, Player: playerView(player, r.session.Code)})
}

func (r *Runtime) handleStartGame(ctx context.Context, c *Client) {
	if !r.requireHost(c) {
		return
	}
	if r.session.State != repository.StateWaiting {
		r.sendError(c, httperrors.ErrCodeInvalidState, "Game has already started")
		return
	}

	// Load before writing state so a failure leaves the session untouched.
	q, err := r.loadQuestion(ctx, r.session.CurrentQuestion)
	if errors.Is(err, repository.ErrQuestionNotFound) {
		r.sendError(c, httperrors.ErrCodeInvalidState, "Quiz has no questions")
		return
	}
	if err != nil {
		r.sendError(c, httperrors.ErrCodeStoreUnavailable, "Could not load the first question")
		return
	}
	if err := r.setState(ctx, repository.StateRunning); err != nil {
		r.sendError(c, httperrors.ErrCodeStoreUnavailable, "Could not start the game")
		return
	}

	r.broadcast(ws.SimpleEvent{Type: ws.TypeGameStarted})
	r.openQuestion(q)
	r.logger.Info().Int64("player_id", c.playerID).Msg("game started")
}

func (r *Runtime) handlePauseGame(ctx context.Context, c *Client) {
	if !r.requireHost(c) {
		return
	}
	if r.session.State != repository.StateRunning {
		r.sendError(c, httperrors.ErrCodeInvalidState, "Game is not running")
		return
	}
	if err := r.setState(ctx, repository.StatePaused); err != nil {
		r.sendError(c, httperrors.ErrCodeStoreUnavailable, "Could not pause the game")
		return
	}
	r.suspend()
	r.broadcast(ws.SimpleEvent{Type: ws.TypeGamePaused})
}

func (r *Runtime) handleResumeGame(c *Client) {
	if !r.requireHost(c) {
		return
	}
	if r.session.State != repository.StatePaused || r.phase == phaseCountdown {
		r.sendError(c, httperrors.ErrCodeInvalidState, "Game is not paused")
		return
	}
	r.phase = phaseCountdown
	r.countdownLeft = countdownStart
	r.broadcast(ws.CountdownEvent{Type: ws.TypeCountdown, Count: r.countdownLeft})
	r.arm(r.cfg.CountdownStep)
}

func (r *Runtime) handleAdvance(ctx context.Context, c *Client) {
	if !r.requireHost(c) {
		return
	}
	if r.session.State != repository.StateRunning {
		r.sendError(c, httperrors.ErrCodeInvalidState, "Game is not running")
		return
	}
	// Skipping awards nothing extra: recorded answers keep their points,
	// everyone else scores zero and streaks stay as they were.
	r.disarm()
	r.beginRetry = false
	r.advance(ctx)
}

func (r *Runtime) handleEndGame(ctx context.Context, c *Client) {
	if !r.requireHost(c) {
		return
	}
	if r.session.State != repository.StateRunning {
		r.sendError(c, httperrors.ErrCodeInvalidState, "Game is not running")
		return
	}
	r.finish(ctx)
}

func (r *Runtime) handleAnswer(ctx context.Context, c *Client, frame ws.AnswerFrame) {
	if !c.joined() {
		r.sendError(c, httperrors.ErrCodeNotJoined, "Join before answering")
		return
	}
	switch r.session.State {
	case repository.StateRunning:
	case repository.StatePaused:
		r.sendError(c, httperrors.ErrCodePaused, "Game is paused")
		return
	default:
		r.sendError(c, httperrors.ErrCodeInvalidState, "Game is not running")
		return
	}
	// Collection closes the moment the question completes. An answer racing
	// the reveal is as stale as one for a long-gone question.
	if r.phase != phaseCollect || r.current == nil || r.current.UUID != frame.QuestionUUID {
		r.sendError(c, httperrors.ErrCodeStaleQuestion, "Question is no longer accepting answers")
		return
	}

	question := *r.current
	// Clients report elapsed seconds; missing or negative values count as instant.
	timeTaken := 0.0
	if frame.TimeTaken != nil && *frame.TimeTaken > 0 {
		timeTaken = *frame.TimeTaken
	}
	timeLimit := question.EffectiveTimeLimit(r.quiz)

	var answer repository.Answer
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		answer, err = r.store.RecordAnswer(ctx, repository.RecordAnswerParams{
			PlayerID:   c.playerID,
			QuestionID: question.ID,
			ChoiceID:   frame.ChoiceID,
			TimeTaken:  timeTaken,
			Score: func(isCorrect bool, streakBefore int) int {
				return r.scorer.Points(isCorrect, timeTaken, timeLimit, streakBefore, question.Difficulty)
			},
		})
		return err
	})
	switch {
	case errors.Is(err, repository.ErrAlreadyAnswered):
		r.sendError(c, httperrors.ErrCodeAlreadyAnswered, "Already answered this question")
		return
	case errors.Is(err, repository.ErrChoiceNotFound):
		r.sendError(c, httperrors.ErrCodeStaleQuestion, "Choice does not belong to the current question")
		return
	case errors.Is(err, repository.ErrPlayerNotFound):
		r.sendError(c, httperrors.ErrCodeNotJoined, "Player is not part of this session")
		return
	case err != nil:
		r.logger.Error().Err(err).Int64("player_id", c.playerID).Msg("record answer failed")
		r.sendError(c, httperrors.ErrCodeStoreUnavailable, "Could not record answer")
		return
	}

	answersRecorded.Inc()
	r.sendTo(c, ws.AnswerReceivedEvent{
		Type:         ws.TypeAnswerReceived,
		IsCorrect:    answer.IsCorrect,
		PointsEarned: answer.PointsEarned,
		Reply:        replyPhrase(answer.IsCorrect),
	})
	r.broadcastAnswerStats(ctx, question.ID)
	r.checkAllAnswered(ctx)
}

func (r *Runtime) handlePing(ctx context.Context, c *Client) {
	if c.joined() {
		err := r.withRetry(ctx, func(ctx context.Context) error {
			return r.store.TouchLastSeen(ctx, c.playerID)
		})
		if err != nil && !errors.Is(err, repository.ErrPlayerNotFound) {
			r.logger.Warn().Err(err).Int64("player_id", c.playerID).Msg("heartbeat touch failed")
		}
	}
	r.sendTo(c, ws.SimpleEvent{Type: ws.TypePong})
}

func (r *Runtime) handleReaction(c *Client, emoji string) {
	if !c.joined() {
		r.sendError(c, httperrors.ErrCodeNotJoined, "Join before reacting")
		return
	}
	if r.session.State == repository.StateFinished {
		r.sendError(c, httperrors.ErrCodeInvalidState, "Game is over")
		return
	}
	now := time.Now()
	if now.Sub(c.lastReaction) < r.cfg.ReactionCooldown {
		r.sendError(c, httperrors.ErrCodeRateLimited, "Too many reactions")
		return
	}
	c.lastReaction = now
	r.broadcast(ws.PlayerReactionEvent{
		Type:       ws.TypePlayerReaction,
		PlayerID:   c.playerID,
		PlayerName: c.name,
		Emoji:      emoji,
	})
}

func (r *Runtime) handleDisconnect(ctx context.Context, c *Client) {
	if !c.joined() {
		return
	}
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.store.MarkDisconnected(ctx, c.playerID)
	})
	if err != nil && !errors.Is(err, repository.ErrPlayerNotFound) {
		r.logger.Error().Err(err).Int64("player_id", c.playerID).Msg("mark disconnected failed")
	}

	if r.isHost(c) && r.session.State == repository.StateRunning {
		if err := r.setState(ctx, repository.StatePaused); err == nil {
			r.suspend()
			r.broadcast(ws.HostDisconnectedEvent{
				Type:    ws.TypeHostDisconnected,
				Message: "Host disconnected, waiting for them to return",
			})
			r.logger.Info().Int64("player_id", c.playerID).Msg("host disconnected, game paused")
		}
		return
	}
	// One player fewer can complete the all-answered predicate.
	r.checkAllAnswered(ctx)
}

func (r *Runtime) handleSweep(ctx context.Context, cutoff time.Time) {
	if r.session.State == repository.StateFinished {
		return
	}
	var swept int64
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		swept, err = r.store.MarkStaleDisconnected(ctx, r.session.ID, cutoff)
		return err
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("heartbeat sweep failed")
		return
	}
	if swept > 0 {
		r.logger.Info().Int64("players", swept).Msg("swept stale players")
	}
	// A sweep can complete the current question, and the periodic re-check
	// also unsticks a question whose completing event raced a store failure.
	r.checkAllAnswered(ctx)
}

func (r *Runtime) handleJoinREST(cmd command) {
	var player repository.Player
	var created bool
	err := r.withRetry(cmd.ctx, func(ctx context.Context) error {
		var err error
		player, created, err = r.store.GetOrCreatePlayer(ctx, r.session.ID, cmd.name)
		return err
	})
	cmd.joinReply <- joinResult{player: player, created: created, err: err}
}

func (r *Runtime) handleBecomeHostREST(cmd command) {
	var player repository.Player
	err := r.withRetry(cmd.ctx, func(ctx context.Context) error {
		var err error
		player, err = r.store.SetHost(ctx, r.session.ID, cmd.playerID)
		return err
	})
	if err == nil {
		hostID := player.ID
		r.session.HostPlayerID = &hostID
	}
	cmd.hostReply <- hostResult{player: player, err: err}
}

func (r *Runtime) handleHeartbeatREST(cmd command) {
	cmd.errReply <- r.withRetry(cmd.ctx, func(ctx context.Context) error {
		return r.store.TouchLastSeen(ctx, cmd.playerID)
	})
}

// Timer flow

func (r *Runtime) onTimer(ctx context.Context) {
	switch r.phase {
	case phaseReveal:
		r.reveal(ctx)
	case phaseResults:
		if r.beginRetry {
			r.beginRetry = false
			r.beginQuestion(ctx)
			return
		}
		r.advance(ctx)
	case phaseCountdown:
		r.tickCountdown(ctx)
	}
}

// reveal broadcasts the resolved question and the standings, then holds for
// the results display interval before advancing.
func (r *Runtime) reveal(ctx context.Context) {
	r.broadcast(ws.QuestionResultEvent{
		Type:        ws.TypeQuestionResult,
		Question:    questionDetailView(r.quiz, *r.current),
		Leaderboard: leaderboardRows(r.loadLeaderboard(ctx)),
	})
	r.phase = phaseResults
	r.arm(r.cfg.ResultsDisplay)
}

// advance moves the counter to the next question, opening it or finishing
// the game when the quiz is exhausted. On a store failure the results timer
// is re-armed so the advance retries instead of stalling the session.
func (r *Runtime) advance(ctx context.Context) {
	var index int
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		index, err = r.store.AdvanceQuestion(ctx, r.session.ID)
		return err
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("advance question failed")
		r.phase = phaseResults
		r.arm(r.cfg.ResultsDisplay)
		return
	}
	r.session.CurrentQuestion = index

	if index >= r.questionCount {
		r.finish(ctx)
		return
	}
	r.beginQuestion(ctx)
}

// beginQuestion loads and opens the question the counter points at. The
// counter has already moved, so a transient load failure re-arms the results
// timer to retry the load without advancing again.
func (r *Runtime) beginQuestion(ctx context.Context) {
	q, err := r.loadQuestion(ctx, r.session.CurrentQuestion)
	if errors.Is(err, repository.ErrQuestionNotFound) {
		r.finish(ctx)
		return
	}
	if err != nil {
		r.beginRetry = true
		r.phase = phaseResults
		r.arm(r.cfg.ResultsDisplay)
		return
	}
	r.openQuestion(q)
}

func (r *Runtime) tickCountdown(ctx context.Context) {
	r.countdownLeft--
	if r.countdownLeft > 0 {
		r.broadcast(ws.CountdownEvent{Type: ws.TypeCountdown, Count: r.countdownLeft})
		r.arm(r.cfg.CountdownStep)
		return
	}
	if err := r.setState(ctx, repository.StateRunning); err != nil {
		// Still paused in the store; the host can resume again.
		r.phase = phaseIdle
		return
	}
	r.phase = r.resumePhase
	switch r.phase {
	case phaseReveal:
		r.arm(r.cfg.RevealDelay)
	case phaseResults:
		r.arm(r.cfg.ResultsDisplay)
	default:
		r.phase = phaseCollect
	}
	r.broadcast(ws.SimpleEvent{Type: ws.TypeGameResumed})
	// Everyone connected may have answered while the game sat paused.
	if r.phase == phaseCollect {
		r.checkAllAnswered(ctx)
	}
}

// finish ends the game: the session is stamped finished, the final standings
// and awards are computed, and a single game_over closes out the broadcast
// stream. The session stays queryable over REST afterwards.
func (r *Runtime) finish(ctx context.Context) {
	r.disarm()
	r.current = nil
	r.phase = phaseIdle
	r.beginRetry = false

	if err := r.setState(ctx, repository.StateFinished); err != nil {
		// The runtime's view drives the machine even when the row lags.
		r.session.State = repository.StateFinished
	}

	players := r.loadLeaderboard(ctx)
	var stats []repository.AnswerStat
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		stats, err = r.store.AnswersForAwards(ctx, r.session.ID)
		return err
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("load answers for awards failed")
	}

	granted := awards.Calculate(awardPlayers(players), awardAnswers(stats))
	r.broadcast(ws.GameOverEvent{
		Type:        ws.TypeGameOver,
		Leaderboard: leaderboardRows(players),
		Awards:      awardViews(granted),
	})
	r.logger.Info().Int("players", len(players)).Msg("game finished")
}

// State helpers

// openQuestion broadcasts a loaded question and opens answer collection.
func (r *Runtime) openQuestion(q repository.QuestionWithChoices) {
	r.current = &q
	r.phase = phaseCollect
	r.broadcast(ws.QuestionEvent{Type: ws.TypeQuestion, Question: questionView(r.quiz, q)})
}

// suspend freezes the question flow and remembers where to pick it back up.
func (r *Runtime) suspend() {
	r.disarm()
	r.resumePhase = r.phase
	r.phase = phaseIdle
}

func (r *Runtime) loadQuestion(ctx context.Context, index int) (repository.QuestionWithChoices, error) {
	var q repository.QuestionWithChoices
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		q, err = r.store.QuestionAt(ctx, r.quiz.ID, index)
		return err
	})
	if err != nil && !errors.Is(err, repository.ErrQuestionNotFound) {
		r.logger.Error().Err(err).Int("question_index", index).Msg("load question failed")
	}
	return q, err
}

func (r *Runtime) setState(ctx context.Context, state string) error {
	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.store.SetState(ctx, r.session.ID, state)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("state", state).Msg("set session state failed")
		return err
	}
	r.session.State = state
	return nil
}

func (r *Runtime) loadLeaderboard(ctx context.Context) []repository.Player {
	var players []repository.Player
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		players, err = r.store.Leaderboard(ctx, r.session.ID)
		return err
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("load leaderboard failed")
		return nil
	}
	return players
}

func (r *Runtime) snapshot(ctx context.Context) (ws.SessionSnapshot, error) {
	var snap ws.SessionSnapshot
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		snap, err = buildSnapshot(ctx, r.store, r.session, r.quiz, r.current)
		return err
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("build session snapshot failed")
	}
	return snap, err
}

func (r *Runtime) broadcastAnswerStats(ctx context.Context, questionID int64) {
	var answered, correct, connected int
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		answered, correct, err = r.store.AnswerStats(ctx, r.session.ID, questionID)
		if err != nil {
			return err
		}
		connected, err = r.store.CountConnectedPlayers(ctx, r.session.ID)
		return err
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("answer stats failed")
		return
	}
	r.broadcast(ws.AnswerStatsEvent{
		Type:     ws.TypeAnswerStats,
		Answered: fmt.Sprintf("%d/%d", answered, connected),
		Correct:  correct,
	})
}

// checkAllAnswered closes the question once every connected player has an
// answer for it. Outside collection it does nothing, so disconnects and
// sweeps can call it unconditionally.
func (r *Runtime) checkAllAnswered(ctx context.Context) {
	if r.phase != phaseCollect || r.current == nil {
		return
	}
	questionID := r.current.ID
	var connected, unanswered int
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		connected, err = r.store.CountConnectedPlayers(ctx, r.session.ID)
		if err != nil {
			return err
		}
		unanswered, err = r.store.CountConnectedUnanswered(ctx, r.session.ID, questionID)
		return err
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("completion check failed")
		return
	}
	if connected > 0 && unanswered == 0 {
		r.phase = phaseReveal
		r.arm(r.cfg.RevealDelay)
	}
}

// isHost reports whether the client holds the host seat. The runtime is the
// single writer of HostPlayerID (live and REST claims both pass through it),
// so the in-memory value is authoritative.
func (r *Runtime) isHost(c *Client) bool {
	return c.joined() && r.session.HostPlayerID != nil && *r.session.HostPlayerID == c.playerID
}

func (r *Runtime) requireHost(c *Client) bool {
	if !r.isHost(c) {
		r.sendError(c, httperrors.ErrCodeUnauthorized, "Only the host can do that")
		return false
	}
	return true
}

// Timer plumbing. One timer serves all phases; arm replaces any pending one.

func (r *Runtime) arm(d time.Duration) {
	r.disarm()
	r.timer = time.NewTimer(d)
	r.timerC = r.timer.C
}

func (r *Runtime) disarm() {
	if r.timer == nil {
		return
	}
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
	r.timer = nil
	r.timerC = nil
}

// Delivery

func (r *Runtime) broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal broadcast event")
		return
	}
	r.mu.Lock()
	targets := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if err := c.conn.Send(data); err != nil {
			r.dropClient(c, err)
		}
	}
}

func (r *Runtime) sendTo(c *Client, event any) {
	if err := c.send(event); err != nil {
		r.dropClient(c, err)
	}
}

func (r *Runtime) sendError(c *Client, kind, message string) {
	r.sendTo(c, ws.ErrorEvent{Type: ws.TypeError, Kind: kind, Message: message})
}

// dropClient detaches and closes a connection that cannot take more frames.
// Its reader notices the close and runs the normal disconnect path.
func (r *Runtime) dropClient(c *Client, err error) {
	if errors.Is(err, ws.ErrSendQueueFull) {
		sendOverflows.Inc()
	}
	r.logger.Warn().Err(err).Int64("player_id", c.playerID).Msg("dropping unresponsive client")
	r.Detach(c)
	c.conn.Close()
}

// Store access. Every operation gets its own deadline and one retry; the
// sentinel rejections a caller maps onto wire errors pass through untouched.

func (r *Runtime) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	err := r.storeOp(ctx, fn)
	if err == nil || isStoreSentinel(err) {
		return err
	}
	r.logger.Warn().Err(err).Msg("store operation failed, retrying")
	return r.storeOp(ctx, fn)
}

func (r *Runtime) storeOp(ctx context.Context, fn func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return fn(opCtx)
}

var storeSentinels = []error{
	repository.ErrQuizNotFound,
	repository.ErrQuestionNotFound,
	repository.ErrSessionNotFound,
	repository.ErrPlayerNotFound,
	repository.ErrChoiceNotFound,
	repository.ErrAlreadyAnswered,
	repository.ErrAlreadyHasHost,
	repository.ErrCodeSpaceExhausted,
}

func isStoreSentinel(err error) bool {
	for _, sentinel := range storeSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
