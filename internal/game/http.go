package game

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdtechteam/quiz-generator/internal/db/repository"
	httperrors "github.com/pdtechteam/quiz-generator/pkg/http/errors"
	"github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

// CreateSessionRequest is the body of POST /api/sessions/.
type CreateSessionRequest struct {
	Quiz int64 `json:"quiz"`
}

// JoinRequest is the body of POST /api/players/.
type JoinRequest struct {
	SessionCode string `json:"session_code"`
	Name        string `json:"name"`
}

// AnswerView is the reporting form of an answer: entity ids under bare names
// with the display fields alongside.
type AnswerView struct {
	ID           int64     `json:"id"`
	Player       int64     `json:"player"`
	PlayerName   string    `json:"player_name"`
	Question     int64     `json:"question"`
	QuestionText string    `json:"question_text"`
	Choice       int64     `json:"choice"`
	ChoiceText   string    `json:"choice_text"`
	TimeTaken    float64   `json:"time_taken"`
	IsCorrect    bool      `json:"is_correct"`
	PointsEarned int       `json:"points_earned"`
	AnsweredAt   time.Time `json:"answered_at"`
}

// AnswerHighlight is a single standout answer in the session statistics.
type AnswerHighlight struct {
	Player   string  `json:"player"`
	Time     float64 `json:"time"`
	Question string  `json:"question"`
}

// HardestQuestion is the least-answered-correctly question of a session.
type HardestQuestion struct {
	Text         string `json:"text"`
	Difficulty   string `json:"difficulty"`
	CorrectCount int    `json:"correct_count"`
	TotalCount   int    `json:"total_count"`
}

// SessionStatistics is the aggregate report for one session.
type SessionStatistics struct {
	TotalPlayers    int              `json:"total_players"`
	TotalQuestions  int              `json:"total_questions"`
	TotalAnswers    int              `json:"total_answers"`
	AverageScore    float64          `json:"average_score"`
	AverageAccuracy float64          `json:"average_accuracy"`
	FastestAnswer   *AnswerHighlight `json:"fastest_answer"`
	SlowestAnswer   *AnswerHighlight `json:"slowest_answer"`
	HardestQuestion *HardestQuestion `json:"hardest_question"`
}

// HTTPHandlers provides the REST facade over sessions, players and answers.
// Reads go straight to the store; writes that touch live gameplay (join,
// host claim, heartbeat) are funneled through the session runtime so the
// live channel and REST never race each other.
type HTTPHandlers struct {
	store  Store
	hub    *Hub
	logger zerolog.Logger
}

// NewHTTPHandlers creates HTTP handlers for the session endpoints.
func NewHTTPHandlers(store Store, hub *Hub, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		store:  store,
		hub:    hub,
		logger: logger,
	}
}

// CreateSession handles POST /api/sessions/
func (h *HTTPHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	if req.Quiz == 0 {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "quiz is required")
		return
	}

	session, err := h.store.CreateSession(r.Context(), req.Quiz)
	switch {
	case errors.Is(err, repository.ErrQuizNotFound):
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Unknown quiz")
		return
	case err != nil:
		h.logger.Error().Err(err).Int64("quiz_id", req.Quiz).Msg("create session failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not create session")
		return
	}
	h.respondSnapshot(w, r, session, http.StatusCreated)
}

// Session handles GET /api/sessions/{code}/ and GET /api/sessions/{code}/state/.
// Both return the same snapshot; state is the lighter-sounding alias clients
// poll between websocket reconnects.
func (h *HTTPHandlers) Session(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	h.respondSnapshot(w, r, session, http.StatusOK)
}

// CurrentQuestion handles GET /api/sessions/{code}/current_question/
func (h *HTTPHandlers) CurrentQuestion(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	if session.State != repository.StateRunning && session.State != repository.StatePaused {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidState, "Game is not running")
		return
	}

	quiz, err := h.store.GetQuiz(r.Context(), session.QuizID)
	if err != nil {
		h.logger.Error().Err(err).Int64("quiz_id", session.QuizID).Msg("load quiz failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load quiz")
		return
	}
	q, err := h.store.QuestionAt(r.Context(), session.QuizID, session.CurrentQuestion)
	switch {
	case errors.Is(err, repository.ErrQuestionNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "No current question")
		return
	case err != nil:
		h.logger.Error().Err(err).Int("question_index", session.CurrentQuestion).Msg("load question failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load question")
		return
	}
	h.respondJSON(w, http.StatusOK, questionView(quiz, q))
}

// Leaderboard handles GET /api/sessions/{code}/leaderboard/
func (h *HTTPHandlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	players, err := h.store.Leaderboard(r.Context(), session.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", session.Code).Msg("load leaderboard failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load leaderboard")
		return
	}
	h.respondJSON(w, http.StatusOK, leaderboardRows(players))
}

// DisconnectedPlayers handles GET /api/sessions/{code}/disconnected_players/
func (h *HTTPHandlers) DisconnectedPlayers(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	players, err := h.store.DisconnectedPlayers(r.Context(), session.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", session.Code).Msg("load disconnected players failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load players")
		return
	}
	h.respondJSON(w, http.StatusOK, playerViews(players, session.Code))
}

// Statistics handles GET /api/sessions/{code}/statistics/
func (h *HTTPHandlers) Statistics(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	quiz, err := h.store.GetQuiz(r.Context(), session.QuizID)
	if err != nil {
		h.logger.Error().Err(err).Int64("quiz_id", session.QuizID).Msg("load quiz failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load quiz")
		return
	}
	players, err := h.store.ListPlayers(r.Context(), session.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", session.Code).Msg("list players failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load players")
		return
	}
	answers, err := h.store.AnswersBySession(r.Context(), session.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", session.Code).Msg("load answers failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load answers")
		return
	}
	h.respondJSON(w, http.StatusOK, sessionStatistics(quiz, players, answers))
}

// CreatePlayer handles POST /api/players/. Joining an existing name in the
// same session reconnects that player instead of creating a duplicate, so
// the handler answers 200 rather than 201 for reuse.
func (h *HTTPHandlers) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	req.SessionCode = strings.TrimSpace(req.SessionCode)
	req.Name = strings.TrimSpace(req.Name)
	if req.SessionCode == "" || req.Name == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "session_code and name are required")
		return
	}

	session, err := h.store.GetSessionByCode(r.Context(), req.SessionCode)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNoSuchSession, "Unknown session code")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("session_code", req.SessionCode).Msg("load session failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load session")
		return
	}

	rt, err := h.hub.ResolveSession(r.Context(), session)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", session.Code).Msg("resolve session failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not resolve session")
		return
	}
	player, created, err := rt.JoinPlayer(r.Context(), req.Name)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", session.Code).Msg("join player failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not join session")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.respondJSON(w, status, playerView(player, session.Code))
}

// Player handles GET /api/players/{id}/
func (h *HTTPHandlers) Player(w http.ResponseWriter, r *http.Request) {
	player, session, ok := h.loadPlayer(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, playerView(player, session.Code))
}

// BecomeHost handles POST /api/players/{id}/become_host/
func (h *HTTPHandlers) BecomeHost(w http.ResponseWriter, r *http.Request) {
	player, session, ok := h.loadPlayer(w, r)
	if !ok {
		return
	}
	rt, err := h.hub.ResolveSession(r.Context(), session)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", session.Code).Msg("resolve session failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not resolve session")
		return
	}

	claimed, err := rt.BecomeHost(r.Context(), player.ID)
	switch {
	case errors.Is(err, repository.ErrAlreadyHasHost):
		httperrors.RespondBadRequest(w, httperrors.ErrCodeAlreadyHasHost, "Session already has a host")
		return
	case errors.Is(err, repository.ErrPlayerNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Player not found")
		return
	case err != nil:
		h.logger.Error().Err(err).Int64("player_id", player.ID).Msg("set host failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not assign host")
		return
	}
	h.respondJSON(w, http.StatusOK, playerView(claimed, session.Code))
}

// Heartbeat handles POST /api/players/{id}/heartbeat/
func (h *HTTPHandlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	player, session, ok := h.loadPlayer(w, r)
	if !ok {
		return
	}
	rt, err := h.hub.ResolveSession(r.Context(), session)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", session.Code).Msg("resolve session failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not resolve session")
		return
	}

	err = rt.Heartbeat(r.Context(), player.ID)
	switch {
	case errors.Is(err, repository.ErrPlayerNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Player not found")
		return
	case err != nil:
		h.logger.Error().Err(err).Int64("player_id", player.ID).Msg("heartbeat failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not record heartbeat")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AnswersBySession handles GET /api/answers/by_session/?session_code=
func (h *HTTPHandlers) AnswersBySession(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("session_code"))
	if code == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "session_code query parameter is required")
		return
	}
	session, err := h.store.GetSessionByCode(r.Context(), code)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNoSuchSession, "Unknown session code")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("session_code", code).Msg("load session failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load session")
		return
	}

	details, err := h.store.AnswersBySession(r.Context(), session.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", code).Msg("load answers failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load answers")
		return
	}
	h.respondJSON(w, http.StatusOK, answerViews(details))
}

// AnswersByPlayer handles GET /api/answers/by_player/?player_id=
// An unknown player yields an empty list, not an error.
func (h *HTTPHandlers) AnswersByPlayer(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("player_id")
	if raw == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "player_id query parameter is required")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "player_id must be an integer")
		return
	}

	details, err := h.store.AnswersByPlayer(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Int64("player_id", id).Msg("load answers failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load answers")
		return
	}
	h.respondJSON(w, http.StatusOK, answerViews(details))
}

// loadSession resolves the {code} path segment, writing the error response
// itself when the session cannot be served.
func (h *HTTPHandlers) loadSession(w http.ResponseWriter, r *http.Request) (repository.GameSession, bool) {
	code := r.PathValue("code")
	session, err := h.store.GetSessionByCode(r.Context(), code)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNoSuchSession, "Unknown session code")
		return repository.GameSession{}, false
	case err != nil:
		h.logger.Error().Err(err).Str("session_code", code).Msg("load session failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load session")
		return repository.GameSession{}, false
	}
	return session, true
}

// loadPlayer resolves the {id} path segment together with the session the
// player belongs to.
func (h *HTTPHandlers) loadPlayer(w http.ResponseWriter, r *http.Request) (repository.Player, repository.GameSession, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Player not found")
		return repository.Player{}, repository.GameSession{}, false
	}
	player, err := h.store.GetPlayer(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrPlayerNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Player not found")
		return repository.Player{}, repository.GameSession{}, false
	case err != nil:
		h.logger.Error().Err(err).Int64("player_id", id).Msg("load player failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load player")
		return repository.Player{}, repository.GameSession{}, false
	}
	session, err := h.store.GetSession(r.Context(), player.SessionID)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Player not found")
		return repository.Player{}, repository.GameSession{}, false
	case err != nil:
		h.logger.Error().Err(err).Int64("session_id", player.SessionID).Msg("load session failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load session")
		return repository.Player{}, repository.GameSession{}, false
	}
	return player, session, true
}

func (h *HTTPHandlers) respondSnapshot(w http.ResponseWriter, r *http.Request, session repository.GameSession, status int) {
	snap, err := h.snapshot(r.Context(), session)
	if err != nil {
		h.logger.Error().Err(err).Str("session_code", session.Code).Msg("build session snapshot failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load session")
		return
	}
	h.respondJSON(w, status, snap)
}

func (h *HTTPHandlers) snapshot(ctx context.Context, session repository.GameSession) (ws.SessionSnapshot, error) {
	quiz, err := h.store.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return ws.SessionSnapshot{}, err
	}
	var current *repository.QuestionWithChoices
	if session.State == repository.StateRunning || session.State == repository.StatePaused {
		q, err := h.store.QuestionAt(ctx, session.QuizID, session.CurrentQuestion)
		switch {
		case errors.Is(err, repository.ErrQuestionNotFound):
		case err != nil:
			return ws.SessionSnapshot{}, err
		default:
			current = &q
		}
	}
	return buildSnapshot(ctx, h.store, session, quiz, current)
}

func (h *HTTPHandlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.PathValue(key), 10, 64)
}

func answerViews(details []repository.AnswerDetail) []AnswerView {
	views := make([]AnswerView, 0, len(details))
	for _, d := range details {
		views = append(views, AnswerView{
			ID:           d.ID,
			Player:       d.PlayerID,
			PlayerName:   d.PlayerName,
			Question:     d.QuestionID,
			QuestionText: d.QuestionText,
			Choice:       d.ChoiceID,
			ChoiceText:   d.ChoiceText,
			TimeTaken:    d.TimeTaken,
			IsCorrect:    d.IsCorrect,
			PointsEarned: d.PointsEarned,
			AnsweredAt:   d.AnsweredAt,
		})
	}
	return views
}

// sessionStatistics aggregates one session's answers into the report shape.
// Highlights consider correct answers only, and the hardest question is the
// one with the fewest correct answers, first seen winning ties.
func sessionStatistics(quiz repository.Quiz, players []repository.Player, answers []repository.AnswerDetail) SessionStatistics {
	stats := SessionStatistics{
		TotalPlayers:   len(players),
		TotalQuestions: quiz.QuestionCount,
		TotalAnswers:   len(answers),
	}

	if len(players) > 0 {
		sum := 0
		for _, p := range players {
			sum += p.Score
		}
		stats.AverageScore = roundTo(float64(sum)/float64(len(players)), 1)
	}

	correct := 0
	for _, a := range answers {
		if a.IsCorrect {
			correct++
		}
	}
	if len(answers) > 0 {
		stats.AverageAccuracy = roundTo(float64(correct)/float64(len(answers))*100, 1)
	}

	var fastest, slowest *repository.AnswerDetail
	for i := range answers {
		a := &answers[i]
		if !a.IsCorrect {
			continue
		}
		if fastest == nil || a.TimeTaken < fastest.TimeTaken {
			fastest = a
		}
		if slowest == nil || a.TimeTaken > slowest.TimeTaken {
			slowest = a
		}
	}
	if fastest != nil {
		stats.FastestAnswer = answerHighlight(*fastest)
		stats.SlowestAnswer = answerHighlight(*slowest)
	}

	type tally struct {
		text       string
		difficulty string
		correct    int
		total      int
	}
	var order []int64
	tallies := make(map[int64]*tally)
	for _, a := range answers {
		t, ok := tallies[a.QuestionID]
		if !ok {
			t = &tally{text: a.QuestionText, difficulty: a.Difficulty}
			tallies[a.QuestionID] = t
			order = append(order, a.QuestionID)
		}
		t.total++
		if a.IsCorrect {
			t.correct++
		}
	}
	var hardest *tally
	for _, id := range order {
		if t := tallies[id]; hardest == nil || t.correct < hardest.correct {
			hardest = t
		}
	}
	if hardest != nil {
		stats.HardestQuestion = &HardestQuestion{
			Text:         hardest.text,
			Difficulty:   hardest.difficulty,
			CorrectCount: hardest.correct,
			TotalCount:   hardest.total,
		}
	}
	return stats
}

func answerHighlight(a repository.AnswerDetail) *AnswerHighlight {
	return &AnswerHighlight{
		Player:   a.PlayerName,
		Time:     roundTo(a.TimeTaken, 2),
		Question: truncateRunes(a.QuestionText, 50),
	}
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
