package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pdtechteam/quiz-generator/internal/config"
	"github.com/pdtechteam/quiz-generator/internal/db/repository"
	"github.com/pdtechteam/quiz-generator/internal/game/scoring"
	"github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

// memStore is an in-memory Store with the same sentinel behavior as the
// Postgres implementation, plus transient-failure injection for retry tests.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	quizzes   map[int64]repository.Quiz
	questions map[int64][]repository.QuestionWithChoices
	sessions  map[int64]*repository.GameSession
	players   map[int64]*repository.Player
	answers   []*repository.Answer
	failures  int
}

var _ Store = (*memStore)(nil)

var errInduced = errors.New("induced store failure")

func newMemStore() *memStore {
	return &memStore{
		quizzes:   make(map[int64]repository.Quiz),
		questions: make(map[int64][]repository.QuestionWithChoices),
		sessions:  make(map[int64]*repository.GameSession),
		players:   make(map[int64]*repository.Player),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// failNext makes the next n store operations fail with a transient error.
func (m *memStore) failNext(n int) {
	m.mu.Lock()
	m.failures = n
	m.mu.Unlock()
}

func (m *memStore) induce() error {
	if m.failures > 0 {
		m.failures--
		return errInduced
	}
	return nil
}

// addQuiz seeds a quiz with one question per difficulty. Every question has
// four choices with the first one correct.
func (m *memStore) addQuiz(title string, timePerQuestion int, difficulties ...string) repository.Quiz {
	m.mu.Lock()
	defer m.mu.Unlock()
	quiz := repository.Quiz{
		ID:              m.id(),
		Title:           title,
		Topic:           title,
		QuestionCount:   len(difficulties),
		TimePerQuestion: timePerQuestion,
		CreatedAt:       time.Now(),
	}
	m.quizzes[quiz.ID] = quiz
	for i, difficulty := range difficulties {
		q := repository.QuestionWithChoices{
			Question: repository.Question{
				ID:         m.id(),
				QuizID:     quiz.ID,
				UUID:       fmt.Sprintf("q-%d-%d", quiz.ID, i+1),
				Ord:        i + 1,
				Text:       fmt.Sprintf("Question %d", i+1),
				Difficulty: difficulty,
				CreatedAt:  time.Now(),
			},
		}
		for ord := 0; ord < 4; ord++ {
			q.Choices = append(q.Choices, repository.Choice{
				ID:         m.id(),
				QuestionID: q.ID,
				Text:       fmt.Sprintf("Choice %d", ord+1),
				IsCorrect:  ord == 0,
				Ord:        ord,
			})
		}
		m.questions[quiz.ID] = append(m.questions[quiz.ID], q)
	}
	return quiz
}

func (m *memStore) addSession(quizID int64) repository.GameSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := repository.GameSession{
		ID:        m.id(),
		QuizID:    quizID,
		Code:      fmt.Sprintf("%04d", 1000+m.nextID),
		State:     repository.StateWaiting,
		CreatedAt: time.Now(),
	}
	m.sessions[session.ID] = &session
	return session
}

func (m *memStore) setSessionState(sessionID int64, state string, currentQuestion int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[sessionID]
	s.State = state
	s.CurrentQuestion = currentQuestion
}

func (m *memStore) setCode(sessionID int64, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID].Code = code
}

func (m *memStore) playerByName(sessionID int64, name string) repository.Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.players {
		if p.SessionID == sessionID && p.Name == name {
			return *p
		}
	}
	return repository.Player{}
}

func (m *memStore) setLastSeen(playerID int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[playerID].LastSeen = at
}

func (m *memStore) questionByID(id int64) *repository.QuestionWithChoices {
	for _, list := range m.questions {
		for i := range list {
			if list[i].ID == id {
				return &list[i]
			}
		}
	}
	return nil
}

func (m *memStore) GetQuiz(_ context.Context, id int64) (repository.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return repository.Quiz{}, err
	}
	quiz, ok := m.quizzes[id]
	if !ok {
		return repository.Quiz{}, repository.ErrQuizNotFound
	}
	return quiz, nil
}

func (m *memStore) QuestionAt(_ context.Context, quizID int64, index int) (repository.QuestionWithChoices, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return repository.QuestionWithChoices{}, err
	}
	list := m.questions[quizID]
	if index < 0 || index >= len(list) {
		return repository.QuestionWithChoices{}, repository.ErrQuestionNotFound
	}
	return list[index], nil
}

func (m *memStore) CountQuestions(_ context.Context, quizID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return 0, err
	}
	return len(m.questions[quizID]), nil
}

func (m *memStore) CreateSession(_ context.Context, quizID int64) (repository.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return repository.GameSession{}, err
	}
	if _, ok := m.quizzes[quizID]; !ok {
		return repository.GameSession{}, repository.ErrQuizNotFound
	}
	session := repository.GameSession{
		ID:        m.id(),
		QuizID:    quizID,
		Code:      fmt.Sprintf("%04d", 1000+m.nextID),
		State:     repository.StateWaiting,
		CreatedAt: time.Now(),
	}
	m.sessions[session.ID] = &session
	return session, nil
}

func (m *memStore) GetSession(_ context.Context, id int64) (repository.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return repository.GameSession{}, err
	}
	s, ok := m.sessions[id]
	if !ok {
		return repository.GameSession{}, repository.ErrSessionNotFound
	}
	return *s, nil
}

func (m *memStore) GetSessionByCode(_ context.Context, code string) (repository.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return repository.GameSession{}, err
	}
	var found *repository.GameSession
	for _, s := range m.sessions {
		if s.Code == code && (found == nil || s.ID > found.ID) {
			found = s
		}
	}
	if found == nil {
		return repository.GameSession{}, repository.ErrSessionNotFound
	}
	return *found, nil
}

func (m *memStore) SetState(_ context.Context, sessionID int64, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	s.State = state
	return nil
}

func (m *memStore) AdvanceQuestion(_ context.Context, sessionID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return 0, err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return 0, repository.ErrSessionNotFound
	}
	s.CurrentQuestion++
	return s.CurrentQuestion, nil
}

func (m *memStore) SetHost(_ context.Context, sessionID, playerID int64) (repository.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return repository.Player{}, err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return repository.Player{}, repository.ErrSessionNotFound
	}
	if s.HostPlayerID != nil {
		return repository.Player{}, repository.ErrAlreadyHasHost
	}
	p, ok := m.players[playerID]
	if !ok || p.SessionID != sessionID {
		return repository.Player{}, repository.ErrPlayerNotFound
	}
	p.IsHost = true
	hostID := p.ID
	s.HostPlayerID = &hostID
	return *p, nil
}

func (m *memStore) GetOrCreatePlayer(_ context.Context, sessionID int64, name string) (repository.Player, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return repository.Player{}, false, err
	}
	if _, ok := m.sessions[sessionID]; !ok {
		return repository.Player{}, false, repository.ErrSessionNotFound
	}
	for _, p := range m.players {
		if p.SessionID == sessionID && p.Name == name {
			p.Connected = true
			p.LastSeen = time.Now()
			return *p, false, nil
		}
	}
	p := &repository.Player{
		ID:        m.id(),
		SessionID: sessionID,
		Name:      name,
		Connected: true,
		LastSeen:  time.Now(),
		JoinedAt:  time.Now(),
	}
	m.players[p.ID] = p
	return *p, true, nil
}

func (m *memStore) GetPlayer(_ context.Context, id int64) (repository.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return repository.Player{}, err
	}
	p, ok := m.players[id]
	if !ok {
		return repository.Player{}, repository.ErrPlayerNotFound
	}
	return *p, nil
}

func (m *memStore) sessionPlayers(sessionID int64) []repository.Player {
	var out []repository.Player
	for _, p := range m.players {
		if p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) ListPlayers(_ context.Context, sessionID int64) ([]repository.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return nil, err
	}
	return m.sessionPlayers(sessionID), nil
}

func (m *memStore) Leaderboard(_ context.Context, sessionID int64) ([]repository.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return nil, err
	}
	out := m.sessionPlayers(sessionID)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (m *memStore) DisconnectedPlayers(_ context.Context, sessionID int64) ([]repository.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return nil, err
	}
	var out []repository.Player
	for _, p := range m.sessionPlayers(sessionID) {
		if !p.Connected {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) CountConnectedPlayers(_ context.Context, sessionID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range m.players {
		if p.SessionID == sessionID && p.Connected {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountConnectedUnanswered(_ context.Context, sessionID, questionID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range m.players {
		if p.SessionID != sessionID || !p.Connected {
			continue
		}
		answered := false
		for _, a := range m.answers {
			if a.PlayerID == p.ID && a.QuestionID == questionID {
				answered = true
				break
			}
		}
		if !answered {
			n++
		}
	}
	return n, nil
}

func (m *memStore) TouchLastSeen(_ context.Context, playerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return err
	}
	p, ok := m.players[playerID]
	if !ok {
		return repository.ErrPlayerNotFound
	}
	p.LastSeen = time.Now()
	return nil
}

func (m *memStore) MarkDisconnected(_ context.Context, playerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return err
	}
	p, ok := m.players[playerID]
	if !ok {
		return repository.ErrPlayerNotFound
	}
	p.Connected = false
	return nil
}

func (m *memStore) MarkStaleDisconnected(_ context.Context, sessionID int64, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return 0, err
	}
	var n int64
	for _, p := range m.players {
		if p.SessionID == sessionID && p.Connected && p.LastSeen.Before(cutoff) {
			p.Connected = false
			n++
		}
	}
	return n, nil
}

func (m *memStore) RecordAnswer(_ context.Context, params repository.RecordAnswerParams) (repository.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return repository.Answer{}, err
	}
	p, ok := m.players[params.PlayerID]
	if !ok {
		return repository.Answer{}, repository.ErrPlayerNotFound
	}
	q := m.questionByID(params.QuestionID)
	var choice *repository.Choice
	if q != nil {
		for i := range q.Choices {
			if q.Choices[i].ID == params.ChoiceID {
				choice = &q.Choices[i]
			}
		}
	}
	if choice == nil {
		return repository.Answer{}, repository.ErrChoiceNotFound
	}
	for _, a := range m.answers {
		if a.PlayerID == params.PlayerID && a.QuestionID == params.QuestionID {
			return repository.Answer{}, repository.ErrAlreadyAnswered
		}
	}

	points := params.Score(choice.IsCorrect, p.CurrentStreak)
	answer := &repository.Answer{
		ID:           m.id(),
		PlayerID:     params.PlayerID,
		QuestionID:   params.QuestionID,
		ChoiceID:     params.ChoiceID,
		TimeTaken:    params.TimeTaken,
		IsCorrect:    choice.IsCorrect,
		PointsEarned: points,
		AnsweredAt:   time.Now(),
	}
	m.answers = append(m.answers, answer)

	p.Score += points
	if choice.IsCorrect {
		p.CurrentStreak++
		if p.CurrentStreak > p.MaxStreak {
			p.MaxStreak = p.CurrentStreak
		}
	} else {
		p.CurrentStreak = 0
	}
	return *answer, nil
}

func (m *memStore) AnswerStats(_ context.Context, sessionID, questionID int64) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return 0, 0, err
	}
	answered, correct := 0, 0
	for _, a := range m.answers {
		p := m.players[a.PlayerID]
		if p == nil || p.SessionID != sessionID || a.QuestionID != questionID {
			continue
		}
		answered++
		if a.IsCorrect {
			correct++
		}
	}
	return answered, correct, nil
}

func (m *memStore) AnswersForAwards(_ context.Context, sessionID int64) ([]repository.AnswerStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return nil, err
	}
	var stats []repository.AnswerStat
	for _, a := range m.answers {
		p := m.players[a.PlayerID]
		if p == nil || p.SessionID != sessionID {
			continue
		}
		q := m.questionByID(a.QuestionID)
		stats = append(stats, repository.AnswerStat{
			PlayerID:   a.PlayerID,
			IsCorrect:  a.IsCorrect,
			TimeTaken:  a.TimeTaken,
			Difficulty: q.Difficulty,
			TimeLimit:  q.EffectiveTimeLimit(m.quizzes[q.QuizID]),
		})
	}
	return stats, nil
}

func (m *memStore) answerDetails(filter func(*repository.Answer) bool) []repository.AnswerDetail {
	var out []repository.AnswerDetail
	for _, a := range m.answers {
		if !filter(a) {
			continue
		}
		p := m.players[a.PlayerID]
		q := m.questionByID(a.QuestionID)
		var choiceText string
		for _, c := range q.Choices {
			if c.ID == a.ChoiceID {
				choiceText = c.Text
			}
		}
		out = append(out, repository.AnswerDetail{
			Answer:       *a,
			PlayerName:   p.Name,
			QuestionText: q.Text,
			ChoiceText:   choiceText,
			Difficulty:   q.Difficulty,
		})
	}
	return out
}

func (m *memStore) AnswersBySession(_ context.Context, sessionID int64) ([]repository.AnswerDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return nil, err
	}
	return m.answerDetails(func(a *repository.Answer) bool {
		p := m.players[a.PlayerID]
		return p != nil && p.SessionID == sessionID
	}), nil
}

func (m *memStore) AnswersByPlayer(_ context.Context, playerID int64) ([]repository.AnswerDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.induce(); err != nil {
		return nil, err
	}
	return m.answerDetails(func(a *repository.Answer) bool {
		return a.PlayerID == playerID
	}), nil
}

// fakeConn captures outbound frames in order.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ws.ErrConnectionClosed
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// ofType returns the captured frames of one event type, in order.
func (f *fakeConn) ofType(eventType string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, frame := range f.frames {
		var env ws.Envelope
		if json.Unmarshal(frame, &env) == nil && env.Type == eventType {
			out = append(out, frame)
		}
	}
	return out
}

// waitFor blocks until the n-th event of a type arrives and returns it.
func (f *fakeConn) waitFor(t *testing.T, eventType string, n int) []byte {
	t.Helper()
	var frame []byte
	require.Eventually(t, func() bool {
		frames := f.ofType(eventType)
		if len(frames) >= n {
			frame = frames[n-1]
			return true
		}
		return false
	}, 2*time.Second, 2*time.Millisecond, "no %s event #%d", eventType, n)
	return frame
}

// countErrors reports how many error events of one kind have arrived.
func (f *fakeConn) countErrors(kind string) int {
	n := 0
	for _, frame := range f.ofType(ws.TypeError) {
		var ev ws.ErrorEvent
		if json.Unmarshal(frame, &ev) == nil && ev.Kind == kind {
			n++
		}
	}
	return n
}

// waitForError blocks until an error event of the given kind arrives.
func (f *fakeConn) waitForError(t *testing.T, kind string) ws.ErrorEvent {
	t.Helper()
	var got ws.ErrorEvent
	require.Eventually(t, func() bool {
		for _, frame := range f.ofType(ws.TypeError) {
			var ev ws.ErrorEvent
			if json.Unmarshal(frame, &ev) == nil && ev.Kind == kind {
				got = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond, "no %s error", kind)
	return got
}

func decodeEvent[T any](t *testing.T, frame []byte) T {
	t.Helper()
	var ev T
	require.NoError(t, json.Unmarshal(frame, &ev))
	return ev
}

func testConfig() config.Game {
	return config.Game{
		RevealDelay:       15 * time.Millisecond,
		ResultsDisplay:    25 * time.Millisecond,
		CountdownStep:     10 * time.Millisecond,
		HeartbeatScan:     10 * time.Millisecond,
		HeartbeatTimeout:  50 * time.Millisecond,
		ReactionCooldown:  40 * time.Millisecond,
		StoreTimeout:      time.Second,
		CommandBufferSize: 16,
	}
}

// rig wires a seeded store, hub and one resolved session runtime.
type rig struct {
	t       *testing.T
	store   *memStore
	hub     *Hub
	rt      *Runtime
	quiz    repository.Quiz
	session repository.GameSession
}

func newRig(t *testing.T, difficulties ...string) *rig {
	return newRigCfg(t, testConfig(), difficulties...)
}

func newRigCfg(t *testing.T, cfg config.Game, difficulties ...string) *rig {
	t.Helper()
	store := newMemStore()
	quiz := store.addQuiz("Capitals of Europe", 20, difficulties...)
	session := store.addSession(quiz.ID)

	hub := NewHub(store, scoring.NewEngine(scoring.DefaultConfig()), cfg, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, hub.Shutdown(ctx))
	})

	rt, err := hub.Resolve(context.Background(), session.Code)
	require.NoError(t, err)
	return &rig{t: t, store: store, hub: hub, rt: rt, quiz: quiz, session: session}
}

// connect attaches a fresh connection and waits for its greeting.
func (g *rig) connect() (*Client, *fakeConn) {
	g.t.Helper()
	conn := &fakeConn{}
	c := NewClient(conn)
	g.rt.Attach(c)
	g.rt.Connected(c)
	conn.waitFor(g.t, ws.TypeSessionState, 1)
	return c, conn
}

// join connects and joins under the given name.
func (g *rig) join(name string) (*Client, *fakeConn) {
	g.t.Helper()
	c, conn := g.connect()
	g.rt.enqueue(command{kind: cmdJoin, client: c, name: name})
	conn.waitFor(g.t, ws.TypeJoined, 1)
	return c, conn
}

// host joins and claims the host seat.
func (g *rig) host(name string) (*Client, *fakeConn) {
	g.t.Helper()
	c, conn := g.join(name)
	g.rt.enqueue(command{kind: cmdBecomeHost, client: c})
	conn.waitFor(g.t, ws.TypeHostAssigned, 1)
	return c, conn
}

func (g *rig) answer(c *Client, questionUUID string, choiceID int64, timeTaken float64) {
	g.rt.enqueue(command{kind: cmdAnswer, client: c, answer: ws.AnswerFrame{
		QuestionUUID: questionUUID,
		ChoiceID:     choiceID,
		TimeTaken:    &timeTaken,
	}})
}

// questionAt fetches a seeded question straight from the store.
func (g *rig) questionAt(index int) repository.QuestionWithChoices {
	g.t.Helper()
	q, err := g.store.QuestionAt(context.Background(), g.quiz.ID, index)
	require.NoError(g.t, err)
	return q
}

func (g *rig) sessionState() string {
	s, err := g.store.GetSession(context.Background(), g.session.ID)
	require.NoError(g.t, err)
	return s.State
}
