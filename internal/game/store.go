package game

import (
	"context"
	"time"

	"github.com/pdtechteam/quiz-generator/internal/db/repository"
)

// Store is the persistence surface the session hub, runtime and REST facade
// consume. *repository.Store implements it.
type Store interface {
	GetQuiz(ctx context.Context, id int64) (repository.Quiz, error)
	QuestionAt(ctx context.Context, quizID int64, index int) (repository.QuestionWithChoices, error)
	CountQuestions(ctx context.Context, quizID int64) (int, error)

	CreateSession(ctx context.Context, quizID int64) (repository.GameSession, error)
	GetSession(ctx context.Context, id int64) (repository.GameSession, error)
	GetSessionByCode(ctx context.Context, code string) (repository.GameSession, error)
	SetState(ctx context.Context, sessionID int64, state string) error
	AdvanceQuestion(ctx context.Context, sessionID int64) (int, error)
	SetHost(ctx context.Context, sessionID, playerID int64) (repository.Player, error)

	GetOrCreatePlayer(ctx context.Context, sessionID int64, name string) (repository.Player, bool, error)
	GetPlayer(ctx context.Context, id int64) (repository.Player, error)
	ListPlayers(ctx context.Context, sessionID int64) ([]repository.Player, error)
	Leaderboard(ctx context.Context, sessionID int64) ([]repository.Player, error)
	DisconnectedPlayers(ctx context.Context, sessionID int64) ([]repository.Player, error)
	CountConnectedPlayers(ctx context.Context, sessionID int64) (int, error)
	CountConnectedUnanswered(ctx context.Context, sessionID, questionID int64) (int, error)
	TouchLastSeen(ctx context.Context, playerID int64) error
	MarkDisconnected(ctx context.Context, playerID int64) error
	MarkStaleDisconnected(ctx context.Context, sessionID int64, cutoff time.Time) (int64, error)

	RecordAnswer(ctx context.Context, params repository.RecordAnswerParams) (repository.Answer, error)
	AnswerStats(ctx context.Context, sessionID, questionID int64) (answered, correct int, err error)
	AnswersForAwards(ctx context.Context, sessionID int64) ([]repository.AnswerStat, error)
	AnswersBySession(ctx context.Context, sessionID int64) ([]repository.AnswerDetail, error)
	AnswersByPlayer(ctx context.Context, playerID int64) ([]repository.AnswerDetail, error)
}

var _ Store = (*repository.Store)(nil)
