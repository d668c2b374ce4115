package repository

import "time"

// Quiz is a reusable bank of questions on a topic.
type Quiz struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Topic           string    `json:"topic"`
	Description     string    `json:"description"`
	ImageURL        string    `json:"image_url"`
	QuestionCount   int       `json:"question_count"`
	TimePerQuestion int       `json:"time_per_question"`
	CreatedAt       time.Time `json:"created_at"`
}

// Question is a single quiz question. Ord is 1-based within the quiz.
type Question struct {
	ID               int64     `json:"id"`
	QuizID           int64     `json:"quiz_id"`
	UUID             string    `json:"uuid"`
	Ord              int       `json:"order"`
	Text             string    `json:"text"`
	Difficulty       string    `json:"difficulty"`
	Explanation      string    `json:"explanation"`
	ImageURL         string    `json:"image_url"`
	TimeLimit        int       `json:"time_limit"`
	GeneratedByModel bool      `json:"generated_by_model"`
	CreatedAt        time.Time `json:"created_at"`
}

// EffectiveTimeLimit resolves the per-question override against the quiz default.
func (q Question) EffectiveTimeLimit(quiz Quiz) int {
	if q.TimeLimit > 0 {
		return q.TimeLimit
	}
	return quiz.TimePerQuestion
}

// Choice is one of exactly four options on a question. Ord is 0-based.
type Choice struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"is_correct"`
	Ord        int    `json:"order"`
}

// QuestionWithChoices bundles a question with its four choices, ordered by Ord.
type QuestionWithChoices struct {
	Question
	Choices []Choice `json:"choices"`
}

// CorrectChoice returns the correct option, or nil if the question is malformed.
func (q QuestionWithChoices) CorrectChoice() *Choice {
	for i := range q.Choices {
		if q.Choices[i].IsCorrect {
			return &q.Choices[i]
		}
	}
	return nil
}

// Session states.
const (
	StateWaiting  = "waiting"
	StateRunning  = "running"
	StatePaused   = "paused"
	StateFinished = "finished"
)

// GameSession is one live play-through of a quiz, addressed by a 4-digit code.
type GameSession struct {
	ID              int64      `json:"id"`
	QuizID          int64      `json:"quiz_id"`
	Code            string     `json:"code"`
	State           string     `json:"state"`
	CurrentQuestion int        `json:"current_question"`
	HostPlayerID    *int64     `json:"host_player_id"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
}

// Player is a participant in one session, unique by display name.
type Player struct {
	ID            int64     `json:"id"`
	SessionID     int64     `json:"session_id"`
	Name          string    `json:"name"`
	Score         int       `json:"score"`
	CurrentStreak int       `json:"current_streak"`
	MaxStreak     int       `json:"max_streak"`
	Connected     bool      `json:"connected"`
	LastSeen      time.Time `json:"last_seen"`
	IsHost        bool      `json:"is_host"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Answer is a player's single recorded attempt at a question.
type Answer struct {
	ID           int64     `json:"id"`
	PlayerID     int64     `json:"player_id"`
	QuestionID   int64     `json:"question_id"`
	ChoiceID     int64     `json:"choice_id"`
	TimeTaken    float64   `json:"time_taken"`
	IsCorrect    bool      `json:"is_correct"`
	PointsEarned int       `json:"points_earned"`
	AnsweredAt   time.Time `json:"answered_at"`
}

// AnswerDetail is an answer joined with display fields for reporting endpoints.
type AnswerDetail struct {
	Answer
	PlayerName   string `json:"player_name"`
	QuestionText string `json:"question_text"`
	ChoiceText   string `json:"choice_text"`
	Difficulty   string `json:"difficulty"`
}

// AnswerStat is the per-answer slice used for end-of-game award calculation.
type AnswerStat struct {
	PlayerID   int64
	IsCorrect  bool
	TimeTaken  float64
	Difficulty string
	TimeLimit  int
}

// ChoiceInput is one option supplied when attaching questions to a quiz.
type ChoiceInput struct {
	Text      string
	IsCorrect bool
}

// QuestionInput is a question supplied when attaching questions to a quiz.
// Ord and UUID are assigned by the store.
type QuestionInput struct {
	Text             string
	Difficulty       string
	Explanation      string
	ImageURL         string
	TimeLimit        int
	GeneratedByModel bool
	Choices          []ChoiceInput
}

// CreateQuizParams carries the fields for a new quiz row.
type CreateQuizParams struct {
	Title           string
	Topic           string
	Description     string
	ImageURL        string
	TimePerQuestion int
}

// ScoreFunc computes the points for an answer given its correctness and the
// player's streak before the answer was recorded. Supplied by the caller so
// the store stays free of scoring policy.
type ScoreFunc func(isCorrect bool, streakBefore int) int

// RecordAnswerParams carries everything needed to persist one answer.
type RecordAnswerParams struct {
	PlayerID   int64
	QuestionID int64
	ChoiceID   int64
	TimeTaken  float64
	Score      ScoreFunc
}
