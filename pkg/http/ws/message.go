package ws

import "time"

// Frames on the live channel are flat JSON objects discriminated by a
// "type" field. Inbound frames carry their fields next to the type;
// outbound events do the same, so clients never unwrap a payload envelope.

// Client -> Server message types.
const (
	TypeJoin         = "join"
	TypeBecomeHost   = "become_host"
	TypeStartGame    = "start_game"
	TypePauseGame    = "pause_game"
	TypeResumeGame   = "resume_game"
	TypeSkipQuestion = "skip_question"
	TypeEndGame      = "end_game"
	TypeNextQuestion = "next_question"
	TypeAnswer       = "answer"
	TypePing         = "ping"
	TypeReaction     = "reaction"
)

// Server -> Client event types.
const (
	TypeJoined           = "joined"
	TypePlayerJoined     = "player_joined"
	TypeHostAssigned     = "host_assigned"
	TypeGameStarted      = "game_started"
	TypeQuestion         = "question"
	TypeAnswerReceived   = "answer_received"
	TypeAnswerStats      = "answer_stats"
	TypeQuestionResult   = "question_result"
	TypeCountdown        = "countdown"
	TypeGamePaused       = "game_paused"
	TypeGameResumed      = "game_resumed"
	TypeHostDisconnected = "host_disconnected"
	TypePlayerReaction   = "player_reaction"
	TypeGameOver         = "game_over"
	TypeSessionState     = "session_state"
	TypePong             = "pong"
	TypeError            = "error"
)

// Envelope is the first-pass decode target used to discriminate frames.
type Envelope struct {
	Type string `json:"type"`
}

// Client frames (incoming)

type JoinFrame struct {
	Type       string `json:"type"`
	PlayerName string `json:"player_name"`
}

type AnswerFrame struct {
	Type         string   `json:"type"`
	QuestionUUID string   `json:"question_uuid"`
	ChoiceID     int64    `json:"choice_id"`
	TimeTaken    *float64 `json:"time_taken"`
}

type ReactionFrame struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

// Wire views of stored entities

// PlayerView is the wire form of a player row.
type PlayerView struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Score         int       `json:"score"`
	CurrentStreak int       `json:"current_streak"`
	MaxStreak     int       `json:"max_streak"`
	Connected     bool      `json:"connected"`
	IsHost        bool      `json:"is_host"`
	JoinedAt      time.Time `json:"joined_at"`
	SessionCode   string    `json:"session_code"`
}

// ChoiceView hides correctness from players.
type ChoiceView struct {
	ID    int64  `json:"id"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// ChoiceDetail includes the correctness flag for result reveals.
type ChoiceDetail struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
	Order     int    `json:"order"`
}

// QuestionView is the player-safe form broadcast while a question runs.
type QuestionView struct {
	UUID       string       `json:"uuid"`
	Order      int          `json:"order"`
	Text       string       `json:"text"`
	Difficulty string       `json:"difficulty"`
	ImageURL   string       `json:"image_url"`
	TimeLimit  int          `json:"time_limit"`
	Choices    []ChoiceView `json:"choices"`
}

// QuestionDetail is the full form revealed with question results.
type QuestionDetail struct {
	ID            int64          `json:"id"`
	UUID          string         `json:"uuid"`
	Order         int            `json:"order"`
	Text          string         `json:"text"`
	Difficulty    string         `json:"difficulty"`
	Explanation   string         `json:"explanation"`
	ImageURL      string         `json:"image_url"`
	TimeLimit     int            `json:"time_limit"`
	Choices       []ChoiceDetail `json:"choices"`
	CorrectChoice int64          `json:"correct_choice"`
}

type LeaderboardRow struct {
	Position      int    `json:"position"`
	PlayerID      int64  `json:"player_id"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	CurrentStreak int    `json:"current_streak"`
	Connected     bool   `json:"connected"`
	IsHost        bool   `json:"is_host"`
}

type AwardView struct {
	PlayerID    int64   `json:"player_id"`
	Name        string  `json:"name"`
	Emoji       string  `json:"emoji"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
}

// Server events (outgoing)

// PlayerEvent covers joined, player_joined and host_assigned.
type PlayerEvent struct {
	Type   string     `json:"type"`
	Player PlayerView `json:"player"`
}

// SimpleEvent covers game_started, game_paused, game_resumed and pong.
type SimpleEvent struct {
	Type string `json:"type"`
}

type QuestionEvent struct {
	Type     string       `json:"type"`
	Question QuestionView `json:"question"`
}

type AnswerReceivedEvent struct {
	Type         string `json:"type"`
	IsCorrect    bool   `json:"is_correct"`
	PointsEarned int    `json:"points_earned"`
	Reply        string `json:"reply"`
}

type AnswerStatsEvent struct {
	Type     string `json:"type"`
	Answered string `json:"answered"`
	Correct  int    `json:"correct"`
}

type QuestionResultEvent struct {
	Type        string           `json:"type"`
	Question    QuestionDetail   `json:"question"`
	Leaderboard []LeaderboardRow `json:"leaderboard"`
}

type CountdownEvent struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type HostDisconnectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PlayerReactionEvent struct {
	Type       string `json:"type"`
	PlayerID   int64  `json:"player_id"`
	PlayerName string `json:"player_name"`
	Emoji      string `json:"emoji"`
}

type GameOverEvent struct {
	Type        string               `json:"type"`
	Leaderboard []LeaderboardRow     `json:"leaderboard"`
	Awards      map[string]AwardView `json:"awards"`
}

// SessionSnapshot is the full serialized state of one session. The REST
// session endpoints return it bare; the live channel wraps it in a
// session_state event.
type SessionSnapshot struct {
	ID                    int64         `json:"id"`
	Code                  string        `json:"code"`
	State                 string        `json:"state"`
	Quiz                  int64         `json:"quiz"`
	QuizTitle             string        `json:"quiz_title"`
	CurrentQuestion       int           `json:"current_question"`
	CurrentQuestionData   *QuestionView `json:"current_question_data"`
	CreatedAt             time.Time     `json:"created_at"`
	Players               []PlayerView  `json:"players"`
	ConnectedPlayersCount int           `json:"connected_players_count"`
}

// SessionStateEvent is the snapshot sent on connect and reconnect.
type SessionStateEvent struct {
	Type string `json:"type"`
	SessionSnapshot
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
