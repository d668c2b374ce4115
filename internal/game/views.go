package game

import (
	"context"

	"github.com/pdtechteam/quiz-generator/internal/db/repository"
	"github.com/pdtechteam/quiz-generator/internal/game/awards"
	"github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

func playerView(p repository.Player, sessionCode string) ws.PlayerView {
	return ws.PlayerView{
		ID:            p.ID,
		Name:          p.Name,
		Score:         p.Score,
		CurrentStreak: p.CurrentStreak,
		MaxStreak:     p.MaxStreak,
		Connected:     p.Connected,
		IsHost:        p.IsHost,
		JoinedAt:      p.JoinedAt,
		SessionCode:   sessionCode,
	}
}

func playerViews(players []repository.Player, sessionCode string) []ws.PlayerView {
	views := make([]ws.PlayerView, 0, len(players))
	for _, p := range players {
		views = append(views, playerView(p, sessionCode))
	}
	return views
}

// questionView is the player-safe form: no correctness flags, no explanation.
func questionView(quiz repository.Quiz, q repository.QuestionWithChoices) ws.QuestionView {
	choices := make([]ws.ChoiceView, 0, len(q.Choices))
	for _, c := range q.Choices {
		choices = append(choices, ws.ChoiceView{
			ID:    c.ID,
			Text:  c.Text,
			Order: c.Ord,
		})
	}
	return ws.QuestionView{
		UUID:       q.UUID,
		Order:      q.Ord,
		Text:       q.Text,
		Difficulty: q.Difficulty,
		ImageURL:   q.ImageURL,
		TimeLimit:  q.EffectiveTimeLimit(quiz),
		Choices:    choices,
	}
}

// questionDetailView is the reveal form with correctness and explanation.
func questionDetailView(quiz repository.Quiz, q repository.QuestionWithChoices) ws.QuestionDetail {
	choices := make([]ws.ChoiceDetail, 0, len(q.Choices))
	for _, c := range q.Choices {
		choices = append(choices, ws.ChoiceDetail{
			ID:        c.ID,
			Text:      c.Text,
			IsCorrect: c.IsCorrect,
			Order:     c.Ord,
		})
	}
	detail := ws.QuestionDetail{
		ID:          q.ID,
		UUID:        q.UUID,
		Order:       q.Ord,
		Text:        q.Text,
		Difficulty:  q.Difficulty,
		Explanation: q.Explanation,
		ImageURL:    q.ImageURL,
		TimeLimit:   q.EffectiveTimeLimit(quiz),
		Choices:     choices,
	}
	if correct := q.CorrectChoice(); correct != nil {
		detail.CorrectChoice = correct.ID
	}
	return detail
}

// leaderboardRows positions players 1-based in the order the store returns
// them (score descending, earliest join breaking ties).
func leaderboardRows(players []repository.Player) []ws.LeaderboardRow {
	rows := make([]ws.LeaderboardRow, 0, len(players))
	for i, p := range players {
		rows = append(rows, ws.LeaderboardRow{
			Position:      i + 1,
			PlayerID:      p.ID,
			Name:          p.Name,
			Score:         p.Score,
			CurrentStreak: p.CurrentStreak,
			Connected:     p.Connected,
			IsHost:        p.IsHost,
		})
	}
	return rows
}

func awardPlayers(players []repository.Player) []awards.Player {
	out := make([]awards.Player, 0, len(players))
	for _, p := range players {
		out = append(out, awards.Player{
			ID:        p.ID,
			Name:      p.Name,
			MaxStreak: p.MaxStreak,
			JoinedAt:  p.JoinedAt,
		})
	}
	return out
}

func awardAnswers(stats []repository.AnswerStat) []awards.Answer {
	out := make([]awards.Answer, 0, len(stats))
	for _, st := range stats {
		out = append(out, awards.Answer{
			PlayerID:   st.PlayerID,
			IsCorrect:  st.IsCorrect,
			TimeTaken:  st.TimeTaken,
			Difficulty: st.Difficulty,
			TimeLimit:  st.TimeLimit,
		})
	}
	return out
}

func awardViews(granted map[string]awards.Award) map[string]ws.AwardView {
	views := make(map[string]ws.AwardView, len(granted))
	for key, a := range granted {
		views[key] = ws.AwardView{
			PlayerID:    a.PlayerID,
			Name:        a.Name,
			Emoji:       a.Emoji,
			Value:       a.Value,
			Description: a.Description,
		}
	}
	return views
}

// buildSnapshot assembles the full session_state payload. current carries the
// in-progress question when the session is running or paused, nil otherwise;
// the caller resolves it so the runtime can reuse its cached question.
func buildSnapshot(ctx context.Context, store Store, session repository.GameSession, quiz repository.Quiz, current *repository.QuestionWithChoices) (ws.SessionSnapshot, error) {
	players, err := store.ListPlayers(ctx, session.ID)
	if err != nil {
		return ws.SessionSnapshot{}, err
	}

	connected := 0
	for _, p := range players {
		if p.Connected {
			connected++
		}
	}

	snap := ws.SessionSnapshot{
		ID:                    session.ID,
		Code:                  session.Code,
		State:                 session.State,
		Quiz:                  quiz.ID,
		QuizTitle:             quiz.Title,
		CurrentQuestion:       session.CurrentQuestion,
		CreatedAt:             session.CreatedAt,
		Players:               playerViews(players, session.Code),
		ConnectedPlayersCount: connected,
	}
	if current != nil && (session.State == repository.StateRunning || session.State == repository.StatePaused) {
		view := questionView(quiz, *current)
		snap.CurrentQuestionData = &view
	}
	return snap, nil
}
