package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RecordAnswer persists one answer atomically: it locks the player row,
// resolves correctness from the chosen option, scores the answer against the
// streak the player held before it, inserts the answer and folds score and
// streaks back into the player. A repeat answer for the same question rolls
// back with ErrAlreadyAnswered.
func (s *Store) RecordAnswer(ctx context.Context, params RecordAnswerParams) (Answer, error) {
	var answer Answer
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var streakBefore int
		err := tx.QueryRow(ctx,
			`SELECT current_streak FROM players WHERE id = $1 FOR UPDATE`, params.PlayerID,
		).Scan(&streakBefore)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPlayerNotFound
		}
		if err != nil {
			return fmt.Errorf("lock player: %w", err)
		}

		var isCorrect bool
		err = tx.QueryRow(ctx,
			`SELECT is_correct FROM choices WHERE id = $1 AND question_id = $2`,
			params.ChoiceID, params.QuestionID,
		).Scan(&isCorrect)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChoiceNotFound
		}
		if err != nil {
			return fmt.Errorf("resolve choice: %w", err)
		}

		points := params.Score(isCorrect, streakBefore)

		row := tx.QueryRow(ctx, `
			INSERT INTO answers (player_id, question_id, choice_id, time_taken, is_correct, points_earned)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, player_id, question_id, choice_id, time_taken, is_correct, points_earned, answered_at`,
			params.PlayerID, params.QuestionID, params.ChoiceID, params.TimeTaken, isCorrect, points)
		if err := row.Scan(&answer.ID, &answer.PlayerID, &answer.QuestionID, &answer.ChoiceID,
			&answer.TimeTaken, &answer.IsCorrect, &answer.PointsEarned, &answer.AnsweredAt); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyAnswered
			}
			return fmt.Errorf("insert answer: %w", err)
		}

		newStreak := 0
		if isCorrect {
			newStreak = streakBefore + 1
		}
		if _, err := tx.Exec(ctx, `
			UPDATE players
			SET score = score + $2,
			    current_streak = $3,
			    max_streak = GREATEST(max_streak, $3)
			WHERE id = $1`, params.PlayerID, points, newStreak); err != nil {
			return fmt.Errorf("apply score: %w", err)
		}
		return nil
	})
	if err != nil {
		return Answer{}, err
	}
	return answer, nil
}

// AnswerStats counts how many of the session's players answered a question
// and how many of those answers were correct.
func (s *Store) AnswerStats(ctx context.Context, sessionID, questionID int64) (answered, correct int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE a.is_correct)
		FROM answers a
		JOIN players p ON p.id = a.player_id
		WHERE a.question_id = $1 AND p.session_id = $2`, questionID, sessionID,
	).Scan(&answered, &correct)
	if err != nil {
		return 0, 0, fmt.Errorf("answer stats: %w", err)
	}
	return answered, correct, nil
}

// AnswersForAwards returns the per-answer slice the award calculation needs,
// with each answer's effective time limit already resolved.
func (s *Store) AnswersForAwards(ctx context.Context, sessionID int64) ([]AnswerStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.player_id, a.is_correct, a.time_taken, q.difficulty,
		       CASE WHEN q.time_limit > 0 THEN q.time_limit ELSE z.time_per_question END
		FROM answers a
		JOIN players p ON p.id = a.player_id
		JOIN questions q ON q.id = a.question_id
		JOIN quizzes z ON z.id = q.quiz_id
		WHERE p.session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("answers for awards: %w", err)
	}
	defer rows.Close()

	var stats []AnswerStat
	for rows.Next() {
		var st AnswerStat
		if err := rows.Scan(&st.PlayerID, &st.IsCorrect, &st.TimeTaken, &st.Difficulty, &st.TimeLimit); err != nil {
			return nil, fmt.Errorf("scan answer stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

const answerDetailQuery = `
	SELECT a.id, a.player_id, a.question_id, a.choice_id, a.time_taken, a.is_correct, a.points_earned, a.answered_at,
	       p.name, q.text, c.text, q.difficulty
	FROM answers a
	JOIN players p ON p.id = a.player_id
	JOIN questions q ON q.id = a.question_id
	JOIN choices c ON c.id = a.choice_id`

// AnswersBySession returns every answer recorded in a session with display
// fields attached, oldest first.
func (s *Store) AnswersBySession(ctx context.Context, sessionID int64) ([]AnswerDetail, error) {
	return s.queryAnswerDetails(ctx,
		answerDetailQuery+` WHERE p.session_id = $1 ORDER BY a.answered_at, a.id`, sessionID)
}

// AnswersByPlayer returns one player's answers with display fields attached,
// oldest first.
func (s *Store) AnswersByPlayer(ctx context.Context, playerID int64) ([]AnswerDetail, error) {
	return s.queryAnswerDetails(ctx,
		answerDetailQuery+` WHERE a.player_id = $1 ORDER BY a.answered_at, a.id`, playerID)
}

func (s *Store) queryAnswerDetails(ctx context.Context, sql string, args ...any) ([]AnswerDetail, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	var details []AnswerDetail
	for rows.Next() {
		var d AnswerDetail
		if err := rows.Scan(&d.ID, &d.PlayerID, &d.QuestionID, &d.ChoiceID, &d.TimeTaken,
			&d.IsCorrect, &d.PointsEarned, &d.AnsweredAt,
			&d.PlayerName, &d.QuestionText, &d.ChoiceText, &d.Difficulty); err != nil {
			return nil, fmt.Errorf("scan answer detail: %w", err)
		}
		details = append(details, d)
	}
	return details, rows.Err()
}
