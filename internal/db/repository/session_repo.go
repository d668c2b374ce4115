package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5"
)

// codeAttempts bounds the search for a free 4-digit session code.
const codeAttempts = 100

const sessionColumns = "id, quiz_id, code, state, current_question, host_player_id, created_at, started_at, finished_at"

func scanSession(row pgx.Row) (GameSession, error) {
	var gs GameSession
	err := row.Scan(&gs.ID, &gs.QuizID, &gs.Code, &gs.State, &gs.CurrentQuestion,
		&gs.HostPlayerID, &gs.CreatedAt, &gs.StartedAt, &gs.FinishedAt)
	return gs, err
}

// CreateSession opens a new session for a quiz under a random 4-digit code.
// Codes held by finished sessions are free for reuse; only live sessions
// collide. Returns ErrCodeSpaceExhausted when no free code turns up.
func (s *Store) CreateSession(ctx context.Context, quizID int64) (GameSession, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := fmt.Sprintf("%04d", rand.Intn(10000))
		row := s.pool.QueryRow(ctx, `
			INSERT INTO game_sessions (quiz_id, code)
			VALUES ($1, $2)
			RETURNING `+sessionColumns, quizID, code)
		session, err := scanSession(row)
		if err == nil {
			return session, nil
		}
		if isUniqueViolation(err) {
			continue
		}
		if isForeignKeyViolation(err) {
			return GameSession{}, ErrQuizNotFound
		}
		return GameSession{}, fmt.Errorf("create session: %w", err)
	}
	return GameSession{}, ErrCodeSpaceExhausted
}

// GetSession fetches a session by primary key.
func (s *Store) GetSession(ctx context.Context, id int64) (GameSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return GameSession{}, ErrSessionNotFound
	}
	if err != nil {
		return GameSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// GetSessionByCode resolves a code to its most recent session, which is the
// live one whenever a live session holds the code.
func (s *Store) GetSessionByCode(ctx context.Context, code string) (GameSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM game_sessions WHERE code = $1 ORDER BY id DESC LIMIT 1`, code)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return GameSession{}, ErrSessionNotFound
	}
	if err != nil {
		return GameSession{}, fmt.Errorf("get session by code: %w", err)
	}
	return session, nil
}

// SetState transitions a session, stamping started_at on the first move to
// running and finished_at on finish.
func (s *Store) SetState(ctx context.Context, sessionID int64, state string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE game_sessions
		SET state = $2,
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
		    finished_at = CASE WHEN $2 = 'finished' THEN now() ELSE finished_at END
		WHERE id = $1`, sessionID, state)
	if err != nil {
		return fmt.Errorf("set session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AdvanceQuestion bumps the current question counter and returns its new value.
func (s *Store) AdvanceQuestion(ctx context.Context, sessionID int64) (int, error) {
	var current int
	err := s.pool.QueryRow(ctx, `
		UPDATE game_sessions SET current_question = current_question + 1
		WHERE id = $1
		RETURNING current_question`, sessionID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("advance question: %w", err)
	}
	return current, nil
}

// SetHost claims the host seat for a player. The seat must be empty: any
// existing host, including the claimant, fails with ErrAlreadyHasHost.
func (s *Store) SetHost(ctx context.Context, sessionID, playerID int64) (Player, error) {
	var player Player
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var hostID *int64
		err := tx.QueryRow(ctx,
			`SELECT host_player_id FROM game_sessions WHERE id = $1 FOR UPDATE`, sessionID,
		).Scan(&hostID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if hostID != nil {
			return ErrAlreadyHasHost
		}

		row := tx.QueryRow(ctx, `
			UPDATE players SET is_host = true
			WHERE id = $1 AND session_id = $2
			RETURNING `+playerColumns, playerID, sessionID)
		player, err = scanPlayer(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPlayerNotFound
		}
		if err != nil {
			return fmt.Errorf("mark host: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE game_sessions SET host_player_id = $2 WHERE id = $1`, sessionID, playerID); err != nil {
			return fmt.Errorf("set host: %w", err)
		}
		return nil
	})
	if err != nil {
		return Player{}, err
	}
	return player, nil
}
