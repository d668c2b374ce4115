package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const playerColumns = "id, session_id, name, score, current_streak, max_streak, connected, last_seen, is_host, joined_at"

func scanPlayer(row pgx.Row) (Player, error) {
	var p Player
	err := row.Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &p.CurrentStreak,
		&p.MaxStreak, &p.Connected, &p.LastSeen, &p.IsHost, &p.JoinedAt)
	return p, err
}

// GetOrCreatePlayer joins a player into a session by display name. An
// existing name reconnects that player (connected flag and last_seen are
// refreshed, score and streaks survive); a new name creates a fresh row.
// The second return reports whether the player was created.
func (s *Store) GetOrCreatePlayer(ctx context.Context, sessionID int64, name string) (Player, bool, error) {
	player, created, err := s.getOrCreatePlayer(ctx, sessionID, name)
	if isUniqueViolation(err) {
		// Lost a create race to a simultaneous join with the same name;
		// the row exists now, so the retry takes the reconnect path.
		player, created, err = s.getOrCreatePlayer(ctx, sessionID, name)
	}
	return player, created, err
}

func (s *Store) getOrCreatePlayer(ctx context.Context, sessionID int64, name string) (Player, bool, error) {
	var player Player
	created := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+playerColumns+` FROM players WHERE session_id = $1 AND name = $2 FOR UPDATE`,
			sessionID, name)
		existing, err := scanPlayer(row)
		if errors.Is(err, pgx.ErrNoRows) {
			row = tx.QueryRow(ctx, `
				INSERT INTO players (session_id, name)
				VALUES ($1, $2)
				RETURNING `+playerColumns, sessionID, name)
			player, err = scanPlayer(row)
			if err != nil {
				return err
			}
			created = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("find player: %w", err)
		}

		row = tx.QueryRow(ctx, `
			UPDATE players SET connected = true, last_seen = now()
			WHERE id = $1
			RETURNING `+playerColumns, existing.ID)
		player, err = scanPlayer(row)
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return Player{}, false, ErrSessionNotFound
		}
		return Player{}, false, err
	}
	return player, created, nil
}

// GetPlayer fetches one player by id.
func (s *Store) GetPlayer(ctx context.Context, id int64) (Player, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	player, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Player{}, ErrPlayerNotFound
	}
	if err != nil {
		return Player{}, fmt.Errorf("get player: %w", err)
	}
	return player, nil
}

// ListPlayers returns every player of a session in join order.
func (s *Store) ListPlayers(ctx context.Context, sessionID int64) ([]Player, error) {
	return s.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM players WHERE session_id = $1 ORDER BY joined_at, id`, sessionID)
}

// Leaderboard returns every player of a session ordered by score descending,
// ties broken by earliest join.
func (s *Store) Leaderboard(ctx context.Context, sessionID int64) ([]Player, error) {
	return s.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM players WHERE session_id = $1 ORDER BY score DESC, joined_at, id`,
		sessionID)
}

// DisconnectedPlayers returns the session's currently disconnected players.
func (s *Store) DisconnectedPlayers(ctx context.Context, sessionID int64) ([]Player, error) {
	return s.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM players WHERE session_id = $1 AND NOT connected ORDER BY joined_at, id`,
		sessionID)
}

func (s *Store) queryPlayers(ctx context.Context, sql string, args ...any) ([]Player, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// CountConnectedPlayers returns how many players of a session are connected.
func (s *Store) CountConnectedPlayers(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM players WHERE session_id = $1 AND connected`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count connected players: %w", err)
	}
	return n, nil
}

// CountConnectedUnanswered returns how many connected players of a session
// have no answer for the question yet. Answers from players who disconnected
// afterwards do not make up for connected players still missing theirs.
func (s *Store) CountConnectedUnanswered(ctx context.Context, sessionID, questionID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM players p
		WHERE p.session_id = $1 AND p.connected
		  AND NOT EXISTS (SELECT 1 FROM answers a WHERE a.player_id = p.id AND a.question_id = $2)`,
		sessionID, questionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count connected unanswered: %w", err)
	}
	return n, nil
}

// TouchLastSeen refreshes a player's liveness timestamp, reconnecting them
// if a heartbeat sweep had marked them disconnected.
func (s *Store) TouchLastSeen(ctx context.Context, playerID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET last_seen = now(), connected = true WHERE id = $1`, playerID)
	if err != nil {
		return fmt.Errorf("touch last_seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// MarkDisconnected flips a player's connected flag off.
func (s *Store) MarkDisconnected(ctx context.Context, playerID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET connected = false WHERE id = $1`, playerID)
	if err != nil {
		return fmt.Errorf("mark disconnected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// MarkStaleDisconnected flips off every connected player of the session whose
// last_seen is older than the cutoff and returns how many were flipped.
func (s *Store) MarkStaleDisconnected(ctx context.Context, sessionID int64, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE players SET connected = false
		WHERE session_id = $1 AND connected AND last_seen < $2`, sessionID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale disconnected: %w", err)
	}
	return tag.RowsAffected(), nil
}
