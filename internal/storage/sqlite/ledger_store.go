package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/mcledger/internal/storage"
)

// Update runs fn in one immediate transaction. Any error or panic rolls back.
func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&ledgerTx{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(r storage.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&ledgerTx{q: tx})
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ledgerTx struct {
	q querier
}

const playerColumns = `id, name, online, last_online, total_play_time`

func (t *ledgerTx) GetPlayer(ctx context.Context, id string) (*storage.Player, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	return scanPlayer(row)
}

func (t *ledgerTx) FindPlayerByName(ctx context.Context, name string) (*storage.Player, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE name = ? COLLATE NOCASE ORDER BY id LIMIT 1`, name)
	return scanPlayer(row)
}

func (t *ledgerTx) ListPlayers(ctx context.Context) ([]storage.Player, error) {
	return t.queryPlayers(ctx, `SELECT `+playerColumns+` FROM players ORDER BY id`)
}

func (t *ledgerTx) ListOnline(ctx context.Context) ([]storage.Player, error) {
	return t.queryPlayers(ctx, `SELECT `+playerColumns+` FROM players WHERE online = 1 ORDER BY id`)
}

func (t *ledgerTx) PutPlayer(ctx context.Context, player storage.Player) error {
	var lastOnline any
	if player.LastSeen != nil {
		lastOnline = player.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO players (id, name, online, last_online, total_play_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			online = excluded.online,
			last_online = excluded.last_online,
			total_play_time = excluded.total_play_time
	`, player.ID, player.Name, boolToInt(player.Online), lastOnline, player.TotalSeconds)
	if err != nil {
		return fmt.Errorf("put player %s: %w", player.ID, err)
	}
	return nil
}

func (t *ledgerTx) GetSessionDay(ctx context.Context, playerID, date string) (*storage.SessionDay, error) {
	day := storage.SessionDay{PlayerID: playerID, Date: date}
	err := t.q.QueryRowContext(ctx,
		`SELECT time_played_in_session FROM player_sessions WHERE player_id = ? AND date = ?`,
		playerID, date).Scan(&day.Seconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session day: %w", err)
	}
	return &day, nil
}

func (t *ledgerTx) ListSessionDays(ctx context.Context, from, to string) ([]storage.SessionDay, error) {
	return t.querySessionDays(ctx, `
		SELECT player_id, date, time_played_in_session FROM player_sessions
		WHERE date >= ? AND date <= ?
		ORDER BY date, player_id
	`, from, to)
}

func (t *ledgerTx) ListPlayerSessionDays(ctx context.Context, playerID, from, to string) ([]storage.SessionDay, error) {
	return t.querySessionDays(ctx, `
		SELECT player_id, date, time_played_in_session FROM player_sessions
		WHERE player_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, playerID, from, to)
}

func (t *ledgerTx) PutSessionDay(ctx context.Context, day storage.SessionDay) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO player_sessions (player_id, date, time_played_in_session)
		VALUES (?, ?, ?)
		ON CONFLICT(player_id, date) DO UPDATE SET
			time_played_in_session = excluded.time_played_in_session
	`, day.PlayerID, day.Date, day.Seconds)
	if err != nil {
		return fmt.Errorf("put session day %s/%s: %w", day.Date, day.PlayerID, err)
	}
	return nil
}

func (t *ledgerTx) queryPlayers(ctx context.Context, query string, args ...any) ([]storage.Player, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer func() { _ = rows.Close() }()

	players := make([]storage.Player, 0)
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *player)
	}
	return players, rows.Err()
}

func (t *ledgerTx) querySessionDays(ctx context.Context, query string, args ...any) ([]storage.SessionDay, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session days: %w", err)
	}
	defer func() { _ = rows.Close() }()

	days := make([]storage.SessionDay, 0)
	for rows.Next() {
		var day storage.SessionDay
		if err := rows.Scan(&day.PlayerID, &day.Date, &day.Seconds); err != nil {
			return nil, fmt.Errorf("scan session day: %w", err)
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlayer(s scanner) (*storage.Player, error) {
	var (
		player     storage.Player
		online     int
		lastOnline sql.NullString
	)
	err := s.Scan(&player.ID, &player.Name, &online, &lastOnline, &player.TotalSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan player: %w", err)
	}
	player.Online = online != 0
	if lastOnline.Valid && lastOnline.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, lastOnline.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_online for %s: %w", player.ID, err)
		}
		player.LastSeen = &ts
	}
	return &player, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
