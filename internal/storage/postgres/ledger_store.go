package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/mcledger/internal/storage"
	"github.com/jackc/pgx/v5"
)

// Update runs fn in one transaction holding the pass advisory lock.
func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", passLockKey); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	if err = fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(r storage.Reader) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()
	return fn(&ledgerTx{tx: tx})
}

type ledgerTx struct {
	tx pgx.Tx
}

const playerColumns = `id, name, online, last_online, total_play_time`

func (t *ledgerTx) GetPlayer(ctx context.Context, id string) (*storage.Player, error) {
	return scanPlayer(t.tx.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
}

func (t *ledgerTx) FindPlayerByName(ctx context.Context, name string) (*storage.Player, error) {
	return scanPlayer(t.tx.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE lower(name) = lower($1) ORDER BY id LIMIT 1`, name))
}

func (t *ledgerTx) ListPlayers(ctx context.Context) ([]storage.Player, error) {
	return t.queryPlayers(ctx, `SELECT `+playerColumns+` FROM players ORDER BY id`)
}

func (t *ledgerTx) ListOnline(ctx context.Context) ([]storage.Player, error) {
	return t.queryPlayers(ctx, `SELECT `+playerColumns+` FROM players WHERE online ORDER BY id`)
}

func (t *ledgerTx) PutPlayer(ctx context.Context, player storage.Player) error {
	var lastOnline *time.Time
	if player.LastSeen != nil {
		ts := player.LastSeen.UTC()
		lastOnline = &ts
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO players (id, name, online, last_online, total_play_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			online = EXCLUDED.online,
			last_online = EXCLUDED.last_online,
			total_play_time = EXCLUDED.total_play_time
	`, player.ID, player.Name, player.Online, lastOnline, player.TotalSeconds)
	if err != nil {
		return fmt.Errorf("put player %s: %w", player.ID, err)
	}
	return nil
}

func (t *ledgerTx) GetSessionDay(ctx context.Context, playerID, date string) (*storage.SessionDay, error) {
	day := storage.SessionDay{PlayerID: playerID, Date: date}
	err := t.tx.QueryRow(ctx,
		`SELECT time_played_in_session FROM player_sessions WHERE player_id = $1 AND date = $2::date`,
		playerID, date).Scan(&day.Seconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session day: %w", err)
	}
	return &day, nil
}

func (t *ledgerTx) ListSessionDays(ctx context.Context, from, to string) ([]storage.SessionDay, error) {
	return t.querySessionDays(ctx, `
		SELECT player_id, to_char(date, 'YYYY-MM-DD'), time_played_in_session FROM player_sessions
		WHERE date >= $1::date AND date <= $2::date
		ORDER BY date, player_id
	`, from, to)
}

func (t *ledgerTx) ListPlayerSessionDays(ctx context.Context, playerID, from, to string) ([]storage.SessionDay, error) {
	return t.querySessionDays(ctx, `
		SELECT player_id, to_char(date, 'YYYY-MM-DD'), time_played_in_session FROM player_sessions
		WHERE player_id = $1 AND date >= $2::date AND date <= $3::date
		ORDER BY date
	`, playerID, from, to)
}

func (t *ledgerTx) PutSessionDay(ctx context.Context, day storage.SessionDay) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO player_sessions (player_id, date, time_played_in_session)
		VALUES ($1, $2::date, $3)
		ON CONFLICT (player_id, date) DO UPDATE SET
			time_played_in_session = EXCLUDED.time_played_in_session
	`, day.PlayerID, day.Date, day.Seconds)
	if err != nil {
		return fmt.Errorf("put session day %s/%s: %w", day.Date, day.PlayerID, err)
	}
	return nil
}

func (t *ledgerTx) queryPlayers(ctx context.Context, query string, args ...any) ([]storage.Player, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

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
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session days: %w", err)
	}
	defer rows.Close()

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

func scanPlayer(row pgx.Row) (*storage.Player, error) {
	var (
		player     storage.Player
		lastOnline *time.Time
	)
	err := row.Scan(&player.ID, &player.Name, &player.Online, &lastOnline, &player.TotalSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan player: %w", err)
	}
	player.LastSeen = lastOnline
	return &player, nil
}
