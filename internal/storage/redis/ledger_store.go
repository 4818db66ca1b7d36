package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goodtune/mcledger/internal/storage"
	"github.com/redis/go-redis/v9"
)

type watchFunc func(ctx context.Context, keys ...string) *redis.StatusCmd

type sessionRef struct {
	date     string
	playerID string
}

// ledgerTx reads through a pending overlay so a pass sees its own writes.
// A nil watch marks a read-only view.
type ledgerTx struct {
	cmd      redis.Cmdable
	watch    watchFunc
	players  map[string]storage.Player
	sessions map[sessionRef]storage.SessionDay
}

func newLedgerTx(cmd redis.Cmdable, watch watchFunc) *ledgerTx {
	return &ledgerTx{
		cmd:      cmd,
		watch:    watch,
		players:  make(map[string]storage.Player),
		sessions: make(map[sessionRef]storage.SessionDay),
	}
}

func (t *ledgerTx) watchKeys(ctx context.Context, keys ...string) error {
	if t.watch == nil {
		return nil
	}
	if err := t.watch(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("watch %s: %w", strings.Join(keys, ","), err)
	}
	return nil
}

func (t *ledgerTx) GetPlayer(ctx context.Context, id string) (*storage.Player, error) {
	if p, ok := t.players[id]; ok {
		return &p, nil
	}
	key := playerKey(id)
	if err := t.watchKeys(ctx, key); err != nil {
		return nil, err
	}
	data, err := t.cmd.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", id, err)
	}
	return parsePlayer(data)
}

func (t *ledgerTx) FindPlayerByName(ctx context.Context, name string) (*storage.Player, error) {
	players, err := t.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		if strings.EqualFold(p.Name, name) {
			return &p, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (t *ledgerTx) ListPlayers(ctx context.Context) ([]storage.Player, error) {
	ids, err := t.cmd.SMembers(ctx, keyPlayersAll).Result()
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	set := make(map[string]struct{}, len(ids)+len(t.players))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for id := range t.players {
		set[id] = struct{}{}
	}
	return t.loadPlayers(ctx, set)
}

func (t *ledgerTx) ListOnline(ctx context.Context) ([]storage.Player, error) {
	ids, err := t.cmd.SMembers(ctx, keyPlayersOnline).Result()
	if err != nil {
		return nil, fmt.Errorf("list online players: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for id, p := range t.players {
		if p.Online {
			set[id] = struct{}{}
		} else {
			delete(set, id)
		}
	}
	return t.loadPlayers(ctx, set)
}

func (t *ledgerTx) loadPlayers(ctx context.Context, ids map[string]struct{}) ([]storage.Player, error) {
	players := make([]storage.Player, 0, len(ids))
	for id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := t.GetPlayer(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			// Index entry without a hash; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	storage.SortPlayers(players)
	return players, nil
}

func (t *ledgerTx) PutPlayer(ctx context.Context, player storage.Player) error {
	if t.watch == nil {
		return fmt.Errorf("put player %s: read-only transaction", player.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if player.LastSeen != nil {
		ts := player.LastSeen.UTC()
		player.LastSeen = &ts
	}
	t.players[player.ID] = player
	return nil
}

func (t *ledgerTx) GetSessionDay(ctx context.Context, playerID, date string) (*storage.SessionDay, error) {
	if day, ok := t.sessions[sessionRef{date: date, playerID: playerID}]; ok {
		return &day, nil
	}
	key := sessionsKey(date)
	if err := t.watchKeys(ctx, key); err != nil {
		return nil, err
	}
	raw, err := t.cmd.HGet(ctx, key, playerID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session day: %w", err)
	}
	seconds, err := parseSeconds(raw)
	if err != nil {
		return nil, err
	}
	return &storage.SessionDay{PlayerID: playerID, Date: date, Seconds: seconds}, nil
}

func (t *ledgerTx) ListSessionDays(ctx context.Context, from, to string) ([]storage.SessionDay, error) {
	dates, err := storage.DatesBetween(from, to)
	if err != nil {
		return nil, err
	}

	days := make([]storage.SessionDay, 0)
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := sessionsKey(date)
		if err := t.watchKeys(ctx, key); err != nil {
			return nil, err
		}
		values, err := t.cmd.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("list session days for %s: %w", date, err)
		}
		byPlayer := make(map[string]int64, len(values))
		for playerID, raw := range values {
			seconds, err := parseSeconds(raw)
			if err != nil {
				return nil, err
			}
			byPlayer[playerID] = seconds
		}
		for ref, day := range t.sessions {
			if ref.date == date {
				byPlayer[ref.playerID] = day.Seconds
			}
		}
		for playerID, seconds := range byPlayer {
			days = append(days, storage.SessionDay{PlayerID: playerID, Date: date, Seconds: seconds})
		}
	}
	storage.SortSessionDays(days)
	return days, nil
}

func (t *ledgerTx) ListPlayerSessionDays(ctx context.Context, playerID, from, to string) ([]storage.SessionDay, error) {
	dates, err := storage.DatesBetween(from, to)
	if err != nil {
		return nil, err
	}

	days := make([]storage.SessionDay, 0)
	for _, date := range dates {
		day, err := t.GetSessionDay(ctx, playerID, date)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		days = append(days, *day)
	}
	return days, nil
}

func (t *ledgerTx) PutSessionDay(ctx context.Context, day storage.SessionDay) error {
	if t.watch == nil {
		return fmt.Errorf("put session day: read-only transaction")
	}
	if _, err := storage.ParseDate(day.Date); err != nil {
		return err
	}
	if _, err := t.GetPlayer(ctx, day.PlayerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("session day for unknown player %s", day.PlayerID)
		}
		return err
	}
	t.sessions[sessionRef{date: day.Date, playerID: day.PlayerID}] = day
	return nil
}

// commit applies the buffered writes in one MULTI/EXEC.
func (t *ledgerTx) commit(ctx context.Context, rtx *redis.Tx) error {
	if len(t.players) == 0 && len(t.sessions) == 0 {
		return nil
	}

	ids := make([]string, 0, len(t.players))
	for id := range t.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			p := t.players[id]
			pipe.HSet(ctx, playerKey(id), playerFields(p))
			pipe.SAdd(ctx, keyPlayersAll, id)
			if p.Online {
				pipe.SAdd(ctx, keyPlayersOnline, id)
			} else {
				pipe.SRem(ctx, keyPlayersOnline, id)
			}
		}
		for ref, day := range t.sessions {
			pipe.HSet(ctx, sessionsKey(ref.date), ref.playerID, day.Seconds)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit ledger pass: %w", err)
	}
	return nil
}
