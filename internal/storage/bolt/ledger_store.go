package bolt

import (
	"context"
	"fmt"
	"strings"

	"github.com/goodtune/mcledger/internal/storage"
	"go.etcd.io/bbolt"
)

type ledgerTx struct {
	tx *bbolt.Tx
}

func (t *ledgerTx) GetPlayer(ctx context.Context, id string) (*storage.Player, error) {
	return getBucketValue[storage.Player](ctx, t.tx, bucketPlayers, id)
}

func (t *ledgerTx) FindPlayerByName(ctx context.Context, name string) (*storage.Player, error) {
	// Keys iterate in ID order, so the first match is the lowest ID.
	matches, err := listBucket(ctx, t.tx, bucketPlayers, func(p storage.Player) bool {
		return strings.EqualFold(p.Name, name)
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	return &matches[0], nil
}

func (t *ledgerTx) ListPlayers(ctx context.Context) ([]storage.Player, error) {
	return listBucket[storage.Player](ctx, t.tx, bucketPlayers, nil)
}

func (t *ledgerTx) ListOnline(ctx context.Context) ([]storage.Player, error) {
	return listBucket(ctx, t.tx, bucketPlayers, func(p storage.Player) bool { return p.Online })
}

func (t *ledgerTx) PutPlayer(ctx context.Context, player storage.Player) error {
	if player.LastSeen != nil {
		ts := player.LastSeen.UTC()
		player.LastSeen = &ts
	}
	return putBucketValue(ctx, t.tx, bucketPlayers, player.ID, player)
}

func (t *ledgerTx) GetSessionDay(ctx context.Context, playerID, date string) (*storage.SessionDay, error) {
	return getBucketValue[storage.SessionDay](ctx, t.tx, bucketSessions, sessionDayKey(date, playerID))
}

func (t *ledgerTx) ListSessionDays(ctx context.Context, from, to string) ([]storage.SessionDay, error) {
	return t.scanSessionDays(ctx, from, to, "")
}

func (t *ledgerTx) ListPlayerSessionDays(ctx context.Context, playerID, from, to string) ([]storage.SessionDay, error) {
	return t.scanSessionDays(ctx, from, to, playerID)
}

func (t *ledgerTx) PutSessionDay(ctx context.Context, day storage.SessionDay) error {
	if _, err := storage.ParseDate(day.Date); err != nil {
		return err
	}
	players, err := bucket(t.tx, bucketPlayers)
	if err != nil {
		return err
	}
	if players.Get([]byte(day.PlayerID)) == nil {
		return fmt.Errorf("session day for unknown player %s", day.PlayerID)
	}
	return putBucketValue(ctx, t.tx, bucketSessions, sessionDayKey(day.Date, day.PlayerID), day)
}

// scanSessionDays walks the date-prefixed keys from from through to. An empty
// playerID matches every player.
func (t *ledgerTx) scanSessionDays(ctx context.Context, from, to, playerID string) ([]storage.SessionDay, error) {
	if _, err := storage.ParseDate(from); err != nil {
		return nil, err
	}
	if _, err := storage.ParseDate(to); err != nil {
		return nil, err
	}
	b, err := bucket(t.tx, bucketSessions)
	if err != nil {
		return nil, err
	}

	days := make([]storage.SessionDay, 0)
	c := b.Cursor()
	for k, v := c.Seek([]byte(from + "/")); k != nil; k, v = c.Next() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if string(k[:len(storage.DateLayout)]) > to {
			break
		}
		var day storage.SessionDay
		if err := unmarshal(v, &day); err != nil {
			return nil, err
		}
		if playerID != "" && day.PlayerID != playerID {
			continue
		}
		days = append(days, day)
	}
	return days, nil
}

func sessionDayKey(date, playerID string) string {
	return fmt.Sprintf("%s/%s", date, playerID)
}
