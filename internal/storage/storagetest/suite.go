// Package storagetest holds the behaviour every storage.Store backend must share.
package storagetest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/mcledger/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) storage.Store

// Run exercises a backend against the storage.Store contract.
func Run(t *testing.T, open Opener) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, store storage.Store)
	}{
		{"PlayerRoundTrip", testPlayerRoundTrip},
		{"PlayerNotFound", testPlayerNotFound},
		{"ListOnline", testListOnline},
		{"FindPlayerByName", testFindPlayerByName},
		{"SessionDays", testSessionDays},
		{"ReadYourWrites", testReadYourWrites},
		{"RollbackOnError", testRollbackOnError},
		{"ContextCancelled", testContextCancelled},
		{"ConcurrentUpdates", testConcurrentUpdates},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := open(t)
			defer func() { _ = store.Close() }()
			tc.fn(t, store)
		})
	}
}

func put(t *testing.T, store storage.Store, players []storage.Player, days []storage.SessionDay) {
	t.Helper()
	ctx := context.Background()
	err := store.Update(ctx, func(tx storage.Tx) error {
		for _, p := range players {
			if err := tx.PutPlayer(ctx, p); err != nil {
				return err
			}
		}
		for _, d := range days {
			if err := tx.PutSessionDay(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func getPlayer(t *testing.T, store storage.Store, id string) (*storage.Player, error) {
	t.Helper()
	var player *storage.Player
	err := store.View(context.Background(), func(r storage.Reader) error {
		var err error
		player, err = r.GetPlayer(context.Background(), id)
		return err
	})
	return player, err
}

func testPlayerRoundTrip(t *testing.T, store storage.Store) {
	seen := time.Date(2024, 7, 26, 18, 30, 15, 0, time.UTC)
	put(t, store, []storage.Player{
		{ID: "p1", Name: "Steve", Online: true, TotalSeconds: 60},
		{ID: "p2", Name: "Alex", Online: false, LastSeen: &seen, TotalSeconds: 600},
	}, nil)

	p1, err := getPlayer(t, store, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Steve", p1.Name)
	assert.True(t, p1.Online)
	assert.Nil(t, p1.LastSeen)
	assert.EqualValues(t, 60, p1.TotalSeconds)

	p2, err := getPlayer(t, store, "p2")
	require.NoError(t, err)
	assert.False(t, p2.Online)
	require.NotNil(t, p2.LastSeen)
	assert.True(t, seen.Equal(*p2.LastSeen), "last seen %v != %v", *p2.LastSeen, seen)
	assert.EqualValues(t, 600, p2.TotalSeconds)

	// Overwrite keeps a single row.
	put(t, store, []storage.Player{{ID: "p1", Name: "Steve2", Online: false, LastSeen: &seen, TotalSeconds: 120}}, nil)
	p1, err = getPlayer(t, store, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Steve2", p1.Name)
	assert.EqualValues(t, 120, p1.TotalSeconds)

	var all []storage.Player
	require.NoError(t, store.View(context.Background(), func(r storage.Reader) error {
		all, err = r.ListPlayers(context.Background())
		return err
	}))
	require.Len(t, all, 2)
	assert.Equal(t, "p1", all[0].ID)
	assert.Equal(t, "p2", all[1].ID)
}

func testPlayerNotFound(t *testing.T, store storage.Store) {
	_, err := getPlayer(t, store, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)

	err = store.View(context.Background(), func(r storage.Reader) error {
		_, err := r.GetSessionDay(context.Background(), "missing", "2024-01-01")
		return err
	})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testListOnline(t *testing.T, store storage.Store) {
	put(t, store, []storage.Player{
		{ID: "c", Name: "C", Online: true},
		{ID: "a", Name: "A", Online: true},
		{ID: "b", Name: "B", Online: false},
	}, nil)

	var online []storage.Player
	require.NoError(t, store.View(context.Background(), func(r storage.Reader) error {
		var err error
		online, err = r.ListOnline(context.Background())
		return err
	}))
	require.Len(t, online, 2)
	assert.Equal(t, "a", online[0].ID)
	assert.Equal(t, "c", online[1].ID)

	// Going offline removes the player from the online list.
	put(t, store, []storage.Player{{ID: "a", Name: "A", Online: false}}, nil)
	require.NoError(t, store.View(context.Background(), func(r storage.Reader) error {
		var err error
		online, err = r.ListOnline(context.Background())
		return err
	}))
	require.Len(t, online, 1)
	assert.Equal(t, "c", online[0].ID)
}

func testFindPlayerByName(t *testing.T, store storage.Store) {
	put(t, store, []storage.Player{{ID: "p1", Name: "Notch"}}, nil)

	var found *storage.Player
	require.NoError(t, store.View(context.Background(), func(r storage.Reader) error {
		var err error
		found, err = r.FindPlayerByName(context.Background(), "notch")
		return err
	}))
	assert.Equal(t, "p1", found.ID)

	err := store.View(context.Background(), func(r storage.Reader) error {
		_, err := r.FindPlayerByName(context.Background(), "jeb_")
		return err
	})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testSessionDays(t *testing.T, store storage.Store) {
	put(t, store,
		[]storage.Player{{ID: "p1", Name: "A"}, {ID: "p2", Name: "B"}},
		[]storage.SessionDay{
			{PlayerID: "p2", Date: "2024-01-02", Seconds: 120},
			{PlayerID: "p1", Date: "2024-01-02", Seconds: 60},
			{PlayerID: "p1", Date: "2024-01-01", Seconds: 180},
			{PlayerID: "p1", Date: "2024-01-05", Seconds: 240},
		})

	ctx := context.Background()
	require.NoError(t, store.View(ctx, func(r storage.Reader) error {
		day, err := r.GetSessionDay(ctx, "p1", "2024-01-02")
		require.NoError(t, err)
		assert.EqualValues(t, 60, day.Seconds)

		days, err := r.ListSessionDays(ctx, "2024-01-01", "2024-01-02")
		require.NoError(t, err)
		require.Len(t, days, 3)
		assert.Equal(t, storage.SessionDay{PlayerID: "p1", Date: "2024-01-01", Seconds: 180}, days[0])
		assert.Equal(t, storage.SessionDay{PlayerID: "p1", Date: "2024-01-02", Seconds: 60}, days[1])
		assert.Equal(t, storage.SessionDay{PlayerID: "p2", Date: "2024-01-02", Seconds: 120}, days[2])

		days, err = r.ListPlayerSessionDays(ctx, "p1", "2024-01-02", "2024-01-31")
		require.NoError(t, err)
		require.Len(t, days, 2)
		assert.Equal(t, "2024-01-02", days[0].Date)
		assert.Equal(t, "2024-01-05", days[1].Date)
		return nil
	}))

	// Overwrite keeps one record per (player, date).
	put(t, store, nil, []storage.SessionDay{{PlayerID: "p1", Date: "2024-01-02", Seconds: 90}})
	require.NoError(t, store.View(ctx, func(r storage.Reader) error {
		days, err := r.ListPlayerSessionDays(ctx, "p1", "2024-01-02", "2024-01-02")
		require.NoError(t, err)
		require.Len(t, days, 1)
		assert.EqualValues(t, 90, days[0].Seconds)
		return nil
	}))
}

func testReadYourWrites(t *testing.T, store storage.Store) {
	ctx := context.Background()
	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutPlayer(ctx, storage.Player{ID: "p1", Name: "A", Online: true, TotalSeconds: 60}); err != nil {
			return err
		}
		if err := tx.PutSessionDay(ctx, storage.SessionDay{PlayerID: "p1", Date: "2024-01-01", Seconds: 60}); err != nil {
			return err
		}

		player, err := tx.GetPlayer(ctx, "p1")
		require.NoError(t, err)
		assert.EqualValues(t, 60, player.TotalSeconds)

		online, err := tx.ListOnline(ctx)
		require.NoError(t, err)
		require.Len(t, online, 1)

		day, err := tx.GetSessionDay(ctx, "p1", "2024-01-01")
		require.NoError(t, err)
		assert.EqualValues(t, 60, day.Seconds)
		return nil
	})
	require.NoError(t, err)
}

func testRollbackOnError(t *testing.T, store storage.Store) {
	put(t, store, []storage.Player{{ID: "p1", Name: "A", Online: true, TotalSeconds: 60}}, nil)

	ctx := context.Background()
	boom := errors.New("boom")
	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutPlayer(ctx, storage.Player{ID: "p1", Name: "A", Online: false, TotalSeconds: 60}); err != nil {
			return err
		}
		if err := tx.PutPlayer(ctx, storage.Player{ID: "p2", Name: "B", Online: true, TotalSeconds: 60}); err != nil {
			return err
		}
		if err := tx.PutSessionDay(ctx, storage.SessionDay{PlayerID: "p2", Date: "2024-01-01", Seconds: 60}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p1, err := getPlayer(t, store, "p1")
	require.NoError(t, err)
	assert.True(t, p1.Online, "rolled back write must not be visible")

	_, err = getPlayer(t, store, "p2")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)

	err = store.View(ctx, func(r storage.Reader) error {
		_, err := r.GetSessionDay(ctx, "p2", "2024-01-01")
		return err
	})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testContextCancelled(t *testing.T, store storage.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.PutPlayer(ctx, storage.Player{ID: "p1", Name: "A"})
	})
	require.Error(t, err)

	_, err = getPlayer(t, store, "p1")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)
}

// testConcurrentUpdates runs overlapping read-modify-write passes. A backend
// may serialise them or abort the losers, but a committed pass never sees
// another's partial state, so every commit is credited exactly once.
func testConcurrentUpdates(t *testing.T, store storage.Store) {
	const (
		passes    = 8
		increment = 60
	)
	put(t, store, []storage.Player{{ID: "p1", Name: "A", Online: true}}, nil)

	ctx := context.Background()
	var commits atomic.Int64
	var g errgroup.Group
	for i := 0; i < passes; i++ {
		g.Go(func() error {
			err := store.Update(ctx, func(tx storage.Tx) error {
				player, err := tx.GetPlayer(ctx, "p1")
				if err != nil {
					return err
				}
				player.TotalSeconds += increment
				if err := tx.PutPlayer(ctx, *player); err != nil {
					return err
				}

				seconds := int64(0)
				day, err := tx.GetSessionDay(ctx, "p1", "2024-01-01")
				switch {
				case err == nil:
					seconds = day.Seconds
				case !errors.Is(err, storage.ErrNotFound):
					return err
				}
				return tx.PutSessionDay(ctx, storage.SessionDay{PlayerID: "p1", Date: "2024-01-01", Seconds: seconds + increment})
			})
			if err == nil {
				commits.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	committed := commits.Load()
	require.GreaterOrEqual(t, committed, int64(1), "at least one pass must commit")

	player, err := getPlayer(t, store, "p1")
	require.NoError(t, err)
	assert.Equal(t, committed*increment, player.TotalSeconds)

	require.NoError(t, store.View(ctx, func(r storage.Reader) error {
		day, err := r.GetSessionDay(ctx, "p1", "2024-01-01")
		require.NoError(t, err)
		assert.Equal(t, committed*increment, day.Seconds)
		return nil
	}))
}
