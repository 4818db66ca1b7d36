package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/mcledger/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReporter(t *testing.T, store storage.Store, now time.Time) *Reporter {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(now)
	return NewReporter(store, clock, time.UTC)
}

func seedSessions(t *testing.T, store storage.Store, players []storage.Player, days []storage.SessionDay) {
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

func TestPeriods(t *testing.T) {
	store := openTestStore(t)

	tests := []struct {
		name  string
		now   time.Time
		week  Period
		month Period
	}{
		{
			name:  "wednesday",
			now:   time.Date(2024, 7, 24, 12, 0, 0, 0, time.UTC),
			week:  Period{From: "2024-07-22", To: "2024-07-24"},
			month: Period{From: "2024-07-01", To: "2024-07-24"},
		},
		{
			name:  "monday",
			now:   time.Date(2024, 7, 22, 0, 0, 1, 0, time.UTC),
			week:  Period{From: "2024-07-22", To: "2024-07-22"},
			month: Period{From: "2024-07-01", To: "2024-07-22"},
		},
		{
			name:  "sunday across month",
			now:   time.Date(2024, 9, 1, 23, 0, 0, 0, time.UTC),
			week:  Period{From: "2024-08-26", To: "2024-09-01"},
			month: Period{From: "2024-09-01", To: "2024-09-01"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestReporter(t, store, tc.now)
			assert.Equal(t, tc.week, r.ThisWeek())
			assert.Equal(t, tc.month, r.ThisMonth())
			d := tc.now.Format(storage.DateLayout)
			assert.Equal(t, Period{From: d, To: d}, r.Today())
		})
	}
}

func TestLastDays(t *testing.T) {
	r := newTestReporter(t, openTestStore(t), time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, Period{From: "2024-02-25", To: "2024-03-02"}, r.LastDays(7))
	assert.Equal(t, Period{From: "2024-03-02", To: "2024-03-02"}, r.LastDays(0))
}

func TestOnlinePlayers(t *testing.T) {
	store := openTestStore(t)
	seedSessions(t, store, []storage.Player{
		{ID: "1", Name: "zed", Online: true},
		{ID: "2", Name: "Alex", Online: true},
		{ID: "3", Name: "Bob", Online: false},
	}, nil)

	r := newTestReporter(t, store, passTime)
	online, err := r.OnlinePlayers(context.Background())
	require.NoError(t, err)
	require.Len(t, online, 2)
	assert.Equal(t, "Alex", online[0].Name)
	assert.Equal(t, "zed", online[1].Name)
}

func TestTopPlayers(t *testing.T) {
	store := openTestStore(t)
	seedSessions(t, store,
		[]storage.Player{
			{ID: "1", Name: "Steve"},
			{ID: "2", Name: "Alex"},
			{ID: "3", Name: "Notch"},
			{ID: "4", Name: "Jeb"},
		},
		[]storage.SessionDay{
			{PlayerID: "1", Date: "2024-07-22", Seconds: 120},
			{PlayerID: "1", Date: "2024-07-24", Seconds: 60},
			{PlayerID: "2", Date: "2024-07-23", Seconds: 180},
			{PlayerID: "3", Date: "2024-07-24", Seconds: 240},
			{PlayerID: "4", Date: "2024-07-21", Seconds: 6000},
		})

	r := newTestReporter(t, store, time.Date(2024, 7, 24, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	week, err := r.TopPlayers(ctx, r.ThisWeek(), 10)
	require.NoError(t, err)
	assert.Equal(t, []Standing{
		{PlayerID: "3", Name: "Notch", Seconds: 240},
		{PlayerID: "2", Name: "Alex", Seconds: 180},
		{PlayerID: "1", Name: "Steve", Seconds: 180},
	}, week)

	top, err := r.TopPlayers(ctx, r.ThisMonth(), 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Jeb", top[0].Name)

	day, err := r.TopPlayers(ctx, r.Today(), 0)
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "Notch", day[0].Name)
	assert.Equal(t, "Steve", day[1].Name)
}

func TestPlayerHistory(t *testing.T) {
	store := openTestStore(t)
	seedSessions(t, store,
		[]storage.Player{{ID: "1", Name: "Steve", TotalSeconds: 900}},
		[]storage.SessionDay{
			{PlayerID: "1", Date: "2024-07-20", Seconds: 600},
			{PlayerID: "1", Date: "2024-07-22", Seconds: 120},
			{PlayerID: "1", Date: "2024-07-24", Seconds: 60},
		})

	r := newTestReporter(t, store, time.Date(2024, 7, 24, 12, 0, 0, 0, time.UTC))

	history, err := r.PlayerHistory(context.Background(), "steve", 3)
	require.NoError(t, err)
	assert.Equal(t, "1", history.Player.ID)
	assert.Equal(t, []storage.SessionDay{
		{PlayerID: "1", Date: "2024-07-22", Seconds: 120},
		{PlayerID: "1", Date: "2024-07-23", Seconds: 0},
		{PlayerID: "1", Date: "2024-07-24", Seconds: 60},
	}, history.Days)
	assert.EqualValues(t, 180, history.Total)

	_, err = r.PlayerHistory(context.Background(), "Herobrine", 30)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestActivePlayerCount(t *testing.T) {
	store := openTestStore(t)
	seedSessions(t, store,
		[]storage.Player{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}, {ID: "3", Name: "C"}, {ID: "4", Name: "D"}},
		[]storage.SessionDay{
			{PlayerID: "1", Date: "2024-07-24", Seconds: 60},
			{PlayerID: "1", Date: "2024-07-23", Seconds: 60},
			{PlayerID: "2", Date: "2024-07-18", Seconds: 60},
			{PlayerID: "4", Date: "2024-07-17", Seconds: 60},
			{PlayerID: "3", Date: "2024-07-16", Seconds: 60},
		})

	r := newTestReporter(t, store, time.Date(2024, 7, 24, 12, 0, 0, 0, time.UTC))

	// A week back reaches 07-17 inclusive.
	count, err := r.ActivePlayerCount(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = r.ActivePlayerCount(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSince(t *testing.T) {
	store := openTestStore(t)
	seedSessions(t, store,
		[]storage.Player{{ID: "1", Name: "Alex"}, {ID: "2", Name: "Steve"}},
		[]storage.SessionDay{
			{PlayerID: "1", Date: "2024-07-25", Seconds: 600},
			{PlayerID: "1", Date: "2024-07-26", Seconds: 60},
			{PlayerID: "2", Date: "2024-07-27", Seconds: 120},
			{PlayerID: "2", Date: "2024-08-02", Seconds: 60},
		})

	r := newTestReporter(t, store, time.Date(2024, 8, 2, 9, 0, 0, 0, time.UTC))

	period := r.Since(time.Date(2024, 7, 26, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, Period{From: "2024-07-26", To: "2024-08-02"}, period)

	standings, err := r.TopPlayers(context.Background(), period, 10)
	require.NoError(t, err)
	assert.Equal(t, []Standing{
		{PlayerID: "2", Name: "Steve", Seconds: 180},
		{PlayerID: "1", Name: "Alex", Seconds: 60},
	}, standings)

	future := r.Since(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))
	standings, err = r.TopPlayers(context.Background(), future, 10)
	require.NoError(t, err)
	assert.Empty(t, standings)
}
