package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/mcledger/internal/storage"
)

// Period is an inclusive range of calendar dates.
type Period struct {
	From string
	To   string
}

// Standing is one row of a leaderboard.
type Standing struct {
	PlayerID string
	Name     string
	Seconds  int64
}

// History is a player's daily play time over a window, one entry per date.
type History struct {
	Player storage.Player
	Days   []storage.SessionDay
	Total  int64
}

// Reporter answers read-only questions about the ledger.
type Reporter struct {
	store    storage.Store
	clock    quartz.Clock
	location *time.Location
}

// NewReporter creates a reporter. Dates are evaluated in location.
func NewReporter(store storage.Store, clock quartz.Clock, location *time.Location) *Reporter {
	if location == nil {
		location = time.Local
	}
	return &Reporter{store: store, clock: clock, location: location}
}

func (r *Reporter) today() time.Time {
	now := r.clock.Now().In(r.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.location)
}

// Today covers the current date.
func (r *Reporter) Today() Period {
	d := r.today().Format(storage.DateLayout)
	return Period{From: d, To: d}
}

// ThisWeek covers Monday of the current week through today.
func (r *Reporter) ThisWeek() Period {
	today := r.today()
	offset := (int(today.Weekday()) + 6) % 7
	return Period{
		From: today.AddDate(0, 0, -offset).Format(storage.DateLayout),
		To:   today.Format(storage.DateLayout),
	}
}

// ThisMonth covers the first of the current month through today.
func (r *Reporter) ThisMonth() Period {
	today := r.today()
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, r.location)
	return Period{
		From: first.Format(storage.DateLayout),
		To:   today.Format(storage.DateLayout),
	}
}

// LastDays covers the n dates ending today.
func (r *Reporter) LastDays(n int) Period {
	if n < 1 {
		n = 1
	}
	today := r.today()
	return Period{
		From: today.AddDate(0, 0, -(n - 1)).Format(storage.DateLayout),
		To:   today.Format(storage.DateLayout),
	}
}

// Since covers start through today. A start after today yields an empty
// period ending today.
func (r *Reporter) Since(start time.Time) Period {
	today := r.today()
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, r.location)
	if from.After(today) {
		from = today.AddDate(0, 0, 1)
	}
	return Period{
		From: from.Format(storage.DateLayout),
		To:   today.Format(storage.DateLayout),
	}
}

// OnlinePlayers lists players currently marked online, by name.
func (r *Reporter) OnlinePlayers(ctx context.Context) ([]storage.Player, error) {
	var players []storage.Player
	err := r.store.View(ctx, func(rd storage.Reader) error {
		var err error
		players, err = rd.ListOnline(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list online players: %w", err)
	}
	sort.SliceStable(players, func(i, j int) bool {
		return strings.ToLower(players[i].Name) < strings.ToLower(players[j].Name)
	})
	return players, nil
}

// TopPlayers ranks players by play time within period, most first. Ties are
// ordered by name. A limit below one returns every player.
func (r *Reporter) TopPlayers(ctx context.Context, period Period, limit int) ([]Standing, error) {
	var standings []Standing
	err := r.store.View(ctx, func(rd storage.Reader) error {
		days, err := rd.ListSessionDays(ctx, period.From, period.To)
		if err != nil {
			return err
		}

		totals := make(map[string]int64)
		for _, d := range days {
			totals[d.PlayerID] += d.Seconds
		}

		standings = make([]Standing, 0, len(totals))
		for id, seconds := range totals {
			name := id
			p, err := rd.GetPlayer(ctx, id)
			if err == nil {
				name = p.Name
			}
			standings = append(standings, Standing{PlayerID: id, Name: name, Seconds: seconds})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("top players %s..%s: %w", period.From, period.To, err)
	}

	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Seconds != standings[j].Seconds {
			return standings[i].Seconds > standings[j].Seconds
		}
		if standings[i].Name != standings[j].Name {
			return standings[i].Name < standings[j].Name
		}
		return standings[i].PlayerID < standings[j].PlayerID
	})
	if limit > 0 && len(standings) > limit {
		standings = standings[:limit]
	}
	return standings, nil
}

// PlayerHistory returns the named player's play time for each of the last
// days dates, zero-filled, and the total. Unknown names yield
// storage.ErrNotFound.
func (r *Reporter) PlayerHistory(ctx context.Context, name string, days int) (*History, error) {
	period := r.LastDays(days)

	var history History
	err := r.store.View(ctx, func(rd storage.Reader) error {
		player, err := rd.FindPlayerByName(ctx, name)
		if err != nil {
			return err
		}
		history.Player = *player

		recorded, err := rd.ListPlayerSessionDays(ctx, player.ID, period.From, period.To)
		if err != nil {
			return err
		}
		byDate := make(map[string]int64, len(recorded))
		for _, d := range recorded {
			byDate[d.Date] = d.Seconds
		}

		dates, err := storage.DatesBetween(period.From, period.To)
		if err != nil {
			return err
		}
		history.Days = make([]storage.SessionDay, 0, len(dates))
		for _, date := range dates {
			seconds := byDate[date]
			history.Days = append(history.Days, storage.SessionDay{PlayerID: player.ID, Date: date, Seconds: seconds})
			history.Total += seconds
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", name, err)
	}
	return &history, nil
}

// ActivePlayerCount counts distinct players with play time on or after the
// date days before today, so a week back spans eight dates.
func (r *Reporter) ActivePlayerCount(ctx context.Context, days int) (int, error) {
	if days < 0 {
		days = 0
	}
	period := r.LastDays(days + 1)

	var count int
	err := r.store.View(ctx, func(rd storage.Reader) error {
		recorded, err := rd.ListSessionDays(ctx, period.From, period.To)
		if err != nil {
			return err
		}
		players := make(map[string]struct{})
		for _, d := range recorded {
			if d.Seconds > 0 {
				players[d.PlayerID] = struct{}{}
			}
		}
		count = len(players)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count active players: %w", err)
	}
	return count, nil
}
