package storage

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the calendar date format used for session day keys.
const DateLayout = "2006-01-02"

// Player is a tracked player account.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Online and LastSeen are distinct: LastSeen is the moment the player was last
	// swept offline and is nil until that has happened once.
	Online       bool       `json:"online"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	TotalSeconds int64      `json:"total_seconds"`
}

// SessionDay accumulates a player's play time on one calendar date.
type SessionDay struct {
	PlayerID string `json:"player_id"`
	Date     string `json:"date"`
	Seconds  int64  `json:"seconds"`
}

// ParseDate validates a YYYY-MM-DD date string.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// DatesBetween returns every date from from to to inclusive.
func DatesBetween(from, to string) ([]string, error) {
	start, err := ParseDate(from)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate(to)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}

// SortPlayers orders players by ID.
func SortPlayers(players []Player) {
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
}

// SortSessionDays orders session days by date, then player ID.
func SortSessionDays(days []SessionDay) {
	sort.Slice(days, func(i, j int) bool {
		if days[i].Date != days[j].Date {
			return days[i].Date < days[j].Date
		}
		return days[i].PlayerID < days[j].PlayerID
	})
}
