// Package ledger reconciles sampled rosters into the presence and play time
// ledger, and reports on what it holds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/mcledger/internal/metrics"
	"github.com/goodtune/mcledger/internal/roster"
	"github.com/goodtune/mcledger/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultIncrement is the play time credited per observation.
	DefaultIncrement = 60 * time.Second
)

// ErrReconcile wraps every failed pass. The store is left as it was before the
// pass started.
var ErrReconcile = errors.New("reconciliation failed")

// Config holds engine configuration
type Config struct {
	// Increment is credited to each observed player per pass, in whole seconds.
	Increment time.Duration
	// Location decides which calendar date a pass belongs to.
	Location *time.Location
}

// Engine applies rosters to the store.
type Engine struct {
	store     storage.Store
	increment int64
	location  *time.Location
	clock     quartz.Clock
	logger    zerolog.Logger
}

// Summary describes one committed pass.
type Summary struct {
	Date string
	// Observed counts unique players in the roster.
	Observed   int
	Discovered int
	Duplicates int
	// Invalid counts roster entries without an ID.
	Invalid int
	// Swept counts players that were online before the pass.
	Swept int
	// WentOffline counts swept players missing from the roster.
	WentOffline int
	// Credited is the play time added to each observed player, in seconds.
	Credited int64
}

// NewEngine creates a reconciliation engine
func NewEngine(store storage.Store, config Config, clock quartz.Clock, logger zerolog.Logger) *Engine {
	if config.Increment <= 0 {
		config.Increment = DefaultIncrement
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	return &Engine{
		store:     store,
		increment: int64(config.Increment / time.Second),
		location:  config.Location,
		clock:     clock,
		logger:    logger.With().Str("component", "ledger").Logger(),
	}
}

// Increment returns the play time credited per observation.
func (e *Engine) Increment() time.Duration {
	return time.Duration(e.increment) * time.Second
}

// Reconcile runs one pass in a single transaction: every online player is
// swept offline, then each observed player is marked online and credited one
// increment in both the player total and today's session day.
func (e *Engine) Reconcile(ctx context.Context, players []roster.Player) (Summary, error) {
	start := e.clock.Now()
	now := start.UTC()
	date := start.In(e.location).Format(storage.DateLayout)

	observed, duplicates, invalid := dedupe(players)

	var (
		summary    Summary
		discovered []roster.Player
	)
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		summary = Summary{
			Date:       date,
			Observed:   len(observed),
			Duplicates: duplicates,
			Invalid:    invalid,
			Credited:   e.increment,
		}
		discovered = discovered[:0]

		swept, err := e.sweep(ctx, tx, now)
		if err != nil {
			return err
		}
		summary.Swept = len(swept)

		for _, obs := range observed {
			created, err := e.observe(ctx, tx, obs, date)
			if err != nil {
				return err
			}
			if created {
				discovered = append(discovered, obs)
			}
			delete(swept, obs.ID)
		}

		summary.Discovered = len(discovered)
		summary.WentOffline = len(swept)
		return nil
	})

	metrics.ReconcileTotal.WithLabelValues(metrics.Result(err)).Inc()
	metrics.ReconcileDuration.Observe(e.clock.Since(start).Seconds())

	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrReconcile, err)
	}

	metrics.PlayersOnline.Set(float64(summary.Observed))
	metrics.PlayersDiscovered.Add(float64(summary.Discovered))
	metrics.PlaySeconds.Add(float64(int64(summary.Observed) * e.increment))

	for _, p := range discovered {
		e.logger.Info().
			Str("player_id", p.ID).
			Str("player", p.Name).
			Msg("New player discovered")
	}

	return summary, nil
}

// sweep marks every online player offline and returns their IDs.
func (e *Engine) sweep(ctx context.Context, tx storage.Tx, now time.Time) (map[string]struct{}, error) {
	online, err := tx.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("list online players: %w", err)
	}

	swept := make(map[string]struct{}, len(online))
	for _, p := range online {
		seen := now
		p.Online = false
		p.LastSeen = &seen
		if err := tx.PutPlayer(ctx, p); err != nil {
			return nil, fmt.Errorf("mark %s offline: %w", p.ID, err)
		}
		swept[p.ID] = struct{}{}
	}
	return swept, nil
}

// observe credits one player and reports whether it was new.
func (e *Engine) observe(ctx context.Context, tx storage.Tx, obs roster.Player, date string) (bool, error) {
	created := false
	player, err := tx.GetPlayer(ctx, obs.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		player = &storage.Player{ID: obs.ID}
		created = true
	case err != nil:
		return false, fmt.Errorf("get player %s: %w", obs.ID, err)
	}

	player.Name = obs.Name
	player.Online = true
	player.TotalSeconds += e.increment
	if err := tx.PutPlayer(ctx, *player); err != nil {
		return false, fmt.Errorf("put player %s: %w", obs.ID, err)
	}

	day, err := tx.GetSessionDay(ctx, obs.ID, date)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		day = &storage.SessionDay{PlayerID: obs.ID, Date: date}
	case err != nil:
		return false, fmt.Errorf("get session day %s/%s: %w", date, obs.ID, err)
	}

	day.Seconds += e.increment
	if err := tx.PutSessionDay(ctx, *day); err != nil {
		return false, fmt.Errorf("put session day %s/%s: %w", date, obs.ID, err)
	}

	return created, nil
}

// dedupe keeps one entry per ID in order of first appearance, carrying the
// last name seen for that ID. Entries without an ID are dropped.
func dedupe(players []roster.Player) (unique []roster.Player, duplicates, invalid int) {
	index := make(map[string]int, len(players))
	unique = make([]roster.Player, 0, len(players))
	for _, p := range players {
		if p.ID == "" {
			invalid++
			continue
		}
		if i, ok := index[p.ID]; ok {
			unique[i].Name = p.Name
			duplicates++
			continue
		}
		index[p.ID] = len(unique)
		unique = append(unique, p)
	}
	return unique, duplicates, invalid
}
