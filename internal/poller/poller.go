// Package poller drives the fetch and reconcile cycle, once or on a ticker.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/mcledger/internal/ledger"
	"github.com/goodtune/mcledger/internal/metrics"
	"github.com/goodtune/mcledger/internal/roster"
	"github.com/rs/zerolog"
)

// Reconciler applies a roster to the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, players []roster.Player) (ledger.Summary, error)
}

// Config holds poller configuration
type Config struct {
	Host     string
	Port     int
	Interval time.Duration
}

// Outcome describes one completed pass.
type Outcome struct {
	Fetch   roster.Result
	Summary ledger.Summary
	Err     error
}

// Poller samples the server roster and hands it to the reconciler.
type Poller struct {
	fetcher    roster.Fetcher
	reconciler Reconciler
	config     Config
	clock      quartz.Clock
	logger     zerolog.Logger

	// AfterPass, when set, is called after every pass.
	AfterPass func(Outcome)
}

// New creates a poller
func New(fetcher roster.Fetcher, reconciler Reconciler, config Config, clock quartz.Clock, logger zerolog.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = ledger.DefaultIncrement
	}
	return &Poller{
		fetcher:    fetcher,
		reconciler: reconciler,
		config:     config,
		clock:      clock,
		logger:     logger.With().Str("component", "poller").Logger(),
	}
}

// RunOnce performs a single pass. A failed fetch is logged and reconciled as an
// empty roster; only reconciliation errors are returned.
func (p *Poller) RunOnce(ctx context.Context) (ledger.Summary, error) {
	start := p.clock.Now()
	result := p.fetcher.Fetch(ctx, p.config.Host, p.config.Port)
	elapsed := p.clock.Since(start)

	metrics.FetchTotal.WithLabelValues(metrics.Result(result.Err)).Inc()
	metrics.FetchDuration.Observe(elapsed.Seconds())

	if result.Failed() {
		p.logger.Error().
			Err(result.Err).
			Str("server", p.config.Host).
			Int("port", p.config.Port).
			Msg("Failed to fetch roster, treating server as empty")
	} else {
		p.logger.Debug().
			Int("players", len(result.Players)).
			Dur("duration", elapsed).
			Msg("Fetched roster")
	}

	summary, err := p.reconciler.Reconcile(ctx, result.Roster())
	if p.AfterPass != nil {
		p.AfterPass(Outcome{Fetch: result, Summary: summary, Err: err})
	}
	if err != nil {
		return ledger.Summary{}, err
	}

	p.logger.Info().
		Str("date", summary.Date).
		Int("online", summary.Observed).
		Int("discovered", summary.Discovered).
		Int("went_offline", summary.WentOffline).
		Int("duplicates", summary.Duplicates).
		Msg("Reconciliation complete")

	return summary, nil
}

// Run performs a pass immediately and then once per interval until ctx is
// cancelled. Passes never overlap; a failed pass is logged and the loop
// carries on.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().
		Str("server", p.config.Host).
		Int("port", p.config.Port).
		Dur("interval", p.config.Interval).
		Msg("Poller started")

	pass := func() error {
		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error().Err(err).Msg("Reconciliation pass failed")
		}
		return nil
	}

	_ = pass()

	err := p.clock.TickerFunc(ctx, p.config.Interval, pass, "poller").Wait()
	p.logger.Info().Msg("Poller stopped")

	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return fmt.Errorf("poller: %w", err)
}
