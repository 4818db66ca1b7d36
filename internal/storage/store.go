package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
//
// Update runs fn inside a single transaction that covers the whole call: either
// every write made through the Tx is committed, or none is. Backends serialise
// concurrent Update calls (or abort the loser) so a reconciliation pass is never
// observed half-applied.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(r Reader) error) error
	Close() error
}

// Reader exposes the read side of the ledger.
type Reader interface {
	GetPlayer(ctx context.Context, id string) (*Player, error)
	// FindPlayerByName matches case-insensitively, as player names are.
	FindPlayerByName(ctx context.Context, name string) (*Player, error)
	ListPlayers(ctx context.Context) ([]Player, error)
	ListOnline(ctx context.Context) ([]Player, error)
	GetSessionDay(ctx context.Context, playerID, date string) (*SessionDay, error)
	// ListSessionDays returns every session day with from <= date <= to,
	// ordered by date then player ID.
	ListSessionDays(ctx context.Context, from, to string) ([]SessionDay, error)
	ListPlayerSessionDays(ctx context.Context, playerID, from, to string) ([]SessionDay, error)
}

// Tx is a read-write view scoped to one Update call.
type Tx interface {
	Reader
	PutPlayer(ctx context.Context, player Player) error
	PutSessionDay(ctx context.Context, day SessionDay) error
}
