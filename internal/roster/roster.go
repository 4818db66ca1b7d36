// Package roster fetches the list of players currently online on a Minecraft
// Java server.
package roster

import (
	"context"
	"errors"
)

// ErrMalformed marks a status response that does not follow the protocol.
var ErrMalformed = errors.New("roster: malformed status response")

// Player is one entry of the online sample.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Result is the outcome of a single fetch: either a roster or the reason the
// fetch failed. A successful fetch may carry an empty roster.
type Result struct {
	Players []Player
	Err     error
}

// Success wraps a fetched roster.
func Success(players []Player) Result {
	if players == nil {
		players = []Player{}
	}
	return Result{Players: players}
}

// Failure wraps the reason a fetch failed.
func Failure(err error) Result {
	if err == nil {
		err = errors.New("roster: fetch failed")
	}
	return Result{Err: err}
}

// Failed reports whether the fetch failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Roster collapses the result to a player list. A failure reads as nobody
// online.
func (r Result) Roster() []Player {
	if r.Failed() {
		return []Player{}
	}
	return r.Players
}

// Fetcher retrieves the current roster of a server.
type Fetcher interface {
	Fetch(ctx context.Context, host string, port int) Result
}
