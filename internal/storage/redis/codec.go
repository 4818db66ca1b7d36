package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/mcledger/internal/storage"
)

// playerFields converts a Player to Redis hash fields.
func playerFields(p storage.Player) map[string]any {
	online := "0"
	if p.Online {
		online = "1"
	}
	lastOnline := ""
	if p.LastSeen != nil {
		lastOnline = p.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"id":              p.ID,
		"name":            p.Name,
		"online":          online,
		"last_online":     lastOnline,
		"total_play_time": p.TotalSeconds,
	}
}

// parsePlayer converts a Redis hash to Player
func parsePlayer(data map[string]string) (*storage.Player, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	total, err := strconv.ParseInt(data["total_play_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_play_time: %w", err)
	}

	player := &storage.Player{
		ID:           data["id"],
		Name:         data["name"],
		Online:       data["online"] == "1",
		TotalSeconds: total,
	}

	if raw := data["last_online"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_online: %w", err)
		}
		player.LastSeen = &ts
	}

	return player, nil
}

func parseSeconds(raw string) (int64, error) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse session seconds: %w", err)
	}
	return seconds, nil
}
