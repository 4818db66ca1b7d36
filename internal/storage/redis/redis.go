package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/mcledger/internal/config"
	"github.com/goodtune/mcledger/internal/storage"
	"github.com/redis/go-redis/v9"
)

// ErrConflict is returned when another writer touched the ledger while a pass
// was running. The pass is discarded in full.
var ErrConflict = errors.New("redis: concurrent ledger update")

const (
	keyPlayersAll    = "mcledger:players:all"
	keyPlayersOnline = "mcledger:players:online"
)

func playerKey(id string) string     { return fmt.Sprintf("mcledger:player:%s", id) }
func sessionsKey(date string) string { return fmt.Sprintf("mcledger:sessions:%s", date) }

// Store implements the storage.Store interface using Redis
type Store struct {
	client *redis.Client
}

// Open connects to the Redis server at url (redis:// or rediss://).
func Open(url string, cfg config.RedisConfig) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Update runs fn under WATCH. Writes are buffered and applied in a single
// MULTI/EXEC; if any key read during the pass changed meanwhile, nothing is
// written and ErrConflict is returned.
func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		tx := newLedgerTx(rtx, rtx.Watch)
		if err := fn(tx); err != nil {
			return err
		}
		return tx.commit(ctx, rtx)
	}, keyPlayersAll, keyPlayersOnline)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

// View reads straight from the server. Reads are not isolated from a
// concurrent Update.
func (s *Store) View(ctx context.Context, fn func(r storage.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(newLedgerTx(s.client, nil))
}
