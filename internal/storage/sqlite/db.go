package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/goodtune/mcledger/internal/storage"
	_ "modernc.org/sqlite"
)

// Store implements storage.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite ledger at path and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if file := FilePath(path); file != "" {
		if err := storage.EnsureParentDir(file); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite limitation
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FilePath returns the database file named by a path or file: DSN, or ""
// for in-memory databases.
func FilePath(path string) string {
	name, _, _ := strings.Cut(path, "?")
	name = strings.TrimPrefix(name, "file:")
	if isMemory(name) || name == "" {
		return ""
	}
	return name
}

// connParams are applied to every connection unless the DSN already sets
// them. Transactions take the write lock up front so two overlapping passes
// serialise instead of failing on lock upgrade.
var connParams = []struct {
	key   string
	value string
}{
	{"_txlock", "immediate"},
	{"_pragma", "busy_timeout(5000)"},
	{"_pragma", "foreign_keys(1)"},
}

// dsn builds a modernc DSN, appending any connParams the path leaves out.
func dsn(path string) string {
	if isMemory(path) {
		return path
	}

	name, query, _ := strings.Cut(path, "?")
	if !strings.HasPrefix(name, "file:") {
		name = "file:" + name
	}

	// An unparsable query still gets the defaults; the driver reports it.
	existing, _ := url.ParseQuery(query)

	params := make([]string, 0, len(connParams)+1)
	if query != "" {
		params = append(params, query)
	}
	for _, p := range connParams {
		if hasParam(existing, p.key, p.value) {
			continue
		}
		params = append(params, p.key+"="+p.value)
	}
	if len(params) == 0 {
		return name
	}
	return name + "?" + strings.Join(params, "&")
}

// hasParam reports whether values already set key. Pragmas match by name,
// so a caller's busy_timeout(100) wins over the default.
func hasParam(values url.Values, key, value string) bool {
	if key != "_pragma" {
		return values.Has(key)
	}
	pragma := pragmaName(value)
	for _, v := range values[key] {
		if pragmaName(v) == pragma {
			return true
		}
	}
	return false
}

func pragmaName(pragma string) string {
	name, _, _ := strings.Cut(pragma, "(")
	name, _, _ = strings.Cut(name, "=")
	return strings.ToLower(strings.TrimSpace(name))
}

func isMemory(path string) bool {
	return path == ":memory:"
}

// runMigrations applies all database migrations
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	migrations := getMigrations()
	versions := make([]int, 0, len(migrations))
	for version := range migrations {
		versions = append(versions, version)
	}
	sort.Ints(versions)

	for _, version := range versions {
		if version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(migrations[version]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
	}

	return nil
}

// getMigrations returns all database migrations
func getMigrations() map[int]string {
	return map[int]string{
		1: migration001Players,
		2: migration002PlayerSessions,
	}
}

const migration001Players = `
CREATE TABLE IF NOT EXISTS players (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	online INTEGER NOT NULL DEFAULT 0,
	last_online TEXT,
	total_play_time INTEGER NOT NULL DEFAULT 0 CHECK (total_play_time >= 0)
);

CREATE INDEX IF NOT EXISTS idx_players_online ON players(online);
CREATE INDEX IF NOT EXISTS idx_players_name ON players(name COLLATE NOCASE);
`

const migration002PlayerSessions = `
CREATE TABLE IF NOT EXISTS player_sessions (
	player_id TEXT NOT NULL REFERENCES players(id),
	date TEXT NOT NULL,
	time_played_in_session INTEGER NOT NULL DEFAULT 0 CHECK (time_played_in_session >= 0),
	PRIMARY KEY (player_id, date)
);

CREATE INDEX IF NOT EXISTS idx_player_sessions_date ON player_sessions(date);
`
