// Package snapshotcache keeps the last-known-good game state on local disk so
// a restart without a reachable server does not fall back to an empty town.
package snapshotcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/agenttown/townsync/go/internal/models"
	"github.com/agenttown/townsync/go/internal/townsync/state"
)

// Entry is a cached snapshot.
type Entry struct {
	Game      models.GameState
	Dashboard string
	Version   uint64
	SavedAt   time.Time
}

// Cache is a single-row SQL store of the latest snapshot, backed by a local
// SQLite file or a shared Postgres database.
type Cache struct {
	db       *sql.DB
	postgres bool
}

// Open opens or creates the cache. A postgres:// or postgresql:// DSN selects
// Postgres; anything else is treated as a SQLite file path.
func Open(dsn string) (*Cache, error) {
	if dsn == "" {
		return nil, errors.New("empty cache path")
	}
	if isPostgres(dsn) {
		return openPostgres(dsn)
	}
	return openSQLite(dsn)
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func openSQLite(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache pragmas: %w", err)
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func openPostgres(dsn string) (*Cache, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Cache{db: db, postgres: true}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS townsync_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version BIGINT NOT NULL,
		game_state TEXT NOT NULL,
		dashboard TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (c *Cache) rebind(query string) string {
	if !c.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save replaces the cached snapshot.
func (c *Cache) Save(ctx context.Context, snap state.Snapshot) error {
	game, err := json.Marshal(snap.Game)
	if err != nil {
		return fmt.Errorf("marshal game state: %w", err)
	}
	savedAt := snap.UpdatedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err = c.db.ExecContext(ctx, c.rebind(`
		INSERT INTO townsync_snapshot (id, version, game_state, dashboard, saved_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			game_state = excluded.game_state,
			dashboard = excluded.dashboard,
			saved_at = excluded.saved_at`),
		int64(snap.Version), string(game), snap.Dashboard, savedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the cached snapshot. The bool is false when nothing is cached.
func (c *Cache) Load(ctx context.Context) (Entry, bool, error) {
	var (
		version  int64
		game     string
		entry    Entry
		savedRaw string
	)
	row := c.db.QueryRowContext(ctx, `SELECT version, game_state, dashboard, saved_at FROM townsync_snapshot WHERE id = 1`)
	if err := row.Scan(&version, &game, &entry.Dashboard, &savedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(game), &entry.Game); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached game state: %w", err)
	}
	entry.Version = uint64(version)
	if t, err := time.Parse(time.RFC3339Nano, savedRaw); err == nil {
		entry.SavedAt = t
	}
	return entry, true, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
