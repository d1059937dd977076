// Package keystore is the daemon's local persisted state: the cloud
// API key, region strings, per-advisor enable flags, the cached meta
// patch marker, and recent match records. Environment variables take
// precedence over stored values so a developer override never touches
// the store.
package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/willckim/rift-architect/pkg/advisor"
)

// Environment overrides, checked before the store.
const (
	EnvAPIKey  = "RIOT_API_KEY"
	EnvRegion  = "RIFT_REGION"
	EnvRouting = "RIFT_ROUTING"
)

// Setting keys.
const (
	keyAPIKey          = "riot_api_key"
	keyRegion          = "region"
	keyRouting         = "routing"
	keyMetaPatchMarker = "meta_patch_marker"
)

// advisorFlagKey builds the per-advisor enable flag key.
func advisorFlagKey(name string) string {
	return fmt.Sprintf("agent_%s_enabled", name)
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS matches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	puuid      TEXT    NOT NULL,
	win        INTEGER NOT NULL,
	kills      INTEGER NOT NULL,
	deaths     INTEGER NOT NULL,
	assists    INTEGER NOT NULL,
	created_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_matches_puuid ON matches (puuid, created_at DESC);
`

// Store is the SQLite-backed local state. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path. ":memory:" gives
// an ephemeral store for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init keystore schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getSetting(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		return "", false
	}
	return value, true
}

func (s *Store) setSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// APIKey returns the cloud API key: environment first, then store.
// Empty when neither is set.
func (s *Store) APIKey() string {
	if v := os.Getenv(EnvAPIKey); v != "" {
		return v
	}
	v, _ := s.getSetting(keyAPIKey)
	return v
}

// SetAPIKey persists a new cloud API key.
func (s *Store) SetAPIKey(key string) error {
	return s.setSetting(keyAPIKey, key)
}

// Region returns the platform region string, defaulting via fallback.
func (s *Store) Region(fallback string) string {
	if v := os.Getenv(EnvRegion); v != "" {
		return v
	}
	if v, ok := s.getSetting(keyRegion); ok {
		return v
	}
	return fallback
}

// SetRegion persists the platform region.
func (s *Store) SetRegion(region string) error {
	return s.setSetting(keyRegion, region)
}

// Routing returns the regional routing string, defaulting via fallback.
func (s *Store) Routing(fallback string) string {
	if v := os.Getenv(EnvRouting); v != "" {
		return v
	}
	if v, ok := s.getSetting(keyRouting); ok {
		return v
	}
	return fallback
}

// SetRouting persists the regional routing value.
func (s *Store) SetRouting(routing string) error {
	return s.setSetting(keyRouting, routing)
}

// AdvisorEnabled reads the per-advisor enable flag; advisors default
// to enabled. Implements advisor.FlagStore.
func (s *Store) AdvisorEnabled(name string) bool {
	v, ok := s.getSetting(advisorFlagKey(name))
	return !ok || v == "true"
}

// SetAdvisorEnabled persists the per-advisor enable flag.
func (s *Store) SetAdvisorEnabled(name string, enabled bool) error {
	return s.setSetting(advisorFlagKey(name), fmt.Sprintf("%t", enabled))
}

// MetaPatchMarker returns the cached last-seen patch marker.
func (s *Store) MetaPatchMarker() string {
	v, _ := s.getSetting(keyMetaPatchMarker)
	return v
}

// SetMetaPatchMarker caches the last-seen patch marker.
func (s *Store) SetMetaPatchMarker(marker string) error {
	return s.setSetting(keyMetaPatchMarker, marker)
}

// SaveMatch appends one finished game. Implements advisor.MatchStore.
func (s *Store) SaveMatch(ctx context.Context, rec advisor.MatchRecord) error {
	win := 0
	if rec.Win {
		win = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (puuid, win, kills, deaths, assists, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.PUUID, win, rec.Kills, rec.Deaths, rec.Assists,
		rec.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save match: %w", err)
	}
	return nil
}

// RecentMatches returns up to n most recent records for puuid, newest
// first. Implements advisor.MatchStore.
func (s *Store) RecentMatches(ctx context.Context, puuid string, n int) ([]advisor.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT puuid, win, kills, deaths, assists, created_at
		 FROM matches WHERE puuid = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, puuid, n)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var records []advisor.MatchRecord
	for rows.Next() {
		var rec advisor.MatchRecord
		var win int
		var createdAt string
		if err := rows.Scan(&rec.PUUID, &win, &rec.Kills, &rec.Deaths, &rec.Assists, &createdAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		rec.Win = win == 1
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
