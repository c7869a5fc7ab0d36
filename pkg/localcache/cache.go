// Package localcache mirrors the entry list into a single durable slot on the device.
package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/timeline"
)

const (
	EntriesKey     = "romantic.timeline.entries.v1"
	CredentialsKey = "romantic.timeline.session.v1"
)

type Cache struct {
	database *sql.DB
}

func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	c := &Cache{database: db}
	if err := c.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) init() error {
	if _, err := c.database.Exec(
		`CREATE TABLE IF NOT EXISTS slots (
		key text not null primary key,
		value text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create slots table: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.database.Close()
}

func (c *Cache) get(key string) (string, bool, error) {
	var raw string
	if err := c.database.QueryRowContext(context.Background(), `SELECT value FROM slots WHERE key = ?`, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return raw, true, nil
}

func (c *Cache) put(key, value string) error {
	_, err := c.database.ExecContext(
		context.Background(),
		`INSERT INTO slots (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (c *Cache) remove(key string) error {
	_, err := c.database.ExecContext(context.Background(), `DELETE FROM slots WHERE key = ?`, key)
	return err
}

// Load returns the persisted entries, falling back to the defaults when the slot is
// missing, unreadable or does not hold a JSON array of entries.
func (c *Cache) Load() []timeline.Entry {
	raw, ok, err := c.get(EntriesKey)
	if err != nil {
		slog.Warn("failed to read local slot", "err", err)
		return timeline.Defaults()
	}
	if !ok {
		return timeline.Defaults()
	}
	var entries []timeline.Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil || entries == nil {
		slog.Warn("discarding malformed local slot", "err", err)
		return timeline.Defaults()
	}
	return entries
}

// Save overwrites the slot. Failures are logged and otherwise swallowed.
func (c *Cache) Save(entries []timeline.Entry) {
	if entries == nil {
		entries = []timeline.Entry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		slog.Error("failed to encode entries", "err", err)
		return
	}
	if err := c.put(EntriesKey, string(raw)); err != nil {
		slog.Error("failed to write local slot", "err", err)
	}
}

// LoadCredentials returns the persisted session, if any.
func (c *Cache) LoadCredentials() (*remote.Credentials, bool) {
	raw, ok, err := c.get(CredentialsKey)
	if err != nil || !ok {
		return nil, false
	}
	var creds remote.Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil || creds.Token == "" {
		return nil, false
	}
	return &creds, true
}

func (c *Cache) SaveCredentials(creds remote.Credentials) {
	raw, err := json.Marshal(creds)
	if err != nil {
		slog.Error("failed to encode credentials", "err", err)
		return
	}
	if err := c.put(CredentialsKey, string(raw)); err != nil {
		slog.Error("failed to persist credentials", "err", err)
	}
}

func (c *Cache) ClearCredentials() {
	if err := c.remove(CredentialsKey); err != nil {
		slog.Error("failed to clear credentials", "err", err)
	}
}
