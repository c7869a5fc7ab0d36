package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/timeline"
)

// Store persists users, sessions, timeline documents and share records in sqlite.
type Store struct {
	database *sql.DB
	now      func() time.Time
}

func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	slog.Info("Opening database", "path", path)
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}
	s := &Store{database: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS users (
		uid text not null primary key,
		email text not null unique,
		created_at datetime not null
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
		token text not null primary key,
		uid text not null references users(uid),
		created_at datetime not null
		)`,
		`CREATE TABLE IF NOT EXISTS timelines (
		uid text not null primary key,
		entries text not null,
		updated_at datetime not null
		)`,
		`CREATE TABLE IF NOT EXISTS shares (
		email text not null primary key,
		owner_uid text not null,
		owner_email text not null,
		updated_at datetime not null
		)`,
	} {
		if _, err := s.database.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	slog.Info("Ensured initial tables exist")
	return nil
}

func (s *Store) Close() error {
	return s.database.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.database.PingContext(ctx)
}

// SignIn finds or creates the user for email and opens a new session for them.
func (s *Store) SignIn(ctx context.Context, email string) (*remote.Credentials, error) {
	email, err := remote.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users (uid, email, created_at) VALUES (?, ?, ?)`, uuid.NewString(), email, now); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	var uid string
	if err := tx.QueryRowContext(ctx, `SELECT uid FROM users WHERE email = ?`, email).Scan(&uid); err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	token := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions (token, uid, created_at) VALUES (?, ?, ?)`, token, uid, now); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &remote.Credentials{Identity: remote.Identity{UID: uid, Email: email}, Token: token}, nil
}

func (s *Store) SignOut(ctx context.Context, token string) error {
	_, err := s.database.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// Identify resolves a session token to its user.
func (s *Store) Identify(ctx context.Context, token string) (*remote.Identity, error) {
	if token == "" {
		return nil, remote.ErrUnauthorized
	}
	id := new(remote.Identity)
	if err := s.database.QueryRowContext(
		ctx,
		`SELECT u.uid, u.email FROM sessions s INNER JOIN users u ON u.uid = s.uid WHERE s.token = ?`,
		token,
	).Scan(&id.UID, &id.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, remote.ErrUnauthorized
		}
		return nil, err
	}
	return id, nil
}

func (s *Store) GetTimeline(ctx context.Context, uid string) (*timeline.Document, error) {
	var raw string
	doc := new(timeline.Document)
	if err := s.database.QueryRowContext(ctx, `SELECT entries, updated_at FROM timelines WHERE uid = ?`, uid).Scan(&raw, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, remote.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &doc.Entries); err != nil {
		return nil, fmt.Errorf("failed to decode stored entries: %w", err)
	}
	return doc, nil
}

// PutTimeline replaces the owner's document wholesale and stamps it with the
// server clock. There is no version check: the last write to arrive wins.
func (s *Store) PutTimeline(ctx context.Context, uid string, entries []timeline.Entry) (*timeline.Document, error) {
	if entries == nil {
		entries = []timeline.Entry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	doc := &timeline.Document{Entries: entries, UpdatedAt: s.now()}
	if _, err := s.database.ExecContext(
		ctx,
		`INSERT INTO timelines (uid, entries, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET entries = excluded.entries, updated_at = excluded.updated_at`,
		uid, string(raw), doc.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to persist timeline: %w", err)
	}
	return doc, nil
}

// PutShare points viewerEmail at owner, replacing any earlier owner for that email.
func (s *Store) PutShare(ctx context.Context, viewerEmail string, owner remote.Identity) (*remote.Share, error) {
	email, err := remote.NormalizeEmail(viewerEmail)
	if err != nil {
		return nil, err
	}
	share := &remote.Share{OwnerUID: owner.UID, OwnerEmail: owner.Email, UpdatedAt: s.now()}
	if _, err := s.database.ExecContext(
		ctx,
		`INSERT INTO shares (email, owner_uid, owner_email, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET owner_uid = excluded.owner_uid, owner_email = excluded.owner_email, updated_at = excluded.updated_at`,
		email, share.OwnerUID, share.OwnerEmail, share.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to persist share: %w", err)
	}
	return share, nil
}

func (s *Store) GetShare(ctx context.Context, viewerEmail string) (*remote.Share, error) {
	email, err := remote.NormalizeEmail(viewerEmail)
	if err != nil {
		return nil, err
	}
	share := new(remote.Share)
	if err := s.database.QueryRowContext(
		ctx,
		`SELECT owner_uid, owner_email, updated_at FROM shares WHERE email = ?`,
		email,
	).Scan(&share.OwnerUID, &share.OwnerEmail, &share.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, remote.ErrNotFound
		}
		return nil, err
	}
	return share, nil
}

// OwnedTimeline is a stored document together with its owner.
type OwnedTimeline struct {
	Owner    remote.Identity
	Document timeline.Document
}

// ListTimelines returns every stored document, ordered by owner email.
func (s *Store) ListTimelines(ctx context.Context) ([]OwnedTimeline, error) {
	rows, err := s.database.QueryContext(
		ctx,
		`SELECT t.uid, u.email, t.entries, t.updated_at FROM timelines t JOIN users u ON u.uid = t.uid ORDER BY u.email`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	var out []OwnedTimeline
	for rows.Next() {
		var item OwnedTimeline
		var raw string
		if err := rows.Scan(&item.Owner.UID, &item.Owner.Email, &raw, &item.Document.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &item.Document.Entries); err != nil {
			return nil, fmt.Errorf("failed to decode entries for %s: %w", item.Owner.UID, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
