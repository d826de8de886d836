package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tiendamovil/cartsync/internal/models"

	_ "modernc.org/sqlite"
)

// Store is the on-device durable state: the serialized cart snapshot under a
// single key, and the outbox of pending sync intents.
type Store struct {
	db *sql.DB
}

const cartKey = "cart"

func Open(path string) (*Store, error) {

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage at %s: %w", path, err)
	}

	// modernc sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY under concurrent outbox/controller access.
	db.SetMaxOpenConns(1)

	return NewStore(db)
}

func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,
		item_id TEXT NOT NULL,
		payload JSON NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveCart overwrites the stored cart snapshot.
func (s *Store) SaveCart(ctx context.Context, items []models.CartItem) error {

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal cart snapshot: %w", err)
	}

	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, cartKey, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to persist cart snapshot: %w", err)
	}

	return nil
}

// LoadCart returns the last saved snapshot. A missing or unparseable snapshot
// loads as an empty cart; only storage I/O surfaces as an error.
func (s *Store) LoadCart(ctx context.Context) ([]models.CartItem, error) {

	var data []byte

	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, cartKey).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return []models.CartItem{}, nil
		}
		return nil, fmt.Errorf("failed to read cart snapshot: %w", err)
	}

	var items []models.CartItem

	if err := json.Unmarshal(data, &items); err != nil {
		slog.Warn("Stored cart snapshot is corrupt, starting from an empty cart", slog.String("error", err.Error()))
		return []models.CartItem{}, nil
	}

	if items == nil {
		items = []models.CartItem{}
	}

	return items, nil
}

// ClearCart removes the snapshot.
func (s *Store) ClearCart(ctx context.Context) error {

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, cartKey); err != nil {
		return fmt.Errorf("failed to clear cart snapshot: %w", err)
	}

	return nil
}
