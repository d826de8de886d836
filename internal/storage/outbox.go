package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// OpKind names the four remote mutations an intent can carry.
type OpKind string

const (
	OpAdd            OpKind = "add"
	OpUpdateQuantity OpKind = "update_quantity"
	OpToggleCheck    OpKind = "toggle_check"
	OpRemove         OpKind = "remove"
)

// OutboxEntry is one pending sync intent. Entries are drained in insertion
// order and deleted once the remote mutation succeeds.
type OutboxEntry struct {
	ID        int64
	Op        OpKind
	ItemID    string
	Payload   []byte
	Attempts  int
	LastError string
	CreatedAt time.Time
}

func (s *Store) EnqueueIntent(ctx context.Context, op OpKind, itemID string, payload any) (int64, error) {

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	query := `INSERT INTO outbox (op, item_id, payload, created_at) VALUES (?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query, string(op), itemID, data, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue sync intent: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox id: %w", err)
	}

	return id, nil
}

func (s *Store) PendingIntents(ctx context.Context, limit int) ([]*OutboxEntry, error) {

	query := `
		SELECT id, op, item_id, payload, attempts, last_error, created_at
		FROM outbox
		ORDER BY id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending intents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*OutboxEntry

	for rows.Next() {

		entry := &OutboxEntry{}

		var op string

		if err := rows.Scan(&entry.ID, &op, &entry.ItemID, &entry.Payload, &entry.Attempts, &entry.LastError, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}

		entry.Op = OpKind(op)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// MarkIntentDone removes a drained intent. Also used to drop intents that
// exhausted their attempt budget.
func (s *Store) MarkIntentDone(ctx context.Context, id int64) error {

	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove outbox entry %d: %w", id, err)
	}

	return nil
}

// MarkIntentFailed records one failed attempt against an intent.
func (s *Store) MarkIntentFailed(ctx context.Context, id int64, lastError string) error {

	query := `UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update outbox entry %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// RemoveIntentsForItem drops queued intents targeting an item that no longer
// exists locally, so a later remove does not race its own stale updates.
func (s *Store) RemoveIntentsForItem(ctx context.Context, itemID string) error {

	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE item_id = ? AND op != ?`, itemID, string(OpRemove)); err != nil {
		return fmt.Errorf("failed to prune outbox entries for item %s: %w", itemID, err)
	}

	return nil
}

// RemapIntentItemID rewrites queued intents from a locally generated id to
// the server-assigned one once the add lands remotely.
func (s *Store) RemapIntentItemID(ctx context.Context, oldID, newID string) error {

	if _, err := s.db.ExecContext(ctx, `UPDATE outbox SET item_id = ? WHERE item_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("failed to remap outbox entries from %s to %s: %w", oldID, newID, err)
	}

	return nil
}

// ClearOutbox discards all pending intents, part of a full local reset.
func (s *Store) ClearOutbox(ctx context.Context) error {

	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox`); err != nil {
		return fmt.Errorf("failed to clear outbox: %w", err)
	}

	return nil
}

func (s *Store) OutboxDepth(ctx context.Context) (int, error) {

	var depth int

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&depth); err != nil {
		return 0, fmt.Errorf("failed to count outbox entries: %w", err)
	}

	return depth, nil
}
