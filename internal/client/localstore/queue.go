package localstore

import (
	"context"
	"database/sql"
	"time"

	"temanngopi/pos/internal/domain"
)

// Enqueue appends a mutation to the durable sync queue outside any entity
// write. Writes that must be atomic with their entity row go through Apply.
func (s *Store) Enqueue(ctx context.Context, mutation domain.SyncMutation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := enqueueTx(ctx, tx, mutation); err != nil {
		return mapSQLiteErr(err)
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteErr(err)
	}
	s.notify("sync_queue")
	return nil
}

func enqueueTx(ctx context.Context, tx *sql.Tx, mutation domain.SyncMutation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (entity_type, entity_id, action, payload, status, attempts, created_at)
		VALUES (?,?,?,?,?,0,?)
	`, string(mutation.EntityType), mutation.EntityID, string(mutation.Action),
		string(mutation.Payload), domain.QueueStatusPending, time.Now().UTC())
	return err
}

// PendingBatch returns drain-eligible entries in FIFO order, capped at
// limit: pending and failed alike, as long as the attempt budget is not
// spent. Failed entries over budget wait for an operator reset.
func (s *Store) PendingBatch(ctx context.Context, limit int) ([]domain.SyncQueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, payload, status, attempts, error_msg, created_at, synced_at
		FROM sync_queue
		WHERE status IN (?, ?) AND attempts < ?
		ORDER BY id
		LIMIT ?
	`, domain.QueueStatusPending, domain.QueueStatusFailed, domain.MaxSyncAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// ListQueue returns every queue entry, optionally filtered by status, newest
// first. Used by the daemon's status endpoint.
func (s *Store) ListQueue(ctx context.Context, status string, limit int) ([]domain.SyncQueueEntry, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, entity_type, entity_id, action, payload, status, attempts, error_msg, created_at, synced_at
		FROM sync_queue
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

func scanQueueEntries(rows *sql.Rows) ([]domain.SyncQueueEntry, error) {
	entries := make([]domain.SyncQueueEntry, 0, 16)
	for rows.Next() {
		var entry domain.SyncQueueEntry
		var entityType, action string
		var syncedAt sql.NullTime
		if err := rows.Scan(&entry.ID, &entityType, &entry.EntityID, &action, &entry.Payload,
			&entry.Status, &entry.Attempts, &entry.ErrMsg, &entry.CreatedAt, &syncedAt); err != nil {
			return nil, err
		}
		entry.EntityType = domain.EntityType(entityType)
		entry.Action = domain.SyncAction(action)
		if syncedAt.Valid {
			t := syncedAt.Time
			entry.SyncedAt = &t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// IncrementAttempts bumps the attempt counter before an upload try, so a
// crash mid-request still burns the attempt.
func (s *Store) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE sync_queue SET attempts = attempts + 1 WHERE id = ?
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		return 0, mapSQLiteErr(err)
	}
	return attempts, nil
}

func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	return s.setQueueStatus(ctx, id, domain.QueueStatusSynced, "", true)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return s.setQueueStatus(ctx, id, domain.QueueStatusFailed, errMsg, false)
}

func (s *Store) MarkPending(ctx context.Context, id int64, errMsg string) error {
	return s.setQueueStatus(ctx, id, domain.QueueStatusPending, errMsg, false)
}

func (s *Store) setQueueStatus(ctx context.Context, id int64, status string, errMsg string, synced bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var syncedAt any
	if synced {
		syncedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, error_msg = ?, synced_at = ? WHERE id = ?
	`, status, errMsg, syncedAt, id)
	if err != nil {
		return mapSQLiteErr(err)
	}
	s.notify("sync_queue")
	return nil
}

// DiscardPending drops every unsent queue entry for one entity. Used when a
// record the server never saw is deleted locally; uploading its create would
// only resurrect it.
func (s *Store) DiscardPending(ctx context.Context, entityType domain.EntityType, entityID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ? AND status = ?
	`, string(entityType), entityID, domain.QueueStatusPending)
	if err != nil {
		return 0, mapSQLiteErr(err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		s.notify("sync_queue")
	}
	return int(affected), nil
}

// ResetFailed puts every failed entry back in the pending state with a fresh
// attempt budget. Manual recovery, triggered by the operator.
func (s *Store) ResetFailed(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, attempts = 0, error_msg = '' WHERE status = ?
	`, domain.QueueStatusPending, domain.QueueStatusFailed)
	if err != nil {
		return 0, mapSQLiteErr(err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		s.notify("sync_queue")
	}
	return int(affected), nil
}

// PurgeSynced deletes synced entries older than the cutoff to keep the
// terminal database small.
func (s *Store) PurgeSynced(ctx context.Context, olderThan time.Duration) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE status = ? AND synced_at IS NOT NULL AND synced_at < ?
	`, domain.QueueStatusSynced, cutoff)
	if err != nil {
		return 0, mapSQLiteErr(err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// QueueCounts reports how many entries sit in each status.
func (s *Store) QueueCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{
		domain.QueueStatusPending: 0,
		domain.QueueStatusSynced:  0,
		domain.QueueStatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
