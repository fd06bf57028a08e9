// Package localstore is the cashier terminal's durable SQLite store. Every
// record written while offline survives restarts, and entity writes that must
// land together (a sale plus its queue entry) share one SQLite transaction.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"temanngopi/pos/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStorageFull surfaces SQLITE_FULL so callers can warn the operator
	// instead of silently dropping sales.
	ErrStorageFull = errors.New("local storage full")
	ErrDuplicate   = errors.New("duplicate")
)

type ChangeEvent struct {
	Table string
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// SQLite allows one writer; serializing writes here avoids SQLITE_BUSY.
	writeMu sync.Mutex

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]subscription
}

type subscription struct {
	tables map[string]bool
	ch     chan ChangeEvent
}

var entityTables = map[domain.EntityType]string{
	domain.EntityProduct:     "products",
	domain.EntityTransaction: "transactions",
	domain.EntityOpenBill:    "open_bills",
	domain.EntityCashBook:    "cash_books",
	domain.EntityExpense:     "expenses",
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	local_id   TEXT PRIMARY KEY,
	server_id  TEXT,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	local_id       TEXT PRIMARY KEY,
	server_id      TEXT,
	invoice_number TEXT NOT NULL UNIQUE,
	payload        TEXT NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS open_bills (
	local_id   TEXT PRIMARY KEY,
	server_id  TEXT,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS cash_books (
	local_id   TEXT PRIMARY KEY,
	server_id  TEXT,
	date       TEXT NOT NULL UNIQUE,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS expenses (
	local_id   TEXT PRIMARY KEY,
	server_id  TEXT,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	attempts    INTEGER NOT NULL DEFAULT 0,
	error_msg   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	synced_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, id);
CREATE TABLE IF NOT EXISTS app_settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		subs:   make(map[int]subscription),
	}, nil
}

func (s *Store) Close() error {
	s.subMu.Lock()
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	return s.db.Close()
}

// Subscribe returns a channel that receives an event after any write to the
// named tables (all tables when none given), plus a cancel func. Events are
// dropped rather than blocking the writer when the consumer lags.
func (s *Store) Subscribe(tables ...string) (<-chan ChangeEvent, func()) {
	filter := make(map[string]bool, len(tables))
	for _, t := range tables {
		filter[t] = true
	}

	s.subMu.Lock()
	s.nextSubID++
	id := s.nextSubID
	ch := make(chan ChangeEvent, 16)
	s.subs[id] = subscription{tables: filter, ch: ch}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if sub, ok := s.subs[id]; ok {
			close(sub.ch)
			delete(s.subs, id)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify(table string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		if len(sub.tables) > 0 && !sub.tables[table] {
			continue
		}
		select {
		case sub.ch <- ChangeEvent{Table: table}:
		default:
		}
	}
}

func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrFull:
			return fmt.Errorf("%w: %v", ErrStorageFull, err)
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return err
}

// Apply persists the mutation's entity row and, when enqueue is set, its sync
// queue entry in the same SQLite transaction. Either both land or neither
// does; a sale can never exist locally without its queued upload.
func (s *Store) Apply(ctx context.Context, mutation domain.SyncMutation, enqueue bool) error {
	table, ok := entityTables[mutation.EntityType]
	if !ok {
		return fmt.Errorf("unknown entity type %q", mutation.EntityType)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.applyEntity(ctx, tx, table, mutation); err != nil {
		return err
	}
	if enqueue {
		if err := enqueueTx(ctx, tx, mutation); err != nil {
			return mapSQLiteErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return mapSQLiteErr(err)
	}

	s.notify(table)
	if enqueue {
		s.notify("sync_queue")
	}
	return nil
}

func (s *Store) applyEntity(ctx context.Context, tx *sql.Tx, table string, mutation domain.SyncMutation) error {
	now := time.Now().UTC()

	switch mutation.Action {
	case domain.ActionDelete:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE local_id = ? OR server_id = ?`,
			mutation.EntityID, mutation.EntityID); err != nil {
			return mapSQLiteErr(err)
		}
		return nil

	case domain.ActionCreate, domain.ActionUpdate:
		switch table {
		case "transactions":
			var probe struct {
				InvoiceNumber string `json:"invoiceNumber"`
			}
			if err := json.Unmarshal(mutation.Payload, &probe); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transactions (local_id, invoice_number, payload, updated_at)
				VALUES (?,?,?,?)
				ON CONFLICT(local_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
			`, mutation.EntityID, probe.InvoiceNumber, string(mutation.Payload), now)
			return mapSQLiteErr(err)

		case "cash_books":
			var probe struct {
				Date string `json:"date"`
			}
			if err := json.Unmarshal(mutation.Payload, &probe); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cash_books (local_id, date, payload, updated_at)
				VALUES (?,?,?,?)
				ON CONFLICT(local_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
			`, mutation.EntityID, probe.Date, string(mutation.Payload), now)
			return mapSQLiteErr(err)

		default:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO `+table+` (local_id, payload, updated_at)
				VALUES (?,?,?)
				ON CONFLICT(local_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
			`, mutation.EntityID, string(mutation.Payload), now)
			return mapSQLiteErr(err)
		}

	default:
		return fmt.Errorf("unknown action %q", mutation.Action)
	}
}

// ConfirmSynced records that the server accepted the entity. The server
// upserts under the client id, so the confirmed server id equals the local id.
func (s *Store) ConfirmSynced(ctx context.Context, entityType domain.EntityType, localID string) error {
	table, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entityType)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET server_id = ? WHERE local_id = ?`, localID, localID)
	if err != nil {
		return mapSQLiteErr(err)
	}
	s.notify(table)
	return nil
}

// Get decodes the stored payload for an entity into dest and returns its
// identifier state.
func (s *Store) Get(ctx context.Context, entityType domain.EntityType, id string, dest any) (domain.EntityID, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return domain.EntityID{}, fmt.Errorf("unknown entity type %q", entityType)
	}

	var localID, payload string
	var serverID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT local_id, server_id, payload FROM `+table+` WHERE local_id = ? OR server_id = ?`,
		id, id).Scan(&localID, &serverID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EntityID{}, ErrNotFound
	}
	if err != nil {
		return domain.EntityID{}, err
	}

	if dest != nil {
		if err := json.Unmarshal([]byte(payload), dest); err != nil {
			return domain.EntityID{}, err
		}
	}
	if serverID.Valid {
		return domain.ConfirmedID(localID, serverID.String), nil
	}
	return domain.PendingID(localID), nil
}

// List decodes every payload in the entity's table, newest first. decode is
// called once per row with the raw payload.
func (s *Store) List(ctx context.Context, entityType domain.EntityType, decode func(payload []byte, id domain.EntityID) error) error {
	table, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entityType)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT local_id, server_id, payload FROM `+table+` ORDER BY updated_at DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var localID, payload string
		var serverID sql.NullString
		if err := rows.Scan(&localID, &serverID, &payload); err != nil {
			return err
		}
		id := domain.PendingID(localID)
		if serverID.Valid {
			id = domain.ConfirmedID(localID, serverID.String)
		}
		if err := decode([]byte(payload), id); err != nil {
			return err
		}
	}
	return rows.Err()
}

// NextInvoiceSequence returns the next 1-based sequence for the given per-day
// invoice prefix, counting only locally known transactions.
func (s *Store) NextInvoiceSequence(ctx context.Context, prefix string) (int, error) {
	var max sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(invoice_number) FROM transactions WHERE invoice_number LIKE ?`,
		prefix+"%").Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid || len(max.String) <= len(prefix) {
		return 1, nil
	}

	seq := 0
	for _, r := range max.String[len(prefix):] {
		if r < '0' || r > '9' {
			return 1, nil
		}
		seq = seq*10 + int(r-'0')
	}
	return seq + 1, nil
}

// FindCashBookByDate returns the locally known book for a calendar date.
func (s *Store) FindCashBookByDate(ctx context.Context, date string) (domain.CashBook, domain.EntityID, error) {
	var localID, payload string
	var serverID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT local_id, server_id, payload FROM cash_books WHERE date = ?`, date).
		Scan(&localID, &serverID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CashBook{}, domain.EntityID{}, ErrNotFound
	}
	if err != nil {
		return domain.CashBook{}, domain.EntityID{}, err
	}

	var book domain.CashBook
	if err := json.Unmarshal([]byte(payload), &book); err != nil {
		return domain.CashBook{}, domain.EntityID{}, err
	}
	id := domain.PendingID(localID)
	if serverID.Valid {
		id = domain.ConfirmedID(localID, serverID.String)
	}
	return book, id, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) PutSetting(ctx context.Context, key string, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value) VALUES (?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return mapSQLiteErr(err)
}

// ReplaceProducts swaps the local product catalog for the server's copy in one
// transaction, keeping the terminal's menu warm for offline sales.
func (s *Store) ReplaceProducts(ctx context.Context, products []domain.Product) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return mapSQLiteErr(err)
	}
	now := time.Now().UTC()
	for _, p := range products {
		payload, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO products (local_id, server_id, payload, updated_at)
			VALUES (?,?,?,?)
		`, p.ID, p.ID, string(payload), now); err != nil {
			return mapSQLiteErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return mapSQLiteErr(err)
	}
	s.notify("products")
	return nil
}

