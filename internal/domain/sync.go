package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType enumerates the entity kinds the reconciliation endpoint accepts.
// Dispatch on it is exhaustive; anything else is ErrUnknownEntity territory.
type EntityType string

const (
	EntityProduct     EntityType = "product"
	EntityTransaction EntityType = "transaction"
	EntityOpenBill    EntityType = "open_bill"
	EntityCashBook    EntityType = "cash_book"
	EntityExpense     EntityType = "expense"
)

type SyncAction string

const (
	ActionCreate SyncAction = "CREATE"
	ActionUpdate SyncAction = "UPDATE"
	ActionDelete SyncAction = "DELETE"
)

// SyncMutation is the wire shape posted to /api/v1/sync by the drain cycle.
type SyncMutation struct {
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     SyncAction      `json:"action"`
	Payload    json.RawMessage `json:"payload"`
}

const (
	QueueStatusPending = "pending"
	QueueStatusSynced  = "synced"
	QueueStatusFailed  = "failed"
)

// MaxSyncAttempts bounds automatic retries; entries beyond it stay failed
// until an operator resets them.
const MaxSyncAttempts = 3

// SyncQueueEntry is one durable pending mutation. The payload is a snapshot
// taken at enqueue time and never edited afterwards; only status, attempts
// and error bookkeeping change.
type SyncQueueEntry struct {
	ID         int64      `json:"id"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Action     SyncAction `json:"action"`
	Payload    string     `json:"payload"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	ErrMsg     string     `json:"errMsg,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	SyncedAt   *time.Time `json:"syncedAt,omitempty"`
}

// EntityID is the two-phase identifier for client records: a stable local id
// assigned at creation, and a server id attached once the server has accepted
// the record. "Not yet synced" is an explicit state, not a nil check.
type EntityID struct {
	Local  string
	Server string
}

func PendingID(localID string) EntityID {
	return EntityID{Local: localID}
}

func ConfirmedID(localID, serverID string) EntityID {
	return EntityID{Local: localID, Server: serverID}
}

func (id EntityID) Synced() bool { return id.Server != "" }

// Ref returns the identifier other parties should use for this record: the
// server id once confirmed, the local id while pending. Queue payloads carry
// Ref() so that a CREATE drained later upserts under the client-generated id.
func (id EntityID) Ref() string {
	if id.Server != "" {
		return id.Server
	}
	return id.Local
}

// InvoiceNumber builds the date-coded invoice number: "TN" + yyyyMMdd + a
// zero-padded per-day sequence. seq is 1-based.
func InvoiceNumber(at time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", InvoicePrefix(at), seq)
}

// InvoicePrefix returns the per-day invoice prefix used for sequence counting.
func InvoicePrefix(at time.Time) string {
	return "TN" + at.Format("20060102")
}

// IsAfterCutOff reports whether now falls after the cash book's cut-off
// time-of-day. Sales after cut-off are flagged late and kept out of the
// current day's totals.
func IsAfterCutOff(now time.Time, cutOffTime string) bool {
	parts := strings.SplitN(cutOffTime, ":", 2)
	if len(parts) != 2 {
		return false
	}
	var hh, mm int
	if _, err := fmt.Sscanf(cutOffTime, "%d:%d", &hh, &mm); err != nil {
		return false
	}
	cutOff := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	return now.After(cutOff)
}

// DateString formats a timestamp as the calendar date used for cash book
// uniqueness and journal rows.
func DateString(at time.Time) string {
	return at.Format("2006-01-02")
}
