package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/store"
)

func testTransaction(id string, invoice string) domain.Transaction {
	return domain.Transaction{
		ID:            id,
		InvoiceNumber: invoice,
		CashierID:     "user-budi",
		Subtotal:      25000,
		Total:         25000,
		PaymentMethod: domain.PaymentCash,
		AmountPaid:    30000,
		Change:        5000,
		Status:        domain.TxStatusCompleted,
		CreatedAt:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Items: []domain.TransactionItem{
			{ProductID: "prod-kopi-hitam", ProductName: "Kopi Hitam", Price: 10000, Quantity: 1, Subtotal: 10000},
			{ProductID: "prod-kopi-susu", ProductName: "Kopi Susu", Price: 15000, Quantity: 1, Subtotal: 15000},
		},
	}
}

func TestCreateTransactionWritesJournalOnce(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	created, err := repo.CreateTransaction(ctx, testTransaction("tx-1", "TN202603140001"))
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	entries, err := repo.ListJournalByReference(ctx, created.ID)
	if err != nil {
		t.Fatalf("list journal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one journal entry, got %d", len(entries))
	}
	if entries[0].DebitAccount != domain.AccountKas || entries[0].CreditAccount != domain.AccountPenjualan {
		t.Fatalf("unexpected journal accounts: %s/%s", entries[0].DebitAccount, entries[0].CreditAccount)
	}
	if entries[0].Amount != 25000 {
		t.Fatalf("unexpected journal amount: %d", entries[0].Amount)
	}

	// A replay with the same id must not double-record.
	if _, err := repo.CreateTransaction(ctx, testTransaction("tx-1", "TN202603140001")); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on same id, got %v", err)
	}
	entries, _ = repo.ListJournalByReference(ctx, created.ID)
	if len(entries) != 1 {
		t.Fatalf("replay must not add journal entries, got %d", len(entries))
	}
}

func TestCreateTransactionNonCashDebitsBank(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	tx := testTransaction("tx-bank", "TN202603140005")
	tx.PaymentMethod = domain.PaymentNonCash
	tx.AmountPaid = 25000
	tx.Change = 0

	created, err := repo.CreateTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	entries, _ := repo.ListJournalByReference(ctx, created.ID)
	if len(entries) != 1 || entries[0].DebitAccount != domain.AccountBank {
		t.Fatalf("non-cash sale should debit bank, got %+v", entries)
	}
}

func TestCreateTransactionDuplicateInvoice(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	if _, err := repo.CreateTransaction(ctx, testTransaction("tx-1", "TN202603140001")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := repo.CreateTransaction(ctx, testTransaction("tx-2", "TN202603140001"))
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on duplicate invoice, got %v", err)
	}
}

func TestCreateTransactionUnknownCashier(t *testing.T) {
	repo := NewSeeded()

	tx := testTransaction("tx-1", "TN202603140001")
	tx.CashierID = "nobody"
	_, err := repo.CreateTransaction(context.Background(), tx)
	if !errors.Is(err, store.ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
}

func TestUpsertExpenseJournalOnce(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	expense := domain.Expense{
		ID:          "exp-1",
		Description: "Beli gula",
		Amount:      50000,
		Category:    "Bahan",
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := repo.UpsertExpense(ctx, expense); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	expense.Amount = 60000
	if _, err := repo.UpsertExpense(ctx, expense); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	entries, err := repo.ListJournalByReference(ctx, "exp-1")
	if err != nil {
		t.Fatalf("list journal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one journal entry after replay, got %d", len(entries))
	}
	if entries[0].DebitAccount != domain.AccountBeban || entries[0].CreditAccount != domain.AccountKas {
		t.Fatalf("unexpected journal accounts: %s/%s", entries[0].DebitAccount, entries[0].CreditAccount)
	}
}

func TestUpsertExpenseDetachedPersists(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	// No cash book open yet; the expense lands detached instead of failing.
	created, err := repo.UpsertExpense(ctx, domain.Expense{
		ID: "exp-detached", Description: "Beli es batu", Amount: 15000,
	})
	if err != nil {
		t.Fatalf("detached expense: %v", err)
	}
	if created.CashBookID != "" {
		t.Fatalf("expected no book reference, got %q", created.CashBookID)
	}

	// A concrete but unknown book reference is still rejected.
	_, err = repo.UpsertExpense(ctx, domain.Expense{
		ID: "exp-orphan", Description: "Beli gas", Amount: 25000, CashBookID: "cbk-missing",
	})
	if !errors.Is(err, store.ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference for unknown book, got %v", err)
	}
}

func TestUpsertCashBookDateUniqueness(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	book := domain.CashBook{ID: "cbk-1", Date: "2026-03-14", OwnerID: "user-owner", InitialCapital: 100000}
	if _, err := repo.UpsertCashBook(ctx, book); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Same id replays fine.
	if _, err := repo.UpsertCashBook(ctx, book); err != nil {
		t.Fatalf("same-id replay should succeed: %v", err)
	}

	// A second book for the same date is a conflict.
	other := domain.CashBook{ID: "cbk-2", Date: "2026-03-14", OwnerID: "user-owner"}
	if _, err := repo.UpsertCashBook(ctx, other); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second book on same date, got %v", err)
	}
}

func TestAttachTransactionsToCashBook(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	if _, err := repo.UpsertCashBook(ctx, domain.CashBook{
		ID: "cbk-1", Date: "2026-03-14", OwnerID: "user-owner", InitialCapital: 100000,
	}); err != nil {
		t.Fatalf("upsert cash book: %v", err)
	}

	late := testTransaction("tx-late", "TN202603140009")
	late.IsLate = true
	if _, err := repo.CreateTransaction(ctx, late); err != nil {
		t.Fatalf("create late transaction: %v", err)
	}

	attached, err := repo.AttachTransactionsToCashBook(ctx, "cbk-1", []string{"tx-late"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if attached != 1 {
		t.Fatalf("expected 1 attached, got %d", attached)
	}

	book, err := repo.GetCashBook(ctx, "cbk-1")
	if err != nil {
		t.Fatalf("get cash book: %v", err)
	}
	if book.TotalCash != 25000 {
		t.Fatalf("expected total cash 25000, got %d", book.TotalCash)
	}
	if book.FinalBalance != 125000 {
		t.Fatalf("expected final balance 125000, got %d", book.FinalBalance)
	}

	// Re-attaching the same transaction is a no-op.
	attached, err = repo.AttachTransactionsToCashBook(ctx, "cbk-1", []string{"tx-late"})
	if err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if attached != 0 {
		t.Fatalf("expected 0 on re-attach, got %d", attached)
	}
	book, _ = repo.GetCashBook(ctx, "cbk-1")
	if book.TotalCash != 25000 {
		t.Fatalf("re-attach must not double-count, got %d", book.TotalCash)
	}
}
