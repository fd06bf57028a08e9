package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/store"
)

// ErrUnknownEntity marks mutations for entity types the server does not know.
var ErrUnknownEntity = errors.New("unknown entity type")

// ReconcileResult reports how a replayed mutation landed.
type ReconcileResult struct {
	EntityType domain.EntityType `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Action     domain.SyncAction `json:"action"`
	Applied    bool              `json:"applied"` // false when the record already existed
}

// Reconcile applies one queued client mutation. It is idempotent: replaying a
// mutation that already landed reports Applied=false instead of failing, so a
// client that lost the response to a crash can safely resend. Duplicate
// records under a different id surface as store.ErrDuplicate and invalid
// payloads as store.ErrInvalid; the HTTP layer maps those to the statuses the
// drain cycle classifies on.
func (s *Service) Reconcile(ctx context.Context, mutation domain.SyncMutation) (ReconcileResult, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir); err != nil {
		return ReconcileResult{}, err
	}

	result := ReconcileResult{
		EntityType: mutation.EntityType,
		EntityID:   mutation.EntityID,
		Action:     mutation.Action,
		Applied:    true,
	}

	if mutation.EntityID == "" {
		return ReconcileResult{}, store.ErrInvalid
	}
	switch mutation.Action {
	case domain.ActionCreate, domain.ActionUpdate, domain.ActionDelete:
	default:
		return ReconcileResult{}, store.ErrInvalid
	}

	var err error
	switch mutation.EntityType {
	case domain.EntityProduct:
		result.Applied, err = s.reconcileProduct(ctx, mutation)
	case domain.EntityTransaction:
		result.Applied, err = s.reconcileTransaction(ctx, mutation)
	case domain.EntityOpenBill:
		result.Applied, err = s.reconcileOpenBill(ctx, mutation)
	case domain.EntityCashBook:
		result.Applied, err = s.reconcileCashBook(ctx, mutation)
	case domain.EntityExpense:
		result.Applied, err = s.reconcileExpense(ctx, mutation)
	default:
		return ReconcileResult{}, ErrUnknownEntity
	}
	if err != nil {
		return ReconcileResult{}, err
	}
	return result, nil
}

func (s *Service) reconcileProduct(ctx context.Context, mutation domain.SyncMutation) (bool, error) {
	if mutation.Action == domain.ActionDelete {
		if err := s.repo.DeleteProduct(ctx, mutation.EntityID); err != nil {
			return false, err
		}
		s.invalidateMenu(ctx)
		return true, nil
	}

	var product domain.Product
	if err := json.Unmarshal(mutation.Payload, &product); err != nil {
		return false, store.ErrInvalid
	}
	product.ID = mutation.EntityID
	if product.Name == "" || product.Price < 0 {
		return false, store.ErrInvalid
	}
	if _, err := s.repo.UpsertProduct(ctx, product); err != nil {
		return false, err
	}
	s.invalidateMenu(ctx)
	return true, nil
}

func (s *Service) reconcileTransaction(ctx context.Context, mutation domain.SyncMutation) (bool, error) {
	var tx domain.Transaction
	if err := json.Unmarshal(mutation.Payload, &tx); err != nil {
		return false, store.ErrInvalid
	}
	tx.ID = mutation.EntityID

	switch mutation.Action {
	case domain.ActionCreate:
		// Same id already landed: the earlier attempt succeeded but the
		// response was lost. Report it as already applied.
		if _, err := s.repo.GetTransaction(ctx, tx.ID); err == nil {
			return false, nil
		}
		if tx.InvoiceNumber == "" || len(tx.Items) == 0 {
			return false, store.ErrInvalid
		}
		// A cash book reference minted offline may not exist here. Detach
		// rather than reject; the owner folds it in via the late-attach flow.
		if tx.CashBookID != nil {
			if _, err := s.repo.GetCashBook(ctx, *tx.CashBookID); err != nil {
				log.Printf("[service] sync: tx %s references unknown cash book %s, detaching", tx.ID, *tx.CashBookID)
				tx.CashBookID = nil
				tx.IsLate = true
			}
		}
		if tx.Status == "" {
			tx.Status = domain.TxStatusCompleted
		}
		created, err := s.repo.CreateTransaction(ctx, tx)
		if err != nil {
			return false, err
		}
		if created.CashBookID != nil {
			if err := s.addSaleToCashBook(ctx, *created.CashBookID, created.PaymentMethod, created.Total); err != nil {
				log.Printf("[service] WARN: cash book totals update failed for synced tx=%s: %v", created.ID, err)
			}
		}
		return true, nil

	case domain.ActionUpdate:
		if _, err := s.repo.UpdateTransaction(ctx, tx); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return false, store.ErrMissingReference
			}
			return false, err
		}
		return true, nil

	default:
		// Completed sales are never deleted, only cancelled.
		return false, store.ErrInvalid
	}
}

func (s *Service) reconcileOpenBill(ctx context.Context, mutation domain.SyncMutation) (bool, error) {
	if mutation.Action == domain.ActionDelete {
		// Bills are retained for audit; a client-side delete means the bill
		// was settled or discarded, either way it is no longer open.
		if _, err := s.repo.UpdateOpenBillStatus(ctx, mutation.EntityID, domain.OpenBillStatusPaid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	var bill domain.OpenBill
	if err := json.Unmarshal(mutation.Payload, &bill); err != nil {
		return false, store.ErrInvalid
	}
	bill.ID = mutation.EntityID
	if len(bill.Items) == 0 {
		return false, store.ErrInvalid
	}
	if _, err := s.repo.UpsertOpenBill(ctx, bill); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) reconcileCashBook(ctx context.Context, mutation domain.SyncMutation) (bool, error) {
	if mutation.Action == domain.ActionDelete {
		return false, store.ErrInvalid
	}

	var book domain.CashBook
	if err := json.Unmarshal(mutation.Payload, &book); err != nil {
		return false, store.ErrInvalid
	}
	book.ID = mutation.EntityID
	if book.Date == "" {
		return false, store.ErrInvalid
	}

	// Same-id replay upserts cleanly. A different id for an already-opened
	// date is a real duplicate and surfaces as a conflict.
	if existing, err := s.repo.FindCashBookByDate(ctx, book.Date); err == nil && existing.ID != book.ID {
		return false, store.ErrDuplicate
	}
	if _, err := s.repo.UpsertCashBook(ctx, book); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) reconcileExpense(ctx context.Context, mutation domain.SyncMutation) (bool, error) {
	if mutation.Action == domain.ActionDelete {
		if err := s.repo.DeleteExpense(ctx, mutation.EntityID); err != nil {
			return false, err
		}
		return true, nil
	}

	var expense domain.Expense
	if err := json.Unmarshal(mutation.Payload, &expense); err != nil {
		return false, store.ErrInvalid
	}
	expense.ID = mutation.EntityID
	if expense.Description == "" || expense.Amount <= 0 {
		return false, store.ErrInvalid
	}
	if expense.CashBookID != "" {
		if _, err := s.repo.GetCashBook(ctx, expense.CashBookID); err != nil {
			log.Printf("[service] sync: expense %s references unknown cash book %s, detaching", expense.ID, expense.CashBookID)
			expense.CashBookID = ""
		}
	}

	created, err := s.repo.UpsertExpense(ctx, expense)
	if err != nil {
		return false, err
	}
	if created.CashBookID != "" {
		if err := s.recomputeExpenseTotals(ctx, created.CashBookID); err != nil {
			log.Printf("[service] WARN: cash book expense totals update failed for book=%s: %v", created.CashBookID, err)
		}
	}
	return true, nil
}
