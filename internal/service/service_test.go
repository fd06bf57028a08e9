package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"temanngopi/pos/internal/cache"
	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/store"
	"temanngopi/pos/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.Noop{}, "22:00")
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "user-owner", Email: "owner@temanngopi.com", Role: domain.RoleOwner})
}

func kasirCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "user-budi", Email: "budi@temanngopi.com", Role: domain.RoleKasir})
}

func saleItems() []domain.TransactionItem {
	return []domain.TransactionItem{
		{ProductID: "prod-kopi-hitam", ProductName: "Kopi Hitam", Price: 10000, Quantity: 2},
		{ProductID: "prod-roti-bakar", ProductName: "Roti Bakar", Price: 15000, Quantity: 1},
	}
}

func TestCreateTransactionComputesTotalsAndChange(t *testing.T) {
	svc := newTestService()

	created, err := svc.CreateTransaction(kasirCtx(), domain.Transaction{
		PaymentMethod: domain.PaymentCash,
		AmountPaid:    50000,
		Discount:      5000,
		Items:         saleItems(),
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	if created.Subtotal != 35000 {
		t.Fatalf("expected subtotal 35000, got %d", created.Subtotal)
	}
	if created.Total != 30000 {
		t.Fatalf("expected total 30000, got %d", created.Total)
	}
	if created.Change != 20000 {
		t.Fatalf("expected change 20000, got %d", created.Change)
	}
	if created.CashierID != "user-budi" {
		t.Fatalf("cashier should default to the actor, got %s", created.CashierID)
	}
	if !strings.HasPrefix(created.InvoiceNumber, "TN") {
		t.Fatalf("unexpected invoice number %s", created.InvoiceNumber)
	}
}

func TestCreateTransactionInsufficientCash(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateTransaction(kasirCtx(), domain.Transaction{
		PaymentMethod: domain.PaymentCash,
		AmountPaid:    1000,
		Items:         saleItems(),
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for insufficient cash, got %v", err)
	}
}

func TestCreateTransactionInvoiceSequenceIncrements(t *testing.T) {
	svc := newTestService()

	first, err := svc.CreateTransaction(kasirCtx(), domain.Transaction{
		PaymentMethod: domain.PaymentCash, AmountPaid: 50000, Items: saleItems(),
	})
	if err != nil {
		t.Fatalf("first sale: %v", err)
	}
	second, err := svc.CreateTransaction(kasirCtx(), domain.Transaction{
		PaymentMethod: domain.PaymentCash, AmountPaid: 50000, Items: saleItems(),
	})
	if err != nil {
		t.Fatalf("second sale: %v", err)
	}
	if first.InvoiceNumber == second.InvoiceNumber {
		t.Fatalf("invoice numbers must be unique: %s", first.InvoiceNumber)
	}
	if !strings.HasSuffix(second.InvoiceNumber, "0002") {
		t.Fatalf("expected sequence 0002, got %s", second.InvoiceNumber)
	}
}

func TestCreateTransactionAttachesToOpenBook(t *testing.T) {
	svc := newTestService()

	book, err := svc.OpenCashBook(ownerCtx(), domain.CashBookCreateRequest{InitialCapital: 100000})
	if err != nil {
		t.Fatalf("open cash book: %v", err)
	}

	// Force a time well before the cut-off so the sale attaches.
	now := time.Now().UTC()
	created, err := svc.CreateTransaction(kasirCtx(), domain.Transaction{
		PaymentMethod: domain.PaymentCash,
		AmountPaid:    50000,
		Items:         saleItems(),
		CreatedAt:     time.Date(now.Year(), now.Month(), now.Day(), 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if created.CashBookID == nil || *created.CashBookID != book.ID {
		t.Fatalf("expected sale attached to book %s, got %v", book.ID, created.CashBookID)
	}

	updated, err := svc.GetCashBook(ownerCtx(), book.ID)
	if err != nil {
		t.Fatalf("get cash book: %v", err)
	}
	if updated.TotalCash != created.Total {
		t.Fatalf("expected book total cash %d, got %d", created.Total, updated.TotalCash)
	}
}

func TestOpenCashBookOnePerDate(t *testing.T) {
	svc := newTestService()

	if _, err := svc.OpenCashBook(ownerCtx(), domain.CashBookCreateRequest{Date: "2026-03-14", InitialCapital: 100000}); err != nil {
		t.Fatalf("open cash book: %v", err)
	}
	_, err := svc.OpenCashBook(ownerCtx(), domain.CashBookCreateRequest{Date: "2026-03-14", InitialCapital: 50000})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second book, got %v", err)
	}
}

func TestOpenCashBookRequiresOwner(t *testing.T) {
	svc := newTestService()

	_, err := svc.OpenCashBook(kasirCtx(), domain.CashBookCreateRequest{InitialCapital: 100000})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for kasir, got %v", err)
	}
}

func TestCloseCashBookFinalBalance(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	book, err := svc.OpenCashBook(ctx, domain.CashBookCreateRequest{Date: "2026-03-14", InitialCapital: 100000})
	if err != nil {
		t.Fatalf("open cash book: %v", err)
	}

	if _, err := svc.AddExpense(ctx, domain.Expense{
		CashBookID: book.ID, Description: "Beli susu", Amount: 30000,
	}); err != nil {
		t.Fatalf("add expense: %v", err)
	}

	cash := int64(80000)
	if _, err := svc.PatchCashBook(ctx, book.ID, domain.CashBookPatchRequest{TotalCash: &cash}); err != nil {
		t.Fatalf("patch cash book: %v", err)
	}

	closed, err := svc.CloseCashBook(ctx, book.ID, "tutup")
	if err != nil {
		t.Fatalf("close cash book: %v", err)
	}
	if !closed.IsClosed || closed.ClosedAt == nil {
		t.Fatalf("book should be closed with timestamp")
	}
	// 100000 capital + 80000 cash - 30000 expenses.
	if closed.FinalBalance != 150000 {
		t.Fatalf("expected final balance 150000, got %d", closed.FinalBalance)
	}

	// Closing again is a no-op, not an error.
	again, err := svc.CloseCashBook(ctx, book.ID, "")
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !again.IsClosed {
		t.Fatalf("book should stay closed")
	}
}

func TestPayOpenBillCreatesTransactionAndMarksPaid(t *testing.T) {
	svc := newTestService()
	ctx := kasirCtx()

	bill, err := svc.CreateOpenBill(ctx, domain.OpenBill{
		TableNumber: "4",
		Items: []domain.OpenBillItem{
			{ProductID: "prod-cappuccino", ProductName: "Cappuccino", Price: 20000, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create open bill: %v", err)
	}

	tx, err := svc.PayOpenBill(ctx, bill.ID, domain.PaymentCash, 50000, 0, 0)
	if err != nil {
		t.Fatalf("pay open bill: %v", err)
	}
	if tx.Total != 40000 {
		t.Fatalf("expected total 40000, got %d", tx.Total)
	}

	// A second payment attempt must be rejected.
	if _, err := svc.PayOpenBill(ctx, bill.ID, domain.PaymentCash, 50000, 0, 0); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid paying a settled bill, got %v", err)
	}
}

func TestListTransactionsScopesKasirToOwnSales(t *testing.T) {
	svc := newTestService()

	if _, err := svc.CreateTransaction(kasirCtx(), domain.Transaction{
		PaymentMethod: domain.PaymentCash, AmountPaid: 50000, Items: saleItems(),
	}); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	other := WithActor(context.Background(), domain.Actor{ID: "user-owner", Role: domain.RoleKasir})
	list, err := svc.ListTransactions(other, domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("kasir must not see other cashiers' sales, got %d", len(list))
	}
}

func TestMenuGroupsByCategory(t *testing.T) {
	svc := newTestService()

	sections, err := svc.Menu(context.Background())
	if err != nil {
		t.Fatalf("menu: %v", err)
	}
	if len(sections) < 2 {
		t.Fatalf("expected multiple categories, got %d", len(sections))
	}
	for _, section := range sections {
		for _, product := range section.Products {
			if !product.IsAvailable {
				t.Fatalf("menu must only contain available products")
			}
			if product.Category != section.Category {
				t.Fatalf("product %s in wrong section %s", product.Name, section.Category)
			}
		}
	}
}
