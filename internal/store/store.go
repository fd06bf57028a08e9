package store

import (
	"context"
	"errors"

	"temanngopi/pos/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("duplicate")
	ErrMissingReference = errors.New("missing referenced entity")
	ErrInvalid          = errors.New("invalid input")
)

type Repository interface {
	ListProducts(ctx context.Context, onlyAvailable bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByInvoice(ctx context.Context, invoiceNumber string) (*domain.Transaction, error)
	// CreateTransaction writes the transaction, its items and the derived
	// journal entry atomically. Duplicate id or invoice number is ErrDuplicate;
	// an unknown cashier is ErrMissingReference.
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	AttachTransactionsToCashBook(ctx context.Context, cashBookID string, transactionIDs []string) (int, error)

	GetOpenBill(ctx context.Context, id string) (*domain.OpenBill, error)
	UpsertOpenBill(ctx context.Context, bill domain.OpenBill) (*domain.OpenBill, error)
	UpdateOpenBillStatus(ctx context.Context, id string, status string) (*domain.OpenBill, error)
	ListOpenBills(ctx context.Context, status string, limit int) ([]domain.OpenBill, error)

	GetCashBook(ctx context.Context, id string) (*domain.CashBook, error)
	FindCashBookByDate(ctx context.Context, date string) (*domain.CashBook, error)
	UpsertCashBook(ctx context.Context, book domain.CashBook) (*domain.CashBook, error)
	UpdateCashBookTotals(ctx context.Context, book domain.CashBook) (*domain.CashBook, error)
	ListCashBooks(ctx context.Context, limit int) ([]domain.CashBook, error)

	// UpsertExpense writes the expense and, on first creation of an expense id,
	// exactly one derived journal entry.
	UpsertExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	DeleteExpense(ctx context.Context, id string) error
	ListExpenses(ctx context.Context, cashBookID string) ([]domain.Expense, error)

	ListJournalByReference(ctx context.Context, refID string) ([]domain.JournalEntry, error)

	GetUser(ctx context.Context, id string) (*domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
}
