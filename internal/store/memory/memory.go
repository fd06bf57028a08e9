package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/store"
	"temanngopi/pos/internal/xid"
)

type Store struct {
	mu             sync.RWMutex
	products       map[string]domain.Product
	transactions   map[string]*domain.Transaction
	txByInvoice    map[string]string
	openBills      map[string]*domain.OpenBill
	cashBooks      map[string]domain.CashBook
	cashBookByDate map[string]string
	expenses       map[string]domain.Expense
	journal        []domain.JournalEntry
	usersByID      map[string]domain.UserAccount
	userIDByEmail  map[string]string
}

func New() *Store {
	return &Store{
		products:       map[string]domain.Product{},
		transactions:   map[string]*domain.Transaction{},
		txByInvoice:    map[string]string{},
		openBills:      map[string]*domain.OpenBill{},
		cashBooks:      map[string]domain.CashBook{},
		cashBookByDate: map[string]string{},
		expenses:       map[string]domain.Expense{},
		usersByID:      map[string]domain.UserAccount{},
		userIDByEmail:  map[string]string{},
	}
}

// NewSeeded builds a store pre-populated with demo users and a small menu,
// used in dev mode (no DATABASE_URL) and by tests.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, u := range seedUsers() {
		s.usersByID[u.ID] = u
		s.userIDByEmail[u.Email] = u.ID
	}

	for _, p := range []domain.Product{
		{ID: "prod-kopi-hitam", Name: "Kopi Hitam", Category: "Kopi", Price: 10000, Cost: 3500, Unit: "cup", IsAvailable: true},
		{ID: "prod-kopi-susu", Name: "Kopi Susu", Category: "Kopi", Price: 15000, Cost: 6000, Unit: "cup", IsAvailable: true},
		{ID: "prod-cappuccino", Name: "Cappuccino", Category: "Kopi", Price: 20000, Cost: 8000, Unit: "cup", IsAvailable: true},
		{ID: "prod-americano", Name: "Americano", Category: "Kopi", Price: 18000, Cost: 7000, Unit: "cup", IsAvailable: true},
		{ID: "prod-teh-manis", Name: "Teh Manis", Category: "Non-Kopi", Price: 8000, Cost: 2000, Unit: "cup", IsAvailable: true},
		{ID: "prod-roti-bakar", Name: "Roti Bakar", Category: "Makanan", Price: 15000, Cost: 6000, Unit: "porsi", IsAvailable: true},
	} {
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	return s
}

// seedUsers builds the initial accounts for dev/demo mode. Credentials come
// from SEED_OWNER_PASSWORD and SEED_KASIR_PASSWORD; hardcoded dev defaults are
// used with a warning when unset. Production deployments use PostgreSQL.
func seedUsers() []domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123456")
	kasirPwd := envOr("SEED_KASIR_PASSWORD", "kasir123456")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_KASIR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_KASIR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	accounts := []struct {
		id       string
		email    string
		name     string
		password string
		role     string
	}{
		{"user-owner", "owner@temanngopi.com", "Admin Owner", ownerPwd, domain.RoleOwner},
		{"user-budi", "budi@temanngopi.com", "Budi Santoso", kasirPwd, domain.RoleKasir},
	}

	users := make([]domain.UserAccount, 0, len(accounts))
	for _, acc := range accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(acc.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", acc.email, err)
		}
		users = append(users, domain.UserAccount{
			ID:        acc.id,
			Email:     acc.email,
			Name:      acc.name,
			Password:  string(hash),
			Role:      acc.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context, onlyAvailable bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if onlyAvailable && !p.IsAvailable {
			continue
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Category != products[j].Category {
			return products[i].Category < products[j].Category
		}
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price < 0 {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	copied := product
	return &copied, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Delete-if-exists: a retried delete for an already-gone product is a no-op.
	delete(s.products, id)
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTransaction(tx), nil
}

func (s *Store) FindTransactionByInvoice(_ context.Context, invoiceNumber string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.txByInvoice[invoiceNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTransaction(s.transactions[id]), nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ID == "" || tx.InvoiceNumber == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if _, exists := s.txByInvoice[tx.InvoiceNumber]; exists {
		return nil, store.ErrDuplicate
	}
	if _, exists := s.usersByID[tx.CashierID]; !exists {
		return nil, store.ErrMissingReference
	}

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	stored := copyTransaction(&tx)
	s.transactions[tx.ID] = stored
	s.txByInvoice[tx.InvoiceNumber] = tx.ID

	debit := domain.AccountKas
	if tx.PaymentMethod == domain.PaymentNonCash {
		debit = domain.AccountBank
	}
	s.journal = append(s.journal, domain.JournalEntry{
		ID:            xid.New("jrn"),
		TransactionID: tx.ID,
		Date:          domain.DateString(tx.CreatedAt),
		DebitAccount:  debit,
		CreditAccount: domain.AccountPenjualan,
		Amount:        tx.Total,
		CreatedAt:     time.Now().UTC(),
	})

	return copyTransaction(stored), nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.transactions[tx.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.Status = tx.Status
	existing.IsLate = tx.IsLate
	existing.Notes = tx.Notes
	existing.CashBookID = tx.CashBookID
	return copyTransaction(existing), nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if filter.CashierID != "" && tx.CashierID != filter.CashierID {
			continue
		}
		if filter.Date != "" && domain.DateString(tx.CreatedAt) != filter.Date {
			continue
		}
		if filter.Late != nil && tx.IsLate != *filter.Late {
			continue
		}
		matched = append(matched, tx)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	result := make([]domain.Transaction, 0, limit)
	for _, tx := range matched[:limit] {
		result = append(result, *copyTransaction(tx))
	}
	return result, nil
}

func (s *Store) AttachTransactionsToCashBook(_ context.Context, cashBookID string, transactionIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.cashBooks[cashBookID]
	if !ok {
		return 0, store.ErrNotFound
	}

	attached := 0
	for _, id := range transactionIDs {
		tx, ok := s.transactions[id]
		if !ok || tx.CashBookID != nil {
			continue
		}
		bookID := cashBookID
		tx.CashBookID = &bookID
		if tx.PaymentMethod == domain.PaymentNonCash {
			book.TotalNonCash += tx.Total
		} else {
			book.TotalCash += tx.Total
		}
		attached++
	}
	book.FinalBalance = book.InitialCapital + book.TotalCash - book.TotalExpenses
	s.cashBooks[cashBookID] = book
	return attached, nil
}

func (s *Store) GetOpenBill(_ context.Context, id string) (*domain.OpenBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.openBills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyOpenBill(bill), nil
}

func (s *Store) UpsertOpenBill(_ context.Context, bill domain.OpenBill) (*domain.OpenBill, error) {
	if bill.ID == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByID[bill.CashierID]; !exists {
		return nil, store.ErrMissingReference
	}
	if bill.Status == "" {
		bill.Status = domain.OpenBillStatusOpen
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}
	s.openBills[bill.ID] = copyOpenBill(&bill)
	return copyOpenBill(&bill), nil
}

func (s *Store) UpdateOpenBillStatus(_ context.Context, id string, status string) (*domain.OpenBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, ok := s.openBills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	bill.Status = status
	return copyOpenBill(bill), nil
}

func (s *Store) ListOpenBills(_ context.Context, status string, limit int) ([]domain.OpenBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.OpenBill, 0, len(s.openBills))
	for _, bill := range s.openBills {
		if status != "" && bill.Status != status {
			continue
		}
		matched = append(matched, bill)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	result := make([]domain.OpenBill, 0, limit)
	for _, bill := range matched[:limit] {
		result = append(result, *copyOpenBill(bill))
	}
	return result, nil
}

func (s *Store) GetCashBook(_ context.Context, id string) (*domain.CashBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.cashBooks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := book
	return &copied, nil
}

func (s *Store) FindCashBookByDate(_ context.Context, date string) (*domain.CashBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.cashBookByDate[date]
	if !ok {
		return nil, store.ErrNotFound
	}
	book := s.cashBooks[id]
	return &book, nil
}

func (s *Store) UpsertCashBook(_ context.Context, book domain.CashBook) (*domain.CashBook, error) {
	if book.ID == "" || book.Date == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.cashBookByDate[book.Date]; ok && existingID != book.ID {
		return nil, store.ErrDuplicate
	}
	if book.CutOffTime == "" {
		book.CutOffTime = domain.DefaultCutOffTime
	}
	book.FinalBalance = book.InitialCapital + book.TotalCash - book.TotalExpenses
	s.cashBooks[book.ID] = book
	s.cashBookByDate[book.Date] = book.ID
	copied := book
	return &copied, nil
}

func (s *Store) UpdateCashBookTotals(_ context.Context, book domain.CashBook) (*domain.CashBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cashBooks[book.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.TotalCash = book.TotalCash
	existing.TotalNonCash = book.TotalNonCash
	existing.TotalExpenses = book.TotalExpenses
	existing.FinalBalance = existing.InitialCapital + existing.TotalCash - existing.TotalExpenses
	existing.IsClosed = book.IsClosed
	existing.ClosedAt = book.ClosedAt
	if book.Notes != "" {
		existing.Notes = book.Notes
	}
	s.cashBooks[book.ID] = existing
	copied := existing
	return &copied, nil
}

func (s *Store) ListCashBooks(_ context.Context, limit int) ([]domain.CashBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]domain.CashBook, 0, len(s.cashBooks))
	for _, book := range s.cashBooks {
		books = append(books, book)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].Date > books[j].Date })
	if limit > 0 && limit < len(books) {
		books = books[:limit]
	}
	return books, nil
}

func (s *Store) UpsertExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ID == "" || expense.Description == "" || expense.Amount < 0 {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A detached expense (no cash book yet, or an unknown offline book
	// reference stripped during reconcile) is still persisted.
	if expense.CashBookID != "" {
		if _, exists := s.cashBooks[expense.CashBookID]; !exists {
			return nil, store.ErrMissingReference
		}
	}

	_, existed := s.expenses[expense.ID]
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	if expense.Category == "" {
		expense.Category = "Operasional"
	}
	s.expenses[expense.ID] = expense

	// The journal row is written only on first creation so a retried CREATE
	// cannot double-count the expense.
	if !existed {
		s.journal = append(s.journal, domain.JournalEntry{
			ID:            xid.New("jrn"),
			ExpenseID:     expense.ID,
			Date:          domain.DateString(expense.CreatedAt),
			DebitAccount:  domain.AccountBeban,
			CreditAccount: domain.AccountKas,
			Amount:        expense.Amount,
			CreatedAt:     time.Now().UTC(),
		})
	}

	copied := expense
	return &copied, nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.expenses, id)
	return nil
}

func (s *Store) ListExpenses(_ context.Context, cashBookID string) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, 8)
	for _, e := range s.expenses {
		if cashBookID != "" && e.CashBookID != cashBookID {
			continue
		}
		expenses = append(expenses, e)
	}
	sort.Slice(expenses, func(i, j int) bool {
		return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
	})
	return expenses, nil
}

func (s *Store) ListJournalByReference(_ context.Context, refID string) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.JournalEntry, 0, 2)
	for _, entry := range s.journal {
		if entry.TransactionID == refID || entry.ExpenseID == refID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userIDByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.ID == "" || user.Email == "" {
		return store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, exists := s.userIDByEmail[email]; exists {
		return store.ErrDuplicate
	}
	user.Email = email
	s.usersByID[user.ID] = user
	s.userIDByEmail[email] = user.ID
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.userIDByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return store.ErrNotFound
	}
	user := s.usersByID[id]
	user.Password = password
	s.usersByID[id] = user
	return nil
}

func copyTransaction(tx *domain.Transaction) *domain.Transaction {
	copied := *tx
	copied.Items = append([]domain.TransactionItem(nil), tx.Items...)
	if tx.CashBookID != nil {
		bookID := *tx.CashBookID
		copied.CashBookID = &bookID
	}
	return &copied
}

func copyOpenBill(bill *domain.OpenBill) *domain.OpenBill {
	copied := *bill
	copied.Items = append([]domain.OpenBillItem(nil), bill.Items...)
	return &copied
}
