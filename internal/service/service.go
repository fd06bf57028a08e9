package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"temanngopi/pos/internal/cache"
	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/store"
	"temanngopi/pos/internal/xid"
)

// ErrForbidden marks operations the authenticated actor's role does not allow.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	menuCache  cache.MenuCache
	cutOffTime string
}

func New(repo store.Repository, menuCache cache.MenuCache, cutOffTime string) *Service {
	if menuCache == nil {
		menuCache = cache.Noop{}
	}
	if cutOffTime == "" {
		cutOffTime = domain.DefaultCutOffTime
	}

	return &Service{
		repo:       repo,
		menuCache:  menuCache,
		cutOffTime: cutOffTime,
	}
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, ErrForbidden
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, false)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalid
	}
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" || req.Price < 0 {
		return domain.Product{}, store.ErrInvalid
	}
	if req.Unit == "" {
		req.Unit = "pcs"
	}

	product := domain.Product{
		ID:          xid.New("prd"),
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
		Price:       req.Price,
		Cost:        req.Cost,
		Unit:        req.Unit,
		IsAvailable: true,
		ImageURL:    req.ImageURL,
		UpdatedAt:   time.Now().UTC(),
	}

	created, err := s.repo.UpsertProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateMenu(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalid
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalid
		}
		updated.Category = category
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return domain.Product{}, store.ErrInvalid
		}
		updated.Price = *req.Price
	}
	if req.Cost != nil {
		updated.Cost = *req.Cost
	}
	if req.Unit != nil {
		updated.Unit = *req.Unit
	}
	if req.IsAvailable != nil {
		updated.IsAvailable = *req.IsAvailable
	}
	if req.ImageURL != nil {
		updated.ImageURL = *req.ImageURL
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpsertProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateMenu(ctx)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return store.ErrInvalid
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidateMenu(ctx)
	return nil
}

// Menu returns available products grouped by category. Served from cache when
// warm; product writes invalidate it.
func (s *Service) Menu(ctx context.Context) ([]domain.MenuSection, error) {
	if sections, ok := s.menuCache.Get(ctx); ok {
		return sections, nil
	}

	products, err := s.repo.ListProducts(ctx, true)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string][]domain.Product)
	for _, p := range products {
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}
	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	sections := make([]domain.MenuSection, 0, len(categories))
	for _, category := range categories {
		sections = append(sections, domain.MenuSection{
			Category: category,
			Products: byCategory[category],
		})
	}

	s.menuCache.Set(ctx, sections)
	return sections, nil
}

func (s *Service) invalidateMenu(ctx context.Context) {
	if err := s.menuCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: menu cache invalidate failed: %v", err)
	}
}

// CreateTransaction records a completed sale. The id may be client-generated
// (offline-created sales keep their local id); when empty a server id is
// assigned. The invoice number is likewise honored when present so replays
// collide instead of double-recording.
func (s *Service) CreateTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	actor, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir)
	if err != nil {
		return domain.Transaction{}, err
	}

	if len(tx.Items) == 0 {
		return domain.Transaction{}, store.ErrInvalid
	}
	if tx.PaymentMethod != domain.PaymentCash && tx.PaymentMethod != domain.PaymentNonCash {
		return domain.Transaction{}, store.ErrInvalid
	}

	var subtotal int64
	for i := range tx.Items {
		item := &tx.Items[i]
		if item.Quantity < 1 || item.Price < 0 {
			return domain.Transaction{}, store.ErrInvalid
		}
		item.Subtotal = item.Price * int64(item.Quantity)
		subtotal += item.Subtotal
	}
	tx.Subtotal = subtotal
	if tx.Discount < 0 || tx.Discount > subtotal || tx.Tax < 0 {
		return domain.Transaction{}, store.ErrInvalid
	}
	tx.Total = subtotal - tx.Discount + tx.Tax
	if tx.PaymentMethod == domain.PaymentCash && tx.AmountPaid < tx.Total {
		return domain.Transaction{}, store.ErrInvalid
	}
	if tx.AmountPaid == 0 {
		tx.AmountPaid = tx.Total
	}
	tx.Change = tx.AmountPaid - tx.Total

	if tx.CashierID == "" {
		tx.CashierID = actor.ID
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}
	if tx.ID == "" {
		tx.ID = xid.New("trx")
	}
	if tx.InvoiceNumber == "" {
		invoice, err := s.nextInvoiceNumber(ctx, tx.CreatedAt)
		if err != nil {
			return domain.Transaction{}, err
		}
		tx.InvoiceNumber = invoice
	}

	if tx.CashBookID == nil && !tx.IsLate {
		if book, err := s.repo.FindCashBookByDate(ctx, domain.DateString(tx.CreatedAt)); err == nil && !book.IsClosed {
			if domain.IsAfterCutOff(tx.CreatedAt, book.CutOffTime) {
				tx.IsLate = true
			} else {
				tx.CashBookID = &book.ID
			}
		}
	}

	created, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return domain.Transaction{}, err
	}

	if created.CashBookID != nil {
		if err := s.addSaleToCashBook(ctx, *created.CashBookID, created.PaymentMethod, created.Total); err != nil {
			log.Printf("[service] WARN: cash book totals update failed for tx=%s: %v", created.ID, err)
		}
	}

	return *created, nil
}

func (s *Service) nextInvoiceNumber(ctx context.Context, at time.Time) (string, error) {
	todays, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{
		Date:  domain.DateString(at),
		Limit: 10000,
	})
	if err != nil {
		return "", err
	}

	prefix := domain.InvoicePrefix(at)
	highest := 0
	for _, tx := range todays {
		if !strings.HasPrefix(tx.InvoiceNumber, prefix) {
			continue
		}
		if seq, err := strconv.Atoi(tx.InvoiceNumber[len(prefix):]); err == nil && seq > highest {
			highest = seq
		}
	}
	return domain.InvoiceNumber(at, highest+1), nil
}

func (s *Service) addSaleToCashBook(ctx context.Context, cashBookID string, method string, total int64) error {
	book, err := s.repo.GetCashBook(ctx, cashBookID)
	if err != nil {
		return err
	}
	if method == domain.PaymentNonCash {
		book.TotalNonCash += total
	} else {
		book.TotalCash += total
	}
	_, err = s.repo.UpdateCashBookTotals(ctx, *book)
	return err
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir); err != nil {
		return nil, err
	}
	return s.repo.GetTransaction(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	actor, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir)
	if err != nil {
		return nil, err
	}
	// Cashiers only see their own sales.
	if actor.Role == domain.RoleKasir {
		filter.CashierID = actor.ID
	}
	return s.repo.ListTransactions(ctx, filter)
}

func (s *Service) CancelTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return domain.Transaction{}, err
	}

	existing, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if existing.Status == domain.TxStatusCancelled {
		return *existing, nil
	}

	existing.Status = domain.TxStatusCancelled
	updated, err := s.repo.UpdateTransaction(ctx, *existing)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *updated, nil
}

func (s *Service) CreateOpenBill(ctx context.Context, bill domain.OpenBill) (domain.OpenBill, error) {
	actor, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir)
	if err != nil {
		return domain.OpenBill{}, err
	}

	if len(bill.Items) == 0 {
		return domain.OpenBill{}, store.ErrInvalid
	}
	var subtotal int64
	for i := range bill.Items {
		item := &bill.Items[i]
		if item.Quantity < 1 || item.Price < 0 {
			return domain.OpenBill{}, store.ErrInvalid
		}
		item.Subtotal = item.Price * int64(item.Quantity)
		subtotal += item.Subtotal
	}
	bill.Subtotal = subtotal
	bill.Total = subtotal
	if bill.ID == "" {
		bill.ID = xid.New("obl")
	}
	if bill.CashierID == "" {
		bill.CashierID = actor.ID
	}
	bill.Status = domain.OpenBillStatusOpen
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	created, err := s.repo.UpsertOpenBill(ctx, bill)
	if err != nil {
		return domain.OpenBill{}, err
	}
	return *created, nil
}

func (s *Service) ListOpenBills(ctx context.Context, status string) ([]domain.OpenBill, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir); err != nil {
		return nil, err
	}
	return s.repo.ListOpenBills(ctx, status, 0)
}

// PayOpenBill settles an open bill: it records the sale as a transaction and
// marks the bill PAID. Paying an already-paid bill is rejected.
func (s *Service) PayOpenBill(ctx context.Context, billID string, paymentMethod string, amountPaid int64, discount int64, tax int64) (domain.Transaction, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir); err != nil {
		return domain.Transaction{}, err
	}

	bill, err := s.repo.GetOpenBill(ctx, billID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if bill.Status != domain.OpenBillStatusOpen {
		return domain.Transaction{}, store.ErrInvalid
	}

	items := make([]domain.TransactionItem, 0, len(bill.Items))
	for _, item := range bill.Items {
		items = append(items, domain.TransactionItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
		})
	}

	tx, err := s.CreateTransaction(ctx, domain.Transaction{
		CashierID:     bill.CashierID,
		PaymentMethod: paymentMethod,
		AmountPaid:    amountPaid,
		Discount:      discount,
		Tax:           tax,
		Notes:         bill.Notes,
		Items:         items,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	if _, err := s.repo.UpdateOpenBillStatus(ctx, billID, domain.OpenBillStatusPaid); err != nil {
		log.Printf("[service] WARN: open bill %s paid but status update failed: %v", billID, err)
	}
	return tx, nil
}

// OpenCashBook starts the day's ledger. At most one book per calendar date.
func (s *Service) OpenCashBook(ctx context.Context, req domain.CashBookCreateRequest) (domain.CashBook, error) {
	actor, err := s.requireRole(ctx, domain.RoleOwner)
	if err != nil {
		return domain.CashBook{}, err
	}

	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = domain.DateString(time.Now().UTC())
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return domain.CashBook{}, store.ErrInvalid
	}
	if req.InitialCapital < 0 {
		return domain.CashBook{}, store.ErrInvalid
	}

	if existing, err := s.repo.FindCashBookByDate(ctx, date); err == nil && existing != nil {
		return domain.CashBook{}, store.ErrDuplicate
	}

	cutOff := req.CutOffTime
	if cutOff == "" {
		cutOff = s.cutOffTime
	}

	book := domain.CashBook{
		ID:             xid.New("cbk"),
		Date:           date,
		OwnerID:        actor.ID,
		InitialCapital: req.InitialCapital,
		CutOffTime:     cutOff,
		Notes:          req.Notes,
	}
	created, err := s.repo.UpsertCashBook(ctx, book)
	if err != nil {
		return domain.CashBook{}, err
	}
	return *created, nil
}

func (s *Service) GetCashBook(ctx context.Context, id string) (*domain.CashBook, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir); err != nil {
		return nil, err
	}
	return s.repo.GetCashBook(ctx, id)
}

func (s *Service) TodayCashBook(ctx context.Context) (*domain.CashBook, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir); err != nil {
		return nil, err
	}
	return s.repo.FindCashBookByDate(ctx, domain.DateString(time.Now().UTC()))
}

func (s *Service) ListCashBooks(ctx context.Context, limit int) ([]domain.CashBook, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return nil, err
	}
	return s.repo.ListCashBooks(ctx, limit)
}

func (s *Service) PatchCashBook(ctx context.Context, id string, req domain.CashBookPatchRequest) (domain.CashBook, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return domain.CashBook{}, err
	}

	book, err := s.repo.GetCashBook(ctx, id)
	if err != nil {
		return domain.CashBook{}, err
	}
	if book.IsClosed {
		return domain.CashBook{}, store.ErrInvalid
	}

	if req.TotalCash != nil {
		book.TotalCash = *req.TotalCash
	}
	if req.TotalNonCash != nil {
		book.TotalNonCash = *req.TotalNonCash
	}
	if req.TotalExpenses != nil {
		book.TotalExpenses = *req.TotalExpenses
	}
	if req.Notes != nil {
		book.Notes = *req.Notes
	}
	if req.IsClosed != nil && *req.IsClosed {
		now := time.Now().UTC()
		book.IsClosed = true
		book.ClosedAt = &now
	}

	updated, err := s.repo.UpdateCashBookTotals(ctx, *book)
	if err != nil {
		return domain.CashBook{}, err
	}
	return *updated, nil
}

// CloseCashBook finalizes the day: final balance is initial capital plus cash
// takings minus expenses. Non-cash settles to the bank account and never moves
// the drawer balance. Closing an already-closed book is a no-op.
func (s *Service) CloseCashBook(ctx context.Context, id string, notes string) (domain.CashBook, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return domain.CashBook{}, err
	}

	book, err := s.repo.GetCashBook(ctx, id)
	if err != nil {
		return domain.CashBook{}, err
	}
	if book.IsClosed {
		return *book, nil
	}

	now := time.Now().UTC()
	book.IsClosed = true
	book.ClosedAt = &now
	if notes != "" {
		book.Notes = notes
	}

	updated, err := s.repo.UpdateCashBookTotals(ctx, *book)
	if err != nil {
		return domain.CashBook{}, err
	}
	return *updated, nil
}

// AttachLateTransactions folds flagged after-cut-off sales into the given cash
// book. Transactions already attached to a book are skipped.
func (s *Service) AttachLateTransactions(ctx context.Context, cashBookID string, transactionIDs []string) (int, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return 0, err
	}
	if len(transactionIDs) == 0 {
		return 0, store.ErrInvalid
	}
	return s.repo.AttachTransactionsToCashBook(ctx, cashBookID, transactionIDs)
}

func (s *Service) ListLateTransactions(ctx context.Context) ([]domain.Transaction, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return nil, err
	}
	late := true
	return s.repo.ListTransactions(ctx, domain.TransactionFilter{Late: &late, Limit: 500})
}

func (s *Service) AddExpense(ctx context.Context, expense domain.Expense) (domain.Expense, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir); err != nil {
		return domain.Expense{}, err
	}

	expense.Description = strings.TrimSpace(expense.Description)
	if expense.Description == "" || expense.Amount <= 0 {
		return domain.Expense{}, store.ErrInvalid
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	if expense.CashBookID == "" {
		if book, err := s.repo.FindCashBookByDate(ctx, domain.DateString(expense.CreatedAt)); err == nil {
			expense.CashBookID = book.ID
		}
	}

	created, err := s.repo.UpsertExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}

	if created.CashBookID != "" {
		if err := s.recomputeExpenseTotals(ctx, created.CashBookID); err != nil {
			log.Printf("[service] WARN: cash book expense totals update failed for book=%s: %v", created.CashBookID, err)
		}
	}
	return *created, nil
}

func (s *Service) recomputeExpenseTotals(ctx context.Context, cashBookID string) error {
	book, err := s.repo.GetCashBook(ctx, cashBookID)
	if err != nil {
		return err
	}
	expenses, err := s.repo.ListExpenses(ctx, cashBookID)
	if err != nil {
		return err
	}
	var total int64
	for _, e := range expenses {
		total += e.Amount
	}
	book.TotalExpenses = total
	_, err = s.repo.UpdateCashBookTotals(ctx, *book)
	return err
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return err
	}
	return s.repo.DeleteExpense(ctx, id)
}

func (s *Service) ListExpenses(ctx context.Context, cashBookID string) ([]domain.Expense, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner, domain.RoleKasir); err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, cashBookID)
}

// DailyReport summarizes a date's book: sales split by payment method,
// expenses and the closing balance so far.
func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	if _, err := s.requireRole(ctx, domain.RoleOwner); err != nil {
		return domain.DailyReport{}, err
	}
	if date == "" {
		date = domain.DateString(time.Now().UTC())
	}

	book, err := s.repo.FindCashBookByDate(ctx, date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	transactions, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{Date: date, Limit: 10000})
	if err != nil {
		return domain.DailyReport{}, err
	}
	expenses, err := s.repo.ListExpenses(ctx, book.ID)
	if err != nil {
		return domain.DailyReport{}, err
	}

	report := domain.DailyReport{
		Date:         date,
		CashBook:     *book,
		Expenses:     expenses,
		Transactions: len(transactions),
	}
	for _, tx := range transactions {
		if tx.Status != domain.TxStatusCompleted {
			continue
		}
		report.GrossSales += tx.Total
		if tx.PaymentMethod == domain.PaymentNonCash {
			report.NonCashSales += tx.Total
		} else {
			report.CashSales += tx.Total
		}
		if tx.IsLate {
			report.LateSales += tx.Total
		}
	}
	for _, e := range expenses {
		report.TotalExpenses += e.Amount
	}
	return report, nil
}
