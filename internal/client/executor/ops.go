package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"temanngopi/pos/internal/client/api"
	"temanngopi/pos/internal/client/localstore"
	"temanngopi/pos/internal/client/netmon"
	"temanngopi/pos/internal/domain"
)

var ErrInvalid = errors.New("invalid input")

// Ops bundles the cashier terminal's dual-path operations over one local
// store, one API client and one monitor.
type Ops struct {
	store   *localstore.Store
	api     *api.Client
	monitor *netmon.Monitor
	logger  *slog.Logger

	cashierID  string
	cutOffTime string
}

func NewOps(store *localstore.Store, apiClient *api.Client, monitor *netmon.Monitor, logger *slog.Logger, cutOffTime string) *Ops {
	if logger == nil {
		logger = slog.Default()
	}
	if cutOffTime == "" {
		cutOffTime = domain.DefaultCutOffTime
	}
	return &Ops{
		store:      store,
		api:        apiClient,
		monitor:    monitor,
		logger:     logger,
		cutOffTime: cutOffTime,
	}
}

// SetCashier records the logged-in cashier; offline-created records carry it.
func (o *Ops) SetCashier(id string) { o.cashierID = id }

func mutationFor(entityType domain.EntityType, entityID string, action domain.SyncAction, value any) (domain.SyncMutation, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.SyncMutation{}, err
	}
	return domain.SyncMutation{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Payload:    payload,
	}, nil
}

// mirror writes the server's accepted copy into the local store without
// queueing, then marks it confirmed.
func (o *Ops) mirror(ctx context.Context, entityType domain.EntityType, entityID string, value any) error {
	mutation, err := mutationFor(entityType, entityID, domain.ActionUpdate, value)
	if err != nil {
		return err
	}
	if err := o.store.Apply(ctx, mutation, false); err != nil {
		return err
	}
	return o.store.ConfirmSynced(ctx, entityType, entityID)
}

// CreateTransaction records a sale. Totals, change, the date-coded invoice
// number and the late flag are computed here so both paths produce the same
// record; only where it lands differs.
func (o *Ops) CreateTransaction(ctx context.Context, tx domain.Transaction) (Outcome[domain.Transaction], error) {
	if len(tx.Items) == 0 {
		return Outcome[domain.Transaction]{}, ErrInvalid
	}
	if tx.PaymentMethod != domain.PaymentCash && tx.PaymentMethod != domain.PaymentNonCash {
		return Outcome[domain.Transaction]{}, ErrInvalid
	}

	var subtotal int64
	for i := range tx.Items {
		item := &tx.Items[i]
		if item.Quantity < 1 || item.Price < 0 {
			return Outcome[domain.Transaction]{}, ErrInvalid
		}
		item.Subtotal = item.Price * int64(item.Quantity)
		subtotal += item.Subtotal
	}
	tx.Subtotal = subtotal
	if tx.Discount < 0 || tx.Discount > subtotal || tx.Tax < 0 {
		return Outcome[domain.Transaction]{}, ErrInvalid
	}
	tx.Total = subtotal - tx.Discount + tx.Tax
	if tx.PaymentMethod == domain.PaymentCash && tx.AmountPaid < tx.Total {
		return Outcome[domain.Transaction]{}, ErrInvalid
	}
	if tx.AmountPaid == 0 {
		tx.AmountPaid = tx.Total
	}
	tx.Change = tx.AmountPaid - tx.Total

	now := time.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now.UTC()
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CashierID == "" {
		tx.CashierID = o.cashierID
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusCompleted
	}

	if tx.InvoiceNumber == "" {
		seq, err := o.store.NextInvoiceSequence(ctx, domain.InvoicePrefix(now))
		if err != nil {
			return Outcome[domain.Transaction]{}, err
		}
		tx.InvoiceNumber = domain.InvoiceNumber(now, seq)
	}

	// Attach to today's book while before cut-off; after it the sale is
	// flagged late and left unattached for the owner to fold in manually.
	if tx.CashBookID == nil && !tx.IsLate {
		if book, id, err := o.store.FindCashBookByDate(ctx, domain.DateString(now)); err == nil && !book.IsClosed {
			if domain.IsAfterCutOff(now, book.CutOffTime) {
				tx.IsLate = true
			} else {
				ref := id.Ref()
				tx.CashBookID = &ref
			}
		}
	}

	return Run(ctx, o.monitor, o.logger, Spec[domain.Transaction]{
		Online: func(ctx context.Context) (domain.Transaction, error) {
			return o.api.CreateTransaction(ctx, tx)
		},
		OnSuccess: func(ctx context.Context, created domain.Transaction) error {
			return o.mirror(ctx, domain.EntityTransaction, created.ID, created)
		},
		Offline: func(ctx context.Context) (domain.Transaction, error) {
			mutation, err := mutationFor(domain.EntityTransaction, tx.ID, domain.ActionCreate, tx)
			if err != nil {
				return domain.Transaction{}, err
			}
			if err := o.store.Apply(ctx, mutation, true); err != nil {
				return domain.Transaction{}, err
			}
			return tx, nil
		},
	})
}

func (o *Ops) CreateOpenBill(ctx context.Context, bill domain.OpenBill) (Outcome[domain.OpenBill], error) {
	if len(bill.Items) == 0 {
		return Outcome[domain.OpenBill]{}, ErrInvalid
	}
	var subtotal int64
	for i := range bill.Items {
		item := &bill.Items[i]
		if item.Quantity < 1 || item.Price < 0 {
			return Outcome[domain.OpenBill]{}, ErrInvalid
		}
		item.Subtotal = item.Price * int64(item.Quantity)
		subtotal += item.Subtotal
	}
	bill.Subtotal = subtotal
	bill.Total = subtotal
	if bill.ID == "" {
		bill.ID = uuid.NewString()
	}
	if bill.CashierID == "" {
		bill.CashierID = o.cashierID
	}
	bill.Status = domain.OpenBillStatusOpen
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	return Run(ctx, o.monitor, o.logger, Spec[domain.OpenBill]{
		Online: func(ctx context.Context) (domain.OpenBill, error) {
			return o.api.CreateOpenBill(ctx, bill)
		},
		OnSuccess: func(ctx context.Context, created domain.OpenBill) error {
			return o.mirror(ctx, domain.EntityOpenBill, created.ID, created)
		},
		Offline: func(ctx context.Context) (domain.OpenBill, error) {
			mutation, err := mutationFor(domain.EntityOpenBill, bill.ID, domain.ActionCreate, bill)
			if err != nil {
				return domain.OpenBill{}, err
			}
			if err := o.store.Apply(ctx, mutation, true); err != nil {
				return domain.OpenBill{}, err
			}
			return bill, nil
		},
	})
}

// PayOpenBill settles a held bill. Online the server converts it; offline the
// terminal records the sale locally and queues both the sale and the bill's
// status flip.
func (o *Ops) PayOpenBill(ctx context.Context, billID string, req domain.OpenBillPayRequest) (Outcome[domain.Transaction], error) {
	var bill domain.OpenBill
	billRef, err := o.store.Get(ctx, domain.EntityOpenBill, billID, &bill)
	if err != nil {
		return Outcome[domain.Transaction]{}, err
	}
	if bill.Status != domain.OpenBillStatusOpen {
		return Outcome[domain.Transaction]{}, ErrInvalid
	}

	return Run(ctx, o.monitor, o.logger, Spec[domain.Transaction]{
		Online: func(ctx context.Context) (domain.Transaction, error) {
			return o.api.PayOpenBill(ctx, billRef.Ref(), req)
		},
		OnSuccess: func(ctx context.Context, created domain.Transaction) error {
			bill.Status = domain.OpenBillStatusPaid
			if err := o.mirror(ctx, domain.EntityOpenBill, billRef.Local, bill); err != nil {
				return err
			}
			return o.mirror(ctx, domain.EntityTransaction, created.ID, created)
		},
		Offline: func(ctx context.Context) (domain.Transaction, error) {
			items := make([]domain.TransactionItem, 0, len(bill.Items))
			for _, item := range bill.Items {
				items = append(items, domain.TransactionItem{
					ProductID:   item.ProductID,
					ProductName: item.ProductName,
					Price:       item.Price,
					Quantity:    item.Quantity,
				})
			}
			outcome, err := o.CreateTransaction(ctx, domain.Transaction{
				PaymentMethod: req.PaymentMethod,
				AmountPaid:    req.AmountPaid,
				Discount:      req.Discount,
				Tax:           req.Tax,
				Notes:         bill.Notes,
				Items:         items,
			})
			if err != nil {
				return domain.Transaction{}, err
			}

			bill.Status = domain.OpenBillStatusPaid
			mutation, err := mutationFor(domain.EntityOpenBill, billRef.Ref(), domain.ActionUpdate, bill)
			if err != nil {
				return domain.Transaction{}, err
			}
			if err := o.store.Apply(ctx, mutation, true); err != nil {
				return domain.Transaction{}, err
			}
			return outcome.Value, nil
		},
	})
}

// OpenCashBook starts the day's ledger, locally enforced as one per date.
func (o *Ops) OpenCashBook(ctx context.Context, req domain.CashBookCreateRequest) (Outcome[domain.CashBook], error) {
	date := req.Date
	if date == "" {
		date = domain.DateString(time.Now().UTC())
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return Outcome[domain.CashBook]{}, ErrInvalid
	}
	if req.InitialCapital < 0 {
		return Outcome[domain.CashBook]{}, ErrInvalid
	}
	if _, _, err := o.store.FindCashBookByDate(ctx, date); err == nil {
		return Outcome[domain.CashBook]{}, localstore.ErrDuplicate
	}

	cutOff := req.CutOffTime
	if cutOff == "" {
		cutOff = o.cutOffTime
	}
	book := domain.CashBook{
		ID:             uuid.NewString(),
		Date:           date,
		OwnerID:        o.cashierID,
		InitialCapital: req.InitialCapital,
		FinalBalance:   req.InitialCapital,
		CutOffTime:     cutOff,
		Notes:          req.Notes,
	}

	return Run(ctx, o.monitor, o.logger, Spec[domain.CashBook]{
		Online: func(ctx context.Context) (domain.CashBook, error) {
			return o.api.OpenCashBook(ctx, domain.CashBookCreateRequest{
				Date:           date,
				InitialCapital: req.InitialCapital,
				CutOffTime:     cutOff,
				Notes:          req.Notes,
			})
		},
		OnSuccess: func(ctx context.Context, created domain.CashBook) error {
			return o.mirror(ctx, domain.EntityCashBook, created.ID, created)
		},
		Offline: func(ctx context.Context) (domain.CashBook, error) {
			mutation, err := mutationFor(domain.EntityCashBook, book.ID, domain.ActionCreate, book)
			if err != nil {
				return domain.CashBook{}, err
			}
			if err := o.store.Apply(ctx, mutation, true); err != nil {
				return domain.CashBook{}, err
			}
			return book, nil
		},
	})
}

// UpdateCashBookTotals patches the running totals on a book, recomputing the
// closing balance the same way the server does.
func (o *Ops) UpdateCashBookTotals(ctx context.Context, id string, req domain.CashBookPatchRequest) (Outcome[domain.CashBook], error) {
	var book domain.CashBook
	ref, err := o.store.Get(ctx, domain.EntityCashBook, id, &book)
	if err != nil {
		return Outcome[domain.CashBook]{}, err
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
	book.FinalBalance = book.InitialCapital + book.TotalCash - book.TotalExpenses

	return Run(ctx, o.monitor, o.logger, Spec[domain.CashBook]{
		Online: func(ctx context.Context) (domain.CashBook, error) {
			return o.api.PatchCashBook(ctx, ref.Ref(), req)
		},
		OnSuccess: func(ctx context.Context, updated domain.CashBook) error {
			return o.mirror(ctx, domain.EntityCashBook, ref.Local, updated)
		},
		Offline: func(ctx context.Context) (domain.CashBook, error) {
			mutation, err := mutationFor(domain.EntityCashBook, ref.Ref(), domain.ActionUpdate, book)
			if err != nil {
				return domain.CashBook{}, err
			}
			if err := o.store.Apply(ctx, mutation, true); err != nil {
				return domain.CashBook{}, err
			}
			return book, nil
		},
	})
}

// CloseCashBook seals the day's ledger. Closing an already closed book is a
// no-op, matching the server.
func (o *Ops) CloseCashBook(ctx context.Context, id string, notes string) (Outcome[domain.CashBook], error) {
	var book domain.CashBook
	ref, err := o.store.Get(ctx, domain.EntityCashBook, id, &book)
	if err != nil {
		return Outcome[domain.CashBook]{}, err
	}
	if !book.IsClosed {
		book.IsClosed = true
		now := time.Now().UTC()
		book.ClosedAt = &now
		if notes != "" {
			book.Notes = notes
		}
		book.FinalBalance = book.InitialCapital + book.TotalCash - book.TotalExpenses
	}

	return Run(ctx, o.monitor, o.logger, Spec[domain.CashBook]{
		Online: func(ctx context.Context) (domain.CashBook, error) {
			return o.api.CloseCashBook(ctx, ref.Ref(), notes)
		},
		OnSuccess: func(ctx context.Context, closed domain.CashBook) error {
			return o.mirror(ctx, domain.EntityCashBook, ref.Local, closed)
		},
		Offline: func(ctx context.Context) (domain.CashBook, error) {
			mutation, err := mutationFor(domain.EntityCashBook, ref.Ref(), domain.ActionUpdate, book)
			if err != nil {
				return domain.CashBook{}, err
			}
			if err := o.store.Apply(ctx, mutation, true); err != nil {
				return domain.CashBook{}, err
			}
			return book, nil
		},
	})
}

func (o *Ops) AddExpense(ctx context.Context, expense domain.Expense) (Outcome[domain.Expense], error) {
	if expense.Description == "" || expense.Amount <= 0 {
		return Outcome[domain.Expense]{}, ErrInvalid
	}
	if expense.ID == "" {
		expense.ID = uuid.NewString()
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	if expense.CashBookID == "" {
		if _, id, err := o.store.FindCashBookByDate(ctx, domain.DateString(expense.CreatedAt)); err == nil {
			expense.CashBookID = id.Ref()
		}
	}

	return Run(ctx, o.monitor, o.logger, Spec[domain.Expense]{
		Online: func(ctx context.Context) (domain.Expense, error) {
			return o.api.AddExpense(ctx, expense)
		},
		OnSuccess: func(ctx context.Context, created domain.Expense) error {
			return o.mirror(ctx, domain.EntityExpense, created.ID, created)
		},
		Offline: func(ctx context.Context) (domain.Expense, error) {
			mutation, err := mutationFor(domain.EntityExpense, expense.ID, domain.ActionCreate, expense)
			if err != nil {
				return domain.Expense{}, err
			}
			if err := o.store.Apply(ctx, mutation, true); err != nil {
				return domain.Expense{}, err
			}
			return expense, nil
		},
	})
}

// RefreshProducts pulls the server catalog into the local mirror so the menu
// keeps working offline. No-op when offline.
func (o *Ops) RefreshProducts(ctx context.Context) error {
	if !o.monitor.Online() {
		return nil
	}
	products, err := o.api.ListProducts(ctx)
	if err != nil {
		if api.IsNetwork(err) {
			o.monitor.SetOnline(false)
			return nil
		}
		return err
	}
	return o.store.ReplaceProducts(ctx, products)
}

// ListLocalProducts serves the menu from the local mirror.
func (o *Ops) ListLocalProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 64)
	err := o.store.List(ctx, domain.EntityProduct, func(payload []byte, _ domain.EntityID) error {
		var p domain.Product
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		products = append(products, p)
		return nil
	})
	return products, err
}

// CreateProduct adds a catalog item. Offline the product exists only on this
// terminal until the queue drains.
func (o *Ops) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (Outcome[domain.Product], error) {
	if req.Name == "" || req.Price < 0 || req.Cost < 0 {
		return Outcome[domain.Product]{}, ErrInvalid
	}
	product := domain.Product{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Cost:        req.Cost,
		Unit:        req.Unit,
		IsAvailable: true,
		ImageURL:    req.ImageURL,
		UpdatedAt:   time.Now().UTC(),
	}

	return Run(ctx, o.monitor, o.logger, Spec[domain.Product]{
		Online: func(ctx context.Context) (domain.Product, error) {
			return o.api.CreateProduct(ctx, req)
		},
		OnSuccess: func(ctx context.Context, created domain.Product) error {
			return o.mirror(ctx, domain.EntityProduct, created.ID, created)
		},
		Offline: func(ctx context.Context) (domain.Product, error) {
			mutation, err := mutationFor(domain.EntityProduct, product.ID, domain.ActionCreate, product)
			if err != nil {
				return domain.Product{}, err
			}
			if err := o.store.Apply(ctx, mutation, true); err != nil {
				return domain.Product{}, err
			}
			return product, nil
		},
	})
}

func (o *Ops) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (Outcome[domain.Product], error) {
	var product domain.Product
	ref, err := o.store.Get(ctx, domain.EntityProduct, id, &product)
	if err != nil {
		return Outcome[domain.Product]{}, err
	}
	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.Category != nil {
		product.Category = *req.Category
	}
	if req.Price != nil {
		product.Price = *req.Price
	}
	if req.Cost != nil {
		product.Cost = *req.Cost
	}
	if req.Unit != nil {
		product.Unit = *req.Unit
	}
	if req.IsAvailable != nil {
		product.IsAvailable = *req.IsAvailable
	}
	if req.ImageURL != nil {
		product.ImageURL = *req.ImageURL
	}
	if product.Name == "" || product.Price < 0 {
		return Outcome[domain.Product]{}, ErrInvalid
	}
	product.UpdatedAt = time.Now().UTC()

	return Run(ctx, o.monitor, o.logger, Spec[domain.Product]{
		Online: func(ctx context.Context) (domain.Product, error) {
			return o.api.UpdateProduct(ctx, ref.Ref(), req)
		},
		OnSuccess: func(ctx context.Context, updated domain.Product) error {
			return o.mirror(ctx, domain.EntityProduct, ref.Local, updated)
		},
		Offline: func(ctx context.Context) (domain.Product, error) {
			mutation, err := mutationFor(domain.EntityProduct, ref.Ref(), domain.ActionUpdate, product)
			if err != nil {
				return domain.Product{}, err
			}
			if err := o.store.Apply(ctx, mutation, true); err != nil {
				return domain.Product{}, err
			}
			return product, nil
		},
	})
}

// DeleteProduct removes a catalog item. A record the server never saw is
// deleted locally and its queued writes discarded; uploading them would only
// resurrect it.
func (o *Ops) DeleteProduct(ctx context.Context, id string) (Outcome[struct{}], error) {
	ref, err := o.store.Get(ctx, domain.EntityProduct, id, nil)
	if err != nil {
		return Outcome[struct{}]{}, err
	}

	deleteLocal := func(ctx context.Context, enqueue bool) error {
		return o.store.Apply(ctx, domain.SyncMutation{
			EntityType: domain.EntityProduct,
			EntityID:   ref.Ref(),
			Action:     domain.ActionDelete,
			Payload:    json.RawMessage(`{}`),
		}, enqueue)
	}

	if !ref.Synced() {
		if _, err := o.store.DiscardPending(ctx, domain.EntityProduct, ref.Local); err != nil {
			return Outcome[struct{}]{}, err
		}
		if err := deleteLocal(ctx, false); err != nil {
			return Outcome[struct{}]{}, err
		}
		return Outcome[struct{}]{Path: PathOffline}, nil
	}

	return Run(ctx, o.monitor, o.logger, Spec[struct{}]{
		Online: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.api.DeleteProduct(ctx, ref.Ref())
		},
		OnSuccess: func(ctx context.Context, _ struct{}) error {
			return deleteLocal(ctx, false)
		},
		Offline: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, deleteLocal(ctx, true)
		},
	})
}
