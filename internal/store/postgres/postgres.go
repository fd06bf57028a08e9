package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/store"
	"temanngopi/pos/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, onlyAvailable bool) ([]domain.Product, error) {
	query := `
		SELECT id, name, description, category, price, cost, unit, is_available, image_url, updated_at
		FROM products
		ORDER BY category, name
	`
	if onlyAvailable {
		query = `
			SELECT id, name, description, category, price, cost, unit, is_available, image_url, updated_at
			FROM products
			WHERE is_available = true
			ORDER BY category, name
		`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, category, price, cost, unit, is_available, image_url, updated_at
		FROM products
		WHERE id = $1
	`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price < 0 {
		return nil, store.ErrInvalid
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, category, price, cost, unit, is_available, image_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),$10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			cost = EXCLUDED.cost,
			unit = EXCLUDED.unit,
			is_available = EXCLUDED.is_available,
			image_url = EXCLUDED.image_url,
			updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.Description, product.Category, product.Price,
		product.Cost, product.Unit, product.IsAvailable, product.ImageURL, product.UpdatedAt)
	if err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	// Delete-if-exists: zero rows affected is not an error so retried deletes
	// stay idempotent.
	_, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	return err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, cashier_id, cash_book_id, subtotal, tax, discount, total,
		       payment_method, amount_paid, change, status, is_late, notes, created_at
		FROM transactions
		WHERE id = $1
	`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadTransactionItems(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) FindTransactionByInvoice(ctx context.Context, invoiceNumber string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, cashier_id, cash_book_id, subtotal, tax, discount, total,
		       payment_method, amount_paid, change, status, is_late, notes, created_at
		FROM transactions
		WHERE invoice_number = $1
	`, invoiceNumber)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadTransactionItems(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ID == "" || tx.InvoiceNumber == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalid
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var cashierExists bool
	err = pgTx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, tx.CashierID).Scan(&cashierExists)
	if err != nil {
		return nil, err
	}
	if !cashierExists {
		return nil, store.ErrMissingReference
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, invoice_number, cashier_id, cash_book_id, subtotal, tax, discount,
			total, payment_method, amount_paid, change, status, is_late, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, tx.ID, tx.InvoiceNumber, tx.CashierID, tx.CashBookID, tx.Subtotal, tx.Tax, tx.Discount,
		tx.Total, tx.PaymentMethod, tx.AmountPaid, tx.Change, tx.Status, tx.IsLate, nullable(tx.Notes), tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrMissingReference
		}
		return nil, err
	}

	for i := range tx.Items {
		item := &tx.Items[i]
		if item.ID == "" {
			item.ID = xid.New("txi")
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (id, transaction_id, product_id, product_name, price, quantity, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, tx.ID, item.ProductID, item.ProductName, item.Price, item.Quantity, item.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	debit := domain.AccountKas
	if tx.PaymentMethod == domain.PaymentNonCash {
		debit = domain.AccountBank
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO journal_entries (id, transaction_id, date, debit_account, credit_account, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, xid.New("jrn"), tx.ID, domain.DateString(tx.CreatedAt), debit, domain.AccountPenjualan, tx.Total)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := tx
	return &created, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, is_late = $3, notes = $4, cash_book_id = $5
		WHERE id = $1
	`, tx.ID, tx.Status, tx.IsLate, nullable(tx.Notes), tx.CashBookID)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetTransaction(ctx, tx.ID)
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if filter.CashierID != "" {
		args = append(args, filter.CashierID)
		conditions = append(conditions, "cashier_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Date != "" {
		args = append(args, filter.Date)
		conditions = append(conditions, "date(created_at AT TIME ZONE 'UTC') = $"+strconv.Itoa(len(args))+"::date")
	}
	if filter.Late != nil {
		args = append(args, *filter.Late)
		conditions = append(conditions, "is_late = $"+strconv.Itoa(len(args)))
	}

	query := `
		SELECT id, invoice_number, cashier_id, cash_book_id, subtotal, tax, discount, total,
		       payment_method, amount_paid, change, status, is_late, notes, created_at
		FROM transactions
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range transactions {
		if err := s.loadTransactionItems(ctx, &transactions[i]); err != nil {
			return nil, err
		}
	}
	return transactions, nil
}

func (s *Store) AttachTransactionsToCashBook(ctx context.Context, cashBookID string, transactionIDs []string) (int, error) {
	if len(transactionIDs) == 0 {
		return 0, nil
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cash_books WHERE id = $1)`, cashBookID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrNotFound
	}

	attached := 0
	for _, id := range transactionIDs {
		var total int64
		var method string
		err := pgTx.QueryRowContext(ctx, `
			UPDATE transactions
			SET cash_book_id = $2
			WHERE id = $1 AND cash_book_id IS NULL
			RETURNING total, payment_method
		`, id, cashBookID).Scan(&total, &method)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, err
		}

		column := "total_cash"
		if method == domain.PaymentNonCash {
			column = "total_non_cash"
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE cash_books
			SET `+column+` = `+column+` + $2,
			    final_balance = initial_capital + total_cash + $3 - total_expenses
			WHERE id = $1
		`, cashBookID, total, cashAdjustment(method, total))
		if err != nil {
			return 0, err
		}
		attached++
	}

	if err := pgTx.Commit(); err != nil {
		return 0, err
	}
	return attached, nil
}

// cashAdjustment returns the amount the drawer balance moves by: only cash
// payments settle into the drawer.
func cashAdjustment(method string, total int64) int64 {
	if method == domain.PaymentNonCash {
		return 0
	}
	return total
}

func (s *Store) GetOpenBill(ctx context.Context, id string) (*domain.OpenBill, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, table_number, customer_name, cashier_id, subtotal, total, notes, status, created_at
		FROM open_bills
		WHERE id = $1
	`, id)
	bill, err := scanOpenBill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadOpenBillItems(ctx, bill); err != nil {
		return nil, err
	}
	return bill, nil
}

func (s *Store) UpsertOpenBill(ctx context.Context, bill domain.OpenBill) (*domain.OpenBill, error) {
	if bill.ID == "" {
		return nil, store.ErrInvalid
	}
	if bill.Status == "" {
		bill.Status = domain.OpenBillStatusOpen
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO open_bills (id, table_number, customer_name, cashier_id, subtotal, total, notes, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			table_number = EXCLUDED.table_number,
			customer_name = EXCLUDED.customer_name,
			notes = EXCLUDED.notes,
			status = EXCLUDED.status
	`, bill.ID, nullable(bill.TableNumber), nullable(bill.CustomerName), bill.CashierID,
		bill.Subtotal, bill.Total, nullable(bill.Notes), bill.Status, bill.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrMissingReference
		}
		return nil, err
	}

	// Replace items wholesale; open bill payloads are self-contained snapshots.
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM open_bill_items WHERE open_bill_id = $1`, bill.ID); err != nil {
		return nil, err
	}
	for i := range bill.Items {
		item := &bill.Items[i]
		if item.ID == "" {
			item.ID = xid.New("obi")
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO open_bill_items (id, open_bill_id, product_id, product_name, price, quantity, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, bill.ID, item.ProductID, item.ProductName, item.Price, item.Quantity, item.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := bill
	return &created, nil
}

func (s *Store) UpdateOpenBillStatus(ctx context.Context, id string, status string) (*domain.OpenBill, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE open_bills SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetOpenBill(ctx, id)
}

func (s *Store) ListOpenBills(ctx context.Context, status string, limit int) ([]domain.OpenBill, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, table_number, customer_name, cashier_id, subtotal, total, notes, status, created_at
		FROM open_bills
	`
	args := []any{limit}
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.OpenBill, 0, limit)
	for rows.Next() {
		bill, err := scanOpenBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bills {
		if err := s.loadOpenBillItems(ctx, &bills[i]); err != nil {
			return nil, err
		}
	}
	return bills, nil
}

func (s *Store) GetCashBook(ctx context.Context, id string) (*domain.CashBook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, date, owner_id, initial_capital, total_cash, total_non_cash, total_expenses,
		       final_balance, cut_off_time, is_closed, closed_at, notes
		FROM cash_books
		WHERE id = $1
	`, id)
	return scanCashBookRow(row)
}

func (s *Store) FindCashBookByDate(ctx context.Context, date string) (*domain.CashBook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, date, owner_id, initial_capital, total_cash, total_non_cash, total_expenses,
		       final_balance, cut_off_time, is_closed, closed_at, notes
		FROM cash_books
		WHERE date = $1::date
	`, date)
	return scanCashBookRow(row)
}

func (s *Store) UpsertCashBook(ctx context.Context, book domain.CashBook) (*domain.CashBook, error) {
	if book.ID == "" || book.Date == "" {
		return nil, store.ErrInvalid
	}
	if book.CutOffTime == "" {
		book.CutOffTime = domain.DefaultCutOffTime
	}
	book.FinalBalance = book.InitialCapital + book.TotalCash - book.TotalExpenses

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_books (id, date, owner_id, initial_capital, total_cash, total_non_cash,
			total_expenses, final_balance, cut_off_time, is_closed, closed_at, notes, created_at)
		VALUES ($1,$2::date,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		ON CONFLICT (id) DO UPDATE SET
			total_cash = EXCLUDED.total_cash,
			total_non_cash = EXCLUDED.total_non_cash,
			total_expenses = EXCLUDED.total_expenses,
			final_balance = EXCLUDED.final_balance,
			is_closed = EXCLUDED.is_closed,
			closed_at = EXCLUDED.closed_at,
			notes = EXCLUDED.notes
	`, book.ID, book.Date, book.OwnerID, book.InitialCapital, book.TotalCash, book.TotalNonCash,
		book.TotalExpenses, book.FinalBalance, book.CutOffTime, book.IsClosed, book.ClosedAt, nullable(book.Notes))
	if err != nil {
		// The unique index on date means a second book for the same day
		// collapses into the conflict path.
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := book
	return &created, nil
}

func (s *Store) UpdateCashBookTotals(ctx context.Context, book domain.CashBook) (*domain.CashBook, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cash_books
		SET total_cash = $2,
		    total_non_cash = $3,
		    total_expenses = $4,
		    final_balance = initial_capital + $2 - $4,
		    is_closed = $5,
		    closed_at = $6,
		    notes = COALESCE(NULLIF($7, ''), notes)
		WHERE id = $1
	`, book.ID, book.TotalCash, book.TotalNonCash, book.TotalExpenses, book.IsClosed, book.ClosedAt, book.Notes)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCashBook(ctx, book.ID)
}

func (s *Store) ListCashBooks(ctx context.Context, limit int) ([]domain.CashBook, error) {
	if limit <= 0 {
		limit = 31
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, owner_id, initial_capital, total_cash, total_non_cash, total_expenses,
		       final_balance, cut_off_time, is_closed, closed_at, notes
		FROM cash_books
		ORDER BY date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := make([]domain.CashBook, 0, limit)
	for rows.Next() {
		book, err := scanCashBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *book)
	}
	return books, rows.Err()
}

func (s *Store) UpsertExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ID == "" || expense.Description == "" || expense.Amount < 0 {
		return nil, store.ErrInvalid
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	if expense.Category == "" {
		expense.Category = "Operasional"
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var existed bool
	if err := pgTx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM expenses WHERE id = $1)`, expense.ID).Scan(&existed); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO expenses (id, cash_book_id, description, amount, category, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			amount = EXCLUDED.amount,
			category = EXCLUDED.category,
			notes = EXCLUDED.notes
	`, expense.ID, nullable(expense.CashBookID), expense.Description, expense.Amount, expense.Category,
		nullable(expense.Notes), expense.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrMissingReference
		}
		return nil, err
	}

	// One journal row per expense id, ever. Retried CREATEs hit the upsert
	// above and skip this branch.
	if !existed {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO journal_entries (id, expense_id, date, debit_account, credit_account, amount, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,now())
		`, xid.New("jrn"), expense.ID, domain.DateString(expense.CreatedAt),
			domain.AccountBeban, domain.AccountKas, expense.Amount)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := expense
	return &created, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	return err
}

func (s *Store) ListExpenses(ctx context.Context, cashBookID string) ([]domain.Expense, error) {
	query := `
		SELECT id, cash_book_id, description, amount, category, notes, created_at
		FROM expenses
	`
	args := []any{}
	if cashBookID != "" {
		query += ` WHERE cash_book_id = $1`
		args = append(args, cashBookID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 16)
	for rows.Next() {
		var e domain.Expense
		var notes sql.NullString
		if err := rows.Scan(&e.ID, &e.CashBookID, &e.Description, &e.Amount, &e.Category, &notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Notes = notes.String
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (s *Store) ListJournalByReference(ctx context.Context, refID string) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, expense_id, date, debit_account, credit_account, amount, created_at
		FROM journal_entries
		WHERE transaction_id = $1 OR expense_id = $1
		ORDER BY created_at
	`, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.JournalEntry, 0, 2)
	for rows.Next() {
		var entry domain.JournalEntry
		var txID, expID sql.NullString
		if err := rows.Scan(&entry.ID, &txID, &expID, &entry.Date, &entry.DebitAccount,
			&entry.CreditAccount, &entry.Amount, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.TransactionID = txID.String
		entry.ExpenseID = expID.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password, role, active, created_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password, role, active, created_at
		FROM users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.ID == "" || user.Email == "" {
		return store.ErrInvalid
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, strings.ToLower(strings.TrimSpace(user.Email)), user.Name, user.Password,
		user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, password, role, active, created_at
		FROM users
		ORDER BY email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password = $2 WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)), password)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var description, imageURL sql.NullString
	err := row.Scan(&p.ID, &p.Name, &description, &p.Category, &p.Price, &p.Cost,
		&p.Unit, &p.IsAvailable, &imageURL, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.Description = description.String
	p.ImageURL = imageURL.String
	return p, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var cashBookID, notes sql.NullString
	err := row.Scan(&tx.ID, &tx.InvoiceNumber, &tx.CashierID, &cashBookID, &tx.Subtotal,
		&tx.Tax, &tx.Discount, &tx.Total, &tx.PaymentMethod, &tx.AmountPaid, &tx.Change,
		&tx.Status, &tx.IsLate, &notes, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if cashBookID.Valid {
		tx.CashBookID = &cashBookID.String
	}
	tx.Notes = notes.String
	return &tx, nil
}

func scanOpenBill(row rowScanner) (*domain.OpenBill, error) {
	var bill domain.OpenBill
	var tableNumber, customerName, notes sql.NullString
	err := row.Scan(&bill.ID, &tableNumber, &customerName, &bill.CashierID, &bill.Subtotal,
		&bill.Total, &notes, &bill.Status, &bill.CreatedAt)
	if err != nil {
		return nil, err
	}
	bill.TableNumber = tableNumber.String
	bill.CustomerName = customerName.String
	bill.Notes = notes.String
	return &bill, nil
}

func scanCashBook(row rowScanner) (*domain.CashBook, error) {
	var book domain.CashBook
	var date time.Time
	var closedAt sql.NullTime
	var notes sql.NullString
	err := row.Scan(&book.ID, &date, &book.OwnerID, &book.InitialCapital, &book.TotalCash,
		&book.TotalNonCash, &book.TotalExpenses, &book.FinalBalance, &book.CutOffTime,
		&book.IsClosed, &closedAt, &notes)
	if err != nil {
		return nil, err
	}
	book.Date = domain.DateString(date)
	if closedAt.Valid {
		t := closedAt.Time
		book.ClosedAt = &t
	}
	book.Notes = notes.String
	return &book, nil
}

func scanCashBookRow(row *sql.Row) (*domain.CashBook, error) {
	book, err := scanCashBook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return book, nil
}

func scanUser(row *sql.Row) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) loadTransactionItems(ctx context.Context, tx *domain.Transaction) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, price, quantity, subtotal
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id
	`, tx.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.TransactionItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Price,
			&item.Quantity, &item.Subtotal); err != nil {
			return err
		}
		tx.Items = append(tx.Items, item)
	}
	return rows.Err()
}

func (s *Store) loadOpenBillItems(ctx context.Context, bill *domain.OpenBill) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, price, quantity, subtotal
		FROM open_bill_items
		WHERE open_bill_id = $1
		ORDER BY id
	`, bill.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OpenBillItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Price,
			&item.Quantity, &item.Subtotal); err != nil {
			return err
		}
		bill.Items = append(bill.Items, item)
	}
	return rows.Err()
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
