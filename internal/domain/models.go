package domain

import "time"

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	Price       int64     `json:"price"`
	Cost        int64     `json:"cost"`
	Unit        string    `json:"unit"`
	IsAvailable bool      `json:"isAvailable"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type TransactionItem struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
}

type Transaction struct {
	ID            string            `json:"id"`
	InvoiceNumber string            `json:"invoiceNumber"`
	CashierID     string            `json:"cashierId"`
	CashBookID    *string           `json:"cashBookId,omitempty"`
	Subtotal      int64             `json:"subtotal"`
	Tax           int64             `json:"tax"`
	Discount      int64             `json:"discount"`
	Total         int64             `json:"total"`
	PaymentMethod string            `json:"paymentMethod"`
	AmountPaid    int64             `json:"amountPaid"`
	Change        int64             `json:"change"`
	Status        string            `json:"status"`
	IsLate        bool              `json:"isLate"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	Items         []TransactionItem `json:"items"`
}

type OpenBillItem struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
}

// OpenBill is a held, unpaid order (dine-in tab). On payment it transitions
// to a Transaction and is marked PAID rather than deleted, for audit.
type OpenBill struct {
	ID           string         `json:"id"`
	TableNumber  string         `json:"tableNumber,omitempty"`
	CustomerName string         `json:"customerName,omitempty"`
	CashierID    string         `json:"cashierId"`
	Subtotal     int64          `json:"subtotal"`
	Total        int64          `json:"total"`
	Notes        string         `json:"notes,omitempty"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	Items        []OpenBillItem `json:"items"`
}

// CashBook is the per-day ledger: opening capital, running cash/non-cash
// totals, expenses and closing balance. At most one book exists per date.
type CashBook struct {
	ID             string     `json:"id"`
	Date           string     `json:"date"` // calendar date, formatted 2006-01-02
	OwnerID        string     `json:"ownerId"`
	InitialCapital int64      `json:"initialCapital"`
	TotalCash      int64      `json:"totalCash"`
	TotalNonCash   int64      `json:"totalNonCash"`
	TotalExpenses  int64      `json:"totalExpenses"`
	FinalBalance   int64      `json:"finalBalance"`
	CutOffTime     string     `json:"cutOffTime"` // "HH:MM", sales after this belong to the next day's book
	IsClosed       bool       `json:"isClosed"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

type Expense struct {
	ID          string    `json:"id"`
	CashBookID  string    `json:"cashBookId"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Category    string    `json:"category"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// JournalEntry is the derived double-entry accounting row produced exactly
// once per transaction or expense.
type JournalEntry struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId,omitempty"`
	ExpenseID     string    `json:"expenseId,omitempty"`
	Date          string    `json:"date"`
	DebitAccount  string    `json:"debitAccount"`
	CreditAccount string    `json:"creditAccount"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// UserAccount is the persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Email     string
	Name      string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type Actor struct {
	ID    string
	Email string
	Role  string
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type CashierUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       int64  `json:"price"`
	Cost        int64  `json:"cost"`
	Unit        string `json:"unit"`
	ImageURL    string `json:"imageUrl"`
}

type ProductUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
	Price       *int64  `json:"price,omitempty"`
	Cost        *int64  `json:"cost,omitempty"`
	Unit        *string `json:"unit,omitempty"`
	IsAvailable *bool   `json:"isAvailable,omitempty"`
	ImageURL    *string `json:"imageUrl,omitempty"`
}

type CashBookCreateRequest struct {
	Date           string `json:"date"`
	InitialCapital int64  `json:"initialCapital"`
	CutOffTime     string `json:"cutOffTime"`
	Notes          string `json:"notes"`
}

type CashBookPatchRequest struct {
	TotalCash     *int64  `json:"totalCash,omitempty"`
	TotalNonCash  *int64  `json:"totalNonCash,omitempty"`
	TotalExpenses *int64  `json:"totalExpenses,omitempty"`
	IsClosed      *bool   `json:"isClosed,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type OpenBillPayRequest struct {
	PaymentMethod string `json:"paymentMethod"`
	AmountPaid    int64  `json:"amountPaid"`
	Discount      int64  `json:"discount"`
	Tax           int64  `json:"tax"`
}

type AttachLateRequest struct {
	TransactionIDs []string `json:"transactionIds"`
}

type TransactionFilter struct {
	CashierID string
	Date      string // 2006-01-02, matches CreatedAt's UTC day
	Late      *bool
	Limit     int
}

// DailyReport summarizes one calendar day for the owner dashboard.
type DailyReport struct {
	Date          string    `json:"date"`
	CashBook      CashBook  `json:"cashBook"`
	Transactions  int       `json:"transactions"`
	GrossSales    int64     `json:"grossSales"`
	CashSales     int64     `json:"cashSales"`
	NonCashSales  int64     `json:"nonCashSales"`
	LateSales     int64     `json:"lateSales"`
	TotalExpenses int64     `json:"totalExpenses"`
	Expenses      []Expense `json:"expenses"`
}

// MenuSection groups available products by category for the public menu page.
type MenuSection struct {
	Category string    `json:"category"`
	Products []Product `json:"products"`
}

const (
	PaymentCash    = "CASH"
	PaymentNonCash = "NON_CASH"
)

const (
	TxStatusCompleted = "COMPLETED"
	TxStatusCancelled = "CANCELLED"
)

const (
	OpenBillStatusOpen = "OPEN"
	OpenBillStatusPaid = "PAID"
)

const (
	RoleOwner = "owner"
	RoleKasir = "kasir"
)

const (
	AccountKas       = "kas"
	AccountBank      = "bank"
	AccountPenjualan = "penjualan"
	AccountBeban     = "beban"
)

const DefaultCutOffTime = "22:00"
