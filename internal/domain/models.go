package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SaleStatusPaid    = "paid"
	SaleStatusPartial = "partial"
	SaleStatusPending = "pending"

	InstallmentStatusPending = "pending"
	InstallmentStatusPartial = "partial"
	InstallmentStatusPaid    = "paid"

	LedgerIncome  = "income"
	LedgerExpense = "expense"

	LedgerCategorySales       = "sales"
	LedgerCategoryConsignment = "consignment"

	DiscountFlat    = "flat"
	DiscountPercent = "percent"

	PaymentCash        = "cash"
	PaymentPix         = "pix"
	PaymentDebitCard   = "debit_card"
	PaymentCreditCard  = "credit_card"
	PaymentStoreCredit = "store_credit"

	// UnbrandedConsignment groups consigned items sold without a brand snapshot.
	UnbrandedConsignment = "unbranded"

	DefaultInstallmentIntervalDays = 30
)

type Product struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	Quantity   int    `json:"quantity" db:"quantity"`
	CostCents  int64  `json:"cost_cents" db:"cost_cents"`
	PriceCents int64  `json:"price_cents" db:"price_cents"`
	MinStock   int    `json:"min_stock" db:"min_stock"`
	Brand      string `json:"brand,omitempty" db:"brand"`
	Consigned  bool   `json:"consigned" db:"consigned"`
}

// CartLine is client-held state. MaxQuantity is the stock ceiling seen when
// the line was first added; the server re-checks stock on commit.
type CartLine struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	MaxQuantity    int    `json:"max_quantity,omitempty"`
}

func (l CartLine) SubtotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

// DiscountSpec value is in cents for flat discounts and in percentage points
// for percent discounts.
type DiscountSpec struct {
	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
}

type StockLine struct {
	ProductID string
	Quantity  int
}

type InstallmentSpec struct {
	Count        int      `json:"count"`
	IntervalDays int      `json:"interval_days,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	DueDates     []string `json:"due_dates,omitempty"`
}

type CheckoutRequest struct {
	IdempotencyKey  string           `json:"idempotency_key,omitempty"`
	Lines           []CartLine       `json:"lines"`
	Discount        DiscountSpec     `json:"discount"`
	PaymentMethod   string           `json:"payment_method"`
	ClientID        string           `json:"client_id,omitempty"`
	AmountPaidCents int64            `json:"amount_paid_cents"`
	Installments    *InstallmentSpec `json:"installments,omitempty"`
}

type Sale struct {
	ID              string    `json:"id" db:"id"`
	IdempotencyKey  string    `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	SubtotalCents   int64     `json:"subtotal_cents" db:"subtotal_cents"`
	DiscountCents   int64     `json:"discount_cents" db:"discount_cents"`
	TotalCents      int64     `json:"total_cents" db:"total_cents"`
	AmountPaidCents int64     `json:"amount_paid_cents" db:"amount_paid_cents"`
	PaymentMethod   string    `json:"payment_method" db:"payment_method"`
	ClientID        string    `json:"client_id,omitempty" db:"client_id"`
	Status          string    `json:"status" db:"status"`
	// RequestHash fingerprints the checkout request that created the sale so
	// a reused idempotency key with different contents can be told apart.
	RequestHash string `json:"-" db:"request_hash"`
}

type SaleItem struct {
	ID                 string     `json:"id" db:"id"`
	SaleID             string     `json:"sale_id" db:"sale_id"`
	ProductID          string     `json:"product_id" db:"product_id"`
	Name               string     `json:"name" db:"name"`
	UnitPriceCents     int64      `json:"unit_price_cents" db:"unit_price_cents"`
	UnitCostCents      int64      `json:"unit_cost_cents" db:"unit_cost_cents"`
	Quantity           int        `json:"quantity" db:"quantity"`
	Brand              string     `json:"brand,omitempty" db:"brand"`
	Consigned          bool       `json:"consigned" db:"consigned"`
	ConsignmentSettled bool       `json:"consignment_settled" db:"consignment_settled"`
	SettlementID       string     `json:"settlement_id,omitempty" db:"settlement_id"`
	SettledAt          *time.Time `json:"settled_at,omitempty" db:"settled_at"`
	SoldAt             time.Time  `json:"sold_at" db:"sold_at"`
}

func (i SaleItem) CostOwedCents() int64 {
	return i.UnitCostCents * int64(i.Quantity)
}

type Installment struct {
	ID          string     `json:"id" db:"id"`
	SaleID      string     `json:"sale_id" db:"sale_id"`
	Sequence    int        `json:"sequence" db:"sequence"`
	AmountCents int64      `json:"amount_cents" db:"amount_cents"`
	DueDate     time.Time  `json:"due_date" db:"due_date"`
	Status      string     `json:"status" db:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty" db:"paid_at"`
}

type LedgerEntry struct {
	ID          string    `json:"id" db:"id"`
	Direction   string    `json:"direction" db:"direction"`
	Category    string    `json:"category" db:"category"`
	Description string    `json:"description" db:"description"`
	AmountCents int64     `json:"amount_cents" db:"amount_cents"`
	Reference   string    `json:"reference,omitempty" db:"reference"`
	OccurredAt  time.Time `json:"occurred_at" db:"occurred_at"`
}

type SaleReceipt struct {
	Sale         Sale          `json:"sale"`
	Items        []SaleItem    `json:"items"`
	Installments []Installment `json:"installments"`
	ChangeCents  int64         `json:"change_cents"`
	TotalDisplay string        `json:"total_display"`
	Replayed     bool          `json:"replayed,omitempty"`
}

type QuoteResponse struct {
	Totals
	AmountPaidCents int64         `json:"amount_paid_cents"`
	RemainingCents  int64         `json:"remaining_cents"`
	ChangeCents     int64         `json:"change_cents"`
	Status          string        `json:"status"`
	Installments    []Installment `json:"installments"`
}

type OutstandingInstallment struct {
	Installment
	ClientID    string `json:"client_id,omitempty" db:"client_id"`
	Overdue     bool   `json:"overdue"`
	DaysOverdue int    `json:"days_overdue"`
}

type CollectionResult struct {
	Installment Installment `json:"installment"`
	SaleStatus  string      `json:"sale_status"`
	LedgerEntry LedgerEntry `json:"ledger_entry"`
}

type ConsignmentGroup struct {
	Brand          string     `json:"brand"`
	Items          []SaleItem `json:"items"`
	TotalCostCents int64      `json:"total_cost_cents"`
}

type SettleConsignmentRequest struct {
	Brand      string   `json:"brand"`
	ItemIDs    []string `json:"item_ids"`
	ManagerPIN string   `json:"manager_pin"`
}

type ConsignmentSettlement struct {
	ID             string      `json:"id"`
	Brand          string      `json:"brand"`
	ItemIDs        []string    `json:"item_ids"`
	TotalCostCents int64       `json:"total_cost_cents"`
	SettledAt      time.Time   `json:"settled_at"`
	LedgerEntry    LedgerEntry `json:"ledger_entry"`
}

// ExpenseRequest accepts either AmountCents or a display Amount such as
// "R$ 1.200,50". AmountCents wins when both are set.
type ExpenseRequest struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Amount      string `json:"amount,omitempty"`
	ManagerPIN  string `json:"manager_pin"`
}

// LedgerQuery dates use YYYY-MM-DD; To covers the whole day.
type LedgerQuery struct {
	From      string
	To        string
	Direction string
	Category  string
	Limit     int
}

// LedgerFilter bounds are [From, To).
type LedgerFilter struct {
	From      *time.Time
	To        *time.Time
	Direction string
	Category  string
}

type LedgerSummary struct {
	From               *time.Time       `json:"from,omitempty"`
	To                 *time.Time       `json:"to,omitempty"`
	IncomeCents        int64            `json:"income_cents"`
	ExpenseCents       int64            `json:"expense_cents"`
	BalanceCents       int64            `json:"balance_cents"`
	ExpensesByCategory map[string]int64 `json:"expenses_by_category"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID         string    `json:"id" db:"id"`
	Actor      string    `json:"actor" db:"actor"`
	Action     string    `json:"action" db:"action"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Detail     string    `json:"detail" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
