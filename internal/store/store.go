package store

import (
	"context"
	"errors"
	"time"

	"caixa/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type ProductReader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type ProductRepository interface {
	ProductReader
	// ConditionalDecrement subtracts qty only if the product still holds at
	// least qty units. It reports false, with no write, otherwise.
	ConditionalDecrement(ctx context.Context, id string, qty int) (bool, error)
}

type ClientRepository interface {
	ClientExists(ctx context.Context, id string) (bool, error)
}

type SaleRepository interface {
	InsertSale(ctx context.Context, sale domain.Sale, items []domain.SaleItem) error
	UpdateSaleStatus(ctx context.Context, saleID string, status string) error
}

type InstallmentRepository interface {
	InsertInstallments(ctx context.Context, installments []domain.Installment) error
	GetInstallment(ctx context.Context, id string) (*domain.Installment, error)
	// MarkInstallmentPaid reports false when the installment was already paid.
	MarkInstallmentPaid(ctx context.Context, id string, paidAt time.Time) (bool, error)
	CountUnpaidInstallments(ctx context.Context, saleID string) (int, error)
}

type ConsignmentRepository interface {
	GetSaleItems(ctx context.Context, ids []string) ([]domain.SaleItem, error)
	// MarkConsignmentSettled flags only items that are still unsettled and
	// returns how many rows changed.
	MarkConsignmentSettled(ctx context.Context, ids []string, settlementID string, settledAt time.Time) (int, error)
}

// LedgerRepository is append-only.
type LedgerRepository interface {
	AppendLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error
}

// Tx is the set of writes available inside one atomic unit of work.
type Tx interface {
	ProductRepository
	ClientRepository
	SaleRepository
	InstallmentRepository
	ConsignmentRepository
	LedgerRepository
}

type Repository interface {
	ProductReader
	ClientRepository

	// WithinTx runs fn in a single transaction. Returning an error from fn
	// rolls back every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindSaleIDByIdempotencyKey(ctx context.Context, key string) (string, error)
	GetSaleReceipt(ctx context.Context, saleID string) (*domain.SaleReceipt, error)
	ListSalesByClient(ctx context.Context, clientID string, limit int) ([]domain.Sale, error)
	ListOutstandingInstallments(ctx context.Context, clientID string) ([]domain.OutstandingInstallment, error)
	ListUnsettledConsignments(ctx context.Context) ([]domain.SaleItem, error)
	ListLedgerEntries(ctx context.Context, filter domain.LedgerFilter, limit int) ([]domain.LedgerEntry, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
