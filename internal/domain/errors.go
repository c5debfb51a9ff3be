package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every typed error below reports one of these through Is so
// callers can branch on the class without knowing the concrete type.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrUnavailable    = errors.New("storage unavailable")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidRequest }

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrConflict }

type InvalidDiscountError struct {
	Reason string
}

func (e *InvalidDiscountError) Error() string { return "invalid discount: " + e.Reason }

func (e *InvalidDiscountError) Is(target error) bool { return target == ErrInvalidRequest }

type MissingClientError struct {
	ClientID string
}

func (e *MissingClientError) Error() string {
	if e.ClientID == "" {
		return "client is required when the sale is not fully paid"
	}
	return fmt.Sprintf("client %s does not exist", e.ClientID)
}

func (e *MissingClientError) Is(target error) bool { return target == ErrInvalidRequest }

type InvalidScheduleError struct {
	Reason string
}

func (e *InvalidScheduleError) Error() string { return "invalid installment schedule: " + e.Reason }

func (e *InvalidScheduleError) Is(target error) bool { return target == ErrInvalidRequest }

type PriceChangedError struct {
	ProductID    string
	QuotedCents  int64
	CurrentCents int64
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("price of product %s changed from %d to %d cents", e.ProductID, e.QuotedCents, e.CurrentCents)
}

func (e *PriceChangedError) Is(target error) bool { return target == ErrConflict }

type AlreadyPaidError struct {
	InstallmentID string
}

func (e *AlreadyPaidError) Error() string {
	return fmt.Sprintf("installment %s is already paid", e.InstallmentID)
}

func (e *AlreadyPaidError) Is(target error) bool { return target == ErrConflict }

type PartiallyAlreadySettledError struct {
	Brand   string
	ItemIDs []string
}

func (e *PartiallyAlreadySettledError) Error() string {
	return fmt.Sprintf("consignment items already settled for %s: %s", e.Brand, strings.Join(e.ItemIDs, ", "))
}

func (e *PartiallyAlreadySettledError) Is(target error) bool { return target == ErrConflict }

// IdempotencyKeyReusedError means the key already belongs to a sale made
// from a different request.
type IdempotencyKeyReusedError struct {
	Key    string
	SaleID string
}

func (e *IdempotencyKeyReusedError) Error() string {
	return fmt.Sprintf("idempotency key %s was already used for sale %s with a different request", e.Key, e.SaleID)
}

func (e *IdempotencyKeyReusedError) Is(target error) bool { return target == ErrConflict }

type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return e.Reason }

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PersistenceError wraps a storage failure. The whole operation has been
// rolled back and may be retried as is.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrUnavailable }

func (e *PersistenceError) Retryable() bool { return true }
