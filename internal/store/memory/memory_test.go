package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.ConditionalDecrement(ctx, "prod-blusa-seda", 5)
		if err != nil || !ok {
			t.Fatalf("decrement failed: ok=%v err=%v", ok, err)
		}
		if err := tx.AppendLedgerEntry(ctx, domain.LedgerEntry{ID: "led-1", Direction: domain.LedgerIncome, AmountCents: 100}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	product, err := s.GetProduct(ctx, "prod-blusa-seda")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Quantity != 20 {
		t.Fatalf("expected quantity 20 after rollback, got %d", product.Quantity)
	}
	entries, _ := s.ListLedgerEntries(ctx, domain.LedgerFilter{}, 0)
	if len(entries) != 0 {
		t.Fatalf("expected empty ledger after rollback, got %d entries", len(entries))
	}
}

func TestConditionalDecrementNeverGoesNegative(t *testing.T) {
	s := New()
	s.PutProduct(domain.Product{ID: "p1", Quantity: 3})
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if ok, _ := tx.ConditionalDecrement(ctx, "p1", 4); ok {
			t.Fatalf("decrement of 4 from 3 should fail")
		}
		if ok, _ := tx.ConditionalDecrement(ctx, "p1", 3); !ok {
			t.Fatalf("decrement of 3 from 3 should succeed")
		}
		if ok, _ := tx.ConditionalDecrement(ctx, "p1", 1); ok {
			t.Fatalf("decrement from 0 should fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	product, _ := s.GetProduct(ctx, "p1")
	if product.Quantity != 0 {
		t.Fatalf("expected 0, got %d", product.Quantity)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.ConditionalDecrement(ctx, "missing", 1)
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertSaleRejectsDuplicateIdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	insert := func(id string) error {
		return s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertSale(ctx, domain.Sale{ID: id, IdempotencyKey: "key-1", CreatedAt: now}, nil)
		})
	}
	if err := insert("sale-1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert("sale-2"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	id, err := s.FindSaleIDByIdempotencyKey(ctx, "key-1")
	if err != nil || id != "sale-1" {
		t.Fatalf("expected sale-1, got %q (%v)", id, err)
	}
}

func TestMarkInstallmentPaidOnlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertSale(ctx, domain.Sale{ID: "sale-1", ClientID: "c1"}, nil); err != nil {
			return err
		}
		return tx.InsertInstallments(ctx, []domain.Installment{
			{ID: "inst-1", SaleID: "sale-1", Sequence: 1, AmountCents: 500, DueDate: due, Status: domain.InstallmentStatusPending},
			{ID: "inst-2", SaleID: "sale-1", Sequence: 2, AmountCents: 500, DueDate: due.AddDate(0, 1, 0), Status: domain.InstallmentStatusPending},
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var first, second bool
	var unpaid int
	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		first, _ = tx.MarkInstallmentPaid(ctx, "inst-1", due)
		second, _ = tx.MarkInstallmentPaid(ctx, "inst-1", due)
		unpaid, _ = tx.CountUnpaidInstallments(ctx, "sale-1")
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if !first || second {
		t.Fatalf("expected first=true second=false, got %v %v", first, second)
	}
	if unpaid != 1 {
		t.Fatalf("expected 1 unpaid, got %d", unpaid)
	}

	outstanding, _ := s.ListOutstandingInstallments(ctx, "")
	if len(outstanding) != 1 || outstanding[0].ID != "inst-2" || outstanding[0].ClientID != "c1" {
		t.Fatalf("unexpected outstanding list: %+v", outstanding)
	}
}

func TestInsertInstallmentsRejectsDuplicateSequence(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertSale(ctx, domain.Sale{ID: "sale-1"}, nil); err != nil {
			return err
		}
		return tx.InsertInstallments(ctx, []domain.Installment{
			{ID: "a", SaleID: "sale-1", Sequence: 1},
			{ID: "b", SaleID: "sale-1", Sequence: 1},
		})
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.GetSaleReceipt(ctx, "sale-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("sale should not exist after rollback, got %v", err)
	}
}
