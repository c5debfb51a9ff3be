package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CAIXA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CAIXA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestConditionalDecrementRollsBackWithTransaction(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-it-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, quantity, cost_cents, price_cents)
		VALUES ($1, 'Produto IT', 3, 100, 250)
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	errBoom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.ConditionalDecrement(ctx, productID, 2)
		if err != nil || !ok {
			t.Fatalf("decrement: ok=%v err=%v", ok, err)
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Quantity != 3 {
		t.Fatalf("expected quantity 3 after rollback, got %d", product.Quantity)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.ConditionalDecrement(ctx, productID, 4)
		if err != nil {
			return err
		}
		if ok {
			t.Fatalf("decrement beyond stock must not apply")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("guarded decrement: %v", err)
	}
}

func TestCheckoutRowsAndInstallmentCollection(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-it-%d", stamp)
	clientID := fmt.Sprintf("cli-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	instID := fmt.Sprintf("inst-it-%d", stamp)
	itemID := fmt.Sprintf("item-it-%d", stamp)
	ledgerID := fmt.Sprintf("led-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = $1`, ledgerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM installments WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, clientID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, quantity, cost_cents, price_cents, brand, consigned)
		VALUES ($1, 'Brinco IT', 5, 300, 900, 'Atelie IT', true)
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO clients (id, name) VALUES ($1, 'Cliente IT')`, clientID); err != nil {
		t.Fatalf("insert client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertSale(ctx, domain.Sale{
			ID: saleID, CreatedAt: now, SubtotalCents: 900, TotalCents: 900,
			PaymentMethod: domain.PaymentCash, ClientID: clientID, Status: domain.SaleStatusPending,
		}, []domain.SaleItem{{
			ID: itemID, SaleID: saleID, ProductID: productID, Name: "Brinco IT",
			UnitPriceCents: 900, UnitCostCents: 300, Quantity: 1, Brand: "Atelie IT", Consigned: true, SoldAt: now,
		}}); err != nil {
			return err
		}
		return tx.InsertInstallments(ctx, []domain.Installment{{
			ID: instID, SaleID: saleID, Sequence: 1, AmountCents: 900,
			DueDate: now.AddDate(0, 0, 30), Status: domain.InstallmentStatusPending,
		}})
	})
	if err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	outstanding, err := s.ListOutstandingInstallments(ctx, clientID)
	if err != nil {
		t.Fatalf("list outstanding: %v", err)
	}
	if len(outstanding) != 1 || outstanding[0].ID != instID {
		t.Fatalf("unexpected outstanding rows %+v", outstanding)
	}

	collect := func() (bool, error) {
		var marked bool
		err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			marked, err = tx.MarkInstallmentPaid(ctx, instID, now)
			return err
		})
		return marked, err
	}
	if marked, err := collect(); err != nil || !marked {
		t.Fatalf("first collect: marked=%v err=%v", marked, err)
	}
	if marked, err := collect(); err != nil || marked {
		t.Fatalf("second collect must be a no-op: marked=%v err=%v", marked, err)
	}

	var changed int
	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		changed, err = tx.MarkConsignmentSettled(ctx, []string{itemID}, "settle-it", now)
		if err != nil {
			return err
		}
		return tx.AppendLedgerEntry(ctx, domain.LedgerEntry{
			ID: ledgerID, Direction: domain.LedgerExpense, Category: domain.LedgerCategoryConsignment,
			Description: "payout", AmountCents: 300, OccurredAt: now,
		})
	})
	if err != nil || changed != 1 {
		t.Fatalf("settle: changed=%d err=%v", changed, err)
	}

	receipt, err := s.GetSaleReceipt(ctx, saleID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if !receipt.Items[0].ConsignmentSettled || receipt.Installments[0].Status != domain.InstallmentStatusPaid {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.Sale{ID: saleID, CreatedAt: now, PaymentMethod: "cash", Status: "paid"}, nil)
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate sale, got %v", err)
	}
}
