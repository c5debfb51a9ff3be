package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

const maxTxAttempts = 3

const (
	saleColumns = `id, COALESCE(idempotency_key, '') AS idempotency_key, created_at, subtotal_cents,
		discount_cents, total_cents, amount_paid_cents, payment_method,
		COALESCE(client_id, '') AS client_id, status, COALESCE(request_hash, '') AS request_hash`
	saleItemColumns = `id, sale_id, product_id, name, unit_price_cents, unit_cost_cents, quantity,
		COALESCE(brand, '') AS brand, consigned, consignment_settled,
		COALESCE(settlement_id, '') AS settlement_id, settled_at, sold_at`
	installmentColumns = `id, sale_id, sequence, amount_cents, due_date, status, paid_at`
)

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
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

// EnsureSchema creates missing tables. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WithinTx runs fn in a SERIALIZABLE transaction and retries it when
// Postgres aborts on a serialization failure or deadlock.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*20) * time.Millisecond):
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &txView{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, id, false)
}

func (s *Store) ClientExists(ctx context.Context, id string) (bool, error) {
	return clientExists(ctx, s.db, id)
}

func (s *Store) FindSaleIDByIdempotencyKey(ctx context.Context, key string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT id FROM sales WHERE idempotency_key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return id, nil
}

func (s *Store) GetSaleReceipt(ctx context.Context, saleID string) (*domain.SaleReceipt, error) {
	var receipt domain.SaleReceipt
	err := s.db.GetContext(ctx, &receipt.Sale, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	receipt.Items = make([]domain.SaleItem, 0, 8)
	if err := s.db.SelectContext(ctx, &receipt.Items,
		`SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID); err != nil {
		return nil, err
	}
	receipt.Installments = make([]domain.Installment, 0, 4)
	if err := s.db.SelectContext(ctx, &receipt.Installments,
		`SELECT `+installmentColumns+` FROM installments WHERE sale_id = $1 ORDER BY sequence`, saleID); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *Store) ListSalesByClient(ctx context.Context, clientID string, limit int) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, 16)
	err := s.db.SelectContext(ctx, &sales, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE client_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListOutstandingInstallments(ctx context.Context, clientID string) ([]domain.OutstandingInstallment, error) {
	rows := make([]domain.OutstandingInstallment, 0, 32)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT i.id, i.sale_id, i.sequence, i.amount_cents, i.due_date, i.status, i.paid_at,
			COALESCE(s.client_id, '') AS client_id
		FROM installments i
		JOIN sales s ON s.id = i.sale_id
		WHERE i.status <> 'paid' AND ($1 = '' OR s.client_id = $1)
		ORDER BY i.due_date, i.sale_id, i.sequence
	`, clientID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ListUnsettledConsignments(ctx context.Context) ([]domain.SaleItem, error) {
	items := make([]domain.SaleItem, 0, 32)
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+saleItemColumns+`
		FROM sale_items
		WHERE consigned AND NOT consignment_settled
		ORDER BY sold_at, id
	`)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, filter domain.LedgerFilter, limit int) ([]domain.LedgerEntry, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.From != nil {
		add("occurred_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("occurred_at < $%d", *filter.To)
	}
	if filter.Direction != "" {
		add("direction = $%d", filter.Direction)
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}

	query := `SELECT id, direction, category, description, amount_cents, COALESCE(reference, '') AS reference, occurred_at FROM ledger_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	entries := make([]domain.LedgerEntry, 0, 64)
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :actor, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	logs := make([]domain.AuditLog, 0, 64)
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// txView implements store.Tx on an open transaction. Reads that feed a
// later write lock their rows with FOR UPDATE.
type txView struct {
	tx *sqlx.Tx
}

func (t *txView) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, t.tx, id, true)
}

func (t *txView) ConditionalDecrement(ctx context.Context, id string, qty int) (bool, error) {
	if qty < 1 {
		return false, nil
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $1, updated_at = now()
		WHERE id = $2 AND quantity >= $1
	`, qty, id)
	if err != nil {
		return false, translate(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t *txView) ClientExists(ctx context.Context, id string) (bool, error) {
	return clientExists(ctx, t.tx, id)
}

func (t *txView) InsertSale(ctx context.Context, sale domain.Sale, items []domain.SaleItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, idempotency_key, created_at, subtotal_cents, discount_cents, total_cents,
			amount_paid_cents, payment_method, client_id, status, request_hash
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sale.ID, nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt, sale.SubtotalCents, sale.DiscountCents, sale.TotalCents,
		sale.AmountPaidCents, sale.PaymentMethod, nullIfEmpty(sale.ClientID), sale.Status, nullIfEmpty(sale.RequestHash))
	if err != nil {
		return translate(err)
	}

	for _, item := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				id, sale_id, product_id, name, unit_price_cents, unit_cost_cents, quantity,
				brand, consigned, consignment_settled, sold_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,$10)
		`, item.ID, sale.ID, item.ProductID, item.Name, item.UnitPriceCents, item.UnitCostCents, item.Quantity,
			nullIfEmpty(item.Brand), item.Consigned, item.SoldAt)
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

func (t *txView) UpdateSaleStatus(ctx context.Context, saleID string, status string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE sales SET status = $2 WHERE id = $1`, saleID, status)
	if err != nil {
		return translate(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txView) InsertInstallments(ctx context.Context, installments []domain.Installment) error {
	for _, inst := range installments {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO installments (id, sale_id, sequence, amount_cents, due_date, status)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, inst.ID, inst.SaleID, inst.Sequence, inst.AmountCents, inst.DueDate, inst.Status)
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

func (t *txView) GetInstallment(ctx context.Context, id string) (*domain.Installment, error) {
	var inst domain.Installment
	err := t.tx.GetContext(ctx, &inst, `SELECT `+installmentColumns+` FROM installments WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translate(err)
	}
	return &inst, nil
}

func (t *txView) MarkInstallmentPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE installments
		SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status <> 'paid'
	`, id, paidAt)
	if err != nil {
		return false, translate(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t *txView) CountUnpaidInstallments(ctx context.Context, saleID string) (int, error) {
	var count int
	err := t.tx.GetContext(ctx, &count, `SELECT count(*) FROM installments WHERE sale_id = $1 AND status <> 'paid'`, saleID)
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

func (t *txView) GetSaleItems(ctx context.Context, ids []string) ([]domain.SaleItem, error) {
	if len(ids) == 0 {
		return []domain.SaleItem{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+saleItemColumns+` FROM sale_items WHERE id IN (?) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SaleItem, 0, len(ids))
	if err := t.tx.SelectContext(ctx, &items, t.tx.Rebind(query), args...); err != nil {
		return nil, translate(err)
	}
	return items, nil
}

func (t *txView) MarkConsignmentSettled(ctx context.Context, ids []string, settlementID string, settledAt time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`
		UPDATE sale_items
		SET consignment_settled = true, settlement_id = ?, settled_at = ?
		WHERE id IN (?) AND consigned AND NOT consignment_settled
	`, settlementID, settledAt, ids)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return 0, translate(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (t *txView) AppendLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, direction, category, description, amount_cents, reference, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.Direction, entry.Category, entry.Description, entry.AmountCents, nullIfEmpty(entry.Reference), entry.OccurredAt)
	return translate(err)
}

func getProduct(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (*domain.Product, error) {
	query := `
		SELECT id, name, quantity, cost_cents, price_cents, min_stock, COALESCE(brand, '') AS brand, consigned
		FROM products
		WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}
	var product domain.Product
	if err := sqlx.GetContext(ctx, q, &product, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translate(err)
	}
	return &product, nil
}

func clientExists(ctx context.Context, q sqlx.QueryerContext, id string) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, id); err != nil {
		return false, translate(err)
	}
	return exists, nil
}

// translate maps unique violations onto store.ErrConflict and leaves other
// errors, including retryable ones, intact.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
