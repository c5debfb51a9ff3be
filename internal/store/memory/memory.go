package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

// Store keeps everything in process memory. Transactions are serialized
// behind mu and run against a copy of the data that replaces the live copy
// only when fn succeeds.
type Store struct {
	mu        sync.RWMutex
	data      *data
	auditLogs []domain.AuditLog
}

type data struct {
	products           map[string]domain.Product
	clients            map[string]string
	sales              map[string]domain.Sale
	salesByIdem        map[string]string
	saleItems          map[string]domain.SaleItem
	itemsBySale        map[string][]string
	installments       map[string]domain.Installment
	installmentsBySale map[string][]string
	ledger             []domain.LedgerEntry
}

func newData() *data {
	return &data{
		products:           make(map[string]domain.Product),
		clients:            make(map[string]string),
		sales:              make(map[string]domain.Sale),
		salesByIdem:        make(map[string]string),
		saleItems:          make(map[string]domain.SaleItem),
		itemsBySale:        make(map[string][]string),
		installments:       make(map[string]domain.Installment),
		installmentsBySale: make(map[string][]string),
		ledger:             make([]domain.LedgerEntry, 0, 64),
	}
}

func (d *data) clone() *data {
	return &data{
		products:           maps.Clone(d.products),
		clients:            maps.Clone(d.clients),
		sales:              maps.Clone(d.sales),
		salesByIdem:        maps.Clone(d.salesByIdem),
		saleItems:          maps.Clone(d.saleItems),
		itemsBySale:        cloneIndex(d.itemsBySale),
		installments:       maps.Clone(d.installments),
		installmentsBySale: cloneIndex(d.installmentsBySale),
		ledger:             slices.Clone(d.ledger),
	}
}

func New() *Store {
	return &Store{data: newData(), auditLogs: make([]domain.AuditLog, 0, 128)}
}

func NewSeeded() *Store {
	s := New()
	products := []domain.Product{
		{ID: "prod-vestido-linho", Name: "Vestido Linho", Quantity: 12, CostCents: 8900, PriceCents: 18900, MinStock: 2},
		{ID: "prod-blusa-seda", Name: "Blusa Seda", Quantity: 20, CostCents: 4500, PriceCents: 9900, MinStock: 4},
		{ID: "prod-calca-alfaiataria", Name: "Calca Alfaiataria", Quantity: 8, CostCents: 7200, PriceCents: 15900, MinStock: 2},
		{ID: "prod-brinco-prata", Name: "Brinco Prata", Quantity: 15, CostCents: 2100, PriceCents: 5900, MinStock: 3, Brand: "Atelie Lua", Consigned: true},
		{ID: "prod-bolsa-couro", Name: "Bolsa Couro", Quantity: 4, CostCents: 12000, PriceCents: 24900, MinStock: 1, Brand: "Couraria Sul", Consigned: true},
		{ID: "prod-colar-perolas", Name: "Colar Perolas", Quantity: 6, CostCents: 3500, PriceCents: 8900, MinStock: 1, Brand: "Atelie Lua", Consigned: true},
	}
	for _, p := range products {
		s.PutProduct(p)
	}
	s.PutClient("cli-maria", "Maria Souza")
	s.PutClient("cli-joana", "Joana Lima")
	return s
}

// PutProduct inserts or replaces a catalog row. Catalog management lives
// outside this service; the hook exists for seeding.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[p.ID] = p
}

func (s *Store) PutClient(id string, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.clients[id] = name
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, &txView{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getProduct(id)
}

func (s *Store) ClientExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data.clients[id]
	return ok, nil
}

func (s *Store) FindSaleIDByIdempotencyKey(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.data.salesByIdem[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (s *Store) GetSaleReceipt(_ context.Context, saleID string) (*domain.SaleReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.data.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	items := make([]domain.SaleItem, 0, len(s.data.itemsBySale[saleID]))
	for _, id := range s.data.itemsBySale[saleID] {
		items = append(items, s.data.saleItems[id])
	}
	installments := make([]domain.Installment, 0, len(s.data.installmentsBySale[saleID]))
	for _, id := range s.data.installmentsBySale[saleID] {
		installments = append(installments, s.data.installments[id])
	}
	slices.SortFunc(installments, func(a, b domain.Installment) int { return a.Sequence - b.Sequence })

	return &domain.SaleReceipt{Sale: sale, Items: items, Installments: installments}, nil
}

func (s *Store) ListSalesByClient(_ context.Context, clientID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 16)
	for _, sale := range s.data.sales {
		if sale.ClientID == clientID {
			result = append(result, sale)
		}
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListOutstandingInstallments(_ context.Context, clientID string) ([]domain.OutstandingInstallment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OutstandingInstallment, 0, 32)
	for _, inst := range s.data.installments {
		if inst.Status == domain.InstallmentStatusPaid {
			continue
		}
		sale := s.data.sales[inst.SaleID]
		if clientID != "" && sale.ClientID != clientID {
			continue
		}
		result = append(result, domain.OutstandingInstallment{Installment: inst, ClientID: sale.ClientID})
	}
	slices.SortFunc(result, func(a, b domain.OutstandingInstallment) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		if a.SaleID != b.SaleID {
			return strings.Compare(a.SaleID, b.SaleID)
		}
		return a.Sequence - b.Sequence
	})
	return result, nil
}

func (s *Store) ListUnsettledConsignments(_ context.Context) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleItem, 0, 32)
	for _, item := range s.data.saleItems {
		if item.Consigned && !item.ConsignmentSettled {
			result = append(result, item)
		}
	}
	slices.SortFunc(result, func(a, b domain.SaleItem) int {
		if c := a.SoldAt.Compare(b.SoldAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, filter domain.LedgerFilter, limit int) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LedgerEntry, 0, len(s.data.ledger))
	for _, entry := range s.data.ledger {
		if filter.From != nil && entry.OccurredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !entry.OccurredAt.Before(*filter.To) {
			continue
		}
		if filter.Direction != "" && entry.Direction != filter.Direction {
			continue
		}
		if filter.Category != "" && entry.Category != filter.Category {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.LedgerEntry) int {
		if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// txView implements store.Tx over the working copy of a transaction.
type txView struct {
	d *data
}

func (t *txView) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	return t.d.getProduct(id)
}

func (t *txView) ConditionalDecrement(_ context.Context, id string, qty int) (bool, error) {
	p, ok := t.d.products[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if qty < 1 || p.Quantity < qty {
		return false, nil
	}
	p.Quantity -= qty
	t.d.products[id] = p
	return true, nil
}

func (t *txView) ClientExists(_ context.Context, id string) (bool, error) {
	_, ok := t.d.clients[id]
	return ok, nil
}

func (t *txView) InsertSale(_ context.Context, sale domain.Sale, items []domain.SaleItem) error {
	if _, exists := t.d.sales[sale.ID]; exists {
		return store.ErrConflict
	}
	if sale.IdempotencyKey != "" {
		if _, exists := t.d.salesByIdem[sale.IdempotencyKey]; exists {
			return store.ErrConflict
		}
		t.d.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	t.d.sales[sale.ID] = sale
	ids := make([]string, 0, len(items))
	for _, item := range items {
		t.d.saleItems[item.ID] = item
		ids = append(ids, item.ID)
	}
	t.d.itemsBySale[sale.ID] = ids
	return nil
}

func (t *txView) UpdateSaleStatus(_ context.Context, saleID string, status string) error {
	sale, ok := t.d.sales[saleID]
	if !ok {
		return store.ErrNotFound
	}
	sale.Status = status
	t.d.sales[saleID] = sale
	return nil
}

func (t *txView) InsertInstallments(_ context.Context, installments []domain.Installment) error {
	for _, inst := range installments {
		if _, ok := t.d.sales[inst.SaleID]; !ok {
			return store.ErrNotFound
		}
		for _, existing := range t.d.installmentsBySale[inst.SaleID] {
			if t.d.installments[existing].Sequence == inst.Sequence {
				return store.ErrConflict
			}
		}
		t.d.installments[inst.ID] = inst
		t.d.installmentsBySale[inst.SaleID] = append(t.d.installmentsBySale[inst.SaleID], inst.ID)
	}
	return nil
}

func (t *txView) GetInstallment(_ context.Context, id string) (*domain.Installment, error) {
	inst, ok := t.d.installments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &inst, nil
}

func (t *txView) MarkInstallmentPaid(_ context.Context, id string, paidAt time.Time) (bool, error) {
	inst, ok := t.d.installments[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if inst.Status == domain.InstallmentStatusPaid {
		return false, nil
	}
	at := paidAt
	inst.Status = domain.InstallmentStatusPaid
	inst.PaidAt = &at
	t.d.installments[id] = inst
	return true, nil
}

func (t *txView) CountUnpaidInstallments(_ context.Context, saleID string) (int, error) {
	count := 0
	for _, id := range t.d.installmentsBySale[saleID] {
		if t.d.installments[id].Status != domain.InstallmentStatusPaid {
			count++
		}
	}
	return count, nil
}

func (t *txView) GetSaleItems(_ context.Context, ids []string) ([]domain.SaleItem, error) {
	result := make([]domain.SaleItem, 0, len(ids))
	for _, id := range ids {
		item, ok := t.d.saleItems[id]
		if !ok {
			continue
		}
		result = append(result, item)
	}
	return result, nil
}

func (t *txView) MarkConsignmentSettled(_ context.Context, ids []string, settlementID string, settledAt time.Time) (int, error) {
	changed := 0
	for _, id := range ids {
		item, ok := t.d.saleItems[id]
		if !ok || !item.Consigned || item.ConsignmentSettled {
			continue
		}
		at := settledAt
		item.ConsignmentSettled = true
		item.SettlementID = settlementID
		item.SettledAt = &at
		t.d.saleItems[id] = item
		changed++
	}
	return changed, nil
}

func (t *txView) AppendLedgerEntry(_ context.Context, entry domain.LedgerEntry) error {
	t.d.ledger = append(t.d.ledger, entry)
	return nil
}

func (d *data) getProduct(id string) (*domain.Product, error) {
	p, ok := d.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func cloneIndex(src map[string][]string) map[string][]string {
	dst := make(map[string][]string, len(src))
	for k, v := range src {
		dst[k] = slices.Clone(v)
	}
	return dst
}
