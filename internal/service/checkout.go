package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/events"
	"caixa/backend/internal/pricing"
	"caixa/backend/internal/schedule"
	"caixa/backend/internal/stock"
	"caixa/backend/internal/store"
	"caixa/backend/internal/telemetry"
	"caixa/backend/internal/xid"
)

// checkoutPlan is everything that can be decided before the transaction
// opens.
type checkoutPlan struct {
	lines        []domain.CartLine
	totals       domain.Totals
	paidCents    int64
	changeCents  int64
	status       string
	clientID     string
	method       string
	installments []domain.Installment
}

func (p checkoutPlan) remainingCents() int64 {
	return p.totals.TotalCents - p.paidCents
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.SaleReceipt, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.Checkout")
	defer span.End()

	startedAt := time.Now()
	receipt, err := s.checkout(ctx, req)
	telemetry.CheckoutDuration.Observe(time.Since(startedAt).Seconds())
	telemetry.CheckoutsTotal.WithLabelValues(resultLabel(err)).Inc()

	if err != nil {
		span.RecordError(err)
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			telemetry.StockRejectionsTotal.Inc()
		}
		s.logger.Info("checkout rejected", zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
		return domain.SaleReceipt{}, err
	}
	return receipt, nil
}

// Quote prices the request and derives its installment plan without writing
// anything. Callers re-run it whenever the cart or payment inputs change.
func (s *Service) Quote(ctx context.Context, req domain.CheckoutRequest) (domain.QuoteResponse, error) {
	plan, err := s.prepareCheckout(ctx, req, false)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	return domain.QuoteResponse{
		Totals:          plan.totals,
		AmountPaidCents: plan.paidCents,
		RemainingCents:  plan.remainingCents(),
		ChangeCents:     plan.changeCents,
		Status:          plan.status,
		Installments:    plan.installments,
	}, nil
}

func (s *Service) checkout(ctx context.Context, req domain.CheckoutRequest) (domain.SaleReceipt, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	fingerprint := requestFingerprint(req)
	if req.IdempotencyKey != "" {
		receipt, ok, err := s.replay(ctx, req.IdempotencyKey, fingerprint)
		if err != nil {
			return domain.SaleReceipt{}, err
		}
		if ok {
			return receipt, nil
		}
	}

	plan, err := s.prepareCheckout(ctx, req, true)
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	now := s.now().UTC()
	sale := domain.Sale{
		ID:              xid.New("sale"),
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		SubtotalCents:   plan.totals.SubtotalCents,
		DiscountCents:   plan.totals.DiscountCents,
		TotalCents:      plan.totals.TotalCents,
		AmountPaidCents: plan.paidCents,
		PaymentMethod:   plan.method,
		ClientID:        plan.clientID,
		Status:          plan.status,
		RequestHash:     fingerprint,
	}
	installments := make([]domain.Installment, len(plan.installments))
	for i, inst := range plan.installments {
		inst.ID = xid.New("inst")
		inst.SaleID = sale.ID
		installments[i] = inst
	}

	var items []domain.SaleItem
	var ledgerEntry *domain.LedgerEntry
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stockLines := make([]domain.StockLine, 0, len(plan.lines))
		for _, line := range plan.lines {
			stockLines = append(stockLines, domain.StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
		}
		products, err := stock.ReserveAndDecrement(ctx, tx, stockLines)
		if err != nil {
			return err
		}

		items = make([]domain.SaleItem, 0, len(plan.lines))
		for _, line := range plan.lines {
			product := products[line.ProductID]
			if product.PriceCents != line.UnitPriceCents {
				return &domain.PriceChangedError{ProductID: product.ID, QuotedCents: line.UnitPriceCents, CurrentCents: product.PriceCents}
			}
			items = append(items, domain.SaleItem{
				ID:             xid.New("item"),
				SaleID:         sale.ID,
				ProductID:      product.ID,
				Name:           product.Name,
				UnitPriceCents: product.PriceCents,
				UnitCostCents:  product.CostCents,
				Quantity:       line.Quantity,
				Brand:          product.Brand,
				Consigned:      product.Consigned,
				SoldAt:         now,
			})
		}

		if err := tx.InsertSale(ctx, sale, items); err != nil {
			return err
		}
		if len(installments) > 0 {
			if err := tx.InsertInstallments(ctx, installments); err != nil {
				return err
			}
		}
		if plan.paidCents > 0 {
			entry := domain.LedgerEntry{
				ID:          xid.New("led"),
				Direction:   domain.LedgerIncome,
				Category:    domain.LedgerCategorySales,
				Description: fmt.Sprintf("Sale %s (%s)", sale.ID, sale.PaymentMethod),
				AmountCents: plan.paidCents,
				Reference:   sale.ID,
				OccurredAt:  now,
			}
			if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
				return err
			}
			ledgerEntry = &entry
		}
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, store.ErrConflict) {
			// Lost a race against a retry carrying the same key.
			receipt, ok, replayErr := s.replay(ctx, req.IdempotencyKey, fingerprint)
			if replayErr != nil {
				return domain.SaleReceipt{}, replayErr
			}
			if ok {
				return receipt, nil
			}
		}
		return domain.SaleReceipt{}, asPersistence("checkout", err)
	}

	receipt := domain.SaleReceipt{
		Sale:         sale,
		Items:        items,
		Installments: installments,
		ChangeCents:  plan.changeCents,
		TotalDisplay: domain.FormatBRL(sale.TotalCents),
	}

	if ledgerEntry != nil {
		s.recordLedgerMetric(*ledgerEntry)
	}
	if req.IdempotencyKey != "" {
		if err := s.receipts.Set(ctx, req.IdempotencyKey, &receipt, s.receiptTTL); err != nil {
			s.logger.Warn("receipt cache write failed", zap.String("sale_id", sale.ID), zap.Error(err))
		}
	}
	s.publish(ctx, events.TypeSaleCommitted, sale.ID, receipt)
	s.logAudit(ctx, "sale.checkout", "sale", sale.ID,
		fmt.Sprintf("total=%d paid=%d status=%s installments=%d", sale.TotalCents, sale.AmountPaidCents, sale.Status, len(installments)))
	s.logger.Info("checkout committed",
		zap.String("sale_id", sale.ID),
		zap.Int64("total_cents", sale.TotalCents),
		zap.Int64("paid_cents", sale.AmountPaidCents),
		zap.String("status", sale.Status),
		zap.Int("installments", len(installments)),
	)
	return receipt, nil
}

// replay answers a retried checkout with the sale's current state. The
// receipt cache only saves the key lookup and remembers the change handed
// back at the till, which the store does not keep.
func (s *Service) replay(ctx context.Context, key string, fingerprint string) (domain.SaleReceipt, bool, error) {
	var saleID string
	var changeCents int64
	cached, hit, err := s.receipts.Get(ctx, key)
	if err != nil {
		s.logger.Warn("receipt cache read failed", zap.String("idempotency_key", key), zap.Error(err))
	}
	if hit && cached != nil {
		saleID = cached.Sale.ID
		changeCents = cached.ChangeCents
	} else {
		id, err := s.repo.FindSaleIDByIdempotencyKey(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.SaleReceipt{}, false, nil
			}
			return domain.SaleReceipt{}, false, asPersistence("find idempotency key", err)
		}
		saleID = id
	}

	receipt, err := s.GetSale(ctx, saleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SaleReceipt{}, false, nil
		}
		return domain.SaleReceipt{}, false, err
	}
	if receipt.Sale.RequestHash != "" && receipt.Sale.RequestHash != fingerprint {
		return domain.SaleReceipt{}, false, &domain.IdempotencyKeyReusedError{Key: key, SaleID: saleID}
	}
	receipt.ChangeCents = changeCents
	receipt.Replayed = true
	return receipt, true, nil
}

// requestFingerprint hashes the parts of a checkout request that decide what
// gets sold and how it is paid. Repeated lines are merged so the same cart
// sent in a different order hashes the same.
func requestFingerprint(req domain.CheckoutRequest) string {
	quantities := make(map[string]int, len(req.Lines))
	for _, line := range req.Lines {
		quantities[strings.TrimSpace(line.ProductID)] += line.Quantity
	}
	products := make([]string, 0, len(quantities))
	for id := range quantities {
		products = append(products, id)
	}
	sort.Strings(products)

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentCash
	}

	h := sha256.New()
	for _, id := range products {
		fmt.Fprintf(h, "line:%s:%d\n", id, quantities[id])
	}
	fmt.Fprintf(h, "discount:%s:%s\n", strings.ToLower(strings.TrimSpace(req.Discount.Kind)), req.Discount.Value.String())
	fmt.Fprintf(h, "payment:%s:%d:%s\n", method, req.AmountPaidCents, strings.TrimSpace(req.ClientID))
	if terms := req.Installments; terms != nil {
		fmt.Fprintf(h, "installments:%d:%d:%s:%s\n", terms.Count, terms.IntervalDays, strings.TrimSpace(terms.StartDate), strings.Join(terms.DueDates, ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// prepareCheckout runs every check that does not depend on live stock.
// Quotes skip the client requirement so a plan can be shown before the
// operator picks a client.
func (s *Service) prepareCheckout(ctx context.Context, req domain.CheckoutRequest, requireClient bool) (checkoutPlan, error) {
	lines, err := normalizeLines(req.Lines)
	if err != nil {
		return checkoutPlan{}, err
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(method) {
		return checkoutPlan{}, &domain.ValidationError{Field: "payment_method", Reason: "unsupported payment method " + req.PaymentMethod}
	}
	if req.AmountPaidCents < 0 {
		return checkoutPlan{}, &domain.ValidationError{Field: "amount_paid_cents", Reason: "must not be negative"}
	}

	for i, line := range lines {
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return checkoutPlan{}, &domain.NotFoundError{Entity: "product", ID: line.ProductID}
			}
			return checkoutPlan{}, asPersistence("load product", err)
		}
		if line.UnitPriceCents != 0 && line.UnitPriceCents != product.PriceCents {
			return checkoutPlan{}, &domain.PriceChangedError{ProductID: product.ID, QuotedCents: line.UnitPriceCents, CurrentCents: product.PriceCents}
		}
		lines[i].UnitPriceCents = product.PriceCents
		lines[i].Name = product.Name
	}

	if err := pricing.ValidateDiscount(req.Discount, pricing.Subtotal(lines)); err != nil {
		return checkoutPlan{}, err
	}
	totals := pricing.Calculate(lines, req.Discount)

	plan := checkoutPlan{
		lines:  lines,
		totals: totals,
		method: method,
		status: paymentStatus(req.AmountPaidCents, totals.TotalCents),
	}
	plan.paidCents = min(req.AmountPaidCents, totals.TotalCents)
	if req.AmountPaidCents > totals.TotalCents {
		plan.changeCents = req.AmountPaidCents - totals.TotalCents
	}

	plan.clientID = strings.TrimSpace(req.ClientID)
	if plan.clientID == "" && requireClient && plan.remainingCents() > 0 {
		return checkoutPlan{}, &domain.MissingClientError{}
	}
	if plan.clientID != "" && requireClient {
		exists, err := s.repo.ClientExists(ctx, plan.clientID)
		if err != nil {
			return checkoutPlan{}, asPersistence("check client", err)
		}
		if !exists {
			return checkoutPlan{}, &domain.MissingClientError{ClientID: plan.clientID}
		}
	}

	if plan.remainingCents() > 0 {
		installments, err := s.planInstallments(plan.remainingCents(), req.Installments)
		if err != nil {
			return checkoutPlan{}, err
		}
		plan.installments = installments
	}
	return plan, nil
}

func (s *Service) planInstallments(remaining int64, terms *domain.InstallmentSpec) ([]domain.Installment, error) {
	now := s.now()
	count, interval, start := 1, s.intervalDays, now
	var dueDates []string
	if terms != nil {
		count = terms.Count
		if terms.IntervalDays > 0 {
			interval = terms.IntervalDays
		}
		if terms.IntervalDays < 0 {
			return nil, &domain.InvalidScheduleError{Reason: "interval_days must not be negative"}
		}
		if strings.TrimSpace(terms.StartDate) != "" {
			parsed, err := schedule.ParseDate(strings.TrimSpace(terms.StartDate))
			if err != nil {
				return nil, err
			}
			if parsed.Before(schedule.DateOnly(now)) {
				return nil, &domain.InvalidScheduleError{Reason: "start_date must not be in the past"}
			}
			start = parsed
		}
		dueDates = terms.DueDates
	}

	plan, err := schedule.Plan(remaining, count, interval, start)
	if err != nil {
		return nil, err
	}
	if len(dueDates) > 0 {
		dates, err := schedule.ParseDates(dueDates)
		if err != nil {
			return nil, err
		}
		return schedule.ApplyDueDates(plan, dates, now)
	}
	return plan, nil
}

// normalizeLines merges repeated products, keeping the first line's position
// and quoted price.
func normalizeLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	if len(lines) == 0 {
		return nil, &domain.ValidationError{Field: "lines", Reason: "cart is empty"}
	}
	index := make(map[string]int, len(lines))
	out := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" {
			return nil, &domain.ValidationError{Field: "product_id", Reason: "is required"}
		}
		if line.Quantity < 1 {
			return nil, &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("product %s quantity must be at least 1", line.ProductID)}
		}
		if line.UnitPriceCents < 0 {
			return nil, &domain.ValidationError{Field: "unit_price_cents", Reason: "must not be negative"}
		}
		if i, seen := index[line.ProductID]; seen {
			if line.UnitPriceCents != 0 && out[i].UnitPriceCents != 0 && line.UnitPriceCents != out[i].UnitPriceCents {
				return nil, &domain.ValidationError{Field: "unit_price_cents", Reason: "product " + line.ProductID + " quoted at two prices"}
			}
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out, nil
}

func paymentStatus(paidNow int64, total int64) string {
	switch {
	case paidNow >= total:
		return domain.SaleStatusPaid
	case paidNow == 0:
		return domain.SaleStatusPending
	default:
		return domain.SaleStatusPartial
	}
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentPix, domain.PaymentDebitCard, domain.PaymentCreditCard, domain.PaymentStoreCredit:
		return true
	default:
		return false
	}
}
