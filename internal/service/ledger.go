package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/events"
	"caixa/backend/internal/schedule"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

// RecordExpense appends a manual expense such as rent or supplies.
func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseRequest) (domain.LedgerEntry, error) {
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		return domain.LedgerEntry{}, &domain.ValidationError{Field: "category", Reason: "is required"}
	}
	if category == domain.LedgerCategorySales || category == domain.LedgerCategoryConsignment {
		return domain.LedgerEntry{}, &domain.ValidationError{Field: "category", Reason: category + " entries are recorded by their own flows"}
	}

	amount := req.AmountCents
	if amount == 0 && strings.TrimSpace(req.Amount) != "" {
		parsed, err := domain.ParseAmount(req.Amount)
		if err != nil {
			return domain.LedgerEntry{}, err
		}
		amount = parsed
	}
	if amount <= 0 {
		return domain.LedgerEntry{}, &domain.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = category
	}
	entry := domain.LedgerEntry{
		ID:          xid.New("led"),
		Direction:   domain.LedgerExpense,
		Category:    category,
		Description: description,
		AmountCents: amount,
		OccurredAt:  s.now().UTC(),
	}
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AppendLedgerEntry(ctx, entry)
	})
	if err != nil {
		return domain.LedgerEntry{}, asPersistence("record expense", err)
	}

	s.recordLedgerMetric(entry)
	s.publish(ctx, events.TypeExpenseRecorded, entry.ID, entry)
	s.logAudit(ctx, "ledger.expense", "ledger_entry", entry.ID, fmt.Sprintf("category=%s amount=%d", category, amount))
	s.logger.Info("expense recorded", zap.String("entry_id", entry.ID), zap.String("category", category), zap.Int64("amount_cents", amount))
	return entry, nil
}

func (s *Service) ListLedger(ctx context.Context, query domain.LedgerQuery) ([]domain.LedgerEntry, error) {
	filter, err := ledgerFilter(query)
	if err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	entries, err := s.repo.ListLedgerEntries(ctx, filter, limit)
	if err != nil {
		return nil, asPersistence("list ledger", err)
	}
	return entries, nil
}

// LedgerSummary totals the ledger between two dates, defaulting to the
// current month.
func (s *Service) LedgerSummary(ctx context.Context, from string, to string) (domain.LedgerSummary, error) {
	if strings.TrimSpace(from) == "" && strings.TrimSpace(to) == "" {
		now := s.now().UTC()
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
		to = now.Format(time.DateOnly)
	}
	start, end, err := dayRange(from, to, s.now())
	if err != nil {
		return domain.LedgerSummary{}, err
	}

	entries, err := s.repo.ListLedgerEntries(ctx, domain.LedgerFilter{From: &start, To: &end}, 0)
	if err != nil {
		return domain.LedgerSummary{}, asPersistence("summarize ledger", err)
	}

	summary := domain.LedgerSummary{From: &start, To: &end, ExpensesByCategory: make(map[string]int64)}
	for _, entry := range entries {
		switch entry.Direction {
		case domain.LedgerIncome:
			summary.IncomeCents += entry.AmountCents
		case domain.LedgerExpense:
			summary.ExpenseCents += entry.AmountCents
			summary.ExpensesByCategory[entry.Category] += entry.AmountCents
		}
	}
	summary.BalanceCents = summary.IncomeCents - summary.ExpenseCents
	return summary, nil
}

func ledgerFilter(query domain.LedgerQuery) (domain.LedgerFilter, error) {
	filter := domain.LedgerFilter{
		Direction: strings.ToLower(strings.TrimSpace(query.Direction)),
		Category:  strings.ToLower(strings.TrimSpace(query.Category)),
	}
	if filter.Direction != "" && filter.Direction != domain.LedgerIncome && filter.Direction != domain.LedgerExpense {
		return domain.LedgerFilter{}, &domain.ValidationError{Field: "direction", Reason: "must be income or expense"}
	}
	if from := strings.TrimSpace(query.From); from != "" {
		start, err := parseDay("from", from)
		if err != nil {
			return domain.LedgerFilter{}, err
		}
		filter.From = &start
	}
	if to := strings.TrimSpace(query.To); to != "" {
		day, err := parseDay("to", to)
		if err != nil {
			return domain.LedgerFilter{}, err
		}
		end := day.AddDate(0, 0, 1)
		filter.To = &end
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return domain.LedgerFilter{}, &domain.ValidationError{Field: "from", Reason: "must not be after to"}
	}
	return filter, nil
}

// dayRange turns inclusive YYYY-MM-DD bounds into [start, end) instants.
// Empty bounds default to today.
func dayRange(from string, to string, now time.Time) (time.Time, time.Time, error) {
	today := schedule.DateOnly(now)
	start, end := today, today
	var err error
	if strings.TrimSpace(from) != "" {
		if start, err = parseDay("from", strings.TrimSpace(from)); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if strings.TrimSpace(to) != "" {
		if end, err = parseDay("to", strings.TrimSpace(to)); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, &domain.ValidationError{Field: "from", Reason: "must not be after to"}
	}
	return start, end.AddDate(0, 0, 1), nil
}

func parseDay(field string, raw string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: field, Reason: "must use YYYY-MM-DD"}
	}
	return t, nil
}
