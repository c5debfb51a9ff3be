package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/events"
	"caixa/backend/internal/schedule"
	"caixa/backend/internal/store"
	"caixa/backend/internal/telemetry"
	"caixa/backend/internal/xid"
)

// ListOutstandingInstallments returns every unpaid installment, optionally
// for one client, ordered by due date. Overdue is judged against asOf, or the
// current day when asOf is zero.
func (s *Service) ListOutstandingInstallments(ctx context.Context, asOf time.Time, clientID string) ([]domain.OutstandingInstallment, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	today := schedule.DateOnly(asOf)

	rows, err := s.repo.ListOutstandingInstallments(ctx, strings.TrimSpace(clientID))
	if err != nil {
		return nil, asPersistence("list outstanding installments", err)
	}
	for i := range rows {
		due := schedule.DateOnly(rows[i].DueDate)
		if due.Before(today) {
			rows[i].Overdue = true
			rows[i].DaysOverdue = int(today.Sub(due).Hours() / 24)
		}
	}
	return rows, nil
}

// CollectInstallment settles one installment in full. The payment, its
// ledger entry and the sale status move together or not at all.
func (s *Service) CollectInstallment(ctx context.Context, installmentID string) (domain.CollectionResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.CollectInstallment")
	defer span.End()

	result, err := s.collectInstallment(ctx, strings.TrimSpace(installmentID))
	telemetry.InstallmentsCollectedTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return domain.CollectionResult{}, err
	}
	return result, nil
}

func (s *Service) collectInstallment(ctx context.Context, installmentID string) (domain.CollectionResult, error) {
	if installmentID == "" {
		return domain.CollectionResult{}, &domain.ValidationError{Field: "installment_id", Reason: "is required"}
	}

	now := s.now().UTC()
	var result domain.CollectionResult
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		inst, err := tx.GetInstallment(ctx, installmentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &domain.NotFoundError{Entity: "installment", ID: installmentID}
			}
			return err
		}
		if inst.Status == domain.InstallmentStatusPaid {
			return &domain.AlreadyPaidError{InstallmentID: installmentID}
		}

		marked, err := tx.MarkInstallmentPaid(ctx, installmentID, now)
		if err != nil {
			return err
		}
		if !marked {
			return &domain.AlreadyPaidError{InstallmentID: installmentID}
		}

		entry := domain.LedgerEntry{
			ID:          xid.New("led"),
			Direction:   domain.LedgerIncome,
			Category:    domain.LedgerCategorySales,
			Description: fmt.Sprintf("Installment %d of sale %s", inst.Sequence, inst.SaleID),
			AmountCents: inst.AmountCents,
			Reference:   inst.ID,
			OccurredAt:  now,
		}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}

		unpaid, err := tx.CountUnpaidInstallments(ctx, inst.SaleID)
		if err != nil {
			return err
		}
		status := domain.SaleStatusPartial
		if unpaid == 0 {
			status = domain.SaleStatusPaid
		}
		if err := tx.UpdateSaleStatus(ctx, inst.SaleID, status); err != nil {
			return err
		}

		paidAt := now
		inst.Status = domain.InstallmentStatusPaid
		inst.PaidAt = &paidAt
		result = domain.CollectionResult{Installment: *inst, SaleStatus: status, LedgerEntry: entry}
		return nil
	})
	if err != nil {
		return domain.CollectionResult{}, asPersistence("collect installment", err)
	}

	s.recordLedgerMetric(result.LedgerEntry)
	s.publish(ctx, events.TypeInstallmentCollected, result.Installment.SaleID, result)
	s.logAudit(ctx, "installment.collect", "installment", installmentID,
		fmt.Sprintf("sale=%s amount=%d sale_status=%s", result.Installment.SaleID, result.Installment.AmountCents, result.SaleStatus))
	s.logger.Info("installment collected",
		zap.String("installment_id", installmentID),
		zap.String("sale_id", result.Installment.SaleID),
		zap.Int64("amount_cents", result.Installment.AmountCents),
		zap.String("sale_status", result.SaleStatus),
	)
	return result, nil
}
