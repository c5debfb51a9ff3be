package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/events"
	"caixa/backend/internal/store"
	"caixa/backend/internal/telemetry"
	"caixa/backend/internal/xid"
)

func brandKey(brand string) string {
	if b := strings.TrimSpace(brand); b != "" {
		return b
	}
	return domain.UnbrandedConsignment
}

// GroupUnsettledConsignments lists sold consigned items that are still owed
// to their supplier, grouped by brand with the cost owed per group.
func (s *Service) GroupUnsettledConsignments(ctx context.Context) ([]domain.ConsignmentGroup, error) {
	items, err := s.repo.ListUnsettledConsignments(ctx)
	if err != nil {
		return nil, asPersistence("list consignments", err)
	}

	byBrand := make(map[string]*domain.ConsignmentGroup)
	for _, item := range items {
		key := brandKey(item.Brand)
		group, ok := byBrand[key]
		if !ok {
			group = &domain.ConsignmentGroup{Brand: key, Items: make([]domain.SaleItem, 0, 4)}
			byBrand[key] = group
		}
		group.Items = append(group.Items, item)
		group.TotalCostCents += item.CostOwedCents()
	}

	groups := make([]domain.ConsignmentGroup, 0, len(byBrand))
	for _, group := range byBrand {
		groups = append(groups, *group)
	}
	slices.SortFunc(groups, func(a, b domain.ConsignmentGroup) int { return strings.Compare(a.Brand, b.Brand) })
	return groups, nil
}

// SettleConsignmentBatch pays a brand for the listed items. The batch is all
// or nothing: one item already settled rejects the whole request.
func (s *Service) SettleConsignmentBatch(ctx context.Context, req domain.SettleConsignmentRequest) (domain.ConsignmentSettlement, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.SettleConsignmentBatch")
	defer span.End()

	settlement, err := s.settleConsignmentBatch(ctx, req)
	telemetry.ConsignmentSettlementsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return domain.ConsignmentSettlement{}, err
	}
	return settlement, nil
}

func (s *Service) settleConsignmentBatch(ctx context.Context, req domain.SettleConsignmentRequest) (domain.ConsignmentSettlement, error) {
	brand := strings.TrimSpace(req.Brand)
	if brand == "" {
		return domain.ConsignmentSettlement{}, &domain.ValidationError{Field: "brand", Reason: "is required"}
	}
	if len(req.ItemIDs) == 0 {
		return domain.ConsignmentSettlement{}, &domain.ValidationError{Field: "item_ids", Reason: "at least one item is required"}
	}
	ids := make([]string, 0, len(req.ItemIDs))
	seen := make(map[string]struct{}, len(req.ItemIDs))
	for _, raw := range req.ItemIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return domain.ConsignmentSettlement{}, &domain.ValidationError{Field: "item_ids", Reason: "item id must not be empty"}
		}
		if _, dup := seen[id]; dup {
			return domain.ConsignmentSettlement{}, &domain.ValidationError{Field: "item_ids", Reason: "duplicate item " + id}
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	now := s.now().UTC()
	settlement := domain.ConsignmentSettlement{
		ID:        xid.New("settle"),
		Brand:     brand,
		ItemIDs:   ids,
		SettledAt: now,
	}
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		items, err := tx.GetSaleItems(ctx, ids)
		if err != nil {
			return err
		}
		found := make(map[string]domain.SaleItem, len(items))
		for _, item := range items {
			found[item.ID] = item
		}

		var settled []string
		var total int64
		for _, id := range ids {
			item, ok := found[id]
			if !ok {
				return &domain.NotFoundError{Entity: "sale item", ID: id}
			}
			if !item.Consigned {
				return &domain.ValidationError{Field: "item_ids", Reason: "item " + id + " is not consigned"}
			}
			if brandKey(item.Brand) != brand {
				return &domain.ValidationError{Field: "item_ids", Reason: fmt.Sprintf("item %s belongs to %s", id, brandKey(item.Brand))}
			}
			if item.ConsignmentSettled {
				settled = append(settled, id)
			}
			total += item.CostOwedCents()
		}
		if len(settled) > 0 {
			return &domain.PartiallyAlreadySettledError{Brand: brand, ItemIDs: settled}
		}

		changed, err := tx.MarkConsignmentSettled(ctx, ids, settlement.ID, now)
		if err != nil {
			return err
		}
		if changed != len(ids) {
			return &domain.PartiallyAlreadySettledError{Brand: brand, ItemIDs: ids}
		}

		entry := domain.LedgerEntry{
			ID:          xid.New("led"),
			Direction:   domain.LedgerExpense,
			Category:    domain.LedgerCategoryConsignment,
			Description: fmt.Sprintf("Consignment payout to %s (%d items)", brand, len(ids)),
			AmountCents: total,
			Reference:   settlement.ID,
			OccurredAt:  now,
		}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		settlement.TotalCostCents = total
		settlement.LedgerEntry = entry
		return nil
	})
	if err != nil {
		return domain.ConsignmentSettlement{}, asPersistence("settle consignment", err)
	}

	s.recordLedgerMetric(settlement.LedgerEntry)
	s.publish(ctx, events.TypeConsignmentSettled, settlement.ID, settlement)
	s.logAudit(ctx, "consignment.settle", "settlement", settlement.ID,
		fmt.Sprintf("brand=%s items=%d total=%d", brand, len(ids), settlement.TotalCostCents))
	s.logger.Info("consignment settled",
		zap.String("settlement_id", settlement.ID),
		zap.String("brand", brand),
		zap.Int("items", len(ids)),
		zap.Int64("total_cost_cents", settlement.TotalCostCents),
	)
	return settlement, nil
}
