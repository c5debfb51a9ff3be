package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"caixa/backend/internal/cache"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/events"
	"caixa/backend/internal/store"
	"caixa/backend/internal/telemetry"
	"caixa/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	logger       *zap.Logger
	receipts     cache.ReceiptCache
	receiptTTL   time.Duration
	publisher    events.Publisher
	intervalDays int
	now          func() time.Time
}

type Option func(*Service)

func WithReceiptCache(c cache.ReceiptCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.receipts = c
		}
		if ttl > 0 {
			s.receiptTTL = ttl
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithInstallmentInterval sets the spacing used when a checkout does not
// name one.
func WithInstallmentInterval(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.intervalDays = days
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:         repo,
		logger:       logger,
		receipts:     cache.NoopReceiptCache{},
		receiptTTL:   24 * time.Hour,
		publisher:    events.NoopPublisher{},
		intervalDays: domain.DefaultInstallmentIntervalDays,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleReceipt, error) {
	receipt, err := s.repo.GetSaleReceipt(ctx, saleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleReceipt{}, &domain.NotFoundError{Entity: "sale", ID: saleID}
		}
		return domain.SaleReceipt{}, asPersistence("get sale", err)
	}
	receipt.TotalDisplay = domain.FormatBRL(receipt.Sale.TotalCents)
	return *receipt, nil
}

func (s *Service) ListClientSales(ctx context.Context, clientID string, limit int) ([]domain.Sale, error) {
	if clientID == "" {
		return nil, &domain.ValidationError{Field: "client_id", Reason: "is required"}
	}
	exists, err := s.repo.ClientExists(ctx, clientID)
	if err != nil {
		return nil, asPersistence("list client sales", err)
	}
	if !exists {
		return nil, &domain.NotFoundError{Entity: "client", ID: clientID}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sales, err := s.repo.ListSalesByClient(ctx, clientID, limit)
	if err != nil {
		return nil, asPersistence("list client sales", err)
	}
	return sales, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from string, to string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, &domain.ForbiddenError{Reason: "admin role required"}
	}
	start, end, err := dayRange(from, to, s.now())
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	logs, err := s.repo.ListAuditLogs(ctx, start, end, limit)
	if err != nil {
		return nil, asPersistence("list audit logs", err)
	}
	return logs, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Actor:      actor.Username,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

// publish runs after commit. A failure is logged and counted but never undoes
// the committed work.
func (s *Service) publish(ctx context.Context, eventType string, key string, payload any) {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	event := events.Event{
		ID:         xid.New("evt"),
		Type:       eventType,
		Key:        key,
		OccurredAt: s.now().UTC(),
		Payload:    payload,
	}
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		telemetry.EventsPublishFailedTotal.Inc()
		s.logger.Warn("event publish failed",
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (s *Service) recordLedgerMetric(entry domain.LedgerEntry) {
	telemetry.LedgerEntriesTotal.WithLabelValues(entry.Direction, entry.Category).Inc()
}

// asPersistence passes typed domain errors through and wraps anything else
// as a retryable storage failure.
func asPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, class := range []error{domain.ErrInvalidRequest, domain.ErrConflict, domain.ErrNotFound, domain.ErrUnavailable} {
		if errors.Is(err, class) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
