package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rollyshop/backend/internal/analytics"
	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/ledger"
	"rollyshop/backend/internal/metrics"
	"rollyshop/backend/internal/store"
)

var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("insufficient role")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// MaxRetries bounds how often a unit of work is re-run after a
	// concurrency conflict. Zero disables retries.
	MaxRetries        int
	RetryBackoff      time.Duration
	LowStockThreshold int
	Logger            *zap.Logger
	Now               func() time.Time
}

type Service struct {
	repo         store.Repository
	ledger       *ledger.Ledger
	analytics    *analytics.Engine
	logger       *zap.Logger
	maxRetries   int
	retryBackoff time.Duration
	lowStock     int
	now          func() time.Time
}

func New(repo store.Repository, l *ledger.Ledger, engine *analytics.Engine, opts Options) *Service {
	if l == nil {
		l = ledger.New()
	}
	if engine == nil {
		engine = analytics.NewEngine(time.UTC, nil, time.Minute, opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 20 * time.Millisecond
	}
	if opts.LowStockThreshold < 0 {
		opts.LowStockThreshold = 10
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:         repo,
		ledger:       l,
		analytics:    engine,
		logger:       opts.Logger,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		lowStock:     opts.LowStockThreshold,
		now:          opts.Now,
	}
}

func requireRole(actor domain.Actor, roles ...string) error {
	if strings.TrimSpace(actor.Username) == "" {
		return ErrUnauthorized
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrForbidden, actor.Role)
}

// parseID rejects identifiers that cannot exist. Every entity id is a UUID,
// so a malformed one is reported as not found.
func parseID(id string, entity string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%s %q: %w", entity, id, store.ErrNotFound)
	}
	return parsed.String(), nil
}

// withRetry re-runs fn while it fails with store.ErrConcurrencyConflict, at
// most maxRetries extra times, backing off linearly between attempts.
func (s *Service) withRetry(ctx context.Context, operation string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, store.ErrConcurrencyConflict) || attempt >= s.maxRetries {
			return err
		}

		metrics.ConflictRetries.WithLabelValues(operation).Inc()
		s.logger.Warn("retrying after concurrency conflict",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		timer := time.NewTimer(s.retryBackoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) logAudit(actor domain.Actor, action string, entityType string, entityID string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("action", action),
		zap.String("entity", entityType),
		zap.String("entity_id", entityID),
		zap.String("actor", actor.Username),
		zap.String("actor_role", actor.Role),
	}
	s.logger.Info("audit", append(base, fields...)...)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id, err := parseID(id, "product")
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// CreateProduct registers a product. InitialStock is the ledger baseline and
// produces no history entry.
func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name required", store.ErrValidation)
	}
	if req.Price.IsNegative() || req.CostPrice.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: prices must not be negative", store.ErrValidation)
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		return domain.Product{}, fmt.Errorf("%w: discount percent must be within 0-100", store.ErrValidation)
	}
	if req.InitialStock < 0 {
		return domain.Product{}, fmt.Errorf("%w: initial stock must not be negative", store.ErrValidation)
	}

	parentID := ""
	if strings.TrimSpace(req.ParentProductID) != "" {
		id, err := parseID(req.ParentProductID, "parent product")
		if err != nil {
			return domain.Product{}, err
		}
		parentID = id
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:            req.Name,
		Description:     strings.TrimSpace(req.Description),
		Barcode:         req.Barcode,
		CostPrice:       req.CostPrice.Round(2),
		Price:           req.Price.Round(2),
		DiscountPercent: req.DiscountPercent,
		StockQuantity:   req.InitialStock,
		ParentProductID: parentID,
		VariantCode:     strings.TrimSpace(req.VariantCode),
		VariantColor:    strings.TrimSpace(req.VariantColor),
		VariantSize:     strings.TrimSpace(req.VariantSize),
		CreatedAt:       s.now(),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.analytics.Invalidate(ctx)
	s.logAudit(actor, "product_create", "product", created.ID,
		zap.String("name", created.Name),
		zap.String("price", created.Price.String()),
		zap.Int("initial_stock", created.StockQuantity),
	)
	return *created, nil
}
