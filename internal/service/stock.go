package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rollyshop/backend/internal/analytics"
	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/ledger"
	"rollyshop/backend/internal/metrics"
	"rollyshop/backend/internal/store"
)

const topAdjustedProducts = 10

// AdjustStock records a manual RESTOCK, DAMAGE, MANUAL or CORRECTION entry.
// SALE and RETURN entries are reserved for the sale and refund engines.
func (s *Service) AdjustStock(ctx context.Context, actor domain.Actor, productID string, req domain.StockAdjustmentRequest) (domain.StockAdjustmentResponse, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.StockAdjustmentResponse{}, err
	}
	productID, err := parseID(productID, "product")
	if err != nil {
		return domain.StockAdjustmentResponse{}, err
	}
	req.AdjustmentType = domain.AdjustmentType(strings.ToUpper(strings.TrimSpace(string(req.AdjustmentType))))
	if !req.AdjustmentType.Manual() {
		return domain.StockAdjustmentResponse{}, fmt.Errorf("%w: adjustment type %q cannot be recorded manually", store.ErrValidation, req.AdjustmentType)
	}

	start := time.Now()
	var entry domain.StockHistory
	err = s.withRetry(ctx, "adjust_stock", func() error {
		var err error
		entry, err = s.ledger.Adjust(ctx, s.repo, ledger.Adjustment{
			ProductID:     productID,
			Delta:         req.Adjustment,
			Type:          req.AdjustmentType,
			Reason:        req.Reason,
			ReferenceType: domain.ReferenceAdjustment,
			Actor:         actor,
		})
		return err
	})
	metrics.ObserveOperation("adjust_stock", start, err)
	if err != nil {
		return domain.StockAdjustmentResponse{}, err
	}

	metrics.StockAdjustments.WithLabelValues(string(entry.AdjustmentType)).Inc()
	s.analytics.Invalidate(ctx)
	s.logAudit(actor, "stock_adjust", "product", entry.ProductID,
		zap.String("type", string(entry.AdjustmentType)),
		zap.Int("previous", entry.PreviousStock),
		zap.Int("new", entry.NewStock),
		zap.String("history_id", entry.ID),
	)

	return domain.StockAdjustmentResponse{
		ProductID:      entry.ProductID,
		PreviousStock:  entry.PreviousStock,
		NewStock:       entry.NewStock,
		Adjustment:     entry.Adjustment,
		AdjustmentType: entry.AdjustmentType,
		Reason:         entry.Reason,
		HistoryEntryID: entry.ID,
		UpdatedBy:      entry.UpdatedByName,
		UpdatedAt:      entry.CreatedAt,
	}, nil
}

func (s *Service) StockHistory(ctx context.Context, filter domain.StockHistoryFilter) (domain.Page[domain.StockHistory], error) {
	id, err := parseID(filter.ProductID, "product")
	if err != nil {
		return domain.Page[domain.StockHistory]{}, err
	}
	filter.ProductID = id
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return domain.Page[domain.StockHistory]{}, fmt.Errorf("%w: from is after to", store.ErrValidation)
	}
	filter.Page, filter.Size = store.NormalizePage(filter.Page, filter.Size)

	entries, total, err := s.repo.ListStockHistory(ctx, filter)
	if err != nil {
		return domain.Page[domain.StockHistory]{}, err
	}
	return domain.Page[domain.StockHistory]{Items: entries, Page: filter.Page, Size: filter.Size, Total: total}, nil
}

// StockHistorySummary aggregates ledger entries in the inclusive date range,
// optionally restricted to one adjustment type.
func (s *Service) StockHistorySummary(ctx context.Context, r domain.DateRange, adjustmentType domain.AdjustmentType) (domain.StockHistorySummary, error) {
	if r.From.After(r.To) {
		return domain.StockHistorySummary{}, fmt.Errorf("%w: from is after to", store.ErrValidation)
	}
	adjustmentType = domain.AdjustmentType(strings.ToUpper(strings.TrimSpace(string(adjustmentType))))
	if adjustmentType != "" && !adjustmentType.Valid() {
		return domain.StockHistorySummary{}, fmt.Errorf("%w: unknown adjustment type %q", store.ErrValidation, adjustmentType)
	}

	from, to := s.analytics.Bounds(r)
	entries, err := s.repo.StockHistoryBetween(ctx, from, to, adjustmentType)
	if err != nil {
		return domain.StockHistorySummary{}, err
	}
	return analytics.StockSummary(entries, topAdjustedProducts), nil
}

// InventoryStats values current stock. A negative threshold selects the
// configured default.
func (s *Service) InventoryStats(ctx context.Context, lowStockThreshold int) (domain.InventoryStats, error) {
	if lowStockThreshold < 0 {
		lowStockThreshold = s.lowStock
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.InventoryStats{}, err
	}
	return analytics.Inventory(products, lowStockThreshold), nil
}
