package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/ledger"
	"rollyshop/backend/internal/metrics"
	"rollyshop/backend/internal/store"
)

// CreateRefund returns goods from a committed sale. Refunded quantities are
// bounded per product by what the sale sold, counting earlier refunds and
// earlier lines of the same request. The sale itself is never modified.
func (s *Service) CreateRefund(ctx context.Context, actor domain.Actor, saleID string, req domain.RefundRequest) (domain.Refund, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleCashier); err != nil {
		return domain.Refund{}, err
	}
	saleID, err := parseID(saleID, "sale")
	if err != nil {
		return domain.Refund{}, err
	}
	req, err = normalizeRefundRequest(req)
	if err != nil {
		return domain.Refund{}, err
	}

	start := time.Now()
	var refund domain.Refund
	err = s.withRetry(ctx, "create_refund", func() error {
		var err error
		refund, err = s.createRefundOnce(ctx, actor, saleID, req)
		return err
	})
	metrics.ObserveOperation("create_refund", start, err)
	if err != nil {
		return domain.Refund{}, err
	}

	metrics.RefundsCreated.Inc()
	metrics.StockAdjustments.WithLabelValues(string(domain.AdjustmentReturn)).Add(float64(len(refund.Items)))
	s.analytics.Invalidate(ctx)
	s.logAudit(actor, "refund_create", "refund", refund.ID,
		zap.String("sale_id", refund.SaleID),
		zap.String("amount", refund.RefundAmount.String()),
		zap.String("method", string(refund.RefundMethod)),
		zap.Int("lines", len(refund.Items)),
	)
	return refund, nil
}

func normalizeRefundRequest(req domain.RefundRequest) (domain.RefundRequest, error) {
	if len(req.Items) == 0 {
		return req, fmt.Errorf("%w: refund must contain at least one item", store.ErrValidation)
	}
	if req.RefundMethod == "" {
		req.RefundMethod = domain.RefundCash
	}
	req.RefundMethod = domain.RefundMethod(strings.ToUpper(strings.TrimSpace(string(req.RefundMethod))))
	if !req.RefundMethod.Valid() {
		return req, fmt.Errorf("%w: unsupported refund method %q", store.ErrValidation, req.RefundMethod)
	}

	items := make([]domain.RefundItemRequest, 0, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity < 1 {
			return req, fmt.Errorf("%w: line %d quantity must be at least 1", store.ErrValidation, i+1)
		}
		if strings.TrimSpace(item.ProductID) == "" {
			return req, fmt.Errorf("%w: line %d product id required", store.ErrValidation, i+1)
		}
		id, err := uuid.Parse(strings.TrimSpace(item.ProductID))
		if err != nil {
			return req, fmt.Errorf("%w: %s", store.ErrProductNotInSale, item.ProductID)
		}
		items = append(items, domain.RefundItemRequest{
			ProductID: id.String(),
			Quantity:  item.Quantity,
			Reason:    strings.TrimSpace(item.Reason),
		})
	}
	req.Items = items
	req.Notes = strings.TrimSpace(req.Notes)
	return req, nil
}

func (s *Service) createRefundOnce(ctx context.Context, actor domain.Actor, saleID string, req domain.RefundRequest) (domain.Refund, error) {
	refund := domain.Refund{
		ID:           uuid.NewString(),
		SaleID:       saleID,
		RefundMethod: req.RefundMethod,
		ProcessedBy:  actor.Username,
		Notes:        req.Notes,
		CreatedAt:    s.now(),
	}

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}

		sold := make(map[string]int, len(sale.Items))
		soldLine := make(map[string]domain.SaleItem, len(sale.Items))
		for _, item := range sale.Items {
			sold[item.ProductID] += item.Quantity
			if _, ok := soldLine[item.ProductID]; !ok {
				soldLine[item.ProductID] = item
			}
		}

		refunded, err := tx.RefundedQuantities(ctx, saleID)
		if err != nil {
			return err
		}

		pending := make(map[string]int, len(req.Items))
		amount := decimal.Zero
		items := make([]domain.RefundItem, 0, len(req.Items))
		for _, line := range req.Items {
			soldQty, ok := sold[line.ProductID]
			if !ok {
				return fmt.Errorf("%w: %s", store.ErrProductNotInSale, line.ProductID)
			}
			already := refunded[line.ProductID] + pending[line.ProductID]
			if already+line.Quantity > soldQty {
				return fmt.Errorf("%w: %s sold %d, already refunded %d, requested %d",
					store.ErrRefundExceedsOriginal, soldLine[line.ProductID].ProductName, soldQty, already, line.Quantity)
			}
			pending[line.ProductID] += line.Quantity

			original := soldLine[line.ProductID]
			subtotal := original.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
			reason := line.Reason
			if reason == "" {
				reason = "Refund"
			}
			if _, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
				ProductID:     line.ProductID,
				Delta:         line.Quantity,
				Type:          domain.AdjustmentReturn,
				Reason:        reason,
				ReferenceID:   saleID,
				ReferenceType: domain.ReferenceSale,
				Actor:         actor,
			}); err != nil {
				return err
			}

			items = append(items, domain.RefundItem{
				ID:          uuid.NewString(),
				RefundID:    refund.ID,
				ProductID:   line.ProductID,
				ProductName: original.ProductName,
				Quantity:    line.Quantity,
				UnitPrice:   original.UnitPrice,
				Subtotal:    subtotal,
				Reason:      line.Reason,
			})
			amount = amount.Add(subtotal)
		}

		refund.Items = items
		refund.RefundAmount = amount
		return tx.InsertRefund(ctx, refund)
	})
	if err != nil {
		return domain.Refund{}, err
	}
	return refund, nil
}

func (s *Service) ListRefunds(ctx context.Context, page int, size int) (domain.Page[domain.Refund], error) {
	page, size = store.NormalizePage(page, size)
	refunds, total, err := s.repo.ListRefunds(ctx, page, size)
	if err != nil {
		return domain.Page[domain.Refund]{}, err
	}
	return domain.Page[domain.Refund]{Items: refunds, Page: page, Size: size, Total: total}, nil
}

func (s *Service) ListRefundsBySale(ctx context.Context, saleID string) ([]domain.Refund, error) {
	saleID, err := parseID(saleID, "sale")
	if err != nil {
		return nil, err
	}
	return s.repo.ListRefundsBySale(ctx, saleID)
}
