package service

import (
	"context"
	"fmt"
	"sort"
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

// CreateSale records a sale and decrements stock for every line in one unit
// of work. Either the sale, its items, the stock changes and the SALE ledger
// entries are all committed, or none of them are.
func (s *Service) CreateSale(ctx context.Context, actor domain.Actor, req domain.SaleRequest) (domain.Sale, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleCashier); err != nil {
		return domain.Sale{}, err
	}
	req, err := normalizeSaleRequest(req)
	if err != nil {
		return domain.Sale{}, err
	}

	start := time.Now()
	var sale domain.Sale
	err = s.withRetry(ctx, "create_sale", func() error {
		var err error
		sale, err = s.createSaleOnce(ctx, actor, req)
		return err
	})
	metrics.ObserveOperation("create_sale", start, err)
	if err != nil {
		return domain.Sale{}, err
	}

	metrics.SalesCreated.Inc()
	metrics.StockAdjustments.WithLabelValues(string(domain.AdjustmentSale)).Add(float64(len(sale.Items)))
	s.analytics.Invalidate(ctx)
	s.logAudit(actor, "sale_create", "sale", sale.ID,
		zap.String("total", sale.TotalAmount.String()),
		zap.String("profit", sale.Profit.String()),
		zap.String("discount", sale.DiscountAmount.String()),
		zap.String("payment", string(sale.PaymentMethod)),
		zap.Int("lines", len(sale.Items)),
	)
	return sale, nil
}

func normalizeSaleRequest(req domain.SaleRequest) (domain.SaleRequest, error) {
	if len(req.Items) == 0 {
		return req, fmt.Errorf("%w: sale must contain at least one item", store.ErrValidation)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	req.PaymentMethod = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(req.PaymentMethod))))
	if !req.PaymentMethod.Valid() {
		return req, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	if req.DiscountAmount.IsNegative() {
		return req, fmt.Errorf("%w: discount must not be negative", store.ErrValidation)
	}
	req.DiscountAmount = req.DiscountAmount.Round(2)

	items := make([]domain.SaleItemRequest, 0, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity < 1 {
			return req, fmt.Errorf("%w: line %d quantity must be at least 1", store.ErrValidation, i+1)
		}
		if strings.TrimSpace(item.ProductID) == "" {
			return req, fmt.Errorf("%w: line %d product id required", store.ErrValidation, i+1)
		}
		id, err := parseID(item.ProductID, "product")
		if err != nil {
			return req, err
		}
		items = append(items, domain.SaleItemRequest{ProductID: id, Quantity: item.Quantity})
	}
	req.Items = items
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.Notes = strings.TrimSpace(req.Notes)
	return req, nil
}

func (s *Service) createSaleOnce(ctx context.Context, actor domain.Actor, req domain.SaleRequest) (domain.Sale, error) {
	sale := domain.Sale{
		ID:             uuid.NewString(),
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		DiscountAmount: req.DiscountAmount,
		PaymentMethod:  req.PaymentMethod,
		SoldBy:         actor.Username,
		Notes:          req.Notes,
		CreatedAt:      s.now(),
	}

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		ids := make([]string, 0, len(req.Items))
		seen := make(map[string]bool, len(req.Items))
		for _, item := range req.Items {
			if !seen[item.ProductID] {
				seen[item.ProductID] = true
				ids = append(ids, item.ProductID)
			}
		}
		// Ascending lock order keeps concurrent multi-line sales from
		// deadlocking on each other.
		sort.Strings(ids)

		products := make(map[string]domain.Product, len(ids))
		for _, id := range ids {
			product, err := tx.LockProduct(ctx, id)
			if err != nil {
				return err
			}
			products[id] = *product
		}

		subtotal := decimal.Zero
		totalCost := decimal.Zero
		items := make([]domain.SaleItem, 0, len(req.Items))
		for _, line := range req.Items {
			product := products[line.ProductID]
			qty := decimal.NewFromInt(int64(line.Quantity))
			unitPrice := product.DiscountedPrice()
			unitCost := product.CostPrice
			item := domain.SaleItem{
				ID:          uuid.NewString(),
				SaleID:      sale.ID,
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				UnitPrice:   unitPrice,
				UnitCost:    unitCost,
				Subtotal:    unitPrice.Mul(qty),
				Profit:      unitPrice.Sub(unitCost).Mul(qty),
			}
			subtotal = subtotal.Add(item.Subtotal)
			totalCost = totalCost.Add(unitCost.Mul(qty))
			items = append(items, item)
		}
		if req.DiscountAmount.GreaterThan(subtotal) {
			return fmt.Errorf("%w: discount %s exceeds subtotal %s", store.ErrValidation, req.DiscountAmount, subtotal)
		}

		for _, item := range items {
			if _, err := s.ledger.Apply(ctx, tx, ledger.Adjustment{
				ProductID:     item.ProductID,
				Delta:         -item.Quantity,
				Type:          domain.AdjustmentSale,
				Reason:        "Sale",
				ReferenceID:   sale.ID,
				ReferenceType: domain.ReferenceSale,
				Actor:         actor,
			}); err != nil {
				return err
			}
		}

		sale.Items = items
		sale.TotalAmount = subtotal.Sub(req.DiscountAmount)
		sale.TotalCost = totalCost
		sale.Profit = sale.TotalAmount.Sub(totalCost)
		return tx.InsertSale(ctx, sale)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id, err := parseID(id, "sale")
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) (domain.Page[domain.Sale], error) {
	if filter.PaymentMethod != "" {
		filter.PaymentMethod = domain.PaymentMethod(strings.ToUpper(string(filter.PaymentMethod)))
		if !filter.PaymentMethod.Valid() {
			return domain.Page[domain.Sale]{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, filter.PaymentMethod)
		}
	}
	switch filter.SortBy {
	case "", domain.SaleSortDate, domain.SaleSortAmount, domain.SaleSortProfit:
	default:
		return domain.Page[domain.Sale]{}, fmt.Errorf("%w: unsupported sort %q", store.ErrValidation, filter.SortBy)
	}
	if filter.MinAmount != nil && filter.MaxAmount != nil && filter.MinAmount.GreaterThan(*filter.MaxAmount) {
		return domain.Page[domain.Sale]{}, fmt.Errorf("%w: min amount exceeds max amount", store.ErrValidation)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return domain.Page[domain.Sale]{}, fmt.Errorf("%w: from is after to", store.ErrValidation)
	}
	if filter.ProductID != "" {
		id, err := parseID(filter.ProductID, "product")
		if err != nil {
			return domain.Page[domain.Sale]{}, err
		}
		filter.ProductID = id
	}
	filter.CustomerName = strings.TrimSpace(filter.CustomerName)
	filter.Page, filter.Size = store.NormalizePage(filter.Page, filter.Size)

	sales, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.Page[domain.Sale]{}, err
	}
	return domain.Page[domain.Sale]{Items: sales, Page: filter.Page, Size: filter.Size, Total: total}, nil
}

// TodaySales lists sales made since midnight in the report timezone.
func (s *Service) TodaySales(ctx context.Context, page int, size int) (domain.Page[domain.Sale], error) {
	from, to := s.analytics.Bounds(s.analytics.Today(s.now()))
	return s.ListSales(ctx, domain.SaleFilter{From: &from, To: &to, Page: page, Size: size})
}
