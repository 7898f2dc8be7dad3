package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rollyshop/backend/internal/analytics"
	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/store"
)

const (
	defaultTopSellingLimit = 10
	maxTopSellingLimit     = 100
)

func validateRange(r *domain.DateRange) error {
	if r != nil && r.From.After(r.To) {
		return fmt.Errorf("%w: from is after to", store.ErrValidation)
	}
	return nil
}

// Bounds converts an inclusive date range in the report timezone to the
// half-open UTC interval used by queries.
func (s *Service) Bounds(r domain.DateRange) (time.Time, time.Time) {
	return s.analytics.Bounds(r)
}

func (s *Service) Location() *time.Location {
	return s.analytics.Location()
}

func (s *Service) salesIn(ctx context.Context, r *domain.DateRange) ([]domain.Sale, *time.Time, *time.Time, error) {
	if r == nil {
		sales, err := s.repo.SalesBetween(ctx, nil, nil)
		return sales, nil, nil, err
	}
	from, to := s.analytics.Bounds(*r)
	sales, err := s.repo.SalesBetween(ctx, &from, &to)
	return sales, &from, &to, err
}

// SalesSummary totals committed sales in the inclusive date range, or over
// all time when r is nil.
func (s *Service) SalesSummary(ctx context.Context, r *domain.DateRange) (domain.SalesSummary, error) {
	if err := validateRange(r); err != nil {
		return domain.SalesSummary{}, err
	}
	return analytics.Cached(ctx, s.analytics, "summary:"+analytics.RangeKey(r), func(ctx context.Context) (domain.SalesSummary, error) {
		sales, from, to, err := s.salesIn(ctx, r)
		if err != nil {
			return domain.SalesSummary{}, err
		}
		return analytics.Summarize(sales, from, to), nil
	})
}

func (s *Service) TodaySummary(ctx context.Context) (domain.SalesSummary, error) {
	today := s.analytics.Today(s.now())
	return s.SalesSummary(ctx, &today)
}

func (s *Service) ProductSalesStats(ctx context.Context, productID string) (domain.ProductSalesStats, error) {
	productID, err := parseID(productID, "product")
	if err != nil {
		return domain.ProductSalesStats{}, err
	}
	return analytics.Cached(ctx, s.analytics, "product-stats:"+productID, func(ctx context.Context) (domain.ProductSalesStats, error) {
		product, err := s.repo.GetProduct(ctx, productID)
		if err != nil {
			return domain.ProductSalesStats{}, err
		}
		sales, err := s.repo.SalesBetween(ctx, nil, nil)
		if err != nil {
			return domain.ProductSalesStats{}, err
		}
		return analytics.ProductStats(*product, sales), nil
	})
}

func (s *Service) TopSellingProducts(ctx context.Context, limit int, r *domain.DateRange) ([]domain.TopSellingProduct, error) {
	if err := validateRange(r); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultTopSellingLimit
	}
	if limit > maxTopSellingLimit {
		limit = maxTopSellingLimit
	}
	key := "top-selling:" + strconv.Itoa(limit) + ":" + analytics.RangeKey(r)
	return analytics.Cached(ctx, s.analytics, key, func(ctx context.Context) ([]domain.TopSellingProduct, error) {
		sales, _, _, err := s.salesIn(ctx, r)
		if err != nil {
			return nil, err
		}
		return analytics.TopSelling(sales, limit), nil
	})
}

func (s *Service) SalesAnalytics(ctx context.Context, r domain.DateRange, groupBy string) (domain.SalesAnalytics, error) {
	if err := validateRange(&r); err != nil {
		return domain.SalesAnalytics{}, err
	}
	groupBy = strings.ToLower(strings.TrimSpace(groupBy))
	switch groupBy {
	case "":
		groupBy = analytics.GroupByDay
	case analytics.GroupByDay, analytics.GroupByWeek, analytics.GroupByMonth:
	default:
		return domain.SalesAnalytics{}, fmt.Errorf("%w: unsupported group by %q", store.ErrValidation, groupBy)
	}

	key := "dashboard:" + groupBy + ":" + analytics.RangeKey(&r)
	return analytics.Cached(ctx, s.analytics, key, func(ctx context.Context) (domain.SalesAnalytics, error) {
		sales, _, _, err := s.salesIn(ctx, &r)
		if err != nil {
			return domain.SalesAnalytics{}, err
		}
		return analytics.Dashboard(sales, s.analytics.Location(), groupBy), nil
	})
}
