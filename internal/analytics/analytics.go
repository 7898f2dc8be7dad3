// Package analytics aggregates committed sales into summaries and dashboard
// views. The aggregation functions are pure; Engine adds report-timezone
// date handling and cache-aside reads.
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rollyshop/backend/internal/domain"
)

const (
	GroupByDay   = "day"
	GroupByWeek  = "week"
	GroupByMonth = "month"

	topCustomerLimit = 10
)

var hundred = decimal.NewFromInt(100)

// Margin returns profit/revenue as a percentage, with the ratio rounded to
// four places. Zero revenue yields zero.
func Margin(profit decimal.Decimal, revenue decimal.Decimal) float64 {
	if !revenue.IsPositive() {
		return 0
	}
	return profit.DivRound(revenue, 4).Mul(hundred).InexactFloat64()
}

// Summarize totals the given sales. start and end are echoed as the period.
func Summarize(sales []domain.Sale, start *time.Time, end *time.Time) domain.SalesSummary {
	summary := domain.SalesSummary{
		TotalRevenue: decimal.Zero,
		TotalProfit:  decimal.Zero,
		PeriodStart:  start,
		PeriodEnd:    end,
	}
	for _, sale := range sales {
		summary.TotalSales++
		summary.TotalRevenue = summary.TotalRevenue.Add(sale.TotalAmount)
		summary.TotalProfit = summary.TotalProfit.Add(sale.Profit)
	}
	summary.TotalCost = summary.TotalRevenue.Sub(summary.TotalProfit)
	summary.ProfitMargin = Margin(summary.TotalProfit, summary.TotalRevenue)
	return summary
}

// TopSelling ranks products by quantity sold, ties broken by name. A limit
// below one returns every product.
func TopSelling(sales []domain.Sale, limit int) []domain.TopSellingProduct {
	index := make(map[string]int)
	ranked := make([]domain.TopSellingProduct, 0, 16)
	for _, sale := range sales {
		for _, item := range sale.Items {
			i, ok := index[item.ProductID]
			if !ok {
				i = len(ranked)
				index[item.ProductID] = i
				ranked = append(ranked, domain.TopSellingProduct{ProductID: item.ProductID})
			}
			ranked[i].ProductName = item.ProductName
			ranked[i].TotalQuantitySold += int64(item.Quantity)
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].TotalQuantitySold != ranked[b].TotalQuantitySold {
			return ranked[a].TotalQuantitySold > ranked[b].TotalQuantitySold
		}
		if ranked[a].ProductName != ranked[b].ProductName {
			return ranked[a].ProductName < ranked[b].ProductName
		}
		return ranked[a].ProductID < ranked[b].ProductID
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func ProductStats(product domain.Product, sales []domain.Sale) domain.ProductSalesStats {
	stats := domain.ProductSalesStats{
		ProductID:    product.ID,
		ProductName:  product.Name,
		TotalRevenue: decimal.Zero,
		TotalProfit:  decimal.Zero,
		CurrentStock: product.StockQuantity,
	}
	for _, sale := range sales {
		for _, item := range sale.Items {
			if item.ProductID != product.ID {
				continue
			}
			stats.TotalQuantitySold += int64(item.Quantity)
			stats.TotalRevenue = stats.TotalRevenue.Add(item.Subtotal)
			stats.TotalProfit = stats.TotalProfit.Add(item.Profit)
		}
	}
	return stats
}

// PeriodKey formats t in loc according to groupBy. Unknown values group by
// day.
func PeriodKey(t time.Time, loc *time.Location, groupBy string) string {
	local := t.In(loc)
	switch strings.ToLower(groupBy) {
	case GroupByWeek:
		year, week := local.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case GroupByMonth:
		return local.Format("2006-01")
	default:
		return local.Format("2006-01-02")
	}
}

type customerKey struct {
	name  string
	phone string
}

// Dashboard builds the analytics view for sales already restricted to the
// requested range.
func Dashboard(sales []domain.Sale, loc *time.Location, groupBy string) domain.SalesAnalytics {
	view := domain.SalesAnalytics{
		TotalRevenue:         decimal.Zero,
		TotalProfit:          decimal.Zero,
		AvgOrderValue:        decimal.Zero,
		SalesByDay:           make([]domain.SalesByPeriod, 0, 31),
		SalesByPaymentMethod: make(map[domain.PaymentMethod]domain.PaymentMethodSales),
		SalesByHour:          make([]domain.SalesByHour, 0, 24),
		TopCustomers:         make([]domain.TopCustomer, 0, topCustomerLimit),
		ProfitMarginTrend:    make([]domain.ProfitMarginTrend, 0, 31),
	}

	periods := make(map[string]*domain.SalesByPeriod)
	hours := make(map[int]*domain.SalesByHour)
	customers := make(map[customerKey]*domain.TopCustomer)

	for _, sale := range sales {
		view.TotalSales++
		view.TotalRevenue = view.TotalRevenue.Add(sale.TotalAmount)
		view.TotalProfit = view.TotalProfit.Add(sale.Profit)

		key := PeriodKey(sale.CreatedAt, loc, groupBy)
		period, ok := periods[key]
		if !ok {
			period = &domain.SalesByPeriod{Date: key, Revenue: decimal.Zero, Profit: decimal.Zero}
			periods[key] = period
		}
		period.Sales++
		period.Revenue = period.Revenue.Add(sale.TotalAmount)
		period.Profit = period.Profit.Add(sale.Profit)

		method := view.SalesByPaymentMethod[sale.PaymentMethod]
		if method.Count == 0 {
			method.Revenue = decimal.Zero
		}
		method.Count++
		method.Revenue = method.Revenue.Add(sale.TotalAmount)
		view.SalesByPaymentMethod[sale.PaymentMethod] = method

		hour := sale.CreatedAt.In(loc).Hour()
		bucket, ok := hours[hour]
		if !ok {
			bucket = &domain.SalesByHour{Hour: hour, Revenue: decimal.Zero}
			hours[hour] = bucket
		}
		bucket.Sales++
		bucket.Revenue = bucket.Revenue.Add(sale.TotalAmount)

		name := strings.TrimSpace(sale.CustomerName)
		if name == "" {
			continue
		}
		ck := customerKey{name: name, phone: strings.TrimSpace(sale.CustomerPhone)}
		customer, ok := customers[ck]
		if !ok {
			customer = &domain.TopCustomer{Name: ck.name, Phone: ck.phone, TotalSpent: decimal.Zero}
			customers[ck] = customer
		}
		customer.OrderCount++
		customer.TotalSpent = customer.TotalSpent.Add(sale.TotalAmount)
	}

	if view.TotalSales > 0 {
		view.AvgOrderValue = view.TotalRevenue.DivRound(decimal.NewFromInt(view.TotalSales), 2)
	}

	for _, period := range periods {
		view.SalesByDay = append(view.SalesByDay, *period)
	}
	sort.Slice(view.SalesByDay, func(a, b int) bool { return view.SalesByDay[a].Date < view.SalesByDay[b].Date })
	for _, period := range view.SalesByDay {
		view.ProfitMarginTrend = append(view.ProfitMarginTrend, domain.ProfitMarginTrend{
			Date:   period.Date,
			Margin: Margin(period.Profit, period.Revenue),
		})
	}

	for _, bucket := range hours {
		view.SalesByHour = append(view.SalesByHour, *bucket)
	}
	sort.Slice(view.SalesByHour, func(a, b int) bool { return view.SalesByHour[a].Hour < view.SalesByHour[b].Hour })

	for _, customer := range customers {
		view.TopCustomers = append(view.TopCustomers, *customer)
	}
	sort.Slice(view.TopCustomers, func(a, b int) bool {
		x, y := view.TopCustomers[a], view.TopCustomers[b]
		if cmp := x.TotalSpent.Cmp(y.TotalSpent); cmp != 0 {
			return cmp > 0
		}
		if x.Name != y.Name {
			return x.Name < y.Name
		}
		return x.Phone < y.Phone
	})
	if len(view.TopCustomers) > topCustomerLimit {
		view.TopCustomers = view.TopCustomers[:topCustomerLimit]
	}

	return view
}

// StockSummary counts ledger entries by type and ranks products by the
// number of adjustments.
func StockSummary(entries []domain.StockHistory, limit int) domain.StockHistorySummary {
	summary := domain.StockHistorySummary{
		ByType:      make(map[string]int64),
		TopProducts: make([]domain.TopProductAdjustment, 0, limit),
	}
	index := make(map[string]int)
	products := make([]domain.TopProductAdjustment, 0, 16)
	for _, entry := range entries {
		summary.TotalAdjustments++
		summary.ByType[string(entry.AdjustmentType)]++

		i, ok := index[entry.ProductID]
		if !ok {
			i = len(products)
			index[entry.ProductID] = i
			products = append(products, domain.TopProductAdjustment{ProductID: entry.ProductID})
		}
		products[i].ProductName = entry.ProductName
		products[i].TotalAdjustments++
		products[i].NetChange += entry.Adjustment
	}

	sort.SliceStable(products, func(a, b int) bool {
		if products[a].TotalAdjustments != products[b].TotalAdjustments {
			return products[a].TotalAdjustments > products[b].TotalAdjustments
		}
		return products[a].ProductName < products[b].ProductName
	})
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	summary.TopProducts = append(summary.TopProducts, products...)
	return summary
}

// Inventory values current stock at cost and at discounted price.
func Inventory(products []domain.Product, lowStockThreshold int) domain.InventoryStats {
	stats := domain.InventoryStats{
		TotalValue:           decimal.Zero,
		TotalPotentialProfit: decimal.Zero,
		LowStockThreshold:    lowStockThreshold,
	}
	for _, p := range products {
		stats.TotalProducts++
		qty := decimal.NewFromInt(int64(p.StockQuantity))
		stats.TotalValue = stats.TotalValue.Add(p.CostPrice.Mul(qty))
		stats.TotalPotentialProfit = stats.TotalPotentialProfit.Add(p.ProfitPerUnit().Mul(qty))
		if p.StockQuantity <= lowStockThreshold {
			stats.LowStockCount++
		}
	}
	return stats
}
