package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateRange is an inclusive range of calendar dates. From and To carry only
// the date part; the report timezone decides where a day starts.
type DateRange struct {
	From time.Time
	To   time.Time
}

type Page[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
}

type SaleSort string

const (
	SaleSortDate   SaleSort = "date"
	SaleSortAmount SaleSort = "amount"
	SaleSortProfit SaleSort = "profit"
)

type SaleFilter struct {
	From          *time.Time
	To            *time.Time
	PaymentMethod PaymentMethod
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	CustomerName  string
	ProductID     string
	SortBy        SaleSort
	Ascending     bool
	Page          int
	Size          int
}

type StockHistoryFilter struct {
	ProductID string
	From      *time.Time
	To        *time.Time
	Page      int
	Size      int
}

type SalesSummary struct {
	TotalSales   int64           `json:"total_sales"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
	ProfitMargin float64         `json:"profit_margin"`
	PeriodStart  *time.Time      `json:"period_start,omitempty"`
	PeriodEnd    *time.Time      `json:"period_end,omitempty"`
}

type TopSellingProduct struct {
	ProductID         string `json:"product_id"`
	ProductName       string `json:"product_name"`
	TotalQuantitySold int64  `json:"total_quantity_sold"`
}

type ProductSalesStats struct {
	ProductID         string          `json:"product_id"`
	ProductName       string          `json:"product_name"`
	TotalQuantitySold int64           `json:"total_quantity_sold"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	TotalProfit       decimal.Decimal `json:"total_profit"`
	CurrentStock      int             `json:"current_stock"`
}

type SalesByPeriod struct {
	Date    string          `json:"date"`
	Sales   int64           `json:"sales"`
	Revenue decimal.Decimal `json:"revenue"`
	Profit  decimal.Decimal `json:"profit"`
}

type PaymentMethodSales struct {
	Count   int64           `json:"count"`
	Revenue decimal.Decimal `json:"revenue"`
}

type SalesByHour struct {
	Hour    int             `json:"hour"`
	Sales   int64           `json:"sales"`
	Revenue decimal.Decimal `json:"revenue"`
}

type TopCustomer struct {
	Name       string          `json:"name"`
	Phone      string          `json:"phone,omitempty"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	OrderCount int64           `json:"order_count"`
}

type ProfitMarginTrend struct {
	Date   string  `json:"date"`
	Margin float64 `json:"margin"`
}

type SalesAnalytics struct {
	TotalSales           int64                                `json:"total_sales"`
	TotalRevenue         decimal.Decimal                      `json:"total_revenue"`
	TotalProfit          decimal.Decimal                      `json:"total_profit"`
	AvgOrderValue        decimal.Decimal                      `json:"avg_order_value"`
	SalesByDay           []SalesByPeriod                      `json:"sales_by_day"`
	SalesByPaymentMethod map[PaymentMethod]PaymentMethodSales `json:"sales_by_payment_method"`
	SalesByHour          []SalesByHour                        `json:"sales_by_hour"`
	TopCustomers         []TopCustomer                        `json:"top_customers"`
	ProfitMarginTrend    []ProfitMarginTrend                  `json:"profit_margin_trend"`
}

type TopProductAdjustment struct {
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	TotalAdjustments int64  `json:"total_adjustments"`
	NetChange        int    `json:"net_change"`
}

type StockHistorySummary struct {
	TotalAdjustments int64                  `json:"total_adjustments"`
	ByType           map[string]int64       `json:"by_type"`
	TopProducts      []TopProductAdjustment `json:"top_products"`
}

type InventoryStats struct {
	TotalProducts        int64           `json:"total_products"`
	TotalValue           decimal.Decimal `json:"total_value"`
	TotalPotentialProfit decimal.Decimal `json:"total_potential_profit"`
	LowStockCount        int64           `json:"low_stock_count"`
	LowStockThreshold    int             `json:"low_stock_threshold"`
}
