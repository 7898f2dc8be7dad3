package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentCOD          PaymentMethod = "COD"
	PaymentCard         PaymentMethod = "CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentEWallet      PaymentMethod = "E_WALLET"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCOD, PaymentCard, PaymentBankTransfer, PaymentEWallet:
		return true
	}
	return false
}

type RefundMethod string

const (
	RefundCash        RefundMethod = "CASH"
	RefundCard        RefundMethod = "CARD"
	RefundStoreCredit RefundMethod = "STORE_CREDIT"
)

func (m RefundMethod) Valid() bool {
	switch m {
	case RefundCash, RefundCard, RefundStoreCredit:
		return true
	}
	return false
}

type AdjustmentType string

const (
	AdjustmentSale       AdjustmentType = "SALE"
	AdjustmentRestock    AdjustmentType = "RESTOCK"
	AdjustmentDamage     AdjustmentType = "DAMAGE"
	AdjustmentManual     AdjustmentType = "MANUAL"
	AdjustmentReturn     AdjustmentType = "RETURN"
	AdjustmentCorrection AdjustmentType = "CORRECTION"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentSale, AdjustmentRestock, AdjustmentDamage, AdjustmentManual, AdjustmentReturn, AdjustmentCorrection:
		return true
	}
	return false
}

// Manual reports whether staff may record this type directly. SALE and
// RETURN entries are only written by the sale and refund engines.
func (t AdjustmentType) Manual() bool {
	switch t {
	case AdjustmentRestock, AdjustmentDamage, AdjustmentManual, AdjustmentCorrection:
		return true
	}
	return false
}

type ReferenceType string

const (
	ReferenceSale          ReferenceType = "SALE"
	ReferencePurchaseOrder ReferenceType = "PURCHASE_ORDER"
	ReferenceAdjustment    ReferenceType = "ADJUSTMENT"
)

// Actor is the authenticated staff member performing an operation.
type Actor struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role"`
}

func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Username
}

var hundred = decimal.NewFromInt(100)

type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Barcode         string          `json:"barcode,omitempty"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent int             `json:"discount_percent"`
	StockQuantity   int             `json:"stock_quantity"`
	ParentProductID string          `json:"parent_product_id,omitempty"`
	IsVariant       bool            `json:"is_variant"`
	VariantCode     string          `json:"variant_code,omitempty"`
	VariantColor    string          `json:"variant_color,omitempty"`
	VariantSize     string          `json:"variant_size,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DiscountedPrice is the unit price actually charged, rounded to cents.
func (p Product) DiscountedPrice() decimal.Decimal {
	if p.DiscountPercent <= 0 {
		return p.Price
	}
	discount := p.Price.Mul(decimal.NewFromInt(int64(p.DiscountPercent))).Div(hundred)
	return p.Price.Sub(discount).Round(2)
}

func (p Product) ProfitPerUnit() decimal.Decimal {
	return p.DiscountedPrice().Sub(p.CostPrice)
}

type ProductCreateRequest struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Barcode         string          `json:"barcode"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent int             `json:"discount_percent"`
	InitialStock    int             `json:"initial_stock"`
	ParentProductID string          `json:"parent_product_id"`
	VariantCode     string          `json:"variant_code"`
	VariantColor    string          `json:"variant_color"`
	VariantSize     string          `json:"variant_size"`
}

type Sale struct {
	ID             string          `json:"id"`
	CustomerName   string          `json:"customer_name,omitempty"`
	CustomerPhone  string          `json:"customer_phone,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	Profit         decimal.Decimal `json:"profit"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	SoldBy         string          `json:"sold_by"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []SaleItem      `json:"items"`
	// Refunded is derived on read from the existence of refunds.
	Refunded bool `json:"refunded"`
}

// Subtotal is the sale amount before the sale-level discount.
func (s Sale) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range s.Items {
		sum = sum.Add(item.Subtotal)
	}
	return sum
}

type SaleItem struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Profit      decimal.Decimal `json:"profit"`
}

type SaleRequest struct {
	CustomerName   string            `json:"customer_name"`
	CustomerPhone  string            `json:"customer_phone"`
	Items          []SaleItemRequest `json:"items"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	PaymentMethod  PaymentMethod     `json:"payment_method"`
	Notes          string            `json:"notes"`
}

type SaleItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Refund struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	RefundMethod RefundMethod    `json:"refund_method"`
	ProcessedBy  string          `json:"processed_by"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Items        []RefundItem    `json:"items"`
}

type RefundItem struct {
	ID          string          `json:"id"`
	RefundID    string          `json:"refund_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Reason      string          `json:"reason,omitempty"`
}

type RefundRequest struct {
	Items        []RefundItemRequest `json:"items"`
	RefundMethod RefundMethod        `json:"refund_method"`
	Notes        string              `json:"notes"`
}

type RefundItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type StockHistory struct {
	ID             string         `json:"id"`
	ProductID      string         `json:"product_id"`
	ProductName    string         `json:"product_name"`
	PreviousStock  int            `json:"previous_stock"`
	NewStock       int            `json:"new_stock"`
	Adjustment     int            `json:"adjustment"`
	AdjustmentType AdjustmentType `json:"adjustment_type"`
	Reason         string         `json:"reason,omitempty"`
	ReferenceID    string         `json:"reference_id,omitempty"`
	ReferenceType  ReferenceType  `json:"reference_type,omitempty"`
	UpdatedBy      string         `json:"updated_by"`
	UpdatedByName  string         `json:"updated_by_name"`
	CreatedAt      time.Time      `json:"created_at"`
}

type StockAdjustmentRequest struct {
	Adjustment     int            `json:"adjustment"`
	AdjustmentType AdjustmentType `json:"adjustment_type"`
	Reason         string         `json:"reason"`
}

type StockAdjustmentResponse struct {
	ProductID      string         `json:"product_id"`
	PreviousStock  int            `json:"previous_stock"`
	NewStock       int            `json:"new_stock"`
	Adjustment     int            `json:"adjustment"`
	AdjustmentType AdjustmentType `json:"adjustment_type"`
	Reason         string         `json:"reason,omitempty"`
	HistoryEntryID string         `json:"history_entry_id"`
	UpdatedBy      string         `json:"updated_by"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	FullName  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name,omitempty"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
