package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rollyshop/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrRefundExceedsOriginal = errors.New("refund quantity exceeds original quantity")
	ErrConcurrencyConflict   = errors.New("concurrent update conflict")
	// ErrProductNotInSale also matches ErrNotFound.
	ErrProductNotInSale = fmt.Errorf("product not in original sale: %w", ErrNotFound)
)

// Repository is the persistence port used by the service layer. Writes that
// touch stock go through InTx so the ledger and the aggregate commit together.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// InTx runs fn in one unit of work. A non-nil error from fn rolls back
	// every write fn made.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)
	// SalesBetween returns sales with items created in [from, to). Nil bounds
	// are open.
	SalesBetween(ctx context.Context, from *time.Time, to *time.Time) ([]domain.Sale, error)
	ListRefunds(ctx context.Context, page int, size int) ([]domain.Refund, int, error)
	ListRefundsBySale(ctx context.Context, saleID string) ([]domain.Refund, error)

	ListStockHistory(ctx context.Context, filter domain.StockHistoryFilter) ([]domain.StockHistory, int, error)
	StockHistoryBetween(ctx context.Context, from time.Time, to time.Time, adjustmentType domain.AdjustmentType) ([]domain.StockHistory, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is the set of operations available inside a unit of work.
type Tx interface {
	// LockProduct reads the product and holds it against concurrent writers
	// until the unit of work ends.
	LockProduct(ctx context.Context, id string) (*domain.Product, error)
	SetProductStock(ctx context.Context, id string, stock int, at time.Time) error
	AppendStockHistory(ctx context.Context, entry domain.StockHistory) error

	InsertSale(ctx context.Context, sale domain.Sale) error
	LockSale(ctx context.Context, id string) (*domain.Sale, error)
	// RefundedQuantities sums refunded quantity per product for a sale.
	RefundedQuantities(ctx context.Context, saleID string) (map[string]int, error)
	InsertRefund(ctx context.Context, refund domain.Refund) error
}

func NormalizePage(page int, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size < 1 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	return page, size
}
