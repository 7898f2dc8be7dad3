package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("ROLLYSHOP_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set ROLLYSHOP_TEST_DATABASE_URL to run postgres integration test")
	}
	if err := Migrate(databaseURL, true, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSaleAndRefundRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{
		Name:          "Integration Tea",
		CostPrice:     decimal.RequireFromString("1.50"),
		Price:         decimal.RequireFromString("3.00"),
		StockQuantity: 10,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	saleID := uuid.NewString()
	refundID := uuid.NewString()
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM refunds WHERE id = $1`, refundID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_history WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	at := time.Now().UTC().Truncate(time.Microsecond)
	err = s.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockProduct(ctx, product.ID)
		if err != nil {
			return err
		}
		if err := tx.SetProductStock(ctx, product.ID, locked.StockQuantity-2, at); err != nil {
			return err
		}
		if err := tx.AppendStockHistory(ctx, domain.StockHistory{
			ID: uuid.NewString(), ProductID: product.ID, ProductName: product.Name,
			PreviousStock: locked.StockQuantity, NewStock: locked.StockQuantity - 2, Adjustment: -2,
			AdjustmentType: domain.AdjustmentSale, ReferenceID: saleID, ReferenceType: domain.ReferenceSale,
			UpdatedBy: "it", UpdatedByName: "it", CreatedAt: at,
		}); err != nil {
			return err
		}
		return tx.InsertSale(ctx, domain.Sale{
			ID: saleID, TotalAmount: decimal.RequireFromString("6.00"), TotalCost: decimal.RequireFromString("3.00"),
			Profit: decimal.RequireFromString("3.00"), PaymentMethod: domain.PaymentCash, SoldBy: "it", CreatedAt: at,
			Items: []domain.SaleItem{{
				ID: uuid.NewString(), SaleID: saleID, ProductID: product.ID, ProductName: product.Name, Quantity: 2,
				UnitPrice: decimal.RequireFromString("3.00"), UnitCost: decimal.RequireFromString("1.50"),
				Subtotal: decimal.RequireFromString("6.00"), Profit: decimal.RequireFromString("3.00"),
			}},
		})
	})
	if err != nil {
		t.Fatalf("sale tx: %v", err)
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockSale(ctx, saleID); err != nil {
			return err
		}
		return tx.InsertRefund(ctx, domain.Refund{
			ID: refundID, SaleID: saleID, RefundAmount: decimal.RequireFromString("3.00"),
			RefundMethod: domain.RefundCash, ProcessedBy: "it", CreatedAt: at,
			Items: []domain.RefundItem{{
				ID: uuid.NewString(), RefundID: refundID, ProductID: product.ID, ProductName: product.Name,
				Quantity: 1, UnitPrice: decimal.RequireFromString("3.00"), Subtotal: decimal.RequireFromString("3.00"),
			}},
		})
	})
	if err != nil {
		t.Fatalf("refund tx: %v", err)
	}

	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if !sale.Refunded || len(sale.Items) != 1 || !sale.TotalAmount.Equal(decimal.RequireFromString("6.00")) {
		t.Fatalf("unexpected sale: %+v", sale)
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		refunded, err := tx.RefundedQuantities(ctx, saleID)
		if err != nil {
			return err
		}
		if refunded[product.ID] != 1 {
			t.Fatalf("expected 1 refunded unit, got %d", refunded[product.ID])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("refunded quantities: %v", err)
	}

	stored, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if stored.StockQuantity != 8 {
		t.Fatalf("expected stock 8, got %d", stored.StockQuantity)
	}
}

func TestNegativeStockMapsToInsufficientStock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{
		Name:      "Integration Guard",
		CostPrice: decimal.NewFromInt(1),
		Price:     decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	err = s.InTx(ctx, func(tx store.Tx) error {
		_, err := s.db.ExecContext(ctx, `UPDATE products SET stock_quantity = -1 WHERE id = $1`, product.ID)
		return err
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestMigrateURLRewritesScheme(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db":   "pgx5://u:p@localhost:5432/db",
		"postgresql://u:p@localhost:5432/db": "pgx5://u:p@localhost:5432/db",
		"pgx5://already":                     "pgx5://already",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Fatalf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapErrorStockConstraints(t *testing.T) {
	shortage := mapError(&pgconn.PgError{Code: "23514", ConstraintName: "products_stock_quantity_check"})
	if !errors.Is(shortage, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", shortage)
	}

	history := mapError(&pgconn.PgError{Code: "23514", ConstraintName: "stock_history_check"})
	if errors.Is(history, store.ErrInsufficientStock) || !errors.Is(history, store.ErrValidation) {
		t.Fatalf("expected history check to be a validation error, got %v", history)
	}

	for _, code := range []string{"40001", "40P01", "55P03"} {
		if err := mapError(&pgconn.PgError{Code: code}); !errors.Is(err, store.ErrConcurrencyConflict) {
			t.Fatalf("code %s: expected concurrency conflict, got %v", code, err)
		}
	}
}

func TestEscapeLikeTreatsWildcardsLiterally(t *testing.T) {
	cases := map[string]string{
		"Budi":    "Budi",
		"50%":     `50\%`,
		"a_b":     `a\_b`,
		`c:\shop`: `c:\\shop`,
		`%_\`:     `\%\_\\`,
	}
	for in, want := range cases {
		if got := escapeLike(in); got != want {
			t.Fatalf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCustomerFilterMatchesLiterally(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	marker := uuid.NewString()[:8]
	names := []string{"Promo 50% " + marker, "Promo 500 " + marker}
	ids := make([]string, 0, len(names))
	t.Cleanup(func() {
		for _, id := range ids {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
		}
	})

	for _, name := range names {
		sale := domain.Sale{
			ID: uuid.NewString(), CustomerName: name, TotalAmount: decimal.NewFromInt(1),
			TotalCost: decimal.Zero, Profit: decimal.NewFromInt(1), PaymentMethod: domain.PaymentCash,
			SoldBy: "it", CreatedAt: time.Now().UTC(),
		}
		if err := s.InTx(ctx, func(tx store.Tx) error { return tx.InsertSale(ctx, sale) }); err != nil {
			t.Fatalf("insert sale: %v", err)
		}
		ids = append(ids, sale.ID)
	}

	sales, total, err := s.ListSales(ctx, domain.SaleFilter{CustomerName: "50% " + marker})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if total != 1 || len(sales) != 1 || sales[0].CustomerName != names[0] {
		t.Fatalf("expected only %q, got %d sales", names[0], total)
	}
}
