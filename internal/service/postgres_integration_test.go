package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"rollyshop/backend/internal/analytics"
	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/ledger"
	"rollyshop/backend/internal/store"
	pgstore "rollyshop/backend/internal/store/postgres"
)

func newPostgresTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	databaseURL := os.Getenv("ROLLYSHOP_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set ROLLYSHOP_TEST_DATABASE_URL to run postgres integration test")
	}
	if err := pgstore.Migrate(databaseURL, true, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo, err := pgstore.New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		t.Fatalf("open cleanup connection: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		_ = repo.Close()
	})

	svc := New(repo, ledger.New(), analytics.NewEngine(time.UTC, nil, time.Minute, nil), Options{
		MaxRetries:   10,
		RetryBackoff: 5 * time.Millisecond,
	})
	return svc, db
}

func TestPostgresConcurrentSalesOfLastUnit(t *testing.T) {
	svc, db := newPostgresTestService(t)
	ctx := context.Background()
	product := mustProduct(t, svc, "Row Lock Jacket", "50", "120", 0, 1)

	const buyers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		saleIDs []string
	)
	t.Cleanup(func() {
		for _, id := range saleIDs {
			_, _ = db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
		}
		_, _ = db.ExecContext(ctx, `DELETE FROM stock_history WHERE product_id = $1`, product.ID)
		_, _ = db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			sale, err := svc.CreateSale(ctx, cashier, domain.SaleRequest{
				Items: []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 1}},
			})
			if err == nil {
				mu.Lock()
				saleIDs = append(saleIDs, sale.ID)
				mu.Unlock()
				return
			}
			if errors.Is(err, store.ErrConcurrencyConflict) {
				t.Errorf("conflict survived retries: %v", err)
				return
			}
			if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(saleIDs) != 1 {
		t.Fatalf("expected exactly one sale, got %d", len(saleIDs))
	}
	if got := stockOf(t, svc, product.ID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
	history := historyOf(t, svc, product.ID)
	if len(history) != 1 || history[0].AdjustmentType != domain.AdjustmentSale || history[0].ReferenceID != saleIDs[0] {
		t.Fatalf("expected exactly one SALE history row for %s, got %+v", saleIDs[0], history)
	}
}
