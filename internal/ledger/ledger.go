// Package ledger owns every change to a product's stock quantity. Each change
// is written together with an append-only stock_history row inside the
// caller's unit of work, so the history always replays to the current stock.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/store"
)

type Adjustment struct {
	ProductID     string
	Delta         int
	Type          domain.AdjustmentType
	Reason        string
	ReferenceID   string
	ReferenceType domain.ReferenceType
	Actor         domain.Actor
}

type Ledger struct {
	now func() time.Time
}

func New() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of the ledger that stamps entries using now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// Apply validates and records one stock change inside tx. On any error no
// write has been issued for this adjustment.
func (l *Ledger) Apply(ctx context.Context, tx store.Tx, adj Adjustment) (domain.StockHistory, error) {
	if err := validate(adj); err != nil {
		return domain.StockHistory{}, err
	}

	product, err := tx.LockProduct(ctx, adj.ProductID)
	if err != nil {
		return domain.StockHistory{}, err
	}

	previous := product.StockQuantity
	next := previous + adj.Delta
	if next < 0 {
		return domain.StockHistory{}, fmt.Errorf("%w for %s: available %d, requested %d",
			store.ErrInsufficientStock, product.Name, previous, -adj.Delta)
	}

	at := l.now()
	if err := tx.SetProductStock(ctx, product.ID, next, at); err != nil {
		return domain.StockHistory{}, err
	}

	entry := domain.StockHistory{
		ID:             uuid.NewString(),
		ProductID:      product.ID,
		ProductName:    product.Name,
		PreviousStock:  previous,
		NewStock:       next,
		Adjustment:     adj.Delta,
		AdjustmentType: adj.Type,
		Reason:         strings.TrimSpace(adj.Reason),
		ReferenceID:    adj.ReferenceID,
		ReferenceType:  adj.ReferenceType,
		UpdatedBy:      adj.Actor.Username,
		UpdatedByName:  adj.Actor.DisplayName(),
		CreatedAt:      at,
	}
	if err := tx.AppendStockHistory(ctx, entry); err != nil {
		return domain.StockHistory{}, err
	}
	return entry, nil
}

// Adjust runs a single adjustment in its own unit of work.
func (l *Ledger) Adjust(ctx context.Context, repo store.Repository, adj Adjustment) (domain.StockHistory, error) {
	var entry domain.StockHistory
	err := repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		entry, err = l.Apply(ctx, tx, adj)
		return err
	})
	if err != nil {
		return domain.StockHistory{}, err
	}
	return entry, nil
}

func validate(adj Adjustment) error {
	switch {
	case strings.TrimSpace(adj.ProductID) == "":
		return fmt.Errorf("%w: product id required", store.ErrValidation)
	case adj.Delta == 0:
		return fmt.Errorf("%w: adjustment must not be zero", store.ErrValidation)
	case !adj.Type.Valid():
		return fmt.Errorf("%w: unknown adjustment type %q", store.ErrValidation, adj.Type)
	case strings.TrimSpace(adj.Actor.Username) == "":
		return fmt.Errorf("%w: actor required", store.ErrValidation)
	}
	return nil
}
