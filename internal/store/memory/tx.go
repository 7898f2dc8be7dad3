package memory

import (
	"context"
	"fmt"
	"time"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/store"
)

type stagedStock struct {
	qty int
	at  time.Time
}

// memTx stages writes of one unit of work. The owning Store's write lock is
// held for the tx lifetime.
type memTx struct {
	s       *Store
	stock   map[string]stagedStock
	history []domain.StockHistory
	sales   []domain.Sale
	refunds []domain.Refund
}

func (tx *memTx) LockProduct(_ context.Context, id string) (*domain.Product, error) {
	product, exists := tx.s.products[id]
	if !exists {
		return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	if staged, ok := tx.stock[id]; ok {
		product.StockQuantity = staged.qty
		product.UpdatedAt = staged.at
	}
	return &product, nil
}

func (tx *memTx) SetProductStock(_ context.Context, id string, stock int, at time.Time) error {
	if _, exists := tx.s.products[id]; !exists {
		return fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	if stock < 0 {
		return store.ErrInsufficientStock
	}
	tx.stock[id] = stagedStock{qty: stock, at: at}
	return nil
}

func (tx *memTx) AppendStockHistory(_ context.Context, entry domain.StockHistory) error {
	if entry.NewStock != entry.PreviousStock+entry.Adjustment {
		return fmt.Errorf("%w: stock history delta mismatch", store.ErrValidation)
	}
	tx.history = append(tx.history, entry)
	return nil
}

func (tx *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := tx.s.sales[sale.ID]; exists {
		return fmt.Errorf("%w: sale id already exists", store.ErrValidation)
	}
	tx.sales = append(tx.sales, cloneSale(sale))
	return nil
}

func (tx *memTx) LockSale(_ context.Context, id string) (*domain.Sale, error) {
	if sale, exists := tx.s.sales[id]; exists {
		dup := tx.s.readSale(sale)
		return &dup, nil
	}
	for _, sale := range tx.sales {
		if sale.ID == id {
			dup := cloneSale(sale)
			return &dup, nil
		}
	}
	return nil, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
}

func (tx *memTx) RefundedQuantities(_ context.Context, saleID string) (map[string]int, error) {
	result := make(map[string]int)
	for _, refundID := range tx.s.refundsBySale[saleID] {
		for _, item := range tx.s.refunds[refundID].Items {
			result[item.ProductID] += item.Quantity
		}
	}
	for _, refund := range tx.refunds {
		if refund.SaleID != saleID {
			continue
		}
		for _, item := range refund.Items {
			result[item.ProductID] += item.Quantity
		}
	}
	return result, nil
}

func (tx *memTx) InsertRefund(_ context.Context, refund domain.Refund) error {
	if _, exists := tx.s.refunds[refund.ID]; exists {
		return fmt.Errorf("%w: refund id already exists", store.ErrValidation)
	}
	tx.refunds = append(tx.refunds, cloneRefund(refund))
	return nil
}

func (tx *memTx) commit() {
	s := tx.s
	for id, staged := range tx.stock {
		product := s.products[id]
		product.StockQuantity = staged.qty
		product.UpdatedAt = staged.at
		s.products[id] = product
	}
	s.history = append(s.history, tx.history...)
	for _, sale := range tx.sales {
		s.sales[sale.ID] = sale
		s.saleOrder = append(s.saleOrder, sale.ID)
	}
	for _, refund := range tx.refunds {
		s.refunds[refund.ID] = refund
		s.refundOrder = append(s.refundOrder, refund.ID)
		s.refundsBySale[refund.SaleID] = append(s.refundsBySale[refund.SaleID], refund.ID)
	}
}
