package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(t.tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
		}
		return nil, mapError(err)
	}
	return &product, nil
}

func (t *pgTx) SetProductStock(ctx context.Context, id string, stock int, at time.Time) error {
	if stock < 0 {
		return store.ErrInsufficientStock
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE products SET stock_quantity = $2, updated_at = $3 WHERE id = $1`, id, stock, at)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendStockHistory(ctx context.Context, entry domain.StockHistory) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_history (`+historyColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, entry.ID, entry.ProductID, entry.ProductName, entry.PreviousStock, entry.NewStock, entry.Adjustment,
		string(entry.AdjustmentType), nullIfEmpty(entry.Reason), nullIfEmpty(entry.ReferenceID),
		nullIfEmpty(string(entry.ReferenceType)), entry.UpdatedBy, entry.UpdatedByName, entry.CreatedAt)
	return mapError(err)
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sale.ID, nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerPhone), sale.TotalAmount, sale.TotalCost,
		sale.Profit, sale.DiscountAmount, string(sale.PaymentMethod), sale.SoldBy, nullIfEmpty(sale.Notes), sale.CreatedAt)
	if err != nil {
		return mapError(err)
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO sale_items (id, sale_id, position, product_id, product_name, quantity, unit_price, unit_cost, subtotal, profit)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`)
	if err != nil {
		return mapError(err)
	}
	defer stmt.Close()

	for i, item := range sale.Items {
		if _, err := stmt.ExecContext(ctx, item.ID, sale.ID, i, item.ProductID, item.ProductName, item.Quantity,
			item.UnitPrice, item.UnitCost, item.Subtotal, item.Profit); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// LockSale locks the sale row so concurrent refunds of the same sale queue
// behind each other.
func (t *pgTx) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(t.tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
		}
		return nil, mapError(err)
	}
	sales := []domain.Sale{sale}
	if err := attachSaleItems(ctx, t.tx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (t *pgTx) RefundedQuantities(ctx context.Context, saleID string) (map[string]int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT ri.product_id, COALESCE(SUM(ri.quantity), 0)
		FROM refund_items ri
		JOIN refunds r ON r.id = ri.refund_id
		WHERE r.sale_id = $1
		GROUP BY ri.product_id
	`, saleID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		result[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *pgTx) InsertRefund(ctx context.Context, refund domain.Refund) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, refund.ID, refund.SaleID, refund.RefundAmount, string(refund.RefundMethod), refund.ProcessedBy,
		nullIfEmpty(refund.Notes), refund.CreatedAt)
	if err != nil {
		return mapError(err)
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO refund_items (id, refund_id, position, product_id, product_name, quantity, unit_price, subtotal, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`)
	if err != nil {
		return mapError(err)
	}
	defer stmt.Close()

	for i, item := range refund.Items {
		if _, err := stmt.ExecContext(ctx, item.ID, refund.ID, i, item.ProductID, item.ProductName, item.Quantity,
			item.UnitPrice, item.Subtotal, nullIfEmpty(item.Reason)); err != nil {
			return mapError(err)
		}
	}
	return nil
}
