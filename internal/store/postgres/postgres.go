package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/store"
)

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, lockTimeout: 5 * time.Second}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const productColumns = `id, name, description, barcode, cost_price, price, discount_percent,
	stock_quantity, parent_product_id, is_variant, variant_code, variant_color, variant_size,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var description, barcode, parentID, variantCode, variantColor, variantSize sql.NullString
	err := row.Scan(&p.ID, &p.Name, &description, &barcode, &p.CostPrice, &p.Price, &p.DiscountPercent,
		&p.StockQuantity, &parentID, &p.IsVariant, &variantCode, &variantColor, &variantSize,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.Description = description.String
	p.Barcode = barcode.String
	p.ParentProductID = parentID.String
	p.VariantCode = variantCode.String
	p.VariantColor = variantColor.String
	p.VariantSize = variantSize.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price.IsNegative() || product.CostPrice.IsNegative() {
		return nil, store.ErrValidation
	}
	if product.DiscountPercent < 0 || product.DiscountPercent > 100 || product.StockQuantity < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.UpdatedAt = product.CreatedAt
	product.IsVariant = product.ParentProductID != ""

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, product.ID, product.Name, nullIfEmpty(product.Description), nullIfEmpty(product.Barcode),
		product.CostPrice, product.Price, product.DiscountPercent, product.StockQuantity,
		nullIfEmpty(product.ParentProductID), product.IsVariant, nullIfEmpty(product.VariantCode),
		nullIfEmpty(product.VariantColor), nullIfEmpty(product.VariantSize), product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapError(err)
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// InTx runs fn inside a SERIALIZABLE transaction. Row locks taken by the
// Tx methods wait at most lockTimeout; lock timeouts, deadlocks and
// serialization failures surface as store.ErrConcurrencyConflict.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapError(err)
	}

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

const saleColumns = `id, customer_name, customer_phone, total_amount, total_cost, profit,
	discount_amount, payment_method, sold_by, notes, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var customerName, customerPhone, notes sql.NullString
	err := row.Scan(&sale.ID, &customerName, &customerPhone, &sale.TotalAmount, &sale.TotalCost, &sale.Profit,
		&sale.DiscountAmount, &sale.PaymentMethod, &sale.SoldBy, &notes, &sale.CreatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.CustomerName = customerName.String
	sale.CustomerPhone = customerPhone.String
	sale.Notes = notes.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapError(err)
	}
	sales := []domain.Sale{sale}
	if err := attachSaleItems(ctx, s.db, sales); err != nil {
		return nil, err
	}
	if err := s.attachRefundFlags(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	where, args := saleFilterClause(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	orderColumn := "created_at"
	switch filter.SortBy {
	case domain.SaleSortAmount:
		orderColumn = "total_amount"
	case domain.SaleSortProfit:
		orderColumn = "profit"
	}
	direction := "DESC"
	if filter.Ascending {
		direction = "ASC"
	}
	page, size := store.NormalizePage(filter.Page, filter.Size)
	args = append(args, size, page*size)
	query := fmt.Sprintf(`SELECT %s FROM sales%s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		saleColumns, where, orderColumn, direction, len(args)-1, len(args))

	sales, err := s.querySales(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

func saleFilterClause(filter domain.SaleFilter) (string, []any) {
	conditions := make([]string, 0, 7)
	args := make([]any, 0, 9)
	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}
	if filter.PaymentMethod != "" {
		add("payment_method = $%d", string(filter.PaymentMethod))
	}
	if filter.MinAmount != nil {
		add("total_amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		add("total_amount <= $%d", *filter.MaxAmount)
	}
	if filter.CustomerName != "" {
		add(`customer_name ILIKE '%%' || $%d || '%%' ESCAPE '\'`, escapeLike(filter.CustomerName))
	}
	if filter.ProductID != "" {
		add("EXISTS (SELECT 1 FROM sale_items si WHERE si.sale_id = sales.id AND si.product_id = $%d)", filter.ProductID)
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *Store) SalesBetween(ctx context.Context, from *time.Time, to *time.Time) ([]domain.Sale, error) {
	where, args := saleFilterClause(domain.SaleFilter{From: from, To: to})
	return s.querySales(ctx, `SELECT `+saleColumns+` FROM sales`+where+` ORDER BY created_at, id`, args...)
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := attachSaleItems(ctx, s.db, sales); err != nil {
		return nil, err
	}
	if err := s.attachRefundFlags(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func attachSaleItems(ctx context.Context, q queryer, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	index := make(map[string]int, len(sales))
	ids := make([]string, 0, len(sales))
	for i, sale := range sales {
		index[sale.ID] = i
		ids = append(ids, sale.ID)
		sales[i].Items = make([]domain.SaleItem, 0, 4)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price, unit_cost, subtotal, profit
		FROM sale_items
		WHERE sale_id = ANY($1::uuid[])
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity,
			&item.UnitPrice, &item.UnitCost, &item.Subtotal, &item.Profit); err != nil {
			return err
		}
		i := index[item.SaleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return rows.Err()
}

func (s *Store) attachRefundFlags(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	index := make(map[string]int, len(sales))
	ids := make([]string, 0, len(sales))
	for i, sale := range sales {
		index[sale.ID] = i
		ids = append(ids, sale.ID)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT sale_id FROM refunds WHERE sale_id = ANY($1::uuid[])`, ids)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var saleID string
		if err := rows.Scan(&saleID); err != nil {
			return err
		}
		sales[index[saleID]].Refunded = true
	}
	return rows.Err()
}

const refundColumns = `id, sale_id, refund_amount, refund_method, processed_by, notes, created_at`

func (s *Store) ListRefunds(ctx context.Context, page int, size int) ([]domain.Refund, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM refunds`).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}
	page, size = store.NormalizePage(page, size)
	refunds, err := s.queryRefunds(ctx, `
		SELECT `+refundColumns+` FROM refunds
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, size, page*size)
	if err != nil {
		return nil, 0, err
	}
	return refunds, total, nil
}

func (s *Store) ListRefundsBySale(ctx context.Context, saleID string) ([]domain.Refund, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, saleID).Scan(&exists); err != nil {
		return nil, mapError(err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.queryRefunds(ctx, `SELECT `+refundColumns+` FROM refunds WHERE sale_id = $1 ORDER BY created_at, id`, saleID)
}

func (s *Store) queryRefunds(ctx context.Context, query string, args ...any) ([]domain.Refund, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	refunds := make([]domain.Refund, 0, 16)
	index := make(map[string]int)
	ids := make([]string, 0, 16)
	for rows.Next() {
		var refund domain.Refund
		var notes sql.NullString
		if err := rows.Scan(&refund.ID, &refund.SaleID, &refund.RefundAmount, &refund.RefundMethod,
			&refund.ProcessedBy, &notes, &refund.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		refund.Notes = notes.String
		refund.CreatedAt = refund.CreatedAt.UTC()
		refund.Items = make([]domain.RefundItem, 0, 4)
		index[refund.ID] = len(refunds)
		ids = append(ids, refund.ID)
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(refunds) == 0 {
		return refunds, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT id, refund_id, product_id, product_name, quantity, unit_price, subtotal, reason
		FROM refund_items
		WHERE refund_id = ANY($1::uuid[])
		ORDER BY refund_id, position
	`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item domain.RefundItem
		var reason sql.NullString
		if err := itemRows.Scan(&item.ID, &item.RefundID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.Subtotal, &reason); err != nil {
			return nil, err
		}
		item.Reason = reason.String
		i := index[item.RefundID]
		refunds[i].Items = append(refunds[i].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return refunds, nil
}

const historyColumns = `id, product_id, product_name, previous_stock, new_stock, adjustment,
	adjustment_type, reason, reference_id, reference_type, updated_by, updated_by_name, created_at`

func (s *Store) ListStockHistory(ctx context.Context, filter domain.StockHistoryFilter) ([]domain.StockHistory, int, error) {
	if _, err := s.GetProduct(ctx, filter.ProductID); err != nil {
		return nil, 0, err
	}

	conditions := []string{"product_id = $1"}
	args := []any{filter.ProductID}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_history`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	page, size := store.NormalizePage(filter.Page, filter.Size)
	args = append(args, size, page*size)
	entries, err := s.queryHistory(ctx, fmt.Sprintf(`SELECT %s FROM stock_history%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		historyColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) StockHistoryBetween(ctx context.Context, from time.Time, to time.Time, adjustmentType domain.AdjustmentType) ([]domain.StockHistory, error) {
	return s.queryHistory(ctx, `
		SELECT `+historyColumns+`
		FROM stock_history
		WHERE created_at >= $1 AND created_at < $2 AND ($3 = '' OR adjustment_type = $3)
		ORDER BY created_at, id
	`, from, to, string(adjustmentType))
}

func (s *Store) queryHistory(ctx context.Context, query string, args ...any) ([]domain.StockHistory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	entries := make([]domain.StockHistory, 0, 64)
	for rows.Next() {
		var entry domain.StockHistory
		var reason, referenceID, referenceType sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.ProductName, &entry.PreviousStock,
			&entry.NewStock, &entry.Adjustment, &entry.AdjustmentType, &reason, &referenceID,
			&referenceType, &entry.UpdatedBy, &entry.UpdatedByName, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Reason = reason.String
		entry.ReferenceID = referenceID.String
		entry.ReferenceType = domain.ReferenceType(referenceType.String)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, full_name, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.FullName, user.Password, user.Role, user.Active, user.CreatedAt)
	return mapError(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, full_name, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.FullName, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const stockQuantityCheck = "products_stock_quantity_check"

// mapError translates postgres failures into store errors. Errors that are
// already store sentinels pass through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", store.ErrConcurrencyConflict, pgErr.Message)
	case "23514":
		if pgErr.ConstraintName == stockQuantityCheck {
			return fmt.Errorf("%w: %s", store.ErrInsufficientStock, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.Message)
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.Detail)
	case "23503":
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Detail)
	case "22P02":
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Message)
	}
	return err
}

// escapeLike makes s match literally inside a LIKE pattern using '\' as the
// escape character.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
