package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	barcodes        map[string]string
	sales           map[string]domain.Sale
	saleOrder       []string
	refunds         map[string]domain.Refund
	refundOrder     []string
	refundsBySale   map[string][]string
	history         []domain.StockHistory
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		barcodes:        make(map[string]string),
		sales:           make(map[string]domain.Sale),
		refunds:         make(map[string]domain.Refund),
		refundsBySale:   make(map[string][]string),
		history:         make([]domain.StockHistory, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		fullName string
		password string
		role     string
	}{
		{"admin", "Shop Owner", adminPwd, domain.RoleAdmin},
		{"cashier", "Front Counter", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			FullName:  u.fullName,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	for _, p := range []struct {
		name     string
		barcode  string
		cost     string
		price    string
		discount int
		stock    int
	}{
		{"Iced Latte Can", "8850001000011", "0.80", "1.50", 0, 120},
		{"Jasmine Rice 5kg", "8850001000028", "4.20", "6.00", 5, 40},
		{"Instant Noodle Cup", "8850001000035", "0.35", "0.60", 0, 200},
		{"Dish Soap 500ml", "8850001000042", "1.10", "2.00", 10, 60},
		{"Bottled Water 1.5L", "8850001000059", "0.25", "0.50", 0, 300},
		{"Chocolate Bar", "8850001000066", "0.70", "1.25", 0, 90},
	} {
		product := domain.Product{
			ID:              uuid.NewString(),
			Name:            p.name,
			Barcode:         p.barcode,
			CostPrice:       decimal.RequireFromString(p.cost),
			Price:           decimal.RequireFromString(p.price),
			DiscountPercent: p.discount,
			StockQuantity:   p.stock,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		s.products[product.ID] = product
		s.barcodes[product.Barcode] = product.ID
	}
	return s
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Price.IsNegative() || product.CostPrice.IsNegative() {
		return nil, store.ErrValidation
	}
	if product.DiscountPercent < 0 || product.DiscountPercent > 100 || product.StockQuantity < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product id already exists", store.ErrValidation)
	}
	if product.Barcode != "" {
		if _, exists := s.barcodes[product.Barcode]; exists {
			return nil, fmt.Errorf("%w: barcode already exists", store.ErrValidation)
		}
	}
	if product.ParentProductID != "" {
		if _, exists := s.products[product.ParentProductID]; !exists {
			return nil, fmt.Errorf("parent product: %w", store.ErrNotFound)
		}
		product.IsVariant = true
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.UpdatedAt = product.CreatedAt

	s.products[product.ID] = product
	if product.Barcode != "" {
		s.barcodes[product.Barcode] = product.ID
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

// InTx holds the write lock for the whole unit of work, so units of work are
// serialized. Writes are staged on the tx and applied only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:     s,
		stock: make(map[string]stagedStock),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := s.readSale(sale)
	return &dup, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, len(s.saleOrder))
	for _, id := range s.saleOrder {
		sale := s.sales[id]
		if !matchesFilter(sale, filter) {
			continue
		}
		matched = append(matched, s.readSale(sale))
	}

	slices.SortStableFunc(matched, func(a, b domain.Sale) int {
		var c int
		switch filter.SortBy {
		case domain.SaleSortAmount:
			c = a.TotalAmount.Cmp(b.TotalAmount)
		case domain.SaleSortProfit:
			c = a.Profit.Cmp(b.Profit)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if !filter.Ascending {
			c = -c
		}
		return c
	})

	page, size := store.NormalizePage(filter.Page, filter.Size)
	total := len(matched)
	start := page * size
	if start >= total {
		return []domain.Sale{}, total, nil
	}
	end := min(start+size, total)
	return matched[start:end], total, nil
}

func (s *Store) SalesBetween(_ context.Context, from *time.Time, to *time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.saleOrder))
	for _, id := range s.saleOrder {
		sale := s.sales[id]
		if from != nil && sale.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && !sale.CreatedAt.Before(*to) {
			continue
		}
		result = append(result, s.readSale(sale))
	}
	return result, nil
}

func (s *Store) ListRefunds(_ context.Context, page int, size int) ([]domain.Refund, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, size = store.NormalizePage(page, size)
	total := len(s.refundOrder)
	result := make([]domain.Refund, 0, size)
	// newest first
	for i := total - 1 - page*size; i >= 0 && len(result) < size; i-- {
		result = append(result, cloneRefund(s.refunds[s.refundOrder[i]]))
	}
	return result, total, nil
}

func (s *Store) ListRefundsBySale(_ context.Context, saleID string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.sales[saleID]; !exists {
		return nil, store.ErrNotFound
	}
	ids := s.refundsBySale[saleID]
	result := make([]domain.Refund, 0, len(ids))
	for _, id := range ids {
		result = append(result, cloneRefund(s.refunds[id]))
	}
	return result, nil
}

func (s *Store) ListStockHistory(_ context.Context, filter domain.StockHistoryFilter) ([]domain.StockHistory, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.products[filter.ProductID]; !exists {
		return nil, 0, store.ErrNotFound
	}

	matched := make([]domain.StockHistory, 0, 32)
	for i := len(s.history) - 1; i >= 0; i-- {
		entry := s.history[i]
		if entry.ProductID != filter.ProductID {
			continue
		}
		if filter.From != nil && entry.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !entry.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, entry)
	}

	page, size := store.NormalizePage(filter.Page, filter.Size)
	total := len(matched)
	start := page * size
	if start >= total {
		return []domain.StockHistory{}, total, nil
	}
	return matched[start:min(start+size, total)], total, nil
}

func (s *Store) StockHistoryBetween(_ context.Context, from time.Time, to time.Time, adjustmentType domain.AdjustmentType) ([]domain.StockHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockHistory, 0, 64)
	for _, entry := range s.history {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		if adjustmentType != "" && entry.AdjustmentType != adjustmentType {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// readSale must be called with s.mu held.
func (s *Store) readSale(sale domain.Sale) domain.Sale {
	dup := cloneSale(sale)
	dup.Refunded = len(s.refundsBySale[sale.ID]) > 0
	return dup
}

func matchesFilter(sale domain.Sale, filter domain.SaleFilter) bool {
	if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
		return false
	}
	if filter.PaymentMethod != "" && sale.PaymentMethod != filter.PaymentMethod {
		return false
	}
	if filter.MinAmount != nil && sale.TotalAmount.LessThan(*filter.MinAmount) {
		return false
	}
	if filter.MaxAmount != nil && sale.TotalAmount.GreaterThan(*filter.MaxAmount) {
		return false
	}
	if filter.CustomerName != "" && !strings.Contains(strings.ToLower(sale.CustomerName), strings.ToLower(filter.CustomerName)) {
		return false
	}
	if filter.ProductID != "" {
		found := false
		for _, item := range sale.Items {
			if item.ProductID == filter.ProductID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneRefund(src domain.Refund) domain.Refund {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}
