package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/service"
	"rollyshop/backend/internal/store"
)

const dateLayout = "2006-01-02"

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, KindRateLimited, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, KindUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token that mutating requests must echo
// in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func actorOf(r *http.Request) domain.Actor {
	actor, _ := service.ActorFromContext(r.Context())
	return actor
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), actorOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	resp, err := a.service.AdjustStock(r.Context(), actorOf(r), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.StockHistoryFilter{ProductID: r.PathValue("id")}
	var err error
	if filter.Page, filter.Size, err = parsePage(q); err != nil {
		writeServiceError(w, err)
		return
	}
	dates, err := parseDateRange(q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if dates != nil {
		from, to := a.service.Bounds(*dates)
		filter.From, filter.To = &from, &to
	}

	page, err := a.service.StockHistory(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleProductSalesStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.ProductSalesStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleStockHistorySummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dates, err := requireDateRange(q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	summary, err := a.service.StockHistorySummary(r.Context(), *dates, domain.AdjustmentType(q.Get("adjustment_type")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleInventoryStats(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseInt(r.URL.Query(), "low_stock_threshold", -1)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	stats, err := a.service.InventoryStats(r.Context(), threshold)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), actorOf(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	filter, err := a.parseSaleFilter(r.URL.Query())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	page, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) parseSaleFilter(q url.Values) (domain.SaleFilter, error) {
	var filter domain.SaleFilter
	var err error
	if filter.Page, filter.Size, err = parsePage(q); err != nil {
		return filter, err
	}
	dates, err := parseDateRange(q)
	if err != nil {
		return filter, err
	}
	if dates != nil {
		from, to := a.service.Bounds(*dates)
		filter.From, filter.To = &from, &to
	}
	if filter.MinAmount, err = parseAmount(q, "min_amount"); err != nil {
		return filter, err
	}
	if filter.MaxAmount, err = parseAmount(q, "max_amount"); err != nil {
		return filter, err
	}

	filter.PaymentMethod = domain.PaymentMethod(strings.TrimSpace(q.Get("payment_method")))
	filter.CustomerName = q.Get("customer_name")
	filter.ProductID = strings.TrimSpace(q.Get("product_id"))
	filter.SortBy = domain.SaleSort(strings.ToLower(strings.TrimSpace(q.Get("sort_by"))))
	switch strings.ToLower(strings.TrimSpace(q.Get("order"))) {
	case "", "desc":
	case "asc":
		filter.Ascending = true
	default:
		return filter, fmt.Errorf("%w: order must be asc or desc", store.ErrValidation)
	}
	return filter, nil
}

func (a *API) handleTodaySales(w http.ResponseWriter, r *http.Request) {
	page, size, err := parsePage(r.URL.Query())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sales, err := a.service.TodaySales(r.Context(), page, size)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

// handleCreateRefund lets admins refund directly. Cashiers must present a
// manager PIN in X-Manager-PIN.
func (a *API) handleCreateRefund(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if actor.Role != domain.RoleAdmin && !a.pinLimiter.Allow("pin:refund:"+clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, KindRateLimited, errors.New("too many manager pin attempts"))
		return
	}
	if err := a.auth.AuthorizeRefund(actor, r.Header.Get("X-Manager-PIN")); err != nil {
		writeServiceError(w, err)
		return
	}

	var req domain.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	refund, err := a.service.CreateRefund(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"refund": refund})
}

func (a *API) handleSaleRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := a.service.ListRefundsBySale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunds": refunds})
}

func (a *API) handleListRefunds(w http.ResponseWriter, r *http.Request) {
	page, size, err := parsePage(r.URL.Query())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	refunds, err := a.service.ListRefunds(r.Context(), page, size)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refunds)
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	dates, err := parseDateRange(r.URL.Query())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	summary, err := a.service.SalesSummary(r.Context(), dates)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleTodaySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.TodaySummary(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleTopSelling(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt(q, "limit", 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dates, err := parseDateRange(q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	products, err := a.service.TopSellingProducts(r.Context(), limit, dates)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dates, err := requireDateRange(q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	view, err := a.service.SalesAnalytics(r.Context(), *dates, q.Get("group_by"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

// parseDateRange reads start_date and end_date (YYYY-MM-DD). Both absent
// means no range; one without the other is rejected.
func parseDateRange(q url.Values) (*domain.DateRange, error) {
	rawFrom := strings.TrimSpace(q.Get("start_date"))
	rawTo := strings.TrimSpace(q.Get("end_date"))
	if rawFrom == "" && rawTo == "" {
		return nil, nil
	}
	if rawFrom == "" || rawTo == "" {
		return nil, fmt.Errorf("%w: start_date and end_date must be given together", store.ErrValidation)
	}
	from, err := time.Parse(dateLayout, rawFrom)
	if err != nil {
		return nil, fmt.Errorf("%w: start_date must be YYYY-MM-DD", store.ErrValidation)
	}
	to, err := time.Parse(dateLayout, rawTo)
	if err != nil {
		return nil, fmt.Errorf("%w: end_date must be YYYY-MM-DD", store.ErrValidation)
	}
	return &domain.DateRange{From: from, To: to}, nil
}

func requireDateRange(q url.Values) (*domain.DateRange, error) {
	dates, err := parseDateRange(q)
	if err != nil {
		return nil, err
	}
	if dates == nil {
		return nil, fmt.Errorf("%w: start_date and end_date are required", store.ErrValidation)
	}
	return dates, nil
}

func parseInt(q url.Values, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", store.ErrValidation, key)
	}
	return value, nil
}

func parsePage(q url.Values) (int, int, error) {
	page, err := parseInt(q, "page", 0)
	if err != nil {
		return 0, 0, err
	}
	size, err := parseInt(q, "size", 20)
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func parseAmount(q url.Values, key string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", store.ErrValidation, key)
	}
	return &amount, nil
}
