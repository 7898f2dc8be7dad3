package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rollyshop/backend/internal/analytics"
	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/ledger"
	"rollyshop/backend/internal/service"
	"rollyshop/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	engine := analytics.NewEngine(time.UTC, nil, time.Minute, nil)
	svc := service.New(repo, ledger.New(), engine, service.Options{MaxRetries: 3, LowStockThreshold: 10})
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*", nil)
}

type apiRequest struct {
	method  string
	path    string
	token   string
	csrf    string
	body    any
	headers map[string]string
}

func serve(t *testing.T, api *API, in apiRequest) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if in.body != nil {
		payload, err := json.Marshal(in.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(in.method, in.path, reader)
	req.Header.Set("Content-Type", "application/json")
	if in.token != "" {
		req.Header.Set("Authorization", "Bearer "+in.token)
	}
	if in.csrf != "" {
		req.Header.Set("X-CSRF-Token", in.csrf)
	}
	for key, value := range in.headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func expectKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d (body: %s)", status, rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]string](t, rec)
	if body["kind"] != kind {
		t.Fatalf("expected kind %s, got %q", kind, body["kind"])
	}
}

func firstProduct(t *testing.T, api *API, token string) domain.Product {
	t.Helper()
	rec := serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/products", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("list products: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string][]domain.Product](t, rec)
	if len(body["products"]) == 0 {
		t.Fatalf("expected seeded products")
	}
	return body["products"][0]
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := serve(t, api, apiRequest{method: http.MethodGet, path: "/healthz"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   domain.LoginRequest{Username: "admin", Password: "admin123"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[domain.LoginResponse](t, rec)
	if body.AccessToken == "" || body.Role != domain.RoleAdmin {
		t.Fatalf("unexpected login response %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   domain.LoginRequest{Username: "admin", Password: "wrongpassword"},
	})
	expectKind(t, rec, http.StatusUnauthorized, KindUnauthorized)
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/products"})
	expectKind(t, rec, http.StatusUnauthorized, KindUnauthorized)
}

func TestSaleAndRefundFlow(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	product := firstProduct(t, api, token)

	rec := serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/sales",
		token:  token,
		csrf:   csrf,
		body: domain.SaleRequest{
			Items:        []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 2}},
			CustomerName: "Rina",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d %s", rec.Code, rec.Body.String())
	}
	sale := decodeBody[map[string]domain.Sale](t, rec)["sale"]
	want := product.DiscountedPrice().Mul(decimal.NewFromInt(2))
	if !sale.TotalAmount.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, sale.TotalAmount)
	}

	rec = serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/sales/" + sale.ID + "/refunds",
		token:  token,
		csrf:   csrf,
		body:   domain.RefundRequest{Items: []domain.RefundItemRequest{{ProductID: product.ID, Quantity: 3}}},
	})
	expectKind(t, rec, http.StatusConflict, KindRefundExceedsOriginal)

	rec = serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/sales/" + sale.ID + "/refunds",
		token:  token,
		csrf:   csrf,
		body:   domain.RefundRequest{Items: []domain.RefundItemRequest{{ProductID: product.ID, Quantity: 1, Reason: "damaged"}}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create refund: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/sales/" + sale.ID, token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale: %d %s", rec.Code, rec.Body.String())
	}
	if stored := decodeBody[map[string]domain.Sale](t, rec)["sale"]; !stored.Refunded {
		t.Fatalf("expected sale to be marked refunded")
	}

	rec = serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/sales/" + sale.ID + "/refunds", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("list sale refunds: %d %s", rec.Code, rec.Body.String())
	}
	if refunds := decodeBody[map[string][]domain.Refund](t, rec)["refunds"]; len(refunds) != 1 {
		t.Fatalf("expected 1 refund, got %d", len(refunds))
	}

	rec = serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/products/" + product.ID + "/stock-history", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("stock history: %d %s", rec.Code, rec.Body.String())
	}
	history := decodeBody[domain.Page[domain.StockHistory]](t, rec)
	if history.Total != 2 || history.Items[0].AdjustmentType != domain.AdjustmentReturn {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestErrorKinds(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	product := firstProduct(t, api, token)

	rec := serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/sales",
		token:  token,
		csrf:   csrf,
		body:   domain.SaleRequest{Items: []domain.SaleItemRequest{{ProductID: product.ID, Quantity: product.StockQuantity + 1}}},
	})
	expectKind(t, rec, http.StatusConflict, KindInsufficientStock)

	rec = serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/sales",
		token:  token,
		csrf:   csrf,
		body:   domain.SaleRequest{},
	})
	expectKind(t, rec, http.StatusBadRequest, KindValidation)

	rec = serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/sales/not-a-sale", token: token})
	expectKind(t, rec, http.StatusNotFound, KindNotFound)

	rec = serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/analytics/dashboard", token: token})
	expectKind(t, rec, http.StatusBadRequest, KindValidation)

	rec = serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/sales?order=sideways", token: token})
	expectKind(t, rec, http.StatusBadRequest, KindValidation)
}

func TestCashierRefundNeedsManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	product := firstProduct(t, api, token)

	rec := serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/sales",
		token:  token,
		csrf:   csrf,
		body:   domain.SaleRequest{Items: []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 1}}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d %s", rec.Code, rec.Body.String())
	}
	sale := decodeBody[map[string]domain.Sale](t, rec)["sale"]
	refund := domain.RefundRequest{Items: []domain.RefundItemRequest{{ProductID: product.ID, Quantity: 1}}}

	rec = serve(t, api, apiRequest{method: http.MethodPost, path: "/api/v1/sales/" + sale.ID + "/refunds", token: token, csrf: csrf, body: refund})
	expectKind(t, rec, http.StatusForbidden, KindForbidden)

	rec = serve(t, api, apiRequest{
		method:  http.MethodPost,
		path:    "/api/v1/sales/" + sale.ID + "/refunds",
		token:   token,
		csrf:    csrf,
		body:    refund,
		headers: map[string]string{"X-Manager-PIN": "123456"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected refund with manager pin to succeed, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCashierCannotReadAnalytics(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	for _, path := range []string{
		"/api/v1/analytics/summary",
		"/api/v1/inventory/stats",
		"/api/v1/refunds",
		"/api/v1/users/cashiers",
	} {
		rec := serve(t, api, apiRequest{method: http.MethodGet, path: path, token: token})
		expectKind(t, rec, http.StatusForbidden, KindForbidden)
	}

	rec := serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/sales/today", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected cashier to list today's sales, got %d", rec.Code)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	product := firstProduct(t, api, token)

	rec := serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/sales",
		token:  token,
		csrf:   csrf,
		body:   domain.SaleRequest{Items: []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 4}}, PaymentMethod: domain.PaymentCard},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/analytics/summary/today", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("today summary: %d %s", rec.Code, rec.Body.String())
	}
	if summary := decodeBody[domain.SalesSummary](t, rec); summary.TotalSales != 1 {
		t.Fatalf("expected 1 sale today, got %d", summary.TotalSales)
	}

	today := time.Now().UTC().Format(dateLayout)
	rec = serve(t, api, apiRequest{
		method: http.MethodGet,
		path:   "/api/v1/analytics/dashboard?start_date=" + today + "&end_date=" + today + "&group_by=week",
		token:  token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", rec.Code, rec.Body.String())
	}
	dashboard := decodeBody[domain.SalesAnalytics](t, rec)
	if dashboard.SalesByPaymentMethod[domain.PaymentCard].Count != 1 || len(dashboard.SalesByDay) != 1 || !strings.Contains(dashboard.SalesByDay[0].Date, "-W") {
		t.Fatalf("unexpected dashboard %+v", dashboard)
	}

	rec = serve(t, api, apiRequest{method: http.MethodGet, path: "/api/v1/analytics/top-selling?limit=1", token: token})
	if rec.Code != http.StatusOK {
		t.Fatalf("top selling: %d %s", rec.Code, rec.Body.String())
	}
	top := decodeBody[map[string][]domain.TopSellingProduct](t, rec)["products"]
	if len(top) != 1 || top[0].ProductID != product.ID || top[0].TotalQuantitySold != 4 {
		t.Fatalf("unexpected top selling %+v", top)
	}

	rec = serve(t, api, apiRequest{
		method: http.MethodGet,
		path:   "/api/v1/stock-history/summary?start_date=" + today + "&end_date=" + today + "&adjustment_type=SALE",
		token:  token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stock summary: %d %s", rec.Code, rec.Body.String())
	}
	if summary := decodeBody[domain.StockHistorySummary](t, rec); summary.TotalAdjustments != 1 {
		t.Fatalf("expected 1 adjustment, got %d", summary.TotalAdjustments)
	}
}

func TestAdjustStockEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	product := firstProduct(t, api, token)

	rec := serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/products/" + product.ID + "/stock-adjustments",
		token:  token,
		csrf:   csrf,
		body:   domain.StockAdjustmentRequest{Adjustment: 5, AdjustmentType: domain.AdjustmentRestock, Reason: "delivery"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust stock: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[domain.StockAdjustmentResponse](t, rec)
	if resp.NewStock != product.StockQuantity+5 {
		t.Fatalf("expected stock %d, got %d", product.StockQuantity+5, resp.NewStock)
	}

	rec = serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/products/" + product.ID + "/stock-adjustments",
		token:  token,
		csrf:   csrf,
		body:   domain.StockAdjustmentRequest{Adjustment: 1, AdjustmentType: domain.AdjustmentReturn},
	})
	expectKind(t, rec, http.StatusBadRequest, KindValidation)
}

func TestCreateCashierEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/users/cashiers",
		token:  token,
		csrf:   csrf,
		body:   domain.CashierCreateRequest{Username: "evening", FullName: "Evening Shift", Password: "pass1234"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier: %d %s", rec.Code, rec.Body.String())
	}
	loginAs(t, api, "evening", "pass1234")
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	serve(t, api, apiRequest{method: http.MethodGet, path: "/healthz"})

	rec := serve(t, api, apiRequest{method: http.MethodGet, path: "/metrics"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rollyshop_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}
