package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/service"
	"rollyshop/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
	if got := res.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Manager-PIN") {
		t.Fatalf("expected X-Manager-PIN to be an allowed header, got %q", got)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestMutationWithoutCSRFTokenRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	rec := serve(t, api, apiRequest{
		method: http.MethodPost,
		path:   "/api/v1/sales",
		token:  token,
		body:   domain.SaleRequest{Items: []domain.SaleItemRequest{{ProductID: uuid.NewString(), Quantity: 1}}},
	})
	expectKind(t, rec, http.StatusForbidden, KindForbidden)
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	body, _ := json.Marshal(domain.RefundRequest{
		Items: []domain.RefundItemRequest{{ProductID: uuid.NewString(), Quantity: 1}},
	})
	path := "/api/v1/sales/" + uuid.NewString() + "/refunds"

	for i := 0; i < 9; i++ {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		req.Header.Set("X-Manager-PIN", "000000")
		req.RemoteAddr = "127.0.0.1:5001"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 8 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before pin limit, got %d", i+1, res.Code)
		}
		if i == 8 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", res.Code)
		}
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, errors.New("pq: relation \"sales\" does not exist"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal server error" || body["kind"] != KindInternal {
		t.Fatalf("expected generic internal error, got %v", body)
	}
}

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("sale x: %w", store.ErrNotFound), http.StatusNotFound, KindNotFound},
		{fmt.Errorf("%w: abc", store.ErrProductNotInSale), http.StatusNotFound, KindProductNotInSale},
		{fmt.Errorf("%w: qty", store.ErrValidation), http.StatusBadRequest, KindValidation},
		{store.ErrInsufficientStock, http.StatusConflict, KindInsufficientStock},
		{store.ErrRefundExceedsOriginal, http.StatusConflict, KindRefundExceedsOriginal},
		{store.ErrConcurrencyConflict, http.StatusConflict, KindConcurrencyConflict},
		{service.ErrUnauthorized, http.StatusUnauthorized, KindUnauthorized},
		{fmt.Errorf("%w: viewer", service.ErrForbidden), http.StatusForbidden, KindForbidden},
	}
	for _, tc := range cases {
		status, kind := errorKind(tc.err)
		if status != tc.status || kind != tc.kind {
			t.Fatalf("%v: expected %d/%s, got %d/%s", tc.err, tc.status, tc.kind, status, kind)
		}
	}
}

func TestParseDateRange(t *testing.T) {
	dates, err := parseDateRange(url.Values{})
	if err != nil || dates != nil {
		t.Fatalf("expected no range, got %v %v", dates, err)
	}

	if _, err := parseDateRange(url.Values{"start_date": {"2024-01-01"}}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for half range, got %v", err)
	}
	if _, err := parseDateRange(url.Values{"start_date": {"01/02/2024"}, "end_date": {"2024-01-03"}}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad format, got %v", err)
	}

	dates, err = parseDateRange(url.Values{"start_date": {"2024-01-01"}, "end_date": {"2024-01-31"}})
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	if dates.From.Day() != 1 || dates.To.Day() != 31 {
		t.Fatalf("unexpected range %+v", dates)
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
