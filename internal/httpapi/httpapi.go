package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/metrics"
	"rollyshop/backend/internal/service"
	"rollyshop/backend/internal/store"
)

// Error kinds returned in the "kind" field of every error body.
const (
	KindNotFound              = "NOT_FOUND"
	KindProductNotInSale      = "PRODUCT_NOT_IN_SALE"
	KindValidation            = "VALIDATION_ERROR"
	KindInsufficientStock     = "INSUFFICIENT_STOCK"
	KindRefundExceedsOriginal = "REFUND_EXCEEDS_ORIGINAL"
	KindConcurrencyConflict   = "CONCURRENCY_CONFLICT"
	KindUnauthorized          = "UNAUTHORIZED"
	KindForbidden             = "FORBIDDEN"
	KindRateLimited           = "RATE_LIMITED"
	KindInternal              = "INTERNAL"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		logger.Warn("crypto/rand unavailable, using static csrf secret", zap.Error(err))
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        logger,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens from the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(currentBucket - 3600)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	staff := []string{domain.RoleCashier, domain.RoleAdmin}
	admin := []string{domain.RoleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, staff...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, admin...))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, staff...))
	mux.HandleFunc("POST /api/v1/products/{id}/stock-adjustments", a.requireAuth(a.handleAdjustStock, admin...))
	mux.HandleFunc("GET /api/v1/products/{id}/stock-history", a.requireAuth(a.handleStockHistory, admin...))
	mux.HandleFunc("GET /api/v1/products/{id}/sales-stats", a.requireAuth(a.handleProductSalesStats, admin...))
	mux.HandleFunc("GET /api/v1/stock-history/summary", a.requireAuth(a.handleStockHistorySummary, admin...))
	mux.HandleFunc("GET /api/v1/inventory/stats", a.requireAuth(a.handleInventoryStats, admin...))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, staff...))
	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, staff...))
	mux.HandleFunc("GET /api/v1/sales/today", a.requireAuth(a.handleTodaySales, staff...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, staff...))
	mux.HandleFunc("POST /api/v1/sales/{id}/refunds", a.requireAuth(a.handleCreateRefund, staff...))
	mux.HandleFunc("GET /api/v1/sales/{id}/refunds", a.requireAuth(a.handleSaleRefunds, admin...))
	mux.HandleFunc("GET /api/v1/refunds", a.requireAuth(a.handleListRefunds, admin...))

	mux.HandleFunc("GET /api/v1/analytics/summary", a.requireAuth(a.handleSalesSummary, admin...))
	mux.HandleFunc("GET /api/v1/analytics/summary/today", a.requireAuth(a.handleTodaySummary, admin...))
	mux.HandleFunc("GET /api/v1/analytics/top-selling", a.requireAuth(a.handleTopSelling, admin...))
	mux.HandleFunc("GET /api/v1/analytics/dashboard", a.requireAuth(a.handleDashboard, admin...))

	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, admin...))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, admin...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, KindUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, KindUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, KindForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// csrfExemptPaths are called before a client can hold a CSRF token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the X-CSRF-Token header on state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, KindForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Manager-PIN")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if a.checkCSRF(rec, r) {
			next.ServeHTTP(rec, r)
		}

		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// errorKind maps a service or store error to its HTTP status and kind.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, KindUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, KindForbidden
	case errors.Is(err, store.ErrProductNotInSale):
		return http.StatusNotFound, KindProductNotInSale
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, KindValidation
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict, KindInsufficientStock
	case errors.Is(err, store.ErrRefundExceedsOriginal):
		return http.StatusConflict, KindRefundExceedsOriginal
	case errors.Is(err, store.ErrConcurrencyConflict):
		return http.StatusConflict, KindConcurrencyConflict
	}
	return http.StatusInternalServerError, KindInternal
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, kind := errorKind(err)
	writeError(w, status, kind, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		zap.L().Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
		"kind":  kind,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
