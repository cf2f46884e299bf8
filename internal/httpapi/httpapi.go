package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/service"
	"tokoku/backend/internal/store"
)

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	loginLimiter   *attemptLimiter
	catalogLimiter *attemptLimiter
	orderLimiter   *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  allowedOrigin,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		catalogLimiter: newAttemptLimiter(60, time.Minute),
		orderLimiter:   newAttemptLimiter(10, time.Minute),
	}
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
	kept = append(kept, now)
	l.entries[key] = kept
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

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/catalog/products", a.handleCatalogProducts)
	mux.HandleFunc("POST /api/v1/catalog/orders", a.handleCatalogOrder)

	mux.HandleFunc("GET /api/v1/products", a.requireRole(domain.RoleCashier, a.handleListProducts))
	mux.HandleFunc("POST /api/v1/products", a.requireRole(domain.RoleManager, a.handleCreateProduct))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireRole(domain.RoleCashier, a.handleGetProduct))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireRole(domain.RoleManager, a.handleUpdateProduct))

	mux.HandleFunc("GET /api/v1/customers", a.requireRole(domain.RoleCashier, a.handleListCustomers))
	mux.HandleFunc("POST /api/v1/customers", a.requireRole(domain.RoleCashier, a.handleCreateCustomer))
	mux.HandleFunc("GET /api/v1/customers/{id}", a.requireRole(domain.RoleCashier, a.handleGetCustomer))
	mux.HandleFunc("PATCH /api/v1/customers/{id}", a.requireRole(domain.RoleCashier, a.handleUpdateCustomer))

	mux.HandleFunc("GET /api/v1/suppliers", a.requireRole(domain.RoleManager, a.handleListSuppliers))
	mux.HandleFunc("POST /api/v1/suppliers", a.requireRole(domain.RoleManager, a.handleCreateSupplier))
	mux.HandleFunc("GET /api/v1/suppliers/{id}", a.requireRole(domain.RoleManager, a.handleGetSupplier))
	mux.HandleFunc("PATCH /api/v1/suppliers/{id}", a.requireRole(domain.RoleManager, a.handleUpdateSupplier))

	mux.HandleFunc("GET /api/v1/sales", a.requireRole(domain.RoleCashier, a.handleListSales))
	mux.HandleFunc("POST /api/v1/sales", a.requireRole(domain.RoleCashier, a.handleCreatePaidSale))
	mux.HandleFunc("POST /api/v1/sales/pending", a.requireRole(domain.RoleCashier, a.handleCreatePendingSale))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireRole(domain.RoleCashier, a.handleGetSale))
	mux.HandleFunc("POST /api/v1/sales/{id}/confirm", a.requireRole(domain.RoleCashier, a.handleConfirmSale))
	mux.HandleFunc("PATCH /api/v1/sales/{id}/status", a.requireRole(domain.RoleManager, a.handleUpdateSaleStatus))
	mux.HandleFunc("DELETE /api/v1/sales/{id}", a.requireRole(domain.RoleAdmin, a.handleDeleteSale))

	mux.HandleFunc("GET /api/v1/goods-receipts", a.requireRole(domain.RoleManager, a.handleListGoodsReceipts))
	mux.HandleFunc("POST /api/v1/goods-receipts", a.requireRole(domain.RoleManager, a.handleCreateGoodsReceipt))
	mux.HandleFunc("GET /api/v1/goods-receipts/{id}", a.requireRole(domain.RoleManager, a.handleGetGoodsReceipt))
	mux.HandleFunc("DELETE /api/v1/goods-receipts/{id}", a.requireRole(domain.RoleAdmin, a.handleReverseGoodsReceipt))

	mux.HandleFunc("GET /api/v1/users", a.requireRole(domain.RoleAdmin, a.handleListUsers))
	mux.HandleFunc("POST /api/v1/users", a.requireRole(domain.RoleAdmin, a.handleCreateUser))
	mux.HandleFunc("PATCH /api/v1/users/{username}", a.requireRole(domain.RoleAdmin, a.handleUpdateUser))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireRole(domain.RoleAdmin, a.handleAuditLogs))

	return a.withMiddleware(mux)
}

// requireRole admits requests whose bearer token carries minRole or a role
// ranked above it.
func (a *API) requireRole(minRole string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if domain.RoleRank(actor.Role) < domain.RoleRank(minRole) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
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
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("component", "http").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseQueryTime accepts YYYY-MM-DD or RFC 3339. A bare date used as an upper
// bound covers the whole day.
func parseQueryTime(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.DateOnly, raw); err == nil {
		if upper {
			return parsed.Add(24 * time.Hour), nil
		}
		return parsed, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("dates must be YYYY-MM-DD or RFC 3339")
	}
	return parsed.UTC(), nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidDiscount),
		errors.Is(err, store.ErrInvalidLine),
		errors.Is(err, store.ErrInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Str("component", "http").Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
		"kind":  errorKind(status, err),
	})
}

func errorKind(status int, err error) string {
	if kind := store.Kind(err); kind != "internal" || status >= 500 {
		return kind
	}
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "invalid_request"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
