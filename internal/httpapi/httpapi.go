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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/feed"
	"barpos/backend/internal/metrics"
	"barpos/backend/internal/service"
	"barpos/backend/internal/store"
)

type Options struct {
	AllowedOrigin string
	// CallbackToken guards the payment gateway webhook path. Empty disables the webhook.
	CallbackToken string
	Feed          *feed.Hub
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	Heartbeat     time.Duration
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	feed          *feed.Hub
	metrics       *metrics.Metrics
	logger        *zap.Logger
	allowedOrigin string
	callbackToken string
	heartbeat     time.Duration
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := opts.Feed
	if hub == nil {
		hub = feed.NewHub(logger)
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &API{
		service:       svc,
		auth:          auth,
		feed:          hub,
		metrics:       opts.Metrics,
		logger:        logger,
		allowedOrigin: opts.AllowedOrigin,
		callbackToken: opts.CallbackToken,
		heartbeat:     heartbeat,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
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
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(a.securityHeaders)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Post("/payments/mpesa/callback/{token}", a.handleMpesaCallback)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/settings", a.handleSettings)
			r.Get("/products", a.handleListProducts)

			r.Get("/cart", a.handleCartView)
			r.Delete("/cart", a.handleCartClear)
			r.Post("/cart/lines", a.handleCartAdd)
			r.Patch("/cart/lines/{productID}", a.handleCartQuantity)
			r.Delete("/cart/lines/{productID}", a.handleCartRemove)

			r.Post("/orders", a.handleSubmitOrder)
			r.Get("/orders/active", a.handleActiveOrders)
			r.Get("/orders/completed", a.handleCompletedOrders)
			r.Get("/orders/{id}", a.handleGetOrder)
			r.Post("/orders/{id}/dispatch", a.handleDispatch)
			r.Post("/orders/{id}/settle", a.handleSettle)
			r.Post("/orders/{id}/void", a.handleVoid)
			r.Post("/sales", a.handleDirectSale)

			r.Get("/payments/{id}", a.handleGetPayment)
			r.Get("/reports/staff/{id}", a.handleStaffStats)
			r.Get("/notifications", a.handleNotifications)
			r.Post("/notifications/read", a.handleNotificationsRead)
			r.Get("/events", a.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleAdmin))

				r.Post("/products", a.handleCreateProduct)
				r.Patch("/products/{id}", a.handleUpdateProduct)
				r.Delete("/products/{id}", a.handleDeleteProduct)
				r.Post("/products/{id}/stock", a.handleAdjustStock)

				r.Post("/payments/{id}/reconcile", a.handleReconcilePayment)
				r.Get("/reports/sales-by-staff", a.handleSalesByStaff)
				r.Get("/reports/payment-methods", a.handlePaymentMethods)
				r.Get("/audit", a.handleAudit)

				r.Get("/staff", a.handleListStaff)
				r.Post("/staff", a.handleCreateStaff)
				r.Delete("/staff/{id}", a.handleDeactivateStaff)
				r.Patch("/staff/{id}/pin", a.handleChangePIN)
			})
		})
	})

	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func requireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok || !isRoleAllowed(actor.Role, roles) {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden role"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role domain.Role, allowed []domain.Role) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)

		elapsed := time.Since(startedAt)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.metrics.HTTPRequest(r.Method, status, elapsed)
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"settings": a.service.Settings()})
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidOrder),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, domain.ErrWeakPIN):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPaymentFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
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

// writeError hides internal detail behind 5xx responses. Gateway rejections
// (502) carry the gateway's own message, which the cashier needs to see.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 && status != http.StatusBadGateway {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
