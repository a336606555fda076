package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-orchestrator/internal/auth"
)

// NewRouter returns the base router shared by every binary: request ids,
// zap access log, prometheus metrics, /healthz and /metrics.
func NewRouter(log *zap.Logger) *chi.Mux {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer, metrics)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// NewOrderAPI mounts the order-api routes. Login is public; every other
// route requires a bearer JWT.
func NewOrderAPI(log *zap.Logger, v auth.Verifier, login *AuthHandler, ords *OrdersHandler, prods *ProductsHandler) *chi.Mux {
	r := NewRouter(log)
	login.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(v))
		ords.Register(r)
		prods.Register(r)
	})
	return r
}
