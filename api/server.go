/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     slog request logging (status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request count/latency by route pattern
  6. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /healthz                                  Database ping (public)
  /metrics                                  Prometheus (public)
  /api/trips/*                              Trips, members, expenses, balances, settlements
  /api/expenses/{expenseID}/*               Expense lifecycle and assignments
  /api/settlements/{settlementID}/*         Settlement detail and payments
  /api/scenarios/*                          Demo trips

  Everything under /api requires a bearer token (see auth.go).

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/spend-ledger/metrics"
)

// RouterConfig carries the cross-cutting pieces of the router.
type RouterConfig struct {
	Auth        *Authenticator
	Metrics     *metrics.Metrics // optional
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.RequireAuth)

		// Trip routes
		r.Post("/trips", h.CreateTrip)
		r.Route("/trips/{tripID}", func(r chi.Router) {
			r.Get("/", h.GetTrip)
			r.Get("/members", h.ListMembers)
			r.Post("/members", h.AddMember)
			r.Post("/close", h.CloseTripSpend)
			r.Post("/reopen", h.ReopenTripSpend)
			r.Get("/audit", h.ListAuditEvents)

			r.Get("/expenses", h.ListExpenses)
			r.Post("/expenses", h.CreateExpense)

			r.Get("/balances", h.GetBalances)
			r.Get("/settlements", h.ListSettlements)
			r.Post("/settlements", h.RecordSettlements)
		})

		// Expense routes
		r.Route("/expenses/{expenseID}", func(r chi.Router) {
			r.Get("/", h.GetExpense)
			r.Patch("/", h.UpdateExpense)
			r.Delete("/", h.DeleteExpense)
			r.Post("/close", h.CloseExpense)
			r.Post("/reopen", h.ReopenExpense)

			r.Put("/assignments", h.SetAssignments)
			r.Get("/assignments/percentage", h.GetAssignedPercentage)
			r.Put("/assignments/{participant}", h.PutAssignment)
			r.Delete("/assignments/{participant}", h.DeleteAssignment)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		// Settlement routes
		r.Route("/settlements/{settlementID}", func(r chi.Router) {
			r.Get("/", h.GetSettlement)
			r.Post("/payments", h.RecordPayment)
		})
	})

	return r
}

// requestLogger logs one line per request. 5xx responses log at Error,
// 4xx at Warn, the rest at Info.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
