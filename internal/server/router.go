package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Access-Level"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// Router assembles the chi router with shared middleware and every endpoint
// mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(DefaultCORSOptions()))
	if s.metrics != nil {
		r.Use(s.metricsMiddleware)
	}

	r.Get("/.well-known/openid-configuration", s.handleDiscovery)

	r.Route("/oauth", func(r chi.Router) {
		r.Post("/device", s.handleDeviceInitiation)
		r.Post("/token", s.handleTokenExchange)
		r.Get("/device-activation", s.handleDeviceActivationRedirect)
		r.Post("/device-activation", s.handleDeviceActivation)
		r.Post("/login", s.handleLogin)
		r.Get("/logout", s.handleLogout)
		r.Get("/me/session", s.handleSessionInfo)
	})

	r.Route("/rest", func(r chi.Router) {
		mountResource(r, "scopes", s.scopeResource())
		mountResource(r, "roles", s.roleResource())
		mountResource(r, "users", s.userResource())
		mountResource(r, "clients", s.clientResource())
		mountResource(r, "policies", s.policyResource())
		r.Get("/stats", s.handleStats)
	})

	r.Route("/rpc", func(r chi.Router) {
		r.Get("/recovery", s.handleRecoveryExport)
		r.Post("/recovery", s.handleRecoveryImport)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}

// metricsMiddleware records request count and latency per method, route and
// status.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.RecordRequest(
			r.Context(),
			r.Method,
			route,
			strconv.Itoa(ww.Status()),
			float64(time.Since(start).Milliseconds()),
		)
	})
}
