// Package server assembles the loyaltyd HTTP router and runs it until shutdown.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/mihaimyh/goloyalty/pkg/api"
	"github.com/mihaimyh/goloyalty/pkg/billing"
	"github.com/mihaimyh/goloyalty/pkg/loyalty"
	zerologadapter "github.com/mihaimyh/goloyalty/pkg/loyalty/logger/zerolog"
)

// Pinger is implemented by storage backends that can report their health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures NewRouter
type Options struct {
	Engine *loyalty.Engine
	Logger zerolog.Logger

	// CustomerHeader carries the authenticated customer ID
	CustomerHeader string

	// AdminToken guards /admin. Admin routes are not mounted when empty.
	AdminToken string

	// Gatherer serves /metrics when set
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// Billing providers mounted under /webhooks/{name}
	Providers []billing.Provider

	// Ready is checked by /readyz when set
	Ready Pinger
}

// NewRouter builds the daemon router:
//
//	GET  /healthz, /readyz
//	GET  /metrics
//	     /v1/...            customer API
//	     /admin/...         admin API (bearer token)
//	POST /webhooks/{name}   billing providers
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	logger := opts.Logger

	handler, err := api.NewHandler(api.Config{
		Engine:        opts.Engine,
		GetCustomerID: api.FromHeader(opts.CustomerHeader),
		Logger:        zerologadapter.NewLogger(logger),
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready.Ping(r.Context()); err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("storage not ready")
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", handler.Routes)
	if opts.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireBearer(opts.AdminToken))
			handler.AdminRoutes(r)
		})
	}

	for _, p := range opts.Providers {
		r.Method(http.MethodPost, "/webhooks/"+p.Name(), p.WebhookHandler())
	}
	return r, nil
}

// requestIDLogger tags the request logger with the chi request ID
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

// requireBearer rejects requests without "Authorization: Bearer <token>"
func requireBearer(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="goloyalty-admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Run serves srv until ctx is done, then shuts it down within timeout
func Run(ctx context.Context, srv *http.Server, timeout time.Duration, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
