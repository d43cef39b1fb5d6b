// Package server exposes the booking API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/internal/graphql"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Service is the booking surface served over HTTP.
type Service interface {
	graphql.Service
	BookOrder(ctx context.Context, orderID string) (*booking.Booking, error)
	ShopRates(ctx context.Context, req *shipper.ShipmentRequest, carriers []string) ([]shipper.RateQuote, []error)
	Resync(ctx context.Context, id string) (*booking.Booking, error)
}

// Config holds server configuration.
type Config struct {
	Port int
	// RequestTimeout bounds each request. It must exceed the carrier
	// booking timeout or bookings are cut off mid-call.
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP server for the booking service.
type Server struct {
	cfg      Config
	service  Service
	logger   *otelzap.Logger
	gatherer prometheus.Gatherer
}

// New creates a new server instance. Metrics are served from gatherer.
func New(cfg Config, service Service, gatherer prometheus.Gatherer, logger *otelzap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		logger:   logger,
		gatherer: gatherer,
	}
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(s.cfg.RequestTimeout))
	r.Use(requestLogging(s.logger))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Handle("/graphql", graphql.NewHandler(graphql.NewResolver(s.service, s.logger)))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/carriers", s.handleCarriers)
		r.Post("/rates", s.handleRates)
		r.Post("/rates/shop", s.handleShopRates)
		r.Post("/bookings", s.handleBook)
		r.Get("/bookings/{id}", s.handleGetBooking)
		r.Post("/bookings/{id}/resync", s.handleResync)
		r.Post("/orders/{orderID}/booking", s.handleBookOrder)
	})

	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func requestLogging(logger *otelzap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				return
			}
			logger.Ctx(r.Context()).Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}
