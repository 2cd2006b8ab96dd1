package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/entrega363/kiro2/internal/notify"
	"github.com/entrega363/kiro2/internal/observability"
	"github.com/entrega363/kiro2/internal/repository"
	"github.com/entrega363/kiro2/internal/strategy"
)

// Server bundles the handlers' collaborators.
type Server struct {
	services *repository.ResourceRepository
	bookings *repository.ResourceRepository
	gallery  *repository.GalleryRepository
	notifier *notify.Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger

	// Manual cache refreshes are throttled so a stampede of refresh clicks
	// cannot flood the backend.
	reloadServices func()
}

// NewServer creates the HTTP server façade.
func NewServer(
	services *repository.ResourceRepository,
	bookings *repository.ResourceRepository,
	gallery *repository.GalleryRepository,
	notifier *notify.Notifier,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		services: services,
		bookings: bookings,
		gallery:  gallery,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.Named("http"),
	}
	s.reloadServices = strategy.Throttle(func() {
		s.services.InvalidateAndReload(context.Background(), nil)
	}, 5*time.Second)
	return s
}

// Router assembles the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/services", s.listServices)
		r.Post("/services/reload", s.reloadServicesHandler)
		r.Get("/bookings", s.listBookings)
		r.Post("/bookings", s.createBooking)
		r.Get("/gallery", s.listGallery)
		r.Get("/notices", s.listNotices)
		r.Get("/status", s.status)
	})

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	return r
}
