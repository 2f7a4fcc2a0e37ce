package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/health", s.handleHealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/crawl/listings", s.handleCrawlListings)
		r.Post("/crawl/trades", s.handleCrawlTrades)
		r.Get("/tasks/{taskID}", s.handleTaskStatus)
		r.Get("/listings", s.handleSearchListings)
		r.Get("/trades", s.handleSearchTrades)
		r.Get("/regions", s.handleRegions)
	})

	return r
}
