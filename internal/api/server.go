// Package api exposes the HTTP surface: crawl triggers, task outcome lookup,
// cached listing and trade search, region lookup, and health.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/config"
	"rentradar/internal/domain"
	"rentradar/internal/monitoring"
)

// Enqueuer submits crawl tasks. Implemented by task.Service.
type Enqueuer interface {
	Enqueue(ctx context.Context, req domain.TaskRequest) (domain.EnqueueReceipt, error)
}

// ListingStore is the read side of the persistence layer.
type ListingStore interface {
	SearchListings(ctx context.Context, filter domain.ListingFilter) ([]domain.Listing, error)
	SearchTrades(ctx context.Context, filter domain.TradeFilter) ([]domain.RealTrade, error)
	Ping(ctx context.Context) error
}

// ResultStore holds task outcomes and search caches. Implemented by
// storage.RedisStore.
type ResultStore interface {
	GetResult(ctx context.Context, taskID string) ([]byte, error)
	CacheGet(ctx context.Context, key string) ([]byte, error)
	CacheSet(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	QueueSize(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	service    Enqueuer
	store      ListingStore
	results    ResultStore
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, service Enqueuer, store ListingStore, results ResultStore, m *monitoring.Metrics, l *zap.Logger) *Server {
	s := &Server{
		config:  cfg,
		service: service,
		store:   store,
		results: results,
		metrics: m,
		logger:  l,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the assembled router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
