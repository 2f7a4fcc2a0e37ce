package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentradar/internal/config"
	"rentradar/internal/domain"
	"rentradar/internal/monitoring"
	"rentradar/internal/region"
)

type stubEnqueuer struct {
	requests []domain.TaskRequest
	receipts map[string]domain.EnqueueReceipt
	err      error
}

func (s *stubEnqueuer) Enqueue(_ context.Context, req domain.TaskRequest) (domain.EnqueueReceipt, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return domain.EnqueueReceipt{}, s.err
	}
	if receipt, ok := s.receipts[req.Task]; ok {
		return receipt, nil
	}
	return domain.EnqueueReceipt{Enqueued: true, TaskID: "task-" + req.Task}, nil
}

type stubListingStore struct {
	listings       []domain.Listing
	trades         []domain.RealTrade
	listingFilters []domain.ListingFilter
	tradeFilters   []domain.TradeFilter
	pingErr        error
}

func (s *stubListingStore) SearchListings(_ context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	s.listingFilters = append(s.listingFilters, f)
	return s.listings, nil
}

func (s *stubListingStore) SearchTrades(_ context.Context, f domain.TradeFilter) ([]domain.RealTrade, error) {
	s.tradeFilters = append(s.tradeFilters, f)
	return s.trades, nil
}

func (s *stubListingStore) Ping(context.Context) error { return s.pingErr }

type stubResultStore struct {
	results    map[string][]byte
	cache      map[string][]byte
	queueDepth int64
	pingErr    error
}

func newStubResultStore() *stubResultStore {
	return &stubResultStore{
		results: make(map[string][]byte),
		cache:   make(map[string][]byte),
	}
}

func (s *stubResultStore) GetResult(_ context.Context, taskID string) ([]byte, error) {
	return s.results[taskID], nil
}

func (s *stubResultStore) CacheGet(_ context.Context, key string) ([]byte, error) {
	return s.cache[key], nil
}

func (s *stubResultStore) CacheSet(_ context.Context, key string, payload []byte, _ time.Duration) error {
	s.cache[key] = payload
	return nil
}

func (s *stubResultStore) QueueSize(context.Context) (int64, error) { return s.queueDepth, nil }

func (s *stubResultStore) Ping(context.Context) error { return s.pingErr }

func newTestServer(t *testing.T) (*Server, *stubEnqueuer, *stubListingStore, *stubResultStore) {
	t.Helper()
	cfg := &config.Config{ServerPort: "8080", CacheTTLSeconds: 60}
	enq := &stubEnqueuer{receipts: make(map[string]domain.EnqueueReceipt)}
	store := &stubListingStore{}
	results := newStubResultStore()
	m := monitoring.NewMetricsWith(prometheus.NewRegistry())
	return NewServer(cfg, enq, store, results, m, zap.NewNop()), enq, store, results
}

func doRequest(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

type triggerResponse struct {
	Status string        `json:"status"`
	Tasks  []taskReceipt `json:"tasks"`
}

func TestCrawlListingsFansOutToBothSources(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/listings", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp triggerResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "enqueued", resp.Status)
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, domain.TaskCrawlNaver, resp.Tasks[0].Task)
	assert.Equal(t, domain.TaskCrawlZigbang, resp.Tasks[1].Task)
	assert.True(t, resp.Tasks[0].Enqueued)
	assert.NotEmpty(t, resp.Tasks[0].TaskID)

	require.Len(t, enq.requests, 2)
	for _, req := range enq.requests {
		assert.Equal(t, "manual", req.Fingerprint)
	}
}

func TestCrawlListingsSingleSourceWithFilters(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/listings", map[string]any{
		"source":         "zigbang",
		"regions":        []string{"11680"},
		"property_types": []string{"apt"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, enq.requests, 1)
	assert.Equal(t, domain.TaskCrawlZigbang, enq.requests[0].Task)
	assert.Equal(t, []string{"11680"}, enq.requests[0].Regions)
	assert.Equal(t, []string{"apt"}, enq.requests[0].PropertyTypes)
}

func TestCrawlListingsReportsDuplicate(t *testing.T) {
	s, enq, _, _ := newTestServer(t)
	enq.receipts[domain.TaskCrawlNaver] = domain.EnqueueReceipt{Reason: "duplicate_enqueue"}
	enq.receipts[domain.TaskCrawlZigbang] = domain.EnqueueReceipt{Reason: "duplicate_enqueue"}

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/listings", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp triggerResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "duplicate", resp.Status)
	require.Len(t, resp.Tasks, 2)
	for _, task := range resp.Tasks {
		assert.False(t, task.Enqueued)
		assert.Equal(t, "duplicate_enqueue", task.Reason)
	}
}

func TestCrawlListingsPartialDuplicateStillAccepted(t *testing.T) {
	s, enq, _, _ := newTestServer(t)
	enq.receipts[domain.TaskCrawlNaver] = domain.EnqueueReceipt{Reason: "duplicate_enqueue"}

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/listings", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp triggerResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "enqueued", resp.Status)
}

func TestCrawlListingsForceUsesFreshFingerprint(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/listings", map[string]any{"force": true})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, enq.requests, 2)
	assert.True(t, strings.HasPrefix(enq.requests[0].Fingerprint, "force-"))
	assert.Equal(t, enq.requests[0].Fingerprint, enq.requests[1].Fingerprint)
}

func TestCrawlListingsRejectsUnknownSource(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/listings", map[string]any{"source": "dabang"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, enq.requests)
}

func TestCrawlListingsRejectsUnknownRegion(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/listings", map[string]any{"regions": []string{"99999"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Contains(t, resp["error"], "unknown region code")
	assert.Empty(t, enq.requests)
}

func TestCrawlListingsRejectsMalformedBody(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/crawl/listings", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrawlListingsQueueFailure(t *testing.T) {
	s, enq, _, _ := newTestServer(t)
	enq.err = errors.New("redis connection refused")

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/listings", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCrawlTradesEnqueuesSingleTask(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/trades", map[string]any{
		"regions": []string{"11110"},
		"months":  3,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp triggerResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "enqueued", resp.Status)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, domain.TaskCrawlRealTrade, resp.Tasks[0].Task)

	require.Len(t, enq.requests, 1)
	assert.Equal(t, []string{"11110"}, enq.requests[0].Regions)
	assert.Equal(t, 3, enq.requests[0].Months)
	assert.Equal(t, "manual", enq.requests[0].Fingerprint)
}

func TestCrawlTradesRejectsMonthsOutOfRange(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/crawl/trades", map[string]any{"months": 25})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, enq.requests)
}

func TestTaskStatusReturnsStoredOutcome(t *testing.T) {
	s, _, _, results := newTestServer(t)

	outcome := domain.Outcome{Status: domain.StatusOK, Fetched: 12, Inserted: 4, TaskID: "abc-123"}
	payload, err := json.Marshal(outcome)
	require.NoError(t, err)
	results.results["abc-123"] = payload

	rec := doRequest(t, s, http.MethodGet, "/api/tasks/abc-123", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Outcome
	decodeJSON(t, rec, &got)
	assert.Equal(t, outcome, got)
}

func TestTaskStatusUnknownTask(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/tasks/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "task result not found or expired", resp["error"])
}

func TestSearchListingsCachesResults(t *testing.T) {
	s, _, store, _ := newTestServer(t)
	store.listings = []domain.Listing{{Source: domain.SourceZigbang, SourceID: "100", Dong: "역삼동", Deposit: 5000}}

	rec := doRequest(t, s, http.MethodGet, "/api/listings?dong=역삼동&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var first listingsResponse
	decodeJSON(t, rec, &first)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, first.Count)
	require.Len(t, store.listingFilters, 1)
	assert.Equal(t, "역삼동", store.listingFilters[0].Dong)
	assert.Equal(t, 10, store.listingFilters[0].Limit)

	rec = doRequest(t, s, http.MethodGet, "/api/listings?dong=역삼동&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var second listingsResponse
	decodeJSON(t, rec, &second)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Listings, second.Listings)
	assert.Len(t, store.listingFilters, 1, "cache hit must not reach the store")

	rec = doRequest(t, s, http.MethodGet, "/api/listings?dong=서초동&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var third listingsResponse
	decodeJSON(t, rec, &third)
	assert.False(t, third.CacheHit, "a different filter must get its own cache key")
	assert.Len(t, store.listingFilters, 2)
}

func TestSearchListingsRejectsBadNumericParam(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/listings?min_deposit=cheap", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Contains(t, resp["error"], "min_deposit")
}

func TestSearchListingsRegionCodeFilter(t *testing.T) {
	s, _, store, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/listings?region_code=11680", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.listingFilters, 1)
	assert.Equal(t, "11680", store.listingFilters[0].RegionCode)

	rec = doRequest(t, s, http.MethodGet, "/api/listings?region_code=99999", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Contains(t, resp["error"], "unknown region code")
}

func TestSearchListingsEmptyResultIsArray(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/listings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"listings":[]`)
}

func TestSearchTradesAppliesFilter(t *testing.T) {
	s, _, store, _ := newTestServer(t)
	store.trades = []domain.RealTrade{{RegionCode: "11110", Dong: "법정동1", AptName: "테스트아파트1", Deposit: 500000000}}

	rec := doRequest(t, s, http.MethodGet, "/api/trades?region_code=11110&min_year=2024&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tradesResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.False(t, resp.CacheHit)

	require.Len(t, store.tradeFilters, 1)
	assert.Equal(t, domain.TradeFilter{RegionCode: "11110", MinYear: 2024, Limit: 5}, store.tradeFilters[0])
}

func TestRegionsListAndSearch(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/regions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var all struct {
		Count   int               `json:"count"`
		Regions []region.District `json:"regions"`
	}
	decodeJSON(t, rec, &all)
	assert.Equal(t, len(region.All()), all.Count)

	rec = doRequest(t, s, http.MethodGet, "/api/regions?q=강남", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var filtered struct {
		Count   int               `json:"count"`
		Regions []region.District `json:"regions"`
	}
	decodeJSON(t, rec, &filtered)
	require.Equal(t, 1, filtered.Count)
	assert.Equal(t, "11680", filtered.Regions[0].Code)
}

func TestHealthCheck(t *testing.T) {
	s, _, store, results := newTestServer(t)
	results.queueDepth = 3

	rec := doRequest(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "healthy", resp["postgres"])
	assert.Equal(t, "healthy", resp["redis"])
	assert.Equal(t, float64(3), resp["queue_depth"])

	store.pingErr = errors.New("connection refused")
	rec = doRequest(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	decodeJSON(t, rec, &resp)
	assert.Equal(t, "unhealthy", resp["postgres"])
	assert.Equal(t, "healthy", resp["redis"])
}
