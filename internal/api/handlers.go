package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"rentradar/internal/domain"
	"rentradar/internal/region"
)

type crawlListingsRequest struct {
	Source        string   `json:"source"`
	Regions       []string `json:"regions"`
	PropertyTypes []string `json:"property_types"`
	Force         bool     `json:"force"`
}

type crawlTradesRequest struct {
	Regions []string `json:"regions"`
	Months  int      `json:"months"`
	Force   bool     `json:"force"`
}

// taskReceipt is one enqueue attempt in a trigger response.
type taskReceipt struct {
	Task     string `json:"task"`
	Enqueued bool   `json:"enqueued"`
	TaskID   string `json:"task_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleCrawlListings(w http.ResponseWriter, r *http.Request) {
	var req crawlListingsRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = "all"
	}

	var tasks []string
	switch req.Source {
	case "naver":
		tasks = []string{domain.TaskCrawlNaver}
	case "zigbang":
		tasks = []string{domain.TaskCrawlZigbang}
	case "all":
		tasks = []string{domain.TaskCrawlNaver, domain.TaskCrawlZigbang}
	default:
		s.respondWithError(w, http.StatusBadRequest, "source must be one of naver, zigbang, all")
		return
	}
	if err := validateRegions(req.Regions); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	fingerprint := triggerFingerprint(req.Force)
	receipts := make([]taskReceipt, 0, len(tasks))
	anyEnqueued := false
	for _, name := range tasks {
		receipt, err := s.service.Enqueue(r.Context(), domain.TaskRequest{
			Task:          name,
			Fingerprint:   fingerprint,
			Regions:       req.Regions,
			PropertyTypes: req.PropertyTypes,
		})
		if err != nil {
			s.logger.Error("enqueue failed", zap.String("task", name), zap.Error(err))
			s.respondWithError(w, http.StatusServiceUnavailable, "task queue unavailable")
			return
		}
		anyEnqueued = anyEnqueued || receipt.Enqueued
		receipts = append(receipts, taskReceipt{
			Task:     name,
			Enqueued: receipt.Enqueued,
			TaskID:   receipt.TaskID,
			Reason:   receipt.Reason,
		})
	}

	s.respondTrigger(w, anyEnqueued, receipts)
}

func (s *Server) handleCrawlTrades(w http.ResponseWriter, r *http.Request) {
	var req crawlTradesRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateRegions(req.Regions); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Months < 0 || req.Months > 24 {
		s.respondWithError(w, http.StatusBadRequest, "months must be between 0 and 24")
		return
	}

	receipt, err := s.service.Enqueue(r.Context(), domain.TaskRequest{
		Task:        domain.TaskCrawlRealTrade,
		Fingerprint: triggerFingerprint(req.Force),
		Regions:     req.Regions,
		Months:      req.Months,
	})
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("task", domain.TaskCrawlRealTrade), zap.Error(err))
		s.respondWithError(w, http.StatusServiceUnavailable, "task queue unavailable")
		return
	}

	s.respondTrigger(w, receipt.Enqueued, []taskReceipt{{
		Task:     domain.TaskCrawlRealTrade,
		Enqueued: receipt.Enqueued,
		TaskID:   receipt.TaskID,
		Reason:   receipt.Reason,
	}})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	payload, err := s.results.GetResult(r.Context(), taskID)
	if err != nil {
		s.logger.Error("failed to load task result", zap.String("task_id", taskID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not retrieve task result")
		return
	}
	if payload == nil {
		s.respondWithError(w, http.StatusNotFound, "task result not found or expired")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

type listingsResponse struct {
	Count    int              `json:"count"`
	CacheHit bool             `json:"cache_hit"`
	Listings []domain.Listing `json:"listings"`
}

func (s *Server) handleSearchListings(w http.ResponseWriter, r *http.Request) {
	filter, err := listingFilterFromQuery(r.URL.Query())
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cacheKey := searchCacheKey("listings", filter)
	if cached := s.cacheLookup(r.Context(), cacheKey); cached != nil {
		var rows []domain.Listing
		if err := json.Unmarshal(cached, &rows); err == nil {
			s.respondWithJSON(w, http.StatusOK, listingsResponse{Count: len(rows), CacheHit: true, Listings: rows})
			return
		}
	}

	rows, err := s.store.SearchListings(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing search failed", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "listing search failed")
		return
	}
	if rows == nil {
		rows = []domain.Listing{}
	}

	s.cacheStore(r.Context(), cacheKey, rows)
	s.respondWithJSON(w, http.StatusOK, listingsResponse{Count: len(rows), CacheHit: false, Listings: rows})
}

type tradesResponse struct {
	Count    int                `json:"count"`
	CacheHit bool               `json:"cache_hit"`
	Trades   []domain.RealTrade `json:"trades"`
}

func (s *Server) handleSearchTrades(w http.ResponseWriter, r *http.Request) {
	filter, err := tradeFilterFromQuery(r.URL.Query())
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cacheKey := searchCacheKey("trades", filter)
	if cached := s.cacheLookup(r.Context(), cacheKey); cached != nil {
		var rows []domain.RealTrade
		if err := json.Unmarshal(cached, &rows); err == nil {
			s.respondWithJSON(w, http.StatusOK, tradesResponse{Count: len(rows), CacheHit: true, Trades: rows})
			return
		}
	}

	rows, err := s.store.SearchTrades(r.Context(), filter)
	if err != nil {
		s.logger.Error("trade search failed", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "trade search failed")
		return
	}
	if rows == nil {
		rows = []domain.RealTrade{}
	}

	s.cacheStore(r.Context(), cacheKey, rows)
	s.respondWithJSON(w, http.StatusOK, tradesResponse{Count: len(rows), CacheHit: false, Trades: rows})
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	var districts []region.District
	if query == "" {
		districts = region.All()
	} else {
		districts = region.Search(query, 20)
	}
	if districts == nil {
		districts = []region.District{}
	}
	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"count":   len(districts),
		"regions": districts,
	})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]any)

	if err := s.store.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if err := s.results.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
		if depth, err := s.results.QueueSize(ctx); err == nil {
			healthStatus["queue_depth"] = depth
		}
	}

	isHealthy := healthStatus["postgres"] == "healthy" && healthStatus["redis"] == "healthy"
	if !isHealthy {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}

	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondTrigger(w http.ResponseWriter, anyEnqueued bool, receipts []taskReceipt) {
	status := "duplicate"
	code := http.StatusConflict
	if anyEnqueued {
		status = "enqueued"
		code = http.StatusAccepted
	}
	s.respondWithJSON(w, code, map[string]any{
		"status": status,
		"tasks":  receipts,
	})
}

func (s *Server) cacheLookup(ctx context.Context, key string) []byte {
	payload, err := s.results.CacheGet(ctx, key)
	if err != nil {
		s.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if payload == nil {
		s.metrics.IncCacheRequests("miss")
		return nil
	}
	s.metrics.IncCacheRequests("hit")
	return payload
}

func (s *Server) cacheStore(ctx context.Context, key string, rows any) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := s.results.CacheSet(ctx, key, payload, s.config.CacheTTL()); err != nil {
		s.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// decodeBody decodes a JSON body; an empty body yields the zero value so
// trigger endpoints can be called without arguments.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// triggerFingerprint distinguishes manual triggers from scheduled ones; a
// forced trigger gets a unique fingerprint that bypasses both dedup phases.
func triggerFingerprint(force bool) string {
	if force {
		return "force-" + time.Now().UTC().Format(time.RFC3339)
	}
	return "manual"
}

func validateRegions(codes []string) error {
	for _, code := range codes {
		if _, ok := region.ByCode(code); !ok {
			return fmt.Errorf("unknown region code %q", code)
		}
	}
	return nil
}

// searchCacheKey hashes the canonical filter so equivalent searches share a
// cache entry.
func searchCacheKey(kind string, filter any) string {
	payload, _ := json.Marshal(filter)
	sum := sha256.Sum256(payload)
	return kind + ":" + hex.EncodeToString(sum[:])
}

func listingFilterFromQuery(q url.Values) (domain.ListingFilter, error) {
	filter := domain.ListingFilter{
		RegionCode:   q.Get("region_code"),
		Dong:         q.Get("dong"),
		PropertyType: q.Get("property_type"),
		RentType:     q.Get("rent_type"),
	}
	if filter.RegionCode != "" {
		if _, ok := region.ByCode(filter.RegionCode); !ok {
			return filter, fmt.Errorf("unknown region code %q", filter.RegionCode)
		}
	}

	var err error
	if filter.MinDeposit, err = queryInt(q, "min_deposit"); err != nil {
		return filter, err
	}
	if filter.MaxDeposit, err = queryInt(q, "max_deposit"); err != nil {
		return filter, err
	}
	if filter.MinRent, err = queryInt(q, "min_rent"); err != nil {
		return filter, err
	}
	if filter.MaxRent, err = queryInt(q, "max_rent"); err != nil {
		return filter, err
	}
	if filter.MinAreaM2, err = queryFloat(q, "min_area_m2"); err != nil {
		return filter, err
	}
	if filter.MaxAreaM2, err = queryFloat(q, "max_area_m2"); err != nil {
		return filter, err
	}
	if filter.MinFloor, err = queryInt(q, "min_floor"); err != nil {
		return filter, err
	}
	if filter.MaxFloor, err = queryInt(q, "max_floor"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(q, "limit"); err != nil {
		return filter, err
	}
	filter.IncludeInactive = queryBool(q, "include_inactive")
	return filter, nil
}

func tradeFilterFromQuery(q url.Values) (domain.TradeFilter, error) {
	filter := domain.TradeFilter{
		RegionCode: q.Get("region_code"),
		Dong:       q.Get("dong"),
		RentType:   q.Get("rent_type"),
	}

	var err error
	if filter.MinYear, err = queryInt(q, "min_year"); err != nil {
		return filter, err
	}
	if filter.MaxDeposit, err = queryInt(q, "max_deposit"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(q, "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryInt(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}

func queryFloat(q url.Values, key string) (float64, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return f, nil
}

func queryBool(q url.Values, key string) bool {
	switch q.Get(key) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
