package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"event-pipeline/internal/client"
	"event-pipeline/internal/models"
	"event-pipeline/internal/normalize"
	"event-pipeline/internal/repository/clickhouse"
	"event-pipeline/internal/repository/elasticsearch"
	"event-pipeline/internal/repository/scylla"
	"event-pipeline/internal/rollup"
	"event-pipeline/internal/service"
	"event-pipeline/internal/util"
)

// MetricsQueries is implemented by service.MetricsService.
type MetricsQueries interface {
	Rollup(ctx context.Context, timeRange, interval string) ([]rollup.RollupMetrics, error)
	Hourly(ctx context.Context, timeRange string) ([]rollup.HourlyMetrics, error)
	DataQuality(ctx context.Context, timeRange, interval string) ([]service.DataQualityReport, error)
	EventCounts(ctx context.Context, timeRange string) ([]clickhouse.EventCount, error)
	Suspicious(ctx context.Context, timeRange string) (*service.SuspiciousReport, error)
	Flags(ctx context.Context, userID string, limit int) ([]models.SecurityEvent, error)
}

// SearchQueries is implemented by service.SearchService.
type SearchQueries interface {
	Search(ctx context.Context, req elasticsearch.SearchRequest) (*elasticsearch.SearchResult, error)
	Facets(ctx context.Context, query string) (elasticsearch.Facets, error)
	Suggest(ctx context.Context, prefix string) ([]normalize.SearchDocument, error)
	GetEvent(ctx context.Context, id string) (*normalize.SearchDocument, error)
}

// QueryHandler serves the read-only metrics and search API. Either
// dependency may be nil; its routes then answer 503.
type QueryHandler struct {
	metrics MetricsQueries
	search  SearchQueries
	logger  *zap.Logger
}

func NewQueryHandler(metrics MetricsQueries, search SearchQueries, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		metrics: metrics,
		search:  search,
		logger:  logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta echoes the effective query window or paging.
type Meta struct {
	TimeRange string `json:"time_range,omitempty"`
	Interval  string `json:"interval,omitempty"`
	Total     int    `json:"total"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

var errUnavailable = errors.New("backing store unavailable")

func (h *QueryHandler) RegisterRoutes(router chi.Router) {
	router.Route("/metrics", func(r chi.Router) {
		r.Get("/", h.GetRollup)
		r.Get("/hourly", h.GetHourly)
		r.Get("/event-counts", h.GetEventCounts)
	})
	router.Get("/data-quality", h.GetDataQuality)
	router.Route("/suspicious", func(r chi.Router) {
		r.Get("/", h.GetSuspicious)
		r.Get("/flags/{userID}", h.GetFlags)
	})
	router.Route("/search", func(r chi.Router) {
		r.Post("/", h.Search)
		r.Get("/facets", h.GetFacets)
		r.Get("/suggest", h.GetSuggestions)
	})
	router.Get("/events/{id}", h.GetEvent)
}

func windowParams(r *http.Request) (string, string) {
	timeRange := r.URL.Query().Get("timeRange")
	if timeRange == "" {
		timeRange = rollup.DefaultTimeRange
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = string(rollup.IntervalMinute)
	}
	return timeRange, interval
}

// GetRollup handles GET /metrics?timeRange=1 HOUR&interval=1m
func (h *QueryHandler) GetRollup(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Metrics are unavailable")
		return
	}
	timeRange, interval := windowParams(r)

	results, err := h.metrics.Rollup(r.Context(), timeRange, interval)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute rollup metrics")
		return
	}
	resp := successResponse(results, "Rollup metrics retrieved successfully")
	resp.Meta = &Meta{TimeRange: timeRange, Interval: interval, Total: len(results)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) GetHourly(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Metrics are unavailable")
		return
	}
	timeRange, _ := windowParams(r)

	results, err := h.metrics.Hourly(r.Context(), timeRange)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute hourly metrics")
		return
	}
	resp := successResponse(results, "Hourly metrics retrieved successfully")
	resp.Meta = &Meta{TimeRange: timeRange, Interval: string(rollup.IntervalHour), Total: len(results)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) GetEventCounts(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Metrics are unavailable")
		return
	}
	timeRange, _ := windowParams(r)

	counts, err := h.metrics.EventCounts(r.Context(), timeRange)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to count events")
		return
	}
	resp := successResponse(counts, "Event counts retrieved successfully")
	resp.Meta = &Meta{TimeRange: timeRange, Total: len(counts)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) GetDataQuality(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Metrics are unavailable")
		return
	}
	timeRange, interval := windowParams(r)

	reports, err := h.metrics.DataQuality(r.Context(), timeRange, interval)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute data quality")
		return
	}
	resp := successResponse(reports, "Data quality metrics retrieved successfully")
	resp.Meta = &Meta{TimeRange: timeRange, Interval: interval, Total: len(reports)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) GetSuspicious(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Metrics are unavailable")
		return
	}
	startTime := time.Now()
	timeRange, _ := windowParams(r)

	report, err := h.metrics.Suspicious(r.Context(), timeRange)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to detect suspicious activity")
		return
	}
	resp := successResponse(report, "Suspicious activity retrieved successfully")
	resp.Meta = &Meta{TimeRange: timeRange, Total: len(report.Events)}
	h.respondWithJSON(w, http.StatusOK, resp)
	h.logger.Debug("Suspicious activity computed",
		util.Int("flagged_users", len(report.Users)),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *QueryHandler) GetFlags(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Metrics are unavailable")
		return
	}
	userID := chi.URLParam(r, "userID")
	limit, err := intParam(r, "limit", scylla.DefaultFlagLimit)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid limit")
		return
	}

	flags, err := h.metrics.Flags(r.Context(), userID, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list high-risk flags")
		return
	}
	resp := successResponse(flags, "High-risk flags retrieved successfully")
	resp.Meta = &Meta{Total: len(flags), Limit: limit}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// Search handles POST /search with a JSON SearchRequest body.
func (h *QueryHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Search is unavailable")
		return
	}
	var req elasticsearch.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.search.Search(r.Context(), req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Search failed")
		return
	}
	resp := successResponse(result, "Search completed successfully")
	resp.Meta = &Meta{Total: len(result.Hits), Limit: result.Limit, Offset: result.Offset}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) GetFacets(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Search is unavailable")
		return
	}
	facets, err := h.search.Facets(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute facets")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(facets, "Facets retrieved successfully"))
}

func (h *QueryHandler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Search is unavailable")
		return
	}
	docs, err := h.search.Suggest(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to fetch suggestions")
		return
	}
	resp := successResponse(docs, "Suggestions retrieved successfully")
	resp.Meta = &Meta{Total: len(docs)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errUnavailable, "Search is unavailable")
		return
	}
	doc, err := h.search.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get event")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(doc, "Event retrieved successfully"))
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// Helper Methods

func (h *QueryHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *QueryHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *QueryHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, rollup.ErrInvalidTimeRange),
		errors.Is(err, rollup.ErrInvalidInterval),
		errors.Is(err, elasticsearch.ErrInvalidQuery),
		errors.Is(err, scylla.ErrInvalidFlag),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, client.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrFlagStoreDisabled),
		errors.Is(err, service.ErrDependencyMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
