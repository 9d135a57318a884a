package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"event-pipeline/internal/monitoring"
	"event-pipeline/internal/normalize"
	"event-pipeline/internal/repository/elasticsearch"
	"event-pipeline/internal/util"
)

type SearchIndex interface {
	Search(ctx context.Context, req elasticsearch.SearchRequest) (*elasticsearch.SearchResult, error)
	Facets(ctx context.Context, query string) (elasticsearch.Facets, error)
	Suggest(ctx context.Context, prefix string) ([]normalize.SearchDocument, error)
	GetByID(ctx context.Context, id string) (*normalize.SearchDocument, error)
}

// SearchService is the full-text side of the query API.
type SearchService struct {
	index   SearchIndex
	metrics *monitoring.PipelineMetrics
}

func NewSearchService(index SearchIndex, metrics *monitoring.PipelineMetrics) *SearchService {
	return &SearchService{index: index, metrics: metrics}
}

func (s *SearchService) observe(query string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}

// searchText cleans free text bound for the index and rejects markup.
func searchText(field, s string) (string, error) {
	s = util.SanitizeInput(s)
	if util.ContainsSuspicious(s) {
		return "", fmt.Errorf("%w: %s contains disallowed characters", ErrInvalidInput, field)
	}
	return s, nil
}

func (s *SearchService) Search(ctx context.Context, req elasticsearch.SearchRequest) (*elasticsearch.SearchResult, error) {
	query, err := searchText("q", req.Query)
	if err != nil {
		return nil, err
	}
	req.Query = query
	defer s.observe("search", time.Now())
	return s.index.Search(ctx, req)
}

func (s *SearchService) Facets(ctx context.Context, query string) (elasticsearch.Facets, error) {
	query, err := searchText("q", query)
	if err != nil {
		return nil, err
	}
	defer s.observe("facets", time.Now())
	return s.index.Facets(ctx, query)
}

func (s *SearchService) Suggest(ctx context.Context, prefix string) ([]normalize.SearchDocument, error) {
	prefix, err := searchText("prefix", prefix)
	if err != nil {
		return nil, err
	}
	defer s.observe("suggest", time.Now())
	return s.index.Suggest(ctx, prefix)
}

func (s *SearchService) GetEvent(ctx context.Context, id string) (*normalize.SearchDocument, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	defer s.observe("get_event", time.Now())
	return s.index.GetByID(ctx, id)
}
