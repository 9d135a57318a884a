package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"event-pipeline/internal/client"
	"event-pipeline/internal/normalize"
	"event-pipeline/internal/util"
)

var ErrBulkFailed = errors.New("bulk indexing failed")

// Mapping is the index definition for search documents. Identity fields are
// keywords so filters, facets and prefix suggestions work on exact values.
// Searchable keywords also carry an analyzed "text" subfield for word matches.
var Mapping = map[string]any{
	"settings": map[string]any{
		"number_of_shards":   1,
		"number_of_replicas": 0,
	},
	"mappings": map[string]any{
		"dynamic": "strict",
		"properties": map[string]any{
			"id":             keyword(),
			"type":           keyword(),
			"timestamp":      map[string]any{"type": "long"},
			"sourceIp":       searchableKeyword(),
			"userId":         searchableKeyword(),
			"action":         keyword(),
			"success":        map[string]any{"type": "boolean"},
			"failureReason":  map[string]any{"type": "text"},
			"userAgent":      map[string]any{"type": "text"},
			"method":         keyword(),
			"path":           searchableKeyword(),
			"statusCode":     map[string]any{"type": "integer"},
			"responseTimeMs": map[string]any{"type": "integer"},
			"requestSize":    map[string]any{"type": "integer"},
			"responseSize":   map[string]any{"type": "integer"},
			"recipientEmail": searchableKeyword(),
			"templateId":     keyword(),
			"messageId":      keyword(),
			"bounceType":     keyword(),
			"geoLocation": map[string]any{
				"properties": map[string]any{
					"country":   searchableKeyword(),
					"city":      searchableKeyword(),
					"latitude":  map[string]any{"type": "double"},
					"longitude": map[string]any{"type": "double"},
				},
			},
		},
	},
}

func keyword() map[string]any {
	return map[string]any{"type": "keyword"}
}

func searchableKeyword() map[string]any {
	return map[string]any{
		"type":   "keyword",
		"fields": map[string]any{textSubfield: map[string]any{"type": "text"}},
	}
}

// SearchResult is one page of hits.
type SearchResult struct {
	Hits             []normalize.SearchDocument `json:"hits"`
	Query            string                     `json:"query"`
	Limit            int                        `json:"limit"`
	Offset           int                        `json:"offset"`
	EstimatedTotal   int64                      `json:"estimatedTotalHits"`
	ProcessingTimeMs int64                      `json:"processingTimeMs"`
}

// Facets maps a filterable field to value counts.
type Facets map[string]map[string]int64

type EventIndex struct {
	es    *client.ESClient
	index string
}

func NewEventIndex(es *client.ESClient, index string) *EventIndex {
	return &EventIndex{es: es, index: index}
}

func (i *EventIndex) Name() string {
	return i.index
}

func (i *EventIndex) EnsureIndex(ctx context.Context) error {
	return i.es.EnsureIndex(ctx, i.index, Mapping)
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// IndexDocuments upserts docs by id in one bulk request.
func (i *EventIndex) IndexDocuments(ctx context.Context, docs []normalize.SearchDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_id": doc.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("error encoding bulk meta: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("error encoding document %s: %w", doc.ID, err)
		}
	}

	res, err := i.es.Bulk(ctx, i.index, &buf)
	if err != nil {
		return err
	}
	var out bulkResponse
	if err := i.es.ParseResponse(res, &out); err != nil {
		return err
	}
	if !out.Errors {
		util.Debug("Indexed documents", zap.String("index", i.index), zap.Int("count", len(docs)))
		return nil
	}

	failed := 0
	var first string
	for _, item := range out.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			failed++
			if first == "" {
				first = fmt.Sprintf("%s: %s", result.ID, result.Error.Reason)
			}
		}
	}
	return fmt.Errorf("%w: %d of %d documents (first: %s)", ErrBulkFailed, failed, len(docs), first)
}

type hitsResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source normalize.SearchDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (i *EventIndex) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	body, err := BuildSearchBody(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := i.es.Search(ctx, i.index, body)
	if err != nil {
		return nil, err
	}
	var out hitsResponse
	if err := i.es.ParseResponse(res, &out); err != nil {
		return nil, err
	}

	result := &SearchResult{
		Hits:             make([]normalize.SearchDocument, 0, len(out.Hits.Hits)),
		Query:            req.Query,
		Limit:            req.Limit,
		Offset:           req.Offset,
		EstimatedTotal:   out.Hits.Total.Value,
		ProcessingTimeMs: out.Took,
	}
	for _, h := range out.Hits.Hits {
		result.Hits = append(result.Hits, h.Source)
	}

	util.Debug("Search executed",
		zap.String("query", req.Query),
		zap.Strings("filters", req.Filters),
		zap.Int("hits", len(result.Hits)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

type aggsResponse struct {
	Aggregations map[string]struct {
		Buckets []struct {
			Key         any    `json:"key"`
			KeyAsString string `json:"key_as_string"`
			DocCount    int64  `json:"doc_count"`
		} `json:"buckets"`
	} `json:"aggregations"`
}

// Facets returns value counts for the filterable fields.
func (i *EventIndex) Facets(ctx context.Context, query string) (Facets, error) {
	res, err := i.es.Search(ctx, i.index, BuildFacetBody(query))
	if err != nil {
		return nil, err
	}
	var out aggsResponse
	if err := i.es.ParseResponse(res, &out); err != nil {
		return nil, err
	}

	facets := Facets{}
	for field, agg := range out.Aggregations {
		counts := make(map[string]int64, len(agg.Buckets))
		for _, b := range agg.Buckets {
			key := b.KeyAsString
			if key == "" {
				key = bucketKey(b.Key)
			}
			counts[key] = b.DocCount
		}
		facets[field] = counts
	}
	return facets, nil
}

func bucketKey(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(k)
	}
	return fmt.Sprint(v)
}

// Suggest returns up to five recent documents whose identity fields start with prefix.
func (i *EventIndex) Suggest(ctx context.Context, prefix string) ([]normalize.SearchDocument, error) {
	if prefix == "" {
		return []normalize.SearchDocument{}, nil
	}
	res, err := i.es.Search(ctx, i.index, BuildSuggestBody(prefix))
	if err != nil {
		return nil, err
	}
	var out hitsResponse
	if err := i.es.ParseResponse(res, &out); err != nil {
		return nil, err
	}
	docs := make([]normalize.SearchDocument, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		docs = append(docs, h.Source)
	}
	return docs, nil
}

// GetByID returns client.ErrDocumentNotFound for an unknown id.
func (i *EventIndex) GetByID(ctx context.Context, id string) (*normalize.SearchDocument, error) {
	res, err := i.es.GetDocument(ctx, i.index, id)
	if err != nil {
		return nil, err
	}
	var out struct {
		Found  bool                     `json:"found"`
		Source normalize.SearchDocument `json:"_source"`
	}
	if err := i.es.ParseResponse(res, &out); err != nil {
		return nil, err
	}
	if !out.Found {
		return nil, client.ErrDocumentNotFound
	}
	return &out.Source, nil
}
