package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"event-pipeline/internal/config"
	"event-pipeline/internal/util"
)

var ErrDocumentNotFound = errors.New("document not found")

type ESClient struct {
	Client *elasticsearch.Client
	config *config.ElasticsearchConfig
	logger *zap.Logger
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.IsDevelopment(), // dev clusters use self-signed certs
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := NewESClient(client, &esConfig, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := esClient.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}

	logger.Info("Elasticsearch client initialized",
		zap.String("url", esConfig.URL),
		zap.String("index", esConfig.Index),
	)

	return esClient, nil
}

// NewESClient wraps an existing client, e.g. one pointed at a test server.
func NewESClient(client *elasticsearch.Client, cfg *config.ElasticsearchConfig, logger *zap.Logger) *ESClient {
	if logger == nil {
		logger = util.Get()
	}
	return &ESClient{Client: client, config: cfg, logger: logger}
}

func (e *ESClient) Close() {
	e.logger.Info("Elasticsearch client shutdown")
}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}

	e.logger.Debug("Elasticsearch health check passed")
	return nil
}

func (e *ESClient) Search(ctx context.Context, index string, query map[string]any) (*esapi.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("error encoding query: %w", err)
	}

	res, err := e.Client.Search(
		e.Client.Search.WithContext(ctx),
		e.Client.Search.WithIndex(index),
		e.Client.Search.WithBody(&buf),
		e.Client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing search: %w", err)
	}

	return res, nil
}

func (e *ESClient) GetDocument(ctx context.Context, index, id string) (*esapi.Response, error) {
	res, err := e.Client.Get(
		index,
		id,
		e.Client.Get.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error getting document: %w", err)
	}

	return res, nil
}

// Bulk sends an NDJSON body to the _bulk endpoint of index.
func (e *ESClient) Bulk(ctx context.Context, index string, body io.Reader) (*esapi.Response, error) {
	res, err := e.Client.Bulk(
		body,
		e.Client.Bulk.WithContext(ctx),
		e.Client.Bulk.WithIndex(index),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing bulk request: %w", err)
	}
	return res, nil
}

// EnsureIndex creates index with the given settings and mappings unless it exists.
func (e *ESClient) EnsureIndex(ctx context.Context, index string, body map[string]any) error {
	exists, err := e.Client.Indices.Exists([]string{index}, e.Client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error checking index: %w", err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("error encoding index body: %w", err)
	}
	res, err := e.Client.Indices.Create(index,
		e.Client.Indices.Create.WithContext(ctx),
		e.Client.Indices.Create.WithBody(&buf),
	)
	if err != nil {
		return fmt.Errorf("error creating index: %w", err)
	}
	if err := e.ParseResponse(res, nil); err != nil {
		return err
	}
	e.logger.Info("Elasticsearch index created", zap.String("index", index))
	return nil
}

// ParseResponse closes the body and decodes it into target when non-nil.
func (e *ESClient) ParseResponse(res *esapi.Response, target any) error {
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrDocumentNotFound
	}
	if res.IsError() {
		var body struct {
			Error struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			return fmt.Errorf("elasticsearch error: [%s]", res.Status())
		}
		return fmt.Errorf("elasticsearch error: [%s] %s: %s", res.Status(), body.Error.Type, body.Error.Reason)
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(target); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}

	return nil
}
