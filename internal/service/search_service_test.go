package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/normalize"
	"event-pipeline/internal/repository/elasticsearch"
)

type fakeIndex struct {
	lastRequest elasticsearch.SearchRequest
	lastQuery   string
	lastPrefix  string
	lastID      string
}

func (f *fakeIndex) Search(_ context.Context, req elasticsearch.SearchRequest) (*elasticsearch.SearchResult, error) {
	f.lastRequest = req
	return &elasticsearch.SearchResult{Query: req.Query}, nil
}

func (f *fakeIndex) Facets(_ context.Context, query string) (elasticsearch.Facets, error) {
	f.lastQuery = query
	return elasticsearch.Facets{"type": {"api_request": 3}}, nil
}

func (f *fakeIndex) Suggest(_ context.Context, prefix string) ([]normalize.SearchDocument, error) {
	f.lastPrefix = prefix
	return []normalize.SearchDocument{}, nil
}

func (f *fakeIndex) GetByID(_ context.Context, id string) (*normalize.SearchDocument, error) {
	f.lastID = id
	return &normalize.SearchDocument{ID: id}, nil
}

func TestSearchService_TrimsInput(t *testing.T) {
	idx := &fakeIndex{}
	svc := NewSearchService(idx, nil)
	ctx := context.Background()

	res, err := svc.Search(ctx, elasticsearch.SearchRequest{Query: "  user_1 ", Filters: []string{"type = api_request"}})
	require.NoError(t, err)
	assert.Equal(t, "user_1", res.Query)
	assert.Equal(t, []string{"type = api_request"}, idx.lastRequest.Filters)

	_, err = svc.Facets(ctx, " login ")
	require.NoError(t, err)
	assert.Equal(t, "login", idx.lastQuery)

	_, err = svc.Suggest(ctx, "10.0 ")
	require.NoError(t, err)
	assert.Equal(t, "10.0", idx.lastPrefix)

	doc, err := svc.GetEvent(ctx, " evt-1 ")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", doc.ID)
}

func TestSearchService_GetEventRequiresID(t *testing.T) {
	_, err := NewSearchService(&fakeIndex{}, nil).GetEvent(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSearchService_RejectsMarkupInText(t *testing.T) {
	idx := &fakeIndex{}
	svc := NewSearchService(idx, nil)
	ctx := context.Background()

	_, err := svc.Search(ctx, elasticsearch.SearchRequest{Query: "<script>alert(1)</script>"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Facets(ctx, "${jndi:ldap://x}")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Suggest(ctx, "{{7*7}}")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, idx.lastRequest.Query)
	assert.Empty(t, idx.lastQuery)
	assert.Empty(t, idx.lastPrefix)
}

func TestSearchService_StripsControlCharacters(t *testing.T) {
	idx := &fakeIndex{}
	_, err := NewSearchService(idx, nil).Suggest(context.Background(), "10.0\x00.0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0", idx.lastPrefix)
}
