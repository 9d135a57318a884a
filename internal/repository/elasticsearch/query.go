package elasticsearch

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var ErrInvalidQuery = errors.New("invalid search query")

const (
	DefaultLimit = 50
	MaxLimit     = 100
	SuggestLimit = 5
	DefaultSort  = "timestamp:desc"
)

var (
	SearchableFields = []string{"userId", "sourceIp", "recipientEmail", "path", "geoLocation.country", "geoLocation.city"}
	FilterableFields = []string{"type", "timestamp", "success", "action", "method", "statusCode", "bounceType", "geoLocation.country"}
	SortableFields   = []string{"timestamp", "responseTimeMs"}
	SuggestFields    = []string{"userId", "sourceIp", "recipientEmail", "path"}
)

const textSubfield = "text"

// MatchFields lists the fields a free-text query runs against: the exact
// keyword and its analyzed subfield for every searchable field.
func MatchFields() []string {
	fields := make([]string, 0, 2*len(SearchableFields))
	for _, f := range SearchableFields {
		fields = append(fields, f, f+"."+textSubfield)
	}
	return fields
}

type fieldKind int

const (
	kindKeyword fieldKind = iota
	kindNumber
	kindBool
)

var fieldKinds = map[string]fieldKind{
	"timestamp":      kindNumber,
	"statusCode":     kindNumber,
	"responseTimeMs": kindNumber,
	"success":        kindBool,
}

// SearchRequest is the search query surface. Filters are "field op value"
// expressions; Sort entries are "field:asc" or "field:desc".
type SearchRequest struct {
	Query   string   `json:"query"`
	Filters []string `json:"filters,omitempty"`
	Sort    []string `json:"sort,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
}

// Filter is one parsed filter expression.
type Filter struct {
	Field string
	Op    string
	Value any
}

var filterPattern = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z.]*)\s*(!=|>=|<=|=|>|<)\s*(.+?)\s*$`)

// ParseFilter parses "statusCode >= 500" or "type = 'email_send'".
func ParseFilter(expr string) (Filter, error) {
	m := filterPattern.FindStringSubmatch(expr)
	if m == nil {
		return Filter{}, fmt.Errorf("%w: filter %q is not \"field op value\"", ErrInvalidQuery, expr)
	}
	field, op, raw := m[1], m[2], unquote(m[3])
	if !slices.Contains(FilterableFields, field) {
		return Filter{}, fmt.Errorf("%w: %q is not filterable", ErrInvalidQuery, field)
	}

	var value any = raw
	switch fieldKinds[field] {
	case kindNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %s expects a number, got %q", ErrInvalidQuery, field, raw)
		}
		value = n
	case kindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %s expects true or false, got %q", ErrInvalidQuery, field, raw)
		}
		value = b
	default:
		if op != "=" && op != "!=" {
			return Filter{}, fmt.Errorf("%w: %s supports only = and !=", ErrInvalidQuery, field)
		}
	}
	return Filter{Field: field, Op: op, Value: value}, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Sort is one parsed sort entry.
type Sort struct {
	Field string
	Desc  bool
}

func ParseSort(expr string) (Sort, error) {
	field, dir, ok := strings.Cut(strings.TrimSpace(expr), ":")
	if !ok {
		dir = "asc"
	}
	if !slices.Contains(SortableFields, field) {
		return Sort{}, fmt.Errorf("%w: %q is not sortable", ErrInvalidQuery, field)
	}
	switch strings.ToLower(dir) {
	case "asc":
		return Sort{Field: field}, nil
	case "desc":
		return Sort{Field: field, Desc: true}, nil
	}
	return Sort{}, fmt.Errorf("%w: sort direction %q", ErrInvalidQuery, dir)
}

// Normalize applies defaults and checks paging bounds.
func (r SearchRequest) Normalize() (SearchRequest, error) {
	if r.Limit == 0 {
		r.Limit = DefaultLimit
	}
	if r.Limit < 1 || r.Limit > MaxLimit {
		return r, fmt.Errorf("%w: limit %d outside [1,%d]", ErrInvalidQuery, r.Limit, MaxLimit)
	}
	if r.Offset < 0 {
		return r, fmt.Errorf("%w: offset %d is negative", ErrInvalidQuery, r.Offset)
	}
	if len(r.Sort) == 0 {
		r.Sort = []string{DefaultSort}
	}
	r.Query = strings.TrimSpace(r.Query)
	return r, nil
}

// BuildSearchBody turns a request into an Elasticsearch query DSL body.
func BuildSearchBody(req SearchRequest) (map[string]any, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	boolQuery := map[string]any{}
	if req.Query != "" {
		boolQuery["must"] = []any{map[string]any{
			"multi_match": map[string]any{
				"query":   req.Query,
				"fields":  MatchFields(),
				"type":    "best_fields",
				"lenient": true,
			},
		}}
	}

	var filters, mustNot []any
	for _, expr := range req.Filters {
		f, err := ParseFilter(expr)
		if err != nil {
			return nil, err
		}
		switch f.Op {
		case "=":
			filters = append(filters, term(f.Field, f.Value))
		case "!=":
			mustNot = append(mustNot, term(f.Field, f.Value))
		default:
			filters = append(filters, map[string]any{
				"range": map[string]any{f.Field: map[string]any{rangeOps[f.Op]: f.Value}},
			})
		}
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}

	sorts := make([]any, 0, len(req.Sort)+1)
	for _, expr := range req.Sort {
		s, err := ParseSort(expr)
		if err != nil {
			return nil, err
		}
		order := "asc"
		if s.Desc {
			order = "desc"
		}
		sorts = append(sorts, map[string]any{s.Field: map[string]any{"order": order, "unmapped_type": "long"}})
	}
	sorts = append(sorts, map[string]any{"id": map[string]any{"order": "asc"}})

	query := map[string]any{"match_all": map[string]any{}}
	if len(boolQuery) > 0 {
		query = map[string]any{"bool": boolQuery}
	}

	return map[string]any{
		"query":            query,
		"sort":             sorts,
		"from":             req.Offset,
		"size":             req.Limit,
		"track_total_hits": true,
	}, nil
}

var rangeOps = map[string]string{">": "gt", ">=": "gte", "<": "lt", "<=": "lte"}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

// BuildFacetBody counts values of every filterable field except timestamp.
func BuildFacetBody(query string) map[string]any {
	aggs := map[string]any{}
	for _, f := range FilterableFields {
		if f == "timestamp" {
			continue
		}
		aggs[f] = map[string]any{"terms": map[string]any{"field": f, "size": 50}}
	}
	body := map[string]any{"size": 0, "aggs": aggs}
	if q := strings.TrimSpace(query); q != "" {
		body["query"] = map[string]any{"multi_match": map[string]any{
			"query": q, "fields": MatchFields(), "lenient": true,
		}}
	}
	return body
}

// BuildSuggestBody matches prefixes of the identity fields.
func BuildSuggestBody(prefix string) map[string]any {
	should := make([]any, 0, len(SuggestFields))
	for _, f := range SuggestFields {
		should = append(should, map[string]any{
			"prefix": map[string]any{f: map[string]any{"value": prefix, "case_insensitive": true}},
		})
	}
	return map[string]any{
		"size":    SuggestLimit,
		"query":   map[string]any{"bool": map[string]any{"should": should, "minimum_should_match": 1}},
		"sort":    []any{map[string]any{"timestamp": map[string]any{"order": "desc"}}},
		"_source": append([]string{"id", "type", "timestamp"}, SuggestFields...),
	}
}
