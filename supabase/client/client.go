// Package client is a small Supabase client covering PostgREST queries,
// RPC calls and object storage.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a Supabase REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	requestID  func(context.Context) string
}

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
	// RequestID derives X-Request-ID from the request context when no id
	// was attached with WithRequestID, e.g. the HTTP trace id.
	RequestID func(context.Context) string
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		requestID:  cfg.RequestID,
	}, nil
}

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// =============================================================================
// Database Operations (PostgREST)
// =============================================================================

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// QueryBuilder builds PostgREST queries. Builders are single use.
type QueryBuilder struct {
	client     *Client
	table      string
	columns    string
	filters    url.Values
	orders     []string
	limit      int
	offset     int
	single     bool
	count      string
	upsert     bool
	ignoreDups bool
	onConflict string
}

func (q *QueryBuilder) addFilter(column, op string, value any) *QueryBuilder {
	if q.filters == nil {
		q.filters = url.Values{}
	}
	q.filters.Add(column, fmt.Sprintf("%s.%v", op, value))
	return q
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder { return q.addFilter(column, "eq", value) }

// Is adds an IS filter (for null, true, false).
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder { return q.addFilter(column, "is", value) }

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Single expects exactly one row; PostgREST answers 406 with code PGRST116
// otherwise.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// Count asks PostgREST for a row count (exact, planned or estimated).
func (q *QueryBuilder) Count(countType string) *QueryBuilder {
	q.count = countType
	return q
}

// Upsert turns the next insert into an upsert resolved on onConflict.
func (q *QueryBuilder) Upsert(onConflict string) *QueryBuilder {
	q.upsert = true
	q.onConflict = onConflict
	return q
}

// IgnoreDuplicates turns the next insert into an insert-or-skip on onConflict.
func (q *QueryBuilder) IgnoreDuplicates(onConflict string) *QueryBuilder {
	q.ignoreDups = true
	q.onConflict = onConflict
	return q
}

func (q *QueryBuilder) endpoint(withReadParams bool) string {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)

	params := url.Values{}
	for k, vs := range q.filters {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	if withReadParams {
		if q.columns != "" {
			params.Set("select", q.columns)
		}
		if len(q.orders) > 0 {
			params.Set("order", strings.Join(q.orders, ","))
		}
		if q.limit > 0 {
			params.Set("limit", strconv.Itoa(q.limit))
		}
		if q.offset > 0 {
			params.Set("offset", strconv.Itoa(q.offset))
		}
	}
	if q.onConflict != "" {
		params.Set("on_conflict", q.onConflict)
	}
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// Execute executes a SELECT query.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.endpoint(true), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req)
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}
	if q.count != "" {
		req.Header.Set("Prefer", "count="+q.count)
	}
	return q.client.do(req)
}

// ExecuteInsert inserts data (a struct, map or slice) and returns the stored
// representation.
func (q *QueryBuilder) ExecuteInsert(ctx context.Context, data any) (*Response, error) {
	req, err := q.client.newJSONRequest(ctx, http.MethodPost, q.endpoint(false), data)
	if err != nil {
		return nil, err
	}
	prefer := []string{"return=representation"}
	switch {
	case q.upsert:
		prefer = append(prefer, "resolution=merge-duplicates")
	case q.ignoreDups:
		prefer = append(prefer, "resolution=ignore-duplicates")
	}
	req.Header.Set("Prefer", strings.Join(prefer, ","))
	return q.client.do(req)
}

// ExecuteUpdate patches rows matching the filters.
func (q *QueryBuilder) ExecuteUpdate(ctx context.Context, data any) (*Response, error) {
	if len(q.filters) == 0 {
		return nil, errors.New("refusing unfiltered update")
	}
	req, err := q.client.newJSONRequest(ctx, http.MethodPatch, q.endpoint(false), data)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")
	return q.client.do(req)
}

// =============================================================================
// RPC (Stored Procedures)
// =============================================================================

// RPC calls a stored procedure.
func (c *Client) RPC(ctx context.Context, fn string, params any) (*Response, error) {
	if params == nil {
		params = map[string]any{}
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, fn), params)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// =============================================================================
// Storage Operations
// =============================================================================

// Storage returns a storage bucket client.
func (c *Client) Storage(bucket string) *Bucket {
	return &Bucket{client: c, bucket: bucket}
}

// Bucket handles object storage operations within one bucket.
type Bucket struct {
	client *Client
	bucket string
}

// Upload stores data at path. Existing objects are not overwritten.
func (b *Bucket) Upload(ctx context.Context, path string, data io.Reader, contentType string) (*Response, error) {
	reqURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, b.bucket, strings.TrimPrefix(path, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, data)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	req.Header.Set("Cache-Control", "max-age=3600")
	return b.client.do(req)
}

// PublicURL returns the public URL for an object in a public bucket.
func (b *Bucket) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, b.bucket, strings.TrimPrefix(path, "/"))
}

// =============================================================================
// Response Types
// =============================================================================

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Total parses the row count from Content-Range ("0-9/42"). It returns -1
// when the server did not report one.
func (r *Response) Total() int {
	cr := r.Headers.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 {
		return -1
	}
	n, err := strconv.Atoi(cr[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

// APIError is a PostgREST or storage error payload.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error %d: %s", e.StatusCode, e.Message)
}

// Err returns an *APIError if the response indicates failure.
func (r *Response) Err() error {
	if r.StatusCode < 400 {
		return nil
	}
	apiErr := &APIError{StatusCode: r.StatusCode}
	// storage errors use {"error": ...}, PostgREST uses {"code","message",...}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
		Hint    string `json:"hint"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
		apiErr.Details = payload.Details
		apiErr.Hint = payload.Hint
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(r.StatusCode)
	}
	return apiErr
}

// =============================================================================
// Internal Methods
// =============================================================================

func (c *Client) newJSONRequest(ctx context.Context, method, reqURL string, data any) (*http.Request, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	id := GetRequestID(req.Context())
	if id == "" && c.requestID != nil {
		id = c.requestID(req.Context())
	}
	if id != "" {
		req.Header.Set("X-Request-ID", id)
	}
}

const maxResponseBytes = 8 << 20

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}, nil
}
