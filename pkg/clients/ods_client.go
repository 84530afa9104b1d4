package clients

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/idfm-analytics/transport-ingest/pkg/errors"
	"github.com/idfm-analytics/transport-ingest/pkg/jsonx"
)

// MaxPageSize is the hard per-request record limit enforced by the
// Explore v2 API. Requests never exceed it regardless of what the caller
// asks for.
const MaxPageSize = 100

// ODSConfig configures a client for one Opendatasoft dataset.
type ODSConfig struct {
	// BaseURL is the portal root, e.g.
	// https://data.iledefrance-mobilites.fr/api/explore/v2.1
	BaseURL string
	// DatasetID identifies the dataset on the portal
	DatasetID string
	// APIKey is an optional portal API key
	APIKey string
	// Timeout bounds each individual HTTP request (default 30s). Retried
	// attempts each time out independently.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	// Zero selects the default of 3; a negative value disables retries.
	MaxRetries int
	// RateLimitDelay is the minimum delay after each successful page
	// fetch. Zero disables pacing; the catalog defaults it to 500ms.
	RateLimitDelay time.Duration
}

func (c *ODSConfig) withDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// ODSClient is a client for the Opendatasoft Explore v2.1 records API.
// It owns its connection pool and retry/rate-limit configuration; no
// ambient global state is involved.
type ODSClient struct {
	config     ODSConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport
	datasetURL string
	retry      *RetryPolicy
	limiter    RateLimiter

	totalRequests  int64
	failedRequests int64
}

// RecordsPage is one bounded API response: the source-reported total
// record count plus up to MaxPageSize flat field-value records.
type RecordsPage struct {
	TotalCount int                      `json:"total_count"`
	Results    []map[string]interface{} `json:"results"`
}

// RecordsQuery holds the query parameters for a single page request.
// Where, Select and OrderBy are opaque expressions passed through to the
// source verbatim; the caller guarantees their correctness.
type RecordsQuery struct {
	Limit   int
	Offset  int
	Where   string
	Select  string
	OrderBy string
}

// AllRecordsQuery drives a full paginated fetch.
type AllRecordsQuery struct {
	Where   string
	Select  string
	OrderBy string
	// MaxRecords caps the returned records; 0 means unlimited. Pages are
	// always requested at full size, so the page that crosses the cap is
	// fetched whole and truncated client-side.
	MaxRecords int
}

// NewODSClient creates a client for one dataset.
func NewODSClient(config ODSConfig, logger *zap.Logger) *ODSClient {
	config.withDefaults()
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	client := &ODSClient{
		config:     config,
		logger:     logger.With(zap.String("component", "ods_client"), zap.String("dataset_id", config.DatasetID)),
		datasetURL: config.BaseURL + "/catalog/datasets/" + config.DatasetID + "/records",
		retry:      NewRetryPolicy(config.MaxRetries, 1*time.Second),
		limiter:    NewFixedDelayLimiter(config.RateLimitDelay),
	}

	client.transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if err := http2.ConfigureTransport(client.transport); err != nil {
		client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		Timeout:   config.Timeout,
	}

	return client
}

// DatasetURL returns the records endpoint this client targets.
func (c *ODSClient) DatasetURL() string {
	return c.datasetURL
}

// GetRecords fetches a single page of results. Transient failures
// (timeout, connection reset, HTTP 429/5xx) are retried with exponential
// backoff; other failures propagate immediately. After a successful fetch
// the rate limiter enforces the configured pacing delay.
func (c *ODSClient) GetRecords(ctx context.Context, query RecordsQuery) (*RecordsPage, error) {
	params := url.Values{}
	limit := query.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(query.Offset))
	if query.Where != "" {
		params.Set("where", query.Where)
	}
	if query.Select != "" {
		params.Set("select", query.Select)
	}
	if query.OrderBy != "" {
		params.Set("order_by", query.OrderBy)
	}

	var page *RecordsPage
	err := c.retry.Execute(ctx, func() error {
		fetched, fetchErr := c.fetchPage(ctx, c.datasetURL+"?"+params.Encode())
		if fetchErr != nil {
			return fetchErr
		}
		page = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Pace only completed successful fetches; retry backoff already
	// slows failed attempts.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limit wait interrupted")
	}

	return page, nil
}

// GetAllRecords fetches all records matching the query with automatic
// pagination. Pages are requested strictly sequentially in increasing
// offset order, so the result preserves the source sort order when an
// order_by expression is supplied.
//
// The source-reported total_count is not trusted as the sole stop
// condition: an empty page terminates the loop even if the claimed total
// was never reached.
func (c *ODSClient) GetAllRecords(ctx context.Context, query AllRecordsQuery) ([]map[string]interface{}, error) {
	var all []map[string]interface{}
	offset := 0
	totalCount := -1

	c.logger.Info("fetching all records",
		zap.String("where", query.Where),
		zap.Int("max_records", query.MaxRecords))

	for {
		page, err := c.GetRecords(ctx, RecordsQuery{
			Limit:   MaxPageSize,
			Offset:  offset,
			Where:   query.Where,
			Select:  query.Select,
			OrderBy: query.OrderBy,
		})
		if err != nil {
			return nil, err
		}

		if totalCount < 0 {
			totalCount = page.TotalCount
			c.logger.Info("total records available", zap.Int("total_count", totalCount))
		}

		if len(page.Results) == 0 {
			c.logger.Debug("no more records to fetch")
			break
		}

		all = append(all, page.Results...)
		c.logger.Debug("fetched page",
			zap.Int("offset", offset),
			zap.Int("accumulated", len(all)),
			zap.Int("total_count", totalCount))

		// The cap applies before any other exit condition so the result
		// never exceeds it, even when the dataset fits in one page.
		if query.MaxRecords > 0 && len(all) >= query.MaxRecords {
			all = all[:query.MaxRecords]
			break
		}

		if len(all) >= totalCount {
			break
		}

		offset += MaxPageSize
	}

	c.logger.Info("fetch complete", zap.Int("records", len(all)))
	return all, nil
}

// DatasetInfo fetches dataset metadata from the catalog endpoint.
func (c *ODSClient) DatasetInfo(ctx context.Context) (map[string]interface{}, error) {
	infoURL := c.config.BaseURL + "/catalog/datasets/" + c.config.DatasetID

	var info map[string]interface{}
	err := c.retry.Execute(ctx, func() error {
		body, fetchErr := c.get(ctx, infoURL)
		if fetchErr != nil {
			return fetchErr
		}
		if err := jsonx.Unmarshal(body, &info); err != nil {
			return errors.Wrap(err, errors.ErrorTypeMalformed, "dataset info is not valid JSON")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Stats returns request counters for this client.
func (c *ODSClient) Stats() (totalRequests, failedRequests int64) {
	return atomic.LoadInt64(&c.totalRequests), atomic.LoadInt64(&c.failedRequests)
}

// Close releases idle connections.
func (c *ODSClient) Close() {
	c.transport.CloseIdleConnections()
}

// fetchPage performs one GET and parses the page body. A body that does
// not match the expected page structure is a fatal contract break, typed
// so the retry policy never masks it.
func (c *ODSClient) fetchPage(ctx context.Context, requestURL string) (*RecordsPage, error) {
	body, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var page RecordsPage
	if err := jsonx.Unmarshal(body, &page); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformed, "response body does not match expected page structure")
	}

	return &page, nil
}

// get issues one GET request and returns the response body, classifying
// transport and HTTP status failures into the error taxonomy.
func (c *ODSClient) get(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "transport-ingest/1.0")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Apikey "+c.config.APIKey)
	}

	atomic.AddInt64(&c.totalRequests, 1)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&c.failedRequests, 1)
		c.logger.Error("request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", requestURL))
		return nil, classifyStatus(resp.StatusCode, body)
	}

	return body, nil
}

// classifyTransportError maps network-level failures onto the error
// taxonomy. Timeouts and resets are retryable.
func classifyTransportError(err error) *errors.Error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}

	if stderrors.Is(err, syscall.ECONNRESET) || stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(err, errors.ErrorTypeConnection, "connection failed")
	}

	return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
}

// classifyStatus maps non-200 responses onto the error taxonomy. Only
// 429 and 5xx are retryable; other 4xx surface immediately.
func classifyStatus(status int, body []byte) *errors.Error {
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	var errType errors.ErrorType
	switch {
	case status == http.StatusTooManyRequests:
		errType = errors.ErrorTypeRateLimit
	case status >= 500:
		errType = errors.ErrorTypeConnection
	case status == http.StatusUnauthorized:
		errType = errors.ErrorTypeAuthentication
	case status == http.StatusForbidden:
		errType = errors.ErrorTypePermission
	case status == http.StatusNotFound:
		errType = errors.ErrorTypeNotFound
	default:
		errType = errors.ErrorTypeValidation
	}

	return errors.Newf(errType, "unexpected status %d", status).
		WithDetail("status", status).
		WithDetail("body", snippet)
}
