// Package cmc is a thin client for the CoinMarketCap listings endpoint.
package cmc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/observability"
)

// ErrUnexpectedResponse is returned when the body lacks the data array.
var ErrUnexpectedResponse = errors.New("unexpected response structure")

const (
	DefaultBaseURL = "https://pro-api.coinmarketcap.com/v1/cryptocurrency/listings/latest"
	apiKeyHeader   = "X-CMC_PRO_API_KEY"
	maxErrorBody   = 4 << 10
)

// Options configures Client. Zero values fall back to the defaults below.
type Options struct {
	BaseURL           string
	APIKey            string
	Start             int           // default 1
	Limit             int           // default 200
	Convert           string        // default USD
	Timeout           time.Duration // default 20s
	MaxRetries        int           // default 5; negative disables retries
	RetryWaitMin      time.Duration // default 1s
	RetryWaitMax      time.Duration // default 30s
	RequestsPerSecond float64       // 0 disables client-side limiting
	Logger            *logger.Log
}

// Listings is one fetched snapshot.
type Listings struct {
	FetchTime time.Time
	Records   []domain.RawRecord
}

type Client struct {
	http    *retryablehttp.Client
	limiter *rate.Limiter
	opts    Options
	log     *logger.Entry
	now     func() time.Time
}

// NewClient creates a listings client with retry and rate limiting.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Start <= 0 {
		opts.Start = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	if opts.Convert == "" {
		opts.Convert = "USD"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	} else if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = time.Second
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	entry := log.WithComponent("cmc_client")

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = opts.Timeout
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.CheckRetry = checkRetry
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.Logger = leveledLogger{entry}
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			entry.WithFields(logger.Fields{
				"attempt": attempt,
				"max":     rc.RetryMax,
				"host":    req.URL.Host,
			}).Info("Retrying upstream request")
		}
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		http: rc,
		opts: opts,
		log:  entry,
		now:  time.Now,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

// FetchListings requests one page of latest listings and flattens every record.
// FetchTime is taken once per call and truncated to milliseconds.
func (c *Client) FetchListings(ctx context.Context) (*Listings, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accepts", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.opts.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordUpstreamRequest("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("fetch listings: %w", err)
	}
	defer resp.Body.Close()
	observability.RecordUpstreamRequest(strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read listings body: %w", err)
	}
	fetchTime := c.now().UTC().Truncate(time.Millisecond)

	records, err := decodeListings(body)
	if err != nil {
		return nil, err
	}

	logger.LogDataFlowEntry(c.log, "coinmarketcap", "ingestion", len(records), "listing")
	return &Listings{FetchTime: fetchTime, Records: records}, nil
}

func (c *Client) requestURL() string {
	q := url.Values{}
	q.Set("start", strconv.Itoa(c.opts.Start))
	q.Set("limit", strconv.Itoa(c.opts.Limit))
	q.Set("convert", c.opts.Convert)
	return c.opts.BaseURL + "?" + q.Encode()
}

type envelope struct {
	Status *struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data json.RawMessage `json:"data"`
}

func decodeListings(body []byte) ([]domain.RawRecord, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, fmt.Errorf("%w: 'data' key missing", ErrUnexpectedResponse)
	}

	var items []map[string]any
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: 'data' is not a list of objects: %v", ErrUnexpectedResponse, err)
	}

	records := make([]domain.RawRecord, 0, len(items))
	for _, item := range items {
		records = append(records, Flatten(item))
	}
	return records, nil
}

// StatusError is a non-2xx response that was not retried or exhausted retries.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
}

func errorMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Status != nil && env.Status.ErrorMessage != "" {
		return env.Status.ErrorMessage
	}
	return string(bytes.TrimSpace(body))
}

// checkRetry retries connection errors and 429/500/502/503/504.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

// leveledLogger routes retryablehttp logs through logrus.
type leveledLogger struct {
	entry *logger.Entry
}

func (l leveledLogger) fields(kv []interface{}) *logger.Entry {
	f := logger.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return l.entry.WithFields(f)
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.fields(kv).Error(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.fields(kv).Info(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.fields(kv).Debug(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.fields(kv).Warn(msg) }
