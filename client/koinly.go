package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/koinly-export/service/metrics"
	"github.com/itchyny/gojq"
)

const (
	// DefaultBaseURL is the Koinly API host.
	DefaultBaseURL = "https://api.koinly.io"

	// DefaultAppURL is the web app origin the API expects requests to come from.
	DefaultAppURL = "https://app.koinly.io"

	// DefaultPageSize is the per_page value used by the Koinly web app.
	DefaultPageSize = 25

	// DefaultCurrencyQuery extracts the base currency from the session descriptor.
	DefaultCurrencyQuery = ".portfolios[0].base_currency.symbol"

	// DefaultUserAgent is sent when no user agent is configured.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Credentials are the values of an authenticated Koinly browser session.
type Credentials struct {
	APIKey      string // API_KEY cookie, sent as x-auth-token
	PortfolioID string // PORTFOLIO_ID cookie, sent as x-portfolio-token
	Cookie      string // full cookie header, optional
}

// Options tune how the client talks to the API. Zero values fall back to defaults.
type Options struct {
	AppURL        string
	UserAgent     string
	CurrencyQuery string
	Metrics       *metrics.Metrics // nil disables metrics
}

// Client is the HTTP client for the Koinly API.
type Client struct {
	baseURL       string
	appURL        string
	userAgent     string
	creds         Credentials
	httpClient    *http.Client
	logger        *slog.Logger
	metrics       *metrics.Metrics
	currencyQuery string
	currencyCode  *gojq.Code
}

// NewClient creates a new Koinly API client. It fails only if the configured
// currency query is not a valid jq expression.
func NewClient(baseURL string, creds Credentials, httpClient *http.Client, logger *slog.Logger, opts Options) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.AppURL == "" {
		opts.AppURL = DefaultAppURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.CurrencyQuery == "" {
		opts.CurrencyQuery = DefaultCurrencyQuery
	}

	query, err := gojq.Parse(opts.CurrencyQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to parse currency query %q: %w", opts.CurrencyQuery, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile currency query %q: %w", opts.CurrencyQuery, err)
	}

	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		appURL:        strings.TrimRight(opts.AppURL, "/"),
		userAgent:     opts.UserAgent,
		creds:         creds,
		httpClient:    httpClient,
		logger:        logger,
		metrics:       opts.Metrics,
		currencyQuery: opts.CurrencyQuery,
		currencyCode:  code,
	}, nil
}

// FetchSession retrieves the session descriptor and extracts the portfolio's
// base currency. Any failure is returned as a *SessionFetchError.
func (c *Client) FetchSession(ctx context.Context) (*Session, error) {
	c.logger.InfoContext(ctx, "fetching session")

	body, err := c.get(ctx, "sessions", "/api/sessions", nil)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch session", "error", err)
		return nil, &SessionFetchError{Err: err}
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		c.logger.ErrorContext(ctx, "failed to decode session", "error", err)
		return nil, &SessionFetchError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	symbol, err := c.baseCurrency(doc)
	if err != nil {
		c.logger.ErrorContext(ctx, "session has no base currency", "query", c.currencyQuery, "error", err)
		return nil, &SessionFetchError{Err: err}
	}

	c.logger.DebugContext(ctx, "session fetched", "base_currency", symbol)
	return &Session{BaseCurrency: symbol}, nil
}

// FetchPage retrieves one page of transactions ordered by date.
// Page 1 must carry meta.page.total_pages. Any failure is returned as a
// *PageFetchError identifying the page.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if req.Page < 1 {
		return nil, &PageFetchError{Page: req.Page, Err: fmt.Errorf("page must be at least 1")}
	}
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = DefaultPageSize
	}

	c.logger.InfoContext(ctx, "fetching page",
		"page", req.Page,
		"total_pages", totalPagesLabel(req.TotalPages),
		"percent_complete", percentComplete(req.Page, req.TotalPages),
	)

	query := url.Values{}
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("order", "date")
	query.Set("page", strconv.Itoa(req.Page))

	body, err := c.get(ctx, "transactions", "/api/transactions", query)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch page", "page", req.Page, "error", err)
		return nil, &PageFetchError{Page: req.Page, Err: err}
	}

	var resp struct {
		Transactions []Transaction `json:"transactions"`
		Meta         *PageMeta     `json:"meta"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.ErrorContext(ctx, "failed to decode page", "page", req.Page, "error", err)
		return nil, &PageFetchError{Page: req.Page, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if resp.Transactions == nil {
		c.logger.ErrorContext(ctx, "page has no transactions array", "page", req.Page)
		return nil, &PageFetchError{Page: req.Page, Err: errors.New("response has no transactions array")}
	}

	page := &Page{
		Number:       req.Page,
		Transactions: resp.Transactions,
		Meta:         resp.Meta,
	}
	if req.Page == 1 && (page.Meta == nil || page.Meta.Page == nil) {
		c.logger.ErrorContext(ctx, "first page has no pagination metadata")
		return nil, &PageFetchError{Page: req.Page, Err: errors.New("response has no meta.page.total_pages")}
	}

	c.logger.InfoContext(ctx, "page fetched",
		"page", req.Page,
		"transactions", len(page.Transactions),
	)
	return page, nil
}

// get issues an authenticated GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordRequest(endpoint, 0, start)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.recordRequest(endpoint, resp.StatusCode, start)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

// setHeaders mirrors the headers the Koinly web app sends.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-GB,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Caches-Requests", "1")
	req.Header.Set("Origin", c.appURL)
	req.Header.Set("Referer", c.appURL+"/")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Auth-Token", c.creds.APIKey)
	req.Header.Set("X-Portfolio-Token", c.creds.PortfolioID)
	if c.creds.Cookie != "" {
		req.Header.Set("Cookie", c.creds.Cookie)
	}
}

func (c *Client) recordRequest(endpoint string, statusCode int, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordAPIRequest(endpoint, statusCode, time.Since(start).Seconds())
}

// baseCurrency runs the compiled currency query against the session document.
func (c *Client) baseCurrency(doc interface{}) (string, error) {
	iter := c.currencyCode.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return "", fmt.Errorf("currency query %q produced no result", c.currencyQuery)
	}
	if err, isErr := v.(error); isErr {
		return "", fmt.Errorf("currency query %q failed: %w", c.currencyQuery, err)
	}
	symbol, ok := v.(string)
	if !ok || symbol == "" {
		return "", fmt.Errorf("currency query %q returned %v, want a non-empty string", c.currencyQuery, v)
	}
	return symbol, nil
}

// parseErrorResponse attempts to parse an error response from the API.
func parseErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || (errResp.Error == "" && errResp.Message == "") {
		return fmt.Errorf("request failed with status %d: %s", statusCode, strings.TrimSpace(string(body)))
	}
	if errResp.Error == "" {
		errResp.Error = errResp.Message
	}
	return fmt.Errorf("request failed with status %d: %s", statusCode, errResp.Error)
}

func totalPagesLabel(total int) string {
	if total <= 0 {
		return "?"
	}
	return strconv.Itoa(total)
}

// percentComplete formats page/total as a percentage; an unknown or zero total
// yields "?" instead of dividing by zero.
func percentComplete(page, total int) string {
	if total <= 0 {
		return "?"
	}
	return strconv.FormatFloat(float64(page)/float64(total)*100, 'f', 1, 64)
}
