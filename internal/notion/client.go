// Package notion is the boundary to the Notion database holding the records.
//
// Client wraps the notionapi SDK (databases, pages) and converts its values to
// the package's own Page, Database and Filter types. RecordStore sits on top
// of it and translates drafts through a declarative Mapping: schema
// verification, create, merge update, candidate queries and free-text search.
package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Notion API endpoint.
	DefaultBaseURL = "https://api.notion.com/v1"
	// APIVersion is sent in the Notion-Version header.
	APIVersion = "2022-06-28"
	// DefaultRateLimit is the average request rate Notion allows per integration.
	DefaultRateLimit = 3
)

// APIError is a failed Notion call. Message is the remote detail; it is meant
// for logs, not for end users.
type APIError struct {
	Status  int
	Code    string
	Message string
	Op      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion %s: http %d %s: %s", e.Op, e.Status, e.Code, e.Message)
}

// Temporary reports whether retrying the call later may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Opts holds configuration for the Client.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
	RateLimit  float64
}

// Option configures the Client.
type Option func(*Opts)

// WithBaseURL overrides the API endpoint (tests point it at a fake server).
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithHTTPClient sets the HTTP client whose transport carries the API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithRateLimit sets the request rate in requests per second. Zero or less
// disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(o *Opts) {
		o.RateLimit = perSecond
	}
}

// Client is the Notion API client used by the record store.
type Client struct {
	api *notionapi.Client
}

// NewClient creates a Client authenticated with an integration token.
func NewClient(token string, opts ...Option) *Client {
	cfg := Opts{BaseURL: DefaultBaseURL, RateLimit: DefaultRateLimit}
	for _, opt := range opts {
		opt(&cfg)
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		slog.Warn("NotionClient: invalid base URL, using default", "base_url", cfg.BaseURL, "error", err)
		base, _ = url.Parse(DefaultBaseURL)
	}
	next := http.DefaultTransport
	timeout := 30 * time.Second
	if cfg.HTTPClient != nil {
		if cfg.HTTPClient.Transport != nil {
			next = cfg.HTTPClient.Transport
		}
		timeout = cfg.HTTPClient.Timeout
	}
	t := &transport{next: next, base: base}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	httpClient := &http.Client{Transport: t, Timeout: timeout}
	return &Client{api: notionapi.NewClient(notionapi.Token(token), notionapi.WithHTTPClient(httpClient))}
}

// transport paces requests, pins the API version and redirects the SDK's
// fixed endpoint to the configured base URL.
type transport struct {
	next    http.RoundTripper
	base    *url.URL
	limiter *rate.Limiter
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	out := req.Clone(req.Context())
	out.URL.Scheme = t.base.Scheme
	out.URL.Host = t.base.Host
	out.Host = t.base.Host
	out.URL.Path = t.base.Path + strings.TrimPrefix(req.URL.Path, "/v1")
	out.URL.RawPath = ""
	out.Header.Set("Notion-Version", APIVersion)

	start := time.Now()
	resp, err := t.next.RoundTrip(out)
	if err != nil {
		slog.Error("NotionClient request failed", "method", out.Method, "path", out.URL.Path, "error", err)
		return nil, err
	}
	slog.Debug("NotionClient request", "method", out.Method, "path", out.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

// wrapError turns SDK errors into *APIError when Notion answered, and wraps
// transport errors with the operation name.
func wrapError(op string, err error) error {
	var nerr *notionapi.Error
	if errors.As(err, &nerr) {
		apiErr := &APIError{Status: nerr.Status, Code: string(nerr.Code), Message: nerr.Message, Op: op}
		slog.Warn("NotionClient API error", "op", op, "status", apiErr.Status, "code", apiErr.Code, "message", apiErr.Message)
		return apiErr
	}
	return fmt.Errorf("notion %s: %w", op, err)
}

// RetrieveDatabase fetches the database schema.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*Database, error) {
	db, err := c.api.Database.Get(ctx, notionapi.DatabaseID(databaseID))
	if err != nil {
		return nil, wrapError("retrieve database", err)
	}
	return fromNotionDatabase(db), nil
}

// QueryDatabase runs a filtered query and returns one page of results.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, req QueryRequest) (*QueryResponse, error) {
	q := &notionapi.DatabaseQueryRequest{PageSize: req.PageSize, StartCursor: notionapi.Cursor(req.StartCursor)}
	if req.Filter != nil {
		q.Filter = toNotionFilter(*req.Filter)
	}
	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), q)
	if err != nil {
		return nil, wrapError("query database", err)
	}
	out := &QueryResponse{Results: make([]Page, 0, len(resp.Results)), HasMore: resp.HasMore}
	for i := range resp.Results {
		out.Results = append(out.Results, fromNotionPage(&resp.Results[i]))
	}
	return out, nil
}

// CreatePage creates a page in a database.
func (c *Client) CreatePage(ctx context.Context, databaseID string, props map[string]PropertyValue) (*Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{Type: "database_id", DatabaseID: notionapi.DatabaseID(databaseID)},
		Properties: toNotionProperties(props),
	}
	page, err := c.api.Page.Create(ctx, req)
	if err != nil {
		return nil, wrapError("create page", err)
	}
	p := fromNotionPage(page)
	return &p, nil
}

// RetrievePage fetches a page with its properties.
func (c *Client) RetrievePage(ctx context.Context, pageID string) (*Page, error) {
	page, err := c.api.Page.Get(ctx, notionapi.PageID(pageID))
	if err != nil {
		return nil, wrapError("retrieve page", err)
	}
	p := fromNotionPage(page)
	return &p, nil
}

// UpdatePage patches the given properties of a page. Properties not listed
// are left untouched by Notion.
func (c *Client) UpdatePage(ctx context.Context, pageID string, props map[string]PropertyValue) (*Page, error) {
	page, err := c.api.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: toNotionProperties(props)})
	if err != nil {
		return nil, wrapError("update page", err)
	}
	p := fromNotionPage(page)
	return &p, nil
}
