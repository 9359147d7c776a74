// Package firecrawl adapts the hosted Firecrawl crawl API to task.Provider.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

const (
	// DefaultBaseURL is the public Firecrawl endpoint.
	DefaultBaseURL = "https://api.firecrawl.dev"

	crawlPath = "/v1/crawl"
	// maxErrorBody bounds how much of a failed response is read.
	maxErrorBody = 64 << 10
	// callMargin is added to CrawlOptions.Timeout when no HTTPTimeout is set.
	callMargin = 5 * time.Second
)

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	// HTTPTimeout bounds a whole round trip. Zero means each Crawl call is
	// bounded by its CrawlOptions.Timeout plus a small margin, or only by
	// the caller's context when that timeout is zero too.
	HTTPTimeout time.Duration
}

// Client calls Firecrawl over HTTP. One attempt per Crawl call.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	// margin is non-zero when calls derive their deadline from CrawlOptions.
	margin time.Duration
	logger *zap.Logger
}

// Error is returned for non-2xx responses. It wraps task.ErrProvider and
// carries whatever counters the provider reported.
type Error struct {
	HTTPStatus int
	Message    string
	Completed  int
	Total      int
}

var _ task.ProviderFailure = (*Error)(nil)

func (e *Error) Error() string {
	return fmt.Sprintf("firecrawl: status %d: %s", e.HTTPStatus, e.Message)
}

// Unwrap lets errors.Is match task.ErrProvider.
func (e *Error) Unwrap() error {
	return task.ErrProvider
}

// StatusCode is the HTTP status Firecrawl answered with.
func (e *Error) StatusCode() int {
	return e.HTTPStatus
}

// ProviderMessage is the message Firecrawl returned with the failure.
func (e *Error) ProviderMessage() string {
	return e.Message
}

// Counters returns the progress counters reported with the failure.
func (e *Error) Counters() (int, int) {
	return e.Completed, e.Total
}

// New builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("provider.firecrawl.api_key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	var margin time.Duration
	if cfg.HTTPTimeout <= 0 {
		margin = callMargin
	}
	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    httpClient,
		margin:  margin,
		logger:  logger.Named("firecrawl"),
	}, nil
}

type scrapeOptions struct {
	Formats         []string `json:"formats"`
	WaitForSelector string   `json:"waitForSelector,omitempty"`
	Timeout         int64    `json:"timeout"`
}

type crawlRequest struct {
	URL           string        `json:"url"`
	Limit         int           `json:"limit"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type crawlResponse struct {
	Success     bool             `json:"success"`
	Status      string           `json:"status"`
	Completed   int              `json:"completed"`
	Total       int              `json:"total"`
	CreditsUsed int              `json:"creditsUsed"`
	ExpiresAt   *time.Time       `json:"expiresAt"`
	Data        []map[string]any `json:"data"`
	Message     string           `json:"message"`
	Error       string           `json:"error"`
}

// Crawl posts one crawl request and decodes the result.
func (c *Client) Crawl(ctx context.Context, url string, opts task.CrawlOptions) (task.ProviderResult, error) {
	body, err := json.Marshal(crawlRequest{
		URL:   url,
		Limit: opts.Limit,
		ScrapeOptions: scrapeOptions{
			Formats:         opts.Formats,
			WaitForSelector: opts.WaitForSelector,
			Timeout:         opts.Timeout.Milliseconds(),
		},
	})
	if err != nil {
		return task.ProviderResult{}, fmt.Errorf("%w: encode request: %w", task.ErrProvider, err)
	}
	if c.margin > 0 && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout+c.margin)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+crawlPath, bytes.NewReader(body))
	if err != nil {
		return task.ProviderResult{}, fmt.Errorf("%w: build request: %w", task.ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return task.ProviderResult{}, fmt.Errorf("%w: request: %w", task.ErrProvider, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("failed to close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return task.ProviderResult{}, c.decodeError(resp)
	}

	var decoded crawlResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return task.ProviderResult{}, fmt.Errorf("%w: decode response: %w", task.ErrProvider, err)
	}
	c.logger.Debug("crawl response",
		zap.String("url", url),
		zap.Int("status_code", resp.StatusCode),
		zap.String("provider_status", decoded.Status),
		zap.Int("items", len(decoded.Data)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return task.ProviderResult{
		Status:      decoded.Status,
		Completed:   decoded.Completed,
		Total:       decoded.Total,
		CreditsUsed: decoded.CreditsUsed,
		ExpiresAt:   decoded.ExpiresAt,
		Data:        decoded.Data,
	}, nil
}

func (c *Client) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	perr := &Error{HTTPStatus: resp.StatusCode, Message: "Firecrawl API error"}
	var decoded crawlResponse
	if err := json.Unmarshal(raw, &decoded); err == nil {
		perr.Completed = decoded.Completed
		perr.Total = decoded.Total
		switch {
		case decoded.Message != "":
			perr.Message = decoded.Message
		case decoded.Error != "":
			perr.Message = decoded.Error
		}
	}
	c.logger.Warn("crawl rejected",
		zap.Int("status_code", resp.StatusCode),
		zap.String("message", perr.Message),
	)
	return perr
}
