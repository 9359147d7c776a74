// Package collyprovider is a task.Provider that crawls locally with gocolly.
// It returns items shaped like the hosted provider's so the rest of the
// pipeline can run without an external account.
package collyprovider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	MaxDepth      int
}

// Provider crawls a site breadth-limited by CrawlOptions.Limit.
type Provider struct {
	cfg       Config
	transport http.RoundTripper
	converter *md.Converter
	logger    *zap.Logger
}

// New builds a Provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:       cfg,
		transport: newHTTPTransport(),
		converter: md.NewConverter("", true, nil),
		logger:    logger.Named("colly_provider"),
	}
}

type crawlState struct {
	mu      sync.Mutex
	root    *url.URL
	limit   int
	formats map[string]bool
	visited int
	items   []map[string]any
}

func (s *crawlState) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.visited >= s.limit {
		return false
	}
	s.visited++
	return true
}

func (s *crawlState) add(item map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
}

// Crawl visits target and same-host links until the page limit is reached.
func (p *Provider) Crawl(ctx context.Context, target string, opts task.CrawlOptions) (task.ProviderResult, error) {
	if err := ctx.Err(); err != nil {
		return task.ProviderResult{}, fmt.Errorf("%w: local crawl canceled: %w", task.ErrProvider, err)
	}
	root, err := url.Parse(target)
	if err != nil {
		return task.ProviderResult{}, fmt.Errorf("%w: parse url: %w", task.ErrProvider, err)
	}
	state := &crawlState{
		root:    root,
		limit:   opts.Limit,
		formats: make(map[string]bool, len(opts.Formats)),
	}
	for _, f := range opts.Formats {
		state.formats[strings.ToLower(f)] = true
	}
	collector := p.buildCollector(ctx, state, opts)

	if err := p.runCollector(ctx, collector, target); err != nil {
		return task.ProviderResult{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return task.ProviderResult{
		Status:    string(task.StatusCompleted),
		Completed: len(state.items),
		Total:     state.visited,
		Data:      state.items,
	}, nil
}

func (p *Provider) buildCollector(ctx context.Context, state *crawlState, opts task.CrawlOptions) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false))
	collector.WithTransport(p.transport)
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !p.cfg.RespectRobots
	if p.cfg.MaxDepth > 0 {
		collector.MaxDepth = p.cfg.MaxDepth
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || !state.admit() {
			r.Abort()
		}
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		state.add(p.buildItem(e, state.formats))
		e.DOM.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			link := e.Request.AbsoluteURL(href)
			if sameHost(state.root, link) {
				_ = e.Request.Visit(link)
			}
		})
	})

	collector.OnError(func(r *colly.Response, err error) {
		p.logger.Debug("page fetch failed", zap.String("url", r.Request.URL.String()), zap.Error(err))
	})
	return collector
}

func (p *Provider) buildItem(e *colly.HTMLElement, formats map[string]bool) map[string]any {
	pageURL := e.Request.URL.String()
	title := strings.TrimSpace(e.DOM.Find("title").First().Text())
	description, _ := e.DOM.Find(`meta[name="description"]`).Attr("content")

	links := make([]string, 0)
	e.DOM.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if abs := e.Request.AbsoluteURL(href); abs != "" {
			links = append(links, abs)
		}
	})

	item := map[string]any{
		"url":   pageURL,
		"title": title,
		"links": links,
		"metadata": map[string]any{
			"title":       title,
			"description": description,
			"sourceURL":   pageURL,
			"statusCode":  e.Response.StatusCode,
		},
	}
	html := string(e.Response.Body)
	if formats["html"] {
		item["html"] = html
	}
	if formats["markdown"] {
		markdown, err := p.converter.ConvertString(html)
		if err != nil {
			p.logger.Debug("markdown conversion failed", zap.String("url", pageURL), zap.Error(err))
		} else {
			item["markdown"] = markdown
		}
	}
	return item
}

func (p *Provider) runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: local crawl canceled: %w", task.ErrProvider, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: colly visit failed: %w", task.ErrProvider, err)
		}
		return nil
	}
}

func sameHost(root *url.URL, link string) bool {
	if link == "" {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && strings.EqualFold(u.Host, root.Host)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
