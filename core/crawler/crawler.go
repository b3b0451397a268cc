package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/metrics"
	"github.com/siherrmann/webgraph/model"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 5 << 20

// Crawler walks pages breadth first from a set of seed urls.
// Requests are rate limited per host and robots.txt rules are honoured.
type Crawler struct {
	client    *http.Client
	userAgent string
	interval  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	robots   map[string]*robotstxt.RobotsData
}

type queued struct {
	url   string
	depth int
}

// NewCrawler creates a crawler. A nil client uses one with a 20 second
// timeout, a ratePerSec of zero or less disables rate limiting.
func NewCrawler(client *http.Client, ratePerSec float64, userAgent string, logger *slog.Logger) *Crawler {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var interval time.Duration
	if ratePerSec > 0 {
		interval = time.Duration(float64(time.Second) / ratePerSec)
	}

	return &Crawler{
		client:    client,
		userAgent: userAgent,
		interval:  interval,
		logger:    logger,
		limiters:  map[string]*rate.Limiter{},
		robots:    map[string]*robotstxt.RobotsData{},
	}
}

// Crawl fetches up to maxPages pages, following links until maxDepth.
// Seeds have depth 0. Pages that fail to load are logged and skipped,
// only a cancelled context ends the crawl with an error.
func (c *Crawler) Crawl(ctx context.Context, seeds []string, maxPages int, maxDepth int) ([]model.Page, error) {
	visited := map[string]bool{}
	queue := []queued{}
	for _, seed := range seeds {
		if normalized, ok := normalizeURL(nil, seed); ok {
			queue = append(queue, queued{url: normalized})
		}
	}

	pages := []model.Page{}
	for len(queue) > 0 && len(pages) < maxPages {
		if err := ctx.Err(); err != nil {
			return pages, helper.NewError("crawl", err)
		}

		next := queue[0]
		queue = queue[1:]
		if visited[next.url] {
			continue
		}
		visited[next.url] = true

		if !c.allowed(ctx, next.url) {
			c.logger.Info("Skipping page disallowed by robots.txt", slog.String("url", next.url))
			metrics.CrawledPages.WithLabelValues("disallowed").Inc()
			continue
		}

		html, err := c.fetch(ctx, next.url)
		if err != nil {
			c.logger.Warn("Failed to fetch page", slog.String("url", next.url), slog.Any("error", err))
			metrics.CrawledPages.WithLabelValues("failed").Inc()
			continue
		}
		metrics.CrawledPages.WithLabelValues("fetched").Inc()
		pages = append(pages, model.Page{URL: next.url, HTML: html, Depth: next.depth})

		if next.depth >= maxDepth {
			continue
		}
		for _, link := range extractLinks(next.url, html) {
			if !visited[link] {
				queue = append(queue, queued{url: link, depth: next.depth + 1})
			}
		}
	}

	c.logger.Info("Crawl finished", slog.Int("pages", len(pages)))
	return pages, nil
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) (string, error) {
	if err := c.limiter(pageURL).Wait(ctx); err != nil {
		return "", helper.NewError("rate limit", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", helper.NewError("create request", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", helper.NewError("request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", helper.NewError("status", fmt.Errorf("unexpected status code %d", resp.StatusCode))
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		return "", helper.NewError("content type", fmt.Errorf("unsupported content type %q", contentType))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", helper.NewError("read body", err)
	}
	return string(body), nil
}

func (c *Crawler) limiter(pageURL string) *rate.Limiter {
	host := hostKey(pageURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.limiters[host]
	if !ok {
		limit := rate.Inf
		if c.interval > 0 {
			limit = rate.Every(c.interval)
		}
		limiter = rate.NewLimiter(limit, 1)
		c.limiters[host] = limiter
	}
	return limiter
}

// allowed reports whether robots.txt of the page's host permits the page.
// Robots files that cannot be fetched allow everything.
func (c *Crawler) allowed(ctx context.Context, pageURL string) bool {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	host := parsed.Scheme + "://" + parsed.Host

	c.mu.Lock()
	robots, ok := c.robots[host]
	c.mu.Unlock()

	if !ok {
		robots = c.fetchRobots(ctx, host)
		c.mu.Lock()
		c.robots[host] = robots
		c.mu.Unlock()
	}
	if robots == nil {
		return true
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return robots.TestAgent(path, c.userAgent)
}

func (c *Crawler) fetchRobots(ctx context.Context, host string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("robots.txt unavailable", slog.String("host", host), slog.Any("error", err))
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		c.logger.Debug("Invalid robots.txt", slog.String("host", host), slog.Any("error", err))
		return nil
	}
	return robots
}

func extractLinks(baseURL string, html string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	links := []string{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := normalizeURL(base, href)
		if ok && !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links
}

// normalizeURL resolves href against base and strips the fragment.
// Only http and https urls are accepted.
func normalizeURL(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if parsed.Host == "" {
		return "", false
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String(), true
}

func hostKey(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	return parsed.Host
}
