// Package htmlpage builds a poster catalog by scraping <img> elements from a
// listing page.
package htmlpage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/posterwatch/internal/catalog"
	"github.com/JakeFAU/posterwatch/internal/poster"
)

const (
	defaultSelector  = "img"
	defaultUserAgent = "posterwatch/1.0"
)

// Config controls which page is scraped and how posters are recognised.
type Config struct {
	PageURL    string
	Selector   string
	UserAgent  string
	EagerFirst int
	Client     *http.Client
}

// Catalog lists the posters on one HTML page in document order.
type Catalog struct {
	cfg    Config
	page   *url.URL
	client *http.Client
}

// New validates cfg.
func New(cfg Config) (*Catalog, error) {
	page, err := url.Parse(cfg.PageURL)
	if err != nil || page.Host == "" || (page.Scheme != "http" && page.Scheme != "https") {
		return nil, fmt.Errorf("catalog page url %q must be an absolute http(s) url", cfg.PageURL)
	}
	if cfg.Selector == "" {
		cfg.Selector = defaultSelector
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Catalog{cfg: cfg, page: page, client: client}, nil
}

// ListResources implements poster.Catalog.
func (c *Catalog) ListResources(ctx context.Context) ([]poster.ResourceRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.page.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch catalog page: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse catalog page: %w", err)
	}
	base := c.page
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := c.page.Parse(href); err == nil {
			base = u
		}
	}

	var refs []poster.ResourceRef
	doc.Find(c.cfg.Selector).Each(func(i int, s *goquery.Selection) {
		refs = append(refs, c.refFor(i, s, base))
	})
	catalog.MarkEager(refs, c.cfg.EagerFirst)
	return refs, nil
}

func (c *Catalog) refFor(i int, s *goquery.Selection, base *url.URL) poster.ResourceRef {
	ref := poster.ResourceRef{ID: "img-" + strconv.Itoa(i+1)}
	if id := strings.TrimSpace(s.AttrOr("data-id", "")); id != "" {
		ref.ID = id
	}
	ref.Title = strings.TrimSpace(s.AttrOr("alt", s.AttrOr("title", "")))

	// Lazy-loading markup keeps the real source in data-src.
	src := strings.TrimSpace(s.AttrOr("data-src", s.AttrOr("src", "")))
	if src != "" {
		if u, err := base.Parse(src); err == nil {
			src = u.String()
		}
	}
	ref.OriginURL = src

	ref.Hint.Width = atoi(s.AttrOr("width", ""))
	ref.Hint.Height = atoi(s.AttrOr("height", ""))
	if s.AttrOr("loading", "") == "eager" || s.AttrOr("fetchpriority", "") == "high" {
		ref.Eager = true
	}
	return ref
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
