// Package collyprobe implements poster.Prober over HTTP using gocolly, and
// verifies that the response body decodes as an image.
package collyprobe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	// Registered decoders for Inspect.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 10 << 20
	defaultUserAgent    = "posterwatch/1.0 (+https://github.com/JakeFAU/posterwatch)"
)

// ErrNotImage is wrapped into the TransportError returned for bodies that do
// not decode as a supported image format.
var ErrNotImage = errors.New("response is not a decodable image")

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	// SkipVerify accepts any 2xx response without decoding the body.
	SkipVerify bool
	Headers    http.Header
	Transport  http.RoundTripper
}

// Info describes a successfully fetched image.
type Info struct {
	URL        string
	StatusCode int
	Format     string
	Width      int
	Height     int
	Bytes      int
	Duration   time.Duration
}

// Prober fetches poster URLs with a shared colly collector.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Prober.
func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Transport == nil {
		cfg.Transport = newHTTPTransport()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	c.WithTransport(cfg.Transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Prober{cfg: cfg, baseCollector: c}
}

// Probe implements poster.Prober.
func (p *Prober) Probe(ctx context.Context, url string) error {
	_, err := p.Inspect(ctx, url)
	return err
}

// Inspect fetches url and reports what was found. Every failure is a
// *poster.TransportError.
func (p *Prober) Inspect(ctx context.Context, url string) (Info, error) {
	var (
		info     Info
		fetchErr error
	)
	start := time.Now()
	collector := p.baseCollector.Clone()
	// Aborting ctx must tear down the request, not just stop waiting on it.
	collector.Context = ctx
	p.configureCollectorHooks(collector, start, &info, &fetchErr)

	if err := p.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return Info{}, err
	}
	return info, nil
}

func (p *Prober) configureCollectorHooks(hooks collectorHooks, start time.Time, info *Info, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")
		for key, values := range p.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		url := r.Request.URL.String()
		*info = Info{
			URL:        url,
			StatusCode: r.StatusCode,
			Bytes:      len(r.Body),
			Duration:   time.Since(start),
		}
		if p.cfg.SkipVerify {
			return
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(r.Body))
		if err != nil {
			*fetchErr = &poster.TransportError{
				URL:        url,
				StatusCode: r.StatusCode,
				Err:        fmt.Errorf("%w: %s: %w", ErrNotImage, r.Headers.Get("Content-Type"), err),
			}
			return
		}
		info.Format = format
		info.Width = cfg.Width
		info.Height = cfg.Height
	})

	hooks.OnError(func(r *colly.Response, err error) {
		te := &poster.TransportError{Err: err}
		if r != nil {
			te.StatusCode = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				te.URL = r.Request.URL.String()
			}
		}
		*fetchErr = te
	})
}

func (p *Prober) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &poster.TransportError{URL: url, Err: fmt.Errorf("probe canceled: %w", ctx.Err())}
	case err := <-done:
		if *fetchErr != nil {
			var te *poster.TransportError
			if errors.As(*fetchErr, &te) && te.URL == "" {
				te.URL = url
			}
			return *fetchErr
		}
		if err != nil {
			return &poster.TransportError{URL: url, Err: err}
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
