// Package headless implements poster.Prober by loading the URL as an image
// in headless Chrome, the way a browser would render the poster.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

const defaultNavigationTimeout = 20 * time.Second

// ErrImageLoad reports that the browser fired the image's error event.
var ErrImageLoad = errors.New("browser could not load image")

// Config controls the behavior of the headless prober.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Prober drives a shared Chrome allocator. Each probe gets its own tab.
type Prober struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless prober backed by chromedp. Chrome is not
// started until the first probe.
func NewChromedp(cfg Config) (*Prober, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Prober{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser.
func (p *Prober) Close() {
	p.allocCancel()
}

type loadResult struct {
	OK     bool `json:"ok"`
	Width  int  `json:"w"`
	Height int  `json:"h"`
}

func (r loadResult) err(url string) error {
	if !r.OK {
		return &poster.TransportError{URL: url, Err: ErrImageLoad}
	}
	if r.Width == 0 || r.Height == 0 {
		return &poster.TransportError{URL: url, Err: fmt.Errorf("%w: zero-sized image", ErrImageLoad)}
	}
	return nil
}

// Probe implements poster.Prober.
func (p *Prober) Probe(ctx context.Context, url string) error {
	if err := p.acquire(ctx); err != nil {
		return &poster.TransportError{URL: url, Err: err}
	}
	defer p.release()

	taskCtx, taskCancel := chromedp.NewContext(p.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, p.navTimeout())
	defer cancel()

	script, err := loadScript(url)
	if err != nil {
		return &poster.TransportError{URL: url, Err: err}
	}

	var res loadResult
	actions := []chromedp.Action{
		p.setupAction(),
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(script, &res, func(e *runtime.EvaluateParams) *runtime.EvaluateParams {
			return e.WithAwaitPromise(true)
		}),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("probe canceled: %w", ctx.Err())
		}
		return &poster.TransportError{URL: url, Err: fmt.Errorf("chromedp run: %w", err)}
	}
	return res.err(url)
}

func (p *Prober) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// loadScript returns a promise that resolves once the browser has either
// decoded url or given up on it.
func loadScript(url string) (string, error) {
	quoted, err := json.Marshal(url)
	if err != nil {
		return "", fmt.Errorf("quote url: %w", err)
	}
	return fmt.Sprintf(`new Promise((resolve) => {
	const img = new Image();
	img.onload = () => resolve({ok: true, w: img.naturalWidth, h: img.naturalHeight});
	img.onerror = () => resolve({ok: false, w: 0, h: 0});
	img.src = %s;
})`, quoted), nil
}

func (p *Prober) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (p *Prober) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

func (p *Prober) navTimeout() time.Duration {
	if p.cfg.NavigationTimeout > 0 {
		return p.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}
