// Package browser drives tours through a real Chrome instance. A Page serves
// as both the DOM-query and the router collaborator of a tour controller.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config controls how Chrome is started and where the web client lives.
type Config struct {
	BaseURL  string
	Headless bool
	// Bin is the Chrome binary. Empty lets the launcher find or download one.
	Bin string
	// DebuggerURL connects to an already running Chrome instead of launching.
	DebuggerURL       string
	NavigationTimeout time.Duration
}

// Browser owns one Chrome connection.
type Browser struct {
	cfg      Config
	browser  *rod.Browser
	launched *launcher.Launcher
}

// Launch starts (or connects to) Chrome.
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("browser: base URL is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 15 * time.Second
	}

	b := &Browser{cfg: cfg}
	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		b.launched = l
		controlURL = u
	}

	rb := rod.New().ControlURL(controlURL).Context(ctx)
	if err := rb.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.browser = rb
	return b, nil
}

// NewPage opens an isolated page showing route.
func (b *Browser) NewPage(ctx context.Context, route string) (*Page, error) {
	incognito, err := b.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	rp, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	p := &Page{page: rp, baseURL: b.cfg.BaseURL, timeout: b.cfg.NavigationTimeout}
	if route != "" {
		if err := p.Navigate(ctx, route); err != nil {
			_ = rp.Close()
			return nil, err
		}
	}
	return p, nil
}

// Close disconnects and, when Chrome was launched here, kills it.
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	b.cleanup()
	return err
}

func (b *Browser) cleanup() {
	if b.launched != nil {
		b.launched.Kill()
		b.launched.Cleanup()
		b.launched = nil
	}
}

// Page adapts a rod page to the tour collaborators: Exists answers anchor
// queries and Navigate loads routes relative to the base URL.
type Page struct {
	page    *rod.Page
	baseURL string
	timeout time.Duration

	mu      sync.Mutex
	onRoute func(route string)
}

// OnRoute registers fn to be told about every route the page finished
// loading.
func (p *Page) OnRoute(fn func(route string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRoute = fn
}

// Exists reports whether an element matching selector is in the document.
// Query failures count as absent.
func (p *Page) Exists(ctx context.Context, selector string) bool {
	has, _, err := p.page.Context(ctx).Has(selector)
	return err == nil && has
}

// Navigate loads route and reports it once the page has loaded.
func (p *Page) Navigate(ctx context.Context, route string) error {
	target, err := ResolveURL(p.baseURL, route)
	if err != nil {
		return err
	}
	page := p.page.Context(ctx).Timeout(p.timeout)
	if err := page.Navigate(target); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for %s: %w", target, err)
	}

	// Report where the app actually landed, which differs from target after
	// a redirect.
	landed := target
	if info, err := page.Info(); err == nil && info.URL != "" {
		landed = info.URL
	}

	p.mu.Lock()
	fn := p.onRoute
	p.mu.Unlock()
	if fn != nil {
		fn(RouteOf(p.baseURL, landed))
	}
	return nil
}

// Close closes the page.
func (p *Page) Close() error {
	return p.page.Close()
}

// ResolveURL joins an app route onto base.
func ResolveURL(base, route string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q: scheme and host are required", base)
	}
	r, err := url.Parse(route)
	if err != nil {
		return "", fmt.Errorf("invalid route %q: %w", route, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(r.Path, "/")
	u.RawQuery = r.RawQuery
	u.Fragment = r.Fragment
	return u.String(), nil
}

// RouteOf returns the app route of an absolute URL: its path below the base
// URL's path, or "/" for the root. Query and fragment are dropped.
func RouteOf(base, raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	path := u.Path
	if b, err := url.Parse(base); err == nil {
		if prefix := strings.TrimSuffix(b.Path, "/"); prefix != "" {
			path = strings.TrimPrefix(path, prefix)
		}
	}
	if path == "" {
		return "/"
	}
	return path
}
