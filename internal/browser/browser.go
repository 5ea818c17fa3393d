package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Config controls how the Chrome process is launched.
type Config struct {
	Headless bool   `mapstructure:"headless"`
	ProxyURL string `mapstructure:"proxy"`
	Bin      string `mapstructure:"bin"`
}

// Browser wraps one launched Chrome process. Workflows never use it directly;
// they get isolated contexts from it.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	proxyURL string
	log      *zap.Logger
}

// New launches Chrome and connects to it.
func New(cfg Config, log *zap.Logger) (*Browser, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.ProxyURL != "" {
		l = l.Proxy(cfg.ProxyURL)
	}
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	rb := rod.New().ControlURL(url)
	if err := rb.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Browser{
		browser:  rb,
		launcher: l,
		proxyURL: cfg.ProxyURL,
		log:      log.Named("browser"),
	}, nil
}

const (
	desktopAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	mobileAgent   = "Mozilla/5.0 (Linux; Android 13; SM-S918N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`
)

// GetProxyURL returns the proxy the browser was launched with.
func (b *Browser) GetProxyURL() string {
	return b.proxyURL
}

// NewIsolatedContext creates an incognito browser context holding a single
// page sized to vp.
func (b *Browser) NewIsolatedContext(ctx context.Context, vp Viewport) (IsolatedContext, error) {
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	scale := vp.Scale
	if scale <= 0 {
		scale = 1
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: scale,
		Mobile:            vp.Mobile,
	}).Call(page); err != nil {
		b.log.Warn("failed to set viewport", zap.Error(err))
	}
	agent := desktopAgent
	if vp.Mobile {
		agent = mobileAgent
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: agent}); err != nil {
		b.log.Warn("failed to set user agent", zap.Bool("mobile", vp.Mobile), zap.Error(err))
	}
	if _, err := page.EvalOnNewDocument(hideWebdriver); err != nil {
		b.log.Warn("failed to install init script", zap.Error(err))
	}

	return &isolatedContext{
		id:      string(incognito.BrowserContextID),
		browser: incognito,
		page:    &rodPage{page: page},
	}, nil
}

// Close closes the browser and kills the launched process.
func (b *Browser) Close() error {
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			return err
		}
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
	return nil
}

type isolatedContext struct {
	id      string
	browser *rod.Browser
	page    *rodPage
	closed  bool
}

func (c *isolatedContext) ID() string { return c.id }

func (c *isolatedContext) Page() Page { return c.page }

// Close disposes the incognito context, which also closes its page.
// The session manager serialises calls, so no locking here.
func (c *isolatedContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.browser.Close()
}
