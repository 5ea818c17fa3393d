package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// rodPage implements Page on top of a rod page.
type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	// Registered before navigating so an earlier load event cannot satisfy it.
	wait := page.WaitNavigation(proto.PageLifecycleEventNameLoad)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	wait()
	return ctx.Err()
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to get page info: %w", err)
	}
	return info.URL, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get page HTML: %w", err)
	}
	return html, nil
}

func (p *rodPage) Has(ctx context.Context, loc Locator) (bool, error) {
	el, err := p.find(ctx, loc)
	return el != nil, err
}

// Click dispatches the click from script: ant-design radios and checkboxes
// are zero-opacity inputs that a synthetic mouse event cannot reach.
func (p *rodPage) Click(ctx context.Context, loc Locator) (bool, error) {
	el, err := p.find(ctx, loc)
	if el == nil {
		return false, err
	}
	if _, err := el.Eval(`() => this.click()`); err != nil {
		return false, fmt.Errorf("failed to click %s: %w", loc, err)
	}
	return true, nil
}

func (p *rodPage) Fill(ctx context.Context, loc Locator, value string) (bool, error) {
	el, err := p.find(ctx, loc)
	if el == nil {
		return false, err
	}
	_, err = el.Eval(`(v) => {
		this.focus();
		this.value = v;
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`, value)
	if err != nil {
		return false, fmt.Errorf("failed to fill %s: %w", loc, err)
	}
	return true, nil
}

func (p *rodPage) Activate(ctx context.Context) error {
	_, err := p.page.Context(ctx).Activate()
	return err
}

func (p *rodPage) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	raw, err := p.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			hc.Expires = c.Expires.Time()
		}
		cookies = append(cookies, hc)
	}
	return cookies, nil
}

func (p *rodPage) UserAgent(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => navigator.userAgent`)
	if err != nil {
		return "", fmt.Errorf("failed to read user agent: %w", err)
	}
	return res.Value.Str(), nil
}

// find returns the first element matching every constraint of loc, or nil.
// It never waits for elements to appear; callers poll.
func (p *rodPage) find(ctx context.Context, loc Locator) (*rod.Element, error) {
	els, err := p.page.Context(ctx).Elements(loc.CSS)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", loc.CSS, err)
	}
	for _, el := range els {
		if loc.Text != "" {
			text, err := el.Text()
			if err != nil || !strings.Contains(text, loc.Text) {
				continue
			}
		}
		if loc.Visible {
			visible, err := el.Visible()
			if err != nil || !visible {
				continue
			}
		}
		if loc.Enabled {
			disabled, err := el.Property("disabled")
			if err != nil || disabled.Bool() {
				continue
			}
		}
		return el, nil
	}
	return nil, nil
}
