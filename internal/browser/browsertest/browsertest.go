// Package browsertest provides an in-memory browser.Driver whose pages are
// scripted by tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"autoclip/internal/browser"
)

// Page is a scripted browser.Page. Elements are addressed by Locator.Name.
// All hooks are optional; unset hooks fall back to the static fields.
// BodyFunc, HTMLErr, URLFunc and PresentFunc run under the page lock and may only read
// fields; OnNavigate and OnClick run unlocked and may call Set/SetURL.
type Page struct {
	mu sync.Mutex

	CurrentURL string
	Body       string
	Elements   map[string]bool
	Jar        []*http.Cookie
	CookiesErr error
	Agent      string

	// OnNavigate may rewrite state after a navigation and return an error.
	OnNavigate func(p *Page, url string) error
	// BodyFunc overrides Body. It receives the number of prior HTML reads.
	BodyFunc func(p *Page, reads int) string
	// URLFunc overrides CurrentURL. It receives the number of prior URL reads.
	URLFunc func(p *Page, reads int) string
	// HTMLErr, when it returns non-nil, fails the HTML read. It receives the
	// number of prior HTML reads.
	HTMLErr func(p *Page, reads int) error
	// PresentFunc overrides Elements.
	PresentFunc func(p *Page, loc browser.Locator) bool
	// OnClick runs after a successful click.
	OnClick func(p *Page, loc browser.Locator)

	Navigations []string
	Clicks      []string
	Fills       map[string]string
	Activations int

	htmlReads int
	urlReads  int
}

// NewPage returns a page at about:blank with no elements.
func NewPage() *Page {
	return &Page{CurrentURL: "about:blank", Elements: map[string]bool{}, Fills: map[string]string{}}
}

// Set marks an element as present or absent.
func (p *Page) Set(name string, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Elements[name] = present
}

// SetURL moves the page without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentURL = url
}

// SetBody replaces the static page body.
func (p *Page) SetBody(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Body = body
}

// ClickCount reports how often the named element was clicked.
func (p *Page) ClickCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Clicks {
		if c == name {
			n++
		}
	}
	return n
}

// NavigatedTo returns a copy of the navigation history.
func (p *Page) NavigatedTo() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Navigations...)
}

func (p *Page) present(loc browser.Locator) bool {
	if p.PresentFunc != nil {
		return p.PresentFunc(p, loc)
	}
	return p.Elements[loc.Name]
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.Navigations = append(p.Navigations, url)
	p.CurrentURL = url
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		if err := hook(p, url); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reads := p.urlReads
	p.urlReads++
	if p.URLFunc != nil {
		return p.URLFunc(p, reads), nil
	}
	return p.CurrentURL, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reads := p.htmlReads
	p.htmlReads++
	if p.HTMLErr != nil {
		if err := p.HTMLErr(p, reads); err != nil {
			return "", err
		}
	}
	if p.BodyFunc != nil {
		return p.BodyFunc(p, reads), nil
	}
	return p.Body, nil
}

func (p *Page) Has(ctx context.Context, loc browser.Locator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present(loc), nil
}

func (p *Page) Click(ctx context.Context, loc browser.Locator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	if !p.present(loc) {
		p.mu.Unlock()
		return false, nil
	}
	p.Clicks = append(p.Clicks, loc.Name)
	hook := p.OnClick
	p.mu.Unlock()
	if hook != nil {
		hook(p, loc)
	}
	return true, nil
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.present(loc) {
		return false, nil
	}
	p.Fills[loc.Name] = value
	return true, nil
}

func (p *Page) Activate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Activations++
	return nil
}

func (p *Page) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CookiesErr != nil {
		return nil, p.CookiesErr
	}
	return p.Jar, nil
}

func (p *Page) UserAgent(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Agent == "" {
		return "browsertest", nil
	}
	return p.Agent, nil
}

// Context is a scripted isolated context.
type Context struct {
	id     string
	page   *Page
	closes atomic.Int32
	// CloseErr is returned from every Close call.
	CloseErr error
}

func (c *Context) ID() string { return c.id }

func (c *Context) Page() browser.Page { return c.page }

// Closes reports how many times Close was called.
func (c *Context) Closes() int { return int(c.closes.Load()) }

// ScriptedPage exposes the concrete page for assertions.
func (c *Context) ScriptedPage() *Page { return c.page }

func (c *Context) Close() error {
	c.closes.Add(1)
	return c.CloseErr
}

// Driver hands out scripted contexts.
type Driver struct {
	mu sync.Mutex
	// NewPageFunc builds the page for each context; defaults to NewPage.
	NewPageFunc func() *Page
	// Fail makes NewIsolatedContext return this error.
	Fail error
	// CloseErr is copied into every created context.
	CloseErr error

	Contexts  []*Context
	Viewports []browser.Viewport
}

func (d *Driver) NewIsolatedContext(ctx context.Context, vp browser.Viewport) (browser.IsolatedContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return nil, d.Fail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page := NewPage()
	if d.NewPageFunc != nil {
		page = d.NewPageFunc()
	}
	c := &Context{id: fmt.Sprintf("ctx-%d", len(d.Contexts)+1), page: page, CloseErr: d.CloseErr}
	d.Contexts = append(d.Contexts, c)
	d.Viewports = append(d.Viewports, vp)
	return c, nil
}

// Last returns the most recently created context.
func (d *Driver) Last() (*Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Contexts) == 0 {
		return nil, errors.New("browsertest: no context created")
	}
	return d.Contexts[len(d.Contexts)-1], nil
}
