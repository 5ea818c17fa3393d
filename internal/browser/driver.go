package browser

import (
	"context"
	"net/http"
)

// Viewport describes the emulated screen of an isolated context.
type Viewport struct {
	Width  int     `mapstructure:"width"`
	Height int     `mapstructure:"height"`
	Scale  float64 `mapstructure:"scale"`
	Mobile bool    `mapstructure:"mobile"`
}

// Driver creates credential-free browsing contexts.
type Driver interface {
	NewIsolatedContext(ctx context.Context, vp Viewport) (IsolatedContext, error)
}

// IsolatedContext is a private-window equivalent with its own cookie jar and
// exactly one primary page.
type IsolatedContext interface {
	ID() string
	Page() Page
	// Close disposes the context. Calling it more than once is a no-op.
	Close() error
}

// Page is the capability set the workflows drive. Markup knowledge lives in
// the Locator values and extraction functions handed to it, never here.
type Page interface {
	// Navigate changes the location and returns once the load event of this
	// navigation fired, or ctx ended.
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// HTML returns a snapshot of the rendered DOM.
	HTML(ctx context.Context) (string, error)
	Has(ctx context.Context, loc Locator) (bool, error)
	Click(ctx context.Context, loc Locator) (bool, error)
	Fill(ctx context.Context, loc Locator, value string) (bool, error)
	// Activate brings the page and its window to the foreground.
	Activate(ctx context.Context) error
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	UserAgent(ctx context.Context) (string, error)
}
