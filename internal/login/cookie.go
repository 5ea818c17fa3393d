package login

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"autoclip/internal/browser"
)

// SessionCookie names the cookie a site sets once signed in, and the host it
// must apply to.
type SessionCookie struct {
	Name string
	Host string
}

// Matches reports whether c is the session cookie and still valid at now. A
// cookie without a domain is host-only and taken to belong to the page's host.
func (s SessionCookie) Matches(c *http.Cookie, now time.Time) bool {
	if c.Name != s.Name || c.Value == "" {
		return false
	}
	if !c.Expires.IsZero() && c.Expires.Before(now) {
		return false
	}
	domain := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	host := strings.ToLower(s.Host)
	return domain == "" || host == domain || strings.HasSuffix(host, "."+domain)
}

// LoggedIn reports whether page holds s.
func LoggedIn(ctx context.Context, page browser.Page, s SessionCookie) (bool, error) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read cookies: %w", err)
	}
	now := time.Now()
	for _, c := range cookies {
		if s.Matches(c, now) {
			return true, nil
		}
	}
	return false, nil
}
