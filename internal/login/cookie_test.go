package login

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"autoclip/internal/browser/browsertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCookieMatches(t *testing.T) {
	ads := SessionCookie{Name: "SESSION", Host: "advertising.coupang.com"}
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		cookie http.Cookie
		want   bool
	}{
		{"host only", http.Cookie{Name: "SESSION", Value: "v"}, true},
		{"exact domain", http.Cookie{Name: "SESSION", Value: "v", Domain: "advertising.coupang.com"}, true},
		{"parent domain", http.Cookie{Name: "SESSION", Value: "v", Domain: ".coupang.com"}, true},
		{"other site", http.Cookie{Name: "SESSION", Value: "v", Domain: "wing.coupang.com"}, false},
		{"suffix is not a parent", http.Cookie{Name: "SESSION", Value: "v", Domain: "ing.coupang.com"}, false},
		{"other name", http.Cookie{Name: "JSESSIONID", Value: "v"}, false},
		{"empty value", http.Cookie{Name: "SESSION"}, false},
		{"expired", http.Cookie{Name: "SESSION", Value: "v", Expires: now.Add(-time.Minute)}, false},
		{"not yet expired", http.Cookie{Name: "SESSION", Value: "v", Expires: now.Add(time.Hour)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ads.Matches(&tc.cookie, now))
		})
	}
}

func TestLoggedIn(t *testing.T) {
	naver := SessionCookie{Name: "NID_SES", Host: "naver.com"}
	page := browsertest.NewPage()

	ok, err := LoggedIn(context.Background(), page, naver)
	require.NoError(t, err)
	assert.False(t, ok)

	page.Jar = []*http.Cookie{{Name: "NNB", Value: "x", Domain: ".naver.com"}, {Name: "NID_SES", Value: "y", Domain: ".naver.com"}}
	ok, err = LoggedIn(context.Background(), page, naver)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoggedInCookieReadFails(t *testing.T) {
	page := browsertest.NewPage()
	page.CookiesErr = errors.New("target closed")

	_, err := LoggedIn(context.Background(), page, SessionCookie{Name: "SESSION", Host: "advertising.coupang.com"})
	require.ErrorIs(t, err, page.CookiesErr)
}
