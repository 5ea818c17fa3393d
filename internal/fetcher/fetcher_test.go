package fetcher

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autoclip/internal/browser/browsertest"
	"autoclip/internal/failure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestFetcher(t *testing.T) *Fetcher {
	return NewFetcher(Config{Timeout: 5 * time.Second, DefaultFileName: "report.xlsx"}, zaptest.NewLogger(t))
}

func TestFetchCarriesSessionCredentials(t *testing.T) {
	payload := []byte("PK\x03\x04 spreadsheet bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("SESSION")
		if err != nil || c.Value != "s3cr3t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/marketing-reporting/v2/api/excel-report", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		assert.Equal(t, "agent/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Disposition", `attachment; filename*=UTF-8''%ED%82%A4%EC%9B%8C%EB%93%9C.xlsx`)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	page := browsertest.NewPage()
	page.SetURL(srv.URL + "/marketing-reporting/billboard/reports/pa")
	page.Jar = []*http.Cookie{{Name: "SESSION", Value: "s3cr3t"}}
	page.Agent = "agent/1.0"

	file, err := newTestFetcher(t).Fetch(context.Background(), page, "/marketing-reporting/v2/api/excel-report?id=42")
	require.NoError(t, err)
	assert.Equal(t, "키워드.xlsx", file.Name)
	assert.Equal(t, len(payload), file.Size)
	decoded, err := base64.StdEncoding.DecodeString(file.Base64)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	page := browsertest.NewPage()
	page.SetURL(srv.URL + "/reports")

	_, err := newTestFetcher(t).Fetch(context.Background(), page, "/download?id=1")
	require.Error(t, err)
	var fe *failure.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusForbidden, fe.Status)
	assert.Equal(t, "HTTP 403", err.Error())
}

func TestFetchDefaultName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	page := browsertest.NewPage()
	page.SetURL(srv.URL)

	file, err := newTestFetcher(t).Fetch(context.Background(), page, srv.URL+"/file")
	require.NoError(t, err)
	assert.Equal(t, "report.xlsx", file.Name)
	assert.Equal(t, 1, file.Size)
}

func TestFetchUnresolvableReference(t *testing.T) {
	_, err := newTestFetcher(t).Fetch(context.Background(), browsertest.NewPage(), "/relative")
	var fe *failure.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.Status)
}

func TestFetchThroughProxy(t *testing.T) {
	var proxied int
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied++
		assert.Equal(t, "reports.test", r.Host)
		assert.Equal(t, "http://reports.test/download?id=7", r.RequestURI)
		c, err := r.Cookie("SESSION")
		if err != nil || c.Value != "s3cr3t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("proxied"))
	}))
	defer proxy.Close()

	page := browsertest.NewPage()
	page.SetURL("http://reports.test/reports")
	page.Jar = []*http.Cookie{{Name: "SESSION", Value: "s3cr3t"}}

	f := NewFetcher(Config{Timeout: 5 * time.Second, Proxy: proxy.URL}, zaptest.NewLogger(t))
	file, err := f.Fetch(context.Background(), page, "/download?id=7")
	require.NoError(t, err)
	assert.Equal(t, 1, proxied)
	decoded, err := base64.StdEncoding.DecodeString(file.Base64)
	require.NoError(t, err)
	assert.Equal(t, "proxied", string(decoded))
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PART", r.Header.Get("logic"))
		assert.Contains(t, r.Header.Get("Accept"), "application/json")
		assert.Equal(t, "agent/1.0", r.Header.Get("User-Agent"))
		if r.URL.Path == "/broken" {
			_, _ = w.Write([]byte("<html>"))
			return
		}
		_, _ = w.Write([]byte(`{"shoppingResult":{"products":[]}}`))
	}))
	defer srv.Close()

	page := browsertest.NewPage()
	page.SetURL(srv.URL + "/search/all?query=x")
	page.Agent = "agent/1.0"
	headers := map[string]string{"logic": "PART"}

	raw, err := newTestFetcher(t).FetchJSON(context.Background(), page, "/api/search/all?query=x", headers)
	require.NoError(t, err)
	assert.JSONEq(t, `{"shoppingResult":{"products":[]}}`, string(raw))

	_, err = newTestFetcher(t).FetchJSON(context.Background(), page, "/broken", headers)
	var fe *failure.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Message, "not JSON")
}

func TestFileName(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", "report.xlsx"},
		{`attachment; filename="a.xlsx"`, "a.xlsx"},
		{`attachment; filename=b.xlsx`, "b.xlsx"},
		{`attachment; filename="%EB%B3%B4%EA%B3%A0%EC%84%9C.xlsx"`, "보고서.xlsx"},
		{`attachment; filename*=UTF-8''c%20d.xlsx`, "c d.xlsx"},
		{`attachment`, "report.xlsx"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FileName(tc.header, "report.xlsx"), tc.header)
	}
}
