// Package fetcher downloads files with the credentials of a browser session.
package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"regexp"
	"strings"
	"time"

	"autoclip/internal/browser"
	"autoclip/internal/failure"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	Rate            float64       `mapstructure:"rate"` // requests per second, 0 = unlimited
	DefaultFileName string        `mapstructure:"default_file_name"`
	// Proxy must match the browser's so cookies leave from the address that
	// logged in. Empty means the browser's proxy, if any.
	Proxy string `mapstructure:"proxy"`
}

// File is a fully read download, encoded for transport to the caller.
type File struct {
	Base64 string `json:"fileData"`
	Name   string `json:"fileName"`
	Size   int    `json:"size"`
}

// Fetcher issues GET requests carrying a session's cookies and user agent.
type Fetcher struct {
	http        *resty.Client
	defaultName string
	log         *zap.Logger
}

func NewFetcher(cfg Config, log *zap.Logger) *Fetcher {
	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Proxy != "" {
		client.SetProxy(cfg.Proxy)
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	name := cfg.DefaultFileName
	if name == "" {
		name = "report.xlsx"
	}
	return &Fetcher{http: client, defaultName: name, log: log.Named("fetcher")}
}

// Fetch resolves ref against the page's current location and downloads it
// with the page's cookies. Any transport failure or non-2xx status is a
// *failure.FetchError; nothing partial is returned.
func (f *Fetcher) Fetch(ctx context.Context, page browser.Page, ref string) (*File, error) {
	req, target, err := f.prepare(ctx, page, ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := f.get(req, target)
	if err != nil {
		return nil, err
	}

	body := res.Body()
	file := &File{
		Base64: base64.StdEncoding.EncodeToString(body),
		Name:   FileName(res.Header().Get("Content-Disposition"), f.defaultName),
		Size:   len(body),
	}
	f.log.Info("downloaded",
		zap.String("file", file.Name),
		zap.Int("bytes", file.Size),
		zap.Duration("took", time.Since(start)))
	return file, nil
}

// FetchJSON is Fetch for an API endpoint: the body must be a JSON document
// and is returned unchanged.
func (f *Fetcher) FetchJSON(ctx context.Context, page browser.Page, ref string, headers map[string]string) (json.RawMessage, error) {
	req, target, err := f.prepare(ctx, page, ref)
	if err != nil {
		return nil, err
	}
	req.SetHeader("Accept", "application/json, text/plain, */*")
	req.SetHeaders(headers)

	res, err := f.get(req, target)
	if err != nil {
		return nil, err
	}
	if !json.Valid(res.Body()) {
		return nil, &failure.FetchError{Message: "response is not JSON: " + target}
	}
	f.log.Debug("fetched", zap.String("url", target), zap.Int("bytes", len(res.Body())))
	return json.RawMessage(res.Body()), nil
}

// prepare builds a request carrying the page's cookies, user agent and
// location as referer.
func (f *Fetcher) prepare(ctx context.Context, page browser.Page, ref string) (*resty.Request, string, error) {
	base, err := page.URL(ctx)
	if err != nil {
		return nil, "", &failure.FetchError{Message: err.Error()}
	}
	target, err := resolve(base, ref)
	if err != nil {
		return nil, "", &failure.FetchError{Message: err.Error()}
	}
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, "", &failure.FetchError{Message: err.Error()}
	}
	agent, err := page.UserAgent(ctx)
	if err != nil {
		f.log.Debug("user agent unavailable", zap.Error(err))
	}

	req := f.http.R().
		SetContext(ctx).
		SetCookies(cookies).
		SetHeader("Referer", base)
	if agent != "" {
		req.SetHeader("User-Agent", agent)
	}
	return req, target, nil
}

func (f *Fetcher) get(req *resty.Request, target string) (*resty.Response, error) {
	res, err := req.Get(target)
	if err != nil {
		return nil, &failure.FetchError{Message: err.Error()}
	}
	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		f.log.Warn("request rejected", zap.String("url", target), zap.Int("status", res.StatusCode()))
		return nil, &failure.FetchError{Status: res.StatusCode()}
	}
	return res, nil
}

func resolve(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid download reference %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil || (b.Scheme != "http" && b.Scheme != "https") {
		return "", fmt.Errorf("cannot resolve %q against page location %q", ref, base)
	}
	return b.ResolveReference(r).String(), nil
}

var looseFileName = regexp.MustCompile(`(?i)filename\*?=(?:UTF-8'')?"?([^";]+)"?`)

// FileName extracts the suggested name from a Content-Disposition header,
// falling back to def.
func FileName(disposition, def string) string {
	if disposition == "" {
		return def
	}
	name := ""
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		name = params["filename"]
	} else if m := looseFileName.FindStringSubmatch(disposition); m != nil {
		name = m[1]
	}
	if strings.Contains(name, "%") {
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return def
	}
	return name
}
