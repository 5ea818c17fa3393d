package coupang

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"autoclip/internal/failure"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const autocompletePath = "/n-api/web-adapter/search"

// Autocomplete queries the shop's public keyword suggestion endpoint.
type Autocomplete struct {
	http *resty.Client
}

// NewAutocomplete returns a client for baseURL (https://www.coupang.com when
// empty) sending at most perSecond requests per second.
func NewAutocomplete(baseURL string, perSecond float64, timeout time.Duration) *Autocomplete {
	if baseURL == "" {
		baseURL = "https://" + ShopHost
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})
	return &Autocomplete{http: client}
}

// Suggest returns the endpoint's JSON document for keyword unchanged.
func (a *Autocomplete) Suggest(ctx context.Context, keyword string) (json.RawMessage, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, errors.New("keyword is required")
	}
	res, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("keyword", keyword).
		Get(autocompletePath)
	if err != nil {
		return nil, &failure.FetchError{Message: err.Error()}
	}
	if res.IsError() {
		return nil, &failure.FetchError{Status: res.StatusCode()}
	}
	if !json.Valid(res.Body()) {
		return nil, &failure.FetchError{Message: "autocomplete returned invalid JSON"}
	}
	return json.RawMessage(res.Body()), nil
}
