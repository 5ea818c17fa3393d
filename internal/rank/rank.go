// Package rank locates a product's advertisement and organic positions in
// paginated keyword search results.
package rank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoclip/internal/browser"
	"autoclip/internal/poll"

	"go.uber.org/zap"
)

const (
	firstPageSize = 49
	pageSize      = 45
	// depthAsPages is the largest search depth read as a page count.
	depthAsPages = 10
)

type Config struct {
	PollAttempts int           `mapstructure:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MinEntries   int           `mapstructure:"min_entries"`
	PageDelay    time.Duration `mapstructure:"page_delay"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
}

// Entry is one rendered search result, in page order.
type Entry struct {
	ProductID    string `json:"productId"`
	ItemID       string `json:"itemId,omitempty"`
	VendorItemID string `json:"vendorItemId,omitempty"`
	IsAd         bool   `json:"isAd"`
}

// Request asks for the ranks of one product under one keyword.
type Request struct {
	SessionID   string `json:"sessionId"`
	Keyword     string `json:"keyword"`
	ProductID   string `json:"productId"`
	ItemID      string `json:"itemId,omitempty"`
	SearchDepth int    `json:"searchDepth"`
	IsAdProduct bool   `json:"isAdProduct"`
}

func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Keyword) == "":
		return errors.New("keyword is required")
	case r.ProductID == "":
		return errors.New("productId is required")
	case r.SearchDepth <= 0:
		return fmt.Errorf("searchDepth must be positive, got %d", r.SearchDepth)
	}
	return nil
}

// Matches reports whether e is the requested product. The item id is only
// compared when the request carries one.
func (r Request) Matches(e Entry) bool {
	if e.ProductID != r.ProductID {
		return false
	}
	return r.ItemID == "" || e.ItemID == r.ItemID
}

// MaxPages is the number of result pages a search depth allows: the depth
// itself up to 10, otherwise enough 45-entry pages to cover it.
func MaxPages(depth int) int {
	if depth <= depthAsPages {
		return depth
	}
	return (depth + pageSize - 1) / pageSize
}

type PageInfo struct {
	Page     int `json:"page"`
	Position int `json:"position"`
}

// PageOf projects a 1-based rank onto the site's pages: 49 entries on the
// first page, 45 on every later one.
func PageOf(rank int) PageInfo {
	if rank <= firstPageSize {
		return PageInfo{Page: 1, Position: rank}
	}
	rest := rank - firstPageSize - 1
	return PageInfo{Page: 2 + rest/pageSize, Position: rest%pageSize + 1}
}

// Result holds the found ranks (nil when absent) and the raw counters.
type Result struct {
	Keyword           string    `json:"keyword"`
	ProductID         string    `json:"productId"`
	ItemID            string    `json:"itemId,omitempty"`
	AdRank            *int      `json:"adRank"`
	OrganicRank       *int      `json:"organicRank"`
	AdPageInfo        *PageInfo `json:"adPageInfo"`
	OrganicPageInfo   *PageInfo `json:"organicPageInfo"`
	TotalAdCount      int       `json:"totalAdCount"`
	TotalOrganicCount int       `json:"totalOrganicCount"`
	SearchedPages     int       `json:"searchedPages"`
	SearchDepth       int       `json:"searchDepth"`
	DeviceType        string    `json:"deviceType"`
}

func (r *Result) setAd(rank int) {
	r.AdRank = &rank
	info := PageOf(rank)
	r.AdPageInfo = &info
}

func (r *Result) setOrganic(rank int) {
	r.OrganicRank = &rank
	info := PageOf(rank)
	r.OrganicPageInfo = &info
}

// Profile is the search site's knowledge. Extract must be a pure function
// of the rendered page.
type Profile struct {
	SearchURL  func(keyword string, page int) string
	Extract    func(html string) []Entry
	DeviceType string
}

// Navigator loads a URL, reporting soft failures as loaded == false.
type Navigator interface {
	Navigate(ctx context.Context, page browser.Page, url string, timeout time.Duration) (bool, error)
}

type Engine struct {
	cfg Config
	nav Navigator
	log *zap.Logger
}

func New(cfg Config, nav Navigator, log *zap.Logger) *Engine {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 20
	}
	return &Engine{cfg: cfg, nav: nav, log: log.Named("rank")}
}

// Check pages through the search results for req.Keyword until every
// required rank is found, the depth is scanned or a page comes back empty.
func (e *Engine) Check(ctx context.Context, page browser.Page, p Profile, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := e.log.With(zap.String("keyword", req.Keyword), zap.String("product", req.ProductID))

	res := &Result{
		Keyword:     req.Keyword,
		ProductID:   req.ProductID,
		ItemID:      req.ItemID,
		SearchDepth: req.SearchDepth,
		DeviceType:  p.DeviceType,
	}
	maxPages := MaxPages(req.SearchDepth)
	done := false

	for pageNum := 1; pageNum <= maxPages && !done; pageNum++ {
		if _, err := e.nav.Navigate(ctx, page, p.SearchURL(req.Keyword, pageNum), e.cfg.NavTimeout); err != nil {
			return nil, err
		}
		entries, err := e.collect(ctx, page, p)
		if err != nil {
			log.Warn("rank check aborted", zap.Int("page", pageNum), zap.Error(err))
			return nil, fmt.Errorf("page %d: %w", pageNum, err)
		}
		if len(entries) == 0 {
			log.Info("no more results", zap.Int("page", pageNum))
			break
		}
		res.SearchedPages = pageNum
		log.Debug("page scanned", zap.Int("page", pageNum), zap.Int("entries", len(entries)))

		for _, entry := range entries {
			matched := req.Matches(entry)
			if entry.IsAd {
				if req.IsAdProduct {
					res.TotalAdCount++
					if matched && res.AdRank == nil {
						res.setAd(res.TotalAdCount)
						log.Info("ad rank found", zap.Int("rank", res.TotalAdCount))
					}
				}
			} else {
				res.TotalOrganicCount++
				if matched && res.OrganicRank == nil {
					res.setOrganic(res.TotalOrganicCount)
					log.Info("organic rank found", zap.Int("rank", res.TotalOrganicCount))
				}
			}

			if found(res, req) {
				done = true
				break
			}
			if req.SearchDepth > depthAsPages && res.TotalAdCount+res.TotalOrganicCount >= req.SearchDepth {
				done = true
				break
			}
		}

		if !done && pageNum < maxPages {
			if err := sleep(ctx, e.cfg.PageDelay); err != nil {
				return nil, err
			}
		}
	}

	log.Info("rank check complete",
		zap.Int("ads", res.TotalAdCount),
		zap.Int("organic", res.TotalOrganicCount),
		zap.Int("pages", res.SearchedPages))
	return res, nil
}

// found reports whether every rank the request needs is known.
func found(res *Result, req Request) bool {
	if req.IsAdProduct {
		return res.AdRank != nil && res.OrganicRank != nil
	}
	return res.OrganicRank != nil
}

// collect waits for the page to render enough entries. When the attempts run
// out it settles for whatever the last successful read produced, which may be
// nothing. A page that could never be read is an error, not an empty page.
func (e *Engine) collect(ctx context.Context, page browser.Page, p Profile) ([]Entry, error) {
	var (
		last    []Entry
		read    bool
		readErr error
	)
	opts := poll.Options{Interval: e.cfg.PollInterval, MaxAttempts: e.cfg.PollAttempts, Delayed: true}
	entries, err := poll.Until(ctx, opts, func(ctx context.Context) ([]Entry, bool) {
		html, err := page.HTML(ctx)
		if err != nil {
			readErr = err
			e.log.Debug("read failed", zap.Error(err))
			return nil, false
		}
		read = true
		last = p.Extract(html)
		return last, len(last) >= e.cfg.MinEntries && len(last) > 0
	})
	if errors.Is(err, poll.ErrTimeout) {
		if !read {
			return nil, fmt.Errorf("search results could not be read: %w", readErr)
		}
		return last, nil
	}
	return entries, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
