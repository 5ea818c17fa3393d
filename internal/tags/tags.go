// Package tags tallies the seller tags attached to the products of a keyword
// search, read page by page from a shopping search API.
package tags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"autoclip/internal/browser"

	"go.uber.org/zap"
)

type Config struct {
	PageSize  int           `mapstructure:"page_size"`
	Pages     int           `mapstructure:"pages"`
	PageDelay time.Duration `mapstructure:"page_delay"`
}

// Product is one search result as far as tagging goes.
type Product struct {
	Title string
	Tags  []string
}

// Profile is the shopping site's knowledge.
type Profile struct {
	SearchURL func(keyword string) string
	APIURL    func(keyword string, page, pageSize int) string
	Headers   map[string]string
	Parse     func(body []byte) ([]Product, error)
	// Excluded reports tags that say nothing about the product, such as
	// shipping promises.
	Excluded func(tag string) bool
}

// Request asks for the tags of one keyword. Zero values take the configured
// defaults.
type Request struct {
	Keyword  string `json:"keyword"`
	PageSize int    `json:"pageSize,omitempty"`
	Pages    int    `json:"pages,omitempty"`
}

func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Keyword) == "":
		return errors.New("keyword is required")
	case r.PageSize < 0:
		return fmt.Errorf("pageSize must not be negative, got %d", r.PageSize)
	case r.Pages < 0:
		return fmt.Errorf("pages must not be negative, got %d", r.Pages)
	}
	return nil
}

type Count struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Occurrence is one tag on one product; Rank is the product's 1-based
// position across all pages read.
type Occurrence struct {
	Tag         string `json:"tag"`
	Rank        int    `json:"rank"`
	ProductName string `json:"productName"`
}

type Result struct {
	Keyword       string       `json:"keyword"`
	TotalProducts int          `json:"totalProducts"`
	Tags          []Count      `json:"tags"`
	RawTags       []Occurrence `json:"rawTags"`
}

// Source fetches an API document with a page's credentials.
type Source interface {
	FetchJSON(ctx context.Context, page browser.Page, ref string, headers map[string]string) (json.RawMessage, error)
}

type Engine struct {
	cfg Config
	src Source
	log *zap.Logger
}

func New(cfg Config, src Source, log *zap.Logger) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 40
	}
	if cfg.Pages <= 0 {
		cfg.Pages = 2
	}
	return &Engine{cfg: cfg, src: src, log: log.Named("tags")}
}

// Collect reads up to req.Pages result pages through page, which must already
// be on the site so the API sees its cookies. It stops early at the first
// empty page. A failed page fails the whole collection.
func (e *Engine) Collect(ctx context.Context, page browser.Page, p Profile, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	size, pages := req.PageSize, req.Pages
	if size == 0 {
		size = e.cfg.PageSize
	}
	if pages == 0 {
		pages = e.cfg.Pages
	}
	log := e.log.With(zap.String("keyword", req.Keyword))

	res := &Result{Keyword: req.Keyword, Tags: []Count{}, RawTags: []Occurrence{}}
	counts := map[string]int{}
	var order []string

	for n := 1; n <= pages; n++ {
		body, err := e.src.FetchJSON(ctx, page, p.APIURL(req.Keyword, n, size), p.Headers)
		if err != nil {
			log.Warn("tag collection aborted", zap.Int("page", n), zap.Error(err))
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		products, err := p.Parse(body)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		if len(products) == 0 {
			log.Info("no more products", zap.Int("page", n))
			break
		}

		for _, product := range products {
			res.TotalProducts++
			for _, tag := range product.Tags {
				if tag == "" || (p.Excluded != nil && p.Excluded(tag)) {
					continue
				}
				res.RawTags = append(res.RawTags, Occurrence{Tag: tag, Rank: res.TotalProducts, ProductName: product.Title})
				if counts[tag] == 0 {
					order = append(order, tag)
				}
				counts[tag]++
			}
		}
		log.Debug("page read", zap.Int("page", n), zap.Int("products", len(products)))

		if n < pages {
			if err := sleep(ctx, e.cfg.PageDelay); err != nil {
				return nil, err
			}
		}
	}

	for _, tag := range order {
		res.Tags = append(res.Tags, Count{Tag: tag, Count: counts[tag]})
	}
	sort.SliceStable(res.Tags, func(i, j int) bool { return res.Tags[i].Count > res.Tags[j].Count })

	log.Info("tags collected", zap.Int("products", res.TotalProducts), zap.Int("tags", len(res.Tags)))
	return res, nil
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
