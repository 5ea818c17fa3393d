// Package naver holds what the workflows know about Naver Shopping: its
// search URLs, the search API and the shape of its product documents.
package naver

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"autoclip/internal/tags"

	"github.com/tidwall/gjson"
)

const (
	ShoppingHost = "search.shopping.naver.com"
	LoginURL     = "https://naver.com"
	// SessionCookie is set once a Naver account is signed in.
	SessionCookie = "NID_SES"

	searchURL = "https://" + ShoppingHost + "/search/all"
	apiURL    = "https://" + ShoppingHost + "/api/search/all"
)

// SearchURL is the shopping search page; opening it first gives the API
// calls the site's cookies and referer.
func SearchURL(keyword string) string {
	return searchURL + "?query=" + url.QueryEscape(keyword)
}

// APIURL is the relevance-sorted list view of page n.
func APIURL(keyword string, page, pageSize int) string {
	return fmt.Sprintf("%s?sort=rel&pagingIndex=%d&pagingSize=%d&viewType=list&productSet=total&query=%s&iq=&eq=&xq=&window=&fo=true",
		apiURL, page, pageSize, url.QueryEscape(keyword))
}

// APIHeaders are sent with every API call.
var APIHeaders = map[string]string{
	"Accept-Language": "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
	"logic":           "PART",
}

var excluded = map[string]bool{
	"오늘출발":   true,
	"오늘발송":   true,
	"무료교환":   true,
	"무료반품":   true,
	"무료교환반품": true,
	"무료반품교환": true,
	"정기구독":   true,
	"정기배달":   true,
	"정기배송":   true,
}

// Excluded reports shipping and subscription tags, which most sellers carry.
func Excluded(tag string) bool { return excluded[tag] }

// ParseProducts reads shoppingResult.products. Tags come from manuTag (or
// manutag), either a comma separated string or an array of strings.
func ParseProducts(body []byte) ([]tags.Product, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid search response")
	}
	var products []tags.Product
	gjson.GetBytes(body, "shoppingResult.products").ForEach(func(_, item gjson.Result) bool {
		raw := item.Get("manuTag")
		if !raw.Exists() {
			raw = item.Get("manutag")
		}
		products = append(products, tags.Product{
			Title: item.Get("productTitle").String(),
			Tags:  splitTags(raw),
		})
		return true
	})
	return products, nil
}

func splitTags(raw gjson.Result) []string {
	var out []string
	switch {
	case raw.IsArray():
		for _, t := range raw.Array() {
			if t.Type == gjson.String && t.Str != "" {
				out = append(out, t.Str)
			}
		}
	case raw.Type == gjson.String:
		for _, t := range strings.Split(raw.Str, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// TagsProfile wires the search API into the tag engine.
func TagsProfile() tags.Profile {
	return tags.Profile{
		SearchURL: SearchURL,
		APIURL:    APIURL,
		Headers:   APIHeaders,
		Parse:     ParseProducts,
		Excluded:  Excluded,
	}
}
