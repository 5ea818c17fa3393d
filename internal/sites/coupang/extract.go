package coupang

import (
	"regexp"
	"strings"

	"autoclip/internal/login"
	"autoclip/internal/rank"
	"autoclip/internal/report"

	"github.com/PuerkitoBio/goquery"
)

// Product list markup has changed over time; the first selector that
// matches anything wins.
var productSelectors = []string{
	"li.ProductUnit_productUnit__Qd6sv",
	"#product-list > li",
	`li[class*="search-product"]`,
}

const (
	productLink = `a[href*="/vp/products/"], a[href*="/products/"]`
	adBadge     = `.AdMark_adMark__KPMsC, [class*="AdMark_adMark"]`

	otpInput   = `input[type="text"][maxlength="6"], input[name*="otp"], input[name*="code"], input[placeholder*="인증"], input[id*="otp"], input[id*="code"]`
	loginError = `.error-message, .login-error, [class*="error"]`
)

var (
	productIDPattern    = regexp.MustCompile(`/(?:vp/)?products/(\d+)`)
	itemIDPattern       = regexp.MustCompile(`[?&]itemId=(\d+)`)
	vendorItemIDPattern = regexp.MustCompile(`[?&]vendorItemId=(\d+)`)

	twoFactorPhrases = []string{"인증번호", "인증 코드", "확인 코드", "보안 코드"}
)

func parse(html string) (*goquery.Document, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	return doc, err == nil
}

// ExtractRankEntries lists the search results of a rendered search page in
// display order. Entries without a product link are skipped.
func ExtractRankEntries(html string) []rank.Entry {
	doc, ok := parse(html)
	if !ok {
		return nil
	}

	var items *goquery.Selection
	for _, sel := range productSelectors {
		if items = doc.Find(sel); items.Length() > 0 {
			break
		}
	}

	var entries []rank.Entry
	items.Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Find(productLink).First().Attr("href")
		m := productIDPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		entries = append(entries, rank.Entry{
			ProductID:    m[1],
			ItemID:       submatch(itemIDPattern, href),
			VendorItemID: submatch(vendorItemIDPattern, href),
			IsAd:         s.Find(adBadge).Length() > 0,
		})
	})
	return entries
}

func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// ParseReportRows reads the requested-reports grid.
func ParseReportRows(html string) []report.Job {
	doc, ok := parse(html)
	if !ok {
		return nil
	}
	var jobs []report.Job
	doc.Find(".ag-row").Each(func(_ int, row *goquery.Selection) {
		id, _ := row.Attr("row-id")
		col := func(name string) string {
			return strings.TrimSpace(row.Find(`[col-id="` + name + `"]`).First().Text())
		}
		jobs = append(jobs, report.Job{
			ID:            id,
			RequestedDate: col("requestDate"),
			DateRange:     col("dateRange"),
			Structure:     col("dateGroupGranularity"),
			Status:        col("status"),
		})
	})
	return jobs
}

// InspectLogin looks for a two-factor challenge and a login error message.
func InspectLogin(html string) login.Signals {
	doc, ok := parse(html)
	if !ok {
		return login.Signals{}
	}
	sig := login.Signals{TwoFactor: doc.Find(otpInput).Length() > 0}
	if !sig.TwoFactor {
		body := doc.Find("body").Text()
		for _, phrase := range twoFactorPhrases {
			if strings.Contains(body, phrase) {
				sig.TwoFactor = true
				break
			}
		}
	}
	doc.Find(loginError).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if hidden(el) {
			return true
		}
		sig.ErrorText = strings.TrimSpace(el.Text())
		return sig.ErrorText == ""
	})
	return sig
}

var hiddenStyle = regexp.MustCompile(`(?i)(display\s*:\s*none|visibility\s*:\s*hidden)`)

// hidden reports whether el or one of its ancestors is not rendered. Error
// containers ship with their message and are shown by toggling these.
func hidden(el *goquery.Selection) bool {
	for s := el; s.Length() > 0; s = s.Parent() {
		if _, ok := s.Attr("hidden"); ok {
			return true
		}
		if v, _ := s.Attr("aria-hidden"); v == "true" {
			return true
		}
		if style, ok := s.Attr("style"); ok && hiddenStyle.MatchString(style) {
			return true
		}
	}
	return false
}
