// Package coupang holds everything the workflows know about Coupang's web
// surfaces: URLs, element locators and extraction over rendered pages.
package coupang

import (
	"fmt"
	"net/url"
	"strings"

	"autoclip/internal/browser"
	"autoclip/internal/login"
	"autoclip/internal/rank"
	"autoclip/internal/report"
)

const (
	AdsHost   = "advertising.coupang.com"
	AuthHost  = "xauth.coupang.com"
	ShopHost  = "www.coupang.com"
	LoginURL  = "https://" + AdsHost + "/user/login"
	ReportURL = "https://" + AdsHost + "/marketing-reporting/billboard/reports/pa"

	// SessionCookie is set on AdsHost once signed in.
	SessionCookie = "SESSION"

	searchURL  = "https://" + ShopHost + "/np/search"
	reportPath = "/reports/pa"
)

// IsReportPage reports whether u already shows the report surface.
func IsReportPage(u string) bool { return strings.Contains(u, reportPath) }

func isLoginPath(path string) bool { return strings.Contains(path, "/login") }

// IsAuthenticated reports whether u is inside the advertising center rather
// than on its login page.
func IsAuthenticated(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Host == AdsHost && !isLoginPath(parsed.Path)
}

// IsExternalAuth reports whether u is on the identity provider.
func IsExternalAuth(u string) bool {
	parsed, err := url.Parse(u)
	return err == nil && parsed.Host == AuthHost
}

// SearchURL is the shop search for keyword; page 1 carries no page parameter.
func SearchURL(keyword string, page int) string {
	u := searchURL + "?q=" + url.QueryEscape(keyword)
	if page > 1 {
		u += fmt.Sprintf("&page=%d", page)
	}
	return u
}

// DownloadRef is the spreadsheet endpoint for a generated report row.
func DownloadRef(id string) string {
	return "/marketing-reporting/v2/api/excel-report?id=" + url.QueryEscape(id)
}

func LoginProfile() login.Profile {
	return login.Profile{
		Entry: browser.Locators{
			{Name: "authorization link", CSS: `a[href*="/user/wing/authorization"]`},
			{Name: "login button", CSS: "a.ant-btn, button", Text: "로그인"},
		},
		Identifier: browser.Locators{
			{CSS: "#username"},
			{CSS: "#login-username"},
			{CSS: `input[name="username"]`},
			{CSS: `input[type="text"]`},
			{CSS: `input[type="email"]`},
			{CSS: `input[placeholder*="아이디"]:not([type="password"])`},
			{CSS: `input[placeholder*="이메일"]:not([type="password"])`},
		},
		Secret: browser.Locators{
			{CSS: "#password"},
			{CSS: "#login-password"},
			{CSS: `input[name="password"]`},
			{CSS: `input[type="password"]`},
		},
		Submit: browser.Locators{
			{CSS: "#kc-login"},
			{CSS: `button[type="submit"]`},
			{CSS: `input[type="submit"]`},
			{CSS: `button[name="login"]`},
			{CSS: ".btn-login"},
			{CSS: ".login-btn"},
			{Name: "submit by text", CSS: `button, input[type="submit"]`, Text: "로그인"},
			{Name: "submit by english text", CSS: `button, input[type="submit"]`, Text: "Login"},
		},
		IsAuthenticated: IsAuthenticated,
		IsExternalAuth:  IsExternalAuth,
		Inspect:         InspectLogin,
	}
}

func ReportProfile() report.Profile {
	campaign := browser.Locators{{Name: "campaign picker", CSS: ".campaign-picker-dropdown-btn"}}
	return report.Profile{
		Ready: campaign,
		CustomRange: browser.Locators{
			{Name: "custom range radio", CSS: `input.ant-radio-input[value=""]`},
			{Name: "custom range label", CSS: ".ant-radio-wrapper", Text: "기간 설정"},
			{Name: "custom range label (compact)", CSS: ".ant-radio-wrapper", Text: "기간설정"},
		},
		RangePicker: browser.Locators{{Name: "range picker", CSS: ".ant-picker.ant-picker-range"}},
		DateCell: func(date string) browser.Locator {
			return browser.Locator{
				Name: "date " + date,
				CSS:  fmt.Sprintf(`td[title=%q]:not(.ant-picker-cell-disabled)`, date),
			}
		},
		PrevMonth: browser.Locators{{Name: "previous month", CSS: ".ant-picker-header-prev-btn", Visible: true}},
		Daily:     browser.Locators{{Name: "daily", CSS: `input[value="daily"]`}},
		KeywordStructure: browser.Locators{
			{Name: "keyword structure radio", CSS: `input[value="keyword"]`},
			{Name: "keyword structure label", CSS: ".ant-radio-wrapper", Text: "키워드"},
		},
		ScopeOpen: campaign,
		SelectAll: browser.Locators{
			{Name: "select all", CSS: ".ant-checkbox-wrapper:not(.ant-checkbox-wrapper-checked)", Text: "전체선택"},
		},
		Confirm: browser.Locators{
			{Name: "confirm", CSS: "button.confirm-button, button.ant-btn-primary", Text: "확인"},
		},
		Submit: browser.Locators{
			{Name: "create report", CSS: "button.ant-btn-primary", Text: "보고서 만들기", Enabled: true},
		},
		ParseJobs:   ParseReportRows,
		IsKeyword:   func(s string) bool { return strings.Contains(s, "키워드") },
		IsComplete:  func(s string) bool { return strings.Contains(s, "생성 완료") },
		DownloadRef: DownloadRef,
	}
}

func RankProfile() rank.Profile {
	return rank.Profile{
		SearchURL:  SearchURL,
		Extract:    ExtractRankEntries,
		DeviceType: "Mobile",
	}
}
