package workflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"autoclip/internal/browser"
	"autoclip/internal/browser/browsertest"
	"autoclip/internal/fetcher"
	"autoclip/internal/login"
	"autoclip/internal/navigator"
	"autoclip/internal/rank"
	"autoclip/internal/report"
	"autoclip/internal/session"
	"autoclip/internal/tags"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const (
	loginURL    = "https://ads.test/user/login"
	homeURL     = "https://ads.test/dashboard"
	reportURL   = "https://ads.test/reports/pa"
	shoppingURL = "https://shopping.test/search"
)

var dateRange = report.DateRange{Start: "2026-08-01", End: "2026-08-31"}

func named(name string) browser.Locators { return browser.Locators{{Name: name}} }

// site simulates the advertising center. A logged-in page is redirected
// from the login page to the dashboard; the report page shows its controls
// and, once submitted, the generated row.
type site struct {
	loggedIn    bool
	submitReady bool
	downloadURL string
	apiURL      string
	jar         []*http.Cookie
	today       func() string
	submitted   atomic.Bool
}

func (s *site) page() *browsertest.Page {
	page := browsertest.NewPage()
	page.Jar = s.jar
	page.OnNavigate = func(p *browsertest.Page, url string) error {
		switch {
		case url == loginURL && s.loggedIn:
			p.SetURL(homeURL)
		case url == reportURL:
			p.Set("ready", true)
			p.Set("submit", s.submitReady)
		case strings.HasPrefix(url, "https://shop.test/search"):
			if strings.HasSuffix(url, "page=1") {
				p.SetBody("1|a|ad\n2|b|org\n3|c|org")
			} else {
				p.SetBody("")
			}
		}
		return nil
	}
	page.OnClick = func(_ *browsertest.Page, loc browser.Locator) {
		if loc.Name == "submit" {
			s.submitted.Store(true)
		}
	}
	page.BodyFunc = func(p *browsertest.Page, _ int) string {
		if s.submitted.Load() {
			return "77|" + s.today() + "|" + dateRange.Label() + "|키워드|생성 완료"
		}
		return p.Body
	}
	return page
}

func (s *site) profiles() Site {
	return Site{
		LoginURL:     loginURL,
		ReportURL:    reportURL,
		IsReportPage: func(url string) bool { return strings.Contains(url, "/reports/pa") },
		Login: login.Profile{
			Entry:      named("entry"),
			Identifier: named("username"),
			Secret:     named("password"),
			Submit:     named("login"),
			IsAuthenticated: func(url string) bool {
				return strings.HasPrefix(url, "https://ads.test/") && !strings.Contains(url, "/login")
			},
			Inspect: func(string) login.Signals { return login.Signals{} },
		},
		Report: report.Profile{
			Ready:    named("ready"),
			Submit:   named("submit"),
			DateCell: func(date string) browser.Locator { return browser.Locator{Name: "cell:" + date} },
			ParseJobs: func(html string) []report.Job {
				f := strings.Split(html, "|")
				if len(f) != 5 {
					return nil
				}
				return []report.Job{{ID: f[0], RequestedDate: f[1], DateRange: f[2], Structure: f[3], Status: f[4]}}
			},
			IsKeyword:   func(s string) bool { return strings.Contains(s, "키워드") },
			IsComplete:  func(s string) bool { return strings.Contains(s, "생성 완료") },
			DownloadRef: func(id string) string { return s.downloadURL + "/excel-report?id=" + id },
		},
		Rank: rank.Profile{
			SearchURL: func(keyword string, page int) string {
				return "https://shop.test/search?q=" + keyword + "&page=" + string(rune('0'+page))
			},
			Extract: func(html string) []rank.Entry {
				var entries []rank.Entry
				for _, line := range strings.Split(html, "\n") {
					f := strings.Split(line, "|")
					if len(f) == 3 {
						entries = append(entries, rank.Entry{ProductID: f[0], ItemID: f[1], IsAd: f[2] == "ad"})
					}
				}
				return entries
			},
			DeviceType: "Mobile",
		},
		AdsSession: login.SessionCookie{Name: "SESSION", Host: "ads.test"},
		Shopping: tags.Profile{
			SearchURL: func(keyword string) string { return shoppingURL + "?query=" + url.QueryEscape(keyword) },
			APIURL: func(keyword string, page, size int) string {
				return fmt.Sprintf("%s/api?query=%s&page=%d&size=%d", s.apiURL, url.QueryEscape(keyword), page, size)
			},
			Headers: map[string]string{"logic": "PART"},
			Parse: func(body []byte) ([]tags.Product, error) {
				var doc struct {
					Products []tags.Product `json:"products"`
				}
				err := json.Unmarshal(body, &doc)
				return doc.Products, err
			},
		},
		ShoppingSession: login.SessionCookie{Name: "NID_SES", Host: "shopping.test"},
	}
}

type suggester struct {
	data json.RawMessage
	err  error
}

func (s suggester) Suggest(context.Context, string) (json.RawMessage, error) { return s.data, s.err }

type harness struct {
	driver     *browsertest.Driver
	sessions   *session.Manager
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, s *site) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	driver := &browsertest.Driver{NewPageFunc: s.page}
	sessions := session.NewManager(driver, session.Config{
		HeartbeatInterval: 10 * time.Millisecond,
		Desktop:           browser.Viewport{Width: 1280, Height: 900},
		Mobile:            browser.Viewport{Width: 406, Height: 900, Scale: 3, Mobile: true},
	}, log)
	t.Cleanup(sessions.Shutdown)

	reports, err := report.New(report.Config{
		ReadyTimeout:   200 * time.Millisecond,
		SubmitTimeout:  100 * time.Millisecond,
		SubmitInterval: 5 * time.Millisecond,
		ListTimeout:    300 * time.Millisecond,
		ListInterval:   10 * time.Millisecond,
		Timezone:       "Asia/Seoul",
	}, log)
	require.NoError(t, err)
	s.today = reports.Today

	nav := navigator.New(time.Second, log)
	fetch := fetcher.NewFetcher(fetcher.Config{Timeout: time.Second, DefaultFileName: "report.xlsx"}, log)
	d := NewStandard(Deps{
		Sessions:  sessions,
		Navigator: nav,
		Login:     login.New(login.Config{FormTimeout: 100 * time.Millisecond, PollInterval: 5 * time.Millisecond, Timeout: 200 * time.Millisecond}, log),
		Report:    reports,
		Rank:      rank.New(rank.Config{PollAttempts: 2, PollInterval: time.Millisecond, MinEntries: 1, NavTimeout: 100 * time.Millisecond}, nav, log),
		Tags:      tags.New(tags.Config{PageSize: 40, Pages: 2}, fetch, log),
		Fetcher:   fetch,
		Suggester: suggester{data: json.RawMessage(`["우산 장우산"]`)},
		Site:      s.profiles(),
		Version:   "1.2.3",
		Log:       log,
	})
	return &harness{driver: driver, sessions: sessions, dispatcher: d}
}

func (h *harness) dispatch(t *testing.T, kind string, payload any) Response {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}
	return h.dispatcher.Dispatch(context.Background(), Request{Kind: kind, Payload: raw})
}

func loginReportPayload() LoginReportPayload {
	return LoginReportPayload{
		Credentials: login.Credentials{ID: "seller", Password: "pw"},
		DateRange:   dateRange,
	}
}

func TestLoginReportReturnsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "77", r.URL.Query().Get("id"))
		w.Header().Set("Content-Disposition", `attachment; filename="report_77.xlsx"`)
		_, _ = w.Write([]byte("xlsx-bytes"))
	}))
	defer srv.Close()

	s := &site{loggedIn: true, submitReady: true, downloadURL: srv.URL}
	h := newHarness(t, s)

	res := h.dispatch(t, KindLoginReport, loginReportPayload())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("xlsx-bytes")), res.FileData)
	assert.Equal(t, "report_77.xlsx", res.FileName)
	assert.Nil(t, res.Data)

	c, err := h.driver.Last()
	require.NoError(t, err)
	assert.Equal(t, 1, c.Closes())
	assert.Equal(t, []string{loginURL, reportURL}, c.ScriptedPage().NavigatedTo())
	assert.Empty(t, h.sessions.List())
	assert.False(t, h.driver.Viewports[0].Mobile)
}

func TestLoginReportSubmitDisabled(t *testing.T) {
	h := newHarness(t, &site{loggedIn: true})

	res := h.dispatch(t, KindLoginReport, loginReportPayload())
	assert.False(t, res.Success)
	assert.Equal(t, "submit disabled", res.Error)

	c, err := h.driver.Last()
	require.NoError(t, err)
	assert.Equal(t, 1, c.Closes())
	assert.Empty(t, h.sessions.List())
}

func TestLoginReportLoginFailureClosesSession(t *testing.T) {
	h := newHarness(t, &site{})

	res := h.dispatch(t, KindLoginReport, loginReportPayload())
	assert.False(t, res.Success)
	assert.Equal(t, "entry point not found", res.Error)

	c, err := h.driver.Last()
	require.NoError(t, err)
	assert.Equal(t, 1, c.Closes())
}

func TestLoginReportRejectsInvalidPayload(t *testing.T) {
	h := newHarness(t, &site{})

	res := h.dispatch(t, KindLoginReport, LoginReportPayload{DateRange: dateRange})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "id and password are required")

	p := loginReportPayload()
	p.DateRange = report.DateRange{Start: "2026-08-31", End: "2026-08-01"}
	res = h.dispatch(t, KindLoginReport, p)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "end before start")

	res = h.dispatcher.Dispatch(context.Background(), Request{Kind: KindLoginReport, Payload: json.RawMessage(`[1]`)})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid payload")

	assert.Empty(t, h.driver.Contexts, "no session is opened for a rejected request")
}

func TestLoginReportSessionCreationFailed(t *testing.T) {
	h := newHarness(t, &site{})
	h.driver.Fail = errors.New("browser gone")

	res := h.dispatch(t, KindLoginReport, loginReportPayload())
	assert.False(t, res.Success)
	assert.Equal(t, "session creation failed: browser gone", res.Error)
}

func TestRankCheckLifecycle(t *testing.T) {
	h := newHarness(t, &site{})

	res := h.dispatch(t, KindRankCheckStart, nil)
	require.True(t, res.Success, res.Error)
	ref, ok := res.Data.(SessionRef)
	require.True(t, ok)
	assert.NotEmpty(t, ref.SessionID)
	assert.Equal(t, "ctx-1", ref.ContextID)
	assert.True(t, h.driver.Viewports[0].Mobile)

	res = h.dispatch(t, KindRankCheckKeyword, rank.Request{
		SessionID:   ref.SessionID,
		Keyword:     "우산",
		ProductID:   "3",
		SearchDepth: 2,
	})
	require.True(t, res.Success, res.Error)
	result, ok := res.Data.(*rank.Result)
	require.True(t, ok)
	require.NotNil(t, result.OrganicRank)
	assert.Equal(t, 2, *result.OrganicRank)
	assert.Nil(t, result.AdRank)
	assert.Equal(t, "Mobile", result.DeviceType)

	res = h.dispatch(t, KindRankCheckEnd, SessionRef{SessionID: ref.SessionID})
	assert.True(t, res.Success)
	assert.Empty(t, h.sessions.List())

	res = h.dispatch(t, KindRankCheckEnd, SessionRef{SessionID: ref.SessionID})
	assert.True(t, res.Success, "ending twice still succeeds")

	c, err := h.driver.Last()
	require.NoError(t, err)
	assert.Equal(t, 1, c.Closes())
}

func TestRankCheckKeywordErrors(t *testing.T) {
	h := newHarness(t, &site{})

	res := h.dispatch(t, KindRankCheckKeyword, rank.Request{SessionID: "missing", Keyword: "k", ProductID: "1", SearchDepth: 1})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown session")

	res = h.dispatch(t, KindRankCheckKeyword, rank.Request{Keyword: "k", ProductID: "1", SearchDepth: 1})
	assert.Equal(t, "sessionId is required", res.Error)

	start := h.dispatch(t, KindRankCheckStart, nil)
	require.True(t, start.Success)
	id := start.Data.(SessionRef).SessionID

	res = h.dispatch(t, KindRankCheckKeyword, rank.Request{SessionID: id, Keyword: "k", ProductID: "1"})
	assert.Contains(t, res.Error, "searchDepth must be positive")

	sess, err := h.sessions.Get(id)
	require.NoError(t, err)
	require.NoError(t, sess.Acquire())
	res = h.dispatch(t, KindRankCheckKeyword, rank.Request{SessionID: id, Keyword: "k", ProductID: "1", SearchDepth: 1})
	assert.Equal(t, "session busy", res.Error)
	sess.Release()
}

func TestRankCheckEndIgnoresMalformedPayload(t *testing.T) {
	h := newHarness(t, &site{})
	res := h.dispatcher.Dispatch(context.Background(), Request{Kind: KindRankCheckEnd, Payload: json.RawMessage(`"x"`)})
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
}

func TestAutoKeywordAndVersion(t *testing.T) {
	h := newHarness(t, &site{})

	res := h.dispatch(t, KindAutoKeyword, map[string]string{"keyword": "우산"})
	require.True(t, res.Success, res.Error)
	assert.JSONEq(t, `["우산 장우산"]`, string(res.Data.(json.RawMessage)))

	res = h.dispatch(t, KindAutoKeyword, map[string]string{"keyword": " "})
	assert.Equal(t, "keyword is required", res.Error)

	res = h.dispatch(t, KindGetVersion, nil)
	require.True(t, res.Success)
	assert.Equal(t, map[string]string{"version": "1.2.3"}, res.Data)
}

func TestDispatchUnknownKind(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	res := d.Dispatch(context.Background(), Request{Kind: "scrapeEverything"})
	assert.Equal(t, Response{Error: "unknown request kind: scrapeEverything"}, res)
}

func TestResponseEnvelope(t *testing.T) {
	b, err := json.Marshal(Failure(errors.New("report not found")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"report not found"}`, string(b))

	b, err = json.Marshal(Response{Success: true, FileData: "AA==", FileName: "r.xlsx"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"fileData":"AA==","fileName":"r.xlsx"}`, string(b))
}

func TestStandardKinds(t *testing.T) {
	h := newHarness(t, &site{})
	assert.Equal(t, []string{
		KindAutoKeyword, KindCoupangAdsLoginCheck,
		KindNaverShoppingData, KindNaverShoppingTags, KindGetVersion,
		KindLoginReport, KindNaverLoginCheck,
		KindRankCheckEnd, KindRankCheckKeyword, KindRankCheckStart,
	}, h.dispatcher.Kinds())
}

// shoppingAPI serves pages[n-1] as the product list of page n.
func shoppingAPI(t *testing.T, pages ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PART", r.Header.Get("logic"))
		assert.Equal(t, shoppingURL+"?query="+url.QueryEscape("텀블러"), r.Header.Get("Referer"))
		n := 0
		_, _ = fmt.Sscan(r.URL.Query().Get("page"), &n)
		body := "[]"
		if n >= 1 && n <= len(pages) {
			body = pages[n-1]
		}
		_, _ = fmt.Fprintf(w, `{"products":%s}`, body)
	}))
}

func TestShoppingTagsOnFreshSession(t *testing.T) {
	api := shoppingAPI(t, `[{"Title":"보온 텀블러","Tags":["보온","캠핑"]},{"Title":"캠핑 컵","Tags":["캠핑"]}]`)
	defer api.Close()
	h := newHarness(t, &site{apiURL: api.URL})

	res := h.dispatch(t, KindNaverShoppingTags, map[string]any{"keyword": "텀블러"})
	require.True(t, res.Success, res.Error)
	result, ok := res.Data.(*tags.Result)
	require.True(t, ok)
	assert.Equal(t, 2, result.TotalProducts)
	assert.Equal(t, []tags.Count{{Tag: "캠핑", Count: 2}, {Tag: "보온", Count: 1}}, result.Tags)
	assert.Len(t, result.RawTags, 3)

	c, err := h.driver.Last()
	require.NoError(t, err)
	assert.Equal(t, []string{shoppingURL + "?query=" + url.QueryEscape("텀블러")}, c.ScriptedPage().NavigatedTo())
	assert.Equal(t, 1, c.Closes())
	assert.Empty(t, h.sessions.List())
	assert.False(t, h.driver.Viewports[0].Mobile)
}

func TestShoppingTagsOnLiveSession(t *testing.T) {
	api := shoppingAPI(t, `[{"Title":"컵","Tags":["캠핑"]}]`)
	defer api.Close()
	h := newHarness(t, &site{apiURL: api.URL})

	start := h.dispatch(t, KindRankCheckStart, nil)
	require.True(t, start.Success)
	id := start.Data.(SessionRef).SessionID

	res := h.dispatch(t, KindNaverShoppingTags, map[string]any{"keyword": "텀블러", "sessionId": id})
	require.True(t, res.Success, res.Error)
	assert.Len(t, h.driver.Contexts, 1, "the live session is reused")
	assert.Len(t, h.sessions.List(), 1, "and stays open")

	sess, err := h.sessions.Get(id)
	require.NoError(t, err)
	require.NoError(t, sess.Acquire(), "and is released")
	sess.Release()
}

func TestShoppingTagsUpstreamFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer api.Close()
	h := newHarness(t, &site{apiURL: api.URL})

	res := h.dispatch(t, KindNaverShoppingTags, map[string]any{"keyword": "텀블러"})
	assert.False(t, res.Success)
	assert.Equal(t, "page 1: HTTP 403", res.Error)

	c, err := h.driver.Last()
	require.NoError(t, err)
	assert.Equal(t, 1, c.Closes())

	res = h.dispatch(t, KindNaverShoppingTags, map[string]any{"keyword": ""})
	assert.Equal(t, "keyword is required", res.Error)
}

func TestShoppingDataReturnsRawPage(t *testing.T) {
	var query string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"products":[{"Title":"컵"}],"total":1}`))
	}))
	defer api.Close()
	h := newHarness(t, &site{apiURL: api.URL})

	res := h.dispatch(t, KindNaverShoppingData, map[string]any{"keyword": "컵", "page": 3})
	require.True(t, res.Success, res.Error)
	assert.JSONEq(t, `{"products":[{"Title":"컵"}],"total":1}`, string(res.Data.(json.RawMessage)))
	assert.Contains(t, query, "page=3&size=40")

	res = h.dispatch(t, KindNaverShoppingData, map[string]any{"keyword": "컵", "page": -1})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "must not be negative")
}

func TestLoginChecks(t *testing.T) {
	h := newHarness(t, &site{jar: []*http.Cookie{{Name: "SESSION", Value: "s", Domain: "ads.test"}}})

	start := h.dispatch(t, KindRankCheckStart, nil)
	require.True(t, start.Success)
	ref := start.Data.(SessionRef)

	res := h.dispatch(t, KindCoupangAdsLoginCheck, ref)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]bool{"loggedIn": true}, res.Data)

	res = h.dispatch(t, KindNaverLoginCheck, ref)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]bool{"loggedIn": false}, res.Data)

	res = h.dispatch(t, KindCoupangAdsLoginCheck, nil)
	assert.Equal(t, "sessionId is required", res.Error)

	res = h.dispatch(t, KindCoupangAdsLoginCheck, SessionRef{SessionID: "missing"})
	assert.Contains(t, res.Error, "unknown session")

	assert.Len(t, h.sessions.List(), 1)
}
