package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"autoclip/internal/fetcher"
	"autoclip/internal/login"
	"autoclip/internal/navigator"
	"autoclip/internal/rank"
	"autoclip/internal/report"
	"autoclip/internal/session"
	"autoclip/internal/tags"

	"go.uber.org/zap"
)

// Site bundles what the handlers know about the target site.
type Site struct {
	LoginURL     string
	ReportURL    string
	IsReportPage func(url string) bool
	Login        login.Profile
	Report       report.Profile
	Rank         rank.Profile
	// AdsSession is the cookie the advertising center sets once signed in.
	AdsSession login.SessionCookie
	// Shopping is the marketplace whose product tags are tallied.
	Shopping        tags.Profile
	ShoppingSession login.SessionCookie
}

// Suggester returns keyword suggestions as the upstream JSON document.
type Suggester interface {
	Suggest(ctx context.Context, keyword string) (json.RawMessage, error)
}

// Deps are the collaborators shared by the standard handlers.
type Deps struct {
	Sessions  *session.Manager
	Navigator *navigator.Navigator
	Login     *login.Automator
	Report    *report.Engine
	Rank      *rank.Engine
	Tags      *tags.Engine
	Fetcher   *fetcher.Fetcher
	Suggester Suggester
	Site      Site
	Version   string
	Log       *zap.Logger
}

// NewStandard returns a dispatcher with every request kind registered.
func NewStandard(deps Deps) *Dispatcher {
	d := NewDispatcher(deps.Log)
	d.Register(&LoginReport{deps})
	d.Register(&RankCheckStart{deps})
	d.Register(&RankCheckKeyword{deps})
	d.Register(&RankCheckEnd{deps})
	d.Register(&AutoKeyword{deps})
	d.Register(&GetVersion{deps})
	d.Register(&ShoppingTags{deps})
	d.Register(&ShoppingData{deps})
	d.Register(&LoginCheck{Deps: deps, kind: KindCoupangAdsLoginCheck, cookie: deps.Site.AdsSession})
	d.Register(&LoginCheck{Deps: deps, kind: KindNaverLoginCheck, cookie: deps.Site.ShoppingSession})
	return d
}

// borrow returns the live session named by id, or a fresh desktop session
// when id is empty. done releases a borrowed session and closes a fresh one.
func (d Deps) borrow(ctx context.Context, id string) (sess *session.Session, done func(), err error) {
	if id == "" {
		sess, err = d.Sessions.OpenDesktop(ctx)
		if err != nil {
			return nil, nil, err
		}
		return sess, func() { d.Sessions.Close(sess) }, nil
	}
	sess, err = d.Sessions.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if err := sess.Acquire(); err != nil {
		return nil, nil, err
	}
	return sess, sess.Release, nil
}

type LoginReportPayload struct {
	Credentials login.Credentials `json:"credentials"`
	DateRange   report.DateRange  `json:"dateRange"`
}

func (p LoginReportPayload) Validate() error {
	if err := p.Credentials.Validate(); err != nil {
		return err
	}
	return p.DateRange.Validate()
}

// LoginReport logs in on a fresh desktop session, generates the keyword
// report for the range and returns the downloaded file. The session is
// destroyed before the response is returned, whatever the outcome.
type LoginReport struct{ Deps }

func (h *LoginReport) Kind() string { return KindLoginReport }

func (h *LoginReport) Handle(ctx context.Context, payload json.RawMessage) (*Response, error) {
	var p LoginReportPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sess, err := h.Sessions.OpenDesktop(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Sessions.Close(sess)
	page := sess.Page()

	if _, err := h.Navigator.Navigate(ctx, page, h.Site.LoginURL, 0); err != nil {
		return nil, err
	}
	if _, err := h.Login.Login(ctx, page, h.Site.Login, p.Credentials); err != nil {
		return nil, err
	}

	url, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page location: %w", err)
	}
	if !h.Site.IsReportPage(url) {
		if _, err := h.Navigator.Navigate(ctx, page, h.Site.ReportURL, 0); err != nil {
			return nil, err
		}
	}

	if err := h.Report.Configure(ctx, page, h.Site.Report, p.DateRange); err != nil {
		return nil, err
	}
	_, ref, err := h.Report.Locate(ctx, page, h.Site.Report, p.DateRange)
	if err != nil {
		return nil, err
	}
	file, err := h.Fetcher.Fetch(ctx, page, ref)
	if err != nil {
		return nil, err
	}
	return &Response{FileData: file.Base64, FileName: file.Name}, nil
}

// SessionRef identifies a rank-check session.
type SessionRef struct {
	SessionID string `json:"sessionId"`
	ContextID string `json:"contextId,omitempty"`
}

// RankCheckStart opens a mobile session for a series of rank checks.
type RankCheckStart struct{ Deps }

func (h *RankCheckStart) Kind() string { return KindRankCheckStart }

func (h *RankCheckStart) Handle(ctx context.Context, _ json.RawMessage) (*Response, error) {
	sess, err := h.Sessions.OpenMobile(ctx)
	if err != nil {
		return nil, err
	}
	return &Response{Data: SessionRef{SessionID: sess.ID, ContextID: sess.ContextID}}, nil
}

// RankCheckKeyword runs one rank check on a session opened by RankCheckStart.
type RankCheckKeyword struct{ Deps }

func (h *RankCheckKeyword) Kind() string { return KindRankCheckKeyword }

func (h *RankCheckKeyword) Handle(ctx context.Context, payload json.RawMessage) (*Response, error) {
	var req rank.Request
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, errors.New("sessionId is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sess, err := h.Sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Acquire(); err != nil {
		return nil, err
	}
	defer sess.Release()

	res, err := h.Rank.Check(ctx, sess.Page(), h.Site.Rank, req)
	if err != nil {
		return nil, err
	}
	return &Response{Data: res}, nil
}

// RankCheckEnd tears a rank-check session down. It always succeeds.
type RankCheckEnd struct{ Deps }

func (h *RankCheckEnd) Kind() string { return KindRankCheckEnd }

func (h *RankCheckEnd) Handle(_ context.Context, payload json.RawMessage) (*Response, error) {
	var ref SessionRef
	if err := decode(payload, &ref); err != nil {
		h.Log.Debug("ignoring malformed end payload", zap.Error(err))
		return &Response{}, nil
	}
	if ref.SessionID != "" {
		h.Sessions.CloseByID(ref.SessionID)
	}
	return &Response{}, nil
}

// AutoKeyword proxies the site's keyword suggestions.
type AutoKeyword struct{ Deps }

func (h *AutoKeyword) Kind() string { return KindAutoKeyword }

func (h *AutoKeyword) Handle(ctx context.Context, payload json.RawMessage) (*Response, error) {
	var p struct {
		Keyword string `json:"keyword"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Keyword) == "" {
		return nil, errors.New("keyword is required")
	}
	if h.Suggester == nil {
		return nil, errors.New("keyword suggestions are not configured")
	}
	data, err := h.Suggester.Suggest(ctx, p.Keyword)
	if err != nil {
		return nil, err
	}
	return &Response{Data: data}, nil
}

type GetVersion struct{ Deps }

func (h *GetVersion) Kind() string { return KindGetVersion }

func (h *GetVersion) Handle(context.Context, json.RawMessage) (*Response, error) {
	return &Response{Data: map[string]string{"version": h.Version}}, nil
}

type ShoppingTagsPayload struct {
	tags.Request
	SessionID string `json:"sessionId,omitempty"`
}

// ShoppingTags opens the marketplace search for a keyword and tallies the
// tags of the products the search API returns.
type ShoppingTags struct{ Deps }

func (h *ShoppingTags) Kind() string { return KindNaverShoppingTags }

func (h *ShoppingTags) Handle(ctx context.Context, payload json.RawMessage) (*Response, error) {
	var p ShoppingTagsPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sess, done, err := h.borrow(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	defer done()
	page := sess.Page()

	if _, err := h.Navigator.Navigate(ctx, page, h.Site.Shopping.SearchURL(p.Keyword), 0); err != nil {
		return nil, err
	}
	res, err := h.Tags.Collect(ctx, page, h.Site.Shopping, p.Request)
	if err != nil {
		return nil, err
	}
	return &Response{Data: res}, nil
}

type ShoppingDataPayload struct {
	Keyword   string `json:"keyword"`
	Page      int    `json:"page,omitempty"`
	PageSize  int    `json:"pageSize,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (p *ShoppingDataPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.Keyword) == "":
		return errors.New("keyword is required")
	case p.Page < 0 || p.PageSize < 0:
		return errors.New("page and pageSize must not be negative")
	}
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = 40
	}
	return nil
}

// ShoppingData returns one page of the marketplace search API unchanged.
type ShoppingData struct{ Deps }

func (h *ShoppingData) Kind() string { return KindNaverShoppingData }

func (h *ShoppingData) Handle(ctx context.Context, payload json.RawMessage) (*Response, error) {
	var p ShoppingDataPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sess, done, err := h.borrow(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	defer done()
	page := sess.Page()

	if _, err := h.Navigator.Navigate(ctx, page, h.Site.Shopping.SearchURL(p.Keyword), 0); err != nil {
		return nil, err
	}
	data, err := h.Fetcher.FetchJSON(ctx, page, h.Site.Shopping.APIURL(p.Keyword, p.Page, p.PageSize), h.Site.Shopping.Headers)
	if err != nil {
		return nil, err
	}
	return &Response{Data: data}, nil
}

// LoginCheck reports whether a live session holds a site's sign-in cookie.
// Only cookies visible to the session's current page are considered.
type LoginCheck struct {
	Deps
	kind   string
	cookie login.SessionCookie
}

func (h *LoginCheck) Kind() string { return h.kind }

func (h *LoginCheck) Handle(ctx context.Context, payload json.RawMessage) (*Response, error) {
	var ref SessionRef
	if err := decode(payload, &ref); err != nil {
		return nil, err
	}
	if ref.SessionID == "" {
		return nil, errors.New("sessionId is required")
	}

	sess, done, err := h.borrow(ctx, ref.SessionID)
	if err != nil {
		return nil, err
	}
	defer done()

	ok, err := login.LoggedIn(ctx, sess.Page(), h.cookie)
	if err != nil {
		return nil, err
	}
	return &Response{Data: map[string]bool{"loggedIn": ok}}, nil
}
