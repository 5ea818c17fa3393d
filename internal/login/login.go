// Package login drives a site's login sequence up to the authenticated
// destination, handing two-factor challenges to a human.
package login

import (
	"context"
	"errors"
	"time"

	"autoclip/internal/browser"
	"autoclip/internal/failure"
	"autoclip/internal/poll"

	"go.uber.org/zap"
)

type Config struct {
	FormTimeout  time.Duration `mapstructure:"form_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// Headless is copied from the browser config. A two-factor challenge
	// then fails at once instead of waiting for a user who cannot see it.
	Headless bool `mapstructure:"-"`
}

type State string

const (
	AtLoginPage        State = "AtLoginPage"
	AtExternalAuthPage State = "AtExternalAuthPage"
	Submitting         State = "Submitting"
	AwaitingTwoFactor  State = "AwaitingTwoFactor"
	Authenticated      State = "Authenticated"
	Failed             State = "Failed"
)

type Credentials struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

func (c Credentials) Validate() error {
	if c.ID == "" || c.Password == "" {
		return errors.New("credentials: id and password are required")
	}
	return nil
}

// Signals is what a page snapshot says about an in-flight login.
type Signals struct {
	TwoFactor bool
	ErrorText string
}

// Profile carries the site knowledge: where the controls are and how to
// read the page. Inspect must be a pure function of the snapshot.
type Profile struct {
	Entry      browser.Locators
	Identifier browser.Locators
	Secret     browser.Locators
	Submit     browser.Locators

	IsAuthenticated func(url string) bool
	// IsExternalAuth recognises the identity provider's page. Nil skips the check.
	IsExternalAuth func(url string) bool
	Inspect        func(html string) Signals
}

// Outcome is the terminal state of one login attempt.
type Outcome struct {
	State             State
	TwoFactorDetected bool
}

type Automator struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Automator {
	return &Automator{cfg: cfg, log: log.Named("login")}
}

// Login runs the state machine on page, which must already show the site's
// login page (or an authenticated page, which succeeds immediately).
func (a *Automator) Login(ctx context.Context, page browser.Page, profile Profile, creds Credentials) (Outcome, error) {
	m := &machine{Automator: a, page: page, profile: profile, state: AtLoginPage}
	err := m.run(ctx, creds)
	if err != nil {
		m.enter(Failed)
		a.log.Warn("login failed", zap.Error(err), zap.Bool("two_factor", m.twoFactor))
	}
	return Outcome{State: m.state, TwoFactorDetected: m.twoFactor}, err
}

type machine struct {
	*Automator
	page      browser.Page
	profile   Profile
	state     State
	twoFactor bool
}

func (m *machine) enter(s State) {
	if m.state == s {
		return
	}
	m.log.Info("login state", zap.String("from", string(m.state)), zap.String("to", string(s)))
	m.state = s
}

func (m *machine) run(ctx context.Context, creds Credentials) error {
	url, err := m.page.URL(ctx)
	if err != nil {
		return err
	}
	if m.profile.IsAuthenticated(url) {
		m.enter(Authenticated)
		return nil
	}

	if err := m.activateEntry(ctx); err != nil {
		return err
	}
	if done, err := m.awaitExternalAuth(ctx); err != nil || done {
		return err
	}
	if err := m.submitCredentials(ctx, creds); err != nil {
		return err
	}
	return m.awaitOutcome(ctx)
}

func (m *machine) activateEntry(ctx context.Context) error {
	_, err := poll.Until(ctx, m.formPoll(), func(ctx context.Context) (browser.Locator, bool) {
		loc, ok, _ := m.profile.Entry.ClickFirst(ctx, m.page)
		return loc, ok
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			return failure.ErrLoginEntryNotFound
		}
		return err
	}
	m.enter(AtExternalAuthPage)
	return nil
}

// awaitExternalAuth waits for the identity provider's page. It reports done
// when the entry click alone led to the authenticated destination.
func (m *machine) awaitExternalAuth(ctx context.Context) (bool, error) {
	if m.profile.IsExternalAuth == nil {
		return false, nil
	}
	var last string
	authed, err := poll.Until(ctx, m.formPoll(), func(ctx context.Context) (bool, bool) {
		url, err := m.page.URL(ctx)
		if err != nil {
			return false, false
		}
		last = url
		switch {
		case m.profile.IsExternalAuth(url):
			return false, true
		case m.profile.IsAuthenticated(url):
			return true, true
		}
		return false, false
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			return false, &failure.LoginError{Reason: "unexpected login page: " + last}
		}
		return false, err
	}
	if authed {
		m.enter(Authenticated)
	}
	return authed, nil
}

func (m *machine) submitCredentials(ctx context.Context, creds Credentials) error {
	_, err := poll.Until(ctx, m.formPoll(), func(ctx context.Context) (browser.Locator, bool) {
		loc, ok, _ := m.profile.Identifier.First(ctx, m.page)
		return loc, ok
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			return &failure.CredentialFieldError{Field: "identifier"}
		}
		return err
	}

	fields := []struct {
		name  string
		locs  browser.Locators
		value string
	}{
		{"identifier", m.profile.Identifier, creds.ID},
		{"password", m.profile.Secret, creds.Password},
	}
	for _, f := range fields {
		loc, ok, err := f.locs.FillFirst(ctx, m.page, f.value)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !ok {
			m.log.Debug("field lookup failed", zap.String("field", f.name), zap.Error(err))
			return &failure.CredentialFieldError{Field: f.name}
		}
		m.log.Debug("field filled", zap.String("field", f.name), zap.Stringer("locator", loc))
	}

	loc, ok, err := m.profile.Submit.ClickFirst(ctx, m.page)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !ok {
		m.log.Debug("submit lookup failed", zap.Error(err))
		return &failure.CredentialFieldError{Field: "submit"}
	}
	m.log.Debug("credentials submitted", zap.Stringer("locator", loc))
	m.enter(Submitting)
	return nil
}

// awaitOutcome polls until the authenticated destination, an error message
// or the login budget. A two-factor challenge is surfaced to the user once
// and the wait continues.
func (m *machine) awaitOutcome(ctx context.Context) error {
	opts := poll.Options{Interval: m.cfg.PollInterval, Timeout: m.cfg.Timeout, Delayed: true}
	rejected, err := poll.Until(ctx, opts, func(ctx context.Context) (*failure.LoginError, bool) {
		url, err := m.page.URL(ctx)
		if err == nil && m.profile.IsAuthenticated(url) {
			return nil, true
		}
		html, err := m.page.HTML(ctx)
		if err != nil {
			return nil, false
		}
		sig := m.profile.Inspect(html)
		if sig.TwoFactor && m.cfg.Headless {
			m.twoFactor = true
			return failure.TwoFactorUnattended(), true
		}
		if sig.TwoFactor && !m.twoFactor {
			m.twoFactor = true
			m.enter(AwaitingTwoFactor)
			if err := m.page.Activate(ctx); err != nil {
				m.log.Warn("failed to bring login page to front", zap.Error(err))
			}
			m.log.Info("two-factor authentication required, waiting for user")
		}
		if sig.ErrorText != "" {
			return &failure.LoginError{Reason: sig.ErrorText, TwoFactorPending: m.twoFactor}, true
		}
		return nil, false
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			return failure.LoginTimeout(m.twoFactor)
		}
		return err
	}
	if rejected != nil {
		return rejected
	}
	m.enter(Authenticated)
	return nil
}

func (m *machine) formPoll() poll.Options {
	interval := m.cfg.PollInterval
	if interval <= 0 || interval > time.Second {
		interval = 500 * time.Millisecond
	}
	timeout := m.cfg.FormTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return poll.Options{Interval: interval, Timeout: timeout}
}
