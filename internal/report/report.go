// Package report configures, submits and locates asynchronously generated
// reports on an authenticated page.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"autoclip/internal/browser"
	"autoclip/internal/failure"
	"autoclip/internal/poll"

	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type Config struct {
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout"`
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout"`
	SubmitInterval time.Duration `mapstructure:"submit_interval"`
	ListTimeout    time.Duration `mapstructure:"list_timeout"`
	ListInterval   time.Duration `mapstructure:"list_interval"`
	// SettleDelay is the pause after each control change for the page to re-render.
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	CalendarSteps int           `mapstructure:"calendar_steps"`
	Timezone      string        `mapstructure:"timezone"`
}

// DateRange is an inclusive range of YYYY-MM-DD dates.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r DateRange) Validate() error {
	start, err := time.Parse(dateLayout, r.Start)
	if err != nil {
		return fmt.Errorf("dateRange.start: %w", err)
	}
	end, err := time.Parse(dateLayout, r.End)
	if err != nil {
		return fmt.Errorf("dateRange.end: %w", err)
	}
	if end.Before(start) {
		return errors.New("dateRange: end before start")
	}
	return nil
}

// Label is the range as the report list renders it.
func (r DateRange) Label() string { return r.Start + " ~ " + r.End }

// Job is one row of the remote report list.
type Job struct {
	ID            string
	RequestedDate string
	DateRange     string
	Structure     string
	Status        string
}

// Profile is the report page's site knowledge.
type Profile struct {
	Ready            browser.Locators
	CustomRange      browser.Locators
	RangePicker      browser.Locators
	DateCell         func(date string) browser.Locator
	PrevMonth        browser.Locators
	Daily            browser.Locators
	KeywordStructure browser.Locators
	ScopeOpen        browser.Locators
	// SelectAll must only match while "select all" is inactive.
	SelectAll browser.Locators
	Confirm   browser.Locators
	// Submit must only match the enabled generate control.
	Submit browser.Locators

	ParseJobs   func(html string) []Job
	IsKeyword   func(structure string) bool
	IsComplete  func(status string) bool
	DownloadRef func(id string) string
}

type Engine struct {
	cfg Config
	loc *time.Location
	now func() time.Time
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Engine, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("report timezone: %w", err)
		}
	}
	return &Engine{cfg: cfg, loc: loc, now: time.Now, log: log.Named("report")}, nil
}

// Today is the request date a report submitted now carries.
func (e *Engine) Today() string { return e.now().In(e.loc).Format(dateLayout) }

// Configure sets the report parameters and submits generation once. Only a
// page that never loads or a generate control that never enables is fatal;
// every other missing control is logged and skipped.
func (e *Engine) Configure(ctx context.Context, page browser.Page, p Profile, rng DateRange) error {
	_, err := poll.Until(ctx, poll.Options{Interval: 500 * time.Millisecond, Timeout: e.cfg.ReadyTimeout}, func(ctx context.Context) (browser.Locator, bool) {
		loc, ok, _ := p.Ready.First(ctx, page)
		return loc, ok
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			return &failure.ConfigurationError{Step: "ready", Reason: "report page did not load"}
		}
		return err
	}

	if err := e.step(ctx, page, "custom range", p.CustomRange); err != nil {
		return err
	}
	if err := e.placeRange(ctx, page, p, rng); err != nil {
		return err
	}
	for _, s := range []struct {
		name string
		locs browser.Locators
	}{
		{"daily granularity", p.Daily},
		{"keyword structure", p.KeywordStructure},
		{"scope selector", p.ScopeOpen},
		{"select all", p.SelectAll},
		{"scope confirm", p.Confirm},
	} {
		if err := e.step(ctx, page, s.name, s.locs); err != nil {
			return err
		}
	}

	return e.submit(ctx, page, p)
}

// step clicks the first matching strategy. A miss is not fatal.
func (e *Engine) step(ctx context.Context, page browser.Page, name string, locs browser.Locators) error {
	loc, ok, err := locs.ClickFirst(ctx, page)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !ok {
		e.log.Warn("control not found, keeping page default", zap.String("step", name), zap.Stringer("tried", locs), zap.Error(err))
		return nil
	}
	e.log.Debug("clicked", zap.String("step", name), zap.Stringer("locator", loc))
	return e.settle(ctx)
}

func (e *Engine) placeRange(ctx context.Context, page browser.Page, p Profile, rng DateRange) error {
	_, ok, err := p.RangePicker.ClickFirst(ctx, page)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !ok {
		e.log.Warn("range picker not found", zap.Error(err))
		return nil
	}
	if err := e.settle(ctx); err != nil {
		return err
	}

	placed, err := e.placeDate(ctx, page, p, rng.Start)
	if err != nil {
		return err
	}
	if !placed {
		e.log.Warn("failed to place start date", zap.String("date", rng.Start))
		return nil
	}
	placed, err = e.placeDate(ctx, page, p, rng.End)
	if err != nil {
		return err
	}
	if !placed {
		e.log.Warn("failed to place end date", zap.String("date", rng.End))
		return nil
	}
	e.log.Info("date range set", zap.String("range", rng.Label()))
	return nil
}

// placeDate clicks the calendar cell for date, stepping the calendar back up
// to CalendarSteps months while the cell is not shown.
func (e *Engine) placeDate(ctx context.Context, page browser.Page, p Profile, date string) (bool, error) {
	cell := p.DateCell(date)
	for i := 0; ; i++ {
		clicked, err := page.Click(ctx, cell)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if clicked {
			return true, e.settle(ctx)
		}
		if err != nil {
			e.log.Debug("date cell lookup failed", zap.String("date", date), zap.Error(err))
		}
		if i >= e.cfg.CalendarSteps {
			return false, nil
		}
		if _, moved, _ := p.PrevMonth.ClickFirst(ctx, page); !moved {
			return false, ctx.Err()
		}
		if err := e.settle(ctx); err != nil {
			return false, err
		}
	}
}

func (e *Engine) submit(ctx context.Context, page browser.Page, p Profile) error {
	opts := poll.Options{Interval: e.cfg.SubmitInterval, Timeout: e.cfg.SubmitTimeout}
	loc, err := poll.Until(ctx, opts, func(ctx context.Context) (browser.Locator, bool) {
		loc, ok, _ := p.Submit.First(ctx, page)
		return loc, ok
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			return failure.ErrSubmitDisabled
		}
		return err
	}
	clicked, err := page.Click(ctx, loc)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", failure.ErrSubmitDisabled, err)
	}
	if !clicked {
		return failure.ErrSubmitDisabled
	}
	e.log.Info("report generation submitted")
	return nil
}

// Locate polls the report list for the row generated today for rng with a
// keyword structure and a completed status, and returns it with its
// download reference.
func (e *Engine) Locate(ctx context.Context, page browser.Page, p Profile, rng DateRange) (Job, string, error) {
	today, label := e.Today(), rng.Label()
	log := e.log.With(zap.String("requested", today), zap.String("range", label))
	log.Info("waiting for report")

	opts := poll.Options{Interval: e.cfg.ListInterval, Timeout: e.cfg.ListTimeout}
	job, err := poll.Until(ctx, opts, func(ctx context.Context) (Job, bool) {
		html, err := page.HTML(ctx)
		if err != nil {
			return Job{}, false
		}
		for _, j := range p.ParseJobs(html) {
			if j.RequestedDate == today && j.DateRange == label && p.IsKeyword(j.Structure) && p.IsComplete(j.Status) {
				return j, true
			}
		}
		return Job{}, false
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			log.Warn("no matching report", zap.Error(err))
			return Job{}, "", failure.ErrReportNotFound
		}
		return Job{}, "", err
	}
	if job.ID == "" {
		return Job{}, "", fmt.Errorf("%w: matching row has no id", failure.ErrReportNotFound)
	}
	log.Info("report ready", zap.String("id", job.ID))
	return job, p.DownloadRef(job.ID), nil
}

func (e *Engine) settle(ctx context.Context) error {
	if e.cfg.SettleDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
