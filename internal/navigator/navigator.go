// Package navigator changes page location and waits for the load signal of
// that navigation, treating timeouts as soft failures.
package navigator

import (
	"context"
	"errors"
	"time"

	"autoclip/internal/browser"
	"autoclip/internal/failure"

	"go.uber.org/zap"
)

// Navigator drives page transitions for every workflow.
type Navigator struct {
	timeout time.Duration
	log     *zap.Logger
}

// New returns a Navigator whose default budget is timeout.
func New(timeout time.Duration, log *zap.Logger) *Navigator {
	return &Navigator{timeout: timeout, log: log.Named("navigator")}
}

// Navigate loads url in page within timeout (the default budget when <= 0).
// A navigation that errors or misses its load signal is logged and reported
// as loaded == false; the caller inspects whatever state resulted. Only the
// cancellation of ctx itself is returned as an error.
func (n *Navigator) Navigate(ctx context.Context, page browser.Page, url string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = n.timeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := page.Navigate(navCtx, url)
	if err == nil {
		n.log.Debug("navigated", zap.String("url", url), zap.Duration("took", time.Since(start)))
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = failure.ErrNavigationTimeout
	}
	n.log.Warn("navigation incomplete, continuing",
		zap.String("url", url),
		zap.Duration("timeout", timeout),
		zap.Error(err))
	return false, nil
}
