package browser

import (
	"context"
	"strings"
)

// Locator is one element lookup strategy: a CSS selector optionally narrowed
// to elements whose text contains Text, that are visible, or that are enabled.
type Locator struct {
	Name    string
	CSS     string
	Text    string
	Visible bool
	Enabled bool
}

func (l Locator) String() string {
	if l.Name != "" {
		return l.Name
	}
	if l.Text != "" {
		return l.CSS + " ~ " + l.Text
	}
	return l.CSS
}

// Locators is an ordered list of independent strategies. The first one that
// matches wins.
type Locators []Locator

func (ls Locators) String() string {
	names := make([]string, len(ls))
	for i, l := range ls {
		names[i] = l.String()
	}
	return strings.Join(names, ", ")
}

// First returns the first strategy that currently matches an element.
func (ls Locators) First(ctx context.Context, p Page) (Locator, bool, error) {
	var lastErr error
	for _, l := range ls {
		ok, err := p.Has(ctx, l)
		if err != nil {
			if ctx.Err() != nil {
				return Locator{}, false, ctx.Err()
			}
			lastErr = err
			continue
		}
		if ok {
			return l, true, nil
		}
	}
	return Locator{}, false, lastErr
}

// ClickFirst clicks the element of the first matching strategy.
func (ls Locators) ClickFirst(ctx context.Context, p Page) (Locator, bool, error) {
	var lastErr error
	for _, l := range ls {
		ok, err := p.Click(ctx, l)
		if err != nil {
			if ctx.Err() != nil {
				return Locator{}, false, ctx.Err()
			}
			lastErr = err
			continue
		}
		if ok {
			return l, true, nil
		}
	}
	return Locator{}, false, lastErr
}

// FillFirst types value into the element of the first matching strategy.
func (ls Locators) FillFirst(ctx context.Context, p Page, value string) (Locator, bool, error) {
	var lastErr error
	for _, l := range ls {
		ok, err := p.Fill(ctx, l, value)
		if err != nil {
			if ctx.Err() != nil {
				return Locator{}, false, ctx.Err()
			}
			lastErr = err
			continue
		}
		if ok {
			return l, true, nil
		}
	}
	return Locator{}, false, lastErr
}
