// Package resolver waits, for a bounded time, for a tour anchor to appear.
package resolver

import (
	"context"
	"time"

	"assetdesk/backend/pkg/models"
)

const (
	// DefaultInterval is the delay between existence checks.
	DefaultInterval = 100 * time.Millisecond
	// DefaultTimeout bounds a single wait.
	DefaultTimeout = 2500 * time.Millisecond
)

// DOM answers whether an element matching selector currently exists.
type DOM interface {
	Exists(ctx context.Context, selector string) bool
}

// DOMFunc adapts a function to the DOM interface.
type DOMFunc func(ctx context.Context, selector string) bool

func (f DOMFunc) Exists(ctx context.Context, selector string) bool { return f(ctx, selector) }

// Resolver polls a DOM until a target exists or the wait expires.
type Resolver struct {
	dom      DOM
	interval time.Duration
}

// New creates a Resolver polling dom every interval. A non-positive interval
// uses DefaultInterval.
func New(dom DOM, interval time.Duration) *Resolver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Resolver{dom: dom, interval: interval}
}

// WaitForTarget reports whether target exists within timeout. The
// whole-viewport target resolves immediately without a query. For any other
// target the DOM is checked right away, then every interval, and once more
// when timeout expires. Cancelling ctx ends the wait with false. A
// non-positive timeout uses DefaultTimeout.
func (r *Resolver) WaitForTarget(ctx context.Context, target string, timeout time.Duration) bool {
	if target == models.WholeViewport {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if r.dom.Exists(ctx, target) {
		return true
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return r.dom.Exists(ctx, target)
		case <-ticker.C:
			if r.dom.Exists(ctx, target) {
				return true
			}
		}
	}
}
