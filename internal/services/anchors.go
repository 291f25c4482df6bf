package services

import (
	"context"
	"sync"
)

// AnchorRegistry is the set of anchor selectors the browser currently
// renders. It answers the resolver's existence checks for a session.
type AnchorRegistry struct {
	mu      sync.RWMutex
	anchors map[string]struct{}
}

// NewAnchorRegistry returns an empty registry.
func NewAnchorRegistry() *AnchorRegistry {
	return &AnchorRegistry{anchors: make(map[string]struct{})}
}

// Replace swaps the whole anchor set.
func (r *AnchorRegistry) Replace(selectors []string) {
	next := make(map[string]struct{}, len(selectors))
	for _, s := range selectors {
		if s != "" {
			next[s] = struct{}{}
		}
	}
	r.mu.Lock()
	r.anchors = next
	r.mu.Unlock()
}

// Exists reports whether selector is currently rendered.
func (r *AnchorRegistry) Exists(_ context.Context, selector string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.anchors[selector]
	return ok
}

// Len returns the number of rendered anchors.
func (r *AnchorRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.anchors)
}
