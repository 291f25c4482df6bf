package services

import (
	"context"
	"sync"
	"time"
)

// Navigation is a route change the browser is asked to perform.
type Navigation struct {
	Seq         uint64    `json:"seq"`
	Route       string    `json:"route"`
	RequestedAt time.Time `json:"requestedAt"`
}

// ClientNavigator is the controller's router for a remote browser. Requests
// are handed to listeners (the snapshot stream); the controller only learns
// the route changed when the browser reports it back.
type ClientNavigator struct {
	mu        sync.Mutex
	seq       uint64
	last      *Navigation
	listeners map[uint64]chan Navigation
	nextID    uint64
	now       func() time.Time
}

// NewClientNavigator creates a navigator with no listeners.
func NewClientNavigator() *ClientNavigator {
	return &ClientNavigator{listeners: make(map[uint64]chan Navigation), now: time.Now}
}

// Navigate records the request and offers it to every listener. A listener
// that has not consumed the previous request only sees the latest one.
func (n *ClientNavigator) Navigate(_ context.Context, route string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	nav := Navigation{Seq: n.seq, Route: route, RequestedAt: n.now()}
	n.last = &nav
	for _, ch := range n.listeners {
		select {
		case ch <- nav:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- nav
		}
	}
	return nil
}

// Last returns the most recent request, if any.
func (n *ClientNavigator) Last() (Navigation, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return Navigation{}, false
	}
	return *n.last, true
}

// Listen registers a listener. The returned func unregisters it.
func (n *ClientNavigator) Listen() (<-chan Navigation, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	ch := make(chan Navigation, 1)
	n.listeners[id] = ch
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}
