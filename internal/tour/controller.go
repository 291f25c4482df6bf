package tour

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"assetdesk/backend/pkg/models"
)

// DefaultStepTargetTimeout bounds the anchor wait for a single step.
const DefaultStepTargetTimeout = 2500 * time.Millisecond

// ErrClosed is returned when an event is dispatched after Run returned.
var ErrClosed = errors.New("tour: controller closed")

// ProgressStore is the persisted completion record as seen by the controller.
type ProgressStore interface {
	CanAutoStart(ctx context.Context, role models.Role) bool
	MarkCompleted(ctx context.Context, role models.Role) error
	MarkDismissed(ctx context.Context, role models.Role) error
}

// TargetWaiter waits for a step anchor to exist.
type TargetWaiter interface {
	WaitForTarget(ctx context.Context, target string, timeout time.Duration) bool
}

// Router displays routes. Navigation is not assumed to be synchronous: the
// controller only trusts a later route notification.
type Router interface {
	Navigate(ctx context.Context, route string) error
}

// Observer is told about presented steps and finished tours.
type Observer interface {
	StepPresented(ctx context.Context, e StepPresented)
	TourEnded(ctx context.Context, role models.Role, outcome Outcome)
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

type nopObserver struct{}

func (nopObserver) StepPresented(context.Context, StepPresented)    {}
func (nopObserver) TourEnded(context.Context, models.Role, Outcome) {}

// Dependencies are the collaborators a Controller drives.
type Dependencies struct {
	Catalog  Catalog
	Progress ProgressStore
	Waiter   TargetWaiter
	Router   Router
}

// Config tunes a Controller.
type Config struct {
	// LoginRoute suppresses auto-start while displayed.
	LoginRoute string
	// StepTargetTimeout bounds each anchor wait.
	StepTargetTimeout time.Duration
	// QueueSize is the event buffer length.
	QueueSize int
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the observer notified of tour progress.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// Controller runs the state machine on a single goroutine. Events are
// consumed one at a time from a channel; progress checks and persistence
// run inline. Navigation runs on one worker goroutine that always serves the
// most recent request, and target waits run on their own goroutines; both
// report back through the same channel.
type Controller struct {
	machine  *Machine
	deps     Dependencies
	timeout  time.Duration
	logger   Logger
	observer Observer

	events chan Event
	navReq chan string
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu      sync.RWMutex
	state   State
	subs    map[int]chan State
	nextSub int

	// Owned by the Run goroutine.
	current    State
	waitCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Controller in the Idle state. Call Run to start it.
func New(deps Dependencies, cfg Config, opts ...Option) (*Controller, error) {
	switch {
	case deps.Catalog == nil:
		return nil, fmt.Errorf("tour controller: catalog is required")
	case deps.Progress == nil:
		return nil, fmt.Errorf("tour controller: progress store is required")
	case deps.Waiter == nil:
		return nil, fmt.Errorf("tour controller: target waiter is required")
	case deps.Router == nil:
		return nil, fmt.Errorf("tour controller: router is required")
	}
	if cfg.StepTargetTimeout <= 0 {
		cfg.StepTargetTimeout = DefaultStepTargetTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	c := &Controller{
		machine:  NewMachine(deps.Catalog, cfg.LoginRoute),
		deps:     deps,
		timeout:  cfg.StepTargetTimeout,
		logger:   nopLogger{},
		observer: nopObserver{},
		events:   make(chan Event, cfg.QueueSize),
		navReq:   make(chan string, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    NewState(),
		current:  NewState(),
		subs:     make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run consumes events until ctx is cancelled. In-flight waits are cancelled
// and awaited before it returns. Run must be called at most once.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	c.wg.Add(1)
	go c.navigate(ctx)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case ev := <-c.events:
			c.process(ctx, ev)
		}
	}
}

func (c *Controller) shutdown() {
	c.once.Do(func() { close(c.quit) })
	c.cancelWait()
	c.wg.Wait()

	c.mu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Dispatch queues ev for the event loop.
func (c *Controller) Dispatch(ev Event) error {
	select {
	case <-c.quit:
		return ErrClosed
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.quit:
		return ErrClosed
	}
}

// applied carries an event whose caller waits for its result.
type applied struct {
	Event
	reply chan State
}

// Apply queues ev and waits until it and the inline effects it triggers have
// been applied, returning the resulting state. Navigation and anchor waits it
// starts finish later and show up in subsequent states.
func (c *Controller) Apply(ctx context.Context, ev Event) (State, error) {
	reply := make(chan State, 1)
	if err := c.Dispatch(applied{Event: ev, reply: reply}); err != nil {
		return State{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-c.done:
		select {
		case s := <-reply:
			return s, nil
		default:
			return State{}, ErrClosed
		}
	}
}

// NotifyAuth reports the auth/role provider's current state.
func (c *Controller) NotifyAuth(a AuthState) error {
	return c.Dispatch(AuthChanged{Auth: a})
}

// NotifyRoute reports that the app now displays route.
func (c *Controller) NotifyRoute(route string) error {
	return c.Dispatch(RouteChanged{Route: route})
}

// Advance forwards a step-renderer callback.
func (c *Controller) Advance(index int, action Action, status RendererStatus) error {
	return c.Dispatch(StepAdvanced{Index: index, Action: action, Status: status})
}

// StartTour resets the session and starts role's tour, bypassing the
// completed/dismissed guard. An empty role uses the active role.
func (c *Controller) StartTour(role models.Role) error {
	return c.Dispatch(StartRequested{Role: role})
}

// RestartTour replays the active role's tour.
func (c *Controller) RestartTour() error {
	return c.StartTour("")
}

// StopTour ends the tour without recording an outcome.
func (c *Controller) StopTour() error {
	return c.Dispatch(StopRequested{})
}

// Snapshot returns a copy of the latest published state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// IsRunning reports whether a step is presented.
func (c *Controller) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Running
}

// CanAutoStart reports the last auto-start verdict for the active role.
func (c *Controller) CanAutoStart() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.CanAutoStart
}

// Subscribe returns a channel carrying the latest state after each
// transition. Slow readers only miss intermediate states. The channel is
// closed by the returned cancel func or when Run returns.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan State, 1)
	id := c.nextSub
	c.nextSub++
	ch <- c.state.Clone()
	select {
	case <-c.quit:
		close(ch)
		return ch, func() {}
	default:
	}
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
}

// process applies ev and every follow-up event produced by inline effects
// before returning to the channel.
func (c *Controller) process(ctx context.Context, ev Event) {
	var reply chan State
	if a, ok := ev.(applied); ok {
		ev, reply = a.Event, a.reply
	}
	if reply != nil {
		defer func() { reply <- c.current.Clone() }()
	}
	queue := []Event{ev}
	for len(queue) > 0 {
		ev, queue = queue[0], queue[1:]
		prev := c.current
		next, effects := c.machine.Transition(prev, ev)
		c.current = next
		if next.Epoch != prev.Epoch {
			c.cancelWait()
		}
		c.publish(next)
		c.logger.Debug("tour transition",
			"event", fmt.Sprintf("%T", ev),
			"from", prev.Phase,
			"to", next.Phase,
			"epoch", next.Epoch,
		)

		for _, eff := range effects {
			if follow := c.run(ctx, eff); follow != nil {
				queue = append(queue, follow)
			}
		}
	}
}

func (c *Controller) run(ctx context.Context, eff Effect) Event {
	switch e := eff.(type) {
	case CheckAutoStart:
		allowed := c.deps.Progress.CanAutoStart(ctx, e.Role)
		return AutoStartChecked{GuardKey: e.GuardKey, Role: e.Role, Allowed: allowed}
	case Persist:
		var err error
		switch e.Outcome {
		case OutcomeCompleted:
			err = c.deps.Progress.MarkCompleted(ctx, e.Role)
		case OutcomeDismissed:
			err = c.deps.Progress.MarkDismissed(ctx, e.Role)
		}
		if err != nil {
			c.logger.Warn("failed to persist tour outcome", "role", e.Role, "outcome", e.Outcome, "error", err)
		}
		c.observer.TourEnded(ctx, e.Role, e.Outcome)
	case StepPresented:
		c.observer.StepPresented(ctx, e)
	case Navigate:
		// Latest wins: a request the worker has not picked up yet is replaced.
		select {
		case <-c.navReq:
		default:
		}
		c.navReq <- e.Route
	case WaitForTarget:
		c.cancelWait()
		waitCtx, cancel := context.WithCancel(ctx)
		c.waitCancel = cancel
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer cancel()
			found := c.deps.Waiter.WaitForTarget(waitCtx, e.Target, c.timeout)
			if waitCtx.Err() != nil {
				return
			}
			c.post(TargetResolved{Index: e.Index, Epoch: e.Epoch, Found: found})
		}()
	}
	return nil
}

// navigate performs navigation requests one at a time and in order, so a
// slow request can never land after a newer one.
func (c *Controller) navigate(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		case route := <-c.navReq:
			if err := c.deps.Router.Navigate(ctx, route); err != nil {
				c.logger.Warn("navigation request failed", "route", route, "error", err)
			}
		}
	}
}

func (c *Controller) cancelWait() {
	if c.waitCancel != nil {
		c.waitCancel()
		c.waitCancel = nil
	}
}

// post delivers an async result unless the controller is shutting down.
func (c *Controller) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *Controller) publish(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	for _, ch := range c.subs {
		snap := s.Clone()
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
