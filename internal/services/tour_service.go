package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"assetdesk/backend/internal/progress"
	"assetdesk/backend/internal/repository"
	"assetdesk/backend/internal/resolver"
	"assetdesk/backend/internal/tour"
	"assetdesk/backend/pkg/models"
)

// applyTimeout bounds how long a request waits for its session's event loop.
const applyTimeout = 5 * time.Second

// Catalog supplies role scripts to sessions and to the read-only endpoints.
type Catalog interface {
	Steps(role models.Role) []models.TourStep
}

// Session is one browser tab driving a tour controller.
type Session struct {
	ID       string
	Identity models.Identity

	ctrl      *tour.Controller
	anchors   *AnchorRegistry
	navigator *ClientNavigator
	cancel    context.CancelFunc

	mu       sync.Mutex
	lastSeen time.Time
}

// SessionView is the client-facing snapshot of a session.
type SessionView struct {
	ID          string             `json:"id"`
	State       tour.State         `json:"state"`
	CurrentStep *tour.ResolvedStep `json:"currentStep,omitempty"`
	// Navigation is set while the controller waits for the browser to show
	// the requested step's route.
	Navigation *Navigation `json:"navigation,omitempty"`
}

// TourService owns the tour sessions of every connected browser.
type TourService struct {
	catalog  Catalog
	kv       repository.KeyValueStore
	cfg      Config
	logger   Logger
	observer tour.Observer
	now      func() time.Time

	root   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	byID   map[string]*Session
	closed bool
}

// Option customizes a TourService.
type Option func(*TourService)

// WithLogger sets the service logger. It is also handed to controllers.
func WithLogger(l Logger) Option {
	return func(s *TourService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver sets the observer every session controller reports to.
func WithObserver(o tour.Observer) Option {
	return func(s *TourService) { s.observer = o }
}

// WithClock injects the clock used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(s *TourService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTourService creates a service persisting progress in kv, one record per
// user.
func NewTourService(catalog Catalog, kv repository.KeyValueStore, cfg Config, opts ...Option) *TourService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = resolver.DefaultInterval
	}
	if cfg.TargetTimeout <= 0 {
		cfg.TargetTimeout = resolver.DefaultTimeout
	}
	root, stop := context.WithCancel(context.Background())
	s := &TourService{
		catalog: catalog,
		kv:      kv,
		cfg:     cfg,
		logger:  nopLogger{},
		now:     time.Now,
		root:    root,
		stop:    stop,
		byID:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Progress returns the progress store of userID.
func (s *TourService) Progress(userID string) *progress.Store {
	return progress.NewStore(repository.UserScope(s.kv, userID), progress.WithLogger(s.logger))
}

// Steps returns role's script.
func (s *TourService) Steps(role models.Role) []models.TourStep {
	return s.catalog.Steps(role)
}

// CreateSession starts a controller for caller, seeded with the route the
// browser is showing. The caller's auth state is delivered right away, so an
// eligible tour starts without further requests.
func (s *TourService) CreateSession(ctx context.Context, caller models.Identity, route string) (SessionView, error) {
	if err := ctx.Err(); err != nil {
		return SessionView{}, err
	}
	anchors := NewAnchorRegistry()
	navigator := NewClientNavigator()
	deps := tour.Dependencies{
		Catalog:  s.catalog,
		Progress: s.Progress(caller.UserID),
		Waiter:   resolver.New(anchors, s.cfg.PollInterval),
		Router:   navigator,
	}
	opts := []tour.Option{tour.WithLogger(s.logger)}
	if s.observer != nil {
		opts = append(opts, tour.WithObserver(s.observer))
	}
	ctrl, err := tour.New(deps, tour.Config{
		LoginRoute:        s.cfg.LoginRoute,
		StepTargetTimeout: s.cfg.TargetTimeout,
	}, opts...)
	if err != nil {
		return SessionView{}, fmt.Errorf("failed to create tour controller: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SessionView{}, tour.ErrClosed
	}
	runCtx, cancel := context.WithCancel(s.root)
	sess := &Session{
		ID:        uuid.New().String(),
		Identity:  caller,
		ctrl:      ctrl,
		anchors:   anchors,
		navigator: navigator,
		cancel:    cancel,
		lastSeen:  s.now(),
	}
	s.byID[sess.ID] = sess
	s.mu.Unlock()

	go func() {
		if err := ctrl.Run(runCtx); err != nil {
			s.logger.Error("tour controller stopped", "session", sess.ID, "error", err)
		}
	}()

	if route != "" {
		if err := ctrl.NotifyRoute(route); err != nil {
			return SessionView{}, err
		}
	}
	if err := ctrl.NotifyAuth(tour.AuthState{
		Authenticated: true,
		UserID:        caller.UserID,
		Role:          caller.Role,
	}); err != nil {
		return SessionView{}, err
	}
	s.logger.Info("tour session created", "session", sess.ID, "user_id", caller.UserID, "role", caller.Role)
	return s.view(sess), nil
}

// View returns the session's latest snapshot.
func (s *TourService) View(caller models.Identity, id string) (SessionView, error) {
	sess, err := s.session(caller, id)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

// CloseSession stops the session's controller and forgets it.
func (s *TourService) CloseSession(caller models.Identity, id string) error {
	sess, err := s.session(caller, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
	s.shutdown(sess)
	s.logger.Info("tour session closed", "session", id)
	return nil
}

// ReportRoute forwards a route-change notification.
func (s *TourService) ReportRoute(caller models.Identity, id, route string) (SessionView, error) {
	return s.dispatch(caller, id, tour.RouteChanged{Route: route})
}

// ReplaceAnchors records the anchors the browser currently renders.
func (s *TourService) ReplaceAnchors(caller models.Identity, id string, selectors []string) error {
	sess, err := s.session(caller, id)
	if err != nil {
		return err
	}
	sess.anchors.Replace(selectors)
	return nil
}

// Advance forwards a step-renderer callback.
func (s *TourService) Advance(caller models.Identity, id string, index int, action tour.Action, status tour.RendererStatus) (SessionView, error) {
	return s.dispatch(caller, id, tour.StepAdvanced{Index: index, Action: action, Status: status})
}

// Start starts a tour, bypassing the completed/dismissed guard. Only admins
// may start another role's tour.
func (s *TourService) Start(caller models.Identity, id string, role models.Role) (SessionView, error) {
	if role != "" && role != caller.Role && !caller.IsAdmin() {
		return SessionView{}, ErrRoleOverride
	}
	return s.dispatch(caller, id, tour.StartRequested{Role: role})
}

// Restart replays the session's active role tour.
func (s *TourService) Restart(caller models.Identity, id string) (SessionView, error) {
	return s.dispatch(caller, id, tour.StartRequested{})
}

// Subscribe streams the session's state and navigation requests. The cancel
// func must be called once the stream ends.
func (s *TourService) Subscribe(caller models.Identity, id string) (<-chan tour.State, <-chan Navigation, func(), error) {
	sess, err := s.session(caller, id)
	if err != nil {
		return nil, nil, nil, err
	}
	states, unsubscribe := sess.ctrl.Subscribe()
	navs, unlisten := sess.navigator.Listen()
	return states, navs, func() {
		unsubscribe()
		unlisten()
	}, nil
}

// Touch marks the session as active.
func (s *TourService) Touch(caller models.Identity, id string) error {
	_, err := s.session(caller, id)
	return err
}

// ResetProgress clears userID's progress so every role may auto-start again.
func (s *TourService) ResetProgress(ctx context.Context, userID string) error {
	return s.Progress(userID).Reset(ctx)
}

// Sessions returns the number of open sessions.
func (s *TourService) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Sweep closes sessions idle for longer than the session TTL and returns
// how many were closed.
func (s *TourService) Sweep(now time.Time) int {
	if s.cfg.SessionTTL <= 0 {
		return 0
	}
	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.byID {
		sess.mu.Lock()
		idle := now.Sub(sess.lastSeen)
		sess.mu.Unlock()
		if idle > s.cfg.SessionTTL {
			expired = append(expired, sess)
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()
	for _, sess := range expired {
		s.shutdown(sess)
		s.logger.Debug("tour session expired", "session", sess.ID)
	}
	return len(expired)
}

// Run sweeps expired sessions until ctx is cancelled, then closes every
// session.
func (s *TourService) Run(ctx context.Context) error {
	every := s.cfg.SessionTTL / 4
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Info("expired idle tour sessions", "count", n)
			}
		}
	}
}

// Close stops every session. Later session creation fails.
func (s *TourService) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.byID))
	for id, sess := range s.byID {
		sessions = append(sessions, sess)
		delete(s.byID, id)
	}
	s.mu.Unlock()
	s.stop()
	for _, sess := range sessions {
		<-sess.ctrl.Done()
	}
}

func (s *TourService) session(caller models.Identity, id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	s.mu.Unlock()
	if !ok || sess.Identity.UserID != caller.UserID {
		return nil, ErrSessionNotFound
	}
	sess.mu.Lock()
	sess.lastSeen = s.now()
	roleChanged := sess.Identity.Role != caller.Role
	sess.Identity.Role = caller.Role
	sess.mu.Unlock()
	if roleChanged {
		// A refreshed token carried a different role.
		if err := sess.ctrl.NotifyAuth(tour.AuthState{
			Authenticated: true,
			UserID:        caller.UserID,
			Role:          caller.Role,
		}); err != nil {
			s.logger.Warn("failed to deliver role change to tour session",
				"session", sess.ID, "user_id", caller.UserID, "role", caller.Role, "error", err)
		}
	}
	return sess, nil
}

// dispatch applies ev to the session and returns the view of the state it
// produced.
func (s *TourService) dispatch(caller models.Identity, id string, ev tour.Event) (SessionView, error) {
	sess, err := s.session(caller, id)
	if err != nil {
		return SessionView{}, err
	}
	ctx, cancel := context.WithTimeout(s.root, applyTimeout)
	defer cancel()
	st, err := sess.ctrl.Apply(ctx, ev)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return SessionView{}, tour.ErrClosed
		}
		return SessionView{}, err
	}
	return s.viewOf(sess, st), nil
}

func (s *TourService) shutdown(sess *Session) {
	sess.cancel()
	<-sess.ctrl.Done()
}

func (s *TourService) view(sess *Session) SessionView {
	return s.viewOf(sess, sess.ctrl.Snapshot())
}

func (s *TourService) viewOf(sess *Session, st tour.State) SessionView {
	v := SessionView{ID: sess.ID, State: st}
	if step, ok := st.CurrentStep(); ok {
		v.CurrentStep = &step
	}
	if st.Phase == tour.PhaseAwaitingRoute && st.RequestedIndex >= 0 && st.RequestedIndex < len(st.Script) {
		nav := Navigation{Route: st.Script[st.RequestedIndex].Route}
		// The navigator may not have recorded the request yet.
		if last, ok := sess.navigator.Last(); ok && last.Route == nav.Route {
			nav = last
		}
		v.Navigation = &nav
	}
	return v
}
