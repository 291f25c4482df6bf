package tour

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"assetdesk/backend/internal/progress"
	"assetdesk/backend/internal/repository"
	"assetdesk/backend/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// reportingRouter records navigation requests and, when report is set,
// confirms each one with a route notification like a real router would.
type reportingRouter struct {
	mu     sync.Mutex
	routes []string
	ctrl   *Controller
	report bool
}

func (r *reportingRouter) Navigate(ctx context.Context, route string) error {
	r.mu.Lock()
	r.routes = append(r.routes, route)
	ctrl, report := r.ctrl, r.report
	r.mu.Unlock()
	if report && ctrl != nil {
		return ctrl.NotifyRoute(route)
	}
	return nil
}

func (r *reportingRouter) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routes...)
}

// slowRouter holds navigation to gated routes until the test opens the gate
// and records the order in which navigations land.
type slowRouter struct {
	mu      sync.Mutex
	started []string
	landed  []string
	gates   map[string]chan struct{}
}

func (r *slowRouter) Navigate(ctx context.Context, route string) error {
	r.mu.Lock()
	r.started = append(r.started, route)
	gate := r.gates[route]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.landed = append(r.landed, route)
	r.mu.Unlock()
	return nil
}

func (r *slowRouter) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func (r *slowRouter) Landed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.landed...)
}

type waiterFunc func(ctx context.Context, target string, timeout time.Duration) bool

func (f waiterFunc) WaitForTarget(ctx context.Context, target string, timeout time.Duration) bool {
	return f(ctx, target, timeout)
}

// gatedWaiter blocks every wait until the test releases it, ignoring
// cancellation so stale results really do arrive late.
type gatedWaiter struct {
	calls chan chan bool
}

func (g *gatedWaiter) WaitForTarget(ctx context.Context, target string, timeout time.Duration) bool {
	release := make(chan bool)
	g.calls <- release
	return <-release
}

type recordingObserver struct {
	mu        sync.Mutex
	presented []StepPresented
	ended     []Outcome
}

func (o *recordingObserver) StepPresented(_ context.Context, e StepPresented) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.presented = append(o.presented, e)
}

func (o *recordingObserver) TourEnded(_ context.Context, _ models.Role, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, outcome)
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, error) { return "", errors.New("offline") }
func (failingKV) Set(context.Context, string, string) error   { return errors.New("offline") }
func (failingKV) Delete(context.Context, string) error        { return errors.New("offline") }
func (failingKV) Ping(context.Context) error                  { return errors.New("offline") }

func startController(t *testing.T, deps Dependencies, opts ...Option) *Controller {
	t.Helper()
	if deps.Catalog == nil {
		deps.Catalog = testCatalog
	}
	ctrl, err := New(deps, Config{LoginRoute: "/login", StepTargetTimeout: 50 * time.Millisecond}, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-ctrl.Done()
	})
	return ctrl
}

func waitForState(t *testing.T, ctrl *Controller, cond func(State) bool) State {
	t.Helper()
	require.Eventually(t, func() bool { return cond(ctrl.Snapshot()) }, 2*time.Second, 2*time.Millisecond)
	return ctrl.Snapshot()
}

func runningIndex(i int) func(State) bool {
	return func(s State) bool { return s.Phase == PhaseRunning && s.CurrentIndex == i }
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{}, Config{})
	assert.Error(t, err)
	_, err = New(Dependencies{Catalog: testCatalog}, Config{})
	assert.Error(t, err)
}

func TestController_UserTourScenario(t *testing.T) {
	ctx := context.Background()
	store := progress.NewStore(repository.NewMemoryKVStore())
	router := &reportingRouter{report: true}
	waiter := waiterFunc(func(_ context.Context, target string, _ time.Duration) bool {
		return target == stepA.Target
	})
	observer := &recordingObserver{}
	ctrl := startController(t, Dependencies{Progress: store, Waiter: waiter, Router: router}, WithObserver(observer))
	router.mu.Lock()
	router.ctrl = ctrl
	router.mu.Unlock()

	require.NoError(t, ctrl.NotifyRoute("/dashboard"))
	require.NoError(t, ctrl.StartTour(models.RoleUser))

	s := waitForState(t, ctrl, runningIndex(0))
	assert.True(t, ctrl.IsRunning())
	assert.Equal(t, stepA.Target, s.Steps[0].Target)
	assert.True(t, s.Steps[0].TargetFound)

	require.NoError(t, ctrl.Advance(0, ActionNext, StatusNone))
	s = waitForState(t, ctrl, runningIndex(1))
	assert.Equal(t, models.WholeViewport, s.Steps[1].Target)
	assert.False(t, s.Steps[1].TargetFound)
	assert.Equal(t, "/tickets", s.CurrentRoute)

	require.NoError(t, ctrl.Advance(1, ActionFinished, StatusNone))
	s = waitForState(t, ctrl, func(s State) bool { return s.Phase == PhaseIdle && s.LastOutcome == OutcomeCompleted })
	assert.False(t, s.Running)
	assert.False(t, ctrl.CanAutoStart())
	assert.False(t, store.CanAutoStart(ctx, models.RoleUser))
	assert.NotEmpty(t, store.Read(ctx).CompletedByRole[models.RoleUser])

	assert.Equal(t, []string{"/my-assets", "/tickets"}, router.Routes())
	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Len(t, observer.presented, 2)
	assert.Equal(t, []Outcome{OutcomeCompleted}, observer.ended)
}

func TestController_AutoStartOnlyOncePerSession(t *testing.T) {
	store := progress.NewStore(repository.NewMemoryKVStore())
	router := &reportingRouter{}
	always := waiterFunc(func(context.Context, string, time.Duration) bool { return true })
	ctrl := startController(t, Dependencies{Progress: store, Waiter: always, Router: router})

	auth := AuthState{Authenticated: true, UserID: "u-1", Role: models.RoleUser}
	require.NoError(t, ctrl.NotifyRoute("/my-assets"))
	require.NoError(t, ctrl.NotifyAuth(auth))
	waitForState(t, ctrl, runningIndex(0))
	assert.True(t, ctrl.CanAutoStart())

	require.NoError(t, ctrl.Advance(0, ActionClose, StatusNone))
	waitForState(t, ctrl, func(s State) bool { return s.LastOutcome == OutcomeDismissed })

	// Re-renders of the auth provider must not restart the tour.
	for i := 0; i < 3; i++ {
		require.NoError(t, ctrl.NotifyAuth(auth))
	}
	assert.Never(t, func() bool { return ctrl.Snapshot().Active() }, 50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, store.CanAutoStart(context.Background(), models.RoleUser))
}

func TestController_AutoStartForbiddenAfterCompletion(t *testing.T) {
	ctx := context.Background()
	store := progress.NewStore(repository.NewMemoryKVStore())
	require.NoError(t, store.MarkCompleted(ctx, models.RoleUser))
	router := &reportingRouter{}
	ctrl := startController(t, Dependencies{
		Progress: store,
		Waiter:   waiterFunc(func(context.Context, string, time.Duration) bool { return true }),
		Router:   router,
	})

	require.NoError(t, ctrl.NotifyRoute("/my-assets"))
	require.NoError(t, ctrl.NotifyAuth(AuthState{Authenticated: true, UserID: "u-1", Role: models.RoleUser}))
	s := waitForState(t, ctrl, func(s State) bool { return s.GuardKey != "" })
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Never(t, func() bool { return ctrl.Snapshot().Active() }, 50*time.Millisecond, 5*time.Millisecond)

	// Manual replay is always allowed.
	require.NoError(t, ctrl.RestartTour())
	waitForState(t, ctrl, runningIndex(0))
}

func TestController_WaitsForRouteConfirmation(t *testing.T) {
	router := &reportingRouter{}
	ctrl := startController(t, Dependencies{
		Progress: progress.NewStore(repository.NewMemoryKVStore()),
		Waiter:   waiterFunc(func(context.Context, string, time.Duration) bool { return true }),
		Router:   router,
	})

	require.NoError(t, ctrl.NotifyRoute("/dashboard"))
	require.NoError(t, ctrl.StartTour(models.RoleUser))
	waitForState(t, ctrl, func(s State) bool { return s.Phase == PhaseAwaitingRoute })
	require.Eventually(t, func() bool { return len(router.Routes()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, "/my-assets", router.Routes()[0])

	assert.Never(t, func() bool { return ctrl.Snapshot().Running }, 50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, ctrl.NotifyRoute("/my-assets"))
	waitForState(t, ctrl, runningIndex(0))
}

func TestController_TimedOutTargetFallsBack(t *testing.T) {
	ctrl := startController(t, Dependencies{
		Progress: progress.NewStore(repository.NewMemoryKVStore()),
		Waiter: waiterFunc(func(ctx context.Context, _ string, timeout time.Duration) bool {
			select {
			case <-time.After(timeout):
			case <-ctx.Done():
			}
			return false
		}),
		Router: &reportingRouter{},
	})

	require.NoError(t, ctrl.NotifyRoute("/my-assets"))
	require.NoError(t, ctrl.StartTour(models.RoleUser))
	s := waitForState(t, ctrl, runningIndex(0))
	assert.Equal(t, models.WholeViewport, s.Steps[0].Target)
}

func TestController_RestartDuringResolutionOnlyLatestCommits(t *testing.T) {
	gate := &gatedWaiter{calls: make(chan chan bool, 4)}
	ctrl := startController(t, Dependencies{
		Progress: progress.NewStore(repository.NewMemoryKVStore()),
		Waiter:   gate,
		Router:   &reportingRouter{},
	})

	require.NoError(t, ctrl.NotifyRoute("/my-assets"))
	require.NoError(t, ctrl.StartTour(models.RoleUser))
	first := <-gate.calls
	require.NoError(t, ctrl.StartTour(models.RoleUser))
	second := <-gate.calls

	second <- false
	s := waitForState(t, ctrl, runningIndex(0))
	assert.False(t, s.Steps[0].TargetFound)
	epoch := s.Epoch

	first <- true
	assert.Never(t, func() bool {
		snap := ctrl.Snapshot()
		return snap.Steps[0].TargetFound || snap.Epoch != epoch
	}, 60*time.Millisecond, 5*time.Millisecond)
}

func TestController_PersistFailureStillEndsTour(t *testing.T) {
	ctrl := startController(t, Dependencies{
		Progress: progress.NewStore(failingKV{}),
		Waiter:   waiterFunc(func(context.Context, string, time.Duration) bool { return true }),
		Router:   &reportingRouter{},
	})

	require.NoError(t, ctrl.NotifyRoute("/my-assets"))
	require.NoError(t, ctrl.NotifyAuth(AuthState{Authenticated: true, UserID: "u-1", Role: models.RoleUser}))
	// Unreadable progress degrades to "nothing completed", so the tour auto-starts.
	waitForState(t, ctrl, runningIndex(0))

	require.NoError(t, ctrl.Advance(0, ActionSkip, StatusNone))
	s := waitForState(t, ctrl, func(s State) bool { return s.Phase == PhaseIdle })
	assert.Equal(t, OutcomeDismissed, s.LastOutcome)
}

func TestController_SubscribeAndShutdown(t *testing.T) {
	ctrl, err := New(Dependencies{
		Catalog:  testCatalog,
		Progress: progress.NewStore(repository.NewMemoryKVStore()),
		Waiter:   waiterFunc(func(context.Context, string, time.Duration) bool { return true }),
		Router:   &reportingRouter{},
	}, Config{})
	require.NoError(t, err)

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	initial := <-updates
	assert.Equal(t, PhaseIdle, initial.Phase)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()

	require.NoError(t, ctrl.NotifyRoute("/my-assets"))
	require.NoError(t, ctrl.StartTour(models.RoleUser))

	deadline := time.After(2 * time.Second)
	for running := false; !running; {
		select {
		case s := <-updates:
			running = s.Running
		case <-deadline:
			t.Fatal("no running state published")
		}
	}

	cancel()
	<-ctrl.Done()
	assert.ErrorIs(t, ctrl.StartTour(models.RoleUser), ErrClosed)
	for range updates {
	}
	late, _ := ctrl.Subscribe()
	_, open := <-late
	assert.True(t, open, "late subscribers still get the final state")
	_, open = <-late
	assert.False(t, open)
}

func TestController_RenavigatesWhenRouteMismatchesWhileAwaiting(t *testing.T) {
	router := &reportingRouter{}
	ctrl := startController(t, Dependencies{
		Progress: progress.NewStore(repository.NewMemoryKVStore()),
		Waiter:   waiterFunc(func(context.Context, string, time.Duration) bool { return true }),
		Router:   router,
	})

	require.NoError(t, ctrl.NotifyRoute("/dashboard"))
	require.NoError(t, ctrl.StartTour(models.RoleUser))
	require.Eventually(t, func() bool { return len(router.Routes()) == 1 }, time.Second, 2*time.Millisecond)

	// The app reports somewhere else; the controller asks for the step route again.
	require.NoError(t, ctrl.NotifyRoute("/settings"))
	require.Eventually(t, func() bool { return len(router.Routes()) == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"/my-assets", "/my-assets"}, router.Routes())
	assert.Equal(t, PhaseAwaitingRoute, ctrl.Snapshot().Phase)

	require.NoError(t, ctrl.NotifyRoute("/my-assets"))
	waitForState(t, ctrl, runningIndex(0))
}

func TestController_SlowNavigationNeverOvertakesNewerRequest(t *testing.T) {
	gate := make(chan struct{})
	router := &slowRouter{gates: map[string]chan struct{}{"/tickets": gate}}
	ctrl := startController(t, Dependencies{
		Progress: progress.NewStore(repository.NewMemoryKVStore()),
		Waiter:   waiterFunc(func(context.Context, string, time.Duration) bool { return true }),
		Router:   router,
	})

	require.NoError(t, ctrl.NotifyRoute("/my-assets"))
	require.NoError(t, ctrl.StartTour(models.RoleUser))
	waitForState(t, ctrl, runningIndex(0))

	// Step two's navigation stalls in the router.
	require.NoError(t, ctrl.Advance(0, ActionNext, StatusNone))
	require.Eventually(t, func() bool { return len(router.Started()) == 1 }, time.Second, 2*time.Millisecond)

	// The tour is replayed from another page while it is still pending.
	require.NoError(t, ctrl.StopTour())
	require.NoError(t, ctrl.NotifyRoute("/dashboard"))
	require.NoError(t, ctrl.StartTour(models.RoleUser))
	s := waitForState(t, ctrl, func(s State) bool { return s.Phase == PhaseAwaitingRoute && s.RequestedIndex == 0 })
	assert.Never(t, func() bool { return len(router.Landed()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool { return len(router.Landed()) == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"/tickets", "/my-assets"}, router.Landed())
	assert.Equal(t, s.Script[s.RequestedIndex].Route, router.Landed()[1])
}

func TestController_ApplyReturnsStateAfterEvent(t *testing.T) {
	store := progress.NewStore(repository.NewMemoryKVStore())
	ctrl, err := New(Dependencies{
		Catalog:  testCatalog,
		Progress: store,
		Waiter:   waiterFunc(func(context.Context, string, time.Duration) bool { return true }),
		Router:   &reportingRouter{},
	}, Config{LoginRoute: "/login"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()

	s, err := ctrl.Apply(context.Background(), RouteChanged{Route: "/dashboard"})
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", s.CurrentRoute)

	s, err = ctrl.Apply(context.Background(), StartRequested{Role: models.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingRoute, s.Phase)
	assert.Equal(t, 0, s.RequestedIndex)

	cancel()
	<-ctrl.Done()
	_, err = ctrl.Apply(context.Background(), StopRequested{})
	assert.ErrorIs(t, err, ErrClosed)
}
