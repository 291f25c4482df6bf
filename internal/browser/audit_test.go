package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"assetdesk/backend/internal/catalog"
	"assetdesk/backend/internal/tour"
	"assetdesk/backend/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSurface renders a fixed set of anchors per route and reports every
// navigation back immediately.
type fakeSurface struct {
	mu      sync.Mutex
	anchors map[string][]string
	route   string
	visited []string
	onRoute func(string)
}

func (f *fakeSurface) OnRoute(fn func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRoute = fn
}

func (f *fakeSurface) Exists(_ context.Context, selector string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.anchors[f.route] {
		if a == selector {
			return true
		}
	}
	return false
}

func (f *fakeSurface) Navigate(_ context.Context, route string) error {
	f.mu.Lock()
	f.route = route
	f.visited = append(f.visited, route)
	fn := f.onRoute
	f.mu.Unlock()
	if fn != nil {
		fn(route)
	}
	return nil
}

func auditConfig() AuditConfig {
	return AuditConfig{
		LoginRoute:    "/login",
		PollInterval:  2 * time.Millisecond,
		TargetTimeout: 20 * time.Millisecond,
		StepTimeout:   2 * time.Second,
	}
}

func TestAudit_ReportsFoundAndFallbackSteps(t *testing.T) {
	surface := &fakeSurface{anchors: map[string][]string{
		"/my-assets": {`[data-tour="my-assets-list"]`},
		"/tickets":   {`[data-tour="tickets-mine"]`},
	}}

	report, err := Audit(context.Background(), surface, catalog.Default(), models.RoleUser, auditConfig(), nil)
	require.NoError(t, err)

	script := catalog.Default().Steps(models.RoleUser)
	require.Len(t, report.Steps, len(script))
	assert.Equal(t, tour.OutcomeCompleted, report.Outcome)
	for i, s := range report.Steps {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, script[i].ID, s.StepID)
		assert.Equal(t, script[i].Target, s.Target)
	}
	assert.True(t, report.Steps[0].TargetFound)
	assert.False(t, report.Steps[1].TargetFound, "tickets-new is not rendered")
	assert.True(t, report.Steps[2].TargetFound)
	assert.Equal(t, len(script)-2, report.Fallbacks())
	assert.Equal(t, "/my-assets", surface.visited[0])
}

func TestAudit_UnknownRole(t *testing.T) {
	_, err := Audit(context.Background(), &fakeSurface{}, catalog.Default(), models.Role("guest"), auditConfig(), nil)
	assert.Error(t, err)
}

// stuckSurface never reports the routes it is asked to show.
type stuckSurface struct{ fakeSurface }

func (s *stuckSurface) Navigate(context.Context, string) error { return nil }

func TestAudit_StepTimeout(t *testing.T) {
	cfg := auditConfig()
	cfg.StepTimeout = 30 * time.Millisecond
	_, err := Audit(context.Background(), &stuckSurface{}, catalog.Default(), models.RoleUser, cfg, nil)
	assert.ErrorIs(t, err, ErrStepTimeout)
}

func TestResolveURL(t *testing.T) {
	for _, tc := range []struct {
		base, route, want string
	}{
		{"http://localhost:5173", "/tickets", "http://localhost:5173/tickets"},
		{"http://localhost:5173/", "tickets", "http://localhost:5173/tickets"},
		{"https://desk.acme.com/app", "/my-assets?tab=2", "https://desk.acme.com/app/my-assets?tab=2"},
	} {
		got, err := ResolveURL(tc.base, tc.route)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ResolveURL("localhost", "/x")
	assert.Error(t, err)
}

func TestRouteOf(t *testing.T) {
	assert.Equal(t, "/tickets", RouteOf("http://localhost:5173", "http://localhost:5173/tickets?x=1#top"))
	assert.Equal(t, "/tickets", RouteOf("https://desk.acme.com/app/", "https://desk.acme.com/app/tickets"))
	assert.Equal(t, "/", RouteOf("http://localhost:5173", "http://localhost:5173"))
}

func TestLaunch_RequiresBaseURL(t *testing.T) {
	_, err := Launch(context.Background(), Config{})
	assert.Error(t, err)
}
