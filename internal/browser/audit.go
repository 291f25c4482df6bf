package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"assetdesk/backend/internal/resolver"
	"assetdesk/backend/internal/tour"
	"assetdesk/backend/pkg/models"
)

// Surface is what an audit drives: something that answers anchor queries,
// loads routes and reports the routes it loaded. *Page is the real one.
type Surface interface {
	resolver.DOM
	tour.Router
	OnRoute(fn func(route string))
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// AuditConfig tunes a single role audit.
type AuditConfig struct {
	LoginRoute    string
	PollInterval  time.Duration
	TargetTimeout time.Duration
	// StepTimeout bounds how long the audit waits for one step to be
	// presented, navigation included.
	StepTimeout time.Duration
}

// StepResult is how one step was presented.
type StepResult struct {
	Index       int    `json:"index"`
	StepID      string `json:"stepId"`
	Route       string `json:"route"`
	Target      string `json:"target"`
	TargetFound bool   `json:"targetFound"`
}

// Report is the outcome of auditing one role's tour.
type Report struct {
	Role    models.Role  `json:"role"`
	Steps   []StepResult `json:"steps"`
	Outcome tour.Outcome `json:"outcome"`
}

// Fallbacks returns the number of steps whose anchor was not found.
func (r Report) Fallbacks() int {
	n := 0
	for _, s := range r.Steps {
		if !s.TargetFound {
			n++
		}
	}
	return n
}

// ErrStepTimeout is returned when a step is never presented.
var ErrStepTimeout = errors.New("browser: step was not presented in time")

// auditProgress never allows auto-start, so only the audit's explicit start
// runs, and it discards outcomes.
type auditProgress struct{}

func (auditProgress) CanAutoStart(context.Context, models.Role) bool   { return false }
func (auditProgress) MarkCompleted(context.Context, models.Role) error { return nil }
func (auditProgress) MarkDismissed(context.Context, models.Role) error { return nil }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Audit walks role's tour on surface, pressing next on every step, and
// reports which anchors resolved. The surface's route reports are wired into
// the controller for the duration of the audit.
func Audit(ctx context.Context, surface Surface, catalog tour.Catalog, role models.Role, cfg AuditConfig, logger Logger) (Report, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	report := Report{Role: role}
	if len(catalog.Steps(role)) == 0 {
		return report, fmt.Errorf("no tour steps for role %q", role)
	}

	ctrl, err := tour.New(tour.Dependencies{
		Catalog:  catalog,
		Progress: auditProgress{},
		Waiter:   resolver.New(surface, cfg.PollInterval),
		Router:   surface,
	}, tour.Config{
		LoginRoute:        cfg.LoginRoute,
		StepTargetTimeout: cfg.TargetTimeout,
	}, tour.WithLogger(logger))
	if err != nil {
		return report, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-ctrl.Done()
	}()
	go func() { _ = ctrl.Run(runCtx) }()

	surface.OnRoute(func(route string) {
		if err := ctrl.NotifyRoute(route); err != nil && !errors.Is(err, tour.ErrClosed) {
			logger.Warn("failed to report route", "route", route, "error", err)
		}
	})
	defer surface.OnRoute(nil)

	states, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	if err := ctrl.NotifyAuth(tour.AuthState{Authenticated: true, UserID: "tourcheck", Role: role}); err != nil {
		return report, err
	}
	if err := ctrl.StartTour(role); err != nil {
		return report, err
	}

	stepTimer := time.NewTimer(cfg.StepTimeout)
	defer stepTimer.Stop()
	started := false
	for {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-stepTimer.C:
			return report, fmt.Errorf("%w: role %s after %d steps", ErrStepTimeout, role, len(report.Steps))
		case st, ok := <-states:
			if !ok {
				return report, tour.ErrClosed
			}
			if st.Active() {
				started = true
			}
			if started && !st.Active() && st.LastOutcome != tour.OutcomeNone {
				report.Outcome = st.LastOutcome
				return report, nil
			}
			step, ok := st.CurrentStep()
			if !ok || st.CurrentIndex < len(report.Steps) {
				continue
			}
			report.Steps = append(report.Steps, StepResult{
				Index:       st.CurrentIndex,
				StepID:      step.ID,
				Route:       step.Route,
				Target:      st.Script[st.CurrentIndex].Target,
				TargetFound: step.TargetFound,
			})
			logger.Debug("tour step presented", "role", role, "step", step.ID, "target_found", step.TargetFound)
			stepTimer.Reset(cfg.StepTimeout)
			if err := ctrl.Advance(st.CurrentIndex, tour.ActionNext, tour.StatusNone); err != nil {
				return report, err
			}
		}
	}
}
