package tour

import (
	"strings"

	"assetdesk/backend/pkg/models"
)

// MaxRouteRetries bounds how often one step's navigation is re-requested when
// the app keeps reporting another route, e.g. because it redirects.
const MaxRouteRetries = 3

// Catalog supplies role scripts. Implementations must return a fresh copy.
type Catalog interface {
	Steps(role models.Role) []models.TourStep
}

// Machine is the tour state machine. Transition is pure: it consumes one
// event and returns the next state plus the effects the caller must run.
type Machine struct {
	catalog    Catalog
	loginRoute string
}

// NewMachine creates a Machine. Auto-start is never evaluated while the
// current route equals loginRoute.
func NewMachine(catalog Catalog, loginRoute string) *Machine {
	return &Machine{catalog: catalog, loginRoute: loginRoute}
}

// Transition applies ev to s.
func (m *Machine) Transition(s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case AuthChanged:
		return m.onAuth(s, ev.Auth)
	case RouteChanged:
		return m.onRoute(s, ev.Route)
	case AutoStartChecked:
		return m.onAutoStartChecked(s, ev)
	case TargetResolved:
		return m.onTargetResolved(s, ev)
	case StepAdvanced:
		return m.onStepAdvanced(s, ev)
	case StartRequested:
		return m.onStart(s, ev.Role)
	case StopRequested:
		if s.Active() {
			return stop(s, OutcomeReset)
		}
	}
	return s, nil
}

func (m *Machine) onAuth(s State, a AuthState) (State, []Effect) {
	var effects []Effect
	if !a.Authenticated || (s.UserID != "" && s.UserID != a.UserID) {
		// Logout or a different user: nothing of this session carries over.
		if s.Active() {
			s, effects = stop(s, OutcomeReset)
		}
		s.Authenticated = false
		s.UserID = ""
		s.AuthRole = ""
		s.ActiveRole = ""
		s.GuardKey = ""
		s.CanAutoStart = false
		if !a.Authenticated {
			return s, effects
		}
	}

	s.Authenticated = true
	s.UserID = a.UserID
	if a.RoleLoading {
		return s, effects
	}
	if !a.Role.Supported() {
		if s.Active() {
			s, effects = stop(s, OutcomeReset)
		}
		s.AuthRole = ""
		s.CanAutoStart = false
		return s, effects
	}
	if s.AuthRole != a.Role {
		if s.Active() {
			s, effects = stop(s, OutcomeReset)
		}
		s.AuthRole = a.Role
		s.ActiveRole = a.Role
		s.CanAutoStart = false
	}
	if s.ActiveRole == "" {
		s.ActiveRole = a.Role
	}
	s, more := m.evaluateAutoStart(s)
	return s, append(effects, more...)
}

// evaluateAutoStart issues at most one progress check per guard key.
func (m *Machine) evaluateAutoStart(s State) (State, []Effect) {
	if !s.Authenticated || s.UserID == "" || !s.AuthRole.Supported() {
		return s, nil
	}
	if m.loginRoute != "" && sameRoute(s.CurrentRoute, m.loginRoute) {
		return s, nil
	}
	key := guardKey(s.UserID, s.AuthRole)
	if key == s.GuardKey {
		return s, nil
	}
	s.GuardKey = key
	return s, []Effect{CheckAutoStart{GuardKey: key, Role: s.AuthRole}}
}

func (m *Machine) onAutoStartChecked(s State, ev AutoStartChecked) (State, []Effect) {
	if ev.GuardKey != s.GuardKey {
		return s, nil
	}
	s.CanAutoStart = ev.Allowed
	if !ev.Allowed || s.Active() {
		return s, nil
	}
	return m.initialize(s, ev.Role, false)
}

func (m *Machine) onRoute(s State, route string) (State, []Effect) {
	s.CurrentRoute = route
	var effects []Effect
	if s.Active() && s.RequestedIndex >= 0 && s.RequestedIndex < len(s.Script) {
		want := s.Script[s.RequestedIndex].Route
		switch s.Phase {
		case PhaseAwaitingRoute:
			// A match starts the anchor wait; anything else means the
			// navigation was lost or overtaken, so it is requested again.
			// The login page holds the tour until the app leaves it.
			switch {
			case sameRoute(route, want):
				s, effects = m.resolve(s)
			case m.loginRoute != "" && sameRoute(route, m.loginRoute):
			case s.RouteRetries < MaxRouteRetries:
				s.RouteRetries++
				s, effects = m.resolve(s)
			}
		case PhaseResolvingTarget, PhaseRunning:
			// The user left the step's page; bring them back.
			if !sameRoute(route, want) {
				s, effects = m.resolve(s)
			}
		}
	}
	s, more := m.evaluateAutoStart(s)
	return s, append(effects, more...)
}

func (m *Machine) onStart(s State, role models.Role) (State, []Effect) {
	if role == "" {
		role = s.ActiveRole
	}
	if role == "" {
		role = s.AuthRole
	}
	var effects []Effect
	if s.Active() {
		s, effects = stop(s, OutcomeReset)
	}
	s, more := m.initialize(s, role, true)
	return s, append(effects, more...)
}

// initialize loads role's script and begins resolving step 0. force bypasses
// the completed/dismissed guard; callers pass false only after the progress
// store allowed auto-start.
func (m *Machine) initialize(s State, role models.Role, force bool) (State, []Effect) {
	if !role.Supported() {
		return s, nil
	}
	if !force && !s.CanAutoStart {
		return s, nil
	}
	script := m.catalog.Steps(role)
	if len(script) == 0 {
		return s, nil
	}
	steps := make([]ResolvedStep, len(script))
	for i, step := range script {
		steps[i] = ResolvedStep{TourStep: step}
	}
	s.ActiveRole = role
	s.Script = script
	s.Steps = steps
	s.RequestedIndex = 0
	s.CurrentIndex = -1
	s.Running = false
	s.LastOutcome = OutcomeNone
	s.RouteRetries = 0
	return m.resolve(s)
}

// resolve moves toward presenting the requested step: navigate when the
// route differs, otherwise wait for the target. Either way a new epoch
// invalidates any wait still in flight.
func (m *Machine) resolve(s State) (State, []Effect) {
	idx := s.RequestedIndex
	if idx < 0 || idx >= len(s.Script) {
		return s, nil
	}
	step := s.Script[idx]
	s.Epoch++
	s.Running = false
	if !sameRoute(step.Route, s.CurrentRoute) {
		s.Phase = PhaseAwaitingRoute
		return s, []Effect{Navigate{Route: step.Route}}
	}
	s.Phase = PhaseResolvingTarget
	return s, []Effect{WaitForTarget{Index: idx, Target: step.Target, Epoch: s.Epoch}}
}

func (m *Machine) onTargetResolved(s State, ev TargetResolved) (State, []Effect) {
	if s.Phase != PhaseResolvingTarget || ev.Epoch != s.Epoch || ev.Index != s.RequestedIndex {
		return s, nil
	}
	if ev.Index < 0 || ev.Index >= len(s.Script) {
		return s, nil
	}
	resolved := ResolvedStep{TourStep: s.Script[ev.Index], TargetFound: ev.Found}
	if !ev.Found {
		resolved.Target = models.WholeViewport
		resolved.Placement = models.PlacementCenter
	}
	steps := make([]ResolvedStep, len(s.Steps))
	copy(steps, s.Steps)
	steps[ev.Index] = resolved
	s.Steps = steps
	s.CurrentIndex = ev.Index
	s.Running = true
	s.Phase = PhaseRunning
	s.RouteRetries = 0
	return s, []Effect{StepPresented{
		Role:        s.ActiveRole,
		Index:       ev.Index,
		StepID:      resolved.ID,
		TargetFound: ev.Found,
	}}
}

func (m *Machine) onStepAdvanced(s State, ev StepAdvanced) (State, []Effect) {
	if !s.Active() || ev.Index < 0 || ev.Index >= len(s.Script) {
		return s, nil
	}
	switch {
	case ev.Status == StatusFinished || ev.Action == ActionFinished:
		return stop(s, OutcomeCompleted)
	case ev.Status == StatusSkipped || ev.Action == ActionClose || ev.Action == ActionSkip:
		return stop(s, OutcomeDismissed)
	}

	delta := 1
	switch ev.Action {
	case ActionPrev:
		delta = -1
	case ActionNext, ActionTargetNotFound:
	default:
		return s, nil
	}
	// Only the presented step can be advanced; duplicates are dropped.
	if s.Phase != PhaseRunning || ev.Index != s.CurrentIndex {
		return s, nil
	}
	next := ev.Index + delta
	if next < 0 {
		return s, nil
	}
	if next >= len(s.Script) {
		return stop(s, OutcomeCompleted)
	}
	s.RequestedIndex = next
	s.Running = false
	s.RouteRetries = 0
	return m.resolve(s)
}

// stop ends the tour, persisting terminal outcomes, and returns to Idle.
func stop(s State, outcome Outcome) (State, []Effect) {
	var effects []Effect
	if outcome == OutcomeCompleted || outcome == OutcomeDismissed {
		effects = append(effects, Persist{Role: s.ActiveRole, Outcome: outcome})
		s.CanAutoStart = false
	}
	s.Phase = PhaseIdle
	s.Running = false
	s.Script = nil
	s.Steps = nil
	s.CurrentIndex = -1
	s.RequestedIndex = -1
	s.RouteRetries = 0
	s.Epoch++
	s.LastOutcome = outcome
	return s, effects
}

// sameRoute compares paths ignoring query, fragment and a trailing slash.
func sameRoute(a, b string) bool {
	return normalizeRoute(a) == normalizeRoute(b)
}

func normalizeRoute(r string) string {
	if i := strings.IndexAny(r, "?#"); i >= 0 {
		r = r[:i]
	}
	if len(r) > 1 {
		r = strings.TrimRight(r, "/")
	}
	return r
}
