package tour

import "assetdesk/backend/pkg/models"

// Phase is the controller's position in the tour lifecycle.
type Phase string

const (
	// PhaseIdle means no script is active.
	PhaseIdle Phase = "idle"
	// PhaseAwaitingRoute means a step is requested but the app is not yet
	// showing its route.
	PhaseAwaitingRoute Phase = "awaiting_route"
	// PhaseResolvingTarget means the route matches and the anchor wait is in
	// flight.
	PhaseResolvingTarget Phase = "resolving_target"
	// PhaseRunning means a step is presented to the user.
	PhaseRunning Phase = "running"
)

// Outcome records how the last tour stopped.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeDismissed Outcome = "dismissed"
	// OutcomeReset is a stop that persists nothing (manual restart, logout,
	// role change).
	OutcomeReset Outcome = "reset"
)

// ResolvedStep is a script step as presented in this session. When the
// anchor was not found the target is replaced by the whole viewport.
type ResolvedStep struct {
	models.TourStep
	TargetFound bool `json:"targetFound"`
}

// State is the transient session state of one controller. Values are
// immutable once published: transitions replace Steps instead of editing it.
type State struct {
	Phase Phase `json:"phase"`
	// ActiveRole is the role whose script runs or last ran. It differs from
	// AuthRole only after an explicit start with a role override.
	ActiveRole     models.Role    `json:"activeRole,omitempty"`
	AuthRole       models.Role    `json:"role,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	Authenticated  bool           `json:"authenticated"`
	Running        bool           `json:"isRunning"`
	CanAutoStart   bool           `json:"canAutoStart"`
	CurrentIndex   int            `json:"currentStepIndex"`
	RequestedIndex int            `json:"requestedStepIndex"`
	Steps          []ResolvedStep `json:"steps"`
	CurrentRoute   string         `json:"currentRoute"`
	// Script is the authored copy of the active script. Steps starts as a
	// mirror of it and is rewritten as targets resolve.
	Script []models.TourStep `json:"-"`
	// GuardKey is the (user, role) pair whose auto-start was already
	// evaluated in this authenticated session.
	GuardKey string `json:"-"`
	// Epoch increases whenever a resolution is issued or the session resets.
	// Wait results carrying an older epoch are discarded.
	Epoch       uint64  `json:"epoch"`
	LastOutcome Outcome `json:"lastOutcome,omitempty"`
	// RouteRetries counts navigations re-requested for the requested step
	// after the app reported some other route.
	RouteRetries int `json:"-"`
}

// NewState returns the initial Idle state.
func NewState() State {
	return State{
		Phase:          PhaseIdle,
		CurrentIndex:   -1,
		RequestedIndex: -1,
	}
}

// CurrentStep returns the presented step, if any.
func (s State) CurrentStep() (ResolvedStep, bool) {
	if !s.Running || s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Steps) {
		return ResolvedStep{}, false
	}
	return s.Steps[s.CurrentIndex], true
}

// Active reports whether a script is loaded.
func (s State) Active() bool {
	return len(s.Script) > 0
}

// Clone returns a copy of s that shares no slices with it.
func (s State) Clone() State {
	out := s
	if s.Steps != nil {
		out.Steps = make([]ResolvedStep, len(s.Steps))
		copy(out.Steps, s.Steps)
	}
	if s.Script != nil {
		out.Script = make([]models.TourStep, len(s.Script))
		copy(out.Script, s.Script)
	}
	return out
}

func guardKey(userID string, role models.Role) string {
	return userID + "\x00" + string(role)
}
