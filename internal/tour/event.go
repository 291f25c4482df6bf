package tour

import "assetdesk/backend/pkg/models"

// Event is an input to the state machine.
type Event interface {
	isEvent()
}

// AuthState is the auth/role provider's view of the session.
type AuthState struct {
	Authenticated bool
	UserID        string
	// Role is empty while unknown; unsupported values mean "no tour".
	Role        models.Role
	RoleLoading bool
}

// AuthChanged reports a new auth/role snapshot.
type AuthChanged struct {
	Auth AuthState
}

// RouteChanged reports the route the app is now displaying.
type RouteChanged struct {
	Route string
}

// AutoStartChecked carries the progress store's verdict for a guard key.
type AutoStartChecked struct {
	GuardKey string
	Role     models.Role
	Allowed  bool
}

// TargetResolved carries the outcome of a target wait.
type TargetResolved struct {
	Index int
	Epoch uint64
	Found bool
}

// Action is the user action a step-renderer callback reports.
type Action string

const (
	ActionNext     Action = "next"
	ActionPrev     Action = "prev"
	ActionClose    Action = "close"
	ActionSkip     Action = "skip"
	ActionFinished Action = "finished"
	// ActionTargetNotFound is the renderer's own missing-anchor signal; it
	// advances like ActionNext.
	ActionTargetNotFound Action = "target_not_found"
)

// ParseAction maps renderer vocabulary onto Action.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionNext, ActionPrev, ActionClose, ActionSkip, ActionFinished, ActionTargetNotFound:
		return Action(s), true
	case "previous", "back":
		return ActionPrev, true
	case "finish", "last":
		return ActionFinished, true
	case "escape", "dismiss":
		return ActionClose, true
	case "error:target_not_found":
		return ActionTargetNotFound, true
	}
	return "", false
}

// RendererStatus is the renderer's overall tour status, when it reports one.
type RendererStatus string

const (
	StatusNone     RendererStatus = ""
	StatusFinished RendererStatus = "finished"
	StatusSkipped  RendererStatus = "skipped"
)

// StepAdvanced is a step-renderer callback for the step at Index.
type StepAdvanced struct {
	Index  int
	Action Action
	Status RendererStatus
}

// StartRequested is an explicit startTour. An empty Role uses the active
// role.
type StartRequested struct {
	Role models.Role
}

// StopRequested resets the session without persisting an outcome.
type StopRequested struct{}

func (AuthChanged) isEvent()      {}
func (RouteChanged) isEvent()     {}
func (AutoStartChecked) isEvent() {}
func (TargetResolved) isEvent()   {}
func (StepAdvanced) isEvent()     {}
func (StartRequested) isEvent()   {}
func (StopRequested) isEvent()    {}
