package tour

import "assetdesk/backend/pkg/models"

// Effect is a side effect requested by a transition. The controller runs
// them; the machine itself performs no I/O.
type Effect interface {
	isEffect()
}

// Navigate asks the router to display Route.
type Navigate struct {
	Route string
}

// CheckAutoStart asks the progress store whether Role may auto-start. The
// answer comes back as AutoStartChecked with the same GuardKey.
type CheckAutoStart struct {
	GuardKey string
	Role     models.Role
}

// WaitForTarget starts a bounded anchor wait for step Index. The result
// comes back as TargetResolved tagged with Epoch.
type WaitForTarget struct {
	Index  int
	Target string
	Epoch  uint64
}

// Persist records a terminal outcome for Role.
type Persist struct {
	Role    models.Role
	Outcome Outcome
}

// StepPresented reports that a step entered Running.
type StepPresented struct {
	Role        models.Role
	Index       int
	StepID      string
	TargetFound bool
}

func (Navigate) isEffect()       {}
func (CheckAutoStart) isEffect() {}
func (WaitForTarget) isEffect()  {}
func (Persist) isEffect()        {}
func (StepPresented) isEffect()  {}
