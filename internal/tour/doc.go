// Package tour implements the guided onboarding tour controller.
//
// Machine is a pure state machine: Transition consumes one Event and returns
// the next State plus a list of Effects (navigate, check auto-start, wait for
// a target, persist an outcome). Controller runs a Machine on one goroutine,
// executes the effects against its collaborators and feeds their results
// back as events.
//
// Every target wait is tagged with the state's Epoch when issued. Any later
// resolution, restart or stop bumps the epoch, so a wait that settles after
// being superseded is discarded instead of racing the newer request.
package tour
