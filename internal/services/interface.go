// Package services hosts tour controllers for browser sessions. The browser
// reports routes, rendered anchors and renderer callbacks; each session's
// controller answers with state snapshots and navigation requests.
package services

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned for unknown, expired or foreign sessions.
	ErrSessionNotFound = errors.New("tour session not found")
	// ErrRoleOverride is returned when a non-admin starts another role's tour.
	ErrRoleOverride = errors.New("starting another role's tour requires the admin role")
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config tunes the sessions created by a TourService.
type Config struct {
	LoginRoute    string
	PollInterval  time.Duration
	TargetTimeout time.Duration
	// SessionTTL closes sessions that saw no request for this long.
	SessionTTL time.Duration
}
