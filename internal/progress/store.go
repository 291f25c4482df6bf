// Package progress persists which roles have completed or dismissed their
// onboarding tour.
//
// The record is schema-versioned. A missing, malformed or foreign-version
// record reads as empty and is replaced on the next write, so storage
// corruption degrades to "nothing completed" rather than an error.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assetdesk/backend/internal/repository"
	"assetdesk/backend/pkg/models"
)

// Key is the well-known key the record is stored under.
const Key = "ftux:progress"

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// Store reads and writes the progress record through a key-value surface.
type Store struct {
	kv     repository.KeyValueStore
	logger Logger
	now    func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects the clock used to stamp terminal outcomes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used to report degraded persistence.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store over kv.
func NewStore(kv repository.KeyValueStore, opts ...Option) *Store {
	s := &Store{kv: kv, logger: nopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read loads the record. It never fails: unavailable storage and unusable
// payloads yield an empty record of the current version.
func (s *Store) Read(ctx context.Context) models.Progress {
	p, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("progress storage unavailable, treating as empty", "error", err)
		return models.NewProgress()
	}
	return p
}

// load is Read that reports storage failures. Missing and unusable records
// still yield an empty record.
func (s *Store) load(ctx context.Context) (models.Progress, error) {
	if s.kv == nil {
		return models.NewProgress(), nil
	}
	raw, err := s.kv.Get(ctx, Key)
	if errors.Is(err, repository.ErrNotFound) {
		return models.NewProgress(), nil
	}
	if err != nil {
		return models.Progress{}, err
	}
	var p models.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Warn("discarding malformed progress record", "error", err)
		return models.NewProgress(), nil
	}
	if p.Version != models.ProgressVersion {
		s.logger.Warn("discarding progress record with unknown version", "version", p.Version)
		return models.NewProgress(), nil
	}
	if p.CompletedByRole == nil {
		p.CompletedByRole = map[models.Role]string{}
	}
	if p.DismissedByRole == nil {
		p.DismissedByRole = map[models.Role]string{}
	}
	return p, nil
}

// CanAutoStart reports whether role has neither completed nor dismissed its
// tour.
func (s *Store) CanAutoStart(ctx context.Context, role models.Role) bool {
	return !s.Read(ctx).Seen(role)
}

// MarkCompleted stamps the current time as role's completion.
func (s *Store) MarkCompleted(ctx context.Context, role models.Role) error {
	return s.update(ctx, func(p *models.Progress, ts string) {
		p.CompletedByRole[role] = ts
	})
}

// MarkDismissed stamps the current time as role's dismissal.
func (s *Store) MarkDismissed(ctx context.Context, role models.Role) error {
	return s.update(ctx, func(p *models.Progress, ts string) {
		p.DismissedByRole[role] = ts
	})
}

// Reset deletes the record so every role may auto-start again.
func (s *Store) Reset(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	if err := s.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	return nil
}

// update performs a read-modify-write; the last writer wins. A failed read
// aborts the write so other roles' stamps are never overwritten with an
// empty record.
func (s *Store) update(ctx context.Context, mutate func(*models.Progress, string)) error {
	if s.kv == nil {
		return errors.New("progress: no storage configured")
	}
	p, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read progress: %w", err)
	}
	mutate(&p, s.now().UTC().Format(time.RFC3339))
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := s.kv.Set(ctx, Key, string(data)); err != nil {
		return fmt.Errorf("failed to persist progress: %w", err)
	}
	return nil
}
