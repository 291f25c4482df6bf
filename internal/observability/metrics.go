package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"assetdesk/backend/internal/tour"
	"assetdesk/backend/pkg/models"
)

// MeterName scopes the tour instruments.
const MeterName = "assetdesk/backend/tour"

// TourMetrics counts presented steps and finished tours. It is a
// tour.Observer shared by every session.
type TourMetrics struct {
	steps     metric.Int64Counter
	fallbacks metric.Int64Counter
	outcomes  metric.Int64Counter
}

// NewTourMetrics registers the tour instruments on provider.
func NewTourMetrics(provider metric.MeterProvider) (*TourMetrics, error) {
	meter := provider.Meter(MeterName)
	steps, err := meter.Int64Counter("tour.steps.presented",
		metric.WithDescription("Tour steps shown to users"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create steps counter: %w", err)
	}
	fallbacks, err := meter.Int64Counter("tour.steps.fallback",
		metric.WithDescription("Steps shown over the whole viewport because their anchor never appeared"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback counter: %w", err)
	}
	outcomes, err := meter.Int64Counter("tour.outcomes",
		metric.WithDescription("Tours that ended completed or dismissed"),
		metric.WithUnit("{tour}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create outcomes counter: %w", err)
	}
	return &TourMetrics{steps: steps, fallbacks: fallbacks, outcomes: outcomes}, nil
}

// StepPresented implements tour.Observer.
func (m *TourMetrics) StepPresented(ctx context.Context, e tour.StepPresented) {
	attrs := metric.WithAttributes(
		attribute.String("role", string(e.Role)),
		attribute.String("step", e.StepID),
	)
	m.steps.Add(ctx, 1, attrs)
	if !e.TargetFound {
		m.fallbacks.Add(ctx, 1, attrs)
	}
}

// TourEnded implements tour.Observer.
func (m *TourMetrics) TourEnded(ctx context.Context, role models.Role, outcome tour.Outcome) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", string(role)),
		attribute.String("outcome", string(outcome)),
	))
}

var _ tour.Observer = (*TourMetrics)(nil)
