package workflow

import (
	"context"
	"time"

	"github.com/rynzz22/digital.talibon/model"
)

// Clock supplies audit timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// TransitionEvent describes a committed change to a record. Intake events
// carry an empty Action and FromStage.
type TransitionEvent struct {
	Kind       model.Kind          `json:"kind"`
	RecordID   string              `json:"record_id"`
	Action     model.ActionName    `json:"action,omitempty"`
	Audit      model.AuditAction   `json:"audit_action"`
	FromStage  model.Stage         `json:"from_stage,omitempty"`
	ToStage    model.Stage         `json:"to_stage"`
	Custodian  model.Custodian     `json:"custodian"`
	Actor      model.ActorSnapshot `json:"actor"`
	Version    int                 `json:"version"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Publisher receives committed transitions. Publish failures never undo or
// fail a transition.
type Publisher interface {
	Publish(ctx context.Context, ev TransitionEvent) error
}

// Recorder receives transition metrics.
type Recorder interface {
	RecordTransition(kind, action, outcome string, duration time.Duration)
	RecordIntake(kind, outcome string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, TransitionEvent) error { return nil }

type nopRecorder struct{}

func (nopRecorder) RecordTransition(string, string, string, time.Duration) {}
func (nopRecorder) RecordIntake(string, string)                           {}
