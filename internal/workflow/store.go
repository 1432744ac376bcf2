package workflow

import (
	"context"
	"time"

	"github.com/rynzz22/digital.talibon/model"
)

// Repository persists records and their audit history. It is the only shared
// mutable resource of the workflow core.
type Repository interface {
	// Create inserts a new record together with its initial history.
	// Returns CONFLICT if a record with the same kind and ID exists.
	Create(ctx context.Context, rec model.Record) error

	// Get returns the record with its full history, or NOT_FOUND.
	Get(ctx context.Context, kind model.Kind, id string) (model.Record, error)

	// Commit atomically replaces the record's stage, custodian and
	// attributes, appends c.Entry to its history and increments its version.
	// Returns VERSION_CONFLICT when the stored version differs from
	// c.ExpectedVersion and NOT_FOUND when the record does not exist. Any
	// other error leaves the outcome unknown to the caller.
	Commit(ctx context.Context, c Commit) error

	// History returns the record's audit entries in insertion order.
	History(ctx context.Context, kind model.Kind, id string) ([]model.AuditEntry, error)

	// List returns records matching the filter ordered by creation time.
	// Listed records carry no history.
	List(ctx context.Context, filter Filter) ([]model.Record, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// Commit is a single atomic transition write.
type Commit struct {
	Kind            model.Kind
	ID              string
	ExpectedVersion int
	Stage           model.Stage
	Custodian       model.Custodian
	Attributes      map[string]any
	Entry           model.AuditEntry
	UpdatedAt       time.Time
}

// Filter narrows a List query.
type Filter struct {
	Kind       model.Kind
	Department model.Department
	// Stages, when non-empty, restricts results to records in these stages.
	Stages []model.Stage
	Limit  int
	Offset int
}

const defaultListLimit = 100
