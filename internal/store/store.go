package store

import (
	"context"

	"github.com/rendis/skillrun/pkg/schema"
)

// Store defines the persistence layer contract for execution records and
// the append-only event log. All implementations must be safe for
// concurrent use.
type Store interface {
	// Execution records
	CreateExecution(ctx context.Context, rec *schema.SkillExecutionRecord) error
	UpdateExecution(ctx context.Context, rec *schema.SkillExecutionRecord) error
	GetExecution(ctx context.Context, executionID string) (*schema.SkillExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.SkillExecutionRecord, error)

	// PruneExecutions keeps the most recent `keep` records per skill and
	// deletes the rest (events included). Returns the number of deleted
	// records.
	PruneExecutions(ctx context.Context, keep int) (int, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
