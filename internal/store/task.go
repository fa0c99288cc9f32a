package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mediafetch/fetch-api/internal/domain"
)

// TaskStore defines the interface for task persistence and the task state
// machine. All mutations are single-record read-modify-write operations that
// implementations must make atomic (a transaction or equivalent).
type TaskStore interface {
	// Create persists a new task. The task must be valid per domain rules.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateStatus is the single task mutator. It sets the status and,
	// when a result payload is given, replaces the result. UpdatedAt is
	// stamped on every call; CompletedAt is stamped exactly when the new
	// status is terminal. Returns ErrTaskNotFound if the task is gone and
	// domain.ErrInvalidTransition if the task already reached a terminal
	// status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, result domain.Payload) error

	// ClaimWaiting atomically fetches up to limit WAITING tasks, oldest
	// first (ties broken by ID), and marks them PROCESSING in the same
	// operation so no task can ever be handed to two workers. The returned
	// tasks already carry the PROCESSING status.
	ClaimWaiting(ctx context.Context, limit int) ([]*domain.Task, error)

	// ListByStatus retrieves tasks with the given status ordered by
	// creation time ascending. A limit of zero or less means no limit.
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.Task, error)

	// ListTerminalBefore retrieves COMPLETED and ERROR tasks whose
	// CompletedAt is strictly before the cutoff.
	ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*domain.Task, error)

	// CountByOwnerSince counts tasks created by the given key at or after
	// the window start, regardless of status. Used for submission rate
	// limiting.
	CountByOwnerSince(ctx context.Context, ownerKeyName string, since time.Time) (int, error)

	// ListIDs returns the IDs of every stored task. Used by the orphaned
	// artifact sweep.
	ListIDs(ctx context.Context) ([]uuid.UUID, error)

	// Delete removes a task record. Returns ErrTaskNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a TaskStore bound to the given transaction so several
	// operations can commit or roll back together.
	WithTx(tx *sql.Tx) TaskStore
}
