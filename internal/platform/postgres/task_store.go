package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mediafetch/fetch-api/internal/domain"
	"github.com/mediafetch/fetch-api/internal/platform/logger"
	"github.com/mediafetch/fetch-api/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the
// TaskStore interface. The connection (or transaction) is managed by the
// caller. If logger is nil, the process default is used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore.
var _ store.TaskStore = (*PostgresTaskStore)(nil)

const taskColumns = "id, task_type, status, params, result, owner_key_name, created_at, updated_at, completed_at"

// Create implements store.TaskStore.Create.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return err
	}

	params, err := marshalPayload(task.Params)
	if err != nil {
		return fmt.Errorf("failed to encode task params: %w", err)
	}
	result, err := marshalPayload(task.Result)
	if err != nil {
		return fmt.Errorf("failed to encode task result: %w", err)
	}

	query := `
		INSERT INTO tasks (id, task_type, status, params, result, owner_key_name, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		task.Status,
		params,
		result,
		task.OwnerKeyName,
		task.CreatedAt,
		task.UpdatedAt,
		task.CompletedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", string(task.Type)),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	return nil
}

// GetByID implements store.TaskStore.GetByID.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}
	return task, nil
}

// UpdateStatus implements store.TaskStore.UpdateStatus. The update is guarded
// so a terminal task is never transitioned again; CompletedAt keeps its first
// terminal stamp.
func (s *PostgresTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	result domain.Payload,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTaskStatus, status)
	}

	encoded, err := marshalPayload(result)
	if err != nil {
		return fmt.Errorf("failed to encode task result: %w", err)
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &now
	}

	query := `
		UPDATE tasks
		SET status = $1,
		    result = COALESCE($2, result),
		    updated_at = $3,
		    completed_at = COALESCE(completed_at, $4)
		WHERE id = $5 AND status NOT IN ($6, $7)
	`
	res, err := s.db.ExecContext(ctx, query,
		status,
		encoded,
		now,
		completedAt,
		id,
		domain.TaskStatusCompleted,
		domain.TaskStatusError,
	)
	if err != nil {
		log.Error("failed to update task status",
			slog.String("task_id", id.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	if err := CheckRowsAffected(res, store.ErrTaskNotFound); err != nil {
		// Either the task is gone or it already reached a terminal state.
		var current domain.TaskStatus
		probeErr := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, id).
			Scan(&current)
		if probeErr != nil {
			return store.ErrTaskNotFound
		}
		log.Warn("refusing status change on terminal task",
			slog.String("task_id", id.String()),
			slog.String("current_status", string(current)),
			slog.String("requested_status", string(status)))
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, status)
	}

	return nil
}

// ClaimWaiting implements store.TaskStore.ClaimWaiting. The mark-PROCESSING
// write happens in the same statement as the fetch, with SKIP LOCKED guarding
// against a concurrent claimer, so a task can never be dispatched twice.
func (s *PostgresTaskStore) ClaimWaiting(ctx context.Context, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE tasks
		SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = $3
			ORDER BY created_at ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns + `
	`
	rows, err := s.db.QueryContext(ctx, query,
		domain.TaskStatusProcessing,
		time.Now().UTC(),
		domain.TaskStatusWaiting,
		limit,
	)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// ListByStatus implements store.TaskStore.ListByStatus.
func (s *PostgresTaskStore) ListByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	limit int,
) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
	`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// ListTerminalBefore implements store.TaskStore.ListTerminalBefore.
func (s *PostgresTaskStore) ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN ($1, $2) AND completed_at < $3
		ORDER BY completed_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query,
		domain.TaskStatusCompleted,
		domain.TaskStatusError,
		cutoff,
	)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// CountByOwnerSince implements store.TaskStore.CountByOwnerSince.
func (s *PostgresTaskStore) CountByOwnerSince(
	ctx context.Context,
	ownerKeyName string,
	since time.Time,
) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE owner_key_name = $1 AND created_at >= $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, ownerKeyName, since).Scan(&count); err != nil {
		return 0, MapError(err)
	}
	return count, nil
}

// ListIDs implements store.TaskStore.ListIDs.
func (s *PostgresTaskStore) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return ids, nil
}

// Delete implements store.TaskStore.Delete.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrTaskNotFound)
}

// WithTx implements store.TaskStore.WithTx.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx, logger: s.logger}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task        domain.Task
		params      []byte
		result      []byte
		completedAt sql.NullTime
	)
	err := row.Scan(
		&task.ID,
		&task.Type,
		&task.Status,
		&params,
		&result,
		&task.OwnerKeyName,
		&task.CreatedAt,
		&task.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &task.Params); err != nil {
			return nil, fmt.Errorf("failed to decode task params: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &task.Result); err != nil {
			return nil, fmt.Errorf("failed to decode task result: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return tasks, nil
}

// marshalPayload encodes a payload as JSONB input, mapping an empty payload
// to NULL so COALESCE-style updates leave existing values untouched.
func marshalPayload(p domain.Payload) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return json.Marshal(p)
}
