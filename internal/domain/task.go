package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

// Possible task status values. A task starts in WAITING, is moved to
// PROCESSING by the scheduler, and finishes in COMPLETED or ERROR. Terminal
// tasks are never transitioned again; they are eventually deleted by the
// reaper.
const (
	TaskStatusWaiting    TaskStatus = "waiting"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusWaiting, TaskStatusProcessing, TaskStatusCompleted, TaskStatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// TaskType identifies one of the fixed job kinds. The permission token
// required to submit a kind is the kind's own string value.
type TaskType string

const (
	TaskTypeGetVideo     TaskType = "get_video"
	TaskTypeGetAudio     TaskType = "get_audio"
	TaskTypeGetLiveVideo TaskType = "get_live_video"
	TaskTypeGetLiveAudio TaskType = "get_live_audio"
	TaskTypeGetInfo      TaskType = "get_info"
)

// TaskTypes lists every job kind, in a stable order.
func TaskTypes() []TaskType {
	return []TaskType{
		TaskTypeGetVideo,
		TaskTypeGetAudio,
		TaskTypeGetLiveVideo,
		TaskTypeGetLiveAudio,
		TaskTypeGetInfo,
	}
}

// ParseTaskType converts a string into a TaskType, or returns
// ErrInvalidTaskType for anything outside the closed enumeration.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(s)
	switch t {
	case TaskTypeGetVideo, TaskTypeGetAudio, TaskTypeGetLiveVideo, TaskTypeGetLiveAudio, TaskTypeGetInfo:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTaskType, s)
}

// ResourceConsuming reports whether tasks of this kind claim disk/memory
// quota. Metadata-only kinds bypass the admission gate entirely.
func (t TaskType) ResourceConsuming() bool {
	switch t {
	case TaskTypeGetVideo, TaskTypeGetAudio, TaskTypeGetLiveVideo, TaskTypeGetLiveAudio:
		return true
	}
	return false
}

// Probeable reports whether a size estimate can be obtained before running
// the task. Live captures have no meaningful pre-download size, so they are
// gated with an estimate of zero.
func (t TaskType) Probeable() bool {
	return t == TaskTypeGetVideo || t == TaskTypeGetAudio
}

// Live reports whether the kind captures a live stream window.
func (t TaskType) Live() bool {
	return t == TaskTypeGetLiveVideo || t == TaskTypeGetLiveAudio
}

// Permission returns the permission token a key must hold to submit tasks of
// this kind.
func (t TaskType) Permission() string {
	return string(t)
}

// Payload is an opaque key-value document. Task parameters are interpreted
// only by the executor; results are interpreted only by clients.
type Payload map[string]interface{}

// Well-known payload keys written by the scheduler.
const (
	ResultKeyFilePath  = "file_path"
	ResultKeySizeBytes = "size_bytes"
	ResultKeyError     = "error"
)

// Task is a single unit of asynchronous media work.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	Type         TaskType   `json:"task_type"`
	Status       TaskStatus `json:"status"`
	Params       Payload    `json:"params"`
	Result       Payload    `json:"result,omitempty"`
	OwnerKeyName string     `json:"owner_key_name"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a WAITING task for the given kind, owner, and parameters.
// The ID is generated server-side; clients never supply one.
func NewTask(taskType TaskType, params Payload, ownerKeyName string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:           uuid.New(),
		Type:         taskType,
		Status:       TaskStatusWaiting,
		Params:       params,
		OwnerKeyName: ownerKeyName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateParams(taskType, params); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks the task's structural invariants, including that
// CompletedAt is set exactly when the status is terminal.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: task ID cannot be empty", ErrValidation)
	}
	if _, err := ParseTaskType(string(t.Type)); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}
	if t.OwnerKeyName == "" {
		return ErrEmptyOwner
	}
	if t.Status.Terminal() != (t.CompletedAt != nil) {
		return fmt.Errorf("%w: completed_at must be set exactly for terminal statuses", ErrValidation)
	}
	return nil
}

// ValidateParams applies the per-kind parameter rules: every kind needs a
// source URL, and live captures need a positive duration.
func ValidateParams(taskType TaskType, params Payload) error {
	url, _ := params["url"].(string)
	if url == "" {
		return fmt.Errorf("%w: %s requires a url parameter", ErrValidation, taskType)
	}

	if taskType.Live() {
		duration, ok := numericParam(params, "duration")
		if !ok || duration <= 0 {
			return fmt.Errorf("%w: %s requires a positive duration", ErrValidation, taskType)
		}
		if start, ok := numericParam(params, "start"); ok && start < 0 {
			return fmt.Errorf("%w: %s start cannot be negative", ErrValidation, taskType)
		}
	}

	return nil
}

// numericParam reads a payload value as float64, tolerating the integer types
// that appear after a JSON round trip.
func numericParam(params Payload, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
