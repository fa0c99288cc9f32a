package domain

import (
	"time"

	"github.com/google/uuid"
)

// UsageEntry records the measured resource consumption of one completed task.
// Entries are append-only: they are created once when a task completes with a
// positive measured size, never updated, and only removed wholesale by
// compaction or key deletion. Window queries simply ignore entries older than
// the active window.
type UsageEntry struct {
	OwnerKeyName string    `json:"owner_key_name"`
	TaskID       uuid.UUID `json:"task_id"`
	SizeBytes    int64     `json:"size_bytes"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewUsageEntry creates a usage entry stamped with the given time.
// Zero-size consumption is never recorded, so non-positive sizes are invalid.
func NewUsageEntry(ownerKeyName string, taskID uuid.UUID, sizeBytes int64, at time.Time) (*UsageEntry, error) {
	entry := &UsageEntry{
		OwnerKeyName: ownerKeyName,
		TaskID:       taskID,
		SizeBytes:    sizeBytes,
		Timestamp:    at.UTC(),
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Validate checks the entry's structural invariants.
func (e *UsageEntry) Validate() error {
	if e.OwnerKeyName == "" {
		return ErrEmptyOwner
	}
	if e.SizeBytes <= 0 {
		return ErrNonPositiveSize
	}
	return nil
}
