package domain

import (
	"fmt"
	"time"
)

// Key-management permission tokens. Job kinds double as their own submission
// permissions (see TaskType.Permission).
const (
	PermCreateKey = "create_key"
	PermDeleteKey = "delete_key"
	PermGetKey    = "get_key"
	PermListKeys  = "get_keys"
)

// AllPermissions returns the fixed registry-wide permission set: one token
// per job kind plus the key-management tokens.
func AllPermissions() []string {
	perms := make([]string, 0, len(TaskTypes())+4)
	for _, t := range TaskTypes() {
		perms = append(perms, t.Permission())
	}
	return append(perms, PermCreateKey, PermDeleteKey, PermGetKey, PermListKeys)
}

// ValidPermission reports whether p belongs to the fixed permission set.
func ValidPermission(p string) bool {
	for _, known := range AllPermissions() {
		if p == known {
			return true
		}
	}
	return false
}

// ApiKey identifies a client of the service. Name is the stable identity;
// Secret is the opaque capability token presented on each request. A quota of
// zero or less means the key's memory usage is unlimited (the server-wide
// ceiling still applies). Inactive keys are rejected at authentication but
// retain their tasks and history.
type ApiKey struct {
	Name             string     `json:"name"`
	Secret           string     `json:"-"`
	Permissions      []string   `json:"permissions"`
	MemoryQuotaBytes int64      `json:"memory_quota_bytes"`
	Active           bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
}

// NewApiKey creates an active key with the given identity, secret, and
// permission set. Unknown permission tokens are rejected.
func NewApiKey(name, secret string, permissions []string, memoryQuotaBytes int64) (*ApiKey, error) {
	key := &ApiKey{
		Name:             name,
		Secret:           secret,
		Permissions:      permissions,
		MemoryQuotaBytes: memoryQuotaBytes,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}

	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}

// Validate checks the key's structural invariants.
func (k *ApiKey) Validate() error {
	if k.Name == "" {
		return ErrEmptyKeyName
	}
	if k.Secret == "" {
		return ErrEmptySecret
	}
	for _, p := range k.Permissions {
		if !ValidPermission(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPermission, p)
		}
	}
	return nil
}

// HasPermission reports whether the key holds the given permission token.
func (k *ApiKey) HasPermission(p string) bool {
	for _, held := range k.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

// QuotaLimited reports whether the key is subject to a per-key memory quota.
func (k *ApiKey) QuotaLimited() bool {
	return k.MemoryQuotaBytes > 0
}
