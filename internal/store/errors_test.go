package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrorHierarchy(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ErrTaskNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrApiKeyNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrKeyNameExists, ErrDuplicate)

	assert.True(t, IsNotFoundError(ErrTaskNotFound))
	assert.True(t, IsNotFoundError(fmt.Errorf("lookup: %w", ErrApiKeyNotFound)))
	assert.False(t, IsNotFoundError(ErrKeyNameExists))

	assert.True(t, IsDuplicateError(ErrKeyNameExists))
	assert.False(t, IsDuplicateError(ErrTaskNotFound))
	assert.False(t, IsDuplicateError(errors.New("boom")))
}
