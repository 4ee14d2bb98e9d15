package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsBusy(t *testing.T) {
	assert.False(t, IsBusy(nil))
	assert.False(t, IsBusy(errors.New("syntax error")))
	assert.True(t, IsBusy(ErrBusy))
	assert.True(t, IsBusy(fmt.Errorf("wrap: %w", ErrBusy)))
	assert.True(t, IsBusy(errors.New("database is locked")))
	assert.True(t, IsBusy(errors.New("Deadlock found when trying to get lock")))
}

func TestWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := WithRetry(func() error {
		calls++
		if calls < 3 {
			return ErrBusy
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	permanent := errors.New("constraint failed")
	err := WithRetry(func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithRetryGivesUpEventually(t *testing.T) {
	calls := 0
	err := WithRetry(func() error {
		calls++
		return ErrBusy
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, retryAttempts, calls)
}

func TestNormalize(t *testing.T) {
	assert.ErrorIs(t, Normalize(gorm.ErrRecordNotFound), ErrNotFound)

	other := errors.New("other")
	assert.Equal(t, other, Normalize(other))
	assert.NoError(t, Normalize(nil))
}
