package store

import (
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Sentinel errors shared by the persistence-backed modules. Handlers translate
// these into HTTP statuses at the operation boundary.
var (
	// ErrValidation marks a malformed payload rejected before any write.
	ErrValidation = errors.New("store: validation failed")
	// ErrNotFound marks a referenced project, layer or asset that does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrConstraint marks a type-specific field invariant violation.
	ErrConstraint = errors.New("store: constraint violated")
	// ErrBusy marks transient lock contention eligible for retry.
	ErrBusy = errors.New("store: database busy")
)

const (
	retryAttempts = 5
	retryBaseWait = 50 * time.Millisecond
)

// IsBusy reports whether err looks like transient lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "deadlock")
}

// WithRetry runs fn, retrying with doubling backoff while it fails with a
// transient busy error. The store is a process-local singleton hit from
// concurrent UI-driven calls, so contention resolves quickly or not at all.
func WithRetry(fn func() error) error {
	wait := retryBaseWait
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil || !IsBusy(err) {
			return err
		}
		log.Printf("store: busy, retrying in %s: %v", wait, err)
		time.Sleep(wait)
		wait *= 2
	}
	return err
}

// Normalize maps gorm's record-not-found onto the shared sentinel so callers
// can use errors.Is without importing gorm.
func Normalize(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
