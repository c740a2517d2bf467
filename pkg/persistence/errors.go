package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrMissingID indicates a record was saved without its key.
	ErrMissingID = errors.New("record id is required")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrCorruptRecord indicates a stored payload could not be decoded.
	ErrCorruptRecord = errors.New("stored record is corrupt")
)

// StoreError wraps repository errors with the operation and record involved.
type StoreError struct {
	Op     string // Operation being performed (e.g., "FindByHash", "Save")
	Entity string // Record kind (e.g., "definition", "instance", "bookmark", "trigger")
	ID     string // Record id or index key if applicable
	Err    error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{
		Op:     op,
		Entity: entity,
		ID:     id,
		Err:    err,
	}
}

// IsMissingID checks if an error indicates a record without key.
func IsMissingID(err error) bool {
	return errors.Is(err, ErrMissingID)
}

// IsCorruptRecord checks if an error indicates an undecodable record.
func IsCorruptRecord(err error) bool {
	return errors.Is(err, ErrCorruptRecord)
}
