package workflow

import (
	"errors"
	"fmt"
)

// Domain failures visible to callers of the runtime and the publisher.
var (
	// ErrDefinitionNotFound indicates no definition version matched the id and version options.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrInstanceNotFound indicates the workflow instance does not exist.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrCannotStart indicates the activation strategy rejected a new instance.
	ErrCannotStart = errors.New("workflow cannot be started")

	// ErrCannotRetractUnpublished indicates a retract of a definition that is not published.
	ErrCannotRetractUnpublished = errors.New("cannot retract an unpublished workflow definition")

	// ErrBookmarkNotFound indicates the instance holds no bookmark matching the resume options.
	ErrBookmarkNotFound = errors.New("bookmark not found")

	// ErrMaterializerNotFound indicates the definition names an unregistered materializer.
	ErrMaterializerNotFound = errors.New("materializer not found")
)

// PublishError wraps failures of definition lifecycle operations.
type PublishError struct {
	Op           string // Lifecycle operation (e.g., "Publish", "Retract", "SaveDraft")
	DefinitionID string
	Err          error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s operation failed for definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for publish errors.
func (e *PublishError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewPublishError creates a lifecycle error with context.
func NewPublishError(op, definitionID string, err error) *PublishError {
	return &PublishError{Op: op, DefinitionID: definitionID, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsInstanceNotFound checks if an error indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsCannotStart checks if an error indicates an inadmissible start.
func IsCannotStart(err error) bool {
	return errors.Is(err, ErrCannotStart)
}

// IsInvalidState checks if an error indicates an invalid lifecycle transition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrCannotRetractUnpublished)
}
