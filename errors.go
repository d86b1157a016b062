package twingraph

import (
	"fmt"
	"strings"
)

// The error taxonomy of this package distinguishes the failure modes callers
// are expected to branch on. Use errors.As to detect the typed errors and
// errors.Is against the sentinel values.
//
// A deliberate remap exists on the twin and relationship write paths: a model
// reference that cannot be resolved surfaces as a ValidationError, never as a
// NotFoundError. From the entity's point of view, an unresolvable model is a
// defect of its own payload.

// A ValidationError aggregates every schema violation found while validating a
// single entity payload. Writes never fail on the first violation; callers get
// the complete list in one round trip.
type ValidationError struct {
	// EntityID addresses the entity whose payload failed validation.
	EntityID string
	// Violations holds one human-readable message per failed property.
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("entity %q failed validation: %s", e.EntityID, strings.Join(e.Violations, "; "))
}

// A NotFoundError reports that the addressed entity or model does not exist.
// Absence is always a distinct error, never a nil success.
type NotFoundError struct {
	// Kind names what was being looked up: "twin", "relationship", or "model".
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// An AlreadyExistsError reports an attempt to create an entity or model under
// an identifier that is already taken. Models are immutable, so this is the
// only answer to re-submitting a model id.
type AlreadyExistsError struct {
	Kind string
	ID   string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.ID)
}

// A PreconditionFailedError reports that a caller-supplied concurrency guard
// did not hold: either a "must not exist" guard hit an existing entity, or an
// etag guard saw a stale token.
type PreconditionFailedError struct {
	ID string
	// Reason describes the guard that failed.
	Reason string
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("precondition failed for %q: %s", e.ID, e.Reason)
}

// A ReferentialIntegrityError reports that a model cannot be deleted while
// other models or twins still depend on it.
type ReferentialIntegrityError struct {
	ID string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("model %q still has dependents", e.ID)
}

// An UnsupportedError reports an operation or content kind the engine
// deliberately does not implement, as opposed to one that failed.
type UnsupportedError struct {
	Operation string
}

func (e *UnsupportedError) Error() string {
	return "unsupported: " + e.Operation
}
