package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Issue locates a single validation failure. Location is a dotted or
// row-scoped path such as "sections[0].fields[2].label" or "row 5: field_type_name".
type Issue struct {
	Location string `json:"location"`
	Message  string `json:"message"`
}

func (i Issue) String() string {
	if i.Location == "" {
		return i.Message
	}
	return i.Location + ": " + i.Message
}

// ValidationError aggregates every issue found by a validation pass so bulk
// callers can report all failing rows at once.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "validation failed"
	case 1:
		return "validation failed: " + e.Issues[0].String()
	default:
		return fmt.Sprintf("validation failed: %s (and %d more)", e.Issues[0], len(e.Issues)-1)
	}
}

// Validation builds a ValidationError from a list of issues, returning nil
// when the list is empty so callers can return it directly.
func Validation(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

// PrefixIssues rescopes issue locations under a parent location.
func PrefixIssues(prefix string, issues []Issue) []Issue {
	out := make([]Issue, len(issues))
	for i, issue := range issues {
		loc := issue.Location
		switch {
		case loc == "":
			loc = prefix
		case prefix != "":
			loc = prefix + "." + loc
		}
		out[i] = Issue{Location: loc, Message: issue.Message}
	}
	return out
}

// NotFoundError marks a reference to an identity that does not exist or is
// not current.
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Ref)
}

// NotFound constructs a NotFoundError for a uuid reference.
func NotFound(entity string, id uuid.UUID) error {
	return &NotFoundError{Entity: entity, Ref: id.String()}
}

// ConflictError is returned when an optimistic version check fails; the
// caller must refetch the current version and retry.
type ConflictError struct {
	Entity   string
	Root     uuid.UUID
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s lineage %s: version conflict: expected %d, current is %d",
		e.Entity, e.Root, e.Expected, e.Actual)
}

// IntegrityError marks an operation that would orphan referencing entities.
// It is never silently cascaded.
type IntegrityError struct {
	Entity string
	Ref    string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Entity, e.Ref, e.Reason)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsIntegrity reports whether err is an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// AsValidation extracts a ValidationError when err carries one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
