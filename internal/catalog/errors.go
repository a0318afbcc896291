package catalog

import (
	"errors"
	"sort"
	"strings"
)

// Sentinel errors returned by the tree manager. Callers match them with
// errors.Is; the wrapped message carries the offending id or name.
var (
	ErrNotFound          = errors.New("category not found")
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateName     = errors.New("a sibling category with this name already exists")
	ErrDepthExceeded     = errors.New("maximum category depth exceeded")
	ErrInvalidMove       = errors.New("invalid move")
	ErrHasActiveChildren = errors.New("category has active children")
	ErrHasActiveProducts = errors.New("category has active products")
	ErrHasChildren       = errors.New("category has children")
	ErrHasProducts       = errors.New("category has products")
)

// Class groups errors by how a caller should react to them.
type Class int

const (
	ClassInternal Class = iota
	ClassNotFound
	ClassValidation
	ClassConflict
	ClassPrecondition
)

// Classify maps an error returned by the Service onto its Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrValidation):
		return ClassValidation
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrInvalidMove):
		return ClassConflict
	case errors.Is(err, ErrDepthExceeded),
		errors.Is(err, ErrHasActiveChildren), errors.Is(err, ErrHasActiveProducts),
		errors.Is(err, ErrHasChildren), errors.Is(err, ErrHasProducts):
		return ClassPrecondition
	default:
		return ClassInternal
	}
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	codes := []struct {
		target error
		code   string
	}{
		{ErrNotFound, "NOT_FOUND"},
		{ErrValidation, "VALIDATION_FAILED"},
		{ErrDuplicateName, "DUPLICATE_NAME"},
		{ErrDepthExceeded, "DEPTH_EXCEEDED"},
		{ErrInvalidMove, "INVALID_MOVE"},
		{ErrHasActiveChildren, "HAS_ACTIVE_CHILDREN"},
		{ErrHasActiveProducts, "HAS_ACTIVE_PRODUCTS"},
		{ErrHasChildren, "HAS_CHILDREN"},
		{ErrHasProducts, "HAS_PRODUCTS"},
	}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return "INTERNAL_ERROR"
}

// ValidationError lists per-field problems with a request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func fieldError(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
