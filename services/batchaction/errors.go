package batchaction

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRow is returned for rows that are not JSON objects.
	ErrInvalidRow = errors.New("invalid events table row")
	// ErrMissingIdentifiers is returned for rows without an id or trace id.
	ErrMissingIdentifiers = errors.New("events row is missing required identifiers")
	// ErrJobNotFound is returned when a batch action does not exist.
	ErrJobNotFound = errors.New("batch action not found")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid batch action status transition")
	// ErrInvalidConfig is returned for malformed evaluator selections.
	ErrInvalidConfig = errors.New("invalid run evaluation config")
	// ErrInvalidQuery is returned for unsupported filter or search input.
	ErrInvalidQuery = errors.New("invalid selection query")
	// ErrEventsTableDisabled is returned when historical evaluations are off.
	ErrEventsTableDisabled = errors.New("events table is not enabled for this instance; historical event evaluations require LANGFUSE_ENABLE_EVENTS_TABLE_OBSERVATIONS=true")
)

// ConfigValidationError reports requested evaluators that are missing,
// inactive or not event-scoped.
type ConfigValidationError struct {
	MissingIDs []string
	// Historical selects the worker-side wording.
	Historical bool
}

func (e *ConfigValidationError) Error() string {
	suffix := ""
	if e.Historical {
		suffix = " for historical event evaluation"
	}
	if len(e.MissingIDs) == 0 {
		return "selected evaluators are missing, inactive, or not event-scoped" + suffix
	}
	return fmt.Sprintf("evaluators [%s] are missing, inactive, or not event-scoped%s",
		strings.Join(e.MissingIDs, ", "), suffix)
}

// TooManyObservationsError is returned when a selection exceeds the creation limit.
type TooManyObservationsError struct {
	Limit int
	Count int64
}

func (e *TooManyObservationsError) Error() string {
	return fmt.Sprintf("too many observations selected: maximum allowed is %d, but %d observations match your filters; please refine your filters to reduce the count",
		e.Limit, e.Count)
}

// IsValidationError reports whether err is caused by caller input rather
// than an infrastructure failure.
func IsValidationError(err error) bool {
	var cfgErr *ConfigValidationError
	var tooMany *TooManyObservationsError
	return errors.As(err, &cfgErr) ||
		errors.As(err, &tooMany) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrEventsTableDisabled)
}
