// Package apperr holds the error taxonomy shared by the stores, the sweep and
// the HTTP layer. Domain packages wrap these sentinels so callers can classify
// failures with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is wrapped by every "unknown id" error.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration means escalation cannot run: no active config, or an
	// active config without channels.
	ErrConfiguration = errors.New("configuration error")

	// ErrConflict is wrapped by state-machine violations.
	ErrConflict = errors.New("conflict")
)

// ValidationError is returned before any mutation. Fields maps a request
// field name to its problems.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem for field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// OrNil returns e when it holds at least one problem.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ChannelDeliveryError describes one failed channel send. It is recorded on the
// notification record and never returned to a dispatch caller.
type ChannelDeliveryError struct {
	Channel string
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
