package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a settlement, group or workflow record does
// not exist.
var ErrNotFound = errors.New("settlement not found")

// ValidationError carries every violation found in an inbound request.
// Validation never short-circuits, so callers can report the full list.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// FxError is returned when a currency has no usable conversion rate.
type FxError struct {
	Currency string
}

func (e *FxError) Error() string {
	return fmt.Sprintf("currency not supported: %s", e.Currency)
}

// SegregationError is returned when the authorizing user is the same user
// who requested release.
type SegregationError struct {
	UserID string
}

func (e *SegregationError) Error() string {
	return "authorizer must differ from requester"
}

// InvalidTransitionError is returned when a workflow action is not legal
// from the current state, including repeating an action from its target
// state.
type InvalidTransitionError struct {
	Action string
	From   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed from state %s", e.Action, e.From)
}
