package order

import "errors"

// Rejection taxonomy. Every mutating transition returns one of these when it
// refuses to act; callers translate them into short chat replies and never
// let them crash a handler.
var (
	// ErrNotFound means the order id no longer resolves.
	ErrNotFound = errors.New("order not found")

	// ErrStale means the transition is not defined from the current status.
	// The actor is told to restart the flow; status is left unchanged.
	ErrStale = errors.New("stale transition for current status")

	// ErrNotPermitted means the acting chat fails the identity or role check.
	ErrNotPermitted = errors.New("actor not permitted")

	// ErrPastInstant means a proposed appointment is not strictly in the future.
	ErrPastInstant = errors.New("appointment is not in the future")

	// ErrUnknownSlot means the referenced evidence slot is not in the plan.
	ErrUnknownSlot = errors.New("unknown evidence slot")

	// ErrMandatorySlot means a required evidence slot cannot be skipped.
	ErrMandatorySlot = errors.New("mandatory slot cannot be skipped")

	// ErrUnresolvedSlots means completion was attempted with open slots.
	ErrUnresolvedSlots = errors.New("evidence slots unresolved")
)
