package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced alert or identity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAlert marks an alert that violates its invariants.
	ErrInvalidAlert = errors.New("invalid alert")
)
