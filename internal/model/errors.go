package model

import "errors"

var (
	// ErrEventNotFound is returned when a connection event is not found.
	ErrEventNotFound = errors.New("connection event not found")

	// ErrMissingClientID is returned when an upgrade request carries no client identifier.
	ErrMissingClientID = errors.New("client identifier is required")

	// ErrUnauthorized is returned when a connection token is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
)
