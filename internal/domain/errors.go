package domain

import "errors"

// Sentinel errors used throughout the application.
// Decode wraps them with the offending field or tag; match with errors.Is.
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMissingType      = errors.New("message has no type")
	ErrUnknownType      = errors.New("unknown message type")
	ErrMissingField     = errors.New("missing required field")
	ErrEmptyField       = errors.New("required field is empty")
)
