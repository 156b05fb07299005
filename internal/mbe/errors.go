package mbe

import "errors"

var (
	// ErrUnknownVariable is returned when a name is not in the catalog.
	ErrUnknownVariable = errors.New("mbe: unknown variable")
	// ErrDuplicateVariable is returned when the follow list already holds the
	// same address low byte on the same page.
	ErrDuplicateVariable = errors.New("mbe: duplicate variable")
	// ErrPageOverflow marks a variable whose bytes run past offset 0xFF.
	ErrPageOverflow = errors.New("mbe: variable runs past the end of its page")

	ErrMalformedRequest  = errors.New("mbe: malformed request")
	ErrMalformedResponse = errors.New("mbe: malformed response")
	ErrTruncatedResponse = errors.New("mbe: truncated response")

	// ErrNoResponse is what a Transport returns from Receive when the
	// controller did not answer. It ends the current cycle.
	ErrNoResponse = errors.New("mbe: no response")
)
