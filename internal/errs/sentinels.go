// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across provider/repo/service layers.
var (
	// ErrNotFound indicates the requested account or snapshot field does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the account token is already registered.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidToken indicates the provider answered with content that does not parse
	// into the expected shape. Moodle does this for bad credentials instead of an HTTP error.
	ErrInvalidToken = errors.New("invalid token")

	// ErrEmptyBody indicates the provider answered with an empty body.
	ErrEmptyBody = errors.New("empty response body")

	// ErrTransport indicates a network or timeout failure after the retry budget was spent.
	ErrTransport = errors.New("transport failure")

	// ErrTimeParse indicates a deadline time token that is not a valid HH:MM clock time.
	ErrTimeParse = errors.New("malformed deadline time")

	// ErrSend indicates the push transport rejected a notification.
	ErrSend = errors.New("notification not delivered")
)
