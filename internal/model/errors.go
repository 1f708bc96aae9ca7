package model

import "errors"

var (
	// ErrInvalidInput marks client-fixable request problems (missing id, unsupported format).
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks a referenced scan, component set or CVE that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable marks an external registry failure with no cached fallback.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidData marks a stored row carrying a value outside its closed enumeration.
	ErrInvalidData = errors.New("invalid data")
)
