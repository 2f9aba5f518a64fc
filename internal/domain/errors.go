package domain

import "errors"

var (
	// ErrInvalidFormat marks a timestamp that is not YYYYMMDD-HHMMSS.
	// It never leaves the timestamp helpers; callers see "no match".
	ErrInvalidFormat = errors.New("invalid timestamp format")

	// ErrNotFound means the upstream has no data for the key.
	ErrNotFound = errors.New("not found")

	// ErrUnmappedFIPS means a SAME code names a state prefix with no postal
	// mapping. Resolvers treat it as a permanent not-found.
	ErrUnmappedFIPS = errors.New("unmapped FIPS state code")
)
