package ingest

import "errors"

var (
	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("ingest: missing dependency")

	// ErrInvalidConfig is returned by New for unusable worker or queue settings.
	ErrInvalidConfig = errors.New("ingest: invalid config")

	// ErrNotSubscribed is returned by HealthCheck while uplinks cannot arrive.
	ErrNotSubscribed = errors.New("ingest: not subscribed")
)
