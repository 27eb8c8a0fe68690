package domain

import "errors"

// Sentinel errors shared across repositories and the ingest front-end.
// Callers wrap these with fmt.Errorf("...: %w", err) at call boundaries
// and unwrap with errors.Is at the HTTP edge.
var (
	ErrNotFound        = errors.New("not found")
	ErrEmptyBatch       = errors.New("batch contains no events")
	ErrMixedTenant      = errors.New("batch contains events from more than one tenant")
	ErrDBNotConfigured  = errors.New("database pool not configured")
)
