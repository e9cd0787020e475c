package engine

import "errors"

// Error kinds surfaced by the engine. Call sites wrap these with context via
// fmt.Errorf("...: %w", err) and callers classify with errors.Is.
var (
	// ErrNotFound marks an absent memory, user or document. On read paths it
	// is a normal outcome, not an operational failure.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks a missing credential or one the durable-store API
	// rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrVersionConflict marks a durable write rejected due to concurrent
	// modification. Per-user serialization normally prevents it; it still has
	// to be handled as a retryable condition when it occurs.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUpstreamUnavailable marks an unreachable or timed-out collaborator
	// (durable-store API, embedding or categorization function).
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvariantViolation marks structural damage such as a duplicate
	// embedding row or an orphaned index row. Surfaced by the reconciler,
	// never silenced.
	ErrInvariantViolation = errors.New("invariant violation")
)
