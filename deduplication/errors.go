package deduplication

import "errors"

// Error taxonomy for the duplicate-detection core. Callers distinguish these
// with errors.Is; in particular "no candidates found" is a successful empty
// result and never an error, so an index outage can never be mistaken for a
// novel lead.
var (
	// ErrEmptyText rejects empty or whitespace-only input before embedding.
	ErrEmptyText = errors.New("text is empty")

	// ErrEmbeddingUnavailable wraps failures of the embedding backend.
	// Fatal to the current request: no fallback similarity is attempted.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrIndex wraps vector index connectivity and storage failures.
	ErrIndex = errors.New("vector index failure")

	// ErrDuplicateID reports an insert with an already-used id. Lead ids are
	// UUID-strength, so this indicates an invariant violation, not a
	// recoverable condition.
	ErrDuplicateID = errors.New("duplicate document id")

	// ErrInvalidArgument reports a malformed call (k <= 0, missing embedding).
	ErrInvalidArgument = errors.New("invalid argument")
)
