package event

import "errors"

// Append and query failures callers are expected to branch on.
// Wrap with fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// ErrInvalidParent means the requested parent does not exist or lives
	// in another workspace's tree
	ErrInvalidParent = errors.New("parent event not found in this tree")

	// ErrStaleHead means the session head moved between parent resolution
	// and commit; the write was rolled back
	ErrStaleHead = errors.New("session head changed during append")

	// ErrAppendConflict means an append kept losing head races past the
	// retry limit
	ErrAppendConflict = errors.New("append conflict: retries exhausted")

	// ErrForkSourceNotFound means the fork point does not exist or is not
	// on the source session's chain
	ErrForkSourceNotFound = errors.New("fork source event not found")

	// ErrSessionNotFound means no session row matches the given ID
	ErrSessionNotFound = errors.New("session not found")

	// ErrEventNotFound means no event row matches the given ID
	ErrEventNotFound = errors.New("event not found")

	// ErrNotDeletable means the deletion target is not a user message,
	// assistant message, or tool result
	ErrNotDeletable = errors.New("event type cannot be deleted")

	// ErrUnknownType means the event type is outside the accepted set
	ErrUnknownType = errors.New("unknown event type")
)
