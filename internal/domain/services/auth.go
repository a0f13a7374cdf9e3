package services

import "context"

// ThreadAuthorizer checks if a user can access a conversation thread.
// Current implementation: ownership-based (the first writer owns the thread).
//
// Services call the authorizer before reading or appending turns, keeping
// authorization (who can access) apart from identification (which thread).
type ThreadAuthorizer interface {
	// CanReadThread checks that the thread exists and belongs to userID.
	// Returns domain.ErrNotFound or domain.ErrForbidden.
	CanReadThread(ctx context.Context, userID, threadID string) error

	// CanWriteThread checks that userID may append a turn: the thread is
	// new or already belongs to userID. Returns domain.ErrForbidden otherwise.
	CanWriteThread(ctx context.Context, userID, threadID string) error
}
