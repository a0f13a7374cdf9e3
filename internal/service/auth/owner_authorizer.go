package auth

import (
	"context"
	"errors"
	"fmt"

	"advisor/internal/domain"
	agentRepo "advisor/internal/domain/repositories/agent"
	"advisor/internal/domain/services"
)

// OwnerBasedAuthorizer implements ThreadAuthorizer using ownership checks.
// A user can access a thread if they created it with its first turn.
type OwnerBasedAuthorizer struct {
	threads agentRepo.TurnReader
}

var _ services.ThreadAuthorizer = (*OwnerBasedAuthorizer)(nil)

// NewOwnerBasedAuthorizer creates a new ownership-based authorizer
func NewOwnerBasedAuthorizer(threads agentRepo.TurnReader) *OwnerBasedAuthorizer {
	return &OwnerBasedAuthorizer{threads: threads}
}

// CanReadThread checks if user owns an existing thread
func (a *OwnerBasedAuthorizer) CanReadThread(ctx context.Context, userID, threadID string) error {
	thread, err := a.threads.GetThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("check thread access: %w", err)
	}
	if thread.UserID != userID {
		return fmt.Errorf("access denied to thread %s: %w", threadID, domain.ErrForbidden)
	}
	return nil
}

// CanWriteThread checks if user may append to a thread. Unknown threads are
// open: the first turn creates them.
func (a *OwnerBasedAuthorizer) CanWriteThread(ctx context.Context, userID, threadID string) error {
	err := a.CanReadThread(ctx, userID, threadID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
