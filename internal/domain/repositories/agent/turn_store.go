package agent

import (
	"context"

	"advisor/internal/domain/models/agent"
)

// TurnReader defines read operations on the turn log
type TurnReader interface {
	// LoadLatest returns the raw items and metadata of the most recent turn of a thread.
	// Returns an empty list and zero metadata when the thread has no turns or does not exist.
	// Returns *domain.StorageError on I/O faults or undecodable rows.
	LoadLatest(ctx context.Context, threadID string) (agent.Items, agent.TurnMetadata, error)

	// ListTurns returns up to limit most recent turns of a thread, oldest first
	ListTurns(ctx context.Context, threadID string, limit int) ([]agent.Turn, error)

	// GetThread returns the thread record
	// Returns domain.ErrNotFound if the thread does not exist
	GetThread(ctx context.Context, threadID string) (*agent.Thread, error)
}

// TurnWriter defines write operations on the turn log
type TurnWriter interface {
	// AppendTurn creates the thread on first write (first write wins) and inserts
	// the turn, atomically. Sets turn.ID and turn.CreatedAt.
	// Returns *domain.StorageError on failure.
	AppendTurn(ctx context.Context, turn *agent.Turn) error
}

// TurnStore is the durable append-only turn log keyed by thread
type TurnStore interface {
	TurnReader
	TurnWriter
}
