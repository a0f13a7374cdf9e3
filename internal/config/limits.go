package config

const (
	// MaxQueryLength is the maximum length of a user query in characters.
	// Longer inputs are rejected before any model call is made.
	MaxQueryLength = 8000

	// MaxThreadIDLength is the maximum length for client-chosen thread IDs.
	MaxThreadIDLength = 128

	// DefaultTurnListLimit is the page size of the thread turns endpoint.
	DefaultTurnListLimit = 20

	// MaxTurnListLimit caps the limit query parameter of the thread turns endpoint.
	MaxTurnListLimit = 100
)
