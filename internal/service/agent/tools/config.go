package tools

// ToolConfig centralizes configuration for all tools.
type ToolConfig struct {
	// Web search tool configuration (external APIs)
	WebSearchDefaultLimit int    // Default number of web search results
	WebSearchMaxLimit     int    // Maximum allowed web search results
	WebSearchTopic        string // Default topic when the model does not pick one

	// MaxOutputSize caps the serialized tool output handed back to the model (characters)
	MaxOutputSize int
}

// DefaultToolConfig returns the default tool configuration.
func DefaultToolConfig() *ToolConfig {
	return &ToolConfig{
		WebSearchDefaultLimit: 5,
		WebSearchMaxLimit:     10,
		WebSearchTopic:        "finance",

		MaxOutputSize: 40000, // ~10k tokens
	}
}
