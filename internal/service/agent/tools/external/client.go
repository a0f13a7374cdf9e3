package external

import (
	"context"
	"time"
)

// SearchClient defines the interface for external search APIs.
type SearchClient interface {
	// Search performs a web search and returns results.
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error)
}

// SearchOptions configures search behavior.
type SearchOptions struct {
	MaxResults  int    // Maximum number of results to return
	SearchDepth string // "basic" or "advanced"
	Topic       string // "general", "news", "finance"
}

// SearchResponse contains search results from external API.
type SearchResponse struct {
	Query        string         `json:"query"`
	Answer       string         `json:"answer,omitempty"`
	Results      []SearchResult `json:"results"`
	ResponseTime float64        `json:"response_time,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Snippet     string     `json:"content"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Score       float64    `json:"score,omitempty"`
}
