package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"advisor/internal/domain/models/agent"
	services "advisor/internal/domain/services/agent"
	"advisor/internal/service/agent/tools/external"
)

// WebSearchToolName is the function name the model calls
const WebSearchToolName = "web_search"

// WebSearchTool implements the 'web_search' tool for searching the web via external APIs.
// Raw responses are recorded in the run context keyed by query.
type WebSearchTool struct {
	client external.SearchClient
	config *ToolConfig
	logger *slog.Logger
}

// NewWebSearchTool creates a new WebSearchTool instance.
func NewWebSearchTool(client external.SearchClient, config *ToolConfig, logger *slog.Logger) *WebSearchTool {
	if config == nil {
		config = DefaultToolConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSearchTool{
		client: client,
		config: config,
		logger: logger,
	}
}

// Definition implements ToolExecutor
func (t *WebSearchTool) Definition() agent.ToolDefinition {
	return agent.ToolDefinition{
		Type:        agent.ToolTypeFunction,
		Name:        WebSearchToolName,
		Description: "Search the web for information.",
		Parameters: agent.ToolParameters{
			Type: "object",
			Properties: map[string]agent.ToolProperty{
				"query": {
					Type:        "string",
					Description: "The query keyword to search the web for.",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of results to return.",
				},
				"topic": {
					Type:        "string",
					Description: "Search category.",
					Enum:        []string{"general", "news", "finance"},
				},
			},
			Required: []string{"query"},
		},
	}
}

// Execute implements ToolExecutor interface.
// Input parameters:
//   - query (string, required): Search query
//   - max_results (integer, optional): Maximum results to return
//   - topic (string, optional): "general", "news", or "finance"
//
// Returns:
//   - {results: [...], query: string, result_count: int}
func (t *WebSearchTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	query, ok := input["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, errors.New("missing required parameter: query (string)")
	}
	query = strings.TrimSpace(query)

	maxResults := t.config.WebSearchDefaultLimit
	if maxVal, exists := input["max_results"]; exists {
		if maxFloat, ok := maxVal.(float64); ok {
			maxResults = int(maxFloat)
			if maxResults < 1 {
				maxResults = 1
			} else if maxResults > t.config.WebSearchMaxLimit {
				maxResults = t.config.WebSearchMaxLimit
			}
		}
	}

	topic := t.config.WebSearchTopic
	if topicStr, ok := input["topic"].(string); ok && strings.TrimSpace(topicStr) != "" {
		topic = strings.TrimSpace(topicStr)
		if topic != "general" && topic != "news" && topic != "finance" {
			return nil, fmt.Errorf("invalid topic '%s': must be 'general', 'news', or 'finance'", topic)
		}
	}

	t.logger.Debug("web search", "query", query, "topic", topic, "max_results", maxResults)

	response, err := t.client.Search(ctx, query, external.SearchOptions{
		MaxResults: maxResults,
		Topic:      topic,
	})
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}

	if rc := services.GetRunContext(ctx); rc != nil {
		rc.RecordSearch(query, response)
	}

	resultList := make([]map[string]interface{}, len(response.Results))
	for i, result := range response.Results {
		resultMap := map[string]interface{}{
			"title":   result.Title,
			"url":     result.URL,
			"snippet": result.Snippet,
		}
		if result.PublishedAt != nil {
			resultMap["published_at"] = result.PublishedAt.Format("2006-01-02")
		}
		resultList[i] = resultMap
	}

	t.logger.Debug("web search done", "query", query, "result_count", len(resultList))

	return map[string]interface{}{
		"results":      resultList,
		"query":        query,
		"result_count": len(resultList),
	}, nil
}
