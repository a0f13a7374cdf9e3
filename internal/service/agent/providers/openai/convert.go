package openai

import (
	"advisor/internal/domain/models/agent"
	services "advisor/internal/domain/services/agent"
	openai "github.com/sashabaranov/go-openai"
)

// buildMessages renders the agent instructions, per-run context and the item
// history as chat messages. Reasoning and unknown items are not replayable
// through chat completions and are skipped.
func buildMessages(req *services.RunRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Items)+2)
	if req.Agent.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Agent.Instructions,
		})
	}
	if req.Context != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Context,
		})
	}

	for _, item := range req.Items {
		switch it := item.(type) {
		case *agent.UserMessage:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: it.Text(),
			})

		case *agent.InstructionMessage:
			// Chat Completions treats developer messages as system messages
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: it.Text(),
			})

		case *agent.AssistantMessage:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: it.Text(),
			})

		case *agent.FunctionCall:
			call := openai.ToolCall{
				ID:   it.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      it.Name,
					Arguments: it.Arguments,
				},
			}
			// consecutive calls belong to one assistant turn
			if n := len(messages); n > 0 && messages[n-1].Role == openai.ChatMessageRoleAssistant && len(messages[n-1].ToolCalls) > 0 {
				messages[n-1].ToolCalls = append(messages[n-1].ToolCalls, call)
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{call},
			})

		case *agent.FunctionCallOutput:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: it.CallID,
				Content:    it.Output,
			})

		default:
			// reasoning, unknown shapes
		}
	}
	return messages
}

// buildTools converts function tool definitions
func buildTools(defs []agent.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Type != agent.ToolTypeFunction {
			continue
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return tools
}

// convertUsage maps provider usage; nil yields zero usage
func convertUsage(u *openai.Usage) agent.TokenUsage {
	if u == nil {
		return agent.TokenUsage{}
	}
	cached, reasoning := 0, 0
	if u.PromptTokensDetails != nil {
		cached = u.PromptTokensDetails.CachedTokens
	}
	if u.CompletionTokensDetails != nil {
		reasoning = u.CompletionTokensDetails.ReasoningTokens
	}
	return agent.NewTokenUsage(u.PromptTokens, cached, u.CompletionTokens, reasoning, u.TotalTokens)
}
