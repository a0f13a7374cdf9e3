package tokens

import (
	"strings"

	"advisor/internal/domain/models/agent"
)

// Accounting constants for the chat/responses item format.
// See https://cookbook.openai.com/examples/how_to_count_tokens_with_tiktoken
const (
	tokensPerItem    = 3
	tokensPerField   = 1
	tokensPerPriming = 3

	funcInit = 7
	propInit = 3
	propKey  = 3
	enumInit = -3
	enumItem = 3
	funcEnd  = 12
)

// Encoder turns text into a token count for one tokenizer family
type Encoder interface {
	CountTokens(text string) int
}

// Counter estimates the input cost of conversation items and tool schemas.
// Counting never fails: an item that cannot be priced contributes zero.
type Counter struct {
	enc Encoder
}

// NewCounter creates a counter backed by enc
func NewCounter(enc Encoder) *Counter {
	return &Counter{enc: enc}
}

// Count returns the token count of text
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return c.enc.CountTokens(text)
}

// CountItems returns the estimated input cost of items. An empty list costs 0.
func (c *Counter) CountItems(items agent.Items) int {
	if len(items) == 0 {
		return 0
	}
	total := 0
	for _, item := range items {
		total += c.countItem(item)
	}
	return total + tokensPerPriming
}

// CountInput returns the cost of items plus the tool schemas offered with them
func (c *Counter) CountInput(items agent.Items, tools []agent.ToolDefinition) int {
	return c.CountItems(items) + c.CountTools(tools)
}

func (c *Counter) countItem(item agent.Item) (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()

	switch it := item.(type) {
	case *agent.UserMessage:
		n = tokensPerItem + 2*tokensPerField
		n += c.Count(agent.RoleUser) + c.countContent(it.Content, it.Blocks)

	case *agent.InstructionMessage:
		n = tokensPerItem + 2*tokensPerField
		n += c.Count(it.Role) + c.countContent(it.Content, it.Blocks)

	case *agent.AssistantMessage:
		n = tokensPerItem + fields(3, it.ID, it.Status)
		n += c.Count("message") + c.Count(agent.RoleAssistant)
		for _, block := range it.Content {
			n += c.Count(block.Text)
			for _, a := range block.Annotations {
				n += c.Count(a.Title) + c.Count(a.URL)
			}
		}

	case *agent.FunctionCall:
		n = tokensPerItem + fields(4, it.ID, it.Status)
		n += c.Count("function_call") + c.Count(it.Arguments)

	case *agent.FunctionCallOutput:
		n = tokensPerItem + 3*tokensPerField
		n += c.Count("function_call_output") + c.Count(it.Output)

	case *agent.Reasoning:
		n = tokensPerItem + fields(2, it.ID)
		n += c.Count("reasoning")

	default:
		// unknown shapes are free so trimming never fails on them
		n = 0
	}
	return n
}

// countContent prices string content or, for block content, each block's text
func (c *Counter) countContent(content string, blocks []agent.ContentBlock) int {
	if len(blocks) == 0 {
		return c.Count(content)
	}
	n := 0
	for _, block := range blocks {
		n += c.Count(block.Text)
	}
	return n
}

// fields returns the per-field cost of always-present plus non-empty optional fields
func fields(always int, optional ...string) int {
	n := always
	for _, v := range optional {
		if v != "" {
			n++
		}
	}
	return n * tokensPerField
}

// CountTools returns the cost of function tool schemas.
// Built-in (non-function) tools are not priced.
func (c *Counter) CountTools(tools []agent.ToolDefinition) int {
	if len(tools) == 0 {
		return 0
	}
	total := 0
	for _, tool := range tools {
		if tool.Type != agent.ToolTypeFunction {
			continue
		}
		total += funcInit
		desc := strings.TrimSuffix(tool.Description, ".")
		total += c.Count(tool.Name + ":" + desc)

		if len(tool.Parameters.Properties) > 0 {
			total += propInit
			for name, prop := range tool.Parameters.Properties {
				total += propKey
				if len(prop.Enum) > 0 {
					total += enumInit
					for _, v := range prop.Enum {
						total += enumItem
						total += c.Count(v)
					}
				}
				pDesc := strings.TrimSuffix(prop.Description, ".")
				total += c.Count(name + ":" + prop.Type + ":" + pDesc)
			}
		}
	}
	return total + funcEnd
}

// TurnPayload returns the text that prices a turn for eviction: the content of
// messages and the output of tool results. Calls and reasoning contribute nothing.
func TurnPayload(items []agent.Item) string {
	var b strings.Builder
	for _, item := range items {
		switch it := item.(type) {
		case *agent.UserMessage:
			b.WriteString(it.Text())
		case *agent.InstructionMessage:
			b.WriteString(it.Text())
		case *agent.AssistantMessage:
			b.WriteString(it.Text())
		case *agent.FunctionCallOutput:
			b.WriteString(it.Output)
		}
	}
	return b.String()
}
