package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ItemKind discriminates conversation items
type ItemKind string

const (
	KindUserMessage        ItemKind = "user_message"
	KindInstructionMessage ItemKind = "instruction_message"
	KindAssistantMessage   ItemKind = "assistant_message"
	KindFunctionCall       ItemKind = "function_call"
	KindFunctionCallOutput ItemKind = "function_call_output"
	KindReasoning          ItemKind = "reasoning"
	KindUnknown            ItemKind = "unknown"
)

// Wire discriminators (Responses API item layout)
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleDeveloper = "developer"
	RoleSystem    = "system"

	wireTypeMessage            = "message"
	wireTypeFunctionCall       = "function_call"
	wireTypeFunctionCallOutput = "function_call_output"
	wireTypeReasoning          = "reasoning"
	wireTypeOutputText         = "output_text"
	wireTypeSummaryText        = "summary_text"
)

// Item is one replayable conversation record.
// Implementations: *UserMessage, *InstructionMessage, *AssistantMessage,
// *FunctionCall, *FunctionCallOutput, *Reasoning, *UnknownItem.
type Item interface {
	Kind() ItemKind
}

// UserMessage is a user query. Content is set for plain string content,
// Blocks when the query arrived as a list of typed parts.
type UserMessage struct {
	Content string
	Blocks  []ContentBlock
}

// InstructionMessage is a developer or system message kept in history.
type InstructionMessage struct {
	Role    string
	Content string
	Blocks  []ContentBlock
}

// ContentBlock is one typed part of a user or instruction message.
// Raw holds the block as received so non-text parts survive a round trip.
type ContentBlock struct {
	Type string
	Text string
	Raw  json.RawMessage
}

// AssistantMessage is a finalized model answer.
type AssistantMessage struct {
	ID      string
	Status  string
	Content []OutputText
}

// OutputText is one text block of an assistant message.
type OutputText struct {
	Text        string       `json:"text"`
	Annotations []Annotation `json:"annotations"`
}

// Annotation is a citation attached to an output text block (web search sources).
type Annotation struct {
	Type       string `json:"type"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID        string
	CallID    string
	Name      string
	Arguments string
	Status    string
}

// FunctionCallOutput is the result handed back to the model for a FunctionCall.
type FunctionCallOutput struct {
	CallID string
	Output string
}

// Reasoning is a model thinking block. Only the summary is replayable.
type Reasoning struct {
	ID      string
	Summary []string
}

// UnknownItem preserves an item shape this build does not understand.
// It is replayed and persisted verbatim.
type UnknownItem struct {
	Raw json.RawMessage
}

func (*UserMessage) Kind() ItemKind        { return KindUserMessage }
func (*InstructionMessage) Kind() ItemKind { return KindInstructionMessage }
func (*AssistantMessage) Kind() ItemKind   { return KindAssistantMessage }
func (*FunctionCall) Kind() ItemKind       { return KindFunctionCall }
func (*FunctionCallOutput) Kind() ItemKind { return KindFunctionCallOutput }
func (*Reasoning) Kind() ItemKind          { return KindReasoning }
func (*UnknownItem) Kind() ItemKind        { return KindUnknown }

// Text returns the string content or the concatenated text of all blocks
func (m *UserMessage) Text() string { return contentText(m.Content, m.Blocks) }

// Text returns the string content or the concatenated text of all blocks
func (m *InstructionMessage) Text() string { return contentText(m.Content, m.Blocks) }

func contentText(content string, blocks []ContentBlock) string {
	if len(blocks) == 0 {
		return content
	}
	var buf bytes.Buffer
	for _, block := range blocks {
		buf.WriteString(block.Text)
	}
	return buf.String()
}

// Text returns the concatenated text of all output blocks
func (m *AssistantMessage) Text() string {
	var buf bytes.Buffer
	for _, block := range m.Content {
		buf.WriteString(block.Text)
	}
	return buf.String()
}

// SummaryText returns the reasoning summary parts joined by blank lines
func (r *Reasoning) SummaryText() string {
	var buf bytes.Buffer
	for i, part := range r.Summary {
		if i > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(part)
	}
	return buf.String()
}

// IsUserMessage reports whether item opens a conversational turn
func IsUserMessage(item Item) bool {
	_, ok := item.(*UserMessage)
	return ok
}

// wire formats

// messageWire carries user, developer and system messages. Content is
// either a JSON string or a list of typed blocks.
type messageWire struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlockWire struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func encodeContent(content string, blocks []ContentBlock) (json.RawMessage, error) {
	if len(blocks) == 0 {
		return json.Marshal(content)
	}
	parts := make([]json.RawMessage, len(blocks))
	for i, block := range blocks {
		if len(block.Raw) > 0 {
			parts[i] = block.Raw
			continue
		}
		data, err := json.Marshal(contentBlockWire{Type: block.Type, Text: block.Text})
		if err != nil {
			return nil, err
		}
		parts[i] = data
	}
	return json.Marshal(parts)
}

func decodeContent(raw json.RawMessage) (string, []ContentBlock, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil, nil
	}
	if trimmed[0] == '"' {
		var content string
		err := json.Unmarshal(trimmed, &content)
		return content, nil, err
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return "", nil, err
	}
	blocks := make([]ContentBlock, len(parts))
	for i, part := range parts {
		var w contentBlockWire
		if err := json.Unmarshal(part, &w); err != nil {
			return "", nil, err
		}
		blocks[i] = ContentBlock{Type: w.Type, Text: w.Text, Raw: append(json.RawMessage(nil), part...)}
	}
	return "", blocks, nil
}

type assistantMessageWire struct {
	ID      string           `json:"id,omitempty"`
	Type    string           `json:"type"`
	Role    string           `json:"role"`
	Status  string           `json:"status,omitempty"`
	Content []outputTextWire `json:"content"`
}

type outputTextWire struct {
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	Annotations []Annotation `json:"annotations"`
}

type functionCallWire struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Status    string `json:"status,omitempty"`
}

type functionCallOutputWire struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type reasoningWire struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Summary []summaryWire `json:"summary"`
}

type summaryWire struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type probeWire struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalItem encodes a single item in its wire layout
func MarshalItem(item Item) ([]byte, error) {
	switch it := item.(type) {
	case *UserMessage:
		content, err := encodeContent(it.Content, it.Blocks)
		if err != nil {
			return nil, err
		}
		return json.Marshal(messageWire{Role: RoleUser, Content: content})
	case *InstructionMessage:
		content, err := encodeContent(it.Content, it.Blocks)
		if err != nil {
			return nil, err
		}
		return json.Marshal(messageWire{Role: it.Role, Content: content})
	case *AssistantMessage:
		blocks := make([]outputTextWire, len(it.Content))
		for i, block := range it.Content {
			annotations := block.Annotations
			if annotations == nil {
				annotations = []Annotation{}
			}
			blocks[i] = outputTextWire{Type: wireTypeOutputText, Text: block.Text, Annotations: annotations}
		}
		return json.Marshal(assistantMessageWire{
			ID:      it.ID,
			Type:    wireTypeMessage,
			Role:    RoleAssistant,
			Status:  it.Status,
			Content: blocks,
		})
	case *FunctionCall:
		return json.Marshal(functionCallWire{
			ID:        it.ID,
			Type:      wireTypeFunctionCall,
			CallID:    it.CallID,
			Name:      it.Name,
			Arguments: it.Arguments,
			Status:    it.Status,
		})
	case *FunctionCallOutput:
		return json.Marshal(functionCallOutputWire{
			Type:   wireTypeFunctionCallOutput,
			CallID: it.CallID,
			Output: it.Output,
		})
	case *Reasoning:
		summary := make([]summaryWire, len(it.Summary))
		for i, part := range it.Summary {
			summary[i] = summaryWire{Type: wireTypeSummaryText, Text: part}
		}
		return json.Marshal(reasoningWire{ID: it.ID, Type: wireTypeReasoning, Summary: summary})
	case *UnknownItem:
		if len(it.Raw) == 0 {
			return []byte("null"), nil
		}
		return it.Raw, nil
	default:
		return nil, fmt.Errorf("unsupported item type %T", item)
	}
}

// UnmarshalItem decodes a single wire item. Shapes that do not match a known
// kind come back as *UnknownItem rather than an error; only malformed JSON fails.
func UnmarshalItem(data []byte) (Item, error) {
	var probe probeWire
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}

	raw := append(json.RawMessage(nil), data...)

	switch {
	case probe.Type == wireTypeFunctionCall:
		var w functionCallWire
		if err := json.Unmarshal(data, &w); err != nil {
			return &UnknownItem{Raw: raw}, nil
		}
		return &FunctionCall{ID: w.ID, CallID: w.CallID, Name: w.Name, Arguments: w.Arguments, Status: w.Status}, nil

	case probe.Type == wireTypeFunctionCallOutput:
		var w functionCallOutputWire
		if err := json.Unmarshal(data, &w); err != nil {
			return &UnknownItem{Raw: raw}, nil
		}
		return &FunctionCallOutput{CallID: w.CallID, Output: w.Output}, nil

	case probe.Type == wireTypeReasoning:
		var w reasoningWire
		if err := json.Unmarshal(data, &w); err != nil {
			return &UnknownItem{Raw: raw}, nil
		}
		summary := make([]string, 0, len(w.Summary))
		for _, part := range w.Summary {
			summary = append(summary, part.Text)
		}
		return &Reasoning{ID: w.ID, Summary: summary}, nil

	case probe.Role == RoleUser && (probe.Type == "" || probe.Type == wireTypeMessage):
		content, blocks, err := decodeContent(probe.Content)
		if err != nil {
			return &UnknownItem{Raw: raw}, nil
		}
		return &UserMessage{Content: content, Blocks: blocks}, nil

	case (probe.Role == RoleDeveloper || probe.Role == RoleSystem) && (probe.Type == "" || probe.Type == wireTypeMessage):
		content, blocks, err := decodeContent(probe.Content)
		if err != nil {
			return &UnknownItem{Raw: raw}, nil
		}
		return &InstructionMessage{Role: probe.Role, Content: content, Blocks: blocks}, nil

	case probe.Role == RoleAssistant && (probe.Type == "" || probe.Type == wireTypeMessage):
		var w assistantMessageWire
		if err := json.Unmarshal(data, &w); err != nil {
			return &UnknownItem{Raw: raw}, nil
		}
		content := make([]OutputText, 0, len(w.Content))
		for _, block := range w.Content {
			if block.Type != wireTypeOutputText {
				return &UnknownItem{Raw: raw}, nil
			}
			content = append(content, OutputText{Text: block.Text, Annotations: block.Annotations})
		}
		return &AssistantMessage{ID: w.ID, Status: w.Status, Content: content}, nil
	}

	return &UnknownItem{Raw: raw}, nil
}

// Items is an ordered conversation history that encodes as a JSON array of
// independently decodable item records.
type Items []Item

// MarshalJSON implements json.Marshaler
func (items Items) MarshalJSON() ([]byte, error) {
	records := make([]json.RawMessage, len(items))
	for i, item := range items {
		data, err := MarshalItem(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		records[i] = data
	}
	return json.Marshal(records)
}

// UnmarshalJSON implements json.Unmarshaler
func (items *Items) UnmarshalJSON(data []byte) error {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode items: %w", err)
	}
	out := make(Items, 0, len(records))
	for i, record := range records {
		item, err := UnmarshalItem(record)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, item)
	}
	*items = out
	return nil
}

// Clone returns a deep copy so editors can rewrite payloads without touching the input
func (items Items) Clone() Items {
	out := make(Items, len(items))
	for i, item := range items {
		out[i] = CloneItem(item)
	}
	return out
}

// CloneItem deep-copies a single item
func CloneItem(item Item) Item {
	switch it := item.(type) {
	case *UserMessage:
		c := *it
		c.Blocks = cloneBlocks(it.Blocks)
		return &c
	case *InstructionMessage:
		c := *it
		c.Blocks = cloneBlocks(it.Blocks)
		return &c
	case *AssistantMessage:
		c := *it
		c.Content = make([]OutputText, len(it.Content))
		for i, block := range it.Content {
			c.Content[i] = OutputText{
				Text:        block.Text,
				Annotations: append([]Annotation(nil), block.Annotations...),
			}
		}
		return &c
	case *FunctionCall:
		c := *it
		return &c
	case *FunctionCallOutput:
		c := *it
		return &c
	case *Reasoning:
		c := *it
		c.Summary = append([]string(nil), it.Summary...)
		return &c
	case *UnknownItem:
		return &UnknownItem{Raw: append(json.RawMessage(nil), it.Raw...)}
	default:
		return item
	}
}

func cloneBlocks(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	for i, block := range blocks {
		out[i] = ContentBlock{Type: block.Type, Text: block.Text, Raw: append(json.RawMessage(nil), block.Raw...)}
	}
	return out
}
