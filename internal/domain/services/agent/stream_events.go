package agent

import "advisor/internal/domain/models/agent"

// StreamEvent is the closed set of provider signals produced by Runner.RunStreamed.
// Consumers switch on the concrete type and ignore variants they do not know.
type StreamEvent interface {
	streamEvent()
}

// TextDelta is an incremental piece of answer text
type TextDelta struct {
	Delta string
}

// ReasoningStarted signals that the model opened a reasoning block
type ReasoningStarted struct{}

// ReasoningDone carries the finalized reasoning item
type ReasoningDone struct {
	Item *agent.Reasoning
}

// ToolCallStarted carries a complete function call requested by the model
type ToolCallStarted struct {
	Item *agent.FunctionCall
}

// ToolCallOutput carries the output returned to the model for a call
type ToolCallOutput struct {
	Item *agent.FunctionCallOutput
}

// MessageDone carries the finalized assistant message of one model call
type MessageDone struct {
	Item *agent.AssistantMessage
}

// ResponseCompleted is emitted after every model call with its usage
type ResponseCompleted struct {
	Model string
	Usage agent.TokenUsage
}

// StreamFailed is the last event of a failed run
type StreamFailed struct {
	Err error
}

func (*TextDelta) streamEvent()         {}
func (*ReasoningStarted) streamEvent()  {}
func (*ReasoningDone) streamEvent()     {}
func (*ToolCallStarted) streamEvent()   {}
func (*ToolCallOutput) streamEvent()    {}
func (*MessageDone) streamEvent()       {}
func (*ResponseCompleted) streamEvent() {}
func (*StreamFailed) streamEvent()      {}
