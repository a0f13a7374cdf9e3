package agent

import (
	"encoding/json"
	"fmt"
)

// Event message markers
const (
	MessageThinkStart = "THINK_START"
	MessageThinkText  = "THINK_TEXT"
	MessageCallTool   = "CALL_TOOL"
	MessageDone       = "DONE"
	MessageError      = "ERROR"
)

// Event is one outward SSE unit. Exactly one of Content, Message or
// FollowingQuestions identifies the event; the remaining fields are payload.
//
// SSE format:
//
//	data: {"content": "..."}
type Event struct {
	Content            string   `json:"content,omitempty"`
	Message            string   `json:"message,omitempty"`
	Summary            string   `json:"summary,omitempty"`
	ToolName           string   `json:"tool_name,omitempty"`
	Arguments          string   `json:"arguments,omitempty"`
	FollowingQuestions []string `json:"following_questions,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// ContentEvent carries answer text (a delta while streaming, the whole refusal when rejected)
func ContentEvent(text string) Event {
	return Event{Content: text}
}

// ThinkStartEvent signals that a reasoning block opened
func ThinkStartEvent() Event {
	return Event{Message: MessageThinkStart}
}

// ThinkTextEvent carries a finalized reasoning summary
func ThinkTextEvent(summary string) Event {
	return Event{Message: MessageThinkText, Summary: summary}
}

// CallToolEvent announces a tool invocation
func CallToolEvent(name, arguments string) Event {
	return Event{Message: MessageCallTool, ToolName: name, Arguments: arguments}
}

// FollowingQuestionsEvent carries the suggested follow-up questions
func FollowingQuestionsEvent(questions []string) Event {
	return Event{FollowingQuestions: questions}
}

// DoneEvent terminates a successful stream
func DoneEvent() Event {
	return Event{Message: MessageDone}
}

// ErrorEvent terminates an aborted stream
func ErrorEvent(msg string) Event {
	return Event{Message: MessageError, Error: msg}
}

// IsTerminal reports whether the caller should close the stream after this event
func (e Event) IsTerminal() bool {
	return e.Message == MessageDone || e.Message == MessageError
}

// IsContent reports whether the event is an answer text event
func (e Event) IsContent() bool {
	return e.Message == "" && e.FollowingQuestions == nil && e.Content != ""
}

// FormatSSE formats an event for transmission as a single data line
func FormatSSE(e Event) (string, error) {
	jsonData, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal SSE event data: %w", err)
	}
	return fmt.Sprintf("data: %s\n\n", jsonData), nil
}

// OutputLog accumulates the persisted subset of a turn's events.
// Consecutive content deltas are coalesced into one record.
type OutputLog struct {
	events []Event
}

// Append records e, merging it into the previous record when both are content
func (l *OutputLog) Append(e Event) {
	if e.IsContent() && len(l.events) > 0 && l.events[len(l.events)-1].IsContent() {
		l.events[len(l.events)-1].Content += e.Content
		return
	}
	l.events = append(l.events, e)
}

// Events returns the recorded events
func (l *OutputLog) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Text returns all recorded answer text
func (l *OutputLog) Text() string {
	var text string
	for _, e := range l.events {
		if e.IsContent() {
			text += e.Content
		}
	}
	return text
}
