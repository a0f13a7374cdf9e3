// Package contextedit bounds the conversation history replayed to the model.
//
// Two policies run in order, each gated on the prior turn's token usage:
// tool outputs are collapsed to a placeholder, then whole turns are evicted
// oldest first until the history fits the target.
package contextedit

import (
	"advisor/internal/domain/models/agent"
	"advisor/internal/service/agent/tokens"
)

// CollapsedOutput replaces every tool result once tool-output collapsing triggers
const CollapsedOutput = "Tool results removed (context limit). Re-run the tool if needed."

// Default thresholds (tokens)
const (
	DefaultToolOutputThreshold = 150000
	DefaultTurnTrimThreshold   = 200000
	DefaultTurnTrimTarget      = 50000
)

// TextCounter prices a plain string
type TextCounter interface {
	Count(text string) int
}

// Thresholds configures both editing policies
type Thresholds struct {
	ToolOutput     int
	TurnTrim       int
	TurnTrimTarget int
}

// DefaultThresholds returns the production thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		ToolOutput:     DefaultToolOutputThreshold,
		TurnTrim:       DefaultTurnTrimThreshold,
		TurnTrimTarget: DefaultTurnTrimTarget,
	}
}

// Report describes what an edit did
type Report struct {
	PriorUsage       int
	CollapsedOutputs int
	EvictedTurns     int
	RemainingTurns   int
	// RemainingTokens is the summed payload cost of surviving turns; only set when eviction ran
	RemainingTokens int
}

// Changed reports whether any policy modified the history
func (r Report) Changed() bool {
	return r.CollapsedOutputs > 0 || r.EvictedTurns > 0
}

// Result is the edited history plus its report
type Result struct {
	Items  agent.Items
	Report Report
}

// Editor applies the context policies. It is stateless and safe for concurrent use.
type Editor struct {
	counter    TextCounter
	thresholds Thresholds
}

// NewEditor creates an editor. Zero thresholds fall back to the defaults.
func NewEditor(counter TextCounter, thresholds Thresholds) *Editor {
	def := DefaultThresholds()
	if thresholds.ToolOutput <= 0 {
		thresholds.ToolOutput = def.ToolOutput
	}
	if thresholds.TurnTrim <= 0 {
		thresholds.TurnTrim = def.TurnTrim
	}
	if thresholds.TurnTrimTarget <= 0 {
		thresholds.TurnTrimTarget = def.TurnTrimTarget
	}
	return &Editor{counter: counter, thresholds: thresholds}
}

// Thresholds returns the effective thresholds
func (e *Editor) Thresholds() Thresholds {
	return e.thresholds
}

// Edit returns the history to replay given the prior turn's total token usage.
// items is never modified; edited items are copies.
func (e *Editor) Edit(items agent.Items, priorUsage int) Result {
	report := Report{PriorUsage: priorUsage}

	collapse := priorUsage > e.thresholds.ToolOutput
	evict := priorUsage > e.thresholds.TurnTrim
	if !collapse && !evict {
		report.RemainingTurns = len(Partition(items))
		return Result{Items: items, Report: report}
	}

	out := items.Clone()

	if collapse {
		report.CollapsedOutputs = CollapseToolOutputs(out)
	}

	turns := Partition(out)
	if evict {
		var kept [][]agent.Item
		kept, report.RemainingTokens = e.evict(turns)
		report.EvictedTurns = len(turns) - len(kept)
		turns = kept
	}
	report.RemainingTurns = len(turns)

	return Result{Items: Flatten(turns), Report: report}
}

// evict drops the oldest turns while the total exceeds the target and more than one turn remains
func (e *Editor) evict(turns [][]agent.Item) ([][]agent.Item, int) {
	costs := make([]int, len(turns))
	total := 0
	for i, turn := range turns {
		costs[i] = e.counter.Count(tokens.TurnPayload(turn))
		total += costs[i]
	}

	start := 0
	for total > e.thresholds.TurnTrimTarget && len(turns)-start > 1 {
		total -= costs[start]
		start++
	}
	return turns[start:], total
}

// CollapseToolOutputs rewrites every tool result in place and returns how many
// were changed. Applying it twice is the same as applying it once.
func CollapseToolOutputs(items agent.Items) int {
	changed := 0
	for _, item := range items {
		out, ok := item.(*agent.FunctionCallOutput)
		if !ok {
			continue
		}
		if out.Output != CollapsedOutput {
			out.Output = CollapsedOutput
			changed++
		}
	}
	return changed
}

// Partition splits items into turns. A user message starts a new turn unless
// the current turn is still empty; items before the first user message form
// their own leading turn.
func Partition(items agent.Items) [][]agent.Item {
	var turns [][]agent.Item
	var current []agent.Item
	for _, item := range items {
		if agent.IsUserMessage(item) && len(current) > 0 {
			turns = append(turns, current)
			current = nil
		}
		current = append(current, item)
	}
	if len(current) > 0 {
		turns = append(turns, current)
	}
	return turns
}

// Flatten concatenates turns back into one history
func Flatten(turns [][]agent.Item) agent.Items {
	n := 0
	for _, turn := range turns {
		n += len(turn)
	}
	out := make(agent.Items, 0, n)
	for _, turn := range turns {
		out = append(out, turn...)
	}
	return out
}
