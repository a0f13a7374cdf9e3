package contextedit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"advisor/internal/domain/models/agent"
	"advisor/internal/service/agent/tokens"
)

type runeCounter struct{}

func (runeCounter) Count(text string) int { return utf8.RuneCountInString(text) }

// turn builds one user query answered through a tool call
func turn(n int, payload int) []agent.Item {
	callID := fmt.Sprintf("call_%d", n)
	return []agent.Item{
		&agent.UserMessage{Content: fmt.Sprintf("q%d", n)},
		&agent.FunctionCall{CallID: callID, Name: "web_search", Arguments: `{"query":"x"}`},
		&agent.FunctionCallOutput{CallID: callID, Output: strings.Repeat("o", payload)},
		&agent.AssistantMessage{Content: []agent.OutputText{{Text: fmt.Sprintf("a%d", n)}}},
	}
}

func history(payloads ...int) agent.Items {
	var items agent.Items
	for i, p := range payloads {
		items = append(items, turn(i+1, p)...)
	}
	return items
}

func newTestEditor() *Editor {
	return NewEditor(runeCounter{}, DefaultThresholds())
}

func TestEdit_BelowThresholds(t *testing.T) {
	items := history(10, 20)
	res := newTestEditor().Edit(items, 1000)

	if res.Report.Changed() {
		t.Errorf("Report.Changed() = true, want false")
	}
	if !reflect.DeepEqual(res.Items, items) {
		t.Errorf("items changed below thresholds")
	}
	if res.Report.RemainingTurns != 2 {
		t.Errorf("RemainingTurns = %d, want 2", res.Report.RemainingTurns)
	}
}

// prior usage above the tool-output threshold only
func TestEdit_CollapsesToolOutputs(t *testing.T) {
	items := history(10, 20, 30)
	res := newTestEditor().Edit(items, 160000)

	if len(res.Items) != len(items) {
		t.Fatalf("len(items) = %d, want %d", len(res.Items), len(items))
	}
	if res.Report.CollapsedOutputs != 3 {
		t.Errorf("CollapsedOutputs = %d, want 3", res.Report.CollapsedOutputs)
	}
	if res.Report.EvictedTurns != 0 {
		t.Errorf("EvictedTurns = %d, want 0", res.Report.EvictedTurns)
	}
	for i, item := range res.Items {
		if item.Kind() != items[i].Kind() {
			t.Errorf("item %d kind = %s, want %s", i, item.Kind(), items[i].Kind())
		}
		if out, ok := item.(*agent.FunctionCallOutput); ok && out.Output != CollapsedOutput {
			t.Errorf("item %d output = %q, want placeholder", i, out.Output)
		}
	}
	if got, want := len(Partition(res.Items)), len(Partition(items)); got != want {
		t.Errorf("turns = %d, want %d", got, want)
	}

	// input untouched
	if out := items[2].(*agent.FunctionCallOutput); out.Output != strings.Repeat("o", 10) {
		t.Errorf("input was mutated: %q", out.Output)
	}
}

func TestCollapseToolOutputs_Idempotent(t *testing.T) {
	once := history(5, 6).Clone()
	CollapseToolOutputs(once)

	twice := once.Clone()
	if n := CollapseToolOutputs(twice); n != 0 {
		t.Errorf("second collapse changed %d outputs, want 0", n)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("collapse is not idempotent")
	}
}

// chatTurn is a user query and a plain answer costing 2+payload runes
func chatTurn(n int, payload int) []agent.Item {
	return []agent.Item{
		&agent.UserMessage{Content: fmt.Sprintf("q%d", n)},
		&agent.AssistantMessage{Content: []agent.OutputText{{Text: strings.Repeat("a", payload)}}},
	}
}

// 5 turns; turns 1-3 cost 180000, turns 4-5 cost 30000, target 50000
func TestEdit_EvictsOldestTurns(t *testing.T) {
	var items agent.Items
	for i, p := range []int{59998, 59998, 59998, 14998, 14998} {
		items = append(items, chatTurn(i+1, p)...)
	}
	res := newTestEditor().Edit(items, 220000)

	// trace: 210000 -> 150000 -> 90000 -> 30000 (<= 50000, stop)
	if res.Report.EvictedTurns != 3 {
		t.Errorf("EvictedTurns = %d, want 3", res.Report.EvictedTurns)
	}
	if res.Report.RemainingTokens != 30000 {
		t.Errorf("RemainingTokens = %d, want 30000", res.Report.RemainingTokens)
	}

	turns := Partition(res.Items)
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	for i, want := range []string{"q4", "q5"} {
		if got := turns[i][0].(*agent.UserMessage).Content; got != want {
			t.Errorf("turn %d starts with %q, want %q", i, got, want)
		}
	}
	if len(items) != 10 {
		t.Errorf("input was mutated: len = %d", len(items))
	}
}

func TestEdit_EvictionWithoutCollapse(t *testing.T) {
	// eviction threshold below the collapse threshold isolates eviction
	e := NewEditor(runeCounter{}, Thresholds{ToolOutput: 300000, TurnTrim: 200000, TurnTrimTarget: 50000})
	items := history(60000, 60000, 60000, 15000, 15000)
	res := e.Edit(items, 220000)

	if res.Report.CollapsedOutputs != 0 {
		t.Errorf("CollapsedOutputs = %d, want 0", res.Report.CollapsedOutputs)
	}
	want := Flatten(Partition(items)[3:])
	if !reflect.DeepEqual(res.Items, want) {
		t.Errorf("retained items differ from turns 4-5")
	}
	// each surviving turn: "qN" + 15000 + "aN"
	if res.Report.RemainingTokens != 2*(15000+4) {
		t.Errorf("RemainingTokens = %d, want %d", res.Report.RemainingTokens, 2*(15000+4))
	}
}

func TestEdit_KeepsLastTurn(t *testing.T) {
	e := NewEditor(runeCounter{}, Thresholds{ToolOutput: 300000, TurnTrim: 10, TurnTrimTarget: 5})
	items := history(100, 100, 100)
	res := e.Edit(items, 500)

	if res.Report.RemainingTurns != 1 {
		t.Fatalf("RemainingTurns = %d, want 1", res.Report.RemainingTurns)
	}
	if len(res.Items) == 0 {
		t.Fatal("eviction emptied history")
	}
	if res.Report.RemainingTokens > e.counter.Count(strings.Repeat("o", 100))+4 {
		t.Errorf("RemainingTokens = %d", res.Report.RemainingTokens)
	}
}

func TestEdit_Monotonic(t *testing.T) {
	e := NewEditor(runeCounter{}, Thresholds{ToolOutput: 1 << 30, TurnTrim: 1, TurnTrimTarget: 250})

	tests := [][]int{
		{1},
		{100, 100},
		{300, 10, 10},
		{10, 10, 10, 10, 10, 10},
		{1000, 1000, 1000},
	}
	for _, payloads := range tests {
		t.Run(fmt.Sprint(payloads), func(t *testing.T) {
			items := history(payloads...)
			before := 0
			for _, turn := range Partition(items) {
				before += runeCounter{}.Count(tokens.TurnPayload(turn))
			}

			res := e.Edit(items, 2)
			after := res.Report.RemainingTokens
			if after > before {
				t.Errorf("remaining %d > before %d", after, before)
			}
			if after > 250 && res.Report.RemainingTurns != 1 {
				t.Errorf("remaining %d above target with %d turns", after, res.Report.RemainingTurns)
			}
			if res.Report.RemainingTurns < 1 {
				t.Errorf("no turns left")
			}
		})
	}
}

func TestPartition(t *testing.T) {
	user := func(s string) agent.Item { return &agent.UserMessage{Content: s} }
	reasoning := &agent.Reasoning{ID: "r"}
	answer := &agent.AssistantMessage{Content: []agent.OutputText{{Text: "a"}}}

	tests := []struct {
		name  string
		items agent.Items
		turns int
	}{
		{"empty", nil, 0},
		{"single user", agent.Items{user("a")}, 1},
		{"leading non-user", agent.Items{reasoning, user("a"), answer}, 2},
		{"consecutive users", agent.Items{user("a"), user("b")}, 2},
		{"two turns", agent.Items{user("a"), answer, user("b"), answer}, 2},
		{"block user opens a turn", agent.Items{user("a"), answer, &agent.UserMessage{Blocks: []agent.ContentBlock{{Type: "input_text", Text: "b"}}}, answer}, 2},
		{"developer note stays in its turn", agent.Items{user("a"), answer, &agent.InstructionMessage{Role: agent.RoleDeveloper, Content: "n"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns := Partition(tt.items)
			if len(turns) != tt.turns {
				t.Errorf("len(turns) = %d, want %d", len(turns), tt.turns)
			}
			flat := Flatten(turns)
			if len(flat) != len(tt.items) {
				t.Fatalf("flatten len = %d, want %d", len(flat), len(tt.items))
			}
			for i := range flat {
				if flat[i] != tt.items[i] {
					t.Errorf("item %d differs after round trip", i)
				}
			}
		})
	}
}

func TestPartition_StoredMessageShapes(t *testing.T) {
	var items agent.Items
	stored := `[
		{"role":"user","content":"q1"},
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"a1","annotations":[]}]},
		{"role":"user","content":[{"type":"input_text","text":"second question here"}]},
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"a2","annotations":[]}]},
		{"role":"developer","content":"a long developer note"}
	]`
	if err := json.Unmarshal([]byte(stored), &items); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	turns := Partition(items)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if got := tokens.TurnPayload(turns[1]); got != "second question herea2a long developer note" {
		t.Errorf("second turn payload = %q", got)
	}
}
