package agent

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestItems_RoundTrip(t *testing.T) {
	items := Items{
		&UserMessage{Content: "什麼是複利?"},
		&InstructionMessage{Role: RoleDeveloper, Content: "使用者背景: 退休"},
		&UserMessage{Blocks: []ContentBlock{
			{Type: "input_text", Text: "看這張圖", Raw: json.RawMessage(`{"type":"input_text","text":"看這張圖"}`)},
			{Type: "input_image", Raw: json.RawMessage(`{"type":"input_image","image_url":"https://example.com/chart.png"}`)},
		}},
		&Reasoning{ID: "rs_1", Summary: []string{"thinking"}},
		&FunctionCall{ID: "fc_1", CallID: "call_1", Name: "web_search", Arguments: `{"query":"compound interest"}`, Status: "completed"},
		&FunctionCallOutput{CallID: "call_1", Output: "results"},
		&AssistantMessage{
			ID:     "msg_1",
			Status: "completed",
			Content: []OutputText{{
				Text:        "複利是...",
				Annotations: []Annotation{{Type: "url_citation", Title: "Wiki", URL: "https://example.com"}},
			}},
		},
		&UnknownItem{Raw: json.RawMessage(`{"type":"web_search_call","id":"ws_1","status":"completed"}`)},
	}

	data, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Items
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, items) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, items)
	}
}

func TestUnmarshalItem_Kinds(t *testing.T) {
	tests := []struct {
		name string
		json string
		want ItemKind
	}{
		{"easy user message", `{"role":"user","content":"hi"}`, KindUserMessage},
		{"typed user message", `{"type":"message","role":"user","content":"hi"}`, KindUserMessage},
		{"user content blocks", `{"role":"user","content":[{"type":"input_text","text":"hi"}]}`, KindUserMessage},
		{"user content object", `{"role":"user","content":{"text":"hi"}}`, KindUnknown},
		{"assistant", `{"type":"message","role":"assistant","content":[{"type":"output_text","text":"a","annotations":[]}]}`, KindAssistantMessage},
		{"assistant refusal block", `{"type":"message","role":"assistant","content":[{"type":"refusal","refusal":"no"}]}`, KindUnknown},
		{"function call", `{"type":"function_call","call_id":"c","name":"n","arguments":"{}"}`, KindFunctionCall},
		{"function output", `{"type":"function_call_output","call_id":"c","output":"o"}`, KindFunctionCallOutput},
		{"reasoning", `{"type":"reasoning","summary":[]}`, KindReasoning},
		{"system message", `{"role":"system","content":"x"}`, KindInstructionMessage},
		{"developer blocks", `{"type":"message","role":"developer","content":[{"type":"input_text","text":"x"}]}`, KindInstructionMessage},
		{"tool role", `{"role":"tool","content":"x"}`, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := UnmarshalItem([]byte(tt.json))
			if err != nil {
				t.Fatalf("UnmarshalItem() error = %v", err)
			}
			if item.Kind() != tt.want {
				t.Errorf("Kind() = %s, want %s", item.Kind(), tt.want)
			}
		})
	}
}

func TestUnmarshalItem_Malformed(t *testing.T) {
	if _, err := UnmarshalItem([]byte(`{not json`)); err == nil {
		t.Error("UnmarshalItem() error = nil, want error")
	}
}

func TestUnknownItem_PreservedVerbatim(t *testing.T) {
	raw := `{"type":"future_item","payload":{"a":1}}`
	item, err := UnmarshalItem([]byte(raw))
	if err != nil {
		t.Fatalf("UnmarshalItem() error = %v", err)
	}
	out, err := MarshalItem(item)
	if err != nil {
		t.Fatalf("MarshalItem() error = %v", err)
	}
	if string(out) != raw {
		t.Errorf("MarshalItem() = %s, want %s", out, raw)
	}
}

func TestItems_CloneIsDeep(t *testing.T) {
	orig := Items{&FunctionCallOutput{CallID: "c", Output: "o"}}
	clone := orig.Clone()
	clone[0].(*FunctionCallOutput).Output = "changed"
	if orig[0].(*FunctionCallOutput).Output != "o" {
		t.Error("Clone() shares item storage with the original")
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"string content", `{"role":"user","content":"q1"}`, "q1"},
		{"text blocks", `{"role":"user","content":[{"type":"input_text","text":"second "},{"type":"input_text","text":"question"}]}`, "second question"},
		{"image block has no text", `{"role":"user","content":[{"type":"input_image","image_url":"u"}]}`, ""},
		{"null content", `{"role":"user","content":null}`, ""},
		{"developer note", `{"role":"developer","content":"a long developer note"}`, "a long developer note"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := UnmarshalItem([]byte(tt.json))
			if err != nil {
				t.Fatalf("UnmarshalItem() error = %v", err)
			}
			var got string
			switch it := item.(type) {
			case *UserMessage:
				got = it.Text()
			case *InstructionMessage:
				got = it.Text()
			default:
				t.Fatalf("UnmarshalItem() kind = %s", item.Kind())
			}
			if got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsUserMessage_BlockContent(t *testing.T) {
	block, err := UnmarshalItem([]byte(`{"role":"user","content":[{"type":"input_text","text":"q"}]}`))
	if err != nil {
		t.Fatalf("UnmarshalItem() error = %v", err)
	}
	if !IsUserMessage(block) {
		t.Error("IsUserMessage(block content) = false, want true")
	}
	if IsUserMessage(&InstructionMessage{Role: RoleDeveloper, Content: "x"}) {
		t.Error("IsUserMessage(developer) = true, want false")
	}
}

func TestCloneItem_CopiesBlocks(t *testing.T) {
	orig := &UserMessage{Blocks: []ContentBlock{{Type: "input_text", Text: "q", Raw: json.RawMessage(`{"type":"input_text","text":"q"}`)}}}
	clone := CloneItem(orig).(*UserMessage)
	clone.Blocks[0].Text = "changed"
	clone.Blocks[0].Raw[0] = ' '
	if orig.Blocks[0].Text != "q" || orig.Blocks[0].Raw[0] != '{' {
		t.Error("CloneItem() shares block storage with the original")
	}
}
