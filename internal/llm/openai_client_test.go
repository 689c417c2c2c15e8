package llm

import (
	"encoding/json"
	"testing"
)

func TestRequiresResponsesAPI(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"gpt-4o", false},
		{"gpt-4o-mini", false},
		{"gpt-5", true},
		{"gpt-5.1-codex", true},
		{"o1-preview", true},
		{"o3-mini", true},
		{"gpt-4.1", true},
		{"", false},
	}

	for _, tt := range tests {
		if got := requiresResponsesAPI(tt.model); got != tt.want {
			t.Errorf("requiresResponsesAPI(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestConvertMessagesToOpenAI(t *testing.T) {
	req := &CompletionRequest{
		SystemPrompt: "You are a careful assistant.",
		Messages: []*Message{
			UserMessage("compute 2+2"),
			AssistantMessage("", []map[string]interface{}{
				{
					"id":   "call_1",
					"type": "function",
					"function": map[string]interface{}{
						"name":      "calculate",
						"arguments": `{"expression":"2+2"}`,
					},
				},
			}),
			ToolMessage("call_1", "calculate", "4"),
		},
	}

	messages, err := convertMessagesToOpenAI(req)
	if err != nil {
		t.Fatalf("convertMessagesToOpenAI: %v", err)
	}

	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(messages))
	}
	if messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", messages[0].Role)
	}
	if len(messages[2].ToolCalls) != 1 {
		t.Errorf("assistant message should carry the tool call")
	}
	if messages[3].Role != "tool" || messages[3].ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", messages[3])
	}
	if messages[3].Name != "calculate" {
		t.Errorf("tool message name = %q, want calculate", messages[3].Name)
	}
}

func TestConvertMessagesToOpenAIRejectsEmpty(t *testing.T) {
	if _, err := convertMessagesToOpenAI(&CompletionRequest{}); err == nil {
		t.Fatalf("expected error for empty request")
	}
	if _, err := convertMessagesToOpenAI(nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestExtractOpenAIText(t *testing.T) {
	tests := []struct {
		name    string
		content interface{}
		want    string
	}{
		{"nil", nil, ""},
		{"plain string", "hello", "hello"},
		{
			"content parts",
			[]interface{}{
				map[string]interface{}{"type": "text", "text": "hello "},
				map[string]interface{}{"type": "text", "text": "world"},
			},
			"hello world",
		},
		{
			"nested content",
			map[string]interface{}{"content": "inner"},
			"inner",
		},
		{"raw json", json.RawMessage(`"quoted"`), "quoted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractOpenAIText(tt.content); got != tt.want {
				t.Errorf("extractOpenAIText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConvertOpenAIToolCallsStringifiesArguments(t *testing.T) {
	calls := convertOpenAIToolCalls([]map[string]interface{}{
		{
			"id":   "call_1",
			"type": "function",
			"function": map[string]interface{}{
				"name":      "calculate",
				"arguments": map[string]interface{}{"expression": "6*7"},
			},
		},
	})

	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	args := ToolCallArguments(calls[0])
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(args), &decoded); err != nil {
		t.Fatalf("arguments %q are not valid JSON: %v", args, err)
	}
	if decoded["expression"] != "6*7" {
		t.Errorf("expression = %v", decoded["expression"])
	}
}

func TestIsOpenAITemperatureUnsupported(t *testing.T) {
	if !isOpenAITemperatureUnsupported("o1-mini") {
		t.Errorf("o1 models should not support temperature")
	}
	if isOpenAITemperatureUnsupported("gpt-4o") {
		t.Errorf("gpt-4o supports temperature")
	}
}
