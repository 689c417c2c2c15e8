package llm

import (
	"testing"
)

func TestNormalizeToolCallIDs(t *testing.T) {
	tests := []struct {
		name     string
		call     map[string]interface{}
		expected string
	}{
		{
			name:     "keeps existing id",
			call:     map[string]interface{}{"id": "call_abc"},
			expected: "call_abc",
		},
		{
			name:     "promotes call_id",
			call:     map[string]interface{}{"call_id": "call_xyz"},
			expected: "call_xyz",
		},
		{
			name: "derives from function name",
			call: map[string]interface{}{
				"function": map[string]interface{}{"name": "calculate"},
			},
			expected: "call_calculate_1",
		},
		{
			name: "sanitizes odd characters in names",
			call: map[string]interface{}{
				"function": map[string]interface{}{"name": "read file!"},
			},
			expected: "call_read_file_1",
		},
		{
			name:     "falls back to index",
			call:     map[string]interface{}{},
			expected: "call_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := NormalizeToolCallIDs([]map[string]interface{}{tt.call})
			if got := calls[0]["id"]; got != tt.expected {
				t.Errorf("id = %v, want %v", got, tt.expected)
			}
			if got := calls[0]["call_id"]; got != tt.expected {
				t.Errorf("call_id = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNormalizeToolCallIDsSkipsNil(t *testing.T) {
	calls := NormalizeToolCallIDs([]map[string]interface{}{nil, {"id": "a"}})
	if calls[0] != nil {
		t.Fatalf("expected nil entry to stay nil")
	}
	if calls[1]["id"] != "a" {
		t.Fatalf("expected second entry to keep its id")
	}
}

func TestToolCallAccessors(t *testing.T) {
	call := map[string]interface{}{
		"id": "call_7",
		"function": map[string]interface{}{
			"name":      "calculate",
			"arguments": `{"expression":"1+1"}`,
		},
	}

	if got := ToolCallName(call); got != "calculate" {
		t.Errorf("ToolCallName = %q", got)
	}
	if got := ToolCallArguments(call); got != `{"expression":"1+1"}` {
		t.Errorf("ToolCallArguments = %q", got)
	}
	if got := ToolCallID(call); got != "call_7" {
		t.Errorf("ToolCallID = %q", got)
	}

	if got := ToolCallName(nil); got != "" {
		t.Errorf("ToolCallName(nil) = %q", got)
	}
}
