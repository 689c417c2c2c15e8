package tools

import (
	"context"
	"strings"
)

// CompleteTaskTool lets the model signal that its task is finished. Invoking
// it ends the dispatch loop; the completion message becomes the final text
// when the model produced no other output.
type CompleteTaskTool struct{}

func NewCompleteTaskTool() *CompleteTaskTool {
	return &CompleteTaskTool{}
}

func (t *CompleteTaskTool) Name() string {
	return "mark_task_complete"
}

func (t *CompleteTaskTool) Description() string {
	return "Mark the current task as complete. Call this when the user's request has been fully answered."
}

func (t *CompleteTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_summary": map[string]interface{}{
				"type":        "string",
				"description": "Short summary of what was accomplished",
			},
			"completion_message": map[string]interface{}{
				"type":        "string",
				"description": "Final message to present to the user",
			},
		},
		"required": []string{"task_summary", "completion_message"},
	}
}

func (t *CompleteTaskTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	message := strings.TrimSpace(GetStringParam(params, "completion_message", ""))
	if message == "" {
		message = strings.TrimSpace(GetStringParam(params, "task_summary", ""))
	}
	if message == "" {
		message = "Task marked complete."
	}

	return &ToolResult{
		Result:       message,
		TaskComplete: true,
	}
}
