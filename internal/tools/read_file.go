package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/reviseloop/revise/internal/logger"
)

const maxReadLines = 2000

// ReadFileTool reads files from within a fixed root directory. Paths are
// resolved relative to the root and may not escape it.
type ReadFileTool struct {
	root string
}

func NewReadFileTool(root string) *ReadFileTool {
	if root == "" {
		root = "."
	}
	return &ReadFileTool{root: root}
}

func (t *ReadFileTool) Name() string {
	return "read_file"
}

func (t *ReadFileTool) Description() string {
	return "Read a text file from the working directory. Can read the entire file or a specific line range. Maximum 2000 lines per read."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read (relative to working directory)",
			},
			"from_line": map[string]interface{}{
				"type":        "integer",
				"description": "Starting line number (1-indexed, optional)",
			},
			"to_line": map[string]interface{}{
				"type":        "integer",
				"description": "Ending line number (1-indexed, optional)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	path := GetStringParam(params, "path", "")
	if path == "" {
		return &ToolResult{Error: "path is required"}
	}

	fromLine := GetIntParam(params, "from_line", 0)
	toLine := GetIntParam(params, "to_line", 0)

	resolved, err := t.resolve(path)
	if err != nil {
		logger.Warn("read_file: rejected path %s: %v", path, err)
		return &ToolResult{Error: err.Error()}
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return &ToolResult{Error: fmt.Sprintf("file not found: %s", path)}
		}
		return &ToolResult{Error: fmt.Sprintf("error reading file: %v", err)}
	}

	content := string(data)
	lines := strings.Split(content, "\n")
	totalLines := len(lines)

	switch {
	case fromLine > 0:
		if fromLine > totalLines {
			return &ToolResult{Error: fmt.Sprintf("from_line %d is past the end of the file (%d lines)", fromLine, totalLines)}
		}
		end := toLine
		if end <= 0 || end > totalLines {
			end = totalLines
		}
		if end-fromLine+1 > maxReadLines {
			end = fromLine + maxReadLines - 1
		}
		content = strings.Join(lines[fromLine-1:end], "\n")
	case totalLines > maxReadLines:
		content = strings.Join(lines[:maxReadLines], "\n")
		content += fmt.Sprintf("\n\n[... file truncated, %d total lines, showing first %d. Use from_line and to_line to read more]", totalLines, maxReadLines)
	}

	logger.Debug("read_file: read %s (%d lines)", path, totalLines)

	return &ToolResult{
		Result: map[string]interface{}{
			"path":    path,
			"content": content,
			"lines":   totalLines,
		},
	}
}

func (t *ReadFileTool) resolve(path string) (string, error) {
	rootAbs, err := filepath.Abs(t.root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	joined := filepath.Join(rootAbs, path)
	if joined != rootAbs && !strings.HasPrefix(joined, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working directory: %s", path)
	}
	return joined, nil
}
