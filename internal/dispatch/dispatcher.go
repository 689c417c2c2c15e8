// Package dispatch runs the bounded agentic sub-loop: a conversation with a
// tool-empowered model that executes requested tools and folds their results
// back into context until the model answers in plain text, signals
// completion, or hits the hard call cap.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reviseloop/revise/internal/llm"
	"github.com/reviseloop/revise/internal/logger"
	"github.com/reviseloop/revise/internal/progress"
	"github.com/reviseloop/revise/internal/tools"
)

// CapSentinel is appended to the output when the dispatcher forcibly
// terminates a pass. It is a circuit breaker, not a graceful completion.
const CapSentinel = "[TOO MANY TOOL CALLS]"

// DefaultToolCallCap bounds tool executions per pass.
const DefaultToolCallCap = 6

// ToolCallRecord captures one tool invocation within a pass. The cumulative
// record count is the authority for cap enforcement.
type ToolCallRecord struct {
	CallID    string                 `json:"call_id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    string                 `json:"result"`
	Sequence  int                    `json:"sequence"`
	IsError   bool                   `json:"is_error,omitempty"`
}

// Result is the outcome of one dispatch pass.
type Result struct {
	// Text is the accumulated model output, including the cap sentinel on
	// forced termination.
	Text string
	// CapExceeded reports forced termination.
	CapExceeded bool
	// TaskComplete reports that the model invoked a completion tool.
	TaskComplete bool
	// Records lists every tool invocation in order.
	Records []ToolCallRecord
	// ModelCalls counts gateway invocations; never more than cap+1.
	ModelCalls int
}

// Dispatcher drives the sub-loop. Zero-value caps fall back to defaults.
type Dispatcher struct {
	client   llm.Client
	registry *tools.Registry
	cap      int
	log      *logger.Logger
}

// New creates a Dispatcher. cap <= 0 selects DefaultToolCallCap.
func New(client llm.Client, registry *tools.Registry, cap int) *Dispatcher {
	if cap <= 0 {
		cap = DefaultToolCallCap
	}
	return &Dispatcher{
		client:   client,
		registry: registry,
		cap:      cap,
		log:      logger.Global().WithPrefix("dispatch"),
	}
}

// Request carries the seed conversation and generation parameters for one pass.
type Request struct {
	Messages     []*llm.Message
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Session      int
	Progress     progress.Callback
}

// Run executes the sub-loop until the model stops requesting tools, a tool
// marks the task complete, or the cap forces termination. Transport errors
// abort the pass and surface as errors; tool failures never do.
func (d *Dispatcher) Run(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("dispatch request cannot be nil")
	}

	conversation := make([]*llm.Message, len(req.Messages))
	copy(conversation, req.Messages)

	result := &Result{}
	var output strings.Builder
	schemas := d.registry.ToJSONSchema()

	for {
		resp, err := d.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
			Messages:     conversation,
			Tools:        schemas,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
			SystemPrompt: req.SystemPrompt,
		})
		if err != nil {
			return nil, err
		}
		result.ModelCalls++

		if resp.Content != "" {
			if output.Len() > 0 {
				output.WriteString("\n")
			}
			output.WriteString(resp.Content)
		}

		if !resp.HasToolCalls() {
			break
		}

		toolCalls := llm.NormalizeToolCallIDs(resp.ToolCalls)
		conversation = append(conversation, llm.AssistantMessage(resp.Content, toolCalls))

		capped, done := d.executeCalls(ctx, req, toolCalls, result, &conversation)
		if capped {
			result.CapExceeded = true
			if output.Len() > 0 {
				output.WriteString("\n")
			}
			output.WriteString(CapSentinel)
			break
		}
		if done {
			result.TaskComplete = true
			break
		}
	}

	result.Text = output.String()

	// A completion tool invoked without any surrounding model text supplies
	// the final answer itself.
	if result.TaskComplete && strings.TrimSpace(result.Text) == "" && len(result.Records) > 0 {
		result.Text = result.Records[len(result.Records)-1].Result
	}
	return result, nil
}

// executeCalls runs the requested tools in order, appending a tool message
// per call. It reports whether the cap was hit and whether a tool marked the
// task complete.
func (d *Dispatcher) executeCalls(ctx context.Context, req *Request, toolCalls []map[string]interface{}, result *Result, conversation *[]*llm.Message) (capped, done bool) {
	for _, raw := range toolCalls {
		if len(result.Records) >= d.cap {
			d.log.Warn("tool call cap (%d) exceeded, forcing termination", d.cap)
			return true, false
		}

		call := parseCall(raw, len(result.Records)+1)
		progress.Status(req.Progress, req.Session, 0, fmt.Sprintf("Running tool %s...", call.Name))
		d.log.Debug("executing tool %s (call %s)", call.Name, call.ID)

		toolResult := d.registry.Execute(ctx, &tools.ToolCall{
			ID:         call.ID,
			Name:       call.Name,
			Parameters: call.Parameters,
		})

		record := ToolCallRecord{
			CallID:    call.ID,
			ToolName:  call.Name,
			Arguments: call.Parameters,
			Sequence:  len(result.Records) + 1,
		}

		var content string
		if toolResult.Error != "" {
			record.IsError = true
			record.Result = toolResult.Error
			content = fmt.Sprintf("Error: %s", toolResult.Error)
		} else {
			content = stringifyResult(toolResult.Result)
			record.Result = content
		}
		result.Records = append(result.Records, record)

		*conversation = append(*conversation, llm.ToolMessage(call.ID, call.Name, content))

		if toolResult.TaskComplete {
			return false, true
		}
	}
	return false, false
}

type parsedCall struct {
	ID         string
	Name       string
	Parameters map[string]interface{}
}

// parseCall extracts name, id, and arguments from a raw tool call map.
// Malformed argument JSON is converted to an empty parameter set; the tool
// itself will report the missing parameters back to the model.
func parseCall(raw map[string]interface{}, sequence int) parsedCall {
	call := parsedCall{
		ID:         llm.ToolCallID(raw),
		Name:       llm.ToolCallName(raw),
		Parameters: map[string]interface{}{},
	}
	if call.ID == "" {
		call.ID = fmt.Sprintf("call_%d", sequence)
	}

	args := llm.ToolCallArguments(raw)
	if strings.TrimSpace(args) != "" {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(args), &decoded); err == nil {
			call.Parameters = decoded
		} else {
			logger.Warn("malformed tool arguments for %s: %v", call.Name, err)
		}
	}
	return call
}

func stringifyResult(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
