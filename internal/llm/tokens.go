package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	systemMessageOverhead = 2
	perMessageOverhead    = 4
)

var (
	encodingMu    sync.Mutex
	encodingCache = map[string]*tiktoken.Tiktoken{}
)

// encodingForModel resolves a tokenizer for the given model, falling back to
// cl100k_base when the model is unknown to the tokenizer tables. The returned
// bool reports whether the encoding is approximate.
func encodingForModel(model string) (*tiktoken.Tiktoken, bool) {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return enc, false
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		encodingCache[model] = enc
		return enc, false
	}
	if enc, ok := encodingCache["cl100k_base"]; ok {
		return enc, true
	}
	enc, err = tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, true
	}
	encodingCache["cl100k_base"] = enc
	return enc, true
}

// tokenCount counts tokens in text for the given model. When no tokenizer is
// available it estimates roughly four runes per token.
func tokenCount(model, text string) int {
	if text == "" {
		return 0
	}
	enc, _ := encodingForModel(model)
	if enc == nil {
		runes := len([]rune(text))
		return (runes + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateRequestTokens estimates the prompt size of a request, including
// per-message framing overhead. Used for pacing budgets, not billing.
func EstimateRequestTokens(model string, req *CompletionRequest) int {
	if req == nil {
		return 0
	}
	total := 0
	if req.SystemPrompt != "" {
		total += tokenCount(model, req.SystemPrompt) + systemMessageOverhead
	}
	for _, msg := range req.Messages {
		if msg == nil {
			continue
		}
		total += tokenCount(model, msg.Content) + perMessageOverhead
		for _, call := range msg.ToolCalls {
			var sb strings.Builder
			if fn, ok := call["function"].(map[string]interface{}); ok {
				if name, ok := fn["name"].(string); ok {
					sb.WriteString(name)
				}
				if args, ok := fn["arguments"].(string); ok {
					sb.WriteString(args)
				}
			}
			total += tokenCount(model, sb.String())
		}
	}
	return total
}

// EstimatePromptTokens estimates the token count of a bare prompt string.
func EstimatePromptTokens(model, prompt string) int {
	if prompt == "" {
		return 0
	}
	return tokenCount(model, prompt) + perMessageOverhead
}
