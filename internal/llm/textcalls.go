package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// unmarshalJSON decodes data into v, repairing malformed JSON (trailing
// commas, single quotes, unclosed braces) when the first attempt fails
// with a syntax error. Small local models produce these regularly.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

// textCall is the JSON shape models use when they write a tool call
// into the content instead of the native tool_calls field.
type textCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextToolCalls extracts tool calls that a model wrote as text.
// Recognized forms:
//   - raw JSON object: {"name": "...", "arguments": {...}}
//   - JSON array of such objects
//   - <tool_call>...</tool_call> tags
//   - Mistral's [TOOL_CALLS] prefix
//   - a ```json fenced block
//
// Only calls whose name appears in valid are returned. An empty valid
// list means no tools were offered, so nothing is accepted.
func parseTextToolCalls(content string, valid []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" || len(valid) == 0 {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}
	content = strings.TrimSpace(strings.TrimPrefix(content, "[TOOL_CALLS]"))
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content), "```"))
	}

	if content == "" || (content[0] != '{' && content[0] != '[') {
		return nil
	}

	allowed := make(map[string]bool, len(valid))
	for _, name := range valid {
		allowed[name] = true
	}

	var calls []textCall
	if content[0] == '[' {
		if err := unmarshalJSON([]byte(content), &calls); err != nil {
			return nil
		}
	} else {
		var single textCall
		if err := unmarshalJSON([]byte(content), &single); err != nil {
			return nil
		}
		calls = []textCall{single}
	}

	var result []ToolCall
	for _, c := range calls {
		if !allowed[c.Name] {
			continue
		}
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		result = append(result, ToolCall{Function: FunctionCall{Name: c.Name, Arguments: args}})
	}
	return result
}

// promoteTextToolCalls moves text-encoded tool calls into
// msg.ToolCalls when the provider returned none natively.
func promoteTextToolCalls(msg *Message, tools []map[string]any) {
	if len(msg.ToolCalls) > 0 || msg.Content == "" || len(tools) == 0 {
		return
	}
	if parsed := parseTextToolCalls(msg.Content, toolNames(tools)); len(parsed) > 0 {
		msg.ToolCalls = parsed
		msg.Content = ""
	}
}
