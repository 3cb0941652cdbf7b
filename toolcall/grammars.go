package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
)

// FileListTool is the tool the FileListGrammar recognizes by name.
const FileListTool = "get_local_file_list"

// TagGrammar matches [TOOL]name{json}[/TOOL]. The braces are part of the
// JSON object; blocks whose body is not valid JSON are skipped.
type TagGrammar struct{}

var tagPattern = regexp.MustCompile(`(?s)\[TOOL\](.*?)\{(.*?)\}\[/TOOL\]`)

func (TagGrammar) Name() string { return "tag" }

func (TagGrammar) TryParse(text string) ([]Invocation, bool) {
	var out []Invocation
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		var params map[string]any
		if err := json.Unmarshal([]byte("{"+strings.TrimSpace(m[2])+"}"), &params); err != nil {
			continue
		}
		if inv, ok := newInvocation(m[1], params); ok {
			out = append(out, inv)
		}
	}
	return out, len(out) > 0
}

// FileListGrammar handles get_local_file_list written as a call. Three
// spellings are tried in order and the first one with matches wins:
//
//	get_local_file_list(path=".")
//	get_local_file_list(".")
//	get_local_file_list({"path": "."})
//
// If the name appears with none of them, one call with path "." is
// returned.
type FileListGrammar struct{}

var fileListPatterns = []*regexp.Regexp{
	regexp.MustCompile(`get_local_file_list\s*\(\s*path\s*=\s*['"]([^'"]+)['"]\s*\)`),
	regexp.MustCompile(`get_local_file_list\s*\(\s*['"]([^'"]+)['"]\s*\)`),
	regexp.MustCompile(`get_local_file_list\s*\(\s*\{\s*['"]path['"]\s*:\s*['"]([^'"]+)['"]\s*\}\s*\)`),
}

func (FileListGrammar) Name() string { return "file_list" }

func (FileListGrammar) TryParse(text string) ([]Invocation, bool) {
	if !strings.Contains(text, FileListTool) {
		return nil, false
	}
	for _, pattern := range fileListPatterns {
		matches := pattern.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			continue
		}
		out := make([]Invocation, 0, len(matches))
		for _, m := range matches {
			out = append(out, Invocation{Name: FileListTool, Parameters: map[string]any{"path": m[1]}})
		}
		return out, true
	}
	return []Invocation{{Name: FileListTool, Parameters: map[string]any{"path": "."}}}, true
}

// FunctionCallsGrammar matches <invoke name="..."> blocks holding
// <parameter name="...">value</parameter> children. It only applies when a
// <function_calls> block is present. Parameter values that parse as JSON
// keep their JSON type; anything else is kept as trimmed text.
type FunctionCallsGrammar struct{}

var (
	functionCallsOpen = regexp.MustCompile(`<(?:antml:)?function_calls>`)
	invokePattern     = regexp.MustCompile(`(?s)<(?:antml:)?invoke name="([^"]+)">(.*?)</(?:antml:)?invoke>`)
	parameterPattern  = regexp.MustCompile(`(?s)<(?:antml:)?parameter name="([^"]+)">(.*?)</(?:antml:)?parameter>`)
)

func (FunctionCallsGrammar) Name() string { return "function_calls" }

func (FunctionCallsGrammar) TryParse(text string) ([]Invocation, bool) {
	if !functionCallsOpen.MatchString(text) {
		return nil, false
	}
	var out []Invocation
	for _, m := range invokePattern.FindAllStringSubmatch(text, -1) {
		params := make(map[string]any)
		for _, p := range parameterPattern.FindAllStringSubmatch(m[2], -1) {
			params[p[1]] = decodeLoose(strings.TrimSpace(p[2]))
		}
		if inv, ok := newInvocation(m[1], params); ok {
			out = append(out, inv)
		}
	}
	return out, len(out) > 0
}

// JSONGrammar reads tool_use objects from ```json fenced blocks, or when
// there are none, from the widest {...} span containing "type":"tool_use".
// An object may be a tool_use itself or carry a content array of them.
type JSONGrammar struct{}

var (
	jsonFencePattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	toolUsePattern   = regexp.MustCompile(`(?s)\{.*"type"\s*:\s*"tool_use".*\}`)
)

func (JSONGrammar) Name() string { return "json" }

func (JSONGrammar) TryParse(text string) ([]Invocation, bool) {
	var blocks []string
	for _, m := range jsonFencePattern.FindAllStringSubmatch(text, -1) {
		blocks = append(blocks, m[1])
	}
	if len(blocks) == 0 {
		blocks = toolUsePattern.FindAllString(text, -1)
	}

	var out []Invocation
	for _, block := range blocks {
		var data map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &data); err != nil {
			continue
		}
		if content, ok := data["content"]; ok {
			items, _ := content.([]any)
			for _, item := range items {
				if obj, ok := item.(map[string]any); ok {
					out = appendToolUse(out, obj)
				}
			}
			continue
		}
		out = appendToolUse(out, data)
	}
	return out, len(out) > 0
}

func appendToolUse(out []Invocation, obj map[string]any) []Invocation {
	if obj["type"] != "tool_use" {
		return out
	}
	name, _ := obj["name"].(string)
	input, _ := obj["input"].(map[string]any)
	if inv, ok := newInvocation(name, input); ok {
		out = append(out, inv)
	}
	return out
}

// TerseGrammar matches Tool: name(k1=v1, k2=v2). Pairs split on the first
// "=". A value wrapped in double quotes is unquoted, then decoded as JSON
// when possible. Values cannot contain commas or ")".
type TerseGrammar struct{}

var tersePattern = regexp.MustCompile(`Tool:\s*(\w+)\(([^)]*)\)`)

func (TerseGrammar) Name() string { return "terse" }

func (TerseGrammar) TryParse(text string) ([]Invocation, bool) {
	var out []Invocation
	for _, m := range tersePattern.FindAllStringSubmatch(text, -1) {
		params := make(map[string]any)
		for _, item := range strings.Split(m[2], ",") {
			key, value, found := strings.Cut(item, "=")
			if !found {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
				value = value[1 : len(value)-1]
			}
			params[key] = decodeLoose(value)
		}
		if inv, ok := newInvocation(m[1], params); ok {
			out = append(out, inv)
		}
	}
	return out, len(out) > 0
}
