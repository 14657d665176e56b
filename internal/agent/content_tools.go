package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hattiebot/familiar/internal/core"
)

// Some models write tool calls into the message text instead of using tool_calls:
// <function_calls><invoke name="..."><arg name="...">value</arg></invoke></function_calls>
var (
	invokeRx        = regexp.MustCompile(`(?s)<invoke\s+name="([^"]+)"\s*>(.*?)</invoke>`)
	argRx           = regexp.MustCompile(`(?s)<arg\s+name="([^"]+)"\s*>(.*?)</arg>`)
	functionCallsRx = regexp.MustCompile(`(?s)\s*<function_calls>.*?</function_calls>\s*`)
)

// Pipe-style markers (<|tool_calls_section_begin|> ... <|tool_call_begin|> name <|tool_call_argument_begin|> {...} <|tool_call_end|>).
const (
	pipeSectionBegin = "<|tool_calls_section_begin|>"
	pipeCallBegin    = "<|tool_call_begin|>"
	pipeArgBegin     = "<|tool_call_argument_begin|>"
	pipeCallEnd      = "<|tool_call_end|>"
)

var (
	pipeSectionRx = regexp.MustCompile(`(?s)<\|tool_calls_section_begin\|>.*?<\|tool_calls_section_end\|>\s*`)
	pipeCallRx    = regexp.MustCompile(`(?s)<\|tool_call_begin\|>.*?<\|tool_call_end\|>\s*`)
	pipeLooseRx   = regexp.MustCompile(`<\|tool_calls_section_(?:begin|end)\|>\s*|<\|tool_call_end\|>\s*|<\|tool_call_(?:argument_)?begin\|>[\s\S]*`)
)

// StripInlineToolCallMarkers removes inline tool-call markup so it never reaches the user.
func StripInlineToolCallMarkers(content string) string {
	s := pipeSectionRx.ReplaceAllString(content, "")
	s = pipeCallRx.ReplaceAllString(s, "")
	s = pipeLooseRx.ReplaceAllString(s, "")
	s = functionCallsRx.ReplaceAllString(s, " ")
	s = invokeRx.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseContentToolCalls extracts XML-like or pipe-style tool calls from model text.
// It returns the calls with empty ids and the text with the markup removed; with no
// calls found it returns nil and the content unchanged.
func ParseContentToolCalls(content string) ([]core.ToolCall, string) {
	if calls, cleaned := parsePipeStyle(content); len(calls) > 0 {
		return calls, cleaned
	}

	raw := content
	if start := strings.Index(raw, "<function_calls>"); start != -1 {
		if end := strings.Index(raw, "</function_calls>"); end > start {
			raw = raw[start+len("<function_calls>") : end]
		}
	}
	invokes := invokeRx.FindAllStringSubmatch(raw, -1)
	if len(invokes) == 0 {
		return nil, content
	}
	var calls []core.ToolCall
	for _, m := range invokes {
		args := make(map[string]any)
		for _, am := range argRx.FindAllStringSubmatch(m[2], -1) {
			args[strings.TrimSpace(am[1])] = argValue(strings.TrimSpace(am[2]))
		}
		b, err := json.Marshal(args)
		if err != nil {
			continue
		}
		calls = append(calls, core.NewToolCall("", strings.TrimSpace(m[1]), string(b)))
	}
	if len(calls) == 0 {
		return nil, content
	}
	return calls, StripInlineToolCallMarkers(content)
}

// argValue keeps JSON literals (numbers, arrays, objects, booleans) typed and
// everything else as a string.
func argValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		if _, isString := v.(string); !isString {
			return v
		}
	}
	return s
}

func parsePipeStyle(content string) ([]core.ToolCall, string) {
	if !strings.Contains(content, pipeSectionBegin) && !strings.Contains(content, pipeCallBegin) {
		return nil, content
	}
	var calls []core.ToolCall
	rest := content
	for {
		begin := strings.Index(rest, pipeCallBegin)
		if begin == -1 {
			break
		}
		after := rest[begin+len(pipeCallBegin):]
		argStart := strings.Index(after, pipeArgBegin)
		if argStart == -1 {
			break
		}
		argsPart := after[argStart+len(pipeArgBegin):]
		end := strings.Index(argsPart, pipeCallEnd)
		if end == -1 {
			break
		}
		name := pipeName(after[:argStart])
		args := strings.TrimSpace(argsPart[:end])
		if args == "" {
			args = "{}"
		}
		if name != "" && json.Valid([]byte(args)) {
			calls = append(calls, core.NewToolCall("", name, args))
		}
		rest = argsPart[end+len(pipeCallEnd):]
	}
	if len(calls) == 0 {
		return nil, content
	}
	return calls, StripInlineToolCallMarkers(content)
}

// pipeName normalizes "functions.getWeather:0" to "getWeather".
func pipeName(raw string) string {
	name := strings.TrimSpace(raw)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}
