package llmclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hattiebot/familiar/internal/core"
)

type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatCompletionStream sends a streaming request. onDelta receives each content fragment
// in order; the assembled message, including any tool calls, is returned when the
// stream ends. Streaming requests are not retried.
func (c *Client) ChatCompletionStream(ctx context.Context, req core.CompletionRequest, onDelta func(string)) (_ *core.Completion, err error) {
	ctx, span := c.startSpan(ctx, "llm.chat_completion_stream", req, true)
	start := time.Now()
	defer func() { c.finish(span, "stream", start, err) }()

	raw, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	httpReq, err := c.newHTTPRequest(ctx, raw)
	if err != nil {
		return nil, transportErr("build request", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, transportErr("chat completion stream", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	return readStream(resp.Body, onDelta)
}

// readStream parses server-sent events until "data: [DONE]" or EOF.
func readStream(r io.Reader, onDelta func(string)) (*core.Completion, error) {
	var (
		content strings.Builder
		out     core.Completion
		calls   = map[int]*core.ToolCall{}
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, transportErr("decode stream chunk", err)
		}
		if chunk.Error != nil {
			return nil, transportErr("chat completion stream", errors.New(chunk.Error.Message))
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if onDelta != nil {
					onDelta(choice.Delta.Content)
				}
			}
			for _, d := range choice.Delta.ToolCalls {
				tc, ok := calls[d.Index]
				if !ok {
					tc = &core.ToolCall{Type: "function"}
					calls[d.Index] = tc
				}
				if d.ID != "" {
					tc.ID = d.ID
				}
				if d.Type != "" {
					tc.Type = d.Type
				}
				tc.Function.Name += d.Function.Name
				tc.Function.Arguments += d.Function.Arguments
			}
			if choice.FinishReason != "" {
				out.FinishReason = choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, transportErr("read stream", err)
	}

	out.Content = content.String()
	if len(calls) > 0 {
		idx := make([]int, 0, len(calls))
		for i := range calls {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			if calls[i].Function.Name == "" {
				return nil, transportErr("chat completion stream", fmt.Errorf("tool call %d has no name", i))
			}
			out.ToolCalls = append(out.ToolCalls, *calls[i])
		}
	}
	return &out, nil
}
