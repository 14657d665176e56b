package store

import (
	"context"

	"github.com/hattiebot/familiar/internal/core"
)

// ProviderMessages returns the last limit messages of a conversation in provider format.
// The result is a pure function of the stored rows, so repeated calls on an unchanged
// store are identical.
func (db *DB) ProviderMessages(ctx context.Context, conversation string, limit int) ([]core.Message, error) {
	msgs, err := db.RecentMessages(ctx, conversation, limit)
	if err != nil {
		return nil, err
	}
	return ToProviderFormat(msgs), nil
}

// ToProviderFormat projects stored messages into provider format.
//
// Providers reject a transcript in which a tool call has no answer or a tool answer has
// no call, so incomplete turns are dropped: tool messages whose assistant message is not
// in the window (or was cleared), and assistant tool-call messages that are not followed
// by an answer for every call, together with the answers they did get.
func ToProviderFormat(msgs []Message) []core.Message {
	out := make([]core.Message, 0, len(msgs))

	var (
		group   []core.Message
		pending map[string]bool
	)
	flushIfComplete := func() {
		if group != nil && len(pending) == 0 {
			out = append(out, group...)
			group, pending = nil, nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case core.RoleTool:
			id := deref(m.ToolCallID)
			if group == nil || !pending[id] {
				continue
			}
			delete(pending, id)
			group = append(group, core.Message{Role: core.RoleTool, ToolCallID: id, Content: deref(m.Content)})
			flushIfComplete()
		case core.RoleAssistant:
			// A new assistant message ends any open tool group; an unfinished one is dropped.
			group, pending = nil, nil
			pm := core.Message{Role: core.RoleAssistant, Content: deref(m.Content)}
			if len(m.ToolCalls) == 0 {
				out = append(out, pm)
				continue
			}
			pending = make(map[string]bool, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				pm.ToolCalls = append(pm.ToolCalls, core.NewToolCall(tc.CallID, tc.ToolName, tc.Arguments))
				pending[tc.CallID] = true
			}
			group = []core.Message{pm}
		default:
			group, pending = nil, nil
			out = append(out, core.Message{Role: m.Role, Content: deref(m.Content)})
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
