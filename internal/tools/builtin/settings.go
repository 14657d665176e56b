package builtin

import (
	"context"
	"encoding/json"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/tools"
)

// ConfigDirectoryTool reports where settings are stored.
type ConfigDirectoryTool struct {
	Dir string
}

func (t *ConfigDirectoryTool) Name() string { return "getConfigDirectory" }

func (t *ConfigDirectoryTool) Definition() core.ToolDefinition {
	return definition(t.Name(), "Get the location of the configuration/settings directory where settings are stored", noParams())
}

func (t *ConfigDirectoryTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]string{
		"configDirectory": t.Dir,
		"message":         "Your settings are stored in: " + t.Dir,
	}, nil
}

// ViewConfigTool returns the active LLM configuration with secrets masked.
type ViewConfigTool struct {
	View func() any
}

func (t *ViewConfigTool) Name() string { return "viewConfig" }

func (t *ViewConfigTool) Definition() core.ToolDefinition {
	return definition(t.Name(), "View your current LLM API configuration settings", noParams())
}

func (t *ViewConfigTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	if t.View == nil {
		return map[string]any{"config": map[string]any{}}, nil
	}
	return map[string]any{"config": t.View()}, nil
}

// HistoryClearer deletes one conversation's messages.
type HistoryClearer interface {
	ClearConversation(ctx context.Context, conversation string) error
}

// ClearHistoryTool deletes the calling conversation's history.
type ClearHistoryTool struct {
	History HistoryClearer
}

func (t *ClearHistoryTool) Name() string { return "clearChatHistory" }

func (t *ClearHistoryTool) Definition() core.ToolDefinition {
	def := definition(t.Name(), "Clear the chat history. Ask the user if they are sure they want to do this.", noParams())
	def.Policy = "confirm"
	return def
}

func (t *ClearHistoryTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := t.History.ClearConversation(ctx, tools.ConversationFrom(ctx)); err != nil {
		return nil, err
	}
	return map[string]string{"message": "Chat history has been cleared."}, nil
}
