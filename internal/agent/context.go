package agent

import (
	"context"

	"github.com/hattiebot/familiar/internal/core"
)

// DefaultWindow is the number of stored messages sent with each request.
const DefaultWindow = 50

// HistorySource returns stored messages already shaped for the provider.
type HistorySource interface {
	ProviderMessages(ctx context.Context, conversation string, limit int) ([]core.Message, error)
}

// ContextManager selects the history that goes into the model's context window.
type ContextManager struct {
	History HistorySource
	Limit   int
}

// SelectHistory returns the most recent messages of the conversation, oldest first.
// Incomplete tool-call groups are already repaired by the store projection.
func (cm *ContextManager) SelectHistory(ctx context.Context, conversation string) ([]core.Message, error) {
	limit := cm.Limit
	if limit <= 0 {
		limit = DefaultWindow
	}
	return cm.History.ProviderMessages(ctx, conversation, limit)
}

// BuildWindow prepends the system prompt to the selected history.
func (cm *ContextManager) BuildWindow(ctx context.Context, conversation, systemPrompt string) ([]core.Message, error) {
	history, err := cm.SelectHistory(ctx, conversation)
	if err != nil {
		return nil, err
	}
	window := make([]core.Message, 0, len(history)+1)
	window = append(window, core.Message{Role: core.RoleSystem, Content: systemPrompt})
	return append(window, history...), nil
}
