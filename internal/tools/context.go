package tools

import "context"

type conversationKey struct{}

// WithConversation records the conversation a tool call belongs to.
func WithConversation(ctx context.Context, conversation string) context.Context {
	return context.WithValue(ctx, conversationKey{}, conversation)
}

// ConversationFrom returns the conversation recorded by WithConversation, or "".
func ConversationFrom(ctx context.Context) string {
	c, _ := ctx.Value(conversationKey{}).(string)
	return c
}
