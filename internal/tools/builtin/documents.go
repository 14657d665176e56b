package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/profile"
)

// ViewDocumentTool returns a profile document.
type ViewDocumentTool struct {
	name, description, key string
	doc                    *profile.Document
}

func (t *ViewDocumentTool) Name() string { return t.name }

func (t *ViewDocumentTool) Definition() core.ToolDefinition {
	return definition(t.name, t.description, noParams())
}

func (t *ViewDocumentTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{t.key: t.doc.Snapshot()}, nil
}

// EditDocumentTool merges the given fields into a profile document. Null values
// clear fields.
type EditDocumentTool struct {
	name, description, key, label string
	doc                           *profile.Document
}

func (t *EditDocumentTool) Name() string { return t.name }

func (t *EditDocumentTool) Definition() core.ToolDefinition {
	return definition(t.name, t.description, fieldSchema(t.doc.Fields()))
}

func (t *EditDocumentTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var args map[string]any
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	updates := make(map[string]any, len(args))
	var changed []string
	for _, f := range t.doc.Fields() {
		v, ok := args[f.Key]
		if !ok {
			continue
		}
		updates[f.Key] = v
		if v == nil {
			changed = append(changed, f.Key+" cleared")
		} else {
			changed = append(changed, fmt.Sprintf("%s: %v", f.Key, v))
		}
	}
	values, err := t.doc.Update(updates)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message": fmt.Sprintf("Updated %s: %s", t.label, strings.Join(changed, ", ")),
		t.key:     values,
	}, nil
}

func viewPersonality(doc *profile.Document) *ViewDocumentTool {
	return &ViewDocumentTool{
		name:        "viewPersonality",
		description: "View your current personality settings - if the user asks anything about your personality, use this tool.",
		key:         "personality",
		doc:         doc,
	}
}

func editPersonality(doc *profile.Document) *EditDocumentTool {
	return &EditDocumentTool{
		name:        "editPersonality",
		description: "Edit your personality settings - use this when the user wants to change your personality traits - possible settings are " + fieldKeys(doc.Fields()),
		key:         "personality",
		label:       "personality settings",
		doc:         doc,
	}
}

func viewUserProfile(doc *profile.Document) *ViewDocumentTool {
	return &ViewDocumentTool{
		name:        "viewUserProfile",
		description: "View the user's profile information - if the user asks anything about their stored profile data, use this tool.",
		key:         "userProfile",
		doc:         doc,
	}
}

func editUserProfile(doc *profile.Document) *EditDocumentTool {
	return &EditDocumentTool{
		name:        "editUserProfile",
		description: "Edit the user's profile information - use this when the user wants to update their profile details - possible fields are " + fieldKeys(doc.Fields()),
		key:         "userProfile",
		label:       "user profile",
		doc:         doc,
	}
}
