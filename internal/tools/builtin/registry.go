package builtin

import (
	"github.com/hattiebot/familiar/internal/profile"
	"github.com/hattiebot/familiar/internal/tools"
)

// Deps are the local resources the builtin tools act on.
type Deps struct {
	Personality *profile.Document
	UserProfile *profile.Document
	History     HistoryClearer
	ConfigDir   string
	// ViewConfig returns the configuration to show the model, with secrets masked.
	ViewConfig func() any
}

// All returns every builtin tool in the order they are advertised.
func All(d Deps) []tools.Tool {
	return []tools.Tool{
		AdditionTool{},
		WeatherTool{},
		viewPersonality(d.Personality),
		viewUserProfile(d.UserProfile),
		&ConfigDirectoryTool{Dir: d.ConfigDir},
		&ViewConfigTool{View: d.ViewConfig},
		editPersonality(d.Personality),
		editUserProfile(d.UserProfile),
		&ClearHistoryTool{History: d.History},
	}
}

// NewRegistry builds the tool registry from the builtin tools.
func NewRegistry(d Deps) (*tools.Registry, error) {
	return tools.NewRegistry(All(d)...)
}
