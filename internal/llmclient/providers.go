package llmclient

import (
	"fmt"
	"sort"
)

// Provider base URLs for OpenAI-compatible chat completion endpoints.
var providerBaseURLs = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com/v1",
	"google":    "https://generativelanguage.googleapis.com/v1beta/openai",
}

// BaseURL returns the endpoint for provider.
func BaseURL(provider string) (string, error) {
	u, ok := providerBaseURLs[provider]
	if !ok {
		return "", fmt.Errorf("provider %q not supported (known: %v)", provider, Providers())
	}
	return u, nil
}

// Providers lists the providers with a known base URL.
func Providers() []string {
	names := make([]string, 0, len(providerBaseURLs))
	for n := range providerBaseURLs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
