package tui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/hattiebot/familiar/internal/config"
	"github.com/hattiebot/familiar/internal/llmclient"
)

var defaultModels = map[string]string{
	"openai":    "gpt-4o",
	"anthropic": "claude-sonnet-4-5",
	"google":    "gemini-2.5-flash",
}

// Setup is what the first-run questions produced.
type Setup struct {
	Path string
	Name string
}

// RunFirstBoot asks for a provider, model, API key and assistant name, then writes
// config.yaml into dir. A blank API key leaves the key to the environment.
func RunFirstBoot(in io.Reader, out io.Writer, dir string) (Setup, error) {
	scan := bufio.NewScanner(in)
	styles := NewStyles(out)
	ask := func(question, def string) (string, error) {
		if def != "" {
			question += styles.Dim.Render(" [" + def + "]")
		}
		fmt.Fprint(out, question+": ")
		if !scan.Scan() {
			if err := scan.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		if v := strings.TrimSpace(scan.Text()); v != "" {
			return v, nil
		}
		return def, nil
	}

	fmt.Fprintln(out, styles.Assistant.Render("familiar: first run setup"))
	fmt.Fprintln(out)

	provider, err := ask("Provider ("+strings.Join(llmclient.Providers(), ", ")+")", "openai")
	if err != nil {
		return Setup{}, err
	}
	if _, err := llmclient.BaseURL(provider); err != nil {
		return Setup{}, err
	}
	model, err := ask("Model", defaultModels[provider])
	if err != nil {
		return Setup{}, err
	}
	apiKey, err := ask("API key (blank to use the environment)", "")
	if err != nil {
		return Setup{}, err
	}
	name, err := ask("What should the assistant be called?", "")
	if err != nil {
		return Setup{}, err
	}

	values := map[string]any{"llm.provider": provider, "llm.model": model}
	if apiKey != "" {
		values["llm.api_key"] = apiKey
	}
	path, err := config.Write(dir, values, false)
	if err != nil {
		return Setup{}, fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintln(out, styles.Dim.Render("Saved "+path))
	fmt.Fprintln(out)
	return Setup{Path: path, Name: name}, nil
}
