package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type setting struct {
	key     string
	value   any
	comment string
}

// defaults drives both viper's defaults and the file written by WriteDefault.
var defaults = []setting{
	{"llm.provider", "openai", "openai, anthropic or google"},
	{"llm.model", "gpt-4o", ""},
	{"llm.api_key", "", "or set FAMILIAR_LLM_API_KEY / the provider's usual variable"},
	{"llm.base_url", "", "any OpenAI-compatible endpoint; overrides provider"},
	{"llm.timeout", "2m", ""},
	{"llm.max_retries", 2, "retries for non-streaming requests on 429 and 5xx"},
	{"store.driver", "sqlite", "sqlite (pure Go) or sqlite3 (cgo builds)"},
	{"store.path", "", "defaults to familiar.db next to this file"},
	{"agent.window", 50, "stored messages sent with each request"},
	{"agent.max_steps", 10, "completion requests per turn, final answer included"},
	{"agent.classify", true, "score user messages for memory significance"},
	{"tools.max_output_runes", 8000, "0 disables truncation"},
	{"tools.disabled", []string{}, "tool names to hide from the model"},
	{"server.addr", "127.0.0.1:8080", ""},
	{"log.level", "info", "trace, debug, info, warn, error"},
	{"log.format", "auto", "auto, console or json"},
	{"telemetry.enabled", false, ""},
	{"telemetry.exporter", "stdout", "stdout, otlp-http or none"},
	{"telemetry.endpoint", "", "OTLP collector host:port"},
	{"telemetry.sample_rate", 1.0, ""},
}

func setDefaults(v *viper.Viper) {
	for _, s := range defaults {
		v.SetDefault(s.key, s.value)
	}
}

// ErrExists is returned by WriteDefault when the file is already there.
var ErrExists = errors.New("config file already exists")

// WriteDefault writes a commented config.yaml with every default into dir and returns its path.
func WriteDefault(dir string, overwrite bool) (string, error) {
	return Write(dir, nil, overwrite)
}

// Write is WriteDefault with some values replaced. Keys are dotted, as in
// "llm.model"; unknown keys are rejected.
func Write(dir string, values map[string]any, overwrite bool) (string, error) {
	path := filepath.Join(dir, FileName)
	for key := range values {
		if !knownKey(key) {
			return "", fmt.Errorf("unknown config key %q", key)
		}
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return path, ErrExists
		}
	}
	data, err := renderYAML(values)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func knownKey(key string) bool {
	for _, s := range defaults {
		if s.key == key {
			return true
		}
	}
	return false
}

func renderYAML(values map[string]any) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	sections := map[string]*yaml.Node{}
	for _, s := range defaults {
		section, key, _ := strings.Cut(s.key, ".")
		body, ok := sections[section]
		if !ok {
			body = &yaml.Node{Kind: yaml.MappingNode}
			sections[section] = body
			root.Content = append(root.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: section}, body)
		}
		value := s.value
		if v, ok := values[s.key]; ok {
			value = v
		}
		var val yaml.Node
		if err := val.Encode(value); err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.key, err)
		}
		body.Content = append(body.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key, LineComment: s.comment}, &val)
	}
	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "familiar configuration. Environment variables FAMILIAR_<SECTION>_<KEY> override these values.",
		Content:     []*yaml.Node{root},
	}
	return yaml.Marshal(doc)
}
