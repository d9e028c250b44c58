package config

import (
	"os"
)

// Section IDs.
const (
	SectionLLM           = "llm"
	SectionHostAllowlist = "host_allowlist"
)

// Environment overrides, following the BrowserClaw bridge conventions.
const (
	EnvBaseURL = "BROWSERCLAW_BASE_URL"
	EnvToken   = "BROWSERCLAW_TOKEN"
	EnvModel   = "BROWSERCLAW_MODEL"
)

// LLMSettings holds the model endpoint connection settings.
type LLMSettings struct {
	Model        string
	BaseURL      string
	APIKey       string
	ExtraHeaders map[string]string
}

// LoadLLMSettings reads the llm section, applying environment overrides.
// Environment variables win over file values so a deployment can redirect
// the agent without touching the config file.
func LoadLLMSettings(store *FileStore) LLMSettings {
	section := store.Section(SectionLLM)
	settings := LLMSettings{
		Model:   stringValue(section, "model"),
		BaseURL: stringValue(section, "base_url"),
		APIKey:  stringValue(section, "api_key"),
	}

	if headers, ok := section["extra_headers"].(map[string]interface{}); ok {
		settings.ExtraHeaders = make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				settings.ExtraHeaders[k] = s
			}
		}
	}

	if v := os.Getenv(EnvBaseURL); v != "" {
		settings.BaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		settings.APIKey = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		settings.Model = v
	}
	return settings
}

// SaveLLMSettings writes the llm section. Environment overrides are never
// persisted.
func SaveLLMSettings(store *FileStore, settings LLMSettings) error {
	section := map[string]interface{}{
		"model":    settings.Model,
		"base_url": settings.BaseURL,
		"api_key":  settings.APIKey,
	}
	if len(settings.ExtraHeaders) > 0 {
		headers := make(map[string]interface{}, len(settings.ExtraHeaders))
		for k, v := range settings.ExtraHeaders {
			headers[k] = v
		}
		section["extra_headers"] = headers
	}
	store.SetSection(SectionLLM, section)
	return store.Save()
}

// LoadHostAllowlist reads the allowlist glob patterns. An absent section
// means no restrictions.
func LoadHostAllowlist(store *FileStore) []string {
	section := store.Section(SectionHostAllowlist)
	raw, ok := section["patterns"].([]interface{})
	if !ok {
		return nil
	}
	patterns := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			patterns = append(patterns, s)
		}
	}
	return patterns
}

// SaveHostAllowlist writes the allowlist glob patterns.
func SaveHostAllowlist(store *FileStore, patterns []string) error {
	raw := make([]interface{}, 0, len(patterns))
	for _, p := range patterns {
		raw = append(raw, p)
	}
	store.SetSection(SectionHostAllowlist, map[string]interface{}{"patterns": raw})
	return store.Save()
}

func stringValue(section map[string]interface{}, key string) string {
	if s, ok := section[key].(string); ok {
		return s
	}
	return ""
}
