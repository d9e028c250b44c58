package browser

import (
	"context"
	"encoding/base64"
	"fmt"

	agenttools "github.com/kelvincushman/browserclaw/pkg/agent/tools"
)

// DefaultExtractLength caps cleaned page content handed to the model.
const DefaultExtractLength = 20000

// RegisterTools wires every browser capability into the registry.
func RegisterTools(registry *agenttools.Registry, manager *Manager) {
	registry.Register(&getAllTabsTool{manager})
	registry.Register(&openTabTool{manager})
	registry.Register(&closeTabTool{manager})
	registry.Register(&navigateTool{manager})
	registry.Register(&extractContentTool{manager})
	registry.Register(&screenshotTool{manager})
}

// stringArg reads a required string argument.
func stringArg(input map[string]interface{}, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

// intArg reads a required integer argument. JSON numbers decode as float64.
func intArg(input map[string]interface{}, key string) (int, error) {
	v, ok := input[key]
	if !ok {
		return 0, fmt.Errorf("missing required argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
}

// optionalIntArg reads an integer argument, returning fallback when absent.
func optionalIntArg(input map[string]interface{}, key string, fallback int) (int, error) {
	if _, ok := input[key]; !ok {
		return fallback, nil
	}
	return intArg(input, key)
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type getAllTabsTool struct{ manager *Manager }

func (t *getAllTabsTool) Name() string { return "get_all_tabs" }
func (t *getAllTabsTool) Description() string {
	return "List every open browser tab with its id, URL, and title."
}
func (t *getAllTabsTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{})
}
func (t *getAllTabsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if !t.manager.Started() {
		return []TabInfo{}, nil
	}
	return t.manager.Tabs(), nil
}

type openTabTool struct{ manager *Manager }

func (t *openTabTool) Name() string { return "open_tab" }
func (t *openTabTool) Description() string {
	return "Open a new browser tab, optionally navigating it to a URL."
}
func (t *openTabTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"url": map[string]interface{}{
			"type":        "string",
			"description": "URL to load in the new tab; omit for a blank tab",
		},
	})
}
func (t *openTabTool) Execute(_ context.Context, input map[string]interface{}) (interface{}, error) {
	url := ""
	if _, ok := input["url"]; ok {
		var err error
		if url, err = stringArg(input, "url"); err != nil {
			return nil, err
		}
	}
	return t.manager.OpenTab(url)
}

type closeTabTool struct{ manager *Manager }

func (t *closeTabTool) Name() string { return "close_tab" }
func (t *closeTabTool) Description() string {
	return "Close the browser tab with the given id."
}
func (t *closeTabTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tab_id": map[string]interface{}{"type": "integer", "description": "id of the tab to close"},
	}, "tab_id")
}
func (t *closeTabTool) Execute(_ context.Context, input map[string]interface{}) (interface{}, error) {
	id, err := intArg(input, "tab_id")
	if err != nil {
		return nil, err
	}
	if err := t.manager.CloseTab(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"closed": id}, nil
}
func (t *closeTabTool) ShouldShow() bool { return t.manager.Started() }

type navigateTool struct{ manager *Manager }

func (t *navigateTool) Name() string { return "navigate" }
func (t *navigateTool) Description() string {
	return "Navigate an existing tab to a URL."
}
func (t *navigateTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tab_id": map[string]interface{}{"type": "integer", "description": "id of the tab to navigate"},
		"url":    map[string]interface{}{"type": "string", "description": "destination URL"},
	}, "tab_id", "url")
}
func (t *navigateTool) Execute(_ context.Context, input map[string]interface{}) (interface{}, error) {
	id, err := intArg(input, "tab_id")
	if err != nil {
		return nil, err
	}
	url, err := stringArg(input, "url")
	if err != nil {
		return nil, err
	}
	return t.manager.Navigate(id, url)
}
func (t *navigateTool) ShouldShow() bool { return t.manager.Started() }

type extractContentTool struct{ manager *Manager }

func (t *extractContentTool) Name() string { return "extract_content" }
func (t *extractContentTool) Description() string {
	return "Extract the cleaned content of a tab: title, description, and semantic markup with scripts and styling removed."
}
func (t *extractContentTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tab_id":     map[string]interface{}{"type": "integer", "description": "id of the tab to read"},
		"max_length": map[string]interface{}{"type": "integer", "description": "maximum content length in bytes"},
	}, "tab_id")
}
func (t *extractContentTool) Execute(_ context.Context, input map[string]interface{}) (interface{}, error) {
	id, err := intArg(input, "tab_id")
	if err != nil {
		return nil, err
	}
	maxLength, err := optionalIntArg(input, "max_length", DefaultExtractLength)
	if err != nil {
		return nil, err
	}
	raw, err := t.manager.Content(id)
	if err != nil {
		return nil, err
	}
	return CleanHTML(raw, maxLength)
}
func (t *extractContentTool) ShouldShow() bool { return t.manager.Started() }

type screenshotTool struct{ manager *Manager }

func (t *screenshotTool) Name() string { return "screenshot" }
func (t *screenshotTool) Description() string {
	return "Capture a PNG screenshot of a tab's viewport, returned base64-encoded."
}
func (t *screenshotTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"tab_id": map[string]interface{}{"type": "integer", "description": "id of the tab to capture"},
	}, "tab_id")
}
func (t *screenshotTool) Execute(_ context.Context, input map[string]interface{}) (interface{}, error) {
	id, err := intArg(input, "tab_id")
	if err != nil {
		return nil, err
	}
	data, err := t.manager.Screenshot(id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"media_type": "image/png",
		"data":       base64.StdEncoding.EncodeToString(data),
	}, nil
}
func (t *screenshotTool) ShouldShow() bool { return t.manager.Started() }
