package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenttools "github.com/kelvincushman/browserclaw/pkg/agent/tools"
)

func TestArgumentParsing(t *testing.T) {
	input := map[string]interface{}{
		"tab_id": float64(3),
		"url":    "https://example.com",
	}

	id, err := intArg(input, "tab_id")
	require.NoError(t, err)
	assert.Equal(t, 3, id)

	url, err := stringArg(input, "url")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", url)

	_, err = intArg(input, "url")
	assert.Error(t, err)

	_, err = stringArg(input, "missing")
	assert.Error(t, err)

	n, err := optionalIntArg(input, "absent", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestRegisterToolsVisibility(t *testing.T) {
	registry := agenttools.NewRegistry()
	manager := NewManager()
	RegisterTools(registry, manager)

	// With no browser running only the always-available tools advertise.
	defs := registry.Definitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "get_all_tabs")
	assert.Contains(t, names, "open_tab")
	assert.NotContains(t, names, "navigate")
	assert.NotContains(t, names, "screenshot")

	// Hidden tools are still dispatchable by name.
	_, ok := registry.Get("navigate")
	assert.True(t, ok)
}

func TestGetAllTabsWithoutBrowser(t *testing.T) {
	registry := agenttools.NewRegistry()
	RegisterTools(registry, NewManager())

	out, err := registry.Invoke(context.Background(), "get_all_tabs", nil)
	require.NoError(t, err)
	assert.Equal(t, []TabInfo{}, out)
}

func TestTabOperationsRequireStartedBrowser(t *testing.T) {
	manager := NewManager()

	_, err := manager.OpenTab("https://example.com")
	assert.ErrorContains(t, err, "not started")

	err = manager.CloseTab(1)
	assert.ErrorContains(t, err, "not found")

	_, err = manager.Navigate(1, "https://example.com")
	assert.ErrorContains(t, err, "not found")
}

func TestToolSchemasDeclareRequiredArguments(t *testing.T) {
	registry := agenttools.NewRegistry()
	RegisterTools(registry, NewManager())

	tool, ok := registry.Get("navigate")
	require.True(t, ok)
	schema := tool.Schema()
	assert.Equal(t, "object", schema["type"])
	assert.ElementsMatch(t, []string{"tab_id", "url"}, schema["required"])
}
