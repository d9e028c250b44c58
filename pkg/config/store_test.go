package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	store.SetSection("llm", map[string]interface{}{"model": "gpt-4o"})
	require.NoError(t, store.Save())

	reopened, err := NewFileStore(store.Path())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", reopened.Section("llm")["model"])
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := newTestStore(t)
	assert.Empty(t, store.Section("llm"))
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestSectionReturnsCopy(t *testing.T) {
	store := newTestStore(t)
	store.SetSection("llm", map[string]interface{}{"model": "a"})

	section := store.Section("llm")
	section["model"] = "mutated"
	assert.Equal(t, "a", store.Section("llm")["model"])
}

func TestLLMSettingsRoundTrip(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvToken, "")
	t.Setenv(EnvModel, "")

	store := newTestStore(t)
	in := LLMSettings{
		Model:        "gpt-4o",
		BaseURL:      "https://gateway.example/v1",
		APIKey:       "sk-test",
		ExtraHeaders: map[string]string{"X-Team": "browserclaw"},
	}
	require.NoError(t, SaveLLMSettings(store, in))

	reopened, err := NewFileStore(store.Path())
	require.NoError(t, err)
	out := LoadLLMSettings(reopened)
	assert.Equal(t, in.Model, out.Model)
	assert.Equal(t, in.BaseURL, out.BaseURL)
	assert.Equal(t, in.APIKey, out.APIKey)
	assert.Equal(t, in.ExtraHeaders, out.ExtraHeaders)
}

func TestLLMSettingsEnvOverrides(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, SaveLLMSettings(store, LLMSettings{Model: "file-model", BaseURL: "https://file.example"}))

	t.Setenv(EnvBaseURL, "https://env.example")
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvModel, "")

	settings := LoadLLMSettings(store)
	assert.Equal(t, "https://env.example", settings.BaseURL)
	assert.Equal(t, "env-token", settings.APIKey)
	assert.Equal(t, "file-model", settings.Model, "unset env leaves file value")
}

func TestHostAllowlistRoundTrip(t *testing.T) {
	store := newTestStore(t)
	assert.Nil(t, LoadHostAllowlist(store), "absent section means unrestricted")

	require.NoError(t, SaveHostAllowlist(store, []string{"*.example.com", "github.com"}))

	reopened, err := NewFileStore(store.Path())
	require.NoError(t, err)
	assert.Equal(t, []string{"*.example.com", "github.com"}, LoadHostAllowlist(reopened))
}
