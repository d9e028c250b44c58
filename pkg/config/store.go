// Package config persists BrowserClaw settings in a sectioned JSON file
// under the user's home directory. Writes are atomic (temp file + rename)
// so a crash never leaves a half-written config behind.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const storeVersion = "1.0"

// FileStore is a sectioned JSON configuration store. Sections are opaque
// key/value maps; typed accessors live in sections.go.
type FileStore struct {
	mu   sync.RWMutex
	path string
	data map[string]map[string]interface{}
}

// NewFileStore opens the store at path, defaulting to
// ~/.browserclaw/config.json. A missing file yields an empty store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, ".browserclaw", "config.json")
	}

	store := &FileStore{
		path: path,
		data: make(map[string]map[string]interface{}),
	}
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the file from disk, replacing in-memory state. A missing file
// resets to empty without error.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = make(map[string]map[string]interface{})
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file struct {
		Version  string                            `json:"version"`
		Sections map[string]map[string]interface{} `json:"sections"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", s.path, err)
	}

	s.data = file.Sections
	if s.data == nil {
		s.data = make(map[string]map[string]interface{})
	}
	return nil
}

// Save writes the store to disk atomically.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file := struct {
		Version  string                            `json:"version"`
		Sections map[string]map[string]interface{} `json:"sections"`
	}{
		Version:  storeVersion,
		Sections: s.data,
	}
	encoded, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, append(encoded, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// Section returns a copy of the named section; missing sections are empty.
func (s *FileStore) Section(id string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]interface{}, len(s.data[id]))
	for k, v := range s.data[id] {
		out[k] = v
	}
	return out
}

// SetSection replaces the named section with a copy of data.
func (s *FileStore) SetSection(id string, data map[string]interface{}) {
	copied := make(map[string]interface{}, len(data))
	for k, v := range data {
		copied[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = copied
}
