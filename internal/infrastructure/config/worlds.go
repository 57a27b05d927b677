package config

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxListedWorlds caps the names suggested when a world lookup fails.
const maxListedWorlds = 5

// WorldsConfig is the registry of narrative worlds in a workspace.
type WorldsConfig struct {
	Worlds map[string]WorldEntry `yaml:"worlds,omitempty"`
}

// WorldEntry describes one world. Its SQLite store lives under WorldDir and
// its embeddings, when indexed, in Collection.
type WorldEntry struct {
	Collection  string    `yaml:"collection"`
	Description string    `yaml:"description,omitempty"`
	CreatedAt   time.Time `yaml:"created_at,omitempty"`
}

// LoadWorlds loads world configuration from the .narra directory.
func LoadWorlds(basePath string) (*WorldsConfig, error) {
	data, err := os.ReadFile(WorldsFilePath(basePath))
	if os.IsNotExist(err) {
		return &WorldsConfig{Worlds: make(map[string]WorldEntry)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading worlds file: %w", err)
	}

	var cfg WorldsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing worlds file: %w", err)
	}

	if cfg.Worlds == nil {
		cfg.Worlds = make(map[string]WorldEntry)
	}

	return &cfg, nil
}

// Save writes the worlds configuration to the worlds file.
func (w *WorldsConfig) Save(basePath string) error {
	configDir := filepath.Join(basePath, DefaultConfigDir)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshaling worlds config: %w", err)
	}

	if err := os.WriteFile(WorldsFilePath(basePath), data, 0600); err != nil {
		return fmt.Errorf("writing worlds file: %w", err)
	}

	return nil
}

// Add adds a world to the configuration.
func (w *WorldsConfig) Add(name string, entry WorldEntry) {
	if w.Worlds == nil {
		w.Worlds = make(map[string]WorldEntry)
	}
	w.Worlds[name] = entry
}

// Remove removes a world from the configuration.
func (w *WorldsConfig) Remove(name string) {
	if w.Worlds != nil {
		delete(w.Worlds, name)
	}
}

// Names returns the configured world names in sorted order.
func (w *WorldsConfig) Names() []string {
	names := make([]string, 0, len(w.Worlds))
	for name := range w.Worlds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All yields every world by name in sorted order.
func (w *WorldsConfig) All() iter.Seq2[string, WorldEntry] {
	return func(yield func(string, WorldEntry) bool) {
		for _, name := range w.Names() {
			if !yield(name, w.Worlds[name]) {
				return
			}
		}
	}
}

// Get returns the configuration for a specific world.
func (w *WorldsConfig) Get(name string) (*WorldEntry, error) {
	if len(w.Worlds) == 0 {
		return nil, errors.New("no worlds configured (run 'narra worlds create' first)")
	}

	entry, ok := w.Worlds[name]
	if !ok {
		names := w.Names()
		if len(names) > maxListedWorlds {
			names = append(names[:maxListedWorlds], "...")
		}
		return nil, fmt.Errorf("world %q not found (available: %s)", name, strings.Join(names, ", "))
	}

	return &entry, nil
}

// GetCollection returns the embedding index collection name for a world.
func (w *WorldsConfig) GetCollection(name string) (string, error) {
	entry, err := w.Get(name)
	if err != nil {
		return "", err
	}
	return entry.Collection, nil
}

// Exists checks if a world exists in the configuration.
func (w *WorldsConfig) Exists(name string) bool {
	if w.Worlds == nil {
		return false
	}
	_, ok := w.Worlds[name]
	return ok
}

// WorldsExists checks if a worlds config file exists in the given path.
func WorldsExists(basePath string) bool {
	_, err := os.Stat(WorldsFilePath(basePath))
	return err == nil
}
