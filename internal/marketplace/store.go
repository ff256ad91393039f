package marketplace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const metadataFile = "metadata.json"

// InstalledPlugin is the locally persisted record of one install, written
// to `<root>/<id>/metadata.json` next to the plugin files.
type InstalledPlugin struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Kind        string     `json:"kind,omitempty"`
	InstalledAt time.Time  `json:"installedAt"`
	InstallPath string     `json:"installPath"`
	Size        int64      `json:"size"`
	Checksums   Checksums  `json:"checksums"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
}

// Store persists one metadata.json per installed plugin under a root
// directory. Writes go through a temporary file and an atomic rename so a
// crash never leaves a half-written record.
type Store struct {
	mu   sync.Mutex
	root string
}

// OpenStore prepares the store rooted at dir, creating it if needed.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating plugin store directory: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.root, id, metadataFile)
}

// Put writes the record for a plugin, replacing any previous one.
func (s *Store) Put(p InstalledPlugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.InstalledAt.IsZero() {
		p.InstalledAt = time.Now()
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plugin metadata: %w", err)
	}

	path := s.metadataPath(p.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating plugin directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temporary metadata file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing metadata file: %w", err)
	}
	return nil
}

// Get returns the record for a plugin id. Missing or unreadable metadata
// reports false.
func (s *Store) Get(id string) (InstalledPlugin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.metadataPath(id))
	if err != nil {
		return InstalledPlugin{}, false
	}
	var p InstalledPlugin
	if err := json.Unmarshal(data, &p); err != nil {
		return InstalledPlugin{}, false
	}
	return p, true
}

// List returns every installed record sorted by id. A directory without a
// readable metadata.json is skipped; a corrupt one is an error.
func (s *Store) List() ([]InstalledPlugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var out []InstalledPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(s.metadataPath(entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var p InstalledPlugin
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing metadata for %s: %w", entry.Name(), err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Remove deletes the plugin's directory, record included. Removing an
// absent id is a no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.RemoveAll(filepath.Join(s.root, id))
}

// pluginsRoot is where installed plugins and their metadata live.
func (c *Client) pluginsRoot() string {
	return filepath.Join(c.installDir, "plugins")
}

// Uninstall removes the plugin's files and its metadata record.
func (c *Client) Uninstall(pluginID string) error {
	store, err := OpenStore(c.pluginsRoot())
	if err != nil {
		return err
	}
	return store.Remove(pluginID)
}

// Installed lists locally installed plugins.
func (c *Client) Installed() ([]InstalledPlugin, error) {
	store, err := OpenStore(c.pluginsRoot())
	if err != nil {
		return nil, err
	}
	return store.List()
}
