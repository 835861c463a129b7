package nativemsg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// ErrHostNotFound is returned when no manifest for a host name exists in any
// search directory.
var ErrHostNotFound = errors.New("nativemsg: specified native messaging host not found")

// ErrOriginNotAllowed is returned when the manifest does not list the
// extension origin.
var ErrOriginNotAllowed = errors.New("nativemsg: access to the native messaging host is forbidden")

// Manifest is a native messaging host manifest.
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Allows reports whether origin may connect to the host.
func (m *Manifest) Allows(origin string) bool {
	return slices.Contains(m.AllowedOrigins, origin)
}

// FindManifest returns the manifest for name from the first directory that
// has a "<name>.json" file.
func FindManifest(dirs []string, name string) (*Manifest, error) {
	for _, dir := range dirs {
		path := filepath.Join(dir, name+".json")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		m, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}
		if m.Name != name {
			return nil, fmt.Errorf("nativemsg: manifest %s declares name %q, want %q", path, m.Name, name)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrHostNotFound, name)
}

// LoadManifest reads and validates a manifest file. A relative executable
// path is resolved against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nativemsg: read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("nativemsg: parse manifest %s: %w", path, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("nativemsg: manifest %s has no name", path)
	}
	if m.Type != "stdio" {
		return nil, fmt.Errorf("nativemsg: manifest %s has unsupported type %q", path, m.Type)
	}
	if m.Path == "" {
		return nil, fmt.Errorf("nativemsg: manifest %s has no path", path)
	}
	if !filepath.IsAbs(m.Path) {
		m.Path = filepath.Join(filepath.Dir(path), m.Path)
	}
	return &m, nil
}
