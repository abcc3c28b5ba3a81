package data

import (
	"fmt"
	"os"

	"github.com/simcore/engine/internal/core/hashid"
	"github.com/simcore/engine/internal/resource"
	"gopkg.in/yaml.v3"
)

// ManifestEntry names one resource. Hash wins over Name when both are set;
// otherwise the hash is derived from Name.
type ManifestEntry struct {
	Name string `yaml:"name"`
	Hash uint64 `yaml:"hash"`
	Type string `yaml:"type"` // "file", "image" or "music"; default "file"
}

// ResourceHash returns the hash the entry refers to.
func (e ManifestEntry) ResourceHash() uint64 {
	if e.Hash != 0 {
		return e.Hash
	}
	return hashid.String(e.Name)
}

// ResourceType parses Type.
func (e ManifestEntry) ResourceType() (resource.Type, error) {
	if e.Type == "" {
		return resource.TypeFile, nil
	}
	return resource.ParseType(e.Type)
}

// PrefabEntry is a prefab stream to instantiate Count times at startup.
type PrefabEntry struct {
	ManifestEntry `yaml:",inline"`
	Count         int `yaml:"count"`
}

// Manifest lists what the engine loads at startup: resources to keep warm,
// scene streams to instantiate once and prefabs to spawn.
type Manifest struct {
	Preload []ManifestEntry `yaml:"preload"`
	Scenes  []ManifestEntry `yaml:"scenes"`
	Prefabs []PrefabEntry   `yaml:"prefabs"`
}

// Count returns the number of entries.
func (m *Manifest) Count() int {
	return len(m.Preload) + len(m.Scenes) + len(m.Prefabs)
}

// LoadManifest reads and validates a manifest from YAML.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	check := func(section string, i int, e ManifestEntry) error {
		if e.Name == "" && e.Hash == 0 {
			return fmt.Errorf("manifest: %s[%d]: name or hash required", section, i)
		}
		if _, err := e.ResourceType(); err != nil {
			return fmt.Errorf("manifest: %s[%d]: %w", section, i, err)
		}
		return nil
	}
	for i, e := range m.Preload {
		if err := check("preload", i, e); err != nil {
			return nil, err
		}
	}
	for i, e := range m.Scenes {
		if err := check("scenes", i, e); err != nil {
			return nil, err
		}
	}
	for i := range m.Prefabs {
		p := &m.Prefabs[i]
		if err := check("prefabs", i, p.ManifestEntry); err != nil {
			return nil, err
		}
		if p.Count <= 0 {
			p.Count = 1
		}
	}
	return &m, nil
}
