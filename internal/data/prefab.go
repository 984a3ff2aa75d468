package data

import (
	"fmt"
	"os"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// PrefabComponent declares one component attached at spawn time.
type PrefabComponent struct {
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

// PrefabChild declares a child node spawned together with its parent.
type PrefabChild struct {
	Prefab string `yaml:"prefab"`
	Name   string `yaml:"name"`
}

// Prefab is a reusable node template: its kind, pooling policy, the
// component kinds the pooled form keeps, and the components and children
// spawned with it.
type Prefab struct {
	Kind       string            `yaml:"kind"`
	Poolable   bool              `yaml:"poolable"`
	Required   []string          `yaml:"required_components"`
	Components []PrefabComponent `yaml:"components"`
	Children   []PrefabChild     `yaml:"children"`
}

type prefabFile struct {
	Prefabs []Prefab `yaml:"prefabs"`
}

// PrefabTable indexes prefabs by kind. Kinds are NFC-normalized so composed
// and decomposed spellings in hand-edited YAML resolve identically.
type PrefabTable struct {
	byKind map[string]*Prefab
}

// LoadPrefabTable reads a prefab YAML file.
func LoadPrefabTable(path string) (*PrefabTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prefabs %s: %w", path, err)
	}
	var file prefabFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse prefabs %s: %w", path, err)
	}
	t := &PrefabTable{byKind: make(map[string]*Prefab, len(file.Prefabs))}
	for i := range file.Prefabs {
		p := &file.Prefabs[i]
		if p.Kind == "" {
			return nil, fmt.Errorf("parse prefabs %s: entry %d has no kind", path, i)
		}
		key := norm.NFC.String(p.Kind)
		if _, dup := t.byKind[key]; dup {
			return nil, fmt.Errorf("parse prefabs %s: duplicate kind %q", path, p.Kind)
		}
		t.byKind[key] = p
	}
	return t, nil
}

// Get returns the prefab for a kind, or nil.
func (t *PrefabTable) Get(kind string) *Prefab {
	return t.byKind[norm.NFC.String(kind)]
}

// Count returns the number of prefabs loaded.
func (t *PrefabTable) Count() int {
	return len(t.byKind)
}
