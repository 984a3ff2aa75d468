package data

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LayerDef binds one scene layer to a datasource and a tile range, plus the
// loader policy for it. Intervals are in milliseconds, matching how the rest
// of the YAML tables keep plain integers.
type LayerDef struct {
	Name   string `yaml:"name"`
	Prefab string `yaml:"prefab"`
	Source string `yaml:"source"` // "postgres", "file" or "script"
	Level  int    `yaml:"level"`
	MinX   int    `yaml:"min_x"`
	MaxX   int    `yaml:"max_x"`
	MinY   int    `yaml:"min_y"`
	MaxY   int    `yaml:"max_y"`

	AutoDisposeUnused bool `yaml:"auto_dispose_unused"`
	ReloadIntervalMS  int  `yaml:"reload_interval_ms"`
	SettleDelayMS     int  `yaml:"settle_delay_ms"`
}

// ReloadInterval returns the periodic reload interval, zero when disabled.
func (l *LayerDef) ReloadInterval() time.Duration {
	return time.Duration(l.ReloadIntervalMS) * time.Millisecond
}

// SettleDelay returns the debounce settle delay for change-triggered reloads.
func (l *LayerDef) SettleDelay() time.Duration {
	return time.Duration(l.SettleDelayMS) * time.Millisecond
}

// TileCount returns the number of tiles the layer's range covers.
func (l *LayerDef) TileCount() int {
	w := l.MaxX - l.MinX + 1
	h := l.MaxY - l.MinY + 1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// SceneDef is the scene manifest: a named scene and its layers.
type SceneDef struct {
	Name   string     `yaml:"name"`
	Layers []LayerDef `yaml:"layers"`
}

// LoadScene reads a scene manifest YAML file.
func LoadScene(path string) (*SceneDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	var def SceneDef
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse scene %s: %w", path, err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("parse scene %s: missing name", path)
	}
	seen := make(map[string]bool, len(def.Layers))
	for i := range def.Layers {
		l := &def.Layers[i]
		if l.Name == "" {
			return nil, fmt.Errorf("parse scene %s: layer %d has no name", path, i)
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("parse scene %s: duplicate layer %q", path, l.Name)
		}
		seen[l.Name] = true
		if l.MinX > l.MaxX || l.MinY > l.MaxY {
			return nil, fmt.Errorf("parse scene %s: layer %q has an empty tile range", path, l.Name)
		}
	}
	return &def, nil
}
