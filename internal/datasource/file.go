package datasource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/strata3d/engine/internal/load"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// tileDoc is the on-disk shape of one tile file.
type tileDoc struct {
	Features []struct {
		Key        string         `yaml:"key"`
		Name       string         `yaml:"name"`
		Kind       string         `yaml:"kind"`
		Properties map[string]any `yaml:"properties"`
	} `yaml:"features"`
}

// FileSource reads tile documents from <root>/<layer>/<level>/<x>_<y>.yaml.
// A missing file is an empty tile, not an error. Reads are cheap enough to
// run inline; completions are still posted so delivery order matches the
// async sources.
type FileSource struct {
	root    string
	clock   load.Clock
	watcher *fsnotify.Watcher
	log     *zap.Logger
}

func NewFileSource(root string, clock load.Clock, log *zap.Logger) *FileSource {
	return &FileSource{root: root, clock: clock, log: log}
}

func (s *FileSource) tilePath(key load.ScopeKey) string {
	return filepath.Join(s.root, key.Layer,
		fmt.Sprintf("%d", key.Level),
		fmt.Sprintf("%d_%d.yaml", key.X, key.Y))
}

func (s *FileSource) Fetch(_ context.Context, key load.ScopeKey, complete func(load.Result)) load.Operation {
	op := &operation{}
	records, err := s.readTile(key)
	s.clock.Post(func() {
		op.done = true
		complete(load.Result{Records: records, Err: err})
	})
	return op
}

func (s *FileSource) readTile(key load.ScopeKey) ([]load.Record, error) {
	raw, err := os.ReadFile(s.tilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tile %s: %w", key, err)
	}

	var doc tileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse tile %s: %w", key, err)
	}

	records := make([]load.Record, 0, len(doc.Features))
	for _, f := range doc.Features {
		rec := load.Record{
			Key:        f.Key,
			Name:       f.Name,
			Kind:       f.Kind,
			Properties: f.Properties,
		}
		rec.Revision = Revision(rec.Properties)
		records = append(records, rec)
	}
	return records, nil
}

// Watch starts a recursive fsnotify watch on the tile tree and posts
// onChange to the update goroutine for every write, create or remove.
// Debouncing is the caller's job (the loader settles change bursts itself).
func (s *FileSource) Watch(onChange func()) error {
	if s.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = w

	if err := s.addDirs(s.root); err != nil {
		w.Close()
		s.watcher = nil
		return err
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					// New subdirectories must join the watch set.
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = s.addDirs(ev.Name)
						continue
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					s.clock.Post(onChange)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if s.log != nil {
					s.log.Warn("tile watcher error", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

func (s *FileSource) addDirs(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return s.watcher.Add(path)
		}
		return nil
	})
}

func (s *FileSource) Close() error {
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
