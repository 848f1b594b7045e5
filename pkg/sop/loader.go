package sop

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Loader reads procedure definitions from a directory of YAML files, one
// procedure per file, each named `<id>.yaml`. Generalized from a loader
// that reads one fixed config file to a directory glob, since procedures
// are added/removed independently of any single monolithic config file.
type Loader struct {
	dir string
}

// NewLoader constructs a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads and validates every *.yaml/*.yml file in the directory,
// returning them in filename order. A malformed or invalid file aborts the
// whole load — SOPs govern automation of real business actions, so a
// partially-loaded registry is worse than a failed startup.
func (l *Loader) Load() ([]Definition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read sop directory %s: %w", l.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		def, err := l.loadFile(name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (l *Loader) loadFile(name string) (Definition, error) {
	path := filepath.Join(l.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}
	if err := validate(def); err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadRegistry loads dir and builds a Registry, activating every loaded
// definition (the startup path). The engine has no reload path, so the
// directory is read only when this is called.
func LoadRegistry(dir string) (*Registry, error) {
	loader := NewLoader(dir)
	defs, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs), nil
}
