package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads every *.yaml / *.yml file in dir as a workflow definition
// and registers it with the engine. Files are loaded in lexical order so
// registration is deterministic. A missing directory is not an error.
func (e *Engine) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading workflow directory %q: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		def, err := LoadFile(path)
		if err != nil {
			return err
		}
		if _, err := e.Create(def); err != nil {
			return fmt.Errorf("registering workflow from %q: %w", path, err)
		}
	}

	return nil
}

// LoadFile parses a single YAML workflow definition.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("reading workflow file %q: %w", path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parsing workflow file %q: %w", path, err)
	}

	return def, nil
}
