// Package manifest handles sable.toml run configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a sable.toml run configuration.
type Manifest struct {
	Run Run `toml:"run"`

	// Dir is the directory containing the sable.toml file (set at load time).
	Dir string `toml:"-"`
}

// Run configures how a compiled unit is interpreted.
type Run struct {
	// Entry overrides the unit's designated entry symbol.
	Entry string `toml:"entry"`
	// Sysroot locates the MIR-complete core library store. Calls into
	// the core library abort with a missing-body diagnostic without it.
	Sysroot string `toml:"sysroot"`
	// Seed drives the engine's uninitialized-byte poisoning pattern.
	Seed int64 `toml:"seed"`
}

// Load parses a sable.toml file from the given directory and
// validates it against the manifest schema.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "sable.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	// Validate the raw document before typed decoding: the schema can
	// tell an explicit sysroot = "" apart from no sysroot key at all.
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a sable.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "sable.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SysrootPath returns the sysroot path resolved against the manifest
// directory, or "" if none is configured.
func (m *Manifest) SysrootPath() string {
	if m.Run.Sysroot == "" {
		return ""
	}
	if filepath.IsAbs(m.Run.Sysroot) {
		return m.Run.Sysroot
	}
	return filepath.Join(m.Dir, m.Run.Sysroot)
}
