// Package manifest handles omni.toml run configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/omnivm/vm"
)

// FileName is the name of the configuration file.
const FileName = "omni.toml"

// Manifest represents an omni.toml file.
type Manifest struct {
	VM   VMSection   `toml:"vm"`
	Heap HeapSection `toml:"heap"`
	Log  LogSection  `toml:"log"`
	Run  RunSection  `toml:"run"`

	// Dir is the directory containing the omni.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMSection configures the interpreters. Zero values keep the defaults.
type VMSection struct {
	Cores                  int  `toml:"cores"`
	Assertions             bool `toml:"assertions"`
	StackSlots             int  `toml:"stack_slots"`
	InterruptCheckInterval int  `toml:"interrupt_check_interval"`
	MethodCacheSize        int  `toml:"method_cache_size"`
	HotThreshold           int  `toml:"hot_threshold"`
}

// HeapSection configures object memory.
type HeapSection struct {
	RelocateEvery int `toml:"relocate_every"`
}

// LogSection configures logging.
type LogSection struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// RunSection names what to run. Class and Selector override the bundle's
// entry point.
type RunSection struct {
	Bundle   string `toml:"bundle"`
	Class    string `toml:"class"`
	Selector string `toml:"selector"`
}

// Load parses omni.toml from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.VM.Cores < 0 || m.VM.StackSlots < 0 || m.VM.MethodCacheSize < 0 || m.Heap.RelocateEvery < 0 {
		return nil, fmt.Errorf("%s: negative sizes are not allowed", path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an omni.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// VMConfig returns the VM settings, starting from vm.DefaultConfig.
func (m *Manifest) VMConfig() vm.Config {
	cfg := vm.DefaultConfig()
	if m == nil {
		return cfg
	}
	if m.VM.Cores > 0 {
		cfg.Cores = m.VM.Cores
	}
	cfg.Assertions = m.VM.Assertions
	if m.VM.StackSlots > 0 {
		cfg.StackSlots = m.VM.StackSlots
	}
	if m.VM.InterruptCheckInterval > 0 {
		cfg.InterruptCheckInterval = m.VM.InterruptCheckInterval
	}
	if m.VM.MethodCacheSize > 0 {
		cfg.MethodCacheSize = m.VM.MethodCacheSize
	}
	cfg.HotThreshold = m.VM.HotThreshold
	cfg.RelocateEvery = m.Heap.RelocateEvery
	return cfg
}

// BundlePath returns the configured bundle as an absolute path, or "".
func (m *Manifest) BundlePath() string {
	if m == nil || m.Run.Bundle == "" {
		return ""
	}
	if filepath.IsAbs(m.Run.Bundle) {
		return m.Run.Bundle
	}
	return filepath.Join(m.Dir, m.Run.Bundle)
}

// LogPath returns the configured log file as an absolute path, or "" for
// standard error.
func (m *Manifest) LogPath() string {
	if m == nil || m.Log.Path == "" {
		return ""
	}
	if filepath.IsAbs(m.Log.Path) {
		return m.Log.Path
	}
	return filepath.Join(m.Dir, m.Log.Path)
}
