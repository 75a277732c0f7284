package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/omnivm/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
cores = 4
assertions = true
stack_slots = 8192
interrupt_check_interval = 50
method_cache_size = 256
hot_threshold = 100

[heap]
relocate_every = 1000

[log]
verbosity = 2
path = "logs/omni.log"

[run]
bundle = "out/app.cbor"
class = "Main"
selector = "start"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.VM.Cores != 4 {
		t.Errorf("cores = %d, want 4", m.VM.Cores)
	}
	if !m.VM.Assertions {
		t.Error("assertions = false, want true")
	}
	if m.Heap.RelocateEvery != 1000 {
		t.Errorf("relocate_every = %d, want 1000", m.Heap.RelocateEvery)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", m.Log.Verbosity)
	}
	if m.Run.Class != "Main" || m.Run.Selector != "start" {
		t.Errorf("run = %+v, want Main>>start", m.Run)
	}
	if got, want := m.BundlePath(), filepath.Join(m.Dir, "out", "app.cbor"); got != want {
		t.Errorf("BundlePath = %q, want %q", got, want)
	}
	if got, want := m.LogPath(), filepath.Join(m.Dir, "logs", "omni.log"); got != want {
		t.Errorf("LogPath = %q, want %q", got, want)
	}

	cfg := m.VMConfig()
	want := vm.Config{
		Cores:                  4,
		Assertions:             true,
		StackSlots:             8192,
		InterruptCheckInterval: 50,
		MethodCacheSize:        256,
		RelocateEvery:          1000,
		HotThreshold:           100,
	}
	if cfg != want {
		t.Errorf("VMConfig = %+v, want %+v", cfg, want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[run]
bundle = "app.cbor"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg := m.VMConfig(); cfg != vm.DefaultConfig() {
		t.Errorf("VMConfig = %+v, want defaults %+v", cfg, vm.DefaultConfig())
	}
	if m.LogPath() != "" {
		t.Errorf("LogPath = %q, want empty", m.LogPath())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[vm\ncores = 1"},
		{"negative cores", "[vm]\ncores = -1"},
		{"negative relocation", "[heap]\nrelocate_every = -5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of a directory without omni.toml succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[vm]\ncores = 2\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad found nothing")
	}
	if m.VM.Cores != 2 {
		t.Errorf("cores = %d, want 2", m.VM.Cores)
	}
}

func TestFindAndLoadNone(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m != nil {
		// An omni.toml in an ancestor of the temp dir would be found; that
		// is not this test's concern.
		t.Skip("found an omni.toml above the temp directory")
	}
	var none *Manifest
	if none.VMConfig() != vm.DefaultConfig() {
		t.Error("nil manifest does not yield the default config")
	}
}
