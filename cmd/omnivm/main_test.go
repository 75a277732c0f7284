package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/omnivm/vm"
	"github.com/chazu/omnivm/vm/bundle"
)

func writeBundle(t *testing.T, b *bundle.Bundle) string {
	t.Helper()
	data, err := bundle.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "app.cbor")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBundle(t *testing.T) {
	path := writeBundle(t, &bundle.Bundle{
		Classes: []bundle.Class{{Name: "App"}},
		Methods: []bundle.Method{{
			Class:     "App",
			Selector:  "main",
			Literals:  []bundle.Literal{{Kind: bundle.LiteralInt, Int: 7}},
			Bytecodes: []byte{32, 124},
		}},
		Entry: &bundle.Entry{Class: "App", Selector: "main"},
	})

	v := vm.NewVM(vm.DefaultConfig())
	prog, err := loadBundle(v, path)
	if err != nil {
		t.Fatal(err)
	}
	r, err := prog.Run(context.Background(), v.NewInterpreter(0))
	if err != nil || r != vm.FromInt(7) {
		t.Errorf("main = %s, %v", v.Describe(r), err)
	}
}

func TestLoadBundleErrors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.cbor")
	if err := os.WriteFile(junk, []byte("not cbor"), 0o644); err != nil {
		t.Fatal(err)
	}
	unknown := writeBundle(t, &bundle.Bundle{Entry: &bundle.Entry{Class: "Nowhere", Selector: "main"}})

	tests := []struct {
		name string
		path string
		is   error
	}{
		{"missing file", filepath.Join(dir, "absent.cbor"), os.ErrNotExist},
		{"not a bundle", junk, nil},
		{"unknown entry class", unknown, bundle.ErrUnknownClass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadBundle(vm.NewVM(vm.DefaultConfig()), tt.path)
			if err == nil {
				t.Fatal("loadBundle succeeded")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestLoadManifest(t *testing.T) {
	t.Run("none found", func(t *testing.T) {
		t.Chdir(t.TempDir())
		m, err := loadManifest("")
		if err != nil {
			t.Fatal(err)
		}
		if m == nil {
			t.Fatal("loadManifest returned nil")
		}
		if m.VMConfig() != vm.DefaultConfig() || m.BundlePath() != "" || m.Run.Class != "" || m.Log.Verbosity != 0 {
			t.Errorf("empty manifest changed settings: %+v", m)
		}
	})

	t.Run("explicit directory", func(t *testing.T) {
		dir := t.TempDir()
		toml := "[run]\nbundle = \"app.cbor\"\nclass = \"App\"\n\n[log]\nverbosity = 2\n"
		if err := os.WriteFile(filepath.Join(dir, "omni.toml"), []byte(toml), 0o644); err != nil {
			t.Fatal(err)
		}
		m, err := loadManifest(dir)
		if err != nil {
			t.Fatal(err)
		}
		if m.Run.Class != "App" || m.Log.Verbosity != 2 || filepath.Base(m.BundlePath()) != "app.cbor" {
			t.Errorf("manifest = %+v", m)
		}
	})

	if _, err := loadManifest(t.TempDir()); err == nil {
		t.Error("loaded a directory without omni.toml")
	}
}
