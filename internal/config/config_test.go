package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

const sampleManifest = `
version: 1
abi: v1.0.0
pic:
  masterOffset: 48
  slaveOffset: 56
processes:
  - name: keyboard
    module: kbd.wasm
    interrupt: true
    irqs:
      - vector: 49
        function: 0
  - name: shell
    module: /opt/shell.wasm
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.PIC.MasterOffset != 48 || cfg.PIC.SlaveOffset != 56 {
		t.Fatalf("pic = %+v", cfg.PIC)
	}
	if len(cfg.Processes) != 2 {
		t.Fatalf("processes = %s", spew.Sdump(cfg.Processes))
	}
	kbd := cfg.Processes[0]
	if !kbd.Interrupt || len(kbd.IRQs) != 1 || kbd.IRQs[0] != (IRQConfig{Vector: 49, Function: 0}) {
		t.Fatalf("keyboard = %s", spew.Sdump(kbd))
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("processes: []\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Version != 1 || cfg.ABI != ABI {
		t.Fatalf("version=%d abi=%q", cfg.Version, cfg.ABI)
	}
	if cfg.PIC.MasterOffset != 0x20 || cfg.PIC.SlaveOffset != 0x28 {
		t.Fatalf("pic = %+v", cfg.PIC)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"version", "version: 2\n"},
		{"no name", "processes:\n  - module: a.wasm\n"},
		{"no module", "processes:\n  - name: a\n"},
		{"duplicate", "processes:\n  - {name: a, module: a.wasm}\n  - {name: a, module: b.wasm}\n"},
		{"irqs without capability", "processes:\n  - name: a\n    module: a.wasm\n    irqs: [{vector: 33, function: 0}]\n"},
		{"abi", "abi: v2.0.0\n"},
		{"syntax", "processes: [\n"},
	}
	for _, tt := range tests {
		if _, err := Parse([]byte(tt.manifest)); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestCheckABI(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{"v1.0.0", true},
		{"v1.0", true},
		{"v1", true},
		{"v1.1.0", false},
		{"v0.9.0", false},
		{"v2.0.0", false},
		{"latest", false},
	}
	for _, tt := range tests {
		err := CheckABI(tt.version)
		if tt.ok && err != nil {
			t.Fatalf("CheckABI(%q) = %v", tt.version, err)
		}
		if !tt.ok && !errors.Is(err, ErrUnsupportedABI) {
			t.Fatalf("CheckABI(%q) = %v, want ErrUnsupportedABI", tt.version, err)
		}
	}
}

func TestABIWithoutPrefix(t *testing.T) {
	cfg, err := Parse([]byte("abi: 1.0.0\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ABI != "v1.0.0" {
		t.Fatalf("ABI = %q", cfg.ABI)
	}
}

func TestLoadResolvesModules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kcore.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Processes[0].Module, filepath.Join(dir, "kbd.wasm"); got != want {
		t.Fatalf("module = %q, want %q", got, want)
	}
	if got := cfg.Processes[1].Module; got != "/opt/shell.wasm" {
		t.Fatalf("absolute module rewritten to %q", got)
	}
}

func TestWriteTemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kcore.yaml")
	in := Config{
		Processes: []ProcessConfig{{
			Name:      "timer",
			Module:    "timer.wasm",
			Interrupt: true,
			IRQs:      []IRQConfig{{Vector: 32, Function: 1}},
		}},
	}
	if err := WriteTemplate(path, in); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.ABI != ABI || out.Processes[0].IRQs[0].Function != 1 {
		t.Fatalf("round trip = %s", spew.Sdump(out))
	}
}
