// Package config reads the kernel boot manifest.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/kcore/internal/pic"
)

// ABI is the syscall ABI version this kernel implements.
const ABI = "v1.0.0"

var ErrUnsupportedABI = errors.New("config: unsupported abi version")

// Config is the boot manifest.
type Config struct {
	Version int    `yaml:"version"`
	ABI     string `yaml:"abi"`

	PIC PICConfig `yaml:"pic"`

	Processes []ProcessConfig `yaml:"processes"`
}

type PICConfig struct {
	MasterOffset uint8 `yaml:"masterOffset,omitempty"`
	SlaveOffset  uint8 `yaml:"slaveOffset,omitempty"`
}

type ProcessConfig struct {
	Name   string `yaml:"name"`
	Module string `yaml:"module"`

	// Interrupt grants the process a capability to install interrupt
	// handlers.
	Interrupt bool `yaml:"interrupt,omitempty"`

	IRQs []IRQConfig `yaml:"irqs,omitempty"`
}

// IRQConfig binds a vector to a slot of the process's function table at
// boot.
type IRQConfig struct {
	Vector   uint32 `yaml:"vector"`
	Function uint32 `yaml:"function"`
}

func (c *Config) normalize() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.ABI == "" {
		c.ABI = ABI
	}
	if !strings.HasPrefix(c.ABI, "v") {
		c.ABI = "v" + c.ABI
	}
	if c.PIC.MasterOffset == 0 {
		c.PIC.MasterOffset = pic.DefaultPrimaryOffset
	}
	if c.PIC.SlaveOffset == 0 {
		c.PIC.SlaveOffset = pic.DefaultSecondaryOffset
	}
}

// Validate checks the manifest against this kernel.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("config: unsupported manifest version %d", c.Version)
	}
	if err := CheckABI(c.ABI); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for i, p := range c.Processes {
		if p.Name == "" {
			return fmt.Errorf("config: process %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate process %q", p.Name)
		}
		seen[p.Name] = true
		if p.Module == "" {
			return fmt.Errorf("config: process %q has no module", p.Name)
		}
		if len(p.IRQs) > 0 && !p.Interrupt {
			return fmt.Errorf("config: process %q binds irqs without an interrupt capability", p.Name)
		}
	}
	return nil
}

// CheckABI reports whether a manifest written for version can run on this
// kernel: same major version and not newer.
func CheckABI(version string) error {
	if !semver.IsValid(version) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrUnsupportedABI, version)
	}
	if semver.Major(version) != semver.Major(ABI) {
		return fmt.Errorf("%w: %s, kernel implements %s", ErrUnsupportedABI, version, ABI)
	}
	if semver.Compare(version, ABI) > 0 {
		return fmt.Errorf("%w: %s is newer than kernel %s", ErrUnsupportedABI, version, ABI)
	}
	return nil
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the manifest at path. Relative module paths are resolved
// against the manifest's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range cfg.Processes {
		if !filepath.IsAbs(cfg.Processes[i].Module) {
			cfg.Processes[i].Module = filepath.Join(dir, cfg.Processes[i].Module)
		}
	}
	return cfg, nil
}

// WriteTemplate writes cfg, with defaults filled in, to path.
func WriteTemplate(path string, cfg Config) error {
	cfg.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: close %s: %w", path, err)
	}
	return nil
}
