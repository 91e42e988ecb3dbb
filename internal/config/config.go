// Package config loads the jobweave tool configuration (jobweave.yaml).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up next to the module.
const DefaultFile = "jobweave.yaml"

// Managed-capture policies.
const (
	// ManagedWithoutBurstRun allows managed captures only for WithoutBurst().Run().
	ManagedWithoutBurstRun = "without-burst-run"
	// ManagedForbid rejects managed captures in every mode.
	ManagedForbid = "forbid"
)

// Config is the complete tool configuration.
type Config struct {
	Classification Classification `yaml:"classification"`
	Pass           Pass           `yaml:"pass"`
	Store          Store          `yaml:"store"`
}

// Classification extends the built-in type classification.
type Classification struct {
	// ValueTypes lists extra unmanaged value types outside the module
	// (e.g. "Mathematics.float3").
	ValueTypes []string `yaml:"value_types,omitempty"`

	// ComponentInterfaces marks struct types as per-record components.
	ComponentInterfaces []string `yaml:"component_interfaces,omitempty"`

	// BufferInterfaces marks struct types as buffer elements.
	BufferInterfaces []string `yaml:"buffer_interfaces,omitempty"`
}

// Pass tunes the rewriting pass.
type Pass struct {
	// Workers > 1 analyses methods concurrently.
	Workers int `yaml:"workers,omitempty"`

	// ManagedCaptures is one of ManagedWithoutBurstRun or ManagedForbid.
	ManagedCaptures string `yaml:"managed_captures,omitempty"`

	// AllowCachedDelegateIdiom tolerates the static delegate-cache branch
	// emitted for non-capturing lambdas. Nil means true.
	AllowCachedDelegateIdiom *bool `yaml:"allow_cached_delegate_idiom,omitempty"`
}

// Store configures run history.
type Store struct {
	// Path of the SQLite history database. Empty disables history.
	Path string `yaml:"path,omitempty"`
}

// CachedDelegateIdiom reports whether the idiom is tolerated.
func (p Pass) CachedDelegateIdiom() bool {
	return p.AllowCachedDelegateIdiom == nil || *p.AllowCachedDelegateIdiom
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Classification: Classification{
			ComponentInterfaces: []string{"Entities.IComponentData"},
			BufferInterfaces:    []string{"Entities.IBufferElementData"},
		},
		Pass: Pass{
			Workers:         1,
			ManagedCaptures: ManagedWithoutBurstRun,
		},
	}
}

// Load reads a configuration file. A missing file yields Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a configuration with strict field validation and fills
// unset values from Default().
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	var file Config
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.Classification.ValueTypes = append(cfg.Classification.ValueTypes, file.Classification.ValueTypes...)
	cfg.Classification.ComponentInterfaces = appendMissing(cfg.Classification.ComponentInterfaces, file.Classification.ComponentInterfaces)
	cfg.Classification.BufferInterfaces = appendMissing(cfg.Classification.BufferInterfaces, file.Classification.BufferInterfaces)
	if file.Pass.Workers != 0 {
		cfg.Pass.Workers = file.Pass.Workers
	}
	if file.Pass.ManagedCaptures != "" {
		cfg.Pass.ManagedCaptures = file.Pass.ManagedCaptures
	}
	cfg.Pass.AllowCachedDelegateIdiom = file.Pass.AllowCachedDelegateIdiom
	cfg.Store = file.Store

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Pass.Workers < 1 {
		return fmt.Errorf("pass.workers must be >= 1, got %d", c.Pass.Workers)
	}
	switch c.Pass.ManagedCaptures {
	case ManagedWithoutBurstRun, ManagedForbid:
	default:
		return fmt.Errorf("pass.managed_captures must be %q or %q, got %q",
			ManagedWithoutBurstRun, ManagedForbid, c.Pass.ManagedCaptures)
	}
	return nil
}

func appendMissing(dst, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}
