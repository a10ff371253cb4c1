// Package config loads the optional YAML file that supplies defaults for
// flags the CLI does not set explicitly. Flags always win over file
// values, which in turn win over the package's built-in defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the shape of the optional --config YAML document. Every field
// is a pointer so the loader can distinguish "absent" from "zero value"
// when layering onto defaults.
type File struct {
	TurnLimit  *int    `yaml:"turn-limit"`
	TimeoutSec *int    `yaml:"timeout"`
	MaxRetries *int    `yaml:"max-retries"`
	Model      *string `yaml:"model"`
	Image      *string `yaml:"image"`
}

// Defaults holds the built-in fallback values, matching the CLI flag
// table's documented defaults.
var Defaults = File{
	TurnLimit:  intPtr(10),
	TimeoutSec: intPtr(300),
	MaxRetries: intPtr(3),
	Model:      stringPtr(""),
	Image:      stringPtr("agent-sandbox:latest"),
}

// Load reads and parses the YAML file at path. A missing or unreadable
// file is an error; the caller only calls Load when --config was supplied.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &f, nil
}

// Merge layers override on top of base: any non-nil field in override
// wins, any nil field falls through to base's value. Used to apply
// file-supplied defaults first, then explicit flags on top.
func Merge(base, override *File) File {
	merged := File{}
	if base != nil {
		merged = *base
	}
	if override == nil {
		return merged
	}
	if override.TurnLimit != nil {
		merged.TurnLimit = override.TurnLimit
	}
	if override.TimeoutSec != nil {
		merged.TimeoutSec = override.TimeoutSec
	}
	if override.MaxRetries != nil {
		merged.MaxRetries = override.MaxRetries
	}
	if override.Model != nil {
		merged.Model = override.Model
	}
	if override.Image != nil {
		merged.Image = override.Image
	}
	return merged
}

func intPtr(v int) *int          { return &v }
func stringPtr(v string) *string { return &v }
