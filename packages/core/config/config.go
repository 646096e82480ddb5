package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Config is the tapestry CLI configuration.
type Config struct {
	Output      string   `yaml:"output,omitempty" json:"output,omitempty"`           // console, json, tap
	Parallel    *bool    `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Concurrency int      `yaml:"concurrency,omitempty" json:"concurrency,omitempty"` // parallel file executions
	Bail        *bool    `yaml:"bail,omitempty" json:"bail,omitempty"`
	NoColor     *bool    `yaml:"noColor,omitempty" json:"noColor,omitempty"`
	Quiet       *bool    `yaml:"quiet,omitempty" json:"quiet,omitempty"`
	Rate        float64  `yaml:"rate,omitempty" json:"rate,omitempty"` // file launches per second, 0 = unlimited
	HistoryPath string   `yaml:"historyPath,omitempty" json:"historyPath,omitempty"`
	WatchDirs   []string `yaml:"watchDirs,omitempty" json:"watchDirs,omitempty"`
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// BoolPtr returns a pointer to a bool value
func BoolPtr(b bool) *bool {
	return &b
}

// GetParallel returns the parallel setting, defaulting to false
func (c *Config) GetParallel() bool {
	return getBool(c.Parallel, false)
}

// GetBail returns the bail setting, defaulting to false
func (c *Config) GetBail() bool {
	return getBool(c.Bail, false)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// GetQuiet returns the quiet setting, defaulting to false
func (c *Config) GetQuiet() bool {
	return getBool(c.Quiet, false)
}

// GetOutput returns the output format, defaulting to console
func (c *Config) GetOutput() string {
	if c.Output == "" {
		return "console"
	}
	return c.Output
}

// GetConcurrency returns the file concurrency, defaulting to 5
func (c *Config) GetConcurrency() int {
	if c.Concurrency <= 0 {
		return 5
	}
	return c.Concurrency
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".tapestry.yaml",
	"tapestry.yaml",
}

// Find walks upward from dir looking for a config file and returns its path,
// or "" when none exists.
func Find(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		for _, name := range ConfigFilenames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Load reads, validates, and decodes the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault loads the config file found from dir, or returns an empty
// config when there is none.
func LoadOrDefault(dir string) (*Config, error) {
	path := Find(dir)
	if path == "" {
		return &Config{}, nil
	}
	return Load(path)
}

// Validate checks raw YAML config bytes against the embedded schema.
func Validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("converting config for validation: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	documentLoader := gojsonschema.NewBytesLoader(jsonDoc)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if !result.Valid() {
		msg := "invalid config:"
		for _, e := range result.Errors() {
			msg += "\n  - " + e.String()
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
