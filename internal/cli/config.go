package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/asbel-lang/asbel/internal/ast"
)

// DefaultConfigFile is read from the working directory when --config is not given.
const DefaultConfigFile = "asbel.json"

// Config represents the asbel.json configuration shared by the tools.
// Command line flags override individual fields.
type Config struct {
	Verbose bool `json:"verbose"`
	Debug   bool `json:"debug"`

	// Workers bounds parallel function analysis; 0 means one per CPU.
	Workers          int  `json:"workers"`
	MaxErrors        int  `json:"max_errors"`
	WarningsAsErrors bool `json:"warnings_as_errors"`
	WarnDeferred     bool `json:"warn_deferred"`

	// Schema is the semver constraint typed AST inputs must satisfy.
	Schema string `json:"schema"`
	// Color is auto, always or never.
	Color string `json:"color"`
	// Entry is the function `run` executes.
	Entry string `json:"entry"`

	Serve ServeConfig `json:"serve"`
}

// ServeConfig configures the HTTP/3 analysis endpoint.
type ServeConfig struct {
	Addr     string `json:"addr"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Schema: ast.SupportedSchema,
		Color:  "auto",
		Entry:  "main",
		Serve:  ServeConfig{Addr: "localhost:4433"},
	}
}

// LoadConfig loads configuration from file
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Default config if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}

	return config, nil
}

// Validate checks field values that JSON decoding cannot.
func (c *Config) Validate() error {
	if _, err := semver.NewConstraint(c.Schema); err != nil {
		return fmt.Errorf("invalid schema constraint %q: %w", c.Schema, err)
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("color must be auto, always or never, not %q", c.Color)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max_errors must not be negative")
	}
	return nil
}

// SaveConfig saves configuration to file
func (c *Config) SaveConfig(configPath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// UseColor resolves the color mode for output written to f.
func (c *Config) UseColor(f *os.File) bool {
	switch c.Color {
	case "always":
		return true
	case "never":
		return false
	}
	return f != nil && isTerminal(f.Fd())
}
