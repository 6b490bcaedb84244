// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Engine names accepted in config.
const (
	EngineStarlark = "starlark"
	EngineGoja     = "goja"
)

// DataDirEnvVar overrides the default data directory.
const DataDirEnvVar = "EMBEDBRIDGE_DATA"

// validate is shared; validator caches struct metadata.
var validate = validator.New()

// Config holds embedded runtime settings
type Config struct {
	Engine string `yaml:"engine" json:"engine,omitempty" validate:"omitempty,oneof=starlark goja" description:"Embedded engine (starlark, goja)" default:"starlark" jsonschema:"enum=starlark,enum=goja"`

	// Module search path, highest precedence first: updated modules, app, app packages
	UpdatedModulesDir string `yaml:"updated_modules_dir" json:"updated_modules_dir,omitempty" description:"Directory of updated modules overriding bundled ones (relative to data dir)" default:"updated_modules"`
	AppDir            string `yaml:"app_dir" json:"app_dir,omitempty" description:"Application module directory (relative to data dir)" default:"app"`
	PackagesDir       string `yaml:"packages_dir" json:"packages_dir,omitempty" description:"Bundled package directory (relative to data dir)" default:"app_packages"`

	MainModule   string `yaml:"main_module" json:"main_module,omitempty" description:"Module executed when the runtime starts (empty = none)"`
	WatchModules bool   `yaml:"watch_modules" json:"watch_modules,omitempty" description:"Reload modules when files in the search path change" default:"false"`

	ExecTimeout time.Duration `yaml:"exec_timeout" json:"exec_timeout,omitempty" validate:"gte=0" description:"Per-call execution limit, e.g. 30s (0 = unlimited)" default:"0"`
	CrashDialog bool          `yaml:"crash_dialog" json:"crash_dialog,omitempty" description:"Show the interactive crash dialog on fatal errors" default:"true"`
	LogLevel    string        `yaml:"log_level" json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error" description:"Log level (debug, info, warn, error)" default:"info" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DefaultConfig returns the default configuration for runtime use.
func DefaultConfig() Config {
	return Config{
		Engine:            EngineStarlark,
		UpdatedModulesDir: "updated_modules",
		AppDir:            "app",
		PackagesDir:       "app_packages",
		CrashDialog:       true,
		LogLevel:          "info",
	}
}

// ModulePaths returns the module search directories in precedence order.
func (c *Config) ModulePaths() []string {
	return []string{c.UpdatedModulesDir, c.AppDir, c.PackagesDir}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// DefaultDataDirName is the directory under $HOME used when nothing else is set.
const DefaultDataDirName = ".embedbridge"

// GetDataDir returns the data directory.
// Resolution order: -d flag > EMBEDBRIDGE_DATA env var > ~/.embedbridge
func GetDataDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envDir := os.Getenv(DataDirEnvVar); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "" // Can't determine default
	}
	return filepath.Join(home, DefaultDataDirName)
}

// GetConfigPath returns the path to the config file in the data directory.
// Returns empty string if dataDir is empty.
func GetConfigPath(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "config.yaml")
}

// ResolvePath resolves a relative path against baseDir.
// Absolute paths and empty values are returned unchanged.
func ResolvePath(path, baseDir string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// LoadConfig loads config.yaml from the data directory and resolves the
// module directories against it. A missing file yields the defaults.
func LoadConfig(dataDir string) (Config, error) {
	config, err := LoadConfigFromPath(GetConfigPath(dataDir))
	if err != nil {
		return config, err
	}
	config.ResolveDirs(dataDir)
	return config, nil
}

// ResolveDirs makes the module directories absolute relative to dataDir.
func (c *Config) ResolveDirs(dataDir string) {
	c.UpdatedModulesDir = ResolvePath(c.UpdatedModulesDir, dataDir)
	c.AppDir = ResolvePath(c.AppDir, dataDir)
	c.PackagesDir = ResolvePath(c.PackagesDir, dataDir)
}

// LoadConfigFromPath loads configuration from the specified path.
// If path is empty or the file doesn't exist, returns default config.
func LoadConfigFromPath(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - config path chosen by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig overlays YAML data on the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Explicitly blanked engine falls back to the default
	if config.Engine == "" {
		config.Engine = EngineStarlark
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// ConfigSchema returns the JSON schema of Config.
func ConfigSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Config{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
