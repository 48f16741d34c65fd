// internal/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default locations used by amitrigger and amitriggerd when neither a flag
// nor an environment variable names one.
const (
	DefaultConfigPath  = "/etc/amitrigger/config.yaml"
	DefaultTriggersDir = "/etc/amitrigger/triggers.d"
)

// LoadGlobal loads the global configuration from a YAML file
func LoadGlobal(path string) (*Global, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Global
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyGlobalDefaults(&cfg)
	return &cfg, nil
}

// DefaultGlobal returns the configuration used when no config file exists.
func DefaultGlobal() *Global {
	var cfg Global
	applyGlobalDefaults(&cfg)
	return &cfg
}

// LoadTrigger loads a trigger definition from a YAML file
func LoadTrigger(path string) (*TriggerDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trigger file: %w", err)
	}

	var def TriggerDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing trigger file: %w", err)
	}

	return &def, nil
}

// LoadError reports a definition file that could not be loaded or validated.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %v", e.File, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// LoadTriggersDir loads and validates every definition in dir. Files that
// fail are returned as LoadErrors next to the definitions that loaded, so a
// single bad file does not disable the rest. Duplicate names are rejected.
func LoadTriggersDir(dir string) ([]*TriggerDef, []*LoadError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading triggers directory: %w", err)
	}

	var defs []*TriggerDef
	var failed []*LoadError
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		def, err := LoadTrigger(filepath.Join(dir, entry.Name()))
		if err == nil {
			err = ValidateTrigger(def)
		}
		if err == nil {
			if other, dup := seen[def.Name]; dup {
				err = fmt.Errorf("trigger name %q already defined in %s", def.Name, other)
			}
		}
		if err != nil {
			failed = append(failed, &LoadError{File: entry.Name(), Err: err})
			continue
		}
		seen[def.Name] = entry.Name()
		defs = append(defs, def)
	}

	return defs, failed, nil
}

func applyGlobalDefaults(cfg *Global) {
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Daemon.ListenPort == 0 {
		cfg.Daemon.ListenPort = 9877
	}
	if cfg.Daemon.ListenAddress == "" {
		cfg.Daemon.ListenAddress = "127.0.0.1"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.AWS.RetryElapsedSeconds == 0 {
		cfg.AWS.RetryElapsedSeconds = 60
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Actions.MaxConcurrent <= 0 {
		cfg.Actions.MaxConcurrent = 4
	}
	if cfg.Actions.TimeoutSeconds <= 0 {
		cfg.Actions.TimeoutSeconds = 3600
	}
	if cfg.State.RetentionDays <= 0 {
		cfg.State.RetentionDays = 30
	}
	if cfg.State.Path == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			cfg.State.Path = filepath.Join(homeDir, ".local", "state", "amitrigger", "state.db")
		}
	}
}
