// internal/config/types.go
package config

import (
	"github.com/colebrumley/amitrigger/internal/ami"
	"github.com/colebrumley/amitrigger/internal/telemetry"
)

// Global configuration loaded from config.yaml
type Global struct {
	Daemon    DaemonConfig     `yaml:"daemon"`
	AWS       AWSConfig        `yaml:"aws"`
	Logging   LoggingConfig    `yaml:"logging"`
	Actions   ActionsConfig    `yaml:"actions"`
	State     StateConfig      `yaml:"state"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type DaemonConfig struct {
	LogLevel      string `yaml:"log_level"`
	ListenPort    int    `yaml:"listen_port"`
	ListenAddress string `yaml:"listen_address"`
}

// AWSConfig holds defaults for every trigger's catalog client.
type AWSConfig struct {
	Region              string `yaml:"region"`
	Profile             string `yaml:"profile"`
	EndpointURL         string `yaml:"endpoint_url"`
	ProxyURL            string `yaml:"proxy_url"`
	MaxAttempts         int    `yaml:"max_attempts"`
	RetryElapsedSeconds int    `yaml:"retry_elapsed_seconds"`
}

type LoggingConfig struct {
	Format    string `yaml:"format"`
	Debug     bool   `yaml:"debug"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

type ActionsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	// TimeoutSeconds applies to actions that set no timeout of their own.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type StateConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// TriggerDef is one trigger definition loaded from its own YAML file.
type TriggerDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Enabled     bool   `yaml:"enabled"`
	// CredentialsID names an AWS shared-config profile. Empty uses the global profile.
	CredentialsID string `yaml:"credentials_id"`
	Region        string `yaml:"region"`
	EndpointURL   string `yaml:"endpoint_url"`

	Schedule    string `yaml:"schedule"`
	RunEvery    string `yaml:"run_every"`
	RunAt       string `yaml:"run_at"`
	PollOnStart bool   `yaml:"poll_on_start"`

	Webhook *Webhook     `yaml:"webhook"`
	Filters []ami.Filter `yaml:"filters"`
	Action  Action       `yaml:"action"`

	DryRun    bool      `yaml:"dry_run"`
	OnFailure OnFailure `yaml:"on_failure"`
}

type Webhook struct {
	ListenPath    string `yaml:"listen_path"`
	RequireSecret bool   `yaml:"require_secret"`
	SecretHeader  string `yaml:"secret_header"`
	SecretEnvVar  string `yaml:"secret_env_var"`
}

// Action is the command started when a pass finds new images.
type Action struct {
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	WorkingDir     string            `yaml:"working_dir"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

type OnFailure struct {
	Retry             bool `yaml:"retry"`
	RetryAttempts     int  `yaml:"retry_attempts"`
	RetryDelaySeconds int  `yaml:"retry_delay_seconds"`
}

// Profile returns the AWS profile for def, falling back to the global default.
func (def *TriggerDef) Profile(g *Global) string {
	if def.CredentialsID != "" {
		return def.CredentialsID
	}
	return g.AWS.Profile
}

// EffectiveRegion returns the region for def, falling back to the global default.
func (def *TriggerDef) EffectiveRegion(g *Global) string {
	if def.Region != "" {
		return def.Region
	}
	return g.AWS.Region
}
