// internal/config/loader_test.go
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colebrumley/amitrigger/internal/ami"
)

func TestLoadGlobal(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := `
daemon:
  log_level: debug
  listen_port: 9900
aws:
  region: eu-west-1
  profile: ami-reader
logging:
  format: text
actions:
  max_concurrent: 2
telemetry:
  enabled: true
  stdout: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadGlobal(configPath)
	if err != nil {
		t.Fatalf("LoadGlobal failed: %v", err)
	}

	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("expected log_level debug, got %s", cfg.Daemon.LogLevel)
	}
	if cfg.Daemon.ListenPort != 9900 {
		t.Errorf("expected port 9900, got %d", cfg.Daemon.ListenPort)
	}
	if cfg.Daemon.ListenAddress != "127.0.0.1" {
		t.Errorf("expected default listen address, got %s", cfg.Daemon.ListenAddress)
	}
	if cfg.AWS.Region != "eu-west-1" || cfg.AWS.Profile != "ami-reader" {
		t.Errorf("unexpected aws config: %+v", cfg.AWS)
	}
	if cfg.Actions.MaxConcurrent != 2 {
		t.Errorf("expected max_concurrent 2, got %d", cfg.Actions.MaxConcurrent)
	}
	if !cfg.Telemetry.Enabled || !cfg.Telemetry.Stdout {
		t.Errorf("expected telemetry enabled with stdout, got %+v", cfg.Telemetry)
	}
	if cfg.State.RetentionDays != 30 {
		t.Errorf("expected default retention 30, got %d", cfg.State.RetentionDays)
	}
}

func TestDefaultGlobal(t *testing.T) {
	cfg := DefaultGlobal()
	if cfg.AWS.Region != "us-east-1" {
		t.Errorf("expected default region us-east-1, got %s", cfg.AWS.Region)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected json logging, got %s", cfg.Logging.Format)
	}
}

const triggerYAML = `
name: base-image-rebuild
description: Rebuild when Ubuntu base AMIs publish
enabled: true
credentials_id: ami-reader
region: eu-west-1
schedule: "*/15 * * * *"
poll_on_start: true
webhook:
  listen_path: /hooks/base-image
filters:
  - name: "ubuntu/images/hvm-ssd/ubuntu-noble-24.04-amd64-server-*"
    owner_alias: amazon
    architecture: x86_64
    shared: any
    tags: "Project=jenkins;Owner=hudson"
  - description: "Amazon Linux*"
action:
  command: /usr/local/bin/rebuild.sh
  args: ["{{awsAmiTriggerImageId1}}"]
  env:
    STAGE: prod
  timeout_seconds: 1800
`

func TestLoadTrigger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(path, []byte(triggerYAML), 0644); err != nil {
		t.Fatal(err)
	}

	def, err := LoadTrigger(path)
	if err != nil {
		t.Fatalf("LoadTrigger failed: %v", err)
	}

	if def.Name != "base-image-rebuild" {
		t.Errorf("expected name base-image-rebuild, got %s", def.Name)
	}
	if !def.Enabled || !def.PollOnStart {
		t.Error("expected enabled trigger polling on start")
	}
	if len(def.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(def.Filters))
	}
	f := def.Filters[0]
	if !f.Shared.IsAny() {
		t.Errorf("expected shared any, got %q", f.Shared)
	}
	if v, _ := f.Architecture.Value(); v != "x86_64" {
		t.Errorf("expected architecture x86_64, got %q", v)
	}
	if !def.Filters[1].OwnerAlias.IsUnset() {
		t.Error("expected unset owner alias on second filter")
	}
	if def.Webhook == nil || def.Webhook.ListenPath != "/hooks/base-image" {
		t.Errorf("unexpected webhook: %+v", def.Webhook)
	}
	if def.Action.Env["STAGE"] != "prod" {
		t.Errorf("expected env STAGE=prod, got %v", def.Action.Env)
	}
	if err := ValidateTrigger(def); err != nil {
		t.Errorf("expected valid trigger, got %v", err)
	}
}

func TestLoadTriggersDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.yaml", triggerYAML)
	write("dup.yml", triggerYAML)
	write("bad.yaml", "name: broken\nschedule: \"*/5 * * * *\"\n")
	write("notes.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	defs, failed, err := LoadTriggersDir(dir)
	if err != nil {
		t.Fatalf("LoadTriggersDir failed: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "base-image-rebuild" {
		t.Fatalf("expected one loaded trigger, got %d", len(defs))
	}
	if len(failed) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failed))
	}
	var dupSeen bool
	for _, f := range failed {
		if f.File == "dup.yml" && strings.Contains(f.Error(), "already defined") {
			dupSeen = true
		}
		var le *LoadError
		if !errors.As(f, &le) {
			t.Errorf("expected LoadError, got %T", f)
		}
	}
	if !dupSeen {
		t.Errorf("expected duplicate name failure, got %v", failed)
	}
}

func TestLoadTriggersDir_Missing(t *testing.T) {
	if _, _, err := LoadTriggersDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func validTrigger() TriggerDef {
	return TriggerDef{
		Name:     "test-trigger",
		Schedule: "@hourly",
		Filters:  []ami.Filter{{Name: "amzn2-ami-*"}},
		Action:   Action{Command: "/bin/true"},
	}
}

func TestValidateTrigger_Valid(t *testing.T) {
	def := validTrigger()
	if err := ValidateTrigger(&def); err != nil {
		t.Fatalf("expected valid trigger, got error: %v", err)
	}
}

func TestValidateTrigger_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*TriggerDef)
		want   string
	}{
		{"missing name", func(d *TriggerDef) { d.Name = "" }, "trigger name is required"},
		{"name with slash", func(d *TriggerDef) { d.Name = "a/b" }, "must not contain"},
		{"no schedule", func(d *TriggerDef) { d.Schedule = "" }, "one of schedule"},
		{"bad cron", func(d *TriggerDef) { d.Schedule = "every tuesday" }, "invalid schedule"},
		{"short run_every", func(d *TriggerDef) { d.Schedule = ""; d.RunEvery = "10s" }, "at least 1m"},
		{"no filters", func(d *TriggerDef) { d.Filters = nil }, "at least one filter"},
		{"empty filter", func(d *TriggerDef) { d.Filters = []ami.Filter{{OwnerAlias: ami.Exactly("amazon")}} }, "at least one of name, description or tags"},
		{"wildcard name", func(d *TriggerDef) { d.Filters = []ami.Filter{{Name: "*"}} }, "matches every image"},
		{"wildcard description", func(d *TriggerDef) { d.Filters = []ami.Filter{{Description: "*"}} }, "matches every image"},
		{"bad tags", func(d *TriggerDef) { d.Filters = []ami.Filter{{Tags: "novalue"}} }, "key=value"},
		{"bad architecture", func(d *TriggerDef) { d.Filters[0].Architecture = ami.Exactly("sparc") }, "unknown architecture"},
		{"bad shared", func(d *TriggerDef) { d.Filters[0].Shared = ami.Exactly("maybe") }, "shared must be"},
		{"missing command", func(d *TriggerDef) { d.Action.Command = "" }, "action command is required"},
		{"webhook no path", func(d *TriggerDef) { d.Webhook = &Webhook{} }, "listen_path"},
		{"webhook bad path", func(d *TriggerDef) { d.Webhook = &Webhook{ListenPath: "hook"} }, "must start with"},
		{"webhook api path", func(d *TriggerDef) { d.Webhook = &Webhook{ListenPath: "/api/x"} }, "collides"},
		{"webhook secret", func(d *TriggerDef) { d.Webhook = &Webhook{ListenPath: "/h", RequireSecret: true} }, "secret_header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validTrigger()
			tt.modify(&def)
			err := ValidateTrigger(&def)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("unexpected error message: %v", err)
			}
		})
	}
}

func TestValidateTrigger_AnyChoicesAllowed(t *testing.T) {
	def := validTrigger()
	def.Filters[0].Architecture = ami.Any()
	def.Filters[0].Shared = ami.Any()
	if err := ValidateTrigger(&def); err != nil {
		t.Fatalf("expected valid trigger, got error: %v", err)
	}
}

func TestValidateTrigger_RetryDefaults(t *testing.T) {
	def := validTrigger()
	def.OnFailure.Retry = true
	if err := ValidateTrigger(&def); err != nil {
		t.Fatalf("expected valid trigger, got error: %v", err)
	}
	if def.OnFailure.RetryAttempts != 3 {
		t.Errorf("expected retry_attempts defaulted to 3, got %d", def.OnFailure.RetryAttempts)
	}
	if def.OnFailure.RetryDelaySeconds != 30 {
		t.Errorf("expected retry_delay_seconds defaulted to 30, got %d", def.OnFailure.RetryDelaySeconds)
	}
}

func TestScheduleSpec(t *testing.T) {
	tests := []struct {
		def  TriggerDef
		want string
	}{
		{TriggerDef{Schedule: "*/5 * * * *"}, "*/5 * * * *"},
		{TriggerDef{RunEvery: "30m"}, "@every 30m"},
		{TriggerDef{RunAt: "06:30"}, "0 30 06 * * *"},
		{TriggerDef{}, ""},
	}
	for _, tt := range tests {
		if got := tt.def.ScheduleSpec(); got != tt.want {
			t.Errorf("ScheduleSpec(%+v) = %q, want %q", tt.def, got, tt.want)
		}
		if tt.want != "" {
			if _, err := CronParser.Parse(tt.want); err != nil {
				t.Errorf("spec %q does not parse: %v", tt.want, err)
			}
		}
	}
}

func TestProfileAndRegionFallback(t *testing.T) {
	g := DefaultGlobal()
	g.AWS.Profile = "global"
	def := validTrigger()
	if def.Profile(g) != "global" || def.EffectiveRegion(g) != "us-east-1" {
		t.Errorf("expected global fallbacks, got %s/%s", def.Profile(g), def.EffectiveRegion(g))
	}
	def.CredentialsID = "own"
	def.Region = "ap-south-1"
	if def.Profile(g) != "own" || def.EffectiveRegion(g) != "ap-south-1" {
		t.Errorf("expected trigger overrides, got %s/%s", def.Profile(g), def.EffectiveRegion(g))
	}
}
