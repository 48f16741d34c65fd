// internal/config/validate.go
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/colebrumley/amitrigger/internal/ami"
)

// CronParser accepts 5 or 6 field expressions and @descriptors.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var (
	tagsPattern       = regexp.MustCompile(`^[^=]+=[^=]+.*`)
	validArchitecture = map[string]bool{"i386": true, "x86_64": true, "arm64": true, "x86_64_mac": true, "arm64_mac": true}
	validShared       = map[string]bool{"true": true, "false": true}
)

// ScheduleSpec returns the cron expression for def. run_every and run_at are
// shorthands: "30m" becomes "@every 30m" and "HH:MM" runs daily.
func (def *TriggerDef) ScheduleSpec() string {
	if def.Schedule != "" {
		return def.Schedule
	}
	if def.RunAt != "" && len(def.RunAt) == 5 && def.RunAt[2] == ':' {
		return "0 " + def.RunAt[3:5] + " " + def.RunAt[0:2] + " * * *"
	}
	if def.RunEvery != "" {
		return "@every " + def.RunEvery
	}
	return ""
}

// ValidateTrigger checks a definition and fills in defaults for optional
// retry settings.
func ValidateTrigger(def *TriggerDef) error {
	if def.Name == "" {
		return errors.New("trigger name is required")
	}
	if strings.ContainsAny(def.Name, "/ \t") {
		return fmt.Errorf("trigger name %q must not contain slashes or whitespace", def.Name)
	}

	if def.Schedule == "" && def.RunEvery == "" && def.RunAt == "" {
		return errors.New("one of schedule, run_every or run_at is required")
	}
	if def.RunEvery != "" && def.Schedule == "" && def.RunAt == "" {
		if d, err := time.ParseDuration(def.RunEvery); err != nil || d < time.Minute {
			return fmt.Errorf("run_every %q must be a duration of at least 1m", def.RunEvery)
		}
	}
	if _, err := CronParser.Parse(def.ScheduleSpec()); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", def.ScheduleSpec(), err)
	}

	if len(def.Filters) == 0 {
		return errors.New("at least one filter is required")
	}
	for i, f := range def.Filters {
		if err := ValidateFilter(f); err != nil {
			return fmt.Errorf("filter %d: %w", i+1, err)
		}
	}

	if def.Action.Command == "" {
		return errors.New("action command is required")
	}
	if def.Action.TimeoutSeconds < 0 {
		return errors.New("action timeout_seconds must not be negative")
	}

	if w := def.Webhook; w != nil {
		if w.ListenPath == "" {
			return errors.New("webhook requires listen_path")
		}
		if !strings.HasPrefix(w.ListenPath, "/") {
			return fmt.Errorf("webhook listen_path %q must start with /", w.ListenPath)
		}
		if strings.HasPrefix(w.ListenPath, "/api/") || w.ListenPath == "/health" {
			return fmt.Errorf("webhook listen_path %q collides with the daemon API", w.ListenPath)
		}
		if w.RequireSecret && (w.SecretHeader == "" || w.SecretEnvVar == "") {
			return errors.New("webhook require_secret needs secret_header and secret_env_var")
		}
	}

	if def.OnFailure.Retry && def.OnFailure.RetryAttempts <= 0 {
		def.OnFailure.RetryAttempts = 3
	}
	if def.OnFailure.Retry && def.OnFailure.RetryDelaySeconds <= 0 {
		def.OnFailure.RetryDelaySeconds = 30
	}
	return nil
}

// ErrInvalidFilter is wrapped by every error ValidateFilter returns.
var ErrInvalidFilter = errors.New("invalid filter")

// ValidateFilter rejects filters that cannot be evaluated sensibly. At least
// one of name, description or tags must narrow the query, and a bare "*"
// alone is too broad.
func ValidateFilter(f ami.Filter) error {
	if err := checkFilter(f); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return nil
}

func checkFilter(f ami.Filter) error {
	if f.Name == "" && f.Description == "" && f.Tags == "" {
		return errors.New("at least one of name, description or tags is required")
	}
	if f.Name == "*" && f.Description == "" && f.Tags == "" {
		return errors.New(`name "*" with no description or tags matches every image`)
	}
	if f.Description == "*" && f.Name == "" && f.Tags == "" {
		return errors.New(`description "*" with no name or tags matches every image`)
	}
	if f.Tags != "" && !tagsPattern.MatchString(f.Tags) {
		return fmt.Errorf("tags %q must use the key=value;key=value form", f.Tags)
	}
	if v, ok := f.Architecture.Value(); ok && !validArchitecture[v] {
		return fmt.Errorf("unknown architecture %q", v)
	}
	if v, ok := f.Shared.Value(); ok && !validShared[v] {
		return fmt.Errorf("shared must be true, false or any, got %q", v)
	}
	return nil
}
