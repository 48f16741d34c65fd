// cmd/amitrigger/triggers.go
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colebrumley/amitrigger/internal/config"
	"github.com/colebrumley/amitrigger/internal/security"
)

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [trigger...]",
		Short: "Validate trigger definitions",
		Long: `Load every definition in the triggers directory and report the ones the
daemon would skip. With arguments, only the named triggers are reported.
Exits non-zero when any reported definition is invalid.`,
		Example: `  amitrigger validate
  amitrigger validate base-image-rebuild`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate(cmd, args)
		},
	}
}

func (c *cli) runValidate(cmd *cobra.Command, names []string) error {
	out := cmd.OutOrStdout()
	dir := c.triggersDir()

	if err := security.ValidateTriggersDir(dir); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	if err := security.ValidateFilePermissions(c.configPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	defs, failed, err := config.LoadTriggersDir(dir)
	if err != nil {
		return err
	}

	if len(names) > 0 {
		found := make(map[string]bool)
		for _, def := range defs {
			if slices.Contains(names, def.Name) {
				found[def.Name] = true
				fmt.Fprintf(out, "Trigger '%s' is valid\n", def.Name)
			}
		}
		for _, f := range failed {
			fmt.Fprintf(out, "invalid: %v\n", f)
		}
		for _, name := range names {
			if !found[name] {
				return fmt.Errorf("trigger %q not found or invalid", name)
			}
		}
		return nil
	}

	for _, f := range failed {
		fmt.Fprintf(out, "invalid: %v\n", f)
	}
	fmt.Fprintf(out, "Validated %d trigger(s), %d invalid\n", len(defs)+len(failed), len(failed))
	if len(failed) > 0 {
		return fmt.Errorf("%d invalid trigger definition(s)", len(failed))
	}
	return nil
}

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trigger definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runList(cmd)
		},
	}
}

func (c *cli) runList(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	defs, failed, err := config.LoadTriggersDir(c.triggersDir())
	if err != nil {
		return err
	}

	if len(defs) == 0 && len(failed) == 0 {
		fmt.Fprintln(out, "No triggers found")
		return nil
	}

	fmt.Fprintf(out, "%-24s %-8s %-18s %-8s %s\n", "NAME", "ENABLED", "SCHEDULE", "FILTERS", "DESCRIPTION")
	fmt.Fprintln(out, strings.Repeat("-", 80))

	for _, def := range defs {
		enabled := "yes"
		if !def.Enabled {
			enabled = "no"
		}
		if def.DryRun {
			enabled += " (dry)"
		}
		desc := def.Description
		if len(desc) > 30 {
			desc = desc[:27] + "..."
		}
		fmt.Fprintf(out, "%-24s %-8s %-18s %-8d %s\n", def.Name, enabled, def.ScheduleSpec(), len(def.Filters), desc)
	}

	if len(failed) > 0 {
		fmt.Fprintf(out, "\n%d invalid definition(s) skipped, run 'amitrigger validate' for details\n", len(failed))
	}
	return nil
}
