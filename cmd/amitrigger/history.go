// cmd/amitrigger/history.go
package main

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colebrumley/amitrigger/internal/state"
)

type historyOptions struct {
	outcome string
	limit   int
	actions bool
	output  bool
}

func newHistoryCmd(c *cli) *cobra.Command {
	var opts historyOptions
	cmd := &cobra.Command{
		Use:   "history [trigger]",
		Short: "Show recent evaluation passes and action runs",
		Long: `Read evaluation and action history from the state database, newest
first. Works whether or not the daemon is running.`,
		Example: `  amitrigger history
  amitrigger history base-image-rebuild --outcome matched
  amitrigger history base-image-rebuild --actions --output`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trigger := ""
			if len(args) == 1 {
				trigger = args[0]
			}
			return c.runHistory(cmd, trigger, &opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.outcome, "outcome", "", "only passes with this outcome (matched, no_match, catalog_error, persist_error, skipped)")
	f.IntVarP(&opts.limit, "limit", "n", 20, "maximum records")
	f.BoolVar(&opts.actions, "actions", false, "show action runs instead of evaluation passes")
	f.BoolVar(&opts.output, "output", false, "with --actions, print each run's captured output")
	return cmd
}

func (c *cli) runHistory(cmd *cobra.Command, trigger string, opts *historyOptions) error {
	cfg, err := c.loadGlobal()
	if err != nil {
		return err
	}
	db, err := state.Open(cfg.State.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if opts.actions {
		runs, err := db.GetActions(ctx, trigger, "", opts.limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No action runs recorded")
			return nil
		}
		fmt.Fprintf(out, "%-20s %-24s %-10s %-8s %s\n", "STARTED", "TRIGGER", "STATE", "ATTEMPT", "SUMMARY")
		fmt.Fprintln(out, strings.Repeat("-", 90))
		for _, r := range runs {
			st := r.State
			if r.DryRun {
				st += "*"
			}
			fmt.Fprintf(out, "%-20s %-24s %-10s %-8d %s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Trigger, st, r.RetryAttempt+1, r.Summary)
			if r.Error != "" {
				fmt.Fprintf(out, "    error: %s\n", r.Error)
			}
			if opts.output && r.Output != "" {
				for _, line := range strings.Split(strings.TrimRight(r.Output, "\n"), "\n") {
					fmt.Fprintf(out, "    | %s\n", line)
				}
			}
		}
		return nil
	}

	evals, err := db.GetEvaluations(ctx, trigger, opts.outcome, opts.limit)
	if err != nil {
		return err
	}
	if len(evals) == 0 {
		fmt.Fprintln(out, "No evaluations recorded")
		return nil
	}
	fmt.Fprintf(out, "%-20s %-24s %-10s %-14s %-7s %s\n", "STARTED", "TRIGGER", "SOURCE", "OUTCOME", "MATCHES", "IMAGES")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, e := range evals {
		images := e.ImageIDs
		if e.Error != "" {
			images = "error: " + e.Error
		}
		fmt.Fprintf(out, "%-20s %-24s %-10s %-14s %-7d %s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.Trigger, e.Source, e.Outcome, e.Matches, images)
	}
	return nil
}

func newLogsCmd(c *cli) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log file",
		Long: `Print the last 50 lines of the daemon log named by logging.file in the
config file. When the daemon logs to stdout, read its service manager's
journal instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadGlobal()
			if err != nil {
				return err
			}
			if cfg.Logging.File == "" {
				return fmt.Errorf("logging.file is not set in %s; the daemon logs to stdout", c.configPath())
			}

			tailArgs := []string{"-n", "50"}
			if follow {
				tailArgs = append(tailArgs, "-F")
			}
			tailArgs = append(tailArgs, cfg.Logging.File)

			tail := exec.CommandContext(cmd.Context(), "tail", tailArgs...)
			tail.Stdout = cmd.OutOrStdout()
			tail.Stderr = cmd.ErrOrStderr()
			return tail.Run()
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow the log across rotations")
	return cmd
}
