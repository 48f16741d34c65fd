// cmd/amitrigger/daemon.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/colebrumley/amitrigger/internal/daemon"
)

func newPollCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "poll <trigger>",
		Short: "Ask the running daemon to poll a trigger now",
		Long: `Queue a manual poll of one trigger on the running daemon. The poll runs
asynchronously; check 'amitrigger history' for its outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPoll(cmd, args[0])
		},
	}
}

func (c *cli) runPoll(cmd *cobra.Command, name string) error {
	base, err := c.daemonURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		base+"/api/triggers/"+url.PathEscape(name)+"/poll", nil)
	if err != nil {
		return err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Fprintf(cmd.OutOrStdout(), "Poll of '%s' queued\n", name)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("trigger %q is not loaded by the daemon", name)
	case http.StatusConflict:
		return fmt.Errorf("trigger %q is disabled", name)
	default:
		return fmt.Errorf("daemon returned %s: %s", resp.Status, readError(resp.Body))
	}
}

type health struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Uptime          string `json:"uptime"`
	TriggersLoaded  int    `json:"triggers_loaded"`
	TriggersEnabled int    `json:"triggers_enabled"`
	StateDB         bool   `json:"state_db"`
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and the state of each trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus(cmd)
		},
	}
}

func (c *cli) runStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	base, err := c.daemonURL()
	if err != nil {
		return err
	}

	var h health
	if err := c.getJSON(cmd, base+"/health", &h); err != nil {
		fmt.Fprintf(out, "Daemon is not running (%s)\n", base)
		return err
	}
	fmt.Fprintf(out, "Daemon is running (version %s, up %s)\n", h.Version, h.Uptime)
	fmt.Fprintf(out, "Triggers: %d loaded, %d enabled\n", h.TriggersLoaded, h.TriggersEnabled)
	if !h.StateDB {
		fmt.Fprintln(out, "warning: state database unavailable, last-run markers are not persisted")
	}

	var triggers []daemon.TriggerStatus
	if err := c.getJSON(cmd, base+"/api/triggers", &triggers); err != nil {
		return err
	}
	if len(triggers) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-24s %-8s %-20s %-20s %s\n", "NAME", "ENABLED", "LAST RUN", "NEXT POLL", "LAST ACTION")
	fmt.Fprintln(out, strings.Repeat("-", 90))
	for _, t := range triggers {
		enabled := "yes"
		if !t.Enabled {
			enabled = "no"
		}
		if t.Polling {
			enabled += "*"
		}
		fmt.Fprintf(out, "%-24s %-8s %-20s %-20s %s\n", t.Name, enabled, formatTime(t.LastRun), formatTime(t.NextPoll), t.LastAction)
	}
	return nil
}

func (c *cli) getJSON(cmd *cobra.Command, u string, v any) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, readError(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
