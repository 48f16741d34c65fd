// cmd/amitriggerd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/colebrumley/amitrigger/internal/config"
	"github.com/colebrumley/amitrigger/internal/daemon"
	"github.com/colebrumley/amitrigger/internal/logging"
	"github.com/colebrumley/amitrigger/internal/mcp"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "amitriggerd",
		Short: "Poll EC2 for new machine images and run trigger actions",
		Long: `amitriggerd loads trigger definitions, polls EC2 on each trigger's
schedule and runs the trigger's action when images newer than the previous
poll appear. It also serves the HTTP API used by 'amitrigger' and any
webhook paths the definitions declare.

Settings are resolved from flags, then AMITRIGGER_* environment variables,
then defaults.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			d := daemon.New(v.GetString("config"), v.GetString("triggers-dir"),
				daemon.WithStatePath(v.GetString("state-db")),
				daemon.WithVersion(version))
			if err := d.Run(ctx); err != nil {
				return fmt.Errorf("daemon error: %w", err)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", config.DefaultConfigPath, "global config file")
	flags.String("triggers-dir", config.DefaultTriggersDir, "directory of trigger definitions")
	flags.String("state-db", "", "state database (default: state.path from the config file)")
	for _, name := range []string{"config", "triggers-dir", "state-db"} {
		v.BindPFlag(name, flags.Lookup(name))
	}
	v.SetEnvPrefix("AMITRIGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newMCPServerCmd(v))
	return root
}

func newMCPServerCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve trigger state, history and filter previews over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGlobal(v.GetString("config"))
			if errors.Is(err, fs.ErrNotExist) {
				cfg = config.DefaultGlobal()
			} else if err != nil {
				return err
			}
			statePath := v.GetString("state-db")
			if statePath == "" {
				statePath = cfg.State.Path
			}

			// stdout carries the MCP protocol.
			logger := logging.NewLogger("text", cfg.Daemon.LogLevel, os.Stderr)

			server, err := mcp.NewServer(cfg, v.GetString("triggers-dir"), statePath, logger)
			if err != nil {
				return fmt.Errorf("error creating MCP server: %w", err)
			}
			defer server.Close()

			ctx, stop := signalContext()
			defer stop()

			if err := server.Run(ctx); err != nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
