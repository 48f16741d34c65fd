// cmd/amitrigger/main.go
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/colebrumley/amitrigger/internal/catalog"
	"github.com/colebrumley/amitrigger/internal/config"
	"github.com/colebrumley/amitrigger/internal/logging"
)

// cli carries the resolved settings shared by every subcommand.
type cli struct {
	v *viper.Viper

	// Overridden in tests.
	pool       *catalog.Pool
	httpClient *http.Client
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&cli{})
}

func newRootCmdWith(c *cli) *cobra.Command {
	c.v = viper.New()

	root := &cobra.Command{
		Use:   "amitrigger",
		Short: "Run actions when new AWS machine images are published",
		Long: `amitrigger manages the trigger definitions polled by amitriggerd.

Each definition lists AMI filters and a command. When a poll finds images
created since the previous poll, amitriggerd runs the command with the
image details exported as awsAmiTrigger* environment variables.

Settings are resolved from flags, then AMITRIGGER_* environment variables,
then defaults.

Examples:
  # Create the config file and triggers directory
  amitrigger init

  # Check definitions before the daemon picks them up
  amitrigger validate

  # See what a filter matches right now
  amitrigger test-filter --name "ubuntu/images/*noble*" --owner-alias amazon

  # Force a poll of a running daemon
  amitrigger poll base-image-rebuild`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", config.DefaultConfigPath, "global config file")
	flags.String("triggers-dir", config.DefaultTriggersDir, "directory of trigger definitions")
	flags.String("state-db", "", "state database (default: state.path from the config file)")
	flags.String("daemon-url", "", "daemon API base URL (default: from the config file)")

	for _, name := range []string{"config", "triggers-dir", "state-db", "daemon-url"} {
		c.v.BindPFlag(name, flags.Lookup(name))
	}
	c.v.SetEnvPrefix("AMITRIGGER")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.SuggestionsMinimumDistance = 2

	root.AddCommand(
		newInitCmd(c),
		newValidateCmd(c),
		newListCmd(c),
		newTestFilterCmd(c),
		newPollCmd(c),
		newStatusCmd(c),
		newHistoryCmd(c),
		newLogsCmd(c),
	)
	return root
}

func (c *cli) configPath() string  { return c.v.GetString("config") }
func (c *cli) triggersDir() string { return c.v.GetString("triggers-dir") }

// loadGlobal reads the config file. A missing file yields the defaults so
// the CLI works before init.
func (c *cli) loadGlobal() (*config.Global, error) {
	cfg, err := config.LoadGlobal(c.configPath())
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultGlobal()
	} else if err != nil {
		return nil, err
	}
	if p := c.v.GetString("state-db"); p != "" {
		cfg.State.Path = p
	}
	return cfg, nil
}

func (c *cli) catalogPool(stderr io.Writer) *catalog.Pool {
	if c.pool == nil {
		c.pool = catalog.NewPool(logging.NewLogger("text", "warn", stderr))
	}
	return c.pool
}

func (c *cli) client() *http.Client {
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c.httpClient
}

// daemonURL returns the API base URL without a trailing slash.
func (c *cli) daemonURL() (string, error) {
	if u := c.v.GetString("daemon-url"); u != "" {
		return strings.TrimRight(u, "/"), nil
	}
	cfg, err := c.loadGlobal()
	if err != nil {
		return "", err
	}
	return "http://" + net.JoinHostPort(cfg.Daemon.ListenAddress, strconv.Itoa(cfg.Daemon.ListenPort)), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
