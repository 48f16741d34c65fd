// cmd/amitrigger/init.go
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/colebrumley/amitrigger/internal/config"
)

const exampleTrigger = `# Copy this file, set enabled: true and adjust the filters and action.
name: example
description: Rebuild when a new Ubuntu 24.04 base image is published
enabled: false
region: us-east-1
schedule: "*/15 * * * *"
filters:
  - name: "ubuntu/images/hvm-ssd*/ubuntu-noble-24.04-amd64-server-*"
    owner_alias: amazon
    architecture: x86_64
action:
  command: /usr/local/bin/rebuild.sh
  args: ["{{awsAmiTriggerImageId1}}"]
  timeout_seconds: 1800
dry_run: true
`

func newInitCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config file and triggers directory",
		Long: `Create the global config file with default settings and the triggers
directory with an example definition. Existing files are left alone.
The triggers directory is created with mode 0700; amitriggerd refuses
to hot-reload definitions from a directory others can write to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(cmd)
		},
	}
}

func (c *cli) runInit(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	configPath := c.configPath()
	triggersDir := c.triggersDir()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
	}
	if err := os.MkdirAll(triggersDir, 0700); err != nil {
		return fmt.Errorf("creating directory %s: %w", triggersDir, err)
	}
	if err := os.Chmod(triggersDir, 0700); err != nil {
		return fmt.Errorf("setting triggers directory permissions: %w", err)
	}
	fmt.Fprintf(out, "Created %s\n", triggersDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := config.DefaultGlobal()
		if p := c.v.GetString("state-db"); p != "" {
			cfg.State.Path = p
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(configPath, data, 0600); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created %s\n", configPath)
	}

	examplePath := filepath.Join(triggersDir, "example.yaml")
	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		if err := os.WriteFile(examplePath, []byte(exampleTrigger), 0600); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created %s\n", examplePath)
	}

	fmt.Fprintln(out, "\nInitialization complete. Add trigger definitions to:", triggersDir)
	return nil
}
