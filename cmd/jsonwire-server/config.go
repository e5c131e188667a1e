package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/jsonwire/internal/config"
	"github.com/muurk/jsonwire/internal/ui"
)

var forceOverwrite bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the server configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration as YAML.

The file goes to --config when given, otherwise to the user config
directory (for example ~/.config/jsonwire/config.yaml on Linux).`,
	Example: `  # Write ~/.config/jsonwire/config.yaml
  jsonwire-server config init

  # Write next to the binary
  jsonwire-server config init --config ./config.yaml --force`,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&forceOverwrite, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		var err error
		path, err = config.GetConfigPath()
		if err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil && !forceOverwrite {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.WriteFile(path, config.Default()); err != nil {
		return err
	}

	ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Configuration written", map[string]string{
		"Path": path,
	}, "")
	return nil
}
