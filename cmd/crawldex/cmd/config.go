package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crawldex/crawldex/configs"
	"github.com/crawldex/crawldex/internal/config"
	"github.com/crawldex/crawldex/internal/output"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Long: `Manage crawldex.yaml.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. Config file (--config, or ./crawldex.yaml)
  3. Environment variables (CRAWLDEX_*)
  4. Command-line flags`,
		Example: `  # Create ./crawldex.yaml from the template
  crawldex config init

  # Show the effective configuration
  crawldex config show`,
	}

	cmd.AddCommand(newConfigInitCmd(flags))
	cmd.AddCommand(newConfigShowCmd(flags))
	cmd.AddCommand(newConfigRestoreCmd(flags))

	return cmd
}

// configFilePath is the file config init and restore operate on.
func (f *globalFlags) configFilePath() string {
	if f.configPath != "" {
		return f.configPath
	}
	return config.DefaultFileName
}

func newConfigInitCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file",
		Long: `Create the configuration file from the built-in template.

An existing file is left alone unless --force is given. With --force the
current file is first copied to a timestamped .bak file; the newest 3
backups are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, flags.configFilePath(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists")
			out.Statusf("📁", "Location: %s", path)
			out.Status("💡", "Use --force to replace it (a backup is kept)")
			return nil
		}
		backupPath, err := config.Backup(path)
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		out.Statusf("💾", "Backup: %s", backupPath)
	}

	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created configuration")
	out.Statusf("📁", "Location: %s", path)
	out.Status("📋", "Run 'crawldex config show' to verify")
	return nil
}

func newConfigShowCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Show the configuration after defaults, file and environment are merged. The password is masked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			redacted := cfg.Redacted()
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(redacted)
			}
			data, err := redacted.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigRestoreCmd(flags *globalFlags) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the configuration file from a backup",
		Long: `Restore the configuration file from a .bak copy made by 'config init --force'.

Without an argument the newest backup is used. The current file is backed
up before it is replaced.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			path := flags.configFilePath()

			backups, err := config.ListBackups(path)
			if err != nil {
				return err
			}
			if list {
				for _, b := range backups {
					out.Status("", b)
				}
				return nil
			}

			var backup string
			switch {
			case len(args) == 1:
				backup = args[0]
			case len(backups) > 0:
				backup = backups[0]
			default:
				return fmt.Errorf("no backups of %s found", path)
			}

			if err := config.Restore(path, backup); err != nil {
				return err
			}
			out.Successf("Restored %s from %s", path, backup)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List backups, newest first")

	return cmd
}
