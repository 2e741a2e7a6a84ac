package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/transfer-sync/internal/config"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage transfer-sync configuration",
		Long: `Configuration management commands for transfer-sync.

Commands:
  init  - Write a configuration file with default settings
  show  - Display the effective configuration
  test  - Test the connection to the engine
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a configuration file with default settings, including any
--transport, --socket or --url overrides given on the command line.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if path == "" {
				return fmt.Errorf("cannot determine configuration path, use --config")
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at: %s\n", path)
					fmt.Fprintln(cmd.OutOrStdout(), "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg := config.New()
			applyFlagOverrides(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}

			GetLogger().Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration.

Priority: flags > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			writeConfig(cmd, cfg)
			return nil
		},
	}
}

func writeConfig(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Current Configuration")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Sync:")
	fmt.Fprintf(out, "  Poll Interval: %s\n", cfg.PollInterval())
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Backend:")
	fmt.Fprintf(out, "  Transport: %s\n", cfg.Backend.Transport)
	fmt.Fprintf(out, "  Socket:    %s\n", cfg.Backend.SocketPath)
	fmt.Fprintf(out, "  Base URL:  %s\n", cfg.Backend.BaseURL)
	if cfg.Backend.ProxyURL != "" {
		fmt.Fprintf(out, "  Proxy:     %s (bypass: %s)\n", cfg.Backend.ProxyURL, cfg.Backend.NoProxy)
	}
	fmt.Fprintf(out, "  Timeout:   %s\n", cfg.Timeout())
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Engine (serve):")
	listen := cfg.Engine.Listen
	if listen == "" {
		listen = "<disabled>"
	}
	fmt.Fprintf(out, "  Listen:         %s\n", listen)
	fmt.Fprintf(out, "  Rate:           %d B/s\n", cfg.Engine.RateBytesPerSecond)
	fmt.Fprintf(out, "  Max Concurrent: %d\n", cfg.Engine.MaxConcurrent)
	fmt.Fprintf(out, "  Tick:           %s\n", cfg.Tick())
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Notifications (watch):")
	fmt.Fprintf(out, "  Enabled:     %t\n", cfg.Notify.Enabled)
	fmt.Fprintf(out, "  On Complete: %t\n", cfg.Notify.OnComplete)
	fmt.Fprintf(out, "  On Failed:   %t\n", cfg.Notify.OnFailed)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Log Level: %s\n", cfg.Logging.Level)
	if cfg.Logging.File != "" {
		fmt.Fprintf(out, "Log File:  %s\n", cfg.Logging.File)
	}
	fmt.Fprintln(out)

	path := configPath()
	fmt.Fprintf(out, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "  (file does not exist - using defaults)")
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the engine connection",
		Long:  `Fetch one snapshot per queue to verify the engine is reachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backends, err := newBackends(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Testing %s engine connection...\n", cfg.Backend.Transport)

			ctx, cancel := context.WithTimeout(GetContext(), cfg.Timeout())
			defer cancel()

			for _, kind := range transfer.Kinds {
				backend, ok := backends[kind]
				if !ok {
					continue
				}
				snap, err := backend.FetchSnapshot(ctx)
				if err != nil {
					GetLogger().Error().Err(err).Str("kind", string(kind)).Msg("Connection test failed")
					fmt.Fprintf(out, "✗ %s: %v\n", kind, err)
					return fmt.Errorf("connection test failed")
				}
				stats := snap.Stats()
				fmt.Fprintf(out, "✓ %s: %d active, %d completed, %d failed\n", kind, stats.Active, stats.Completed, stats.Failed)
			}
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n\n", path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out, "Create one with: transfer-sync config init")
			}
			return nil
		},
	}
}
