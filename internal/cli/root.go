// Package cli provides the command-line interface for transfer-sync.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rescale/transfer-sync/internal/config"
	"github.com/rescale/transfer-sync/internal/logging"
	"github.com/rescale/transfer-sync/internal/version"
)

var (
	// Global flags
	cfgFile      string
	transportArg string
	socketArg    string
	baseURLArg   string
	verbose      bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "transfer-sync",
		Short: "Keep a local view of upload and download queues in sync with a transfer engine",
		Long: `transfer-sync ` + version.Version + ` - Built: ` + version.BuildTime + `
Mirrors the upload and download queues of a transfer engine. Command
responses, the live progress stream and a periodic snapshot poll are
reconciled into one consistent view.

Engine:
  serve         Run the bundled simulated engine (unix socket and HTTP)

Queues:
  watch         Follow both queues with live progress bars
  status        Print the current queues
  enqueue       Queue a transfer
  cancel        Cancel an active transfer
  remove        Remove a task
  clear-failed  Remove failed and cancelled tasks
  clear-history Remove every finished task`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger
			logger = logging.NewDefaultCLILogger()
			level := "info"
			if cfg, err := config.Load(configPath()); err == nil {
				level = cfg.Logging.Level
			}
			if verbose {
				level = "debug"
			}
			if lvl, err := logging.ParseLevel(level); err == nil {
				logging.SetGlobalLevel(lvl)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&transportArg, "transport", "", "Engine transport: ipc or http (overrides config)")
	rootCmd.PersistentFlags().StringVar(&socketArg, "socket", "", "Engine unix socket path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&baseURLArg, "url", "", "Engine HTTP base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	completionCmd := &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate a shell completion script",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletion(out)
			case "zsh":
				return rootCmd.GenZshCompletion(out)
			case "fish":
				return rootCmd.GenFishCompletion(out, true)
			default:
				return rootCmd.GenPowerShellCompletion(out)
			}
		},
	}
	rootCmd.AddCommand(completionCmd)

	// Disable default completion command (we're adding our own above)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	// Create a context that can be cancelled by signals
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			// sig is nil once the channel is closed
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, shutting down...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	// Clean up signal handler
	signal.Stop(sigChan)
	close(sigChan)
	cancelFunc()

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newEnqueueCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newClearFailedCmd())
	rootCmd.AddCommand(newClearHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		// Fallback to background context if called before Execute()
		return context.Background()
	}
	return rootContext
}
