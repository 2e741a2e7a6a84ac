package cli

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rescale/transfer-sync/internal/constants"
	"github.com/rescale/transfer-sync/internal/enginesim"
	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/httpapi"
	"github.com/rescale/transfer-sync/internal/ipc"
	"github.com/rescale/transfer-sync/internal/logging"
)

// newServeCmd creates the 'serve' command.
func newServeCmd() *cobra.Command {
	var (
		listen  string
		noHTTP  bool
		rate    int64
		workers int
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulated transfer engine",
		Long: `Run the bundled simulated transfer engine in the foreground.

The engine is served on the unix socket (socket_path) and, unless
disabled, over HTTP (listen). Transfers move bytes at a fixed rate;
item references prefixed with "fail:" fail halfway through.

Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Engine.Listen = listen
			}
			if noHTTP {
				cfg.Engine.Listen = ""
			}
			if rate > 0 {
				cfg.Engine.RateBytesPerSecond = rate
			}
			if workers > 0 {
				cfg.Engine.MaxConcurrent = workers
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if cmd.Flags().Changed("log-file") {
				cfg.Logging.File = logFile
			}
			if cfg.Logging.File != "" {
				file := logging.NewRotatingFile(cfg.Logging.File)
				defer file.Close()
				GetLogger().Tee(file)
			}

			logger := GetLogger()
			ctx, cancel := context.WithCancel(GetContext())
			defer cancel()

			bus := events.NewEventBus(constants.EventBusMaxBuffer)
			defer bus.Close()
			bus.SetDropHandler(func(ev events.Event) {
				logger.Debug().Str("event", string(ev.Type())).Msg("Subscriber too slow, event dropped")
			})

			engine := enginesim.New(bus, logger, enginesim.Options{
				RateBytesPerSecond: cfg.Engine.RateBytesPerSecond,
				MaxConcurrent:      cfg.Engine.MaxConcurrent,
				Tick:               cfg.Tick(),
			})
			go engine.Run(ctx)

			ipcServer := ipc.NewServer(engine.Backends(), logger, cfg.Backend.SocketPath)
			if err := ipcServer.Start(); err != nil {
				return fmt.Errorf("failed to start IPC server: %w", err)
			}
			defer ipcServer.Stop()

			httpErr := make(chan error, 1)
			if cfg.Engine.Listen != "" {
				gin.SetMode(gin.ReleaseMode)
				server := httpapi.NewServer(engine.Backends(), logger)
				go func() {
					httpErr <- server.ListenAndServe(ctx, cfg.Engine.Listen)
				}()
			}

			logger.Info().
				Str("socket", cfg.Backend.SocketPath).
				Str("http", cfg.Engine.Listen).
				Int64("rate", cfg.Engine.RateBytesPerSecond).
				Int("max_concurrent", cfg.Engine.MaxConcurrent).
				Msg("Engine running")

			select {
			case <-ctx.Done():
				return nil
			case err := <-httpErr:
				if err != nil {
					return fmt.Errorf("HTTP server failed: %w", err)
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", constants.DefaultHTTPListen, "HTTP listen address (overrides config)")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "Serve only on the unix socket")
	cmd.Flags().Int64Var(&rate, "rate", 0, "Per-task transfer rate in bytes per second (overrides config)")
	cmd.Flags().IntVar(&workers, "max-concurrent", 0, "Tasks per queue moving bytes at once (overrides config)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated by size (overrides config)")

	return cmd
}
