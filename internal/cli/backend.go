package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rescale/transfer-sync/internal/config"
	"github.com/rescale/transfer-sync/internal/constants"
	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/httpapi"
	"github.com/rescale/transfer-sync/internal/ipc"
	"github.com/rescale/transfer-sync/internal/queue"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// configPath returns the --config value or the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	path, err := config.DefaultPath()
	if err != nil {
		return ""
	}
	return path
}

// loadConfig reads the config file and applies flag overrides.
// Priority: flags > config file > defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *config.Config) {
	if transportArg != "" {
		cfg.Backend.Transport = transportArg
	}
	if socketArg != "" {
		cfg.Backend.SocketPath = socketArg
	}
	if baseURLArg != "" {
		cfg.Backend.BaseURL = baseURLArg
		// --url alone implies the http transport
		if transportArg == "" {
			cfg.Backend.Transport = config.TransportHTTP
		}
	}
}

// newBackends builds the per-kind engine clients for the configured
// transport. Nothing is dialed until the first command.
func newBackends(cfg *config.Config) (map[transfer.Kind]queue.Backend, error) {
	switch cfg.Backend.Transport {
	case config.TransportIPC:
		client := ipc.NewClient(cfg.Backend.SocketPath)
		client.SetTimeout(cfg.Timeout())
		return client.Backends(), nil
	case config.TransportHTTP:
		client := httpapi.NewClient(cfg.Backend.BaseURL, GetLogger())
		client.SetTimeout(cfg.Timeout())
		if cfg.Backend.ProxyURL != "" {
			if err := client.SetProxy(cfg.Backend.ProxyURL, cfg.Backend.NoProxy); err != nil {
				return nil, err
			}
		}
		return client.Backends(), nil
	default:
		return nil, config.ErrInvalidTransport
	}
}

// newManager builds a queue manager over the configured transport. The
// caller decides whether to Start it.
func newManager(cfg *config.Config) (*queue.Manager, error) {
	backends, err := newBackends(cfg)
	if err != nil {
		return nil, err
	}
	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	return queue.NewManager(backends, bus, GetLogger(), queue.Options{
		PollInterval: cfg.PollInterval(),
	}), nil
}

// synchronizerFor loads config and returns the synchronizer for the kind
// named in args[0].
func synchronizerFor(args []string) (*queue.Synchronizer, error) {
	kind, err := transfer.ParseKind(args[0])
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	mgr, err := newManager(cfg)
	if err != nil {
		return nil, err
	}
	return mgr.For(kind)
}

// kindCompletion offers the queue kinds for the first positional argument.
func kindCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveDefault
	}
	kinds := make([]string, 0, len(transfer.Kinds))
	for _, k := range transfer.Kinds {
		kinds = append(kinds, string(k))
	}
	return kinds, cobra.ShellCompDirectiveNoFileComp
}
