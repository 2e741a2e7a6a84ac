package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/transfer-sync/internal/notify"
	"github.com/rescale/transfer-sync/internal/progress"
	"github.com/rescale/transfer-sync/internal/queue"
)

const idleCheckInterval = 500 * time.Millisecond

// newWatchCmd creates the 'watch' command.
func newWatchCmd() *cobra.Command {
	var (
		exitWhenIdle bool
		notifyFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow both queues with live progress",
		Long: `Follow the upload and download queues.

Progress bars are drawn when stderr is a terminal; otherwise one line is
printed per task transition. The view stays consistent through stream
drops, falling back to the snapshot poll.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Route logs above the bars before any component logger is derived
			watcher := progress.NewWatcher(os.Stderr)
			if watcher.IsTerminal() {
				GetLogger().SetOutput(watcher.Writer())
			}

			mgr, err := newManager(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(GetContext())
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				watcher.Run(ctx, mgr.Bus())
			}()

			if notifyFlag || cfg.Notify.Enabled {
				notifier := notify.NewNotifier(&notify.Config{
					Enabled:    true,
					OnComplete: cfg.Notify.OnComplete,
					OnFailed:   cfg.Notify.OnFailed,
				}, GetLogger().Named("notify"))
				go notifier.Run(ctx, mgr.Bus())
			}

			// Load the initial state before the loops start so an idle
			// check never sees an unsynced queue.
			for _, kind := range mgr.Kinds() {
				s, _ := mgr.For(kind)
				if _, err := s.FetchSnapshot(ctx, true); err != nil {
					GetLogger().Warn().Err(err).Str("kind", string(kind)).Msg("Initial fetch failed, will retry")
				}
			}

			mgr.Start(ctx)
			if exitWhenIdle {
				go waitIdle(ctx, mgr, cancel)
			}

			<-ctx.Done()
			mgr.Close()
			<-done
			watcher.Stop()

			out := cmd.OutOrStdout()
			for i, kind := range mgr.Kinds() {
				s, _ := mgr.For(kind)
				if i > 0 {
					fmt.Fprintln(out)
				}
				if err := printSummary(cmd, s, s.Snapshot()); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&exitWhenIdle, "exit-when-idle", false, "Exit once no task is active in any queue")
	cmd.Flags().BoolVar(&notifyFlag, "notify", false, "Show a desktop notification when a transfer finishes")
	return cmd
}

// waitIdle calls cancel once every queue is empty of active tasks.
func waitIdle(ctx context.Context, mgr *queue.Manager, cancel context.CancelFunc) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if queuesIdle(mgr) {
				cancel()
				return
			}
		}
	}
}

func queuesIdle(mgr *queue.Manager) bool {
	for _, kind := range mgr.Kinds() {
		s, err := mgr.For(kind)
		if err != nil {
			continue
		}
		if len(s.Snapshot().Active) > 0 {
			return false
		}
	}
	return true
}
