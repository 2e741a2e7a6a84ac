package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/transfer-sync/internal/progress"
	"github.com/rescale/transfer-sync/internal/queue"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// newEnqueueCmd creates the 'enqueue' command.
func newEnqueueCmd() *cobra.Command {
	var (
		target    string
		name      string
		size      int64
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue <download|upload> <item>",
		Short: "Queue a transfer",
		Long: `Queue a transfer on the engine.

For downloads <item> is the remote file ID and --target the local
directory. For uploads <item> is a local file and --target the remote
folder ID.

Examples:
  transfer-sync enqueue download file-8xk2 --target ~/results
  transfer-sync enqueue upload ./input.tar.gz --target folder-12`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: kindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := synchronizerFor(args)
			if err != nil {
				return err
			}
			ctx := GetContext()

			item := args[1]
			if s.Kind() == transfer.KindUpload {
				if abs, err := filepath.Abs(item); err == nil {
					item = abs
				}
			}

			before, err := s.FetchSnapshot(ctx, true)
			if err != nil {
				return err
			}

			snap, err := s.Enqueue(ctx, transfer.Request{
				ItemRef:   item,
				Target:    target,
				Overwrite: overwrite,
				Name:      name,
				Size:      size,
			})
			if err != nil {
				return fmt.Errorf("enqueue failed: %w", err)
			}

			known := before.ActiveIDs()
			for _, task := range snap.Active {
				if _, seen := known[task.ID]; !seen {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued %s %s (%s)\n", task.Kind, task.ID, task.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Destination directory (download) or folder ID (upload)")
	cmd.Flags().StringVar(&name, "name", "", "Display name override")
	cmd.Flags().Int64Var(&size, "size", 0, "Expected size in bytes, if known")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing destination")
	cmd.MarkFlagRequired("target")

	return cmd
}

// newCancelCmd creates the 'cancel' command.
func newCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "cancel <download|upload> <task-id>",
		Short:             "Cancel an active transfer",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: kindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := synchronizerFor(args)
			if err != nil {
				return err
			}
			ctx := GetContext()
			id := args[1]

			// Load the queue so the pending mark applies to a known task
			if _, err := s.FetchSnapshot(ctx, true); err != nil {
				return err
			}
			snap, err := s.Cancel(ctx, id)
			if err != nil {
				return fmt.Errorf("cancel failed: %w", err)
			}

			// The engine's snapshot is the answer; a cancel may arrive too late
			task, list, ok := snap.Find(id)
			out := cmd.OutOrStdout()
			switch {
			case !ok:
				fmt.Fprintf(out, "Task %s is gone\n", id)
			case list == transfer.ListActive:
				fmt.Fprintf(out, "Task %s is still active (too late to cancel)\n", id)
			default:
				fmt.Fprintf(out, "Task %s is %s\n", id, task.Status)
			}
			return nil
		},
	}
	return cmd
}

// newRemoveCmd creates the 'remove' command.
func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "remove <download|upload> <task-id>",
		Aliases:           []string{"rm"},
		Short:             "Remove a task from its queue",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: kindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := synchronizerFor(args)
			if err != nil {
				return err
			}
			if _, err := s.Remove(GetContext(), args[1]); err != nil {
				return fmt.Errorf("remove failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[1])
			return nil
		},
	}
}

// newClearFailedCmd creates the 'clear-failed' command.
func newClearFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "clear-failed <download|upload>",
		Short:             "Remove failed and cancelled tasks",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: kindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := synchronizerFor(args)
			if err != nil {
				return err
			}
			snap, err := s.ClearFailed(GetContext())
			if err != nil {
				return fmt.Errorf("clear failed: %w", err)
			}
			return printSummary(cmd, s, snap)
		},
	}
}

// newClearHistoryCmd creates the 'clear-history' command.
func newClearHistoryCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:               "clear-history <download|upload>",
		Short:             "Remove every finished task",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: kindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := synchronizerFor(args)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := confirm(fmt.Sprintf("Remove all completed and failed %s tasks?", s.Kind()))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}
			snap, err := s.ClearHistory(GetContext())
			if err != nil {
				return fmt.Errorf("clear history failed: %w", err)
			}
			return printSummary(cmd, s, snap)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "status [download|upload]",
		Short:             "Print the current queues",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: kindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			mgr, err := newManager(cfg)
			if err != nil {
				return err
			}

			kinds := mgr.Kinds()
			if len(args) == 1 {
				kind, err := transfer.ParseKind(args[0])
				if err != nil {
					return err
				}
				kinds = []transfer.Kind{kind}
			}

			for i, kind := range kinds {
				s, err := mgr.For(kind)
				if err != nil {
					return err
				}
				snap, err := s.FetchSnapshot(GetContext(), true)
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				if err := printSummary(cmd, s, snap); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printSummary(cmd *cobra.Command, s *queue.Synchronizer, snap transfer.Snapshot) error {
	return progress.WriteSummary(cmd.OutOrStdout(), progress.QueueView{
		Kind:       s.Kind(),
		Snapshot:   snap,
		Speeds:     s.Speeds(),
		Cancelling: s.Cancelling(),
		Version:    s.Version(),
	}, time.Now())
}
