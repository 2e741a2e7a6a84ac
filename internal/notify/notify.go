// Package notify raises desktop notifications when transfers finish.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/logging"
	"github.com/rescale/transfer-sync/internal/transfer"
)

// Notifier turns queue updates into desktop notifications.
type Notifier struct {
	logger *logging.Logger

	mu         sync.Mutex
	enabled    bool
	onComplete bool
	onFailed   bool

	// Active IDs per kind as of the previous update. A kind with no entry
	// has not been observed yet.
	active map[transfer.Kind]map[string]struct{}

	send func(title, message string) error
}

// Config holds notification configuration.
type Config struct {
	// Enabled determines if notifications are sent.
	Enabled bool

	// OnComplete shows notifications for successful transfers.
	OnComplete bool

	// OnFailed shows notifications for failed transfers. Cancellations
	// never notify.
	OnFailed bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		OnComplete: true,
		OnFailed:   true,
	}
}

// NewNotifier creates a new notifier with the given configuration.
func NewNotifier(cfg *Config, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Notifier{
		logger:     logger,
		enabled:    cfg.Enabled,
		onComplete: cfg.OnComplete,
		onFailed:   cfg.OnFailed,
		active:     make(map[transfer.Kind]map[string]struct{}),
		send: func(title, message string) error {
			// Windows toast, macOS notification center, D-Bus on Linux
			return beeep.Notify(title, message, "")
		},
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// Run observes queue updates on bus until ctx is done or the bus closes.
func (n *Notifier) Run(ctx context.Context, bus *events.EventBus) {
	updates := bus.Subscribe(events.EventQueueUpdated)
	defer bus.Unsubscribe(updates)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if qe, isQueue := ev.(*events.QueueUpdatedEvent); isQueue {
				n.Observe(qe)
			}
		}
	}
}

// Observe notifies for every task that left the active list since the
// previous update for the same kind. The first update for a kind only
// records the baseline, so history present at startup stays quiet.
func (n *Notifier) Observe(ev *events.QueueUpdatedEvent) {
	active := ev.Snapshot.ActiveIDs()

	n.mu.Lock()
	prev, seen := n.active[ev.Kind]
	n.active[ev.Kind] = active
	enabled, onComplete, onFailed := n.enabled, n.onComplete, n.onFailed
	n.mu.Unlock()

	if !seen || !enabled {
		return
	}

	for id := range prev {
		if _, still := active[id]; still {
			continue
		}
		task, list, ok := ev.Snapshot.Find(id)
		if !ok {
			continue // removed, not finished
		}
		switch {
		case list == transfer.ListCompleted && onComplete:
			n.TransferComplete(task)
		case list == transfer.ListFailed && task.Status == transfer.StatusFailed && onFailed:
			n.TransferFailed(task)
		}
	}
}

// TransferComplete sends a notification for a successful transfer.
func (n *Notifier) TransferComplete(task transfer.Task) {
	title := titleFor(task.Kind, "Complete")
	message := fmt.Sprintf("\"%s\" finished", truncate(displayName(task), 40))
	if task.Result != "" {
		message += ":\n" + shortenPath(task.Result)
	}

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to send transfer complete notification")
	}
}

// TransferFailed sends a notification for a failed transfer.
func (n *Notifier) TransferFailed(task transfer.Task) {
	title := titleFor(task.Kind, "Failed")
	message := fmt.Sprintf("\"%s\" failed", truncate(displayName(task), 40))
	if task.ErrorMessage != "" {
		message += ":\n" + truncate(task.ErrorMessage, 100)
	}

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to send transfer failed notification")
	}
}

func titleFor(kind transfer.Kind, outcome string) string {
	switch kind {
	case transfer.KindUpload:
		return "Upload " + outcome
	default:
		return "Download " + outcome
	}
}

func displayName(task transfer.Task) string {
	if task.Name != "" {
		return task.Name
	}
	return task.ID
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	// Try to show drive/root + ... + last 2 path components
	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))

	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}

	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}

	return short
}
