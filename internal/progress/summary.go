package progress

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rescale/transfer-sync/internal/transfer"
)

const maxNameWidth = 48

// FormatSpeed renders a transfer rate, or "-" when unknown.
func FormatSpeed(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(bps)) + "/s"
}

func sizeSuffix(size *int64) string {
	if size == nil {
		return ""
	}
	return " (" + humanize.IBytes(uint64(*size)) + ")"
}

func displayName(task transfer.Task) string {
	name := task.Name
	if name == "" {
		name = task.Source
	}
	if name == "" {
		name = task.ID
	}
	return truncatePath(name, 2)
}

// truncatePath keeps the last maxComponents path elements and caps the
// result at maxNameWidth runes.
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	out := path
	if len(parts) > maxComponents {
		out = "…/" + strings.Join(parts[len(parts)-maxComponents:], "/")
	}
	if r := []rune(out); len(r) > maxNameWidth {
		out = "…" + string(r[len(r)-maxNameWidth+1:])
	}
	return out
}

// QueueView is what WriteSummary needs from a synchronized queue.
type QueueView struct {
	Kind       transfer.Kind
	Snapshot   transfer.Snapshot
	Speeds     map[string]float64
	Cancelling []string
	Version    uint64
}

// WriteSummary prints a table of one queue's tasks.
func WriteSummary(w io.Writer, view QueueView, now time.Time) error {
	stats := view.Snapshot.Stats()
	fmt.Fprintf(w, "%s: %d active, %d completed, %d failed\n",
		strings.ToUpper(string(view.Kind)), stats.Active, stats.Completed, stats.Failed)
	if stats.Total() == 0 {
		return nil
	}

	cancelling := make(map[string]bool, len(view.Cancelling))
	for _, id := range view.Cancelling {
		cancelling[id] = true
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, task := range view.Snapshot.Active {
		state := "queued"
		if task.StartedAt != nil {
			state = "running"
		}
		if cancelling[task.ID] {
			state = "cancelling"
		}
		fmt.Fprintf(tw, "  ▸\t%s\t%s\t%s\t%s\t%s\n",
			task.ID, displayName(task), progressColumn(task), FormatSpeed(view.Speeds[task.ID]), state)
	}
	for _, task := range view.Snapshot.Completed {
		fmt.Fprintf(tw, "  ✓\t%s\t%s\t%s\t\t%s\n",
			task.ID, displayName(task), sizeColumn(task.SizeTotal), finishedColumn(task, now))
	}
	for _, task := range view.Snapshot.Failed {
		reason := task.ErrorMessage
		if reason == "" {
			reason = string(task.Status)
		}
		fmt.Fprintf(tw, "  ✗\t%s\t%s\t%s\t\t%s\n",
			task.ID, displayName(task), sizeColumn(task.SizeTotal), reason)
	}
	return tw.Flush()
}

func progressColumn(task transfer.Task) string {
	done := "?"
	if task.BytesTransferred != nil {
		done = humanize.IBytes(uint64(*task.BytesTransferred))
	}
	if ratio, ok := transfer.ProgressRatio(task); ok {
		return fmt.Sprintf("%s / %s (%.0f%%)", done, humanize.IBytes(uint64(*task.SizeTotal)), ratio*100)
	}
	return done
}

func sizeColumn(size *int64) string {
	if size == nil {
		return "-"
	}
	return humanize.IBytes(uint64(*size))
}

func finishedColumn(task transfer.Task, now time.Time) string {
	if task.CompletedAt == nil {
		return "completed"
	}
	return "completed " + humanize.RelTime(*task.CompletedAt, now, "ago", "from now")
}
