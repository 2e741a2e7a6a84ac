package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rescale/transfer-sync/internal/events"
	"github.com/rescale/transfer-sync/internal/transfer"
)

type sent struct {
	title   string
	message string
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) send(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{title, message})
	return nil
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

func newRecordingNotifier(cfg *Config) (*Notifier, *recorder) {
	n := NewNotifier(cfg, nil)
	r := &recorder{}
	n.send = r.send
	return n, r
}

func update(kind transfer.Kind, snap transfer.Snapshot) *events.QueueUpdatedEvent {
	return &events.QueueUpdatedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventQueueUpdated, Time: time.Now()},
		Kind:      kind,
		Snapshot:  snap,
	}
}

func task(id string, status transfer.Status) transfer.Task {
	return transfer.Task{ID: id, Kind: transfer.KindDownload, Status: status, Name: id + ".dat"}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("Expected Enabled to be true by default")
	}
	if !cfg.OnComplete {
		t.Error("Expected OnComplete to be true by default")
	}
	if !cfg.OnFailed {
		t.Error("Expected OnFailed to be true by default")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
		{"abc", 3, "abc"},
		{"abcd", 3, "..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestShortenPath(t *testing.T) {
	short := "/short/path"
	if got := shortenPath(short); got != short {
		t.Errorf("shortenPath(%q) = %q, want unchanged", short, got)
	}

	long := "/a/very/long/path/that/exceeds/the/maximum/length/for/notification/display/file.txt"
	got := shortenPath(long)
	if len(got) >= len(long) {
		t.Errorf("shortenPath(%q) was not shortened: %q", long, got)
	}
	if !strings.HasSuffix(got, "file.txt") {
		t.Errorf("shortenPath should keep the file name, got %q", got)
	}
}

func TestSetEnabled(t *testing.T) {
	n := NewNotifier(nil, nil)

	if !n.IsEnabled() {
		t.Error("Expected initially enabled")
	}

	n.SetEnabled(false)
	if n.IsEnabled() {
		t.Error("Expected disabled after SetEnabled(false)")
	}

	n.SetEnabled(true)
	if !n.IsEnabled() {
		t.Error("Expected enabled after SetEnabled(true)")
	}
}

func TestObserveFirstUpdateIsBaseline(t *testing.T) {
	n, r := newRecordingNotifier(nil)

	n.Observe(update(transfer.KindDownload, transfer.Snapshot{
		Completed: []transfer.Task{task("old", transfer.StatusCompleted)},
	}))

	if got := r.all(); len(got) != 0 {
		t.Errorf("history at startup should not notify, got %+v", got)
	}
}

func TestObserveTransitions(t *testing.T) {
	n, r := newRecordingNotifier(nil)

	n.Observe(update(transfer.KindDownload, transfer.Snapshot{
		Active: []transfer.Task{
			task("ok", transfer.StatusInProgress),
			task("bad", transfer.StatusInProgress),
			task("stopped", transfer.StatusInProgress),
			task("gone", transfer.StatusInProgress),
			task("busy", transfer.StatusInProgress),
		},
	}))

	done := task("ok", transfer.StatusCompleted)
	done.Result = "/home/me/results/ok.dat"
	failed := task("bad", transfer.StatusFailed)
	failed.ErrorMessage = "checksum mismatch"

	n.Observe(update(transfer.KindDownload, transfer.Snapshot{
		Active:    []transfer.Task{task("busy", transfer.StatusInProgress)},
		Completed: []transfer.Task{done},
		Failed:    []transfer.Task{failed, task("stopped", transfer.StatusCancelled)},
	}))

	got := r.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d: %+v", len(got), got)
	}

	titles := map[string]string{}
	for _, s := range got {
		titles[s.title] = s.message
	}
	if msg, ok := titles["Download Complete"]; !ok || !strings.Contains(msg, "ok.dat") || !strings.Contains(msg, "/home/me/results") {
		t.Errorf("complete notification unexpected: %+v", got)
	}
	if msg, ok := titles["Download Failed"]; !ok || !strings.Contains(msg, "checksum mismatch") {
		t.Errorf("failed notification unexpected: %+v", got)
	}
}

func TestObserveRespectsSettings(t *testing.T) {
	n, r := newRecordingNotifier(&Config{Enabled: true, OnComplete: false, OnFailed: true})

	n.Observe(update(transfer.KindUpload, transfer.Snapshot{
		Active: []transfer.Task{task("a", transfer.StatusInProgress)},
	}))
	n.Observe(update(transfer.KindUpload, transfer.Snapshot{
		Completed: []transfer.Task{task("a", transfer.StatusCompleted)},
	}))
	if got := r.all(); len(got) != 0 {
		t.Errorf("OnComplete=false should suppress, got %+v", got)
	}

	n.SetEnabled(false)
	n.Observe(update(transfer.KindUpload, transfer.Snapshot{
		Active: []transfer.Task{task("b", transfer.StatusInProgress)},
	}))
	n.Observe(update(transfer.KindUpload, transfer.Snapshot{
		Failed: []transfer.Task{task("b", transfer.StatusFailed)},
	}))
	if got := r.all(); len(got) != 0 {
		t.Errorf("disabled notifier should not send, got %+v", got)
	}
}

func TestObserveKindsIndependent(t *testing.T) {
	n, r := newRecordingNotifier(nil)

	n.Observe(update(transfer.KindDownload, transfer.Snapshot{
		Active: []transfer.Task{task("d1", transfer.StatusInProgress)},
	}))
	// First upload update is its own baseline even though downloads were seen
	up := task("u1", transfer.StatusCompleted)
	up.Kind = transfer.KindUpload
	n.Observe(update(transfer.KindUpload, transfer.Snapshot{
		Completed: []transfer.Task{up},
	}))

	if got := r.all(); len(got) != 0 {
		t.Errorf("unexpected notifications: %+v", got)
	}
}

func TestRunFollowsBus(t *testing.T) {
	n, r := newRecordingNotifier(nil)
	bus := events.NewEventBus(16)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx, bus)
	}()

	// Run subscribes asynchronously; republish the baseline until seen
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(update(transfer.KindDownload, transfer.Snapshot{
			Active: []transfer.Task{task("x", transfer.StatusInProgress)},
		}))
		time.Sleep(10 * time.Millisecond)
		n.mu.Lock()
		_, seen := n.active[transfer.KindDownload]
		n.mu.Unlock()
		if seen || time.Now().After(deadline) {
			break
		}
	}

	bus.Publish(update(transfer.KindDownload, transfer.Snapshot{
		Completed: []transfer.Task{task("x", transfer.StatusCompleted)},
	}))

	deadline = time.Now().Add(2 * time.Second)
	for len(r.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := r.all(); len(got) != 1 || got[0].title != "Download Complete" {
		t.Errorf("expected one completion notification, got %+v", got)
	}
}
