package transfer

import (
	"reflect"
	"sort"
	"testing"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Active: []Task{
			{ID: "a1", Kind: KindDownload, Status: StatusInProgress, SizeTotal: Int64(100), BytesTransferred: Int64(10)},
			{ID: "a2", Kind: KindDownload, Status: StatusInProgress},
		},
		Completed: []Task{
			{ID: "c1", Kind: KindDownload, Status: StatusCompleted, Result: "/tmp/c1.dat"},
		},
		Failed: []Task{
			{ID: "f1", Kind: KindDownload, Status: StatusFailed, ErrorMessage: "disk full"},
		},
	}
}

func TestSnapshotValidate(t *testing.T) {
	snap := sampleSnapshot()
	if err := snap.Validate(); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}

	dup := sampleSnapshot()
	dup.Failed = append(dup.Failed, Task{ID: "a1", Status: StatusFailed})
	if err := dup.Validate(); err == nil {
		t.Error("snapshot with an ID in two lists should be rejected")
	}

	noID := sampleSnapshot()
	noID.Completed = append(noID.Completed, Task{})
	if err := noID.Validate(); err == nil {
		t.Error("snapshot with an empty ID should be rejected")
	}
}

func TestSnapshotFind(t *testing.T) {
	snap := sampleSnapshot()

	tests := []struct {
		id    string
		list  List
		found bool
	}{
		{"a2", ListActive, true},
		{"c1", ListCompleted, true},
		{"f1", ListFailed, true},
		{"missing", "", false},
	}

	for _, tt := range tests {
		task, list, ok := snap.Find(tt.id)
		if ok != tt.found {
			t.Errorf("Find(%s) found = %v, want %v", tt.id, ok, tt.found)
			continue
		}
		if list != tt.list {
			t.Errorf("Find(%s) list = %s, want %s", tt.id, list, tt.list)
		}
		if ok && task.ID != tt.id {
			t.Errorf("Find(%s) returned task %s", tt.id, task.ID)
		}
	}
}

func TestSnapshotCloneIndependent(t *testing.T) {
	snap := sampleSnapshot()
	clone := snap.Clone()

	if !reflect.DeepEqual(snap, clone) {
		t.Fatal("clone should equal original")
	}

	*clone.Active[0].BytesTransferred = 99
	clone.Completed[0].Result = "changed"

	if *snap.Active[0].BytesTransferred != 10 {
		t.Error("mutating clone changed original bytes")
	}
	if snap.Completed[0].Result != "/tmp/c1.dat" {
		t.Error("mutating clone changed original result")
	}
}

func TestSnapshotActiveIDsAndStats(t *testing.T) {
	snap := sampleSnapshot()

	ids := snap.ActiveIDs()
	got := make([]string, 0, len(ids))
	for id := range ids {
		got = append(got, id)
	}
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"a1", "a2"}) {
		t.Errorf("ActiveIDs = %v", got)
	}

	stats := snap.Stats()
	if stats.Active != 2 || stats.Completed != 1 || stats.Failed != 1 || stats.Total() != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if snap.IsEmpty() {
		t.Error("sample snapshot should not be empty")
	}
	if !(Snapshot{}).IsEmpty() {
		t.Error("zero snapshot should be empty")
	}
}
