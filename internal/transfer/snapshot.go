package transfer

import "fmt"

// List identifies one of the three snapshot partitions.
type List string

const (
	ListActive    List = "active"
	ListCompleted List = "completed"
	ListFailed    List = "failed"
)

// Snapshot is the authoritative queue state reported by the engine: three
// disjoint ordered lists. Every task ID appears in exactly one of them.
type Snapshot struct {
	Active    []Task `json:"active"`
	Completed []Task `json:"completed"`
	Failed    []Task `json:"failed"`
}

// SnapshotStats holds per-list counts.
type SnapshotStats struct {
	Active    int
	Completed int
	Failed    int
}

// Total returns the number of tasks across all lists.
func (s SnapshotStats) Total() int {
	return s.Active + s.Completed + s.Failed
}

// Validate checks that task IDs are non-empty and appear in exactly one list.
func (s Snapshot) Validate() error {
	seen := make(map[string]List, s.Stats().Total())
	check := func(list List, tasks []Task) error {
		for _, t := range tasks {
			if t.ID == "" {
				return fmt.Errorf("snapshot %s list contains a task without id", list)
			}
			if prev, dup := seen[t.ID]; dup {
				return fmt.Errorf("task %s appears in both %s and %s", t.ID, prev, list)
			}
			seen[t.ID] = list
		}
		return nil
	}
	if err := check(ListActive, s.Active); err != nil {
		return err
	}
	if err := check(ListCompleted, s.Completed); err != nil {
		return err
	}
	return check(ListFailed, s.Failed)
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Active:    cloneTasks(s.Active),
		Completed: cloneTasks(s.Completed),
		Failed:    cloneTasks(s.Failed),
	}
}

// ActiveIDs returns the set of IDs in the active list.
func (s Snapshot) ActiveIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.Active))
	for _, t := range s.Active {
		ids[t.ID] = struct{}{}
	}
	return ids
}

// Find looks a task up by ID across all lists.
func (s Snapshot) Find(id string) (Task, List, bool) {
	for _, part := range []struct {
		list  List
		tasks []Task
	}{
		{ListActive, s.Active},
		{ListCompleted, s.Completed},
		{ListFailed, s.Failed},
	} {
		for _, t := range part.tasks {
			if t.ID == id {
				return t, part.list, true
			}
		}
	}
	return Task{}, "", false
}

// Stats returns per-list counts.
func (s Snapshot) Stats() SnapshotStats {
	return SnapshotStats{
		Active:    len(s.Active),
		Completed: len(s.Completed),
		Failed:    len(s.Failed),
	}
}

// IsEmpty returns true when no list holds a task.
func (s Snapshot) IsEmpty() bool {
	return s.Stats().Total() == 0
}

func cloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	dup := make([]Task, len(tasks))
	for i, t := range tasks {
		dup[i] = t.Clone()
	}
	return dup
}
