package transfer

// PendingCancels is the set of task IDs whose cancel command has been issued
// but not yet answered. It is optimistic UI state and never feeds status
// logic. Not safe for concurrent use.
type PendingCancels struct {
	ids map[string]struct{}
}

// NewPendingCancels creates an empty set.
func NewPendingCancels() *PendingCancels {
	return &PendingCancels{ids: make(map[string]struct{})}
}

// Add marks a task as awaiting cancel confirmation.
func (p *PendingCancels) Add(taskID string) {
	p.ids[taskID] = struct{}{}
}

// Remove clears the pending mark. Removing an absent ID is a no-op.
func (p *PendingCancels) Remove(taskID string) {
	delete(p.ids, taskID)
}

// Contains reports whether a cancel is pending for the task.
func (p *PendingCancels) Contains(taskID string) bool {
	_, ok := p.ids[taskID]
	return ok
}

// Prune removes every ID not in activeIDs and returns the number removed.
func (p *PendingCancels) Prune(activeIDs map[string]struct{}) int {
	removed := 0
	for id := range p.ids {
		if _, ok := activeIDs[id]; !ok {
			delete(p.ids, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of pending cancels.
func (p *PendingCancels) Len() int {
	return len(p.ids)
}

// Keys returns the pending task IDs in no particular order.
func (p *PendingCancels) Keys() []string {
	keys := make([]string, 0, len(p.ids))
	for id := range p.ids {
		keys = append(keys, id)
	}
	return keys
}
