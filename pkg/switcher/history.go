package switcher

import (
	"go.uber.org/atomic"
)

var (
	snapshotSeqNo = atomic.NewUint64(0)
)

// Snapshot registers of the inspected thread captured right before a
// switch-in, together with the task that was switched to.
type Snapshot struct {
	ID uint64
	SP uint64
	FP uint64
	PC uint64

	Task     string // task switched to
	TaskAddr uint64
}

func newSnapshot(sp, fp, pc uint64) Snapshot {
	return Snapshot{
		ID: snapshotSeqNo.Add(1),
		SP: sp,
		FP: fp,
		PC: pc,
	}
}

// History LIFO of the snapshots of pending switch-ins, the bottom one is
// the state the target was stopped in.
type History struct {
	snapshots []Snapshot
}

// Len returns the number of pending switch-ins
func (h *History) Len() int {
	return len(h.snapshots)
}

// Push records a new switch-in
func (h *History) Push(s Snapshot) {
	h.snapshots = append(h.snapshots, s)
}

// Top returns the most recent snapshot
func (h *History) Top() (Snapshot, bool) {
	if len(h.snapshots) == 0 {
		return Snapshot{}, false
	}
	return h.snapshots[len(h.snapshots)-1], true
}

// Bottom returns the oldest snapshot
func (h *History) Bottom() (Snapshot, bool) {
	if len(h.snapshots) == 0 {
		return Snapshot{}, false
	}
	return h.snapshots[0], true
}

// Pop removes the most recent snapshot
func (h *History) Pop() (Snapshot, bool) {
	s, ok := h.Top()
	if ok {
		h.snapshots = h.snapshots[:len(h.snapshots)-1]
	}
	return s, ok
}

// Clear drops every snapshot
func (h *History) Clear() {
	h.snapshots = nil
}

// Snapshots returns a copy of the history, oldest first
func (h *History) Snapshots() []Snapshot {
	out := make([]Snapshot, len(h.snapshots))
	copy(out, h.snapshots)
	return out
}
