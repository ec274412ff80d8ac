package index

import (
	"sync"

	"github.com/guacplay/guacplay/pkg/types"
)

// Table is the append-only frame table shared by the indexer and the
// playback engine. The indexer appends; the engine reads indices up to the
// current length and attaches keyframe snapshots as frames are first
// replayed.
type Table struct {
	mu        sync.RWMutex
	frames    []types.Frame
	states    map[int][]byte // frame index -> opaque display snapshot
	keyframes int
}

// NewTable returns an empty frame table.
func NewTable() *Table {
	return &Table{states: make(map[int][]byte)}
}

// Append adds a frame. Frames arrive in strict stream order.
func (t *Table) Append(f types.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, f)
	if f.Keyframe {
		t.keyframes++
	}
}

// Len returns the number of indexed frames.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.frames)
}

// Frame returns the frame at index i. i must be in [0, Len()).
func (t *Table) Frame(i int) types.Frame {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frames[i]
}

// Last returns the most recently appended frame.
func (t *Table) Last() (types.Frame, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.frames) == 0 {
		return types.Frame{}, false
	}
	return t.frames[len(t.frames)-1], true
}

// State returns the snapshot attached to frame i, or nil.
func (t *Table) State(i int) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[i]
}

// SetState attaches a snapshot to frame i. Only keyframe-eligible frames
// carry snapshots.
func (t *Table) SetState(i int, state []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[i] = state
}

// Keyframes returns the number of keyframe-eligible frames.
func (t *Table) Keyframes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keyframes
}

// Origin returns the timestamp of the first frame, or 0 if none.
func (t *Table) Origin() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.frames) == 0 {
		return 0
	}
	return t.frames[0].Timestamp
}

// Duration returns the recording duration in milliseconds: the span between
// the first and last indexed frames. Grows monotonically during ingest.
func (t *Table) Duration() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.frames) == 0 {
		return 0
	}
	return t.frames[len(t.frames)-1].Timestamp - t.frames[0].Timestamp
}
