package player

import (
	"time"

	"github.com/guacplay/guacplay/internal/index"
	"github.com/guacplay/guacplay/internal/logging"
	"github.com/guacplay/guacplay/internal/protocol"
	"github.com/guacplay/guacplay/internal/util"
)

// findFrame locates the indexed frame whose timestamp is closest to the
// given position (milliseconds relative to the first frame), preferring the
// lower index on ties. It runs against the frame set indexed at call time;
// frames appended afterwards are ignored by this call.
func findFrame(table *index.Table, positionMs int64) int {
	n := table.Len()
	target := table.Origin() + positionMs

	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi) / 2
		if table.Frame(mid).Timestamp < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	// lo is the first frame at or past the target. Its predecessor may be
	// closer; on an exact tie the lower index wins.
	if lo > 0 {
		distPrev := target - table.Frame(lo-1).Timestamp
		distCur := table.Frame(lo).Timestamp - target
		if distCur < 0 {
			distCur = -distCur
		}
		if distPrev <= distCur {
			return lo - 1
		}
	}
	return lo
}

// seekToFrameLocked starts a seek to the target frame index. The previous
// seek, if any, is aborted; its replay loop observes the flag at its next
// suspension boundary. done runs on completion, not on abort. Caller holds
// mu.
func (r *SessionRecording) seekToFrameLocked(target int, done func(), delay time.Duration) {
	r.abortSeekLocked()
	tok := &seekToken{}
	r.activeSeek = tok

	// Establish the baseline: walk backwards from the target to the
	// current frame, a frame with a stored snapshot, or frame 0.
	startIndex := 0
	for i := target; i >= 0; i-- {
		if i == r.currentFrame {
			startIndex = i
			break
		}
		if state := r.table.State(i); state != nil {
			if err := r.client.ImportState(state); err != nil {
				logging.Warn("keyframe snapshot rejected, continuing backward",
					logging.Recording(r.name),
					logging.FrameIndex(i),
					logging.Err(err),
					logging.Component("player"))
				continue
			}
			// Re-base at the keyframe itself; the forward replay loop
			// advances frame by frame up to the target.
			r.currentFrame = i
			startIndex = i
			break
		}
	}

	// Backward seek past every snapshot: the display still carries later
	// state, so re-base it on the blank state captured at construction and
	// replay from the start of the recording.
	if startIndex == 0 && r.currentFrame > target {
		if r.blankState != nil {
			if err := r.client.ImportState(r.blankState); err != nil {
				logging.Warn("blank state rejected before backward replay",
					logging.Recording(r.name),
					logging.Err(err),
					logging.Component("player"))
			}
		}
		r.currentFrame = -1
	}

	r.wg.Add(1)
	step := func() {
		defer r.wg.Done()
		r.continueReplay(tok, startIndex, target, done)
	}
	if delay > 0 {
		r.pendingTimer = time.AfterFunc(delay, step)
		return
	}
	util.SafeGoWithName("replay", step)
}

// continueReplay is the forward replay loop of one seek. It renders the
// frames after the current one up to target through the playback tunnel
// (from frame 0 when nothing is rendered yet), emitting OnSeek for each
// rendered frame past startIndex, and invokes done once the target frame is
// current.
func (r *SessionRecording) continueReplay(tok *seekToken, startIndex, target int, done func()) {
	for {
		r.mu.Lock()
		if tok.aborted.Load() || r.closed {
			r.mu.Unlock()
			return
		}

		current := r.currentFrame
		var position int64
		if current > startIndex {
			position = r.table.Frame(current).Timestamp - r.table.Origin()
		}
		r.mu.Unlock()

		if current > startIndex && r.events.OnSeek != nil {
			r.events.OnSeek(position, current-startIndex, target-startIndex)
		}

		if current >= target {
			if done != nil {
				done()
			}
			return
		}

		if !r.replayFrame(tok, current+1) {
			return
		}
	}
}

// replayFrame renders one frame: it re-reads the frame's byte range,
// re-parses it, and feeds every instruction through the playback tunnel. On
// first replay of a keyframe-eligible frame the display state is exported
// and stored on the frame table. Returns false if the seek was aborted or
// the frame could not be replayed.
func (r *SessionRecording) replayFrame(tok *seekToken, frameIndex int) bool {
	frame := r.table.Frame(frameIndex)

	// Suspension point: slice read, no lock held.
	text, err := r.src.Slice(r.ctx, frame.Start, frame.End)
	if err != nil {
		logging.Error("frame replay read failed",
			logging.Recording(r.name),
			logging.FrameIndex(frameIndex),
			logging.Err(err),
			logging.Component("player"))
		return false
	}

	// A fresh parser per frame: the byte range is self-contained.
	instrs, perr := protocol.NewParser().Feed(text)
	if perr != nil {
		logging.Error("frame replay parse failed",
			logging.Recording(r.name),
			logging.FrameIndex(frameIndex),
			logging.Err(perr),
			logging.Component("player"))
		return false
	}

	r.mu.Lock()
	if tok.aborted.Load() || r.closed {
		r.mu.Unlock()
		return false
	}
	for _, in := range instrs {
		r.tun.ReceiveInstruction(in.Opcode, in.Args)
	}
	needSnapshot := frame.Keyframe && r.table.State(frameIndex) == nil
	r.mu.Unlock()

	if needSnapshot {
		// Suspension point: the export completes via callback.
		stateCh := make(chan []byte, 1)
		r.client.ExportState(func(state []byte) { stateCh <- state })
		state := <-stateCh

		r.mu.Lock()
		// If a newer seek re-based the display while the export was in
		// flight, the snapshot no longer describes this frame.
		if tok.aborted.Load() || r.closed {
			r.mu.Unlock()
			return false
		}
		r.table.SetState(frameIndex, state)
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.SnapshotStored()
		}
	}

	r.mu.Lock()
	if tok.aborted.Load() || r.closed {
		r.mu.Unlock()
		return false
	}
	r.currentFrame = frameIndex
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.FrameReplayed()
	}
	return true
}

// continuePlayback is the continuous playback scheduler: after each frame
// of a play run it schedules the next frame at its recording-time offset,
// with zero delay when real time has already passed it, so a stalled run
// catches up. At end of stream it pauses.
func (r *SessionRecording) continuePlayback() {
	r.mu.Lock()
	if r.closed || !r.playing {
		r.mu.Unlock()
		return
	}

	next := r.currentFrame + 1
	if next >= r.table.Len() {
		r.mu.Unlock()
		r.Pause()
		return
	}

	frame := r.table.Frame(next)
	elapsed := r.now().Sub(r.startRealTimestamp)
	delay := time.Duration(frame.Timestamp-r.startVideoTimestamp)*time.Millisecond - elapsed
	if delay < 0 {
		delay = 0
	}
	r.seekToFrameLocked(next, r.continuePlayback, delay)
	r.mu.Unlock()
}
