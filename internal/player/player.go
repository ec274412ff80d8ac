// Package player implements the playback engine for Guacamole session
// recordings. A SessionRecording indexes its blob in the background and
// drives a display client through play, pause, and seek, using keyframe
// snapshots to make seeking sublinear in recording length.
package player

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guacplay/guacplay/internal/blob"
	"github.com/guacplay/guacplay/internal/display"
	"github.com/guacplay/guacplay/internal/index"
	"github.com/guacplay/guacplay/internal/logging"
	"github.com/guacplay/guacplay/internal/metrics"
	"github.com/guacplay/guacplay/internal/tunnel"
	"github.com/guacplay/guacplay/pkg/types"
)

// Events is the observer injected at construction. All slots are optional.
// Callbacks run outside the engine lock, so a handler may call back into the
// engine (Seek from inside OnSeek, Pause from inside OnPlay, and so on).
type Events struct {
	// OnLoad fires once when ingest reaches the end of the blob.
	OnLoad func()
	// OnError fires once on an ingest parse failure. Frames indexed before
	// the failure remain playable.
	OnError func(message string)
	// OnAbort fires once when ingest is aborted via Abort.
	OnAbort func()
	// OnProgress fires per indexed frame with the recording duration so far
	// and the number of bytes parsed.
	OnProgress func(durationMs, bytesParsed int64)
	// OnPlay fires when playback starts.
	OnPlay func()
	// OnPause fires when playback stops, including at end of stream.
	OnPause func()
	// OnSeek fires per frame rendered past the baseline of a seek or play
	// advance, with the new position and the replay progress of the
	// enclosing seek. Rendering frame 0 from a blank display does not fire
	// it.
	OnSeek func(positionMs int64, currentStep, totalSteps int)
}

// Options configures a SessionRecording.
type Options struct {
	Events  Events
	Metrics *metrics.Collector
	// Name identifies the recording in logs.
	Name string
	// Clock overrides the wall clock, for tests.
	Clock func() time.Time
}

// SessionRecording is the playback engine for one recording. All methods
// are safe for concurrent use; engine state is owned by one mutex and
// released across suspension points (slice reads, state exports, timers).
type SessionRecording struct {
	src     blob.Source
	client  display.Client
	tun     *tunnel.Playback
	table   *index.Table
	indexer *index.Indexer
	events  Events
	metrics *metrics.Collector
	name    string
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                  sync.Mutex
	currentFrame        int // -1 before anything is rendered
	playing             bool
	startVideoTimestamp int64     // recording time at play start
	startRealTimestamp  time.Time // wall clock at play start
	activeSeek          *seekToken
	pendingTimer        *time.Timer
	seekCallback        func()
	seekGen             uint64
	blankState          []byte // display state before any instruction
	loaded              bool
	failMessage         string
	abortEmitted        bool
	closed              bool
}

// seekToken cancels one in-flight seek. Each new seek replaces the token of
// the previous one; the superseded replay loop observes the flag at its
// next suspension boundary and stops.
type seekToken struct {
	aborted atomic.Bool
}

// New creates a SessionRecording over src, connects the display client, and
// starts background ingest immediately.
func New(src blob.Source, client display.Client, opts Options) (*SessionRecording, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &SessionRecording{
		src:          src,
		client:       client,
		tun:          tunnel.NewPlayback(),
		table:        index.NewTable(),
		events:       opts.Events,
		metrics:      opts.Metrics,
		name:         opts.Name,
		now:          opts.Clock,
		ctx:          ctx,
		cancel:       cancel,
		currentFrame: -1,
	}
	if r.now == nil {
		r.now = time.Now
	}

	if err := client.Connect(r.tun); err != nil {
		cancel()
		return nil, err
	}
	// The cursor stays hidden until the recording chooses to show it.
	client.ShowCursor(false)

	// Capture the blank display state so backward seeks that find no
	// keyframe can re-base on an empty display.
	client.ExportState(func(state []byte) {
		r.mu.Lock()
		r.blankState = state
		r.mu.Unlock()
	})

	r.indexer = index.New(src, r.table, index.Events{
		OnProgress: r.onIngestProgress,
		OnLoad:     r.onIngestLoad,
		OnError:    r.onIngestError,
	}, opts.Metrics)
	r.indexer.Start()

	if r.metrics != nil {
		r.metrics.SessionStarted()
	}
	return r, nil
}

func (r *SessionRecording) onIngestProgress(durationMs, bytesParsed int64) {
	if r.events.OnProgress != nil {
		r.events.OnProgress(durationMs, bytesParsed)
	}
}

func (r *SessionRecording) onIngestLoad() {
	r.mu.Lock()
	r.loaded = true
	r.mu.Unlock()
	if r.events.OnLoad != nil {
		r.events.OnLoad()
	}
}

func (r *SessionRecording) onIngestError(message string) {
	r.mu.Lock()
	r.failMessage = message
	r.mu.Unlock()
	if r.events.OnError != nil {
		r.events.OnError(message)
	}
}

// Display returns the display client rendering this recording.
func (r *SessionRecording) Display() display.Client {
	return r.client
}

// IsPlaying reports whether the engine is in a play run.
func (r *SessionRecording) IsPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// Position returns the current playback position in milliseconds relative
// to the first frame, or 0 before anything has been rendered.
func (r *SessionRecording) Position() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentFrame < 0 {
		return 0
	}
	return r.table.Frame(r.currentFrame).Timestamp - r.table.Origin()
}

// Duration returns the recording duration indexed so far, in milliseconds.
// It grows while ingest is still running.
func (r *SessionRecording) Duration() int64 {
	return r.table.Duration()
}

// Status returns a snapshot of the session for status endpoints.
func (r *SessionRecording) Status() types.PlaybackStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := types.PlaybackStatePaused
	switch {
	case r.playing:
		state = types.PlaybackStatePlaying
	case r.currentFrame < 0:
		state = types.PlaybackStateIdle
	}

	var position int64
	if r.currentFrame >= 0 {
		position = r.table.Frame(r.currentFrame).Timestamp - r.table.Origin()
	}

	var bytes int64
	if last, ok := r.table.Last(); ok {
		bytes = last.End
	}

	return types.PlaybackStatus{
		State:      state,
		PositionMs: position,
		DurationMs: r.table.Duration(),
		Frame:      r.currentFrame,
		Recording: types.RecordingInfo{
			Frames:     r.table.Len(),
			Keyframes:  r.table.Keyframes(),
			DurationMs: r.table.Duration(),
			Bytes:      bytes,
			Complete:   r.loaded && r.failMessage == "",
		},
	}
}

// Play starts real-time playback from the current position. A no-op while
// already playing or when no subsequent frame exists yet; frames appended
// by ingest after the run starts become reachable as the run advances.
func (r *SessionRecording) Play() {
	r.mu.Lock()
	if r.closed || r.playing || r.currentFrame+1 >= r.table.Len() {
		r.mu.Unlock()
		return
	}
	nextIndex := r.currentFrame + 1
	next := r.table.Frame(nextIndex)
	r.playing = true
	r.startVideoTimestamp = next.Timestamp
	r.startRealTimestamp = r.now()
	r.mu.Unlock()

	logging.Debug("playback started",
		logging.Recording(r.name),
		logging.FrameIndex(nextIndex),
		logging.Component("player"))
	if r.events.OnPlay != nil {
		r.events.OnPlay()
	}

	// An OnPlay handler may have paused again already; continuePlayback
	// re-checks before scheduling.
	r.continuePlayback()
}

// Pause aborts any active seek and stops playback. Idempotent. A pending
// user seek callback is left installed; a later Seek or Cancel flushes it.
func (r *SessionRecording) Pause() {
	r.mu.Lock()
	r.abortSeekLocked()
	wasPlaying := r.playing
	r.playing = false
	r.startVideoTimestamp = 0
	r.startRealTimestamp = time.Time{}
	r.mu.Unlock()

	if wasPlaying {
		logging.Debug("playback paused",
			logging.Recording(r.name),
			logging.Component("player"))
		if r.events.OnPause != nil {
			r.events.OnPause()
		}
	}
}

// Seek moves the playback position to positionMs, re-basing from the
// nearest usable baseline and replaying forward. callback, if non-nil, runs
// when the seek completes or is superseded. If playback was running it
// resumes after the seek. A no-op when no frames are indexed yet.
func (r *SessionRecording) Seek(positionMs int64, callback func()) {
	if r.table.Len() == 0 {
		return
	}

	// Terminate any outstanding user seek, invoking its callback now.
	r.Cancel()

	wasPlaying := r.IsPlaying()
	r.Pause()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	// The thunk runs at most once: whichever of the replay loop or Cancel
	// reaches it first clears the slot, and a newer seek bumps the
	// generation so a straggler from a superseded seek cannot fire it.
	r.seekGen++
	gen := r.seekGen
	thunk := func() {
		r.mu.Lock()
		if r.seekCallback == nil || r.seekGen != gen {
			r.mu.Unlock()
			return
		}
		r.seekCallback = nil
		r.mu.Unlock()
		if wasPlaying {
			r.Play()
		}
		if callback != nil {
			callback()
		}
	}
	r.seekCallback = thunk
	target := findFrame(r.table, positionMs)
	r.seekToFrameLocked(target, thunk, 0)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Seek()
	}
}

// Cancel aborts an in-flight user seek, invoking its pending callback
// exactly once. A no-op when no user seek is outstanding.
func (r *SessionRecording) Cancel() {
	r.mu.Lock()
	cb := r.seekCallback
	if cb == nil {
		r.mu.Unlock()
		return
	}
	r.abortSeekLocked()
	r.mu.Unlock()
	// cb is the installed thunk; it clears the slot itself.
	cb()
}

// Abort stops ingest. One-way; frames already indexed remain playable and
// replay is unaffected. Emits OnAbort exactly once.
func (r *SessionRecording) Abort() {
	r.mu.Lock()
	first := !r.abortEmitted
	r.abortEmitted = true
	r.mu.Unlock()

	r.indexer.Abort()
	if first {
		logging.Info("recording load aborted",
			logging.Recording(r.name),
			"frames", r.table.Len(),
			logging.Component("player"))
		if r.events.OnAbort != nil {
			r.events.OnAbort()
		}
	}
}

// Close stops ingest and playback without emitting events and waits for
// background work to drain. The byte source and display client remain the
// caller's to release.
func (r *SessionRecording) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.abortSeekLocked()
	r.playing = false
	r.seekCallback = nil
	r.mu.Unlock()

	r.cancel()
	r.indexer.Abort()
	<-r.indexer.Done()
	r.wg.Wait()

	if r.metrics != nil {
		r.metrics.SessionEnded()
	}
}

// abortSeekLocked invalidates the active seek token and stops any pending
// delayed replay step. Caller holds mu.
func (r *SessionRecording) abortSeekLocked() {
	if r.activeSeek != nil {
		r.activeSeek.aborted.Store(true)
		r.activeSeek = nil
	}
	if r.pendingTimer != nil {
		if r.pendingTimer.Stop() {
			r.wg.Done()
		}
		r.pendingTimer = nil
	}
}
