package player

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guacplay/guacplay/internal/blob"
	"github.com/guacplay/guacplay/internal/display"
	"github.com/guacplay/guacplay/internal/protocol"
)

// recording builds a stream of n frames, stepMs apart, each carrying one
// payload instruction identifying its frame.
func recording(n int, stepMs int64) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(protocol.Encode("rect", "0", strconv.Itoa(i), "0", "10", "10"))
		b.WriteString(protocol.Encode("sync", strconv.FormatInt(int64(i)*stepMs, 10)))
	}
	return b.String()
}

// open creates a session over data and waits for ingest to finish.
func open(t *testing.T, data string, events Events) (*SessionRecording, *display.Memory) {
	t.Helper()

	loaded := make(chan struct{})
	userLoad := events.OnLoad
	events.OnLoad = func() {
		close(loaded)
		if userLoad != nil {
			userLoad()
		}
	}

	client := display.NewMemory()
	r, err := New(blob.NewMemory(data), client, Options{Events: events, Name: "test"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(r.Close)

	select {
	case <-loaded:
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not finish")
	}
	return r, client
}

// seekAndWait seeks and blocks until the completion callback fires.
func seekAndWait(t *testing.T, r *SessionRecording, positionMs int64) {
	t.Helper()
	done := make(chan struct{})
	r.Seek(positionMs, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("seek to %d did not complete", positionMs)
	}
}

func TestEmptyRecordingDegradesGracefully(t *testing.T) {
	client := display.NewMemory()
	r, err := New(blob.NewMemory(""), client, Options{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer r.Close()

	if r.Duration() != 0 {
		t.Errorf("Duration() = %d, want 0", r.Duration())
	}
	if r.Position() != 0 {
		t.Errorf("Position() = %d, want 0", r.Position())
	}
	r.Play() // no-op
	if r.IsPlaying() {
		t.Error("Play() on empty recording must not start playback")
	}
	r.Seek(100, func() { t.Error("seek callback must not fire on empty recording") })
	time.Sleep(20 * time.Millisecond)
}

func TestCursorHiddenAtConstruction(t *testing.T) {
	_, client := open(t, "4.sync,4.1000;", Events{})
	if client.CursorVisible() {
		t.Error("cursor must start hidden")
	}
}

func TestSeekBeforePlay(t *testing.T) {
	var seeks []int64
	var mu sync.Mutex
	r, _ := open(t, recording(10, 100), Events{
		OnSeek: func(positionMs int64, currentStep, totalSteps int) {
			mu.Lock()
			seeks = append(seeks, positionMs)
			mu.Unlock()
		},
	})

	seekAndWait(t, r, 450)

	if r.IsPlaying() {
		t.Error("seek must not start playback")
	}
	// 450 is equidistant between 400 and 500; the lower index wins.
	if got := r.Position(); got != 400 {
		t.Errorf("Position() = %d, want 400", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seeks) == 0 {
		t.Fatal("expected OnSeek events")
	}
	for i := 1; i < len(seeks); i++ {
		if seeks[i] <= seeks[i-1] {
			t.Errorf("OnSeek positions not strictly increasing: %v", seeks)
		}
	}
	if seeks[len(seeks)-1] != 400 {
		t.Errorf("final OnSeek position = %d, want 400", seeks[len(seeks)-1])
	}
}

func TestSeekIdempotent(t *testing.T) {
	r, client := open(t, recording(10, 100), Events{})

	seekAndWait(t, r, 700)
	pos := r.Position()
	journal := client.Journal()

	seekAndWait(t, r, 700)
	if r.Position() != pos {
		t.Errorf("Position() changed on repeated seek: %d != %d", r.Position(), pos)
	}
	again := client.Journal()
	if len(again) != len(journal) {
		t.Fatalf("journal changed on repeated seek: %d != %d entries", len(again), len(journal))
	}
	for i := range journal {
		if journal[i] != again[i] {
			t.Errorf("journal[%d] = %q, want %q", i, again[i], journal[i])
		}
	}
}

func TestSeekDeterminism(t *testing.T) {
	data := recording(10, 100)

	direct, directClient := open(t, data, Events{})
	seekAndWait(t, direct, 700)

	stepped, steppedClient := open(t, data, Events{})
	for pos := int64(0); pos <= 700; pos += 100 {
		seekAndWait(t, stepped, pos)
	}

	want := directClient.Journal()
	got := steppedClient.Journal()
	if len(got) != len(want) {
		t.Fatalf("journal lengths differ: direct %d, stepped %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("journal[%d]: direct %q, stepped %q", i, want[i], got[i])
		}
	}
}

func TestBackwardSeekRestoresFromKeyframe(t *testing.T) {
	data := recording(10, 100)

	r, client := open(t, data, Events{})
	seekAndWait(t, r, 700)
	seekAndWait(t, r, 300)

	if got := r.Position(); got != 300 {
		t.Errorf("Position() = %d, want 300", got)
	}

	fresh, freshClient := open(t, data, Events{})
	seekAndWait(t, fresh, 300)

	want := freshClient.Journal()
	got := client.Journal()
	if len(got) != len(want) {
		t.Fatalf("journal lengths differ: backward %d, fresh %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("journal[%d]: backward %q, fresh %q", i, got[i], want[i])
		}
	}
}

func TestPlayToEndPauses(t *testing.T) {
	var plays, pauses atomic.Int32
	paused := make(chan struct{})
	r, _ := open(t, recording(5, 10), Events{
		OnPlay: func() { plays.Add(1) },
		OnPause: func() {
			if pauses.Add(1) == 1 {
				close(paused)
			}
		},
	})

	r.Play()
	if !r.IsPlaying() {
		t.Fatal("expected IsPlaying() after Play()")
	}

	select {
	case <-paused:
	case <-time.After(5 * time.Second):
		t.Fatal("playback never reached end of stream")
	}

	if r.IsPlaying() {
		t.Error("expected paused state at end of stream")
	}
	if got := r.Position(); got != r.Duration() {
		t.Errorf("Position() = %d, want duration %d", got, r.Duration())
	}
	if plays.Load() != 1 {
		t.Errorf("OnPlay fired %d times, want 1", plays.Load())
	}
}

func TestPlayWhilePlayingIsNoOp(t *testing.T) {
	var plays atomic.Int32
	r, _ := open(t, recording(5, 200), Events{
		OnPlay: func() { plays.Add(1) },
	})

	r.Play()
	r.Play()
	r.Pause()

	if plays.Load() != 1 {
		t.Errorf("OnPlay fired %d times, want 1", plays.Load())
	}
}

func TestPausePlayParity(t *testing.T) {
	r, _ := open(t, recording(5, 100), Events{})

	seekAndWait(t, r, 200)
	pos := r.Position()

	r.Play()
	r.Pause()

	if r.IsPlaying() {
		t.Error("expected paused state")
	}
	if got := r.Position(); got < pos {
		t.Errorf("Position() went backwards: %d < %d", got, pos)
	}
}

func TestSeekDuringPlayPreservesPlaying(t *testing.T) {
	var plays atomic.Int32
	r, _ := open(t, recording(5, 1000), Events{
		OnPlay: func() { plays.Add(1) },
	})

	r.Play()

	done := make(chan struct{})
	r.Seek(500, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("seek during play did not complete")
	}

	if !r.IsPlaying() {
		t.Error("expected playback to resume after seek")
	}
	if plays.Load() != 2 {
		t.Errorf("OnPlay fired %d times, want 2 (initial + post-seek)", plays.Load())
	}
	r.Pause()
}

// slowSource delays every slice read so an in-flight seek can be cancelled
// deterministically.
type slowSource struct {
	blob.Source
	delay time.Duration
}

func (s slowSource) Slice(ctx context.Context, start, end int64) (string, error) {
	time.Sleep(s.delay)
	return s.Source.Slice(ctx, start, end)
}

func TestCancelInvokesCallbackExactlyOnce(t *testing.T) {
	client := display.NewMemory()
	src := slowSource{Source: blob.NewMemory(recording(20, 100)), delay: 5 * time.Millisecond}

	loaded := make(chan struct{})
	r, err := New(src, client, Options{Events: Events{
		OnLoad: func() { close(loaded) },
	}})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	<-loaded

	var calls atomic.Int32
	r.Seek(1900, func() { calls.Add(1) })
	time.Sleep(10 * time.Millisecond) // a few frames into the replay
	r.Cancel()

	// The callback must have fired exactly once, from Cancel.
	if calls.Load() != 1 {
		t.Fatalf("seek callback fired %d times after Cancel, want 1", calls.Load())
	}
	if r.IsPlaying() {
		t.Error("expected IsPlaying() == false after Cancel of a paused seek")
	}

	// And it must not fire again later.
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("seek callback fired %d times in total, want 1", calls.Load())
	}
}

func TestCancelWithoutSeekIsNoOp(t *testing.T) {
	r, _ := open(t, recording(3, 100), Events{})
	r.Cancel()
}

func TestSupersedingSeekFlushesPriorCallback(t *testing.T) {
	client := display.NewMemory()
	src := slowSource{Source: blob.NewMemory(recording(20, 100)), delay: 5 * time.Millisecond}

	loaded := make(chan struct{})
	r, err := New(src, client, Options{Events: Events{
		OnLoad: func() { close(loaded) },
	}})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	<-loaded

	var first, second atomic.Int32
	r.Seek(1900, func() { first.Add(1) })
	r.Seek(100, func() { second.Add(1) })

	deadline := time.After(5 * time.Second)
	for second.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("second seek never completed")
		case <-time.After(time.Millisecond):
		}
	}
	if first.Load() != 1 {
		t.Errorf("first callback fired %d times, want 1 (flushed by superseding seek)", first.Load())
	}
}

func TestAbortEmitsOnce(t *testing.T) {
	var aborts atomic.Int32
	r, _ := open(t, recording(3, 100), Events{
		OnAbort: func() { aborts.Add(1) },
	})

	r.Abort()
	r.Abort()

	if aborts.Load() != 1 {
		t.Errorf("OnAbort fired %d times, want 1", aborts.Load())
	}

	// Replay is unaffected by an ingest abort.
	seekAndWait(t, r, 200)
	if got := r.Position(); got != 200 {
		t.Errorf("Position() = %d, want 200", got)
	}
}

func TestParseFailureKeepsPlayableFrames(t *testing.T) {
	var errMsg atomic.Value
	failed := make(chan struct{})

	client := display.NewMemory()
	r, err := New(blob.NewMemory("4.sync,1.0;bogus"), client, Options{Events: Events{
		OnError: func(message string) {
			errMsg.Store(message)
			close(failed)
		},
		OnLoad: func() { t.Error("OnLoad must not fire after parse failure") },
	}})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("OnError never fired")
	}
	if msg, _ := errMsg.Load().(string); msg == "" {
		t.Error("expected non-empty error message")
	}

	seekAndWait(t, r, 0)
	if len(client.Journal()) != 1 {
		t.Errorf("journal = %v, want the surviving frame's sync", client.Journal())
	}
}

func TestSnapshotStoredOnFirstKeyframeReplay(t *testing.T) {
	r, _ := open(t, recording(5, 100), Events{})

	if r.table.State(0) != nil {
		t.Fatal("snapshot must be populated lazily, not at index time")
	}
	seekAndWait(t, r, 400)
	if r.table.State(0) == nil {
		t.Error("expected keyframe 0 snapshot after first replay")
	}
}

func TestStatus(t *testing.T) {
	r, _ := open(t, recording(10, 100), Events{})

	st := r.Status()
	if st.State != "idle" || st.Frame != -1 {
		t.Errorf("initial status = %+v", st)
	}
	if !st.Recording.Complete || st.Recording.Frames != 10 {
		t.Errorf("recording info = %+v", st.Recording)
	}

	seekAndWait(t, r, 300)
	st = r.Status()
	if st.State != "paused" || st.PositionMs != 300 || st.Frame != 3 {
		t.Errorf("post-seek status = %+v", st)
	}
	if st.DurationMs != 900 {
		t.Errorf("DurationMs = %d, want 900", st.DurationMs)
	}
}

func TestReentrantPauseFromOnPlay(t *testing.T) {
	var r *SessionRecording
	r, _ = open(t, recording(5, 1000), Events{
		OnPlay: func() { r.Pause() },
	})

	r.Play()
	if r.IsPlaying() {
		t.Error("re-entrant Pause from OnPlay must win")
	}
}

func TestReentrantSeekFromOnSeek(t *testing.T) {
	var r *SessionRecording
	var redirected atomic.Bool
	done := make(chan struct{})

	r, _ = open(t, recording(10, 100), Events{
		OnSeek: func(positionMs int64, currentStep, totalSteps int) {
			if positionMs >= 300 && redirected.CompareAndSwap(false, true) {
				r.Seek(100, func() { close(done) })
			}
		},
	})

	r.Seek(800, nil)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("re-entrant seek never completed")
	}
	if got := r.Position(); got != 100 {
		t.Errorf("Position() = %d, want 100", got)
	}
}
