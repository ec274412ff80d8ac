package types

// Frame is an indexed unit of a session recording, in one-to-one
// correspondence with a sync instruction in the captured stream. Start and
// End are half-open byte offsets into the recording blob delimiting the
// instructions that produce the frame, including the terminating sync.
type Frame struct {
	Timestamp int64 `json:"timestamp"` // Milliseconds, as encoded in the sync argument
	Start     int64 `json:"start"`
	End       int64 `json:"end"`
	Keyframe  bool  `json:"keyframe"` // Eligible to carry a display-state snapshot
}

// Duration returns the frame timestamp relative to a recording origin.
func (f Frame) Duration(origin int64) int64 {
	return f.Timestamp - origin
}

// RecordingInfo summarizes an indexed recording.
type RecordingInfo struct {
	Frames     int   `json:"frames"`
	Keyframes  int   `json:"keyframes"`
	DurationMs int64 `json:"duration_ms"`
	Bytes      int64 `json:"bytes"`
	Complete   bool  `json:"complete"` // Ingest finished without error or abort
}

// PlaybackState represents the engine state machine
type PlaybackState string

const (
	PlaybackStateIdle    PlaybackState = "idle" // Nothing rendered yet
	PlaybackStatePaused  PlaybackState = "paused"
	PlaybackStatePlaying PlaybackState = "playing"
)

// PlaybackStatus is the wire representation of a playback session, used by
// the HTTP status endpoint and the CLI.
type PlaybackStatus struct {
	State      PlaybackState `json:"state"`
	PositionMs int64         `json:"position_ms"`
	DurationMs int64         `json:"duration_ms"`
	Frame      int           `json:"frame"` // Current frame index, -1 before first render
	Recording  RecordingInfo `json:"recording"`
}
