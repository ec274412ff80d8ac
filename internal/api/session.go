package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guacplay/guacplay/internal/display"
	"github.com/guacplay/guacplay/internal/logging"
	"github.com/guacplay/guacplay/internal/player"
	"github.com/guacplay/guacplay/internal/protocol"
	"github.com/guacplay/guacplay/internal/util"
	"github.com/guacplay/guacplay/pkg/types"
)

// Message is the JSON envelope on a playback session socket.
//
// Client to server: {"type":"play"}, {"type":"pause"},
// {"type":"seek","position":N}, {"type":"cancel"}, {"type":"status"}.
//
// Server to client: {"type":"instruction","data":"4.size,..."} for every
// replayed instruction, {"type":"event","event":...} for engine events,
// {"type":"error","message":...} when ingest fails,
// {"type":"status","status":{...}} in reply to a status request, and
// {"type":"reset"} followed by an instruction batch when a seek restored the
// display from a keyframe snapshot.
type Message struct {
	Type     string                `json:"type"`
	Event    string                `json:"event,omitempty"`
	Data     string                `json:"data,omitempty"`
	Position int64                 `json:"position,omitempty"`
	Duration int64                 `json:"duration,omitempty"`
	Bytes    int64                 `json:"bytes,omitempty"`
	Step     int                   `json:"step,omitempty"`
	Total    int                   `json:"total,omitempty"`
	Status   *types.PlaybackStatus `json:"status,omitempty"`
	Message  string                `json:"message,omitempty"`
}

// session is one connected viewer: a websocket plus a private playback
// engine over the server's shared byte source.
type session struct {
	conn *websocket.Conn
	send chan []byte
	rec  *player.SessionRecording

	closeOnce sync.Once
	closed    chan struct{}
}

// handleSession upgrades the connection and runs the session until the
// viewer disconnects.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.allowSession(r.RemoteAddr) {
		http.Error(w, "too many session requests", http.StatusTooManyRequests)
		return
	}
	if s.sessions.Load() >= int64(s.cfg.MaxSessions) {
		http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("session upgrade failed",
			logging.Err(err),
			logging.Component("api"))
		return
	}

	sess := &session{
		conn:   conn,
		send:   make(chan []byte, 1024),
		closed: make(chan struct{}),
	}

	client := display.NewTee(display.NewMemory(), sess.forwardInstruction, sess.resyncViewer)
	rec, err := player.New(s.src, client, player.Options{
		Events:  sess.engineEvents(),
		Metrics: s.collector,
		Name:    s.name,
	})
	if err != nil {
		logging.Error("session engine failed",
			logging.Recording(s.name),
			logging.Err(err),
			logging.Component("api"))
		conn.Close()
		return
	}
	sess.rec = rec

	s.sessions.Add(1)
	logging.Info("viewer connected",
		"remote", r.RemoteAddr,
		logging.Recording(s.name),
		logging.Component("api"))

	writeTimeout := time.Duration(s.cfg.WriteTimeoutSecs) * time.Second
	util.SafeGoWithName("session-writer", func() { sess.writePump(writeTimeout) })
	sess.readPump()

	rec.Close()
	s.sessions.Add(-1)
	logging.Info("viewer disconnected",
		"remote", r.RemoteAddr,
		logging.Recording(s.name),
		logging.Component("api"))
}

// forwardInstruction is the display tee sink. It runs under the engine
// lock, so it must never block: a viewer that cannot drain its buffer is
// dropped.
func (sess *session) forwardInstruction(opcode string, args []string) {
	sess.enqueue(Message{Type: "instruction", Data: protocol.Encode(opcode, args...)})
}

// resyncViewer fires when a seek restores the display from a keyframe
// snapshot. The viewer only ever sees instructions, so it is told to reset
// and is replayed the restored journal.
func (sess *session) resyncViewer(journal []string) {
	sess.enqueue(Message{Type: "reset"})
	sess.enqueue(Message{Type: "instruction", Data: strings.Join(journal, "")})
}

func (sess *session) engineEvents() player.Events {
	return player.Events{
		OnLoad: func() {
			sess.enqueue(Message{Type: "event", Event: "load"})
		},
		OnError: func(message string) {
			sess.enqueue(Message{Type: "error", Message: message})
		},
		OnAbort: func() {
			sess.enqueue(Message{Type: "event", Event: "abort"})
		},
		OnProgress: func(durationMs, bytesParsed int64) {
			sess.enqueue(Message{Type: "event", Event: "progress", Duration: durationMs, Bytes: bytesParsed})
		},
		OnPlay: func() {
			sess.enqueue(Message{Type: "event", Event: "play"})
		},
		OnPause: func() {
			sess.enqueue(Message{Type: "event", Event: "pause"})
		},
		OnSeek: func(positionMs int64, currentStep, totalSteps int) {
			sess.enqueue(Message{Type: "event", Event: "seek", Position: positionMs, Step: currentStep, Total: totalSteps})
		},
	}
}

// enqueue marshals and buffers one outbound message without blocking.
func (sess *session) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case sess.send <- data:
	case <-sess.closed:
	default:
		// Buffer full: the viewer is too slow to keep up with replay.
		logging.Warn("viewer send buffer full, dropping connection",
			logging.Component("api"))
		sess.shutdown()
	}
}

func (sess *session) shutdown() {
	sess.closeOnce.Do(func() {
		close(sess.closed)
		sess.conn.Close()
	})
}

// readPump dispatches viewer control messages until the socket closes.
func (sess *session) readPump() {
	defer sess.shutdown()

	sess.conn.SetReadLimit(64 * 1024)
	sess.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("session read error",
					logging.Err(err),
					logging.Component("api"))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "play":
			sess.rec.Play()
		case "pause":
			sess.rec.Pause()
		case "seek":
			sess.rec.Seek(msg.Position, func() {
				sess.enqueue(Message{Type: "event", Event: "seek_complete", Position: sess.rec.Position()})
			})
		case "cancel":
			sess.rec.Cancel()
		case "status":
			st := sess.rec.Status()
			sess.enqueue(Message{Type: "status", Status: &st})
		}
	}
}

// writePump drains the send buffer to the socket and keeps the connection
// alive with pings.
func (sess *session) writePump(writeTimeout time.Duration) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		sess.shutdown()
	}()

	for {
		select {
		case <-sess.closed:
			return
		case data := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
