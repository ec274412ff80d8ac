package display

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/guacplay/guacplay/internal/protocol"
	"github.com/guacplay/guacplay/internal/tunnel"
)

// Memory is a display client that keeps the instruction journal instead of
// pixels. Importing a snapshot and replaying the same instructions yields
// the same journal, which is what the engine's seek determinism rests on in
// tests and in the headless CLI.
type Memory struct {
	mu      sync.Mutex
	journal []string
	cursor  bool
}

// memoryState is the snapshot payload. The checksum covers the journal and
// guards against a snapshot produced by a different client.
type memoryState struct {
	Cursor   bool     `json:"cursor"`
	Journal  []string `json:"journal"`
	Checksum string   `json:"checksum"`
}

// NewMemory returns a blank client.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Connect(t tunnel.Tunnel) error {
	t.OnInstruction(m.HandleInstruction)
	return t.Connect()
}

// HandleInstruction applies one instruction to the journal.
func (m *Memory) HandleInstruction(opcode string, args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = append(m.journal, protocol.Encode(opcode, args...))
}

func (m *Memory) ShowCursor(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = visible
}

// CursorVisible reports the current cursor setting.
func (m *Memory) CursorVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Journal returns a copy of the applied instruction journal.
func (m *Memory) Journal() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.journal))
	copy(out, m.journal)
	return out
}

// ExportState snapshots the journal as gzip-compressed JSON. cb runs
// synchronously.
func (m *Memory) ExportState(cb func(state []byte)) {
	m.mu.Lock()
	state := memoryState{
		Cursor:   m.cursor,
		Journal:  append([]string(nil), m.journal...),
		Checksum: journalChecksum(m.journal),
	}
	m.mu.Unlock()

	payload, err := json.Marshal(state)
	if err != nil {
		// A string slice always marshals.
		panic(fmt.Sprintf("marshal display state: %v", err))
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(payload)
	zw.Close()

	cb(buf.Bytes())
}

// ImportState replaces the client state with a previously exported
// snapshot.
func (m *Memory) ImportState(state []byte) error {
	zr, err := gzip.NewReader(bytes.NewReader(state))
	if err != nil {
		return fmt.Errorf("decompress display state: %w", err)
	}
	payload, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("decompress display state: %w", err)
	}
	if err := zr.Close(); err != nil {
		return fmt.Errorf("decompress display state: %w", err)
	}

	var decoded memoryState
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode display state: %w", err)
	}
	if got := journalChecksum(decoded.Journal); got != decoded.Checksum {
		return fmt.Errorf("display state checksum mismatch: %s != %s", got, decoded.Checksum)
	}

	m.mu.Lock()
	m.journal = decoded.Journal
	m.cursor = decoded.Cursor
	m.mu.Unlock()
	return nil
}

func journalChecksum(journal []string) string {
	h := sha256.New()
	for _, in := range journal {
		io.WriteString(h, in)
	}
	return hex.EncodeToString(h.Sum(nil))
}
