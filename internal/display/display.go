// Package display defines the contract the playback engine requires of a
// Guacamole display client, plus a reference in-memory implementation used
// by the CLI, the playback server, and tests. The engine owns its client
// exclusively: it connects it once at construction and never disconnects it.
package display

import "github.com/guacplay/guacplay/internal/tunnel"

// Client is a Guacamole display client. A client starts from a blank state
// after Connect and accumulates state from the instructions arriving on its
// tunnel.
type Client interface {
	// Connect attaches the client to its tunnel. The client registers its
	// instruction handler here.
	Connect(t tunnel.Tunnel) error

	// ShowCursor toggles local cursor rendering.
	ShowCursor(visible bool)

	// ExportState produces an opaque snapshot of the full client state and
	// invokes cb with it. Completion may be asynchronous; the engine does
	// not proceed until cb runs.
	ExportState(cb func(state []byte))

	// ImportState restores a snapshot previously produced by ExportState.
	// Synchronous.
	ImportState(state []byte) error
}
