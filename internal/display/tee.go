package display

import "github.com/guacplay/guacplay/internal/tunnel"

// Tee wraps a Memory client and mirrors every instruction to a sink. The
// playback server uses it so the local client keeps snapshot capability
// while remote viewers receive the same instruction stream.
type Tee struct {
	*Memory
	sink func(opcode string, args []string)

	// onImport fires after a snapshot restore with the restored journal.
	// A remote instruction sink has no snapshot of its own, so the session
	// replays the journal to bring the viewer back in sync.
	onImport func(journal []string)
}

// NewTee returns a Tee over client. sink and onImport may be nil.
func NewTee(client *Memory, sink func(opcode string, args []string), onImport func(journal []string)) *Tee {
	return &Tee{Memory: client, sink: sink, onImport: onImport}
}

func (t *Tee) Connect(tun tunnel.Tunnel) error {
	tun.OnInstruction(t.handle)
	return tun.Connect()
}

func (t *Tee) handle(opcode string, args []string) {
	t.Memory.HandleInstruction(opcode, args)
	if t.sink != nil {
		t.sink(opcode, args)
	}
}

func (t *Tee) ImportState(state []byte) error {
	if err := t.Memory.ImportState(state); err != nil {
		return err
	}
	if t.onImport != nil {
		t.onImport(t.Memory.Journal())
	}
	return nil
}
