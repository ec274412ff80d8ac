package display

import (
	"strings"
	"testing"

	"github.com/guacplay/guacplay/internal/tunnel"
)

func TestMemoryJournalsInstructions(t *testing.T) {
	m := NewMemory()
	pt := tunnel.NewPlayback()
	if err := m.Connect(pt); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	pt.ReceiveInstruction("size", []string{"0", "800", "600"})
	pt.ReceiveInstruction("sync", []string{"1000"})

	journal := m.Journal()
	if len(journal) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(journal))
	}
	if journal[0] != "4.size,1.0,3.800,3.600;" {
		t.Errorf("journal[0] = %q", journal[0])
	}
	if journal[1] != "4.sync,4.1000;" {
		t.Errorf("journal[1] = %q", journal[1])
	}
}

func TestMemoryExportImportRoundTrip(t *testing.T) {
	m := NewMemory()
	m.HandleInstruction("rect", []string{"0", "0", "0", "10", "10"})
	m.HandleInstruction("cfill", []string{"0", "0", "255", "0", "0", "255"})
	m.ShowCursor(true)

	var state []byte
	m.ExportState(func(s []byte) { state = s })
	if len(state) == 0 {
		t.Fatal("expected non-empty exported state")
	}

	restored := NewMemory()
	if err := restored.ImportState(state); err != nil {
		t.Fatalf("ImportState() error: %v", err)
	}

	if !restored.CursorVisible() {
		t.Error("expected cursor visibility to be restored")
	}
	want := m.Journal()
	got := restored.Journal()
	if len(got) != len(want) {
		t.Fatalf("journal length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("journal[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestImportStateRejectsGarbage(t *testing.T) {
	m := NewMemory()
	if err := m.ImportState([]byte("not a snapshot")); err == nil {
		t.Error("expected error importing garbage state")
	}
}

func TestImportStateRejectsTruncatedState(t *testing.T) {
	m := NewMemory()
	m.HandleInstruction("sync", []string{"0"})

	var state []byte
	m.ExportState(func(s []byte) { state = s })

	if err := NewMemory().ImportState(state[:len(state)/2]); err == nil {
		t.Error("expected error importing truncated state")
	}
}

func TestTeeMirrorsInstructions(t *testing.T) {
	var mirrored []string
	m := NewMemory()
	tee := NewTee(m, func(opcode string, args []string) {
		mirrored = append(mirrored, opcode+"/"+strings.Join(args, ","))
	}, nil)

	pt := tunnel.NewPlayback()
	if err := tee.Connect(pt); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	pt.ReceiveInstruction("size", []string{"0", "800", "600"})
	pt.ReceiveInstruction("sync", []string{"5"})

	if len(m.Journal()) != 2 {
		t.Errorf("primary journal length = %d, want 2", len(m.Journal()))
	}
	if len(mirrored) != 2 || mirrored[1] != "sync/5" {
		t.Errorf("mirrored = %v", mirrored)
	}
}

func TestTeeImportNotifiesSink(t *testing.T) {
	source := NewMemory()
	source.HandleInstruction("size", []string{"0", "800", "600"})
	source.HandleInstruction("sync", []string{"100"})
	var state []byte
	source.ExportState(func(s []byte) { state = s })

	var restored []string
	tee := NewTee(NewMemory(), nil, func(journal []string) {
		restored = journal
	})

	if err := tee.ImportState(state); err != nil {
		t.Fatalf("ImportState() error: %v", err)
	}
	if len(restored) != 2 || restored[1] != "4.sync,3.100;" {
		t.Errorf("restored journal = %v", restored)
	}
	if len(tee.Journal()) != 2 {
		t.Errorf("tee journal = %v", tee.Journal())
	}
}
