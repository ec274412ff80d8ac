package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestFeedSingleInstruction(t *testing.T) {
	p := NewParser()
	instrs, err := p.Feed("4.sync,4.1000;")
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(instrs) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(instrs))
	}
	in := instrs[0]
	if in.Opcode != "sync" {
		t.Errorf("expected opcode 'sync', got %q", in.Opcode)
	}
	if len(in.Args) != 1 || in.Args[0] != "1000" {
		t.Errorf("expected args [1000], got %v", in.Args)
	}
	if p.Consumed() != 14 {
		t.Errorf("expected 14 bytes consumed, got %d", p.Consumed())
	}
}

func TestFeedRetainsIncompleteTail(t *testing.T) {
	p := NewParser()

	instrs, err := p.Feed("4.sync,4.10")
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(instrs) != 0 {
		t.Fatalf("expected no instructions from partial feed, got %d", len(instrs))
	}

	instrs, err = p.Feed("00;")
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(instrs) != 1 {
		t.Fatalf("expected 1 instruction after completing feed, got %d", len(instrs))
	}
	if instrs[0].Args[0] != "1000" {
		t.Errorf("expected arg '1000', got %q", instrs[0].Args[0])
	}
}

func TestFeedByteAtATime(t *testing.T) {
	const stream = "3.img,2.12,5.hello;4.sync,1.0;"
	p := NewParser()
	var got []Instruction
	for i := 0; i < len(stream); i++ {
		instrs, err := p.Feed(stream[i : i+1])
		if err != nil {
			t.Fatalf("Feed() error at byte %d: %v", i, err)
		}
		got = append(got, instrs...)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(got))
	}
	if got[0].Opcode != "img" || got[1].Opcode != "sync" {
		t.Errorf("unexpected opcodes: %q, %q", got[0].Opcode, got[1].Opcode)
	}
}

func TestValueMayContainSeparators(t *testing.T) {
	p := NewParser()
	instrs, err := p.Feed("3.arg,5.a,b;c;")
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(instrs) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(instrs))
	}
	if instrs[0].Args[0] != "a,b;c" {
		t.Errorf("expected value 'a,b;c', got %q", instrs[0].Args[0])
	}
}

func TestLengthCountsCodePointsNotBytes(t *testing.T) {
	// Three code points, nine bytes of UTF-8.
	value := "日本語"
	p := NewParser()
	instrs, err := p.Feed("4.name,3." + value + ";")
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(instrs) != 1 {
		t.Fatalf("expected 1 instruction, got %d", len(instrs))
	}
	if instrs[0].Args[0] != value {
		t.Errorf("expected %q, got %q", value, instrs[0].Args[0])
	}
}

func TestFeedSplitsMultiByteRune(t *testing.T) {
	encoded := "4.name,1.語;"
	p := NewParser()
	// Split inside the three-byte rune.
	cut := strings.Index(encoded, "語") + 1
	if _, err := p.Feed(encoded[:cut]); err != nil {
		t.Fatalf("Feed() error on first half: %v", err)
	}
	instrs, err := p.Feed(encoded[cut:])
	if err != nil {
		t.Fatalf("Feed() error on second half: %v", err)
	}
	if len(instrs) != 1 || instrs[0].Args[0] != "語" {
		t.Fatalf("expected rune to survive the split, got %v", instrs)
	}
}

func TestEmptyValue(t *testing.T) {
	p := NewParser()
	instrs, err := p.Feed("4.sync,1.0;4.name,0.;")
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(instrs) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(instrs))
	}
	if instrs[1].Args[0] != "" {
		t.Errorf("expected empty arg, got %q", instrs[1].Args[0])
	}
}

func TestMalformedLength(t *testing.T) {
	tests := []struct {
		name   string
		stream string
	}{
		{"non-digit prefix", "4.sync,1.0;bogus"},
		{"missing digits", ".sync;"},
		{"negative-looking", "-4.sync;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser()
			_, err := p.Feed(tt.stream)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if perr.Message == "" {
				t.Error("expected non-empty parse error message")
			}
		})
	}
}

func TestMalformedLengthStillReturnsPriorInstructions(t *testing.T) {
	p := NewParser()
	instrs, err := p.Feed("4.sync,1.0;bogus")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if len(instrs) != 1 {
		t.Fatalf("expected the complete instruction before the error, got %d", len(instrs))
	}
	if instrs[0].Opcode != "sync" {
		t.Errorf("expected sync, got %q", instrs[0].Opcode)
	}
}

func TestBadTerminator(t *testing.T) {
	p := NewParser()
	_, err := p.Feed("4.sync:1.0;")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if !strings.Contains(perr.Message, "','") {
		t.Errorf("expected terminator complaint, got %q", perr.Message)
	}
}

func TestLengthBound(t *testing.T) {
	p := NewParser()
	_, err := p.Feed("99999999999.x;")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestParserDeadAfterError(t *testing.T) {
	p := NewParser()
	_, err := p.Feed("bogus")
	if err == nil {
		t.Fatal("expected parse error")
	}
	_, err2 := p.Feed("4.sync,1.0;")
	if err2 == nil {
		t.Fatal("expected error from dead parser")
	}
	if err2.Error() != err.Error() {
		t.Errorf("expected the original error to repeat, got %v", err2)
	}
}

func TestParseErrorOffset(t *testing.T) {
	p := NewParser()
	_, err := p.Feed("4.sync,1.0;bogus")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if perr.Offset != 11 {
		t.Errorf("expected error offset 11, got %d", perr.Offset)
	}
}
