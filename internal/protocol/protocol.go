// Package protocol implements the Guacamole instruction codec. An
// instruction is a non-empty comma-separated sequence of elements terminated
// by ';'. Each element is LENGTH.VALUE where LENGTH is a decimal count of
// Unicode code points in VALUE — code points, not bytes. The first element
// is the opcode, the rest are arguments.
package protocol

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// OpcodeSync demarcates a renderable frame. Its single argument is a decimal
// millisecond timestamp. It is the only opcode the engine interprets; all
// others are forwarded verbatim to the display client.
const OpcodeSync = "sync"

// MaxElementLength bounds the declared code-point length of a single
// element. Anything larger is treated as a corrupt stream rather than an
// allocation request.
const MaxElementLength = 1 << 20

// Instruction is a decoded Guacamole instruction.
type Instruction struct {
	Opcode string
	Args   []string
}

// Size returns the encoded size of the instruction in bytes, i.e. how far
// the stream cursor advances when this instruction is consumed.
func (i Instruction) Size() int64 {
	n := elementSizeBytes(i.Opcode)
	for _, a := range i.Args {
		n += elementSizeBytes(a)
	}
	return int64(n)
}

// String returns the wire encoding of the instruction.
func (i Instruction) String() string {
	return Encode(i.Opcode, i.Args...)
}

// Encode renders an instruction to wire text.
func Encode(opcode string, args ...string) string {
	var b strings.Builder
	writeElement(&b, opcode)
	for _, a := range args {
		b.WriteByte(',')
		writeElement(&b, a)
	}
	b.WriteByte(';')
	return b.String()
}

func writeElement(b *strings.Builder, value string) {
	b.WriteString(strconv.Itoa(utf8.RuneCountInString(value)))
	b.WriteByte('.')
	b.WriteString(value)
}

// ElementSize returns the encoded size of one element in code points: the
// length digits, the '.', the value, and the trailing ',' or ';'.
func ElementSize(value string) int {
	n := utf8.RuneCountInString(value)
	return decimalDigits(n) + 1 + n + 1
}

// elementSizeBytes is the byte-unit counterpart of ElementSize. The length
// prefix still counts code points; only the value contributes multi-byte
// runes. The two agree on ASCII streams.
func elementSizeBytes(value string) int {
	return decimalDigits(utf8.RuneCountInString(value)) + 1 + len(value) + 1
}

func decimalDigits(n int) int {
	d := 1
	for n > 9 {
		n /= 10
		d++
	}
	return d
}
