package protocol

import (
	"fmt"
	"unicode/utf8"
)

// ParseError reports a malformed instruction stream. Offset is the absolute
// byte position of the failing element within the stream fed so far.
type ParseError struct {
	Offset  int64
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Message)
}

// Parser decodes instructions incrementally. Chunks may end anywhere — in
// the middle of an element, or even in the middle of a multi-byte UTF-8
// sequence; the unconsumed tail is retained across Feed calls. Once a feed
// fails the parser is dead: every subsequent Feed returns the same error.
type Parser struct {
	buf      []byte
	consumed int64 // absolute offset of buf[0] within the stream
	err      error
}

// NewParser returns a parser positioned at the start of a stream.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk and returns all instructions completed by it.
func (p *Parser) Feed(chunk string) ([]Instruction, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.buf = append(p.buf, chunk...)

	var out []Instruction
	for {
		instr, n, err := p.parseOne()
		if err != nil {
			p.err = err
			return out, err
		}
		if n == 0 {
			break
		}
		p.buf = p.buf[n:]
		p.consumed += int64(n)
		out = append(out, instr)
	}
	return out, nil
}

// Consumed returns the number of bytes consumed as complete instructions.
func (p *Parser) Consumed() int64 {
	return p.consumed
}

// parseOne attempts to decode one instruction from the head of the buffer.
// It returns n == 0 when the buffer holds only an incomplete tail.
func (p *Parser) parseOne() (Instruction, int, error) {
	var instr Instruction
	pos := 0
	first := true
	for {
		length, n, err := p.parseLength(pos)
		if err != nil {
			return instr, 0, err
		}
		if n == 0 {
			return instr, 0, nil
		}
		pos += n

		value, n, ok := p.parseValue(pos, length)
		if !ok {
			return instr, 0, nil
		}
		pos += n

		if pos >= len(p.buf) {
			return instr, 0, nil
		}
		sep := p.buf[pos]
		pos++

		if first {
			instr.Opcode = value
			first = false
		} else {
			instr.Args = append(instr.Args, value)
		}

		switch sep {
		case ',':
		case ';':
			return instr, pos, nil
		default:
			return instr, 0, &ParseError{
				Offset:  p.consumed + int64(pos-1),
				Message: fmt.Sprintf("element terminated by %q, expected ',' or ';'", sep),
			}
		}
	}
}

// parseLength reads the decimal code-point count and its '.' separator.
func (p *Parser) parseLength(pos int) (length, n int, err error) {
	i := pos
	for {
		if i >= len(p.buf) {
			return 0, 0, nil
		}
		c := p.buf[i]
		if c >= '0' && c <= '9' {
			length = length*10 + int(c-'0')
			if length > MaxElementLength {
				return 0, 0, &ParseError{
					Offset:  p.consumed + int64(pos),
					Message: fmt.Sprintf("element length exceeds %d code points", MaxElementLength),
				}
			}
			i++
			continue
		}
		if c == '.' && i > pos {
			return length, i - pos + 1, nil
		}
		return 0, 0, &ParseError{
			Offset:  p.consumed + int64(i),
			Message: fmt.Sprintf("malformed element length (unexpected %q)", c),
		}
	}
}

// parseValue reads exactly length code points starting at pos. ok is false
// when the buffer ends before the value does; a later feed supplies the
// rest.
func (p *Parser) parseValue(pos, length int) (value string, n int, ok bool) {
	i := pos
	for cp := 0; cp < length; cp++ {
		if i >= len(p.buf) || !utf8.FullRune(p.buf[i:]) {
			return "", 0, false
		}
		_, size := utf8.DecodeRune(p.buf[i:])
		i += size
	}
	return string(p.buf[pos:i]), i - pos, true
}
